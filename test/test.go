// Package test holds the shared conformance suite every Storage backend is
// exercised against.
package test

import (
	"bytes"
	"context"
	"testing"

	"github.com/corewell/httpcache"
)

// StorageConformance exercises a httpcache.Storage implementation against
// the full contract storage.go documents: plain get/put/remove, bulk
// fetch, and compare-and-swap (both create-only and update semantics).
func StorageConformance(t *testing.T, storage httpcache.Storage) {
	t.Helper()
	ctx := context.Background()
	key := "conformance-key"

	_, ok, err := storage.Get(ctx, key)
	if err != nil {
		t.Fatalf("error getting key: %v", err)
	}
	if ok {
		t.Fatal("retrieved key before adding it")
	}

	val := []byte("some bytes")
	if err := storage.Put(ctx, key, val); err != nil {
		t.Fatalf("error putting key: %v", err)
	}

	obj, ok, err := storage.Get(ctx, key)
	if err != nil {
		t.Fatalf("error getting key: %v", err)
	}
	if !ok {
		t.Fatal("could not retrieve an element we just added")
	}
	if !bytes.Equal(obj.Data, val) {
		t.Fatal("retrieved a different value than what we put in")
	}

	many, err := storage.GetMany(ctx, []string{key, "missing-key"})
	if err != nil {
		t.Fatalf("error getting many: %v", err)
	}
	if _, ok := many["missing-key"]; ok {
		t.Fatal("GetMany returned an entry for a key that was never stored")
	}
	if got, ok := many[key]; !ok || !bytes.Equal(got.Data, val) {
		t.Fatal("GetMany did not return the stored value for an existing key")
	}

	staleToken := "not-" + obj.Token
	if swapped, err := storage.CompareAndSwap(ctx, key, staleToken, []byte("should not land")); err != nil {
		t.Fatalf("unexpected error on stale CAS: %v", err)
	} else if swapped {
		t.Fatal("CompareAndSwap succeeded against a stale token")
	}

	updated := []byte("updated bytes")
	swapped, err := storage.CompareAndSwap(ctx, key, obj.Token, updated)
	if err != nil {
		t.Fatalf("unexpected error on valid CAS: %v", err)
	}
	if !swapped {
		t.Fatal("CompareAndSwap failed against the current token")
	}

	obj2, ok, err := storage.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("error re-getting key after CAS: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(obj2.Data, updated) {
		t.Fatal("CAS did not persist the new value")
	}

	createKey := "conformance-create-only"
	if swapped, err := storage.CompareAndSwap(ctx, createKey, "", []byte("first write")); err != nil {
		t.Fatalf("unexpected error on create-only CAS: %v", err)
	} else if !swapped {
		t.Fatal("create-only CompareAndSwap failed against an absent key")
	}
	if swapped, err := storage.CompareAndSwap(ctx, createKey, "", []byte("second write")); err != nil {
		t.Fatalf("unexpected error on repeated create-only CAS: %v", err)
	} else if swapped {
		t.Fatal("create-only CompareAndSwap succeeded against an already-present key")
	}

	if err := storage.Remove(ctx, key); err != nil {
		t.Fatalf("error removing key: %v", err)
	}
	if _, ok, err := storage.Get(ctx, key); err != nil {
		t.Fatalf("error getting removed key: %v", err)
	} else if ok {
		t.Fatal("removed key still present")
	}

	if err := storage.Remove(ctx, "never-existed"); err != nil {
		t.Fatalf("removing an absent key should not error: %v", err)
	}
}
