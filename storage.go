package httpcache

import "context"

// StoredObject is what a Storage backend returns for a successful Get: the
// raw serialized bytes (see serialize.go) plus an opaque CAS token. Token is
// backend-specific (a version counter, a row revision, an ETag-like blob
// hash) and is never interpreted outside the owning backend.
type StoredObject struct {
	Data  []byte
	Token string
}

// Storage is the capability the cache store facade (store.go) needs from a
// backend: bulk fetch plus a compare-and-swap write, on top of the usual
// get/put/delete, so that concurrent updates to the same root entry's
// variant index or to a revalidated representation can detect and retry
// lost updates instead of clobbering each other.
type Storage interface {
	// Get returns the object stored at key, or ok=false if absent.
	Get(ctx context.Context, key string) (obj *StoredObject, ok bool, err error)
	// GetMany returns every present key's object; missing keys are simply
	// absent from the result map, not represented as zero values.
	GetMany(ctx context.Context, keys []string) (map[string]*StoredObject, error)
	// Put unconditionally writes data at key, creating or overwriting it.
	Put(ctx context.Context, key string, data []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
	// CompareAndSwap writes data at key only if the backend's current token
	// for key still equals token. token == "" asserts "key must not
	// currently exist" (a create-only write). Returns ok=false, err=nil on
	// a token mismatch — that is a normal CAS conflict, not a failure.
	CompareAndSwap(ctx context.Context, key, token string, data []byte) (ok bool, err error)
}
