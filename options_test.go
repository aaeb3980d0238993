package httpcache

import (
	"testing"
)

func TestNewEnginePanicsWithoutStorage(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected NewEngine to panic when no WithStorage option is given")
		}
	}()
	NewEngine()
}

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine(WithStorage(NewMemoryCache()))
	if e.heuristicCoefficient != 0.1 {
		t.Errorf("heuristicCoefficient = %v, want 0.1", e.heuristicCoefficient)
	}
	if e.revalidator == nil {
		t.Error("expected background revalidation to be enabled by default")
	}
	if e.collapser == nil {
		t.Error("expected a Collapser to always be constructed")
	}
}

func TestWithoutBackgroundRevalidationDisablesRevalidator(t *testing.T) {
	e := NewEngine(WithStorage(NewMemoryCache()), WithoutBackgroundRevalidation())
	if e.revalidator != nil {
		t.Error("expected revalidator to be nil when background revalidation is disabled")
	}
}

func TestWithSharedCacheAndHeuristicCoefficient(t *testing.T) {
	e := NewEngine(
		WithStorage(NewMemoryCache()),
		WithSharedCache(true),
		WithHeuristicCoefficient(0.25),
	)
	if !e.sharedCache {
		t.Error("expected sharedCache to be true")
	}
	if e.heuristicCoefficient != 0.25 {
		t.Errorf("heuristicCoefficient = %v, want 0.25", e.heuristicCoefficient)
	}
}

func TestWithMarkCachedResponses(t *testing.T) {
	e := NewEngine(WithStorage(NewMemoryCache()), WithMarkCachedResponses(true))
	if !e.markCachedResponses {
		t.Error("expected markCachedResponses to be true")
	}
}

func TestWithTransportOverridesRoundTripper(t *testing.T) {
	stub := &stubTransport{}
	e := NewEngine(WithStorage(NewMemoryCache()), WithTransport(stub))
	if e.transport != stub {
		t.Error("expected WithTransport to set the engine's transport directly")
	}
}
