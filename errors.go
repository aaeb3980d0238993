package httpcache

import "errors"

// Sentinel errors returned by the engine and cache store facade.
var (
	// ErrUpdateExhausted is returned when a compare-and-swap update on a
	// Storage entry fails to land after the configured retry bound.
	ErrUpdateExhausted = errors.New("httpcache: compare-and-swap update exhausted retries")

	// ErrNullRequest is returned when an operation is given a nil *http.Request.
	ErrNullRequest = errors.New("httpcache: request is nil")

	// ErrNullResponse is returned when an operation is given a nil *http.Response
	// where a non-nil response is required (e.g. from a Transport that claims success).
	ErrNullResponse = errors.New("httpcache: response is nil")

	// ErrProtocolDeviation is returned when a collaborator (Transport, Storage)
	// returns a combination of values that violates its own contract, e.g. a
	// nil error with a nil response.
	ErrProtocolDeviation = errors.New("httpcache: collaborator violated its contract")

	// ErrKeyMismatch is returned internally by serialize.go when a decoded
	// entry's stored key metadata does not match the key it was looked up
	// under; store.go treats this the same as a cache miss.
	ErrKeyMismatch = errors.New("httpcache: stored entry key does not match lookup key")

	// ErrOnlyIfCached is returned by the engine when a request carries
	// Cache-Control: only-if-cached and no suitable cached response exists;
	// Engine.RoundTrip converts this into a synthesized 504 Gateway Timeout.
	ErrOnlyIfCached = errors.New("httpcache: no cached response available for only-if-cached request")
)

// wrapStorageErr normalizes any error returned by a Storage implementation
// so that callers upstream can treat all backend errors uniformly.
func wrapStorageErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Key: key, Err: err}
}

// StorageError wraps an error returned by a Storage backend with the
// operation and key that triggered it.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return "httpcache: storage " + e.Op + " failed for key " + e.Key + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }
