package httpcache

import (
	"context"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// ResilienceConfig holds retry/circuit-breaker policies applied around the
// engine's CALL_ORIGIN step. Both are disabled unless explicitly set. The
// wrapped call is Transport.Proceed rather than http.RoundTripper.RoundTrip
// directly, since CALL_ORIGIN is a named stage decoupled from whatever
// transport a caller happens to supply.
type ResilienceConfig struct {
	RetryPolicy    retrypolicy.RetryPolicy[*http.Response]
	CircuitBreaker circuitbreaker.CircuitBreaker[*http.Response]
}

// RetryPolicyBuilder returns a pre-configured retry policy builder: retries
// on transport errors and 5xx status codes, up to 3 retries after the
// initial attempt (4 attempts in all), with
// exponential backoff from 100ms to 10s.
func RetryPolicyBuilder() retrypolicy.Builder[*http.Response] {
	return retrypolicy.NewBuilder[*http.Response]().
		HandleIf(isRetryableOutcome).
		WithMaxRetries(3).
		WithBackoff(100*time.Millisecond, 10*time.Second)
}

// CircuitBreakerBuilder returns a pre-configured circuit breaker builder:
// opens after 5 consecutive failures, half-opens after 60s, and closes
// again after 2 consecutive successes.
func CircuitBreakerBuilder() circuitbreaker.Builder[*http.Response] {
	return circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(isRetryableOutcome).
		WithFailureThreshold(5).
		WithSuccessThreshold(2).
		WithDelay(60 * time.Second)
}

func isRetryableOutcome(r *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return r != nil && r.StatusCode >= 500
}

// ResilientTransport wraps a Transport with failsafe-go retry and circuit
// breaker policies, applied at the CALL_ORIGIN boundary rather than inside
// the cache state machine itself.
type ResilientTransport struct {
	next   Transport
	config ResilienceConfig
}

// WithResilience decorates next with the given policies. Either policy may
// be left nil to disable that layer.
func WithResilience(next Transport, config ResilienceConfig) *ResilientTransport {
	return &ResilientTransport{next: next, config: config}
}

// Proceed implements Transport.
func (t *ResilientTransport) Proceed(ctx context.Context, req *http.Request) (*http.Response, error) {
	var policies []failsafe.Policy[*http.Response]
	if t.config.RetryPolicy != nil {
		policies = append(policies, t.config.RetryPolicy)
	}
	if t.config.CircuitBreaker != nil {
		policies = append(policies, t.config.CircuitBreaker)
	}
	if len(policies) == 0 {
		return t.next.Proceed(ctx, req)
	}

	return failsafe.With(policies...).Get(func() (*http.Response, error) {
		return t.next.Proceed(ctx, req)
	})
}
