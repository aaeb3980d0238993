package httpcache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type stubRoundTripper struct {
	resp *http.Response
	err  error
	got  *http.Request
}

func (s *stubRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	s.got = req
	return s.resp, s.err
}

func TestRoundTripperTransportDelegates(t *testing.T) {
	want := &http.Response{StatusCode: 200}
	stub := &stubRoundTripper{resp: want}
	transport := RoundTripperTransport{RoundTripper: stub}

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	got, err := transport.Proceed(context.Background(), req)
	if err != nil {
		t.Fatalf("Proceed: %v", err)
	}
	if got != want {
		t.Errorf("expected the stub's response to be returned unchanged")
	}
	if stub.got == nil {
		t.Fatal("expected the request to reach the underlying RoundTripper")
	}
}

func TestRoundTripperTransportDefaultsToDefaultTransport(t *testing.T) {
	transport := RoundTripperTransport{}
	req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:1/", nil)
	// No server listening; just confirm it attempts a real RoundTrip via
	// http.DefaultTransport instead of panicking on a nil RoundTripper.
	_, err := transport.Proceed(context.Background(), req)
	if err == nil {
		t.Fatal("expected a connection error dialing a closed port")
	}
}

func TestRoundTripperTransportPropagatesError(t *testing.T) {
	wantErr := errors.New("boom")
	stub := &stubRoundTripper{err: wantErr}
	transport := RoundTripperTransport{RoundTripper: stub}

	req := httptest.NewRequest(http.MethodGet, "http://example.com/", nil)
	_, err := transport.Proceed(context.Background(), req)
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
}

func TestClientReturnsHTTPClientWrappingEngine(t *testing.T) {
	engine := NewEngine(WithStorage(NewMemoryCache()))
	client := Client(engine)
	if client.Transport != engine {
		t.Error("expected Client's Transport to be the given Engine")
	}
}
