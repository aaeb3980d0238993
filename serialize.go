package httpcache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// wireVersion is bumped whenever the serialized entry format changes in a
// way that makes older bytes unreadable.
const wireVersion = 1

const (
	leafMagic = "HttpClient CacheEntry"
	rootMagic = "HttpClient CacheEntry-Root"

	hcKey             = "Hc-Key"
	hcResourceLength  = "Hc-Resource-Length"
	hcRequestInstant  = "Hc-Request-Instant"
	hcResponseInstant = "Hc-Response-Instant"
	hcRequestMethod   = "Hc-Request-Method"
	hcRequestURI      = "Hc-Request-Uri"
	hcStatus          = "Hc-Status"
	hcVariant         = "Hc-Variant"
)

func newBodyReader(b []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b))
}

// MarshalLeafEntry serializes a leaf CacheEntry (one carrying a Resource)
// into a storage-agnostic wire format: a magic line, an HC-* metadata
// header block, the original request/response headers needed to
// reconstruct suitability/conditional checks, a blank line, then the raw
// body bytes.
func MarshalLeafEntry(key string, entry *CacheEntry) ([]byte, error) {
	if entry.Resource == nil {
		return nil, fmt.Errorf("httpcache: cannot marshal a root entry as a leaf entry")
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d\r\n", leafMagic, wireVersion)
	fmt.Fprintf(&buf, "%s: %s\r\n", hcKey, key)
	fmt.Fprintf(&buf, "%s: %d\r\n", hcResourceLength, len(entry.Resource.Body))
	fmt.Fprintf(&buf, "%s: %s\r\n", hcRequestInstant, entry.RequestInstant.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&buf, "%s: %s\r\n", hcResponseInstant, entry.ResponseInstant.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&buf, "%s: %s\r\n", hcRequestMethod, entry.RequestMethod)
	fmt.Fprintf(&buf, "%s: %s\r\n", hcRequestURI, entry.RequestURI)
	fmt.Fprintf(&buf, "%s: %d\r\n", hcStatus, entry.Resource.StatusCode)

	if err := entry.RequestHeaders.WriteSubset(&buf, nil); err != nil {
		return nil, err
	}
	buf.WriteString("\r\n")
	if err := entry.Resource.Header.WriteSubset(&buf, nil); err != nil {
		return nil, err
	}
	buf.WriteString("\r\n")
	buf.Write(entry.Resource.Body)

	return buf.Bytes(), nil
}

// UnmarshalLeafEntry parses bytes written by MarshalLeafEntry. If the
// decoded Hc-Key metadata does not match key, ErrKeyMismatch is returned —
// store.go treats that as a cache miss rather than a hard error, a
// defense-in-depth measure against key-hashing collisions.
func UnmarshalLeafEntry(key string, data []byte) (*CacheEntry, error) {
	r := bufio.NewReader(bytes.NewReader(data))

	magicLine, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("httpcache: malformed cache entry: %w", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(magicLine), leafMagic) {
		return nil, fmt.Errorf("httpcache: not a leaf cache entry")
	}

	tp := textproto.NewReader(r)
	meta, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("httpcache: malformed cache entry metadata: %w", err)
	}

	if meta.Get(hcKey) != key {
		return nil, ErrKeyMismatch
	}

	requestInstant, err := time.Parse(time.RFC3339Nano, meta.Get(hcRequestInstant))
	if err != nil {
		return nil, fmt.Errorf("httpcache: malformed request instant: %w", err)
	}
	responseInstant, err := time.Parse(time.RFC3339Nano, meta.Get(hcResponseInstant))
	if err != nil {
		return nil, fmt.Errorf("httpcache: malformed response instant: %w", err)
	}
	status, err := strconv.Atoi(meta.Get(hcStatus))
	if err != nil {
		return nil, fmt.Errorf("httpcache: malformed status: %w", err)
	}

	reqHeader, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("httpcache: malformed request headers: %w", err)
	}
	respHeader, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("httpcache: malformed response headers: %w", err)
	}

	body, err := io.ReadAll(tp.R)
	if err != nil {
		return nil, fmt.Errorf("httpcache: malformed body: %w", err)
	}

	return &CacheEntry{
		RequestMethod:   meta.Get(hcRequestMethod),
		RequestURI:      meta.Get(hcRequestURI),
		RequestHeaders:  http.Header(reqHeader),
		ResponseHeaders: http.Header(respHeader),
		Status:          status,
		RequestInstant:  requestInstant,
		ResponseInstant: responseInstant,
		Resource: &Resource{
			StatusCode: status,
			Header:     http.Header(respHeader),
			Body:       body,
		},
	}, nil
}

// MarshalRootEntry serializes a root (variant-index) entry: no body, just
// the list of known variant keys.
func MarshalRootEntry(key string, entry *CacheEntry) ([]byte, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d\r\n", rootMagic, wireVersion)
	fmt.Fprintf(&buf, "%s: %s\r\n", hcKey, key)
	for _, v := range entry.Variants {
		fmt.Fprintf(&buf, "%s: %s\r\n", hcVariant, v)
	}
	buf.WriteString("\r\n")
	return buf.Bytes(), nil
}

// UnmarshalRootEntry parses bytes written by MarshalRootEntry.
func UnmarshalRootEntry(key string, data []byte) (*CacheEntry, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	magicLine, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("httpcache: malformed root entry: %w", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(magicLine), rootMagic) {
		return nil, fmt.Errorf("httpcache: not a root cache entry")
	}

	tp := textproto.NewReader(r)
	meta, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("httpcache: malformed root entry metadata: %w", err)
	}
	if meta.Get(hcKey) != key {
		return nil, ErrKeyMismatch
	}

	return &CacheEntry{
		RequestURI: key,
		Variants:   meta.Values(hcVariant),
	}, nil
}
