package httpcache

import (
	"net/http"
	"sort"
	"strings"
)

// RootKey canonicalizes req into the key used for the root (variant-index)
// cache entry: scheme://host[:port]/path?query, with the host lower-cased
// and the default port for the scheme elided. Two requests that an origin
// server would treat identically collapse to the same root key even if the
// client wrote the host in mixed case or included an explicit default port.
func RootKey(req *http.Request) string {
	u := req.URL
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port != "" && !isDefaultPort(u.Scheme, port) {
		host = host + ":" + port
	}

	var b strings.Builder
	b.WriteString(strings.ToLower(u.Scheme))
	b.WriteString("://")
	b.WriteString(host)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String()
}

func isDefaultPort(scheme, port string) bool {
	switch strings.ToLower(scheme) {
	case "http":
		return port == "80"
	case "https":
		return port == "443"
	}
	return false
}

// canonicalizeHeaderValue applies the normalization required before a
// header value is folded into a variant key or compared for Vary matching:
// split on commas, trim, lower-case, drop empties, dedupe, sort, rejoin.
// This treats "en, fr", "en,fr", "FR,EN" and "en, en, fr" the same.
func canonicalizeHeaderValue(v string) string {
	parts := strings.Split(v, ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return strings.Join(out, ",")
}

// VariantKey constructs the variant discriminator for req given the set of
// header names a response's Vary header named, in a
// "{field=val&field=val}" format, sorted by field name. A Vary: * entry
// produces a key that can never match any subsequent request (handled by
// the caller per RFC 9111 Section 4.1, not encoded here).
func VariantKey(root string, req *http.Request, varyFields []string) string {
	if len(varyFields) == 0 {
		return root
	}

	type kv struct{ k, v string }
	pairs := make([]kv, 0, len(varyFields))
	seen := make(map[string]struct{}, len(varyFields))
	for _, f := range varyFields {
		f = http.CanonicalHeaderKey(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		pairs = append(pairs, kv{f, canonicalizeHeaderValue(req.Header.Get(f))})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].k < pairs[j].k })

	var b strings.Builder
	b.WriteString(root)
	b.WriteByte('{')
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.k)
		b.WriteByte('=')
		b.WriteString(p.v)
	}
	b.WriteByte('}')
	return b.String()
}

// varyFields extracts the comma-separated field names named by a response's
// Vary header, canonicalized to their header-name form. A literal "*"
// element is passed through unchanged so callers can detect it.
func varyFields(header http.Header) []string {
	var out []string
	for _, line := range header.Values("Vary") {
		for _, f := range strings.Split(line, ",") {
			f = strings.TrimSpace(f)
			if f == "" {
				continue
			}
			if f == "*" {
				out = append(out, "*")
				continue
			}
			out = append(out, http.CanonicalHeaderKey(f))
		}
	}
	return out
}

// varyIsWildcard reports whether a response's Vary header contains "*",
// which per RFC 9111 Section 4.1 always fails to match any stored variant.
func varyIsWildcard(fields []string) bool {
	for _, f := range fields {
		if f == "*" {
			return true
		}
	}
	return false
}

// variantMatches reports whether a stored entry's recorded request headers
// match req for every field the response's Vary header named.
func variantMatches(entry *CacheEntry, req *http.Request, fields []string) bool {
	for _, f := range fields {
		if f == "*" {
			return false
		}
		want := canonicalizeHeaderValue(entry.RequestHeaders.Get(f))
		got := canonicalizeHeaderValue(req.Header.Get(f))
		if want != got {
			return false
		}
	}
	return true
}
