package httpcache

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// unsetDirective is the sentinel for an absent integer Cache-Control
// directive, distinguishing "max-age not present" from "max-age=0".
const unsetDirective = -1

// RequestDirectives is the typed, parsed form of a request's Cache-Control
// header (plus the Pragma: no-cache fallback RFC 7234 Section 5.4 requires).
type RequestDirectives struct {
	MaxAge       int
	MaxStale     int
	MaxStaleSet  bool // true if max-stale was present at all, even with no value
	MinFresh     int
	StaleIfError int
	NoCache      bool
	NoStore      bool
	OnlyIfCached bool
}

// ResponseDirectives is the typed, parsed form of a response's Cache-Control
// header.
type ResponseDirectives struct {
	MaxAge               int
	SharedMaxAge         int
	StaleWhileRevalidate int
	StaleIfError         int
	NoCache              bool
	NoCacheFields        map[string]struct{} // qualified no-cache="field,field"
	NoStore              bool
	MustRevalidate       bool
	ProxyRevalidate      bool
	MustUnderstand       bool
	CachePrivate         bool
	CachePublic          bool
	Immutable            bool
}

// rawDirectives is an intermediate map of directive name -> last value seen,
// used while parsing. The LAST occurrence of a directive wins, not the
// first; values are validated only afterwards, so a malformed last
// occurrence does not fall back to an earlier well-formed one.
type rawDirectives map[string]string

func parseRaw(header http.Header, log *slog.Logger) rawDirectives {
	raw := rawDirectives{}
	for _, line := range header.Values("Cache-Control") {
		for _, part := range strings.Split(line, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, value, hasValue := strings.Cut(part, "=")
			name = strings.ToLower(strings.TrimSpace(name))
			if hasValue {
				value = strings.Trim(strings.TrimSpace(value), `"`)
			} else {
				value = ""
			}
			if name == "" {
				continue
			}
			if _, dup := raw[name]; dup {
				log.Debug("duplicate Cache-Control directive, later value wins", "directive", name)
			}
			raw[name] = value
		}
	}
	return raw
}

func parseIntDirective(raw rawDirectives, name string, log *slog.Logger) (int, bool) {
	v, ok := raw[name]
	if !ok {
		return unsetDirective, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		log.Debug("malformed integer Cache-Control directive, ignoring", "directive", name, "value", v)
		return unsetDirective, false
	}
	return n, true
}

// ParseRequestDirectives parses req's Cache-Control header (and the legacy
// Pragma: no-cache fallback when Cache-Control is entirely absent).
func ParseRequestDirectives(header http.Header) RequestDirectives {
	log := GetLogger()
	raw := parseRaw(header, log)

	d := RequestDirectives{MaxAge: unsetDirective, MaxStale: unsetDirective, MinFresh: unsetDirective, StaleIfError: unsetDirective}

	if len(raw) == 0 && strings.EqualFold(header.Get("Pragma"), "no-cache") {
		d.NoCache = true
		return d
	}

	if n, ok := parseIntDirective(raw, "max-age", log); ok {
		d.MaxAge = n
	}
	if n, ok := parseIntDirective(raw, "min-fresh", log); ok {
		d.MinFresh = n
	}
	if n, ok := parseIntDirective(raw, "stale-if-error", log); ok {
		d.StaleIfError = n
	} else if _, present := raw["stale-if-error"]; present {
		// present with empty/malformed value: accept any staleness
		d.StaleIfError = 1<<31 - 1
	}
	if v, present := raw["max-stale"]; present {
		d.MaxStaleSet = true
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			d.MaxStale = n
		}
	}
	_, d.NoCache = raw["no-cache"]
	_, d.NoStore = raw["no-store"]
	_, d.OnlyIfCached = raw["only-if-cached"]
	return d
}

// ParseResponseDirectives parses resp's Cache-Control header. A malformed
// max-age (non-numeric) parses as 0 rather than unset: an intentional
// request/response asymmetry, since a present-but-garbled response max-age
// should not be treated the same as one that was never sent.
func ParseResponseDirectives(header http.Header) ResponseDirectives {
	log := GetLogger()
	raw := parseRaw(header, log)

	d := ResponseDirectives{MaxAge: unsetDirective, SharedMaxAge: unsetDirective, StaleWhileRevalidate: unsetDirective, StaleIfError: unsetDirective}

	if v, present := raw["max-age"]; present {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			d.MaxAge = n
		} else {
			d.MaxAge = 0
		}
	}
	if v, present := raw["s-maxage"]; present {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			d.SharedMaxAge = n
		} else {
			d.SharedMaxAge = 0
		}
	}
	if n, ok := parseIntDirective(raw, "stale-while-revalidate", log); ok {
		d.StaleWhileRevalidate = n
	}
	if v, present := raw["stale-if-error"]; present {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			d.StaleIfError = n
		} else {
			d.StaleIfError = 0
		}
	}

	if v, present := raw["no-cache"]; present {
		d.NoCache = true
		if v != "" {
			fields := map[string]struct{}{}
			for _, f := range strings.Split(v, ",") {
				f = http.CanonicalHeaderKey(strings.TrimSpace(f))
				if f != "" {
					fields[f] = struct{}{}
				}
			}
			d.NoCacheFields = fields
		}
	}

	_, d.NoStore = raw["no-store"]
	_, d.MustRevalidate = raw["must-revalidate"]
	_, d.ProxyRevalidate = raw["proxy-revalidate"]
	_, d.MustUnderstand = raw["must-understand"]
	_, d.CachePrivate = raw["private"]
	_, d.CachePublic = raw["public"]
	_, d.Immutable = raw["immutable"]

	if d.CachePrivate && d.CachePublic {
		log.Debug("conflicting public/private Cache-Control directives, private takes precedence")
		d.CachePublic = false
	}

	return d
}
