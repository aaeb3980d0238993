package httpcache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// timer abstracts time.Now so tests can control the clock via a
// package-level variable instead of sleeping real time.
type timer interface {
	now() time.Time
}

type realClock struct{}

func (realClock) now() time.Time { return time.Now() }

var clock timer = realClock{}

// DateHeader parses the Date header of header, per RFC 9111 Section 7.1.1.2.
func DateHeader(header http.Header) (time.Time, bool) {
	v := header.Get("Date")
	if v == "" {
		return time.Time{}, false
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ageHeaderValue parses the Age header per RFC 9111 Section 5.1: first
// occurrence wins, must be a non-negative integer, otherwise the header is
// ignored entirely.
func ageHeaderValue(header http.Header) (time.Duration, bool) {
	values := header.Values("Age")
	if len(values) == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(values[0]), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// FormatAge renders age as an Age header value.
func FormatAge(age time.Duration) string {
	s := int64(age.Seconds())
	if s < 0 {
		s = 0
	}
	return strconv.FormatInt(s, 10)
}

// AgeParams bundles the inputs RFC 9111 Section 4.2.3's age algorithm needs.
type AgeParams struct {
	Date         time.Time
	AgeValue     time.Duration // from the Age response header, if present
	HasAgeValue  bool
	RequestTime  time.Time
	ResponseTime time.Time
	Now          time.Time
}

// CurrentAge computes RFC 9111 Section 4.2.3's current_age, deliberately
// using a simplified corrected_initial_age formula:
//
//	apparent_age           = max(0, response_time - date_value)
//	response_delay         = response_time - request_time
//	corrected_age_value    = age_value + response_delay
//	corrected_initial_age  = corrected_age_value            <- diverges from RFC's max(apparent_age, corrected_age_value)
//	resident_time          = now - response_time
//	current_age            = corrected_initial_age + resident_time
//
// apparent_age is still computed and returned for callers that want the
// RFC-complete figure, even though it is not folded into
// corrected_initial_age here; EntryAge discards it.
func CurrentAge(p AgeParams) (current, apparentAge time.Duration) {
	if p.ResponseTime.After(p.Date) {
		apparentAge = p.ResponseTime.Sub(p.Date)
	}

	responseDelay := time.Duration(0)
	if p.ResponseTime.After(p.RequestTime) {
		responseDelay = p.ResponseTime.Sub(p.RequestTime)
	}
	correctedAgeValue := responseDelay
	if p.HasAgeValue {
		correctedAgeValue += p.AgeValue
	}

	correctedInitialAge := correctedAgeValue // diverges from the RFC's max(apparent_age, corrected_age_value)

	residentTime := p.Now.Sub(p.ResponseTime)
	if residentTime < 0 {
		residentTime = 0
	}

	current = correctedInitialAge + residentTime
	if current < 0 {
		current = 0
	}
	return current, apparentAge
}

// EntryAge computes the current age of a stored CacheEntry as of now.
func EntryAge(entry *CacheEntry, now time.Time) time.Duration {
	date, ok := DateHeader(entry.ResponseHeaders)
	if !ok {
		date = entry.ResponseInstant
	}
	ageValue, hasAge := ageHeaderValue(entry.ResponseHeaders)
	current, _ := CurrentAge(AgeParams{
		Date:         date,
		AgeValue:     ageValue,
		HasAgeValue:  hasAge,
		RequestTime:  entry.RequestInstant,
		ResponseTime: entry.ResponseInstant,
		Now:          now,
	})
	return current
}

// HeuristicFreshnessLifetime estimates a freshness lifetime for a response
// that carries neither a max-age/s-maxage directive nor an Expires header,
// per RFC 9111 Section 4.2.2. Returns 0 if Last-Modified is absent: no
// heuristic freshness without at least Date+Last-Modified.
func HeuristicFreshnessLifetime(header http.Header, date time.Time, coefficient float64) time.Duration {
	lm := header.Get("Last-Modified")
	if lm == "" {
		return 0
	}
	lastModified, err := http.ParseTime(lm)
	if err != nil || !date.After(lastModified) {
		return 0
	}
	lifetime := time.Duration(float64(date.Sub(lastModified)) * coefficient)
	if lifetime < 0 {
		return 0
	}
	return lifetime
}

// FreshnessLifetime computes RFC 9111 Section 4.2.1's freshness_lifetime
// for a response, given its parsed directives. shared selects whether
// s-maxage (shared-cache only) takes precedence over max-age.
func FreshnessLifetime(d ResponseDirectives, header http.Header, date time.Time, shared bool, heuristicCoefficient float64) time.Duration {
	if shared && d.SharedMaxAge != unsetDirective {
		return time.Duration(d.SharedMaxAge) * time.Second
	}
	if d.MaxAge != unsetDirective {
		return time.Duration(d.MaxAge) * time.Second
	}
	if exp := header.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			if lifetime := t.Sub(date); lifetime > 0 {
				return lifetime
			}
			return 0
		}
	}
	return HeuristicFreshnessLifetime(header, date, heuristicCoefficient)
}
