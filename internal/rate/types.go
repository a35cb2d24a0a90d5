package rate

import (
	"net/http"
	"time"
)

// Window represents a request budget bucket.
type Window int

const (
	Minute Window = iota
	Hour
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	default:
		return "unknown"
	}
}

func (w Window) duration() time.Duration {
	switch w {
	case Hour:
		return time.Hour
	default:
		return time.Minute
	}
}

// Declaration defines a target's request budget and fallback cache.
type Declaration struct {
	provider  string
	limits    map[Window]int
	cacheTTL  time.Duration
	cacheable func(*http.Request) bool
}

// Provider creates a new declaration for a named target.
func Provider(name string) Declaration {
	return Declaration{provider: name}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	limits[window] = limit
	d.limits = limits
	return d
}

// CacheFor keeps successful responses for ttl. They are served only when the
// budget is exhausted. A nil filter caches every request.
func (d Declaration) CacheFor(ttl time.Duration, filter func(*http.Request) bool) Declaration {
	d.cacheTTL = ttl
	d.cacheable = filter
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}

func (d Declaration) CacheTTL() time.Duration {
	return d.cacheTTL
}

func (d Declaration) HasLimits() bool {
	return len(d.limits) > 0
}

func (d Declaration) cacheAllowed(req *http.Request) bool {
	if d.cacheTTL <= 0 {
		return false
	}
	return d.cacheable == nil || d.cacheable(req)
}
