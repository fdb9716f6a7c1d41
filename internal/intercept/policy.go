// Package intercept decides, per outgoing GET request, whether to answer from
// the network or from stored copies.
//
// Decisions come from a [Policy]: an ordered table of (predicate, strategy)
// rules evaluated once per request. The [Transport] applies the chosen
// strategy and can wrap any http.Client; [NewProxy] exposes the same logic
// as a reverse proxy.
package intercept

import (
	"fmt"
	"net/http"
	"path"
	"strings"
)

// Strategy selects how a request is answered.
type Strategy int

const (
	// Passthrough forwards the request untouched.
	Passthrough Strategy = iota

	// NavigationFallback tries the network and, on failure, serves the
	// cached application shell.
	NavigationFallback

	// NetworkFirst tries the network, stores successful responses, and
	// falls back to the stored copy on failure.
	NetworkFirst

	// CacheFirst serves the stored copy when present and otherwise fetches
	// and stores.
	CacheFirst
)

// String returns the policy-file name of the strategy.
func (s Strategy) String() string {
	switch s {
	case NavigationFallback:
		return "navigation-fallback"
	case NetworkFirst:
		return "network-first"
	case CacheFirst:
		return "cache-first"
	default:
		return "passthrough"
	}
}

// ParseStrategy parses a policy-file strategy name.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "navigation-fallback", "navigation":
		return NavigationFallback, nil
	case "network-first":
		return NetworkFirst, nil
	case "cache-first":
		return CacheFirst, nil
	case "passthrough", "bypass":
		return Passthrough, nil
	}
	return Passthrough, fmt.Errorf("unknown strategy %q", s)
}

// Predicate reports whether a rule applies to a request.
type Predicate func(r *http.Request) bool

// Rule pairs a predicate with a strategy.
type Rule struct {
	Name     string
	Match    Predicate
	Strategy Strategy
}

// Policy is an ordered rule table. The first matching rule wins; requests
// matching no rule pass through.
type Policy struct {
	Rules []Rule
}

// Decide returns the strategy and the name of the rule that selected it.
func (p *Policy) Decide(r *http.Request) (Strategy, string) {
	for _, rule := range p.Rules {
		if rule.Match == nil || rule.Match(r) {
			return rule.Strategy, rule.Name
		}
	}
	return Passthrough, ""
}

// DefaultPolicy mirrors the behaviour of a typical app-shell service worker:
// page navigations fall back to the shell, API and data-service calls go to
// the network first, and static assets are served cache-first.
func DefaultPolicy() *Policy {
	return &Policy{Rules: []Rule{
		{Name: "navigation", Match: IsNavigation, Strategy: NavigationFallback},
		{Name: "api", Match: PathPrefix("/api/"), Strategy: NetworkFirst},
		{Name: "data-service", Match: HostContains("supabase"), Strategy: NetworkFirst},
		{Name: "static", Match: Any, Strategy: CacheFirst},
	}}
}

// IsNavigation reports whether the request is a top-level page load.
func IsNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// Any matches every request.
func Any(*http.Request) bool { return true }

// PathPrefix matches requests whose path starts with prefix.
func PathPrefix(prefix string) Predicate {
	return func(r *http.Request) bool { return strings.HasPrefix(r.URL.Path, prefix) }
}

// PathContains matches requests whose path contains s.
func PathContains(s string) Predicate {
	return func(r *http.Request) bool { return strings.Contains(r.URL.Path, s) }
}

// HostContains matches requests whose host contains s.
func HostContains(s string) Predicate {
	return func(r *http.Request) bool { return strings.Contains(r.URL.Host, s) }
}

// Extension matches requests whose path ends in one of the given extensions.
// Extensions are compared without the leading dot, case-insensitively.
func Extension(exts ...string) Predicate {
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		set[strings.ToLower(strings.TrimPrefix(e, "."))] = struct{}{}
	}
	return func(r *http.Request) bool {
		ext := strings.ToLower(strings.TrimPrefix(path.Ext(r.URL.Path), "."))
		_, ok := set[ext]
		return ok && ext != ""
	}
}

// All matches when every predicate matches.
func All(preds ...Predicate) Predicate {
	return func(r *http.Request) bool {
		for _, p := range preds {
			if !p(r) {
				return false
			}
		}
		return true
	}
}
