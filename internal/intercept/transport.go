package intercept

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bft-labs/offsync/internal/domain"
	"github.com/bft-labs/offsync/internal/ports"
	"github.com/bft-labs/offsync/pkg/log"
)

// DefaultCacheName versions the response cache. Bumping it makes every
// previously stored copy stale.
const DefaultCacheName = "offsync-v1"

// Shell paths served when a navigation fails.
const (
	ShellPath   = "/"
	OfflinePath = "/offline.html"
)

// maxStoredBody bounds the size of a response copy.
const maxStoredBody = 16 << 20

// DefaultFlightTimeout bounds a shared network round-trip.
const DefaultFlightTimeout = 30 * time.Second

// Headers added to answers that did not come straight from the network.
const (
	HeaderSource = "X-Offsync-Source"

	SourceNetwork    = "network"
	SourceCache      = "cache"
	SourceShell      = "shell"
	SourceCollection = "collection"
)

// ObserveFunc is told how each intercepted request was answered.
type ObserveFunc func(strategy Strategy, source string)

// Config configures a Transport.
type Config struct {
	// Origin is the same-origin boundary, e.g. "https://app.example.com".
	// Requests to other origins pass through untouched.
	Origin string

	// CacheName tags stored copies; defaults to DefaultCacheName.
	CacheName string

	// Base performs network round-trips; defaults to http.DefaultTransport.
	Base http.RoundTripper

	// Cache stores response copies. Required.
	Cache ports.ResponseCache

	// Collections answers /api/<collection>/<key> reads when both the
	// network and the response cache miss. Optional.
	Collections ports.CacheStore

	// FlightTimeout bounds a coalesced round-trip, which outlives any single
	// caller's context; defaults to DefaultFlightTimeout.
	FlightTimeout time.Duration

	Policy  *Policy
	Observe ObserveFunc
	Logger  ports.Logger
}

// Transport is an http.RoundTripper that applies the interception policy.
// It keeps no per-request state between calls.
type Transport struct {
	origin      *url.URL
	cacheName   string
	base        http.RoundTripper
	cache       ports.ResponseCache
	collections ports.CacheStore
	observe     ObserveFunc
	logger      ports.Logger
	timeout     time.Duration

	policy atomic.Pointer[Policy]
	group  singleflight.Group
}

var _ http.RoundTripper = (*Transport)(nil)

// NewTransport validates cfg and builds a Transport.
func NewTransport(cfg Config) (*Transport, error) {
	origin, err := url.Parse(cfg.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("%w: invalid origin %q", domain.ErrInvalidConfig, cfg.Origin)
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("%w: response cache is required", domain.ErrInvalidConfig)
	}

	t := &Transport{
		origin:      origin,
		cacheName:   cfg.CacheName,
		base:        cfg.Base,
		cache:       cfg.Cache,
		collections: cfg.Collections,
		observe:     cfg.Observe,
		logger:      cfg.Logger,
		timeout:     cfg.FlightTimeout,
	}
	if t.timeout <= 0 {
		t.timeout = DefaultFlightTimeout
	}
	if t.cacheName == "" {
		t.cacheName = DefaultCacheName
	}
	if t.base == nil {
		t.base = http.DefaultTransport
	}
	if t.observe == nil {
		t.observe = func(Strategy, string) {}
	}
	if t.logger == nil {
		t.logger = log.NewNoopLogger()
	}

	policy := cfg.Policy
	if policy == nil {
		policy = DefaultPolicy()
	}
	t.policy.Store(policy)
	return t, nil
}

// SetPolicy swaps the rule table. Requests already in flight keep the
// policy they started with.
func (t *Transport) SetPolicy(p *Policy) {
	if p != nil {
		t.policy.Store(p)
	}
}

// Policy returns the active rule table.
func (t *Transport) Policy() *Policy {
	return t.policy.Load()
}

// CacheName returns the active cache version.
func (t *Transport) CacheName() string {
	return t.cacheName
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || !t.sameOrigin(req.URL) {
		return t.base.RoundTrip(req)
	}

	strategy, rule := t.policy.Load().Decide(req)
	t.logger.Debug("intercept",
		ports.String("url", req.URL.String()),
		ports.String("strategy", strategy.String()),
		ports.String("rule", rule),
	)

	switch strategy {
	case NavigationFallback:
		return t.navigationFallback(req)
	case NetworkFirst:
		return t.networkFirst(req)
	case CacheFirst:
		return t.cacheFirst(req)
	default:
		return t.base.RoundTrip(req)
	}
}

func (t *Transport) navigationFallback(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil {
		t.observe(NavigationFallback, SourceNetwork)
		return resp, nil
	}

	for _, p := range []string{ShellPath, OfflinePath} {
		key := requestKey(http.MethodGet, t.resolve(p))
		if cached, ok := t.lookup(req.Context(), key); ok {
			t.observe(NavigationFallback, SourceShell)
			return cached.response(req, SourceShell), nil
		}
	}
	t.observe(NavigationFallback, "error")
	return nil, err
}

func (t *Transport) networkFirst(req *http.Request) (*http.Response, error) {
	key := requestKey(req.Method, req.URL.String())

	snap, err := t.fetch(req, key)
	if err == nil {
		t.observe(NetworkFirst, SourceNetwork)
		return snap.response(req, SourceNetwork), nil
	}

	if cached, ok := t.lookup(req.Context(), key); ok {
		t.observe(NetworkFirst, SourceCache)
		return cached.response(req, SourceCache), nil
	}
	if resp, ok := t.backstop(req); ok {
		t.observe(NetworkFirst, SourceCollection)
		return resp, nil
	}
	t.observe(NetworkFirst, "error")
	return nil, err
}

func (t *Transport) cacheFirst(req *http.Request) (*http.Response, error) {
	key := requestKey(req.Method, req.URL.String())

	if cached, ok := t.lookup(req.Context(), key); ok {
		t.observe(CacheFirst, SourceCache)
		return cached.response(req, SourceCache), nil
	}

	snap, err := t.fetch(req, key)
	if err == nil {
		t.observe(CacheFirst, SourceNetwork)
		return snap.response(req, SourceNetwork), nil
	}
	if resp, ok := t.backstop(req); ok {
		t.observe(CacheFirst, SourceCollection)
		return resp, nil
	}
	t.observe(CacheFirst, "error")
	return nil, err
}

// fetch performs the network round-trip, coalescing identical in-flight
// requests, and stores the response when it is an unambiguous success.
// The shared round-trip runs detached from the first caller, so a caller
// that gives up only abandons its own wait.
func (t *Transport) fetch(req *http.Request, key string) (*snapshot, error) {
	ctx := req.Context()
	ch := t.group.DoChan(flightKey(req, key), func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
		defer cancel()

		resp, err := t.base.RoundTrip(req.WithContext(fctx))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		snap := &snapshot{
			status: resp.StatusCode,
			header: resp.Header.Clone(),
			body:   body,
			complete: len(body) <= maxStoredBody &&
				(resp.ContentLength < 0 || int64(len(body)) == resp.ContentLength),
		}

		if snap.cacheable() {
			err := t.cache.PutResponse(fctx, domain.CachedResponse{
				Key:        key,
				CacheName:  t.cacheName,
				StatusCode: snap.status,
				Header:     snap.header,
				Body:       snap.body,
				StoredAt:   time.Now(),
			})
			if err != nil {
				t.logger.Warn("store response copy failed", ports.String("key", key), ports.Err(err))
			}
		}
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*snapshot), nil
	}
}

// credentialHeaders decide whose response a request receives.
var credentialHeaders = []string{"Authorization", "Cookie", "Proxy-Authorization"}

// flightKey extends the cache key with a digest of the request credentials
// so that only requests made on behalf of the same identity share a flight.
func flightKey(req *http.Request, key string) string {
	h := sha256.New()
	for _, name := range credentialHeaders {
		for _, v := range req.Header.Values(name) {
			h.Write([]byte(name))
			h.Write([]byte{0})
			h.Write([]byte(v))
			h.Write([]byte{0})
		}
	}
	return key + "#" + hex.EncodeToString(h.Sum(nil)[:8])
}

func (t *Transport) lookup(ctx context.Context, key string) (*snapshot, bool) {
	cached, err := t.cache.GetResponse(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			t.logger.Warn("read response copy failed", ports.String("key", key), ports.Err(err))
		}
		return nil, false
	}
	if cached.CacheName != t.cacheName {
		return nil, false
	}
	return &snapshot{
		status:   cached.StatusCode,
		header:   http.Header(cached.Header),
		body:     cached.Body,
		complete: true,
	}, true
}

// backstop answers /api/<collection>/<key> from the local collection cache.
func (t *Transport) backstop(req *http.Request) (*http.Response, bool) {
	if t.collections == nil {
		return nil, false
	}
	collection, key, ok := CollectionRoute(req.URL.Path)
	if !ok {
		return nil, false
	}
	entry, err := t.collections.GetCached(req.Context(), collection, key)
	if err != nil {
		return nil, false
	}
	snap := &snapshot{
		status:   http.StatusOK,
		header:   http.Header{"Content-Type": {"application/json"}},
		body:     entry.Value,
		complete: true,
	}
	return snap.response(req, SourceCollection), true
}

// Warm fetches critical resources into the cache. Every URL is attempted;
// failures are joined into the returned error.
func (t *Transport) Warm(ctx context.Context, urls []string) error {
	var errs []error
	for _, u := range urls {
		target := t.resolve(u)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			errs = append(errs, fmt.Errorf("warm %s: %w", u, err))
			continue
		}
		snap, err := t.fetch(req, requestKey(http.MethodGet, target))
		if err != nil {
			errs = append(errs, fmt.Errorf("warm %s: %w", u, err))
			continue
		}
		if !snap.cacheable() {
			errs = append(errs, fmt.Errorf("warm %s: status %d not cacheable", u, snap.status))
		}
	}
	return errors.Join(errs...)
}

// PurgeStale deletes response copies stored under another cache version.
func (t *Transport) PurgeStale(ctx context.Context) (int64, error) {
	return t.cache.PurgeStale(ctx, t.cacheName)
}

func (t *Transport) sameOrigin(u *url.URL) bool {
	if u.Host == "" {
		return true
	}
	return strings.EqualFold(u.Scheme, t.origin.Scheme) && strings.EqualFold(u.Host, t.origin.Host)
}

func (t *Transport) resolve(ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return t.origin.ResolveReference(u).String()
}

// CollectionRoute extracts collection and key from /api/<collection>/<key>.
func CollectionRoute(p string) (collection, key string, ok bool) {
	rest, found := strings.CutPrefix(p, "/api/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// requestKey identifies a request for caching purposes.
func requestKey(method, rawURL string) string {
	return method + " " + rawURL
}

// snapshot is a fully read response that can be replayed to many callers.
type snapshot struct {
	status   int
	header   http.Header
	body     []byte
	complete bool
}

// cacheable holds only for a complete 200 that is neither partial nor a
// redirect.
func (s *snapshot) cacheable() bool {
	return s.status == http.StatusOK && s.complete && s.header.Get("Content-Range") == ""
}

func (s *snapshot) response(req *http.Request, source string) *http.Response {
	header := s.header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(HeaderSource, source)
	header.Set("Content-Length", strconv.Itoa(len(s.body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", s.status, http.StatusText(s.status)),
		StatusCode:    s.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(s.body)),
		ContentLength: int64(len(s.body)),
		Request:       req,
	}
}
