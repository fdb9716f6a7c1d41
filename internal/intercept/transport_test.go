package intercept

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/offsync/internal/adapters/memory"
	"github.com/bft-labs/offsync/internal/domain"
	"github.com/bft-labs/offsync/pkg/log"
)

// switchable fails every round-trip while offline is set.
type switchable struct {
	base    http.RoundTripper
	offline atomic.Bool
}

func (s *switchable) RoundTrip(r *http.Request) (*http.Response, error) {
	if s.offline.Load() {
		return nil, errors.New("network unreachable")
	}
	return s.base.RoundTrip(r)
}

type fixture struct {
	server *httptest.Server
	net    *switchable
	store  *memory.Store
	tr     *Transport
	client *http.Client
	hits   sync.Map // path -> *atomic.Int32
}

func newFixture(t *testing.T, handler http.HandlerFunc) *fixture {
	t.Helper()
	f := &fixture{store: memory.New()}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := f.hits.LoadOrStore(r.URL.Path, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)
		handler(w, r)
	}))
	t.Cleanup(f.server.Close)

	f.net = &switchable{base: f.server.Client().Transport}
	tr, err := NewTransport(Config{
		Origin:      f.server.URL,
		Base:        f.net,
		Cache:       f.store,
		Collections: f.store,
		Logger:      log.NewNoopLogger(),
	})
	require.NoError(t, err)
	f.tr = tr
	f.client = &http.Client{Transport: tr}
	return f
}

func (f *fixture) hitCount(path string) int32 {
	n, ok := f.hits.Load(path)
	if !ok {
		return 0
	}
	return n.(*atomic.Int32).Load()
}

func (f *fixture) get(t *testing.T, path string, header http.Header) (*http.Response, string, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body), nil
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("body:" + r.URL.Path))
}

func TestNetworkFirst_StoresAndFallsBack(t *testing.T) {
	f := newFixture(t, okHandler)

	resp, body, err := f.get(t, "/api/messages", nil)
	require.NoError(t, err)
	assert.Equal(t, SourceNetwork, resp.Header.Get(HeaderSource))
	assert.Equal(t, "body:/api/messages", body)

	f.net.offline.Store(true)
	resp, body, err = f.get(t, "/api/messages", nil)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, resp.Header.Get(HeaderSource))
	assert.Equal(t, "body:/api/messages", body)

	_, _, err = f.get(t, "/api/never-seen", nil)
	assert.Error(t, err, "miss on both sides propagates the network error")
}

func TestNetworkFirst_OnlyCachesUnambiguousSuccess(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/partial":
			w.Header().Set("Content-Range", "bytes 0-3/10")
			w.WriteHeader(http.StatusPartialContent)
			w.Write([]byte("part"))
		case "/api/redirect":
			w.Header().Set("Location", "/api/elsewhere")
			w.WriteHeader(http.StatusFound)
		case "/api/error":
			w.WriteHeader(http.StatusInternalServerError)
		}
	})
	f.client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }

	for _, p := range []string{"/api/partial", "/api/redirect", "/api/error"} {
		_, _, err := f.get(t, p, nil)
		require.NoError(t, err)
	}

	ctx := context.Background()
	for _, p := range []string{"/api/partial", "/api/redirect", "/api/error"} {
		_, err := f.store.GetResponse(ctx, requestKey(http.MethodGet, f.server.URL+p))
		assert.ErrorIs(t, err, domain.ErrNotFound, p)
	}
}

func TestCacheFirst_HitSkipsNetwork(t *testing.T) {
	f := newFixture(t, okHandler)

	_, body, err := f.get(t, "/app.js", nil)
	require.NoError(t, err)
	assert.Equal(t, "body:/app.js", body)

	resp, body, err := f.get(t, "/app.js", nil)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, resp.Header.Get(HeaderSource))
	assert.Equal(t, "body:/app.js", body)
	assert.EqualValues(t, 1, f.hitCount("/app.js"))
}

func TestNavigationFallback(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>" + r.URL.Path + "</html>"))
	})
	nav := http.Header{"Sec-Fetch-Mode": {"navigate"}}

	f.net.offline.Store(true)
	_, _, err := f.get(t, "/inbox", nav)
	assert.Error(t, err, "no shell cached yet")

	f.net.offline.Store(false)
	require.NoError(t, f.tr.Warm(context.Background(), []string{OfflinePath}))

	f.net.offline.Store(true)
	_, body, err := f.get(t, "/inbox", nav)
	require.NoError(t, err)
	assert.Equal(t, "<html>/offline.html</html>", body, "offline page when root is not cached")

	f.net.offline.Store(false)
	require.NoError(t, f.tr.Warm(context.Background(), []string{ShellPath}))

	f.net.offline.Store(true)
	resp, body, err := f.get(t, "/inbox", nav)
	require.NoError(t, err)
	assert.Equal(t, SourceShell, resp.Header.Get(HeaderSource))
	assert.Equal(t, "<html>/</html>", body)

	f.net.offline.Store(false)
	_, body, err = f.get(t, "/inbox", nav)
	require.NoError(t, err)
	assert.Equal(t, "<html>/inbox</html>", body, "online navigation goes to the network")
}

func TestPassthrough_NonGetAndCrossOrigin(t *testing.T) {
	f := newFixture(t, okHandler)

	other := httptest.NewServer(http.HandlerFunc(okHandler))
	defer other.Close()

	resp, err := f.client.Post(f.server.URL+"/api/sync-message", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get(HeaderSource))

	resp, err = f.client.Get(other.URL + "/api/x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get(HeaderSource))

	_, err = f.store.GetResponse(context.Background(), requestKey(http.MethodGet, other.URL+"/api/x"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBackstop_CollectionCache(t *testing.T) {
	f := newFixture(t, okHandler)
	require.NoError(t, f.store.PutCached(context.Background(), domain.CachedEntry{
		Collection: "conversations", Key: "c1", Value: json.RawMessage(`{"title":"hello"}`),
	}))

	f.net.offline.Store(true)
	resp, body, err := f.get(t, "/api/conversations/c1", nil)
	require.NoError(t, err)
	assert.Equal(t, SourceCollection, resp.Header.Get(HeaderSource))
	assert.JSONEq(t, `{"title":"hello"}`, body)
}

func TestFetch_CoalescesInFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.Write([]byte("shared"))
	})

	const n = 5
	var wg sync.WaitGroup
	bodies := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, body, err := f.get(t, "/api/feed", nil)
			assert.NoError(t, err)
			bodies[i] = body
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, b := range bodies {
		assert.Equal(t, "shared", b)
	}
	assert.EqualValues(t, 1, f.hitCount("/api/feed"))
}

func TestFetch_SeparatesCredentials(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.Write([]byte("for:" + r.Header.Get("Authorization")))
	})

	users := []string{"Bearer alice", "Bearer bob"}
	var wg sync.WaitGroup
	bodies := make([]string, len(users))
	for i, auth := range users {
		wg.Add(1)
		go func(i int, auth string) {
			defer wg.Done()
			_, body, err := f.get(t, "/api/feed", http.Header{"Authorization": {auth}})
			assert.NoError(t, err)
			bodies[i] = body
		}(i, auth)
	}

	for range users {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			close(release)
			t.Fatal("requests with different credentials were merged")
		}
	}
	close(release)
	wg.Wait()

	assert.Equal(t, "for:Bearer alice", bodies[0])
	assert.Equal(t, "for:Bearer bob", bodies[1])
	assert.EqualValues(t, 2, f.hitCount("/api/feed"))
}

func TestFetch_CanceledCallerDoesNotFailOthers(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 10)
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.Write([]byte("shared"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.server.URL+"/api/feed", nil)
		if err != nil {
			first <- err
			return
		}
		resp, err := f.client.Do(req)
		if err == nil {
			resp.Body.Close()
		}
		first <- err
	}()
	<-started

	second := make(chan string, 1)
	go func() {
		_, body, err := f.get(t, "/api/feed", nil)
		assert.NoError(t, err)
		second <- body
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.Error(t, <-first)

	close(release)
	select {
	case body := <-second:
		assert.Equal(t, "shared", body)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting caller never answered")
	}
	assert.EqualValues(t, 1, f.hitCount("/api/feed"))
}

func TestFlightKey(t *testing.T) {
	req := func(header http.Header) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/api/feed", nil)
		for k, v := range header {
			r.Header[k] = v
		}
		return r
	}

	anon := flightKey(req(nil), "k")
	alice := flightKey(req(http.Header{"Authorization": {"Bearer alice"}}), "k")
	cookie := flightKey(req(http.Header{"Cookie": {"session=alice"}}), "k")

	assert.NotEqual(t, anon, alice)
	assert.NotEqual(t, alice, cookie)
	assert.Equal(t, alice, flightKey(req(http.Header{"Authorization": {"Bearer alice"}}), "k"))
	assert.Equal(t, anon, flightKey(req(http.Header{"Accept": {"text/html"}}), "k"))
}

func TestPurgeStale(t *testing.T) {
	f := newFixture(t, okHandler)
	ctx := context.Background()
	require.NoError(t, f.store.PutResponse(ctx, domain.CachedResponse{Key: "GET old", CacheName: "offsync-v0"}))
	_, _, err := f.get(t, "/app.css", nil)
	require.NoError(t, err)

	n, err := f.tr.PurgeStale(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = f.store.GetResponse(ctx, requestKey(http.MethodGet, f.server.URL+"/app.css"))
	assert.NoError(t, err)
}

func TestProxy_ServesCachedCopyOffline(t *testing.T) {
	f := newFixture(t, okHandler)
	target, err := url.Parse(f.server.URL)
	require.NoError(t, err)

	proxy := httptest.NewServer(NewProxy(target, f.tr, log.NewNoopLogger()))
	defer proxy.Close()

	get := func() (*http.Response, string) {
		resp, err := http.Get(proxy.URL + "/api/profile")
		require.NoError(t, err)
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return resp, string(b)
	}

	_, body := get()
	assert.Equal(t, "body:/api/profile", body)

	f.net.offline.Store(true)
	resp, body := get()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body:/api/profile", body)

	resp, err = http.Get(proxy.URL + "/api/unknown")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestNewTransport_Validation(t *testing.T) {
	_, err := NewTransport(Config{Origin: "not a url", Cache: memory.New()})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewTransport(Config{Origin: "https://app.test"})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestWarm_PrecachesResources(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.js" {
			http.NotFound(w, r)
			return
		}
		okHandler(w, r)
	})

	err := f.tr.Warm(context.Background(), []string{"/app.js", "/missing.js"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/missing.js")
	assert.Equal(t, int32(1), f.hitCount("/app.js"))

	f.net.offline.Store(true)
	resp, body, err := f.get(t, "/app.js", nil)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, resp.Header.Get(HeaderSource))
	assert.Equal(t, "body:/app.js", body)
	assert.Equal(t, int32(1), f.hitCount("/app.js"))
}
