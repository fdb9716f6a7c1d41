package offsync_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/offsync/pkg/offsync"
)

// delivery is one item as the remote received it.
type delivery struct {
	ID       string          `json:"id"`
	StreamID string          `json:"stream_id"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

// fakeRemote is an HTTP backend that records deliveries and deduplicates
// them by Idempotency-Key, like the real sync endpoints.
type fakeRemote struct {
	srv *httptest.Server

	mu          sync.Mutex
	down        bool
	status      int
	received    []delivery
	seen        map[string]bool
	collections map[string]string
	hits        map[string]int
}

func newFakeRemote(t *testing.T) *fakeRemote {
	t.Helper()
	r := &fakeRemote{
		seen:        make(map[string]bool),
		collections: make(map[string]string),
		hits:        make(map[string]int),
	}
	r.srv = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *fakeRemote) URL() string { return r.srv.URL }

func (r *fakeRemote) SetDown(down bool) {
	r.mu.Lock()
	r.down = down
	r.mu.Unlock()
}

// SetStatus makes every request fail with code until reset with 0.
func (r *fakeRemote) SetStatus(code int) {
	r.mu.Lock()
	r.status = code
	r.mu.Unlock()
}

func (r *fakeRemote) SetCollection(path, body string) {
	r.mu.Lock()
	r.collections[path] = body
	r.mu.Unlock()
}

func (r *fakeRemote) Received() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.received...)
}

func (r *fakeRemote) Hits(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[path]
}

func (r *fakeRemote) serve(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hits[req.URL.Path]++
	if r.down {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if r.status != 0 {
		w.WriteHeader(r.status)
		return
	}

	switch {
	case req.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)

	case req.Method == http.MethodPost && (req.URL.Path == "/api/sync-message" || req.URL.Path == "/api/analytics-sync"):
		var d delivery
		if err := json.NewDecoder(req.Body).Decode(&d); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if strings.Contains(string(d.Payload), "poison") {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		if r.seen[req.Header.Get("Idempotency-Key")] {
			w.WriteHeader(http.StatusConflict)
			return
		}
		r.seen[req.Header.Get("Idempotency-Key")] = true
		r.received = append(r.received, d)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"id":"srv-%d"}`, len(r.received))

	case req.Method == http.MethodGet:
		body, ok := r.collections[req.URL.Path]
		if !ok {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// recordingHandler collects engine events.
type recordingHandler struct {
	offsync.BaseEventHandler

	mu      sync.Mutex
	states  []offsync.StateChangeEvent
	conn    []offsync.ConnectivityEvent
	passes  []offsync.PassResult
	notices []offsync.Notice
}

func (h *recordingHandler) OnStateChange(ev offsync.StateChangeEvent) {
	h.mu.Lock()
	h.states = append(h.states, ev)
	h.mu.Unlock()
}

func (h *recordingHandler) OnConnectivityChange(ev offsync.ConnectivityEvent) {
	h.mu.Lock()
	h.conn = append(h.conn, ev)
	h.mu.Unlock()
}

func (h *recordingHandler) OnPassComplete(r offsync.PassResult) {
	h.mu.Lock()
	h.passes = append(h.passes, r)
	h.mu.Unlock()
}

func (h *recordingHandler) OnNotice(n offsync.Notice) {
	h.mu.Lock()
	h.notices = append(h.notices, n)
	h.mu.Unlock()
}

func (h *recordingHandler) Notices(kind offsync.NoticeKind) []offsync.Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []offsync.Notice
	for _, n := range h.notices {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// newEngine builds an engine against remote with a long sync interval so
// only the triggers under test start passes.
func newEngine(t *testing.T, remote *fakeRemote, dataDir string, opts ...offsync.Option) *offsync.Engine {
	t.Helper()
	cfg := offsync.Config{
		DataDir:         dataDir,
		RemoteURL:       remote.URL(),
		SyncInterval:    time.Hour,
		DeliveryTimeout: 2 * time.Second,
		HTTPTimeout:     2 * time.Second,
	}
	e, err := offsync.New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

const waitFor = 2 * time.Second
const tick = 10 * time.Millisecond
