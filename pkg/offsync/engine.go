package offsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	httpAdapter "github.com/bft-labs/offsync/internal/adapters/http"
	"github.com/bft-labs/offsync/internal/adapters/sqlite"
	"github.com/bft-labs/offsync/internal/app"
	"github.com/bft-labs/offsync/internal/domain"
	"github.com/bft-labs/offsync/internal/intercept"
	"github.com/bft-labs/offsync/internal/metrics"
	"github.com/bft-labs/offsync/internal/netstatus"
	"github.com/bft-labs/offsync/internal/ports"
)

// Engine is an offline-first sync engine that can be embedded in other
// applications. Use New() to create an instance, then Start() to begin
// reconciling.
//
// Enqueue, LoadCached and the other store operations work in every state;
// the reconciler only runs between Start and Stop.
type Engine struct {
	config    Config
	opts      options
	lifecycle *app.Lifecycle
	logger    ports.Logger
	emitter   *emitter
	store     *degradingStore
	monitor   *netstatus.Monitor
	deliverer *httpAdapter.Deliverer
	transport *intercept.Transport
	client    *http.Client
	prune     *pruneRunner
	plugins   []Plugin

	mu         sync.RWMutex
	reconciler *app.Reconciler
	cancel     context.CancelFunc

	now func() time.Time
}

// New creates a new Engine with the given configuration.
// The instance is created in StateStopped; call Start() to begin syncing.
// Returns an error if configuration is invalid.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := validateModuleVersions(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	o := defaultOptions(httpClient)
	for _, opt := range opts {
		opt(&o)
	}

	if o.metrics {
		metrics.Register()
	}

	logger := o.logger
	em := &emitter{handler: o.eventHandler, logger: logger}

	e := &Engine{
		config:  cfg,
		opts:    o,
		logger:  logger,
		emitter: em,
		plugins: o.plugins,
		now:     time.Now,
	}

	e.store = newDegradingStore(nil, e.storageFailed)
	if cfg.DataDir != "" {
		primary, err := sqlite.Open(filepath.Join(cfg.DataDir, DatabaseFile))
		if err != nil {
			e.storageFailed(err)
		} else {
			e.store = newDegradingStore(primary, e.storageFailed)
		}
	}
	em.stats = e.store.Stats

	e.lifecycle = app.NewLifecycle(logger, em)

	prober := httpAdapter.NewProber(o.httpClient, cfg.ProbeURL)
	e.monitor = netstatus.NewMonitor(o.initialOnline, prober, logger)
	metrics.SetBool(metrics.Online, o.initialOnline)

	e.deliverer = httpAdapter.NewDeliverer(o.httpClient, httpAdapter.DelivererConfig{
		BaseURL:   cfg.RemoteURL,
		AuthKey:   cfg.AuthKey,
		Endpoints: cfg.Endpoints,
	}, logger)

	policy := intercept.DefaultPolicy()
	if o.policyFile != "" {
		p, err := intercept.LoadPolicyFile(o.policyFile)
		if err != nil {
			e.store.Close()
			return nil, err
		}
		policy = p
	}

	transport, err := intercept.NewTransport(intercept.Config{
		Origin:      cfg.RemoteURL,
		CacheName:   cfg.CacheName,
		Base:        baseTransport(o),
		Cache:       e.store,
		Collections: e.store,
		Policy:      policy,
		Observe: func(s intercept.Strategy, source string) {
			metrics.Intercepted.WithLabelValues(s.String(), source).Inc()
		},
		Logger: logger,
	})
	if err != nil {
		e.store.Close()
		return nil, err
	}
	e.transport = transport
	e.client = &http.Client{Transport: transport, Timeout: cfg.HTTPTimeout}

	if o.pruneConfig.Enabled {
		e.prune = newPruneRunner(o.pruneConfig, e.store, logger)
	}

	return e, nil
}

// baseTransport picks the round-tripper the interception layer uses for
// network access.
func baseTransport(o options) http.RoundTripper {
	if o.baseTransport != nil {
		return o.baseTransport
	}
	if c, ok := o.httpClient.(*http.Client); ok && c.Transport != nil {
		return c.Transport
	}
	return http.DefaultTransport
}

// Start begins reconciliation in the background.
// Returns immediately after starting the worker goroutines.
// Returns an error if already running or if a plugin fails to initialize.
// The provided context is used for the lifetime of the engine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}

	if err := e.lifecycle.TransitionTo(app.StateStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.lifecycle.SetCancel(cancel)

	pluginCfg := PluginConfig{
		DataDir:      e.config.DataDir,
		RemoteURL:    e.config.RemoteURL,
		PolicyFile:   e.opts.policyFile,
		Logger:       e.logger,
		ReloadPolicy: e.ReloadPolicy,
	}
	for _, p := range e.plugins {
		if err := e.initPlugin(runCtx, p, pluginCfg); err != nil {
			e.logger.Error("plugin initialization failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
			cancel()
			_ = e.lifecycle.TransitionTo(app.StateCrashed, "plugin init failed: "+p.Name())
			return err
		}
		e.logger.Info("plugin initialized", ports.String("plugin", p.Name()))
	}

	if n, err := e.transport.PurgeStale(runCtx); err != nil {
		e.logger.Warn("failed to purge stale responses", ports.Err(err))
	} else if n > 0 {
		e.logger.Info("purged stale responses",
			ports.Int64("count", n),
			ports.String("cache", e.transport.CacheName()),
		)
	}

	if e.prune != nil {
		e.prune.start(runCtx)
	}

	reconciler := app.NewReconciler(app.ReconcilerConfig{
		Interval:        e.config.SyncInterval,
		DeliveryTimeout: e.config.DeliveryTimeout,
		PoisonThreshold: e.config.PoisonThreshold,
		BackoffMax:      e.config.BackoffMax,
	}, e.store, e.deliverer, e.monitor.IsOnline, e.logger, e.emitter)
	e.reconciler = reconciler

	// Subscribe before any worker runs so no transition is missed.
	transitions, unsubReconciler := e.monitor.Subscribe()
	notices, unsubNotices := e.monitor.Subscribe()

	e.lifecycle.Go("reconciler", func() error {
		defer unsubReconciler()
		return reconciler.Run(runCtx, transitions)
	})

	e.lifecycle.Go("connectivity", func() error {
		defer unsubNotices()
		for {
			select {
			case <-runCtx.Done():
				return runCtx.Err()
			case ev, ok := <-notices:
				if !ok {
					return nil
				}
				e.emitter.connectivity(ev)
			}
		}
	})

	if src := e.signalSource(); src != nil {
		e.lifecycle.Go("signals", func() error {
			return src.Run(runCtx, e.monitor)
		})
	}

	if len(e.opts.precache) > 0 {
		e.lifecycle.Go("precache", func() error {
			if !e.monitor.IsOnline() {
				return nil
			}
			if err := e.transport.Warm(runCtx, e.opts.precache); err != nil {
				e.logger.Warn("precache incomplete", ports.Err(err))
			}
			return nil
		})
	}

	return e.lifecycle.TransitionTo(app.StateRunning, "workers started")
}

func (e *Engine) signalSource() SignalSource {
	if e.opts.signalSource != nil {
		return e.opts.signalSource
	}
	if e.config.ProbeInterval > 0 {
		return netstatus.ProbeSource{Interval: e.config.ProbeInterval}
	}
	return nil
}

// Stop gracefully shuts down the engine. A running pass finishes the item it
// is delivering and leaves the rest queued for the next start.
// Waits up to 30 seconds before forcing shutdown.
// Returns nil on graceful shutdown, ErrShutdownTimeout if forced.
func (e *Engine) Stop() error {
	e.mu.Lock()

	if !e.lifecycle.CanStop() {
		e.mu.Unlock()
		return domain.ErrNotRunning
	}

	if err := e.lifecycle.TransitionTo(app.StateStopping, "Stop() called"); err != nil {
		e.mu.Unlock()
		return err
	}

	if e.cancel != nil {
		e.cancel()
	}
	reconciler := e.reconciler
	e.reconciler = nil

	e.mu.Unlock()

	// Run cancels on ctx; shut down explicitly in case it never got there.
	if reconciler != nil {
		reconciler.Shutdown()
	}

	err := e.lifecycle.WaitWithTimeout(app.ShutdownTimeout)

	if e.prune != nil {
		e.prune.stop()
	}

	// Shutdown plugins (in reverse order)
	shutdownCtx := context.Background()
	for i := len(e.plugins) - 1; i >= 0; i-- {
		p := e.plugins[i]
		if shutdownErr := e.shutdownPlugin(shutdownCtx, p); shutdownErr != nil {
			e.logger.Error("plugin shutdown failed",
				ports.String("plugin", p.Name()),
				ports.Err(shutdownErr))
		} else {
			e.logger.Info("plugin shutdown complete", ports.String("plugin", p.Name()))
		}
	}

	if err != nil {
		_ = e.lifecycle.TransitionTo(app.StateCrashed, "shutdown timeout")
	} else {
		_ = e.lifecycle.TransitionTo(app.StateStopped, "graceful shutdown")
	}

	return err
}

func (e *Engine) initPlugin(ctx context.Context, p Plugin, cfg PluginConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin %s panicked: %v", p.Name(), r)
		}
	}()
	return p.Initialize(ctx, cfg)
}

func (e *Engine) shutdownPlugin(ctx context.Context, p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.Shutdown(ctx)
}

// Close stops the engine if it is running and releases the store.
// The engine cannot be used afterwards.
func (e *Engine) Close() error {
	var stopErr error
	if e.lifecycle.CanStop() {
		stopErr = e.Stop()
	}
	e.monitor.Close()
	return errors.Join(stopErr, e.store.Close())
}

// Status returns the current lifecycle state.
// Safe to call concurrently from any goroutine.
func (e *Engine) Status() State {
	return State(e.lifecycle.State())
}

// Degraded reports whether the durable store failed and data is held in
// memory only.
func (e *Engine) Degraded() bool {
	return e.store.Degraded()
}

func (e *Engine) storageFailed(err error) {
	metrics.SetBool(metrics.StorageDegraded, true)
	e.logger.Error("durable storage unavailable, using memory", ports.Err(err))
	e.emitter.notice(Notice{
		Kind:    NoticeStorageDegraded,
		Title:   "Offline storage unavailable",
		Message: "Changes are kept in memory and will be lost if the app closes before they sync.",
		Err:     err,
	})
}

func (e *Engine) running() *app.Reconciler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lifecycle.State() != app.StateRunning {
		return nil
	}
	return e.reconciler
}

// IsOnline reports the current connectivity state.
func (e *Engine) IsOnline() bool {
	return e.monitor.IsOnline()
}

// SetOnline records a platform connectivity signal. Returns true when it
// changed the state.
func (e *Engine) SetOnline(online bool, reason string) bool {
	return e.monitor.Set(online, reason)
}

// Probe checks reachability now and corrects the connectivity state.
func (e *Engine) Probe(ctx context.Context) bool {
	return e.monitor.Probe(ctx)
}

// Subscribe returns connectivity transitions in order. Call the returned
// function to unsubscribe.
func (e *Engine) Subscribe() (<-chan ConnectivityEvent, func()) {
	return e.monitor.Subscribe()
}

// Enqueue durably records an outbound item and returns its id. A pass is
// started in the background when the engine is running and online.
//
// payload may be a json.RawMessage, a []byte holding JSON, or any value
// encoding/json can marshal. Loss of durable storage is reported through
// OnNotice and the id is still returned; invalid input and transient errors
// such as a canceled ctx are returned.
func (e *Engine) Enqueue(ctx context.Context, kind, streamID string, payload any) (string, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return "", err
	}
	if _, ok := e.deliverer.Endpoint(kind); !ok {
		return "", fmt.Errorf("%w: no endpoint for kind %q", domain.ErrInvalidItem, kind)
	}

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	item, err := domain.NewQueuedItem(id.String(), kind, streamID, raw, e.now())
	if err != nil {
		return "", err
	}

	if _, err := e.store.PutItem(ctx, item); err != nil {
		// Unavailable storage has already failed over to memory, so what
		// reaches here is transient (cancellation, lock contention) and
		// the item was not recorded anywhere.
		e.logger.Error("failed to persist item",
			ports.String("id", item.ID),
			ports.Err(err),
		)
		return "", fmt.Errorf("persist item: %w", err)
	}
	metrics.Enqueued.WithLabelValues(kind).Inc()

	if r := e.running(); r != nil && e.monitor.IsOnline() {
		r.Trigger("enqueue")
	}
	return item.ID, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	case nil:
		return nil, fmt.Errorf("%w: payload is required", domain.ErrInvalidItem)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode payload: %w", domain.ErrInvalidItem, err)
	}
	return raw, nil
}

// ForceResync runs a pass now, regardless of connectivity and backoff, and
// returns its result. A caller arriving while a pass runs waits for that
// pass instead. Returns ErrNotRunning unless the engine is running.
func (e *Engine) ForceResync(ctx context.Context) (PassResult, error) {
	r := e.running()
	if r == nil {
		return PassResult{}, domain.ErrNotRunning
	}
	return r.RunPass(ctx, "force")
}

// Items returns every queued item, delivered ones included, in creation order.
func (e *Engine) Items(ctx context.Context) ([]domain.QueuedItem, error) {
	return e.store.ListItems(ctx)
}

// Item returns one queued item.
func (e *Engine) Item(ctx context.Context, id string) (domain.QueuedItem, error) {
	return e.store.GetItem(ctx, id)
}

// Pending returns undelivered items that will be attempted by the next pass.
func (e *Engine) Pending(ctx context.Context) ([]domain.QueuedItem, error) {
	return e.store.ListItemsWhere(ctx, domain.DeliveredIs(false), domain.QuarantinedIs(false))
}

// Quarantined returns items set aside after repeated rejections.
func (e *Engine) Quarantined(ctx context.Context) ([]domain.QueuedItem, error) {
	return e.store.ListItemsWhere(ctx, domain.QuarantinedIs(true))
}

// Discard deletes a quarantined item. Items that are still eligible for
// delivery are refused with ErrRetained.
func (e *Engine) Discard(ctx context.Context, id string) error {
	return e.store.Discard(ctx, id)
}

// Stats returns queue and cache counters.
func (e *Engine) Stats(ctx context.Context) (domain.Stats, error) {
	return e.store.Stats(ctx)
}

// Prune deletes delivered items older than the configured retention.
func (e *Engine) Prune(ctx context.Context) (int64, error) {
	cfg := e.opts.pruneConfig
	if cfg.Retention <= 0 {
		cfg = DefaultPruneConfig()
	}
	return newPruneRunner(cfg, e.store, e.logger).pruneOnce(ctx)
}

// LoadCached returns the last stored snapshot of a collection entry. It
// never touches the network and works in every connectivity state.
func (e *Engine) LoadCached(ctx context.Context, collection, key string) (domain.CachedEntry, bool) {
	entry, err := e.store.GetCached(ctx, collection, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			e.logger.Warn("failed to load cached entry",
				ports.String("collection", collection),
				ports.String("key", key),
				ports.Err(err),
			)
		}
		return domain.CachedEntry{}, false
	}
	return entry, true
}

// ListCached returns every snapshot stored for a collection, ordered by key.
func (e *Engine) ListCached(ctx context.Context, collection string) ([]domain.CachedEntry, error) {
	if collection == "" {
		return nil, fmt.Errorf("%w: empty collection", domain.ErrInvalidItem)
	}
	return e.store.ListCached(ctx, collection)
}

// EvictCached removes one snapshot. Evicting a missing entry is not an error.
func (e *Engine) EvictCached(ctx context.Context, collection, key string) error {
	if collection == "" || key == "" {
		return fmt.Errorf("%w: empty collection or key", domain.ErrInvalidItem)
	}
	return e.store.DeleteCached(ctx, collection, key)
}

// SaveCached overwrites the snapshot of a collection entry. value follows
// the same rules as the Enqueue payload.
func (e *Engine) SaveCached(ctx context.Context, collection, key string, value any) error {
	raw, err := encodePayload(value)
	if err != nil {
		return err
	}
	if !json.Valid(raw) {
		return fmt.Errorf("%w: value is not valid JSON", domain.ErrInvalidItem)
	}
	return e.store.PutCached(ctx, domain.CachedEntry{
		Collection: collection,
		Key:        key,
		Value:      raw,
		UpdatedAt:  e.now(),
	})
}

// Fetch reads /api/<collection>/<key> from the remote and refreshes the
// local snapshot. Offline, or when the request fails, the local snapshot is
// returned instead; ErrNotFound means neither had the entry.
func (e *Engine) Fetch(ctx context.Context, collection, key string) (domain.CachedEntry, error) {
	if e.monitor.IsOnline() {
		entry, err := e.fetchRemote(ctx, collection, key)
		if err == nil {
			return entry, nil
		}
		e.logger.Debug("fetch fell back to local snapshot",
			ports.String("collection", collection),
			ports.String("key", key),
			ports.Err(err),
		)
	}

	entry, ok := e.LoadCached(ctx, collection, key)
	if !ok {
		return domain.CachedEntry{}, fmt.Errorf("fetch %s/%s: %w", collection, key, domain.ErrNotFound)
	}
	return entry, nil
}

func (e *Engine) fetchRemote(ctx context.Context, collection, key string) (domain.CachedEntry, error) {
	target := e.config.RemoteURL + "/api/" + url.PathEscape(collection) + "/" + url.PathEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.CachedEntry{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return domain.CachedEntry{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.CachedEntry{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return domain.CachedEntry{}, fmt.Errorf("status %d", resp.StatusCode)
	}
	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return domain.CachedEntry{}, fmt.Errorf("%w: response is not JSON", domain.ErrMalformedPayload)
	}

	entry := domain.CachedEntry{
		Collection: collection,
		Key:        key,
		Value:      json.RawMessage(body),
		UpdatedAt:  e.now(),
	}
	// Only fresh network answers replace the snapshot.
	if src := resp.Header.Get(intercept.HeaderSource); src != "" && src != intercept.SourceNetwork {
		return entry, nil
	}
	if err := e.store.PutCached(ctx, entry); err != nil {
		e.logger.Warn("failed to store snapshot", ports.Err(err))
	}
	return entry, nil
}

// PutPreference stores a small JSON-encodable setting.
func (e *Engine) PutPreference(ctx context.Context, key string, value any) error {
	raw, err := encodePayload(value)
	if err != nil {
		return err
	}
	return e.store.PutPreference(ctx, key, raw)
}

// GetPreference returns the raw JSON stored under key, or ErrNotFound.
func (e *Engine) GetPreference(ctx context.Context, key string) (json.RawMessage, error) {
	return e.store.GetPreference(ctx, key)
}

// Client returns an HTTP client whose requests go through the interception
// layer.
func (e *Engine) Client() *http.Client {
	return e.client
}

// Handler returns a reverse proxy to the remote that answers through the
// interception layer.
func (e *Engine) Handler() http.Handler {
	target, _ := url.Parse(e.config.RemoteURL)
	return intercept.NewProxy(target, e.transport, e.logger)
}

// Warm fetches resources into the response cache.
func (e *Engine) Warm(ctx context.Context, urls ...string) error {
	return e.transport.Warm(ctx, urls)
}

// ReloadPolicy reads an interception policy file and swaps it in. Requests
// already in flight keep the previous policy.
func (e *Engine) ReloadPolicy(path string) error {
	p, err := intercept.LoadPolicyFile(path)
	if err != nil {
		return err
	}
	e.transport.SetPolicy(p)
	e.logger.Info("interception policy reloaded", ports.String("path", path))
	return nil
}
