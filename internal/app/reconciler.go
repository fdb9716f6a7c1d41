package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/offsync/internal/domain"
	"github.com/bft-labs/offsync/internal/netstatus"
	"github.com/bft-labs/offsync/internal/ports"
)

// Default reconciler configuration values.
const (
	DefaultSyncInterval    = 30 * time.Second
	DefaultDeliveryTimeout = 15 * time.Second
	DefaultPoisonThreshold = 3
)

// ReconcilerConfig contains configuration for the reconciler loop.
type ReconcilerConfig struct {
	// Interval between automatic passes while online.
	Interval time.Duration

	// DeliveryTimeout bounds each item's delivery attempt.
	DeliveryTimeout time.Duration

	// PoisonThreshold is the number of consecutive rejections after which an
	// item is quarantined. Zero or less disables quarantine.
	PoisonThreshold int

	// BackoffInitial and BackoffMax bound the pause applied to automatic
	// passes after the remote proved unreachable.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c *ReconcilerConfig) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultSyncInterval
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = DefaultDeliveryTimeout
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = c.Interval
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
}

// Outcome is the result of one delivery attempt.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeFailed
	OutcomeRejected
	OutcomeQuarantined
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeFailed:
		return "failed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeQuarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

// ItemOutcome records what happened to one item in a pass.
type ItemOutcome struct {
	ID       string
	StreamID string
	Kind     string
	Outcome  Outcome
	RemoteID string
	Err      error
	Duration time.Duration
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Trigger     string
	StartedAt   time.Time
	Duration    time.Duration
	Attempted   int
	Delivered   int
	Failed      int
	Rejected    int
	Quarantined int
	Items       []ItemOutcome

	// Err is domain.ErrSystemicUnreachable when every attempted item failed
	// for connectivity reasons, or wraps domain.ErrStorageUnavailable when
	// the queue could not be read. It is advisory.
	Err error
}

// Systemic reports whether the pass found the remote unreachable.
func (r PassResult) Systemic() bool {
	return errors.Is(r.Err, domain.ErrSystemicUnreachable)
}

// PassObserver is notified of item outcomes and pass completion.
type PassObserver interface {
	OnItemOutcome(outcome ItemOutcome)
	OnPassComplete(result PassResult)
}

// inflight is a running pass that late callers can wait on.
type inflight struct {
	done   chan struct{}
	result PassResult
}

// Reconciler drains the queue of undelivered items into the remote. Passes
// never overlap: triggers during a pass are dropped and explicit resync
// requests join the running pass.
type Reconciler struct {
	config    ReconcilerConfig
	store     ports.ItemStore
	deliverer ports.Deliverer
	online    func() bool
	logger    ports.Logger
	observer  PassObserver

	mu          sync.Mutex
	current     *inflight
	backoff     *backoff
	nextAllowed time.Time
	stopping    bool
	wg          sync.WaitGroup

	// stop is closed when the owner shuts down; passes stop between items.
	stop     chan struct{}
	stopOnce sync.Once

	now func() time.Time
}

// NewReconciler creates a reconciler with the given dependencies.
// online reports the current connectivity; observer may be nil.
func NewReconciler(
	config ReconcilerConfig,
	store ports.ItemStore,
	deliverer ports.Deliverer,
	online func() bool,
	logger ports.Logger,
	observer PassObserver,
) *Reconciler {
	config.applyDefaults()
	return &Reconciler{
		config:    config,
		store:     store,
		deliverer: deliverer,
		online:    online,
		logger:    logger,
		observer:  observer,
		backoff:   newBackoff(config.BackoffInitial, config.BackoffMax),
		stop:      make(chan struct{}),
		now:       time.Now,
	}
}

// Run executes the trigger loop: a pass on every BecameOnline transition and
// on each interval tick while online. Returns when ctx is canceled, after
// the running pass (if any) finishes its current item.
func (r *Reconciler) Run(ctx context.Context, transitions <-chan netstatus.Event) error {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	if r.online() {
		r.Trigger("startup")
	}

	for {
		select {
		case <-ctx.Done():
			r.Shutdown()
			return ctx.Err()

		case ev, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			if ev.Transition == netstatus.BecameOnline {
				r.mu.Lock()
				r.backoff.Reset()
				r.nextAllowed = time.Time{}
				r.mu.Unlock()
				r.start("online")
			}

		case <-ticker.C:
			if r.online() {
				r.Trigger("interval")
			}
		}
	}
}

// Trigger starts a pass in the background unless one is running or the
// reconciler is backing off after a systemic failure. It never blocks.
func (r *Reconciler) Trigger(reason string) bool {
	r.mu.Lock()
	wait := r.nextAllowed.Sub(r.now())
	r.mu.Unlock()
	if wait > 0 {
		r.logger.Debug("pass suppressed by backoff",
			ports.String("trigger", reason),
			ports.Duration("remaining", wait),
		)
		return false
	}
	return r.start(reason)
}

// start launches a pass unless one is already running.
func (r *Reconciler) start(reason string) bool {
	_, started := r.begin(reason)
	return started
}

// RunPass runs a pass and waits for it. If a pass is already running the
// caller joins it and receives its result. ctx only bounds the wait.
func (r *Reconciler) RunPass(ctx context.Context, reason string) (PassResult, error) {
	p, _ := r.begin(reason)
	if p == nil {
		return PassResult{}, domain.ErrNotRunning
	}
	select {
	case <-p.done:
		return p.result, nil
	case <-ctx.Done():
		return PassResult{}, ctx.Err()
	}
}

// begin returns the running pass, starting one if none is active.
func (r *Reconciler) begin(reason string) (*inflight, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopping {
		return nil, false
	}
	if r.current != nil {
		return r.current, false
	}

	p := &inflight{done: make(chan struct{})}
	r.current = p
	store := r.store
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		result := r.pass(store, reason)

		r.mu.Lock()
		if result.Systemic() {
			r.nextAllowed = r.now().Add(r.backoff.Next())
		} else if result.Attempted > 0 {
			r.backoff.Reset()
			r.nextAllowed = time.Time{}
		}
		p.result = result
		r.current = nil
		r.mu.Unlock()

		// Observers run before waiters are released so a resync caller sees
		// every side effect of its pass.
		if r.observer != nil {
			r.observer.OnPassComplete(result)
		}
		close(p.done)
	}()
	return p, true
}

// Shutdown stops accepting triggers and waits for the running pass. The
// running pass finishes the item it is delivering and skips the rest.
func (r *Reconciler) Shutdown() {
	r.mu.Lock()
	r.stopping = true
	r.mu.Unlock()
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

func (r *Reconciler) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// pass drains every pending item once.
func (r *Reconciler) pass(store ports.ItemStore, reason string) PassResult {
	result := PassResult{Trigger: reason, StartedAt: r.now()}
	defer func() { result.Duration = r.now().Sub(result.StartedAt) }()

	// A pass is never canceled mid-item; each attempt gets its own deadline.
	base := context.Background()

	items, err := store.ListItemsWhere(base, domain.DeliveredIs(false), domain.QuarantinedIs(false))
	if err != nil {
		r.logger.Error("failed to load pending items", ports.Err(err))
		result.Err = err
		return result
	}
	if len(items) == 0 {
		return result
	}

	r.logger.Debug("pass started",
		ports.String("trigger", reason),
		ports.Int("pending", len(items)),
	)

	for _, s := range groupByStream(items) {
		for _, item := range s.items {
			if r.stopped() {
				r.logger.Info("pass interrupted by shutdown", ports.Int("attempted", result.Attempted))
				return r.finish(result)
			}

			out, attempted := r.attempt(base, store, item)
			if !attempted {
				continue
			}
			result.Attempted++
			result.Items = append(result.Items, out)
			switch out.Outcome {
			case OutcomeDelivered:
				result.Delivered++
			case OutcomeFailed:
				result.Failed++
			case OutcomeRejected:
				result.Rejected++
			case OutcomeQuarantined:
				result.Rejected++
				result.Quarantined++
			}
			if r.observer != nil {
				r.observer.OnItemOutcome(out)
			}
		}
	}
	return r.finish(result)
}

func (r *Reconciler) finish(result PassResult) PassResult {
	if result.Attempted > 0 && result.Failed == result.Attempted {
		result.Err = fmt.Errorf("%w: %d of %d deliveries failed",
			domain.ErrSystemicUnreachable, result.Failed, result.Attempted)
	}

	r.logger.Info("pass complete",
		ports.String("trigger", result.Trigger),
		ports.Int("attempted", result.Attempted),
		ports.Int("delivered", result.Delivered),
		ports.Int("failed", result.Failed),
		ports.Int("rejected", result.Rejected),
		ports.Bool("systemic", result.Systemic()),
	)
	return result
}

// attempt delivers one item. It re-reads the item first so an item marked
// delivered elsewhere (another process on the same store) is not resent.
func (r *Reconciler) attempt(base context.Context, store ports.ItemStore, item domain.QueuedItem) (ItemOutcome, bool) {
	fresh, err := store.GetItem(base, item.ID)
	if err == nil {
		if !fresh.Pending() {
			return ItemOutcome{}, false
		}
		item = fresh
	}

	out := ItemOutcome{ID: item.ID, StreamID: item.StreamID, Kind: item.Kind}
	start := r.now()

	ctx, cancel := context.WithTimeout(base, r.config.DeliveryTimeout)
	receipt, err := r.deliverer.Deliver(ctx, item)
	cancel()
	out.Duration = r.now().Sub(start)

	switch {
	case err == nil:
		out.Outcome = OutcomeDelivered
		out.RemoteID = receipt.RemoteID
		if err := store.MarkDelivered(base, item.ID, receipt.RemoteID, r.now()); err != nil {
			// Delivered but not recorded: the next pass resends under the
			// same idempotency key and the remote deduplicates.
			r.logger.Error("failed to record delivery", ports.String("id", item.ID), ports.Err(err))
			out.Err = err
		}

	case errors.Is(err, domain.ErrMalformedPayload):
		out.Outcome = OutcomeRejected
		out.Err = err
		quarantined, serr := store.RecordRejection(base, item.ID, err.Error(), r.config.PoisonThreshold)
		if serr != nil {
			r.logger.Error("failed to record rejection", ports.String("id", item.ID), ports.Err(serr))
		}
		if quarantined {
			out.Outcome = OutcomeQuarantined
			r.logger.Warn("item quarantined",
				ports.String("id", item.ID),
				ports.String("stream", item.StreamID),
				ports.Err(err),
			)
		}

	default:
		out.Outcome = OutcomeFailed
		if !errors.Is(err, domain.ErrDeliveryFailed) {
			err = fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
		}
		out.Err = err
		if item.Rejections > 0 {
			if serr := store.ResetRejections(base, item.ID); serr != nil {
				r.logger.Error("failed to reset rejections", ports.String("id", item.ID), ports.Err(serr))
			}
		}
	}

	r.logger.Debug("delivery attempt",
		ports.String("id", item.ID),
		ports.String("stream", item.StreamID),
		ports.String("outcome", out.Outcome.String()),
		ports.Duration("duration", out.Duration),
	)
	return out, true
}
