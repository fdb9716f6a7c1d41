package offsync

import (
	"context"
	"fmt"
	"time"

	"github.com/bft-labs/offsync/internal/app"
	"github.com/bft-labs/offsync/internal/domain"
	"github.com/bft-labs/offsync/internal/metrics"
	"github.com/bft-labs/offsync/internal/netstatus"
	"github.com/bft-labs/offsync/internal/ports"
)

// State represents the lifecycle state of an Engine.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	return app.State(s).String()
}

// StateChangeEvent is emitted on every lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// ConnectivityEvent is a connectivity transition.
type ConnectivityEvent = netstatus.Event

// Transition directions carried by ConnectivityEvent.
const (
	BecameOnline  = netstatus.BecameOnline
	BecameOffline = netstatus.BecameOffline
)

// PassResult summarizes one reconciliation pass.
type PassResult = app.PassResult

// ItemOutcome records what happened to one item in a pass.
type ItemOutcome = app.ItemOutcome

// Delivery outcomes.
const (
	OutcomeDelivered   = app.OutcomeDelivered
	OutcomeFailed      = app.OutcomeFailed
	OutcomeRejected    = app.OutcomeRejected
	OutcomeQuarantined = app.OutcomeQuarantined
)

// NoticeKind classifies advisory notices.
type NoticeKind int

const (
	// NoticeBackOnline: connectivity restored, queued data is syncing.
	NoticeBackOnline NoticeKind = iota
	// NoticeWentOffline: connectivity lost, the engine keeps working locally.
	NoticeWentOffline
	// NoticeStorageDegraded: the durable store failed; data is held in memory.
	NoticeStorageDegraded
	// NoticeSystemicUnreachable: every delivery in a pass failed.
	NoticeSystemicUnreachable
	// NoticeQuarantined: an item was rejected too many times and set aside.
	NoticeQuarantined
	// NoticeSynced: a pass delivered queued items to the remote.
	NoticeSynced
)

// String returns a human-readable representation of the notice kind.
func (k NoticeKind) String() string {
	switch k {
	case NoticeBackOnline:
		return "back-online"
	case NoticeWentOffline:
		return "went-offline"
	case NoticeStorageDegraded:
		return "storage-degraded"
	case NoticeSystemicUnreachable:
		return "systemic-unreachable"
	case NoticeQuarantined:
		return "quarantined"
	case NoticeSynced:
		return "synced"
	default:
		return "unknown"
	}
}

// Notice is a non-blocking advisory meant for a toast or banner.
type Notice struct {
	Kind    NoticeKind
	Title   string
	Message string
	ItemID  string
	Err     error
	At      time.Time
}

// EventHandler receives engine events. Calls are synchronous; handlers
// should return quickly. Panics in a handler are recovered and logged.
type EventHandler interface {
	OnStateChange(event StateChangeEvent)
	OnConnectivityChange(event ConnectivityEvent)
	OnPassComplete(result PassResult)
	OnNotice(notice Notice)
}

// BaseEventHandler implements EventHandler with no-ops. Embed it to handle
// only the events you care about.
type BaseEventHandler struct{}

func (BaseEventHandler) OnStateChange(StateChangeEvent)         {}
func (BaseEventHandler) OnConnectivityChange(ConnectivityEvent) {}
func (BaseEventHandler) OnPassComplete(PassResult)              {}
func (BaseEventHandler) OnNotice(Notice)                        {}

// emitter adapts EventHandler to the internal observer interfaces and keeps
// the metrics collectors current.
type emitter struct {
	handler EventHandler
	logger  ports.Logger
	stats   func(ctx context.Context) (domain.Stats, error)
}

func (e *emitter) safe(name string, fn func(h EventHandler)) {
	if e.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked",
				ports.String("event", name),
				ports.Err(fmt.Errorf("panic: %v", r)),
			)
		}
	}()
	fn(e.handler)
}

func (e *emitter) OnStateChange(previous, current app.State, reason string) {
	e.safe("state_change", func(h EventHandler) {
		h.OnStateChange(StateChangeEvent{
			Previous: State(previous),
			Current:  State(current),
			Reason:   reason,
		})
	})
}

func (e *emitter) OnItemOutcome(out app.ItemOutcome) {
	metrics.Deliveries.WithLabelValues(out.Outcome.String()).Inc()
	if out.Outcome == app.OutcomeQuarantined {
		e.notice(Notice{
			Kind:    NoticeQuarantined,
			Title:   "Item set aside",
			Message: fmt.Sprintf("Item %s was rejected by the server and will not be retried.", out.ID),
			ItemID:  out.ID,
			Err:     out.Err,
		})
	}
}

func (e *emitter) OnPassComplete(r app.PassResult) {
	switch {
	case r.Systemic():
		metrics.Passes.WithLabelValues("systemic").Inc()
	case r.Err != nil:
		metrics.Passes.WithLabelValues("error").Inc()
	case r.Attempted == 0:
		metrics.Passes.WithLabelValues("empty").Inc()
	default:
		metrics.Passes.WithLabelValues("ok").Inc()
	}
	if r.Attempted > 0 {
		metrics.PassDuration.Observe(r.Duration.Seconds())
	}
	e.refreshQueueGauges()

	e.safe("pass_complete", func(h EventHandler) { h.OnPassComplete(r) })

	if r.Systemic() {
		e.notice(Notice{
			Kind:    NoticeSystemicUnreachable,
			Title:   "Sync paused",
			Message: "The server could not be reached. Queued changes are kept and will be retried.",
			Err:     r.Err,
		})
		return
	}
	if r.Delivered > 0 {
		e.notice(Notice{
			Kind:    NoticeSynced,
			Title:   "Synced",
			Message: syncedMessage(r.Delivered),
		})
	}
}

func syncedMessage(n int) string {
	if n == 1 {
		return "1 queued change was delivered."
	}
	return fmt.Sprintf("%d queued changes were delivered.", n)
}

func (e *emitter) connectivity(ev netstatus.Event) {
	metrics.SetBool(metrics.Online, ev.Online)
	e.safe("connectivity_change", func(h EventHandler) { h.OnConnectivityChange(ev) })

	if ev.Online {
		e.notice(Notice{
			Kind:    NoticeBackOnline,
			Title:   "Connection restored!",
			Message: "You are back online. Syncing data...",
		})
		return
	}
	e.notice(Notice{
		Kind:    NoticeWentOffline,
		Title:   "Connection lost",
		Message: "You are now offline. The app will continue to work.",
	})
}

func (e *emitter) notice(n Notice) {
	if n.At.IsZero() {
		n.At = time.Now()
	}
	e.logger.Info("notice",
		ports.String("kind", n.Kind.String()),
		ports.String("message", n.Message),
	)
	e.safe("notice", func(h EventHandler) { h.OnNotice(n) })
}

func (e *emitter) refreshQueueGauges() {
	if e.stats == nil {
		return
	}
	st, err := e.stats(context.Background())
	if err != nil {
		return
	}
	metrics.Pending.Set(float64(st.Pending))
	metrics.Quarantined.Set(float64(st.Quarantined))
}
