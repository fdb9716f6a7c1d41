package offsync

import (
	"context"
	"sync"
	"time"

	"github.com/bft-labs/offsync/internal/metrics"
	"github.com/bft-labs/offsync/internal/ports"
)

// PruneConfig controls removal of delivered items. Delivered items are kept
// for Retention so a UI can show them as recently synced, then deleted on
// the next Start and every Interval after that.
type PruneConfig struct {
	// Enabled controls whether pruning runs. Default: true
	Enabled bool

	// Retention is how long a delivered item is kept. Default: 10 minutes
	Retention time.Duration

	// Interval is how often pruning runs while the engine is running.
	// Default: 1 hour
	Interval time.Duration
}

// DefaultPruneConfig returns a PruneConfig with sensible defaults.
func DefaultPruneConfig() PruneConfig {
	return PruneConfig{
		Enabled:   true,
		Retention: 10 * time.Minute,
		Interval:  time.Hour,
	}
}

// WithPruneConfig replaces the pruning policy. Pass a config with Enabled
// false to keep delivered items forever.
//
// Usage:
//
//	e, err := offsync.New(cfg,
//	    offsync.WithPruneConfig(offsync.PruneConfig{
//	        Enabled:   true,
//	        Retention: 24 * time.Hour,
//	        Interval:  6 * time.Hour,
//	    }),
//	)
func WithPruneConfig(cfg PruneConfig) Option {
	def := DefaultPruneConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	return func(o *options) {
		o.pruneConfig = cfg
	}
}

// pruneRunner manages the pruning goroutine.
type pruneRunner struct {
	retention time.Duration
	interval  time.Duration
	store     ports.ItemStore
	logger    ports.Logger
	now       func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newPruneRunner(cfg PruneConfig, store ports.ItemStore, logger ports.Logger) *pruneRunner {
	return &pruneRunner{
		retention: cfg.Retention,
		interval:  cfg.Interval,
		store:     store,
		logger:    logger,
		now:       time.Now,
	}
}

func (p *pruneRunner) start(ctx context.Context) {
	pruneCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.loop(pruneCtx)
}

func (p *pruneRunner) stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *pruneRunner) loop(ctx context.Context) {
	defer p.wg.Done()

	// Run immediately on startup
	p.pruneOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pruneOnce(ctx)
		}
	}
}

func (p *pruneRunner) pruneOnce(ctx context.Context) (int64, error) {
	n, err := p.store.PruneDelivered(ctx, p.now().Add(-p.retention))
	if err != nil {
		p.logger.Error("prune failed", ports.Err(err))
		return 0, err
	}
	if n > 0 {
		metrics.Pruned.Add(float64(n))
		p.logger.Info("pruned delivered items", ports.Int64("count", n))
	}
	return n, nil
}
