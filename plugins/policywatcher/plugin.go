// Package policywatcher reloads the interception policy file when it changes
// on disk, so routes and strategies can be edited without restarting.
package policywatcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/offsync/pkg/log"
	"github.com/bft-labs/offsync/pkg/offsync"
)

// Plugin watches the directory holding the policy file and calls
// PluginConfig.ReloadPolicy after writes settle.
type Plugin struct {
	mu sync.Mutex

	debounceDelay time.Duration

	path     string
	reload   func(path string) error
	logger   log.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
}

// Config holds configuration options for the policy watcher plugin.
type Config struct {
	// DebounceDelay is how long to wait after the last change before
	// reloading. Editors often write a file in several steps.
	// Default: 200 milliseconds
	DebounceDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{DebounceDelay: 200 * time.Millisecond}
}

// New creates a policy watcher plugin.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = DefaultConfig().DebounceDelay
	}
	return &Plugin{debounceDelay: cfg.DebounceDelay}
}

// WithPolicyWatcher returns an engine Option that registers the plugin.
//
// Usage:
//
//	e, err := offsync.New(cfg,
//	    offsync.WithPolicy("/etc/offsync/policy.yaml"),
//	    policywatcher.WithPolicyWatcher(policywatcher.DefaultConfig()),
//	)
func WithPolicyWatcher(cfg Config) offsync.Option {
	return offsync.WithPlugin(New(cfg))
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "policywatcher"
}

// Initialize starts watching cfg.PolicyFile. Without a policy file or a
// reload hook the plugin stays idle.
func (p *Plugin) Initialize(ctx context.Context, cfg offsync.PluginConfig) error {
	p.mu.Lock()
	p.path = cfg.PolicyFile
	p.reload = cfg.ReloadPolicy
	p.logger = cfg.Logger
	if p.logger == nil {
		p.logger = log.NewNoopLogger()
	}
	p.mu.Unlock()

	if p.path == "" || p.reload == nil {
		p.logger.Debug("policy watcher idle: no policy file configured")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// The directory is watched rather than the file so atomic
	// rename-into-place saves are seen.
	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)

	p.logger.Info("policy watcher started", log.String("path", p.path))
	return nil
}

// Shutdown stops the watcher and any pending reload.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	return nil
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	target := filepath.Clean(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p.scheduleReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("policy watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) scheduleReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		p.reloadNow()
	})
}

// reloadNow applies the file. A broken file leaves the previous policy in
// place until the next change.
func (p *Plugin) reloadNow() {
	if err := p.reload(p.path); err != nil {
		p.logger.Error("policy reload failed, keeping previous policy",
			log.String("path", p.path),
			log.Err(err),
		)
	}
}

var _ offsync.Plugin = (*Plugin)(nil)
