package offsync_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/offsync/internal/domain"
	"github.com/bft-labs/offsync/pkg/offsync"
)

// =============================================================================
// Test Utilities
// =============================================================================

// testLogger implements offsync.Logger for capturing log output in tests.
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func newTestLogger() *testLogger {
	return &testLogger{messages: make([]string, 0)}
}

func (l *testLogger) Debug(msg string, fields ...offsync.LogField) { l.log("DEBUG", msg) }
func (l *testLogger) Info(msg string, fields ...offsync.LogField)  { l.log("INFO", msg) }
func (l *testLogger) Warn(msg string, fields ...offsync.LogField)  { l.log("WARN", msg) }
func (l *testLogger) Error(msg string, fields ...offsync.LogField) { l.log("ERROR", msg) }

func (l *testLogger) log(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("[%s] %s", level, msg))
}

func (l *testLogger) Messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := make([]string, len(l.messages))
	copy(cp, l.messages)
	return cp
}

func (l *testLogger) Contains(msg string) bool {
	for _, m := range l.Messages() {
		if m == msg {
			return true
		}
	}
	return false
}

// trackingPlugin tracks initialization and shutdown calls for testing.
type trackingPlugin struct {
	name          string
	mu            *sync.Mutex
	initOrder     *[]string
	shutdownOrder *[]string
	initError     error
	shutdownError error
	cfg           offsync.PluginConfig
	initialized   bool
	shutdown      bool
}

func newTrackingPlugin(name string, mu *sync.Mutex, initOrder, shutdownOrder *[]string) *trackingPlugin {
	return &trackingPlugin{
		name:          name,
		mu:            mu,
		initOrder:     initOrder,
		shutdownOrder: shutdownOrder,
	}
}

func (p *trackingPlugin) Name() string { return p.name }

func (p *trackingPlugin) Initialize(ctx context.Context, cfg offsync.PluginConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.initError != nil {
		return p.initError
	}

	*p.initOrder = append(*p.initOrder, p.name)
	p.cfg = cfg
	p.initialized = true
	return nil
}

func (p *trackingPlugin) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	*p.shutdownOrder = append(*p.shutdownOrder, p.name)
	p.shutdown = true
	return p.shutdownError
}

func (p *trackingPlugin) IsInitialized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

func (p *trackingPlugin) IsShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}

// panicPlugin panics during initialization or shutdown for testing.
type panicPlugin struct {
	offsync.BasePlugin
	panicOnInit     bool
	panicOnShutdown bool
}

func (p *panicPlugin) Initialize(ctx context.Context, cfg offsync.PluginConfig) error {
	if p.panicOnInit {
		panic("intentional panic during initialization")
	}
	return nil
}

func (p *panicPlugin) Shutdown(ctx context.Context) error {
	if p.panicOnShutdown {
		panic("intentional panic during shutdown")
	}
	return nil
}

// createTestConfig creates a minimal valid config for testing.
func createTestConfig(t *testing.T) offsync.Config {
	t.Helper()
	return offsync.Config{
		DataDir:      t.TempDir(),
		RemoteURL:    "http://localhost:9999",
		SyncInterval: time.Hour,
		HTTPTimeout:  time.Second,
	}
}

// =============================================================================
// Plugin Lifecycle Tests
// =============================================================================

func TestPlugin_InitializationOrder(t *testing.T) {
	cfg := createTestConfig(t)
	logger := newTestLogger()

	var mu sync.Mutex
	var initOrder []string
	var shutdownOrder []string

	plugin1 := newTrackingPlugin("plugin1", &mu, &initOrder, &shutdownOrder)
	plugin2 := newTrackingPlugin("plugin2", &mu, &initOrder, &shutdownOrder)
	plugin3 := newTrackingPlugin("plugin3", &mu, &initOrder, &shutdownOrder)

	e, err := offsync.New(cfg,
		offsync.WithLogger(logger),
		offsync.WithInitialConnectivity(false),
		offsync.WithPlugin(plugin1),
		offsync.WithPlugin(plugin2),
		offsync.WithPlugin(plugin3),
	)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer e.Close()

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if len(initOrder) != 3 {
		t.Fatalf("Expected 3 plugins initialized, got %d", len(initOrder))
	}
	if initOrder[0] != "plugin1" || initOrder[1] != "plugin2" || initOrder[2] != "plugin3" {
		t.Errorf("Unexpected init order: %v", initOrder)
	}
	if !logger.Contains("[INFO] plugin initialized") {
		t.Error("expected plugin initialization to be logged")
	}

	if err := e.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}

	// Shutdown runs in reverse order of init
	if len(shutdownOrder) != 3 {
		t.Fatalf("Expected 3 plugins shutdown, got %d", len(shutdownOrder))
	}
	if shutdownOrder[0] != "plugin3" || shutdownOrder[1] != "plugin2" || shutdownOrder[2] != "plugin1" {
		t.Errorf("Unexpected shutdown order: %v (expected reverse of init)", shutdownOrder)
	}
}

func TestPlugin_ReceivesEngineConfig(t *testing.T) {
	cfg := createTestConfig(t)

	var mu sync.Mutex
	var initOrder, shutdownOrder []string
	plugin := newTrackingPlugin("p", &mu, &initOrder, &shutdownOrder)

	policy := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(policy, []byte("rules:\n  - name: all\n    strategy: network-first\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	e, err := offsync.New(cfg,
		offsync.WithInitialConnectivity(false),
		offsync.WithPolicy(policy),
		offsync.WithPlugin(plugin),
	)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer e.Close()

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer e.Stop()

	if plugin.cfg.DataDir != cfg.DataDir {
		t.Errorf("DataDir = %q, want %q", plugin.cfg.DataDir, cfg.DataDir)
	}
	if plugin.cfg.PolicyFile != policy {
		t.Errorf("PolicyFile = %q, want %q", plugin.cfg.PolicyFile, policy)
	}
	if plugin.cfg.Logger == nil {
		t.Error("Logger should be set")
	}
	if err := plugin.cfg.ReloadPolicy(policy); err != nil {
		t.Errorf("ReloadPolicy() failed: %v", err)
	}
	if err := plugin.cfg.ReloadPolicy(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("ReloadPolicy() should fail for a missing file")
	}
}

func TestPlugin_InitializationFailure_PreventsStart(t *testing.T) {
	cfg := createTestConfig(t)

	var mu sync.Mutex
	var initOrder []string
	var shutdownOrder []string

	plugin1 := newTrackingPlugin("plugin1", &mu, &initOrder, &shutdownOrder)
	plugin2 := newTrackingPlugin("plugin2", &mu, &initOrder, &shutdownOrder)
	plugin2.initError = errors.New("intentional init failure")
	plugin3 := newTrackingPlugin("plugin3", &mu, &initOrder, &shutdownOrder)

	e, err := offsync.New(cfg,
		offsync.WithPlugin(plugin1),
		offsync.WithPlugin(plugin2),
		offsync.WithPlugin(plugin3),
	)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer e.Close()

	if err := e.Start(context.Background()); err == nil {
		t.Fatal("Start() should have failed due to plugin init error")
	}

	if len(initOrder) != 1 || initOrder[0] != "plugin1" {
		t.Errorf("Expected only plugin1 to init before failure, got: %v", initOrder)
	}
	if plugin3.IsInitialized() {
		t.Error("plugin3 should not have been initialized after plugin2 failed")
	}
	if e.Status() != offsync.StateCrashed {
		t.Errorf("Status = %v, want Crashed", e.Status())
	}

	// A crashed engine can be started again once the cause is gone.
	plugin2.initError = nil
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() after crash failed: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
}

func TestPlugin_ShutdownFailure_ContinuesOtherPlugins(t *testing.T) {
	cfg := createTestConfig(t)

	var mu sync.Mutex
	var initOrder []string
	var shutdownOrder []string

	plugin1 := newTrackingPlugin("plugin1", &mu, &initOrder, &shutdownOrder)
	plugin2 := newTrackingPlugin("plugin2", &mu, &initOrder, &shutdownOrder)
	plugin2.shutdownError = errors.New("intentional shutdown failure")
	plugin3 := newTrackingPlugin("plugin3", &mu, &initOrder, &shutdownOrder)

	e, err := offsync.New(cfg,
		offsync.WithPlugin(plugin1),
		offsync.WithPlugin(plugin2),
		offsync.WithPlugin(plugin3),
	)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer e.Close()

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	if err := e.Stop(); err != nil {
		t.Errorf("Stop() should not report plugin errors: %v", err)
	}

	if len(shutdownOrder) != 3 {
		t.Errorf("Expected all 3 plugins to attempt shutdown, got: %v", shutdownOrder)
	}
	if !plugin1.IsShutdown() || !plugin3.IsShutdown() {
		t.Error("plugin1 and plugin3 should have been shutdown")
	}
	if e.Status() != offsync.StateStopped {
		t.Errorf("Status = %v, want Stopped", e.Status())
	}
}

func TestPlugin_PanicsAreContained(t *testing.T) {
	cfg := createTestConfig(t)

	e, err := offsync.New(cfg, offsync.WithPlugin(&panicPlugin{panicOnShutdown: true}))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer e.Close()

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}

	crashing, err := offsync.New(createTestConfig(t), offsync.WithPlugin(&panicPlugin{panicOnInit: true}))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer crashing.Close()

	if err := crashing.Start(context.Background()); err == nil {
		t.Error("Start() should fail when a plugin panics")
	}
	if crashing.Status() != offsync.StateCrashed {
		t.Errorf("Status = %v, want Crashed", crashing.Status())
	}
}

func TestPlugin_EmptyPluginList(t *testing.T) {
	e, err := offsync.New(createTestConfig(t))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	defer e.Close()

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
	if _, err := e.ForceResync(context.Background()); !errors.Is(err, domain.ErrNotRunning) {
		t.Errorf("ForceResync() after Stop = %v, want ErrNotRunning", err)
	}
}
