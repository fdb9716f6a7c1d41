package cliconfig

import (
	"maps"
	"slices"
	"testing"
	"time"
)

// assertConfigEqual compares every Config field.
func assertConfigEqual(t *testing.T, got, want Config) {
	t.Helper()

	if got.DataDir != want.DataDir {
		t.Errorf("DataDir = %v, want %v", got.DataDir, want.DataDir)
	}
	if got.RemoteURL != want.RemoteURL {
		t.Errorf("RemoteURL = %v, want %v", got.RemoteURL, want.RemoteURL)
	}
	if got.AuthKey != want.AuthKey {
		t.Errorf("AuthKey = %v, want %v", got.AuthKey, want.AuthKey)
	}
	if got.Listen != want.Listen {
		t.Errorf("Listen = %v, want %v", got.Listen, want.Listen)
	}
	if got.ProbeURL != want.ProbeURL {
		t.Errorf("ProbeURL = %v, want %v", got.ProbeURL, want.ProbeURL)
	}
	if got.ProbeInterval != want.ProbeInterval {
		t.Errorf("ProbeInterval = %v, want %v", got.ProbeInterval, want.ProbeInterval)
	}
	if got.SyncInterval != want.SyncInterval {
		t.Errorf("SyncInterval = %v, want %v", got.SyncInterval, want.SyncInterval)
	}
	if got.DeliveryTimeout != want.DeliveryTimeout {
		t.Errorf("DeliveryTimeout = %v, want %v", got.DeliveryTimeout, want.DeliveryTimeout)
	}
	if got.HTTPTimeout != want.HTTPTimeout {
		t.Errorf("HTTPTimeout = %v, want %v", got.HTTPTimeout, want.HTTPTimeout)
	}
	if got.PoisonThreshold != want.PoisonThreshold {
		t.Errorf("PoisonThreshold = %v, want %v", got.PoisonThreshold, want.PoisonThreshold)
	}
	if got.Retention != want.Retention {
		t.Errorf("Retention = %v, want %v", got.Retention, want.Retention)
	}
	if got.PruneInterval != want.PruneInterval {
		t.Errorf("PruneInterval = %v, want %v", got.PruneInterval, want.PruneInterval)
	}
	if got.PolicyFile != want.PolicyFile {
		t.Errorf("PolicyFile = %v, want %v", got.PolicyFile, want.PolicyFile)
	}
	if !slices.Equal(got.Precache, want.Precache) {
		t.Errorf("Precache = %v, want %v", got.Precache, want.Precache)
	}
	if !maps.Equal(got.Endpoints, want.Endpoints) {
		t.Errorf("Endpoints = %v, want %v", got.Endpoints, want.Endpoints)
	}
	if got.LogFile != want.LogFile {
		t.Errorf("LogFile = %v, want %v", got.LogFile, want.LogFile)
	}
	if got.LogLevel != want.LogLevel {
		t.Errorf("LogLevel = %v, want %v", got.LogLevel, want.LogLevel)
	}
	if got.Metrics != want.Metrics {
		t.Errorf("Metrics = %v, want %v", got.Metrics, want.Metrics)
	}
	if got.Once != want.Once {
		t.Errorf("Once = %v, want %v", got.Once, want.Once)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Listen != DefaultListen {
		t.Errorf("Listen = %v, want %v", cfg.Listen, DefaultListen)
	}
	if cfg.SyncInterval != 30*time.Second {
		t.Errorf("SyncInterval = %v, want 30s", cfg.SyncInterval)
	}
	if cfg.Retention != 10*time.Minute {
		t.Errorf("Retention = %v, want 10m", cfg.Retention)
	}
	if cfg.PoisonThreshold != 3 {
		t.Errorf("PoisonThreshold = %v, want 3", cfg.PoisonThreshold)
	}
	if !slices.Equal(cfg.Precache, []string{"/", "/offline.html"}) {
		t.Errorf("Precache = %v", cfg.Precache)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			DataDir:         "/tmp/offsync",
			RemoteURL:       "http://localhost:8080",
			SyncInterval:    time.Second,
			DeliveryTimeout: time.Second,
		}
	}

	tests := []struct {
		name          string
		mutate        func(*Config)
		wantErr       bool
		wantRemoteURL string
	}{
		{
			name:          "valid minimal config",
			mutate:        func(*Config) {},
			wantRemoteURL: "http://localhost:8080",
		},
		{
			name:          "trailing slash removed",
			mutate:        func(c *Config) { c.RemoteURL = "http://localhost:8080/" },
			wantRemoteURL: "http://localhost:8080",
		},
		{
			name:    "missing remote url",
			mutate:  func(c *Config) { c.RemoteURL = "" },
			wantErr: true,
		},
		{
			name:    "relative remote url",
			mutate:  func(c *Config) { c.RemoteURL = "localhost:8080" },
			wantErr: true,
		},
		{
			name:    "missing data dir",
			mutate:  func(c *Config) { c.DataDir = "" },
			wantErr: true,
		},
		{
			name:    "zero sync interval",
			mutate:  func(c *Config) { c.SyncInterval = 0 },
			wantErr: true,
		},
		{
			name:    "relative endpoint",
			mutate:  func(c *Config) { c.Endpoints = map[string]string{"message": "api/msg"} },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && cfg.RemoteURL != tt.wantRemoteURL {
				t.Errorf("RemoteURL = %v, want %v", cfg.RemoteURL, tt.wantRemoteURL)
			}
		})
	}
}

func TestConfig_Validate_Derivations(t *testing.T) {
	cfg := Config{
		DataDir:         "/tmp/offsync",
		RemoteURL:       "https://app.example.com",
		SyncInterval:    time.Second,
		DeliveryTimeout: time.Second,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.ProbeURL != cfg.RemoteURL {
		t.Errorf("ProbeURL = %v, want %v", cfg.ProbeURL, cfg.RemoteURL)
	}
	if cfg.Listen != DefaultListen {
		t.Errorf("Listen = %v, want %v", cfg.Listen, DefaultListen)
	}
}

func TestParseEndpoints(t *testing.T) {
	got, err := ParseEndpoints("message=/a, analytics-event=/b")
	if err != nil {
		t.Fatalf("ParseEndpoints() error = %v", err)
	}
	want := map[string]string{"message": "/a", "analytics-event": "/b"}
	if !maps.Equal(got, want) {
		t.Errorf("ParseEndpoints() = %v, want %v", got, want)
	}

	for _, bad := range []string{"message", "=/a", "message="} {
		if _, err := ParseEndpoints(bad); err == nil {
			t.Errorf("ParseEndpoints(%q) expected error", bad)
		}
	}
}
