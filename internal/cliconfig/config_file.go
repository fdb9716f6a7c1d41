package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	DataDir         string            `toml:"data_dir"`
	RemoteURL       string            `toml:"remote_url"`
	AuthKey         string            `toml:"auth_key"`
	Listen          string            `toml:"listen"`
	ProbeURL        string            `toml:"probe_url"`
	ProbeInterval   string            `toml:"probe_interval"`
	SyncInterval    string            `toml:"sync_interval"`
	DeliveryTimeout string            `toml:"delivery_timeout"`
	HTTPTimeout     string            `toml:"http_timeout"`
	PoisonThreshold int               `toml:"poison_threshold"`
	Retention       string            `toml:"retention"`
	PruneInterval   string            `toml:"prune_interval"`
	PolicyFile      string            `toml:"policy_file"`
	Precache        []string          `toml:"precache"`
	Endpoints       map[string]string `toml:"endpoints"`
	CORSOrigins     []string          `toml:"cors_origins"`
	LogFile         string            `toml:"log_file"`
	LogLevel        string            `toml:"log_level"`
	Metrics         *bool             `toml:"metrics"`
	Once            *bool             `toml:"once"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.offsync/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".offsync", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("remote-url", fc.RemoteURL, &cfg.RemoteURL)
	s.setString("auth-key", fc.AuthKey, &cfg.AuthKey)
	s.setString("listen", fc.Listen, &cfg.Listen)
	s.setString("probe-url", fc.ProbeURL, &cfg.ProbeURL)
	s.setString("policy", fc.PolicyFile, &cfg.PolicyFile)
	s.setString("log-file", fc.LogFile, &cfg.LogFile)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	if err := s.setDuration("probe-interval", fc.ProbeInterval, &cfg.ProbeInterval); err != nil {
		return err
	}
	if err := s.setDuration("sync-interval", fc.SyncInterval, &cfg.SyncInterval); err != nil {
		return err
	}
	if err := s.setDuration("delivery-timeout", fc.DeliveryTimeout, &cfg.DeliveryTimeout); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("retention", fc.Retention, &cfg.Retention); err != nil {
		return err
	}
	if err := s.setDuration("prune-interval", fc.PruneInterval, &cfg.PruneInterval); err != nil {
		return err
	}

	s.setInt("poison-threshold", fc.PoisonThreshold, &cfg.PoisonThreshold)
	s.setStrings("precache", fc.Precache, &cfg.Precache)
	s.setMap("endpoint", fc.Endpoints, &cfg.Endpoints)
	s.setStrings("cors-origin", fc.CORSOrigins, &cfg.CORSOrigins)

	s.setBool("metrics", fc.Metrics, &cfg.Metrics)
	s.setBool("once", fc.Once, &cfg.Once)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
