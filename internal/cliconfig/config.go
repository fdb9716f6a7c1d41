package cliconfig

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultListen is the address the daemon serves the proxy, control API and
// metrics on.
const DefaultListen = "127.0.0.1:8787"

// Config holds CLI configuration for offsync.
type Config struct {
	DataDir   string
	RemoteURL string
	AuthKey   string
	Listen    string

	ProbeURL      string
	ProbeInterval time.Duration

	SyncInterval    time.Duration
	DeliveryTimeout time.Duration
	HTTPTimeout     time.Duration
	PoisonThreshold int

	Retention     time.Duration
	PruneInterval time.Duration

	PolicyFile string
	Precache   []string
	Endpoints  map[string]string

	// CORSOrigins lists browser origins allowed to call the control API.
	// Empty disables CORS handling.
	CORSOrigins []string

	LogFile  string
	LogLevel string
	Metrics  bool
	Once     bool
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		DataDir:         defaultDataDir(),
		Listen:          DefaultListen,
		ProbeInterval:   30 * time.Second,
		SyncInterval:    30 * time.Second,
		DeliveryTimeout: 15 * time.Second,
		HTTPTimeout:     30 * time.Second,
		PoisonThreshold: 3,
		Retention:       10 * time.Minute,
		PruneInterval:   time.Hour,
		Precache:        []string{"/", "/offline.html"},
		LogLevel:        "info",
		Metrics:         true,
		AuthKey:         os.Getenv("OFFSYNC_AUTH_KEY"),
	}
}

func defaultDataDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".offsync", "data")
	}
	return ""
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	if c.RemoteURL == "" {
		return fmt.Errorf("remote-url is required")
	}
	c.RemoteURL = strings.TrimRight(c.RemoteURL, "/")
	u, err := url.Parse(c.RemoteURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("remote-url %q must be an absolute URL", c.RemoteURL)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data-dir is required")
	}
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ProbeURL == "" {
		c.ProbeURL = c.RemoteURL
	}

	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}
	if c.DeliveryTimeout <= 0 {
		return fmt.Errorf("delivery timeout must be positive")
	}
	if c.ProbeInterval < 0 {
		return fmt.Errorf("probe interval must not be negative")
	}
	if c.PoisonThreshold < 0 {
		return fmt.Errorf("poison threshold must not be negative")
	}

	for kind, path := range c.Endpoints {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("endpoint for %q must start with /", kind)
		}
	}

	return nil
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setStrings replaces a list if the new one is non-empty and flag not changed.
func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = append([]string(nil), value...)
}

// setMap merges entries into dst if flag not changed.
func (s *configSetter) setMap(flag string, value map[string]string, dst *map[string]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	if *dst == nil {
		*dst = make(map[string]string, len(value))
	}
	for k, v := range value {
		(*dst)[k] = v
	}
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}

// splitList splits a comma-separated list, dropping blanks.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseEndpoints parses "kind=/path" pairs separated by commas.
func ParseEndpoints(value string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitList(value) {
		kind, path, ok := strings.Cut(pair, "=")
		kind, path = strings.TrimSpace(kind), strings.TrimSpace(path)
		if !ok || kind == "" || path == "" {
			return nil, fmt.Errorf("invalid endpoint %q, want kind=/path", pair)
		}
		out[kind] = path
	}
	return out, nil
}
