package offsync

import (
	"fmt"
	"maps"
	"net/url"
	"strings"
	"time"

	httpAdapter "github.com/bft-labs/offsync/internal/adapters/http"
	"github.com/bft-labs/offsync/internal/app"
	"github.com/bft-labs/offsync/internal/domain"
	"github.com/bft-labs/offsync/internal/intercept"
)

// DefaultHTTPTimeout bounds a single HTTP request made by the engine.
const DefaultHTTPTimeout = 30 * time.Second

// DatabaseFile is the SQLite file created under Config.DataDir.
const DatabaseFile = "offsync.db"

// Config holds the engine configuration.
type Config struct {
	// DataDir holds the SQLite database. Empty keeps everything in memory.
	DataDir string

	// RemoteURL is the origin items are delivered to and requests are
	// intercepted for. Required.
	RemoteURL string

	// AuthKey is sent as a bearer token on deliveries.
	AuthKey string

	// Endpoints maps item kinds to remote paths.
	Endpoints map[string]string

	// ProbeURL is checked for reachability. Defaults to RemoteURL.
	ProbeURL string

	// ProbeInterval enables periodic probing when no SignalSource is set.
	// Zero disables it.
	ProbeInterval time.Duration

	SyncInterval    time.Duration
	DeliveryTimeout time.Duration
	HTTPTimeout     time.Duration

	// BackoffMax caps the pause after the remote proved unreachable.
	BackoffMax time.Duration

	// PoisonThreshold is the number of consecutive rejections before an
	// item is quarantined.
	PoisonThreshold int

	// CacheName versions the response cache. Copies stored under another
	// name are purged on Start.
	CacheName string
}

// DefaultConfig returns a Config with every optional field set.
func DefaultConfig() Config {
	var c Config
	c.SetDefaults()
	return c
}

// SetDefaults fills zero fields with default values.
func (c *Config) SetDefaults() {
	c.RemoteURL = strings.TrimRight(c.RemoteURL, "/")
	if c.ProbeURL == "" {
		c.ProbeURL = c.RemoteURL
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = app.DefaultSyncInterval
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = app.DefaultDeliveryTimeout
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = app.DefaultBackoffMax
	}
	if c.PoisonThreshold == 0 {
		c.PoisonThreshold = app.DefaultPoisonThreshold
	}
	if c.CacheName == "" {
		c.CacheName = intercept.DefaultCacheName
	}
	endpoints := maps.Clone(httpAdapter.DefaultEndpoints)
	maps.Copy(endpoints, c.Endpoints)
	c.Endpoints = endpoints
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if c.RemoteURL == "" {
		return fmt.Errorf("%w: remote url is required", domain.ErrInvalidConfig)
	}
	u, err := url.Parse(c.RemoteURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: invalid remote url %q", domain.ErrInvalidConfig, c.RemoteURL)
	}
	if c.ProbeInterval < 0 {
		return fmt.Errorf("%w: probe interval must not be negative", domain.ErrInvalidConfig)
	}
	for kind, path := range c.Endpoints {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%w: endpoint for %q must be an absolute path", domain.ErrInvalidConfig, kind)
		}
	}
	return nil
}
