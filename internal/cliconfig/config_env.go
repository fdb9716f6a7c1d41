package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (OFFSYNC_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("data-dir", os.Getenv("OFFSYNC_DATA_DIR"), &cfg.DataDir)
	s.setString("remote-url", os.Getenv("OFFSYNC_REMOTE_URL"), &cfg.RemoteURL)
	s.setString("auth-key", os.Getenv("OFFSYNC_AUTH_KEY"), &cfg.AuthKey)
	s.setString("listen", os.Getenv("OFFSYNC_LISTEN"), &cfg.Listen)
	s.setString("probe-url", os.Getenv("OFFSYNC_PROBE_URL"), &cfg.ProbeURL)
	s.setString("policy", os.Getenv("OFFSYNC_POLICY_FILE"), &cfg.PolicyFile)
	s.setString("log-file", os.Getenv("OFFSYNC_LOG_FILE"), &cfg.LogFile)
	s.setString("log-level", os.Getenv("OFFSYNC_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setDuration("probe-interval", os.Getenv("OFFSYNC_PROBE_INTERVAL"), &cfg.ProbeInterval); err != nil {
		return err
	}
	if err := s.setDuration("sync-interval", os.Getenv("OFFSYNC_SYNC_INTERVAL"), &cfg.SyncInterval); err != nil {
		return err
	}
	if err := s.setDuration("delivery-timeout", os.Getenv("OFFSYNC_DELIVERY_TIMEOUT"), &cfg.DeliveryTimeout); err != nil {
		return err
	}
	if err := s.setDuration("timeout", os.Getenv("OFFSYNC_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("retention", os.Getenv("OFFSYNC_RETENTION"), &cfg.Retention); err != nil {
		return err
	}
	if err := s.setDuration("prune-interval", os.Getenv("OFFSYNC_PRUNE_INTERVAL"), &cfg.PruneInterval); err != nil {
		return err
	}

	if err := s.setIntFromString("poison-threshold", os.Getenv("OFFSYNC_POISON_THRESHOLD"), &cfg.PoisonThreshold); err != nil {
		return err
	}

	if v := os.Getenv("OFFSYNC_ENDPOINTS"); v != "" {
		endpoints, err := ParseEndpoints(v)
		if err != nil {
			return err
		}
		s.setMap("endpoint", endpoints, &cfg.Endpoints)
	}
	s.setStrings("precache", splitList(os.Getenv("OFFSYNC_PRECACHE")), &cfg.Precache)
	s.setStrings("cors-origin", splitList(os.Getenv("OFFSYNC_CORS_ORIGINS")), &cfg.CORSOrigins)

	s.setBoolFromString("metrics", os.Getenv("OFFSYNC_METRICS"), &cfg.Metrics)
	s.setBoolFromString("once", os.Getenv("OFFSYNC_ONCE"), &cfg.Once)

	return nil
}
