// Package offsync is the top-level entry point for embedding the offline
// sync engine.
//
// Example usage:
//
//	e, err := offsync.New(offsync.Config{
//	    DataDir:   "/var/lib/myapp",
//	    RemoteURL: "https://api.example.com",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Close()
//	id, err := e.Enqueue(ctx, offsync.KindMessage, "chat-1", msg)
//
// The full API, options and plugin interfaces live in pkg/offsync.
package offsync

import "github.com/bft-labs/offsync/pkg/offsync"

// Engine is the offline sync engine.
type Engine = offsync.Engine

// Config holds the engine configuration. Use DefaultConfig() for defaults.
type Config = offsync.Config

// Option configures optional engine behaviour.
type Option = offsync.Option

// Well-known item kinds.
const (
	KindMessage        = offsync.KindMessage
	KindAnalyticsEvent = offsync.KindAnalyticsEvent
)

// New creates an engine. It does not touch the network until Start.
func New(cfg Config, opts ...Option) (*Engine, error) {
	return offsync.New(cfg, opts...)
}

// DefaultConfig returns a Config with sensible default values.
// At minimum, RemoteURL must be set.
func DefaultConfig() Config {
	return offsync.DefaultConfig()
}
