package offsync

import (
	"context"

	"github.com/bft-labs/offsync/pkg/log"
)

// Plugin extends the engine with optional behaviour that runs alongside it.
// Plugins are initialized in registration order on Start and shut down in
// reverse order on Stop.
type Plugin interface {
	Name() string

	// Initialize is called during Start. Returning an error aborts Start and
	// leaves the engine in StateCrashed. ctx is canceled on Stop.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown is called during Stop. Errors are logged, not returned.
	Shutdown(ctx context.Context) error
}

// PluginConfig is the engine context handed to plugins.
type PluginConfig struct {
	DataDir    string
	RemoteURL  string
	PolicyFile string
	Logger     log.Logger

	// ReloadPolicy reads the interception policy from path and swaps it in.
	ReloadPolicy func(path string) error
}

// BasePlugin implements Plugin with no-ops. Embed it and override what you need.
type BasePlugin struct{}

func (BasePlugin) Name() string                                   { return "base" }
func (BasePlugin) Initialize(context.Context, PluginConfig) error { return nil }
func (BasePlugin) Shutdown(context.Context) error                 { return nil }
