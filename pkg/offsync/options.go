package offsync

import (
	"net/http"

	"github.com/bft-labs/offsync/internal/netstatus"
	"github.com/bft-labs/offsync/internal/ports"
	"github.com/bft-labs/offsync/pkg/log"
)

// HTTPClient is the interface for making HTTP requests.
// *http.Client satisfies this interface.
type HTTPClient = ports.HTTPClient

// SignalSource feeds platform connectivity signals into the engine.
type SignalSource = netstatus.SignalSource

// Monitor owns the process-wide connectivity state. Signal sources report
// into it with Set and Probe.
type Monitor = netstatus.Monitor

// SignalFunc adapts a function to SignalSource.
type SignalFunc = netstatus.SignalFunc

// ProbeSource derives connectivity from periodic reachability probes.
type ProbeSource = netstatus.ProbeSource

// Option configures optional behavior of an Engine.
type Option func(*options)

type options struct {
	httpClient    ports.HTTPClient
	baseTransport http.RoundTripper
	logger        log.Logger
	eventHandler  EventHandler
	plugins       []Plugin
	pruneConfig   PruneConfig
	signalSource  SignalSource
	metrics       bool
	initialOnline bool
	precache      []string
	policyFile    string
}

func defaultOptions(client *http.Client) options {
	return options{
		httpClient:    client,
		logger:        log.NewNoopLogger(),
		pruneConfig:   DefaultPruneConfig(),
		initialOnline: true,
	}
}

// WithHTTPClient sets the client used for deliveries and probes.
// If not provided, a default client with the configured timeout is used.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithTransport sets the round-tripper the interception layer uses for
// network access. Defaults to the transport of the HTTP client when it is
// an *http.Client, otherwise http.DefaultTransport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.baseTransport = rt
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler sets a handler for engine events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin to be initialized when the engine starts.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithSignalSource sets where platform connectivity signals come from.
// Without one, connectivity only changes through SetOnline and Probe, unless
// Config.ProbeInterval enables a ProbeSource.
func WithSignalSource(src SignalSource) Option {
	return func(o *options) {
		o.signalSource = src
	}
}

// WithInitialConnectivity seeds the connectivity state before any signal
// arrives. Defaults to online.
func WithInitialConnectivity(online bool) Option {
	return func(o *options) {
		o.initialOnline = online
	}
}

// WithMetrics registers the engine's Prometheus collectors with the default
// registry.
func WithMetrics() Option {
	return func(o *options) {
		o.metrics = true
	}
}

// WithPolicy loads the interception policy from a YAML file instead of the
// built-in defaults.
func WithPolicy(path string) Option {
	return func(o *options) {
		o.policyFile = path
	}
}

// WithPrecache lists resources fetched into the response cache on Start,
// typically the application shell ("/", "/offline.html").
func WithPrecache(urls ...string) Option {
	return func(o *options) {
		o.precache = append(o.precache, urls...)
	}
}

// Logger is the structured logging interface accepted by WithLogger.
type Logger = log.Logger

// LogField is a key/value pair attached to a log entry.
type LogField = log.Field
