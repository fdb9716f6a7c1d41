// Package offsync provides an embeddable offline-first sync engine.
//
// The engine keeps user-generated items (chat messages, analytics events) in
// a durable local queue while the remote is unreachable and delivers them,
// in order per stream, once connectivity returns. It also keeps snapshots of
// remote collections for offline reads and intercepts same-origin HTTP reads
// with a per-request caching policy.
//
// # Basic Usage
//
//	cfg := offsync.Config{
//	    DataDir:   "/var/lib/myapp",
//	    RemoteURL: "https://app.example.com",
//	}
//
//	engine, err := offsync.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	id, err := engine.Enqueue(ctx, "message", "c1", map[string]string{"content": "hello"})
//
// Enqueue returns as soon as the item is stored. Delivery happens on the
// next reconciliation pass: when connectivity returns, on a fixed interval
// while online, right after Enqueue while online, or on [Engine.ForceResync].
//
// # Connectivity
//
// A single [Monitor] owns the online/offline state. Platform signals reach it
// through a [SignalSource] (see [WithSignalSource]), [Engine.SetOnline] or
// [Engine.Probe]. Transitions are broadcast to [Engine.Subscribe] callers and
// to [EventHandler.OnConnectivityChange].
//
// # Offline Reads
//
// [Engine.SaveCached] stores a snapshot of a collection entry and
// [Engine.LoadCached] reads it back without touching the network.
// [Engine.Fetch] combines both. [Engine.Client] returns an *http.Client whose
// GET requests follow the interception policy (navigation fallback,
// network-first for API calls, cache-first for static assets).
//
// # Storage
//
// With Config.DataDir set, data lives in a SQLite database. If it cannot be
// opened, or fails later, the engine continues in memory and reports
// [NoticeStorageDegraded].
//
// # Lifecycle States
//
// An Engine can be in one of five states: [StateStopped], [StateStarting],
// [StateRunning], [StateStopping], or [StateCrashed]. Use [Engine.Status] to
// query the current state.
//
// # Plugins
//
//	import "github.com/bft-labs/offsync/plugins/policywatcher"
//
//	engine, err := offsync.New(cfg,
//	    offsync.WithPolicy("/etc/myapp/policy.yaml"),
//	    offsync.WithPlugin(policywatcher.New(policywatcher.DefaultConfig())),
//	)
package offsync
