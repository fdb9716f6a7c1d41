// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters.
//
// Ports are the boundaries between the application core and the outside
// world. They define what the application needs from external systems
// without specifying how those needs are fulfilled.
//
// # Port Interfaces
//
//   - [Store]: persistent local store (queued items, cached collections,
//     preferences, response copies)
//   - [Deliverer]: delivers one queued item to the remote
//   - [Prober]: lightweight reachability round-trip
//   - [Logger]: structured logging abstraction
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// # Usage
//
// The application layer (internal/app) depends only on these interfaces.
// Infrastructure adapters (internal/adapters) implement them with SQLite,
// memory and HTTP.
package ports
