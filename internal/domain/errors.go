package domain

import "errors"

// Domain errors represent error conditions in the offsync domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running instance.
	ErrAlreadyRunning = errors.New("offsync: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped instance.
	ErrNotRunning = errors.New("offsync: not running")

	// ErrShutdownTimeout is returned when graceful shutdown times out.
	ErrShutdownTimeout = errors.New("offsync: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("offsync: invalid configuration")

	// ErrStorageUnavailable is returned when the local store cannot be
	// opened, read or written (quota, permissions, closed handle).
	ErrStorageUnavailable = errors.New("offsync: storage unavailable")

	// ErrDeliveryFailed is returned for connectivity-class delivery failures:
	// transport errors, timeouts, 5xx, 408 and 429 responses.
	ErrDeliveryFailed = errors.New("offsync: delivery failed")

	// ErrSystemicUnreachable is reported when every item attempted in a
	// pass failed for connectivity reasons.
	ErrSystemicUnreachable = errors.New("offsync: remote unreachable")

	// ErrMalformedPayload is returned when the remote rejects an item with a
	// client-error status.
	ErrMalformedPayload = errors.New("offsync: payload rejected by remote")

	// ErrInvalidItem is returned when an item fails local validation.
	ErrInvalidItem = errors.New("offsync: invalid item")

	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("offsync: not found")

	// ErrRetained is returned when deleting an item the store must keep:
	// an undelivered item, or a discard of an item that is not quarantined.
	ErrRetained = errors.New("offsync: item retained")
)
