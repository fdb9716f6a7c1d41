package offsync

import "github.com/bft-labs/offsync/internal/domain"

// Errors returned by the engine. Check them with errors.Is.
var (
	ErrAlreadyRunning      = domain.ErrAlreadyRunning
	ErrNotRunning          = domain.ErrNotRunning
	ErrShutdownTimeout     = domain.ErrShutdownTimeout
	ErrInvalidConfig       = domain.ErrInvalidConfig
	ErrStorageUnavailable  = domain.ErrStorageUnavailable
	ErrDeliveryFailed      = domain.ErrDeliveryFailed
	ErrSystemicUnreachable = domain.ErrSystemicUnreachable
	ErrMalformedPayload    = domain.ErrMalformedPayload
	ErrInvalidItem         = domain.ErrInvalidItem
	ErrNotFound            = domain.ErrNotFound
	ErrRetained            = domain.ErrRetained
)

// Queue and cache records returned by the engine.
type (
	QueuedItem  = domain.QueuedItem
	Stats       = domain.Stats
	CachedEntry = domain.CachedEntry
)

// Well-known item kinds with default endpoints.
const (
	KindMessage        = domain.KindMessage
	KindAnalyticsEvent = domain.KindAnalyticsEvent
)
