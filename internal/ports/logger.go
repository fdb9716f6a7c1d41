package ports

import "github.com/bft-labs/offsync/pkg/log"

// Logger is the structured logger used by the application layer.
type Logger = log.Logger

// Field is a structured logging key-value pair.
type Field = log.Field

// Field constructors, re-exported so internal packages depend on ports only.
var (
	String   = log.String
	Strings  = log.Strings
	Int      = log.Int
	Int64    = log.Int64
	Bool     = log.Bool
	Duration = log.Duration
	Time     = log.Time
	Err      = log.Err
	Any      = log.Any
)
