// Package log provides the structured logging abstraction used across offsync.
//
// Components accept a [Logger] rather than a concrete logging library so the
// engine can be embedded in applications that already own their logging
// setup. Two implementations ship with the package: a zerolog adapter and a
// no-op logger.
//
// # Usage
//
//	logger := log.NewZerologAdapter(os.Stderr, "info")
//	logger.Info("pass complete", log.Int("delivered", 3), log.Duration("took", d))
//
// Tests and silent embedders use the no-op logger:
//
//	logger := log.NewNoopLogger()
//
// # Custom Loggers
//
// Implement [Logger] to route engine logs into another library:
//
//	type MyLogger struct { ... }
//
//	func (l *MyLogger) Debug(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Info(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Warn(msg string, fields ...log.Field) { ... }
//	func (l *MyLogger) Error(msg string, fields ...log.Field) { ... }
//
// # Version
//
// Current version: 1.0.0
// Minimum compatible version: 1.0.0
package log
