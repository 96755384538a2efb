// Package logging provides a minimal logging interface and adapters for
// chatloom.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the engine components use for observability. This package
// includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Every engine component receives its Logger through constructor options;
// there is no process-wide mutable logger state.
package logging
