// Package logging provides a minimal logging interface and adapters.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the orchestrator, executor and transports use for observability. This package
// includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZerologAdapter for deployments standardised on zerolog
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger, err := logging.New(logging.Config{Level: logging.LogLevelInfo, Format: "json"})
//	orch, err := orchestrator.New(registry, selector, func(o *orchestrator.Options) { o.Logger = logger })
package logging
