// Package pkg provides shared utilities for the scopefw firmware.
//
// This package contains common functionality used by the device stack,
// the acquisition core and the commands, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error values for USB and acquisition errors
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentScope, "sample rate selected", "ksps", 1000)
//
// # Errors
//
// Errors are sentinel values and are wrapped with context by callers:
//
//	if errors.Is(err, pkg.ErrInvalidParameter) {
//	    // setting left unchanged
//	}
package pkg
