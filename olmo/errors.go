package olmo

import "fmt"

// ConfigurationError indicates a structurally invalid or incomplete
// descriptor: a missing mode-specific field, a missing mesh for a requested
// strategy, or a shard degree that does not divide the world size. It is
// always fatal to the current build and never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// NotImplementedError indicates a recognized tagged variant that this
// version does not handle. Unlike a ConfigurationError it signals a
// caller/version mismatch rather than bad input.
type NotImplementedError struct {
	What string
}

func (e *NotImplementedError) Error() string {
	return "not implemented: " + e.What
}

func notImplemented(format string, args ...any) error {
	return &NotImplementedError{What: fmt.Sprintf(format, args...)}
}
