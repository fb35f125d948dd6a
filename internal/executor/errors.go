package executor

import (
	"errors"
	"fmt"
)

// ErrUnknownExecutor is wrapped by ConfigurationError when a spec names an
// executor that is not registered.
var ErrUnknownExecutor = errors.New("unknown executor")

// ConfigurationError reports an invocation that cannot run as configured:
// an unknown executor, malformed forwarded arguments, or a forbidden
// environment override.
type ConfigurationError struct {
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Reason, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Configf returns a ConfigurationError wrapping err.
func Configf(err error, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...), Err: err}
}
