package domain

import (
	"errors"
	"fmt"
)

// Recoverable error kinds. None of them aborts a run.
var (
	// ErrProviderAbsent is returned when a feed has no data for a candidate.
	ErrProviderAbsent = errors.New("provider absent")

	// ErrMalformedData is returned when provider data violates the schema.
	ErrMalformedData = errors.New("malformed data")

	// ErrRiskLimitExceeded is returned when an entry would breach a risk limit.
	ErrRiskLimitExceeded = errors.New("risk limit exceeded")

	// ErrExecutionRejected is returned when a pending trade is rejected.
	ErrExecutionRejected = errors.New("execution rejected")
)

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
