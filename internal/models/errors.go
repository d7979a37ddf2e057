package models

import "fmt"

// ConfigurationError reports malformed data that retrying cannot fix:
// unknown persisted states or an unusable job argument payload.
type ConfigurationError struct {
	Field string
	Value string
	Cause error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Cause)
	}
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}
