package config

import (
	"errors"
	"fmt"
)

var ErrInvalidConfig = errors.New("invalid cache config")

// ValidationError reports a rejected option value. Nothing is applied when
// one is returned.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid cache config: %s=%v: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}
