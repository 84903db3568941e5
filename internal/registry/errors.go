package registry

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateCache   = errors.New("cache already enabled")
	ErrUnsupportedModel = errors.New("model exposes no compute hook")
)

type DuplicateCacheError struct {
	ModelID string
}

func (e *DuplicateCacheError) Error() string {
	return fmt.Sprintf("cache already enabled for model %s", e.ModelID)
}

func (e *DuplicateCacheError) Is(target error) bool { return target == ErrDuplicateCache }

type UnsupportedModelError struct {
	Model string
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("model %s exposes no compute hook", e.Model)
}

func (e *UnsupportedModelError) Is(target error) bool { return target == ErrUnsupportedModel }
