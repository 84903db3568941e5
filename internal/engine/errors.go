package engine

import (
	"errors"
	"fmt"
)

var ErrInvalidState = errors.New("cache state invariant violated")

// InvalidStateError means a skip was selected while no real result had been
// cached. It indicates a defect in the decision logic, not a user error.
type InvalidStateError struct {
	ModelID string
	Step    int
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cache state invariant violated: model %s selected a skip at step %d with no cached output", e.ModelID, e.Step)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}
