package wbc

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNoKinematics is returned by computations that need UpdateKinematics to have run.
	ErrNoKinematics = errors.New("kinematics have not been updated")
	// ErrNoProjection is returned when a contact projection is needed but has not been computed
	// for the current kinematics.
	ErrNoProjection = errors.New("contact constraint has not been calculated")
	// ErrSingularContact is returned when the active contacts are kinematically degenerate and the
	// contact space inertia cannot be inverted.
	ErrSingularContact = errors.New("contact space inertia is singular")
	// ErrNotFloating is returned when a model with a fixed base is handed to New.
	ErrNotFloating = errors.New("whole body control needs a floating base model")
)

// HierarchyError reports that the task QP failed at one priority level. The levels above it were
// resolved; the failing level and every level below contribute no torque.
type HierarchyError struct {
	Level int
	Err   error
}

func (e *HierarchyError) Error() string {
	return fmt.Sprintf("task qp failed at hierarchy level %d: %v", e.Level, e.Err)
}

// Unwrap returns the solver error.
func (e *HierarchyError) Unwrap() error {
	return e.Err
}

func sizeError(what string, got, want int) error {
	return errors.Errorf("%s has %d entries, expected %d", what, got, want)
}
