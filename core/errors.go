package core

import (
	"errors"
	"fmt"
)

// ErrInvalidInput is the root of every input error raised by the core.
// Input errors are not retried; they abort the batch that raised them.
var ErrInvalidInput = errors.New("invalid input")

var (
	ErrMissingBuildingID      = fmt.Errorf("%w: building has no identifier", ErrInvalidInput)
	ErrNoVertices             = fmt.Errorf("%w: building has no vertices", ErrInvalidInput)
	ErrTooFewPoints           = fmt.Errorf("%w: polygon needs at least 3 distinct points", ErrInvalidInput)
	ErrDegenerateTarget       = fmt.Errorf("%w: target polygon has zero area", ErrInvalidInput)
	ErrSelfIntersectingTarget = fmt.Errorf("%w: target polygon is self-intersecting", ErrInvalidInput)
	ErrLengthMismatch         = fmt.Errorf("%w: input slices differ in length", ErrInvalidInput)
	ErrDuplicateBuilding      = fmt.Errorf("%w: duplicate building identifier", ErrInvalidInput)
)

// IsInputError reports whether err belongs to the input error class.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// BuildingError records the failure of a single building batch.
type BuildingError struct {
	BuildingID string
	Err        error
}

func (e *BuildingError) Error() string {
	return fmt.Sprintf("building %q: %v", e.BuildingID, e.Err)
}

func (e *BuildingError) Unwrap() error { return e.Err }
