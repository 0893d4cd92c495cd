package population

import (
	"errors"
	"fmt"
)

// Fatal run conditions. None of them is retried.
var (
	// ErrCapacityExceeded means the live population would pass the safety
	// margin below the fixed array capacity.
	ErrCapacityExceeded = errors.New("population: capacity exceeded")

	// ErrPopulationExtinct means no live agent is left to evolve.
	ErrPopulationExtinct = errors.New("population: extinct")

	// ErrScanInconsistency marks a defect: scan-derived counts or offsets
	// disagree with a direct recount.
	ErrScanInconsistency = errors.New("population: scan inconsistency")
)

// CapacityError carries the numbers behind ErrCapacityExceeded.
type CapacityError struct {
	Live     uint32
	Limit    uint32
	Capacity uint32
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("population: %d live agents exceed limit %d (capacity %d)", e.Live, e.Limit, e.Capacity)
}

func (e *CapacityError) Unwrap() error {
	return ErrCapacityExceeded
}

func inconsistency(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrScanInconsistency, fmt.Sprintf(format, args...))
}
