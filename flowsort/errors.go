package flowsort

import "github.com/pkg/errors"

var (
	// ErrInvalidParams is returned when tracker parameters are rejected at construction.
	ErrInvalidParams = errors.New("invalid tracker parameters")
	// ErrAssignment is returned when the assignment solver fails or proposes an inconsistent pairing.
	ErrAssignment = errors.New("assignment solver failure")
)
