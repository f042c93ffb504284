package vector

import "fmt"

// ErrDimensionMismatch indicates that two vectors of different length were compared
// or that a vector does not match the dimensionality of an index.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
