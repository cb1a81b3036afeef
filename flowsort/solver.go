package flowsort

import (
	hg "github.com/charles-haynes/munkres"
	"github.com/pkg/errors"
)

// Solver finds a minimum cost assignment. The result holds, for every row, the
// assigned column or -1 when the row is left unassigned.
type Solver interface {
	Solve(cost [][]float64) ([]int, error)
}

// MunkresSolver solves assignments with the Hungarian algorithm.
type MunkresSolver struct{}

// Solve builds and runs the Hungarian algorithm on the cost matrix.
func (MunkresSolver) Solve(cost [][]float64) ([]int, error) {
	HA, err := hg.NewHungarianAlgorithm(cost)
	if err != nil {
		return nil, errors.Wrap(err, "unable to build hungarian algorithm")
	}
	return HA.Execute(), nil
}

// checkAssignment rejects assignments that would corrupt identities: wrong length,
// columns out of range or a column used twice.
func checkAssignment(assignment []int, rows, cols int) error {
	if len(assignment) != rows {
		return errors.Wrapf(ErrAssignment, "got %d assignments for %d rows", len(assignment), rows)
	}
	seen := make(map[int]struct{}, len(assignment))
	for row, col := range assignment {
		if col == -1 {
			continue
		}
		if col < 0 || col >= cols {
			return errors.Wrapf(ErrAssignment, "row %d assigned to column %d, only %d columns", row, col, cols)
		}
		if _, ok := seen[col]; ok {
			return errors.Wrapf(ErrAssignment, "column %d assigned twice", col)
		}
		seen[col] = struct{}{}
	}
	return nil
}
