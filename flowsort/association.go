package flowsort

import "github.com/pkg/errors"

// Match pairs a detection index with a track index.
type Match struct {
	Detection int
	Track     int
}

// Association is the outcome of matching one frame's detections against the predicted
// track boxes. Every detection index and every track index appears exactly once across
// the three fields.
type Association struct {
	Matches             []Match
	UnmatchedDetections []int
	UnmatchedTracks     []int
}

// BuildCostMatrix sets up a cost matrix for the Hungarian algorithm.
// Rows are detections and columns are predicted track boxes. Cost is -IOU
// between the boxes (b/c solver will find min).
func BuildCostMatrix(dets []Detection, predicted []Box) [][]float64 {
	mtx := make([][]float64, len(dets))
	for d, det := range dets {
		row := make([]float64, len(predicted))
		for t, pred := range predicted {
			row[t] = -IOU(det.Box, pred)
		}
		mtx[d] = row
	}
	return mtx
}

// Associate assigns detections to predicted track boxes. Solver proposed pairs whose
// overlap is under threshold are split back into an unmatched detection and an
// unmatched track.
func Associate(dets []Detection, predicted []Box, threshold float64, solver Solver) (Association, error) {
	if len(dets) == 0 || len(predicted) == 0 {
		return Association{
			UnmatchedDetections: indices(len(dets)),
			UnmatchedTracks:     indices(len(predicted)),
		}, nil
	}

	costs := BuildCostMatrix(dets, predicted)
	assignment, err := solver.Solve(costs)
	if err != nil {
		return Association{}, errors.Wrapf(ErrAssignment, "solving %dx%d cost matrix: %v", len(dets), len(predicted), err)
	}
	if err := checkAssignment(assignment, len(dets), len(predicted)); err != nil {
		return Association{}, err
	}

	var out Association
	trackUsed := make([]bool, len(predicted))
	for d, t := range assignment {
		if t == -1 || -costs[d][t] < threshold {
			out.UnmatchedDetections = append(out.UnmatchedDetections, d)
			continue
		}
		out.Matches = append(out.Matches, Match{Detection: d, Track: t})
		trackUsed[t] = true
	}
	for t, used := range trackUsed {
		if !used {
			out.UnmatchedTracks = append(out.UnmatchedTracks, t)
		}
	}
	return out, nil
}

func indices(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
