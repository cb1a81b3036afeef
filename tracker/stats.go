package tracker

import (
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

type benchmark struct {
	Slowest      float64
	Fastest      float64
	Average      float64
	StdDev       float64
	NumberOfRuns int
}

// newBenchmark summarises frame processing times in nanoseconds.
func newBenchmark(times []time.Duration) benchmark {
	if len(times) == 0 {
		return benchmark{}
	}
	xs := make([]float64, len(times))
	for i, d := range times {
		xs[i] = float64(d)
	}
	b := benchmark{
		Slowest:      floats.Max(xs),
		Fastest:      floats.Min(xs),
		Average:      stat.Mean(xs, nil),
		NumberOfRuns: len(xs),
	}
	if len(xs) > 1 {
		b.StdDev = stat.StdDev(xs, nil)
	}
	return b
}
