// Package opticalflow supplies the sparse point correspondences the tracker coasts on.
// Corners are picked on the previous frame inside the tracked regions and followed
// into the current frame with pyramidal Lucas-Kanade.
package opticalflow

import "github.com/pkg/errors"

// FeatureParams configures the Shi-Tomasi corner search.
type FeatureParams struct {
	MaxCorners   int
	QualityLevel float64
	MinDistance  float64
	// BlockSize is the neighbourhood a corner is scored on. Corners whose block is not
	// fully inside a tracked region are discarded.
	BlockSize int
}

// FlowParams configures the Lucas-Kanade search.
type FlowParams struct {
	WinSize       int
	MaxLevel      int
	MaxIterations int
	Epsilon       float64
}

// DefaultFeatureParams returns 100 corners at quality 0.3, 7 px apart, scored on 7x7 blocks.
func DefaultFeatureParams() FeatureParams {
	return FeatureParams{
		MaxCorners:   100,
		QualityLevel: 0.3,
		MinDistance:  7,
		BlockSize:    7,
	}
}

// DefaultFlowParams returns a 15x15 window over 3 pyramid levels, stopping after 10
// iterations or a 0.03 step.
func DefaultFlowParams() FlowParams {
	return FlowParams{
		WinSize:       15,
		MaxLevel:      2,
		MaxIterations: 10,
		Epsilon:       0.03,
	}
}

// Validate checks the ranges of the corner search parameters.
func (p FeatureParams) Validate() error {
	if p.MaxCorners <= 0 {
		return errors.Errorf("max_corners must be positive, got %d", p.MaxCorners)
	}
	if !(p.QualityLevel > 0 && p.QualityLevel <= 1) {
		return errors.Errorf("quality_level must be in (0, 1], got %v", p.QualityLevel)
	}
	if p.MinDistance < 0 {
		return errors.Errorf("min_distance must not be negative, got %v", p.MinDistance)
	}
	if p.BlockSize <= 0 {
		return errors.Errorf("block_size must be positive, got %d", p.BlockSize)
	}
	return nil
}

// Validate checks the ranges of the Lucas-Kanade parameters.
func (p FlowParams) Validate() error {
	if p.WinSize < 3 {
		return errors.Errorf("win_size must be at least 3, got %d", p.WinSize)
	}
	if p.MaxLevel < 0 {
		return errors.Errorf("max_level must not be negative, got %d", p.MaxLevel)
	}
	if p.MaxIterations <= 0 {
		return errors.Errorf("max_iterations must be positive, got %d", p.MaxIterations)
	}
	if p.Epsilon < 0 {
		return errors.Errorf("epsilon must not be negative, got %v", p.Epsilon)
	}
	return nil
}
