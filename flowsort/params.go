package flowsort

import "github.com/pkg/errors"

// Defaults used when a value is not configured.
var (
	DefaultMaxAge       = 100
	DefaultMinHits      = 3
	DefaultIOUThreshold = 0.3
)

// Params are the tunables of a Manager.
type Params struct {
	// MaxAge is how many frames a track may go without a detection before it is dropped.
	MaxAge int
	// MinHits is the hit streak needed before a track is reported. The first MinHits
	// frames of a run report every freshly updated track.
	MinHits int
	// IOUThreshold is the minimum overlap for a detection to be matched to a track.
	IOUThreshold float64
}

// DefaultParams returns the stock SORT parameters.
func DefaultParams() Params {
	return Params{
		MaxAge:       DefaultMaxAge,
		MinHits:      DefaultMinHits,
		IOUThreshold: DefaultIOUThreshold,
	}
}

// Validate checks the ranges of every parameter.
func (p Params) Validate() error {
	if p.MaxAge < 0 {
		return errors.Wrapf(ErrInvalidParams, "max_age must not be negative, got %d", p.MaxAge)
	}
	if p.MinHits < 0 {
		return errors.Wrapf(ErrInvalidParams, "min_hits must not be negative, got %d", p.MinHits)
	}
	if !(p.IOUThreshold >= 0 && p.IOUThreshold <= 1) {
		return errors.Wrapf(ErrInvalidParams, "iou_threshold must be between 0.0 and 1.0, got %v", p.IOUThreshold)
	}
	return nil
}
