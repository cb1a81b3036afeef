package tracker

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/viam-modules/flow-tracking/flowsort"
	"github.com/viam-modules/flow-tracking/opticalflow"
)

// Config contains names for necessary resources (camera and vision service)
// and the tracking parameters. Unset optional values fall back to the package defaults.
type Config struct {
	CameraName      string             `json:"camera_name"`
	DetectorName    string             `json:"detector_name"`
	ChosenLabels    map[string]float64 `json:"chosen_labels"`
	MaxFrequency    float64            `json:"max_frequency_hz"`
	MinConfidence   *float64           `json:"min_confidence,omitempty"`
	TriggerCoolDown *float64           `json:"trigger_cool_down_s,omitempty"`

	MaxAge       *int     `json:"max_age,omitempty"`
	MinHits      *int     `json:"min_hits,omitempty"`
	IOUThreshold *float64 `json:"iou_threshold,omitempty"`

	MaxCorners   int      `json:"max_corners,omitempty"`
	QualityLevel *float64 `json:"quality_level,omitempty"`
	MinDistance  *float64 `json:"min_distance,omitempty"`
	BlockSize    int      `json:"block_size,omitempty"`
	WinSize      int      `json:"win_size,omitempty"`
	MaxLevel     *int     `json:"max_level,omitempty"`
}

// Validate validates the config and returns implicit dependencies,
// this Validate checks if the camera and detector(vision svc) exist for the module's vision model.
func (cfg *Config) Validate(path string) ([]string, error) {
	if cfg.CameraName == "" {
		return nil, fmt.Errorf(`expected "camera_name" attribute for flow tracker %q`, path)
	}
	if cfg.DetectorName == "" {
		return nil, fmt.Errorf(`expected "detector_name" attribute for flow tracker %q`, path)
	}
	if cfg.MaxFrequency < 0 {
		return nil, errors.New("frequency(Hz) must be a positive number")
	}
	if cfg.MinConfidence != nil && (*cfg.MinConfidence < 0 || *cfg.MinConfidence > 1) {
		return nil, errors.New("minimum thresholding confidence must be between 0.0 and 1.0")
	}
	if cfg.TriggerCoolDown != nil && *cfg.TriggerCoolDown < 0 {
		return nil, errors.New("trigger_cool_down_s is a duration given in seconds and should be above 0.")
	}
	if _, _, _, err := cfg.trackingParams(); err != nil {
		return nil, errors.Wrapf(err, "flow tracker %q", path)
	}
	return []string{cfg.CameraName, cfg.DetectorName}, nil
}

// trackingParams overlays the configured values on the defaults and validates them.
func (cfg *Config) trackingParams() (flowsort.Params, opticalflow.FeatureParams, opticalflow.FlowParams, error) {
	params := flowsort.DefaultParams()
	if cfg.MaxAge != nil {
		params.MaxAge = *cfg.MaxAge
	}
	if cfg.MinHits != nil {
		params.MinHits = *cfg.MinHits
	}
	if cfg.IOUThreshold != nil {
		params.IOUThreshold = *cfg.IOUThreshold
	}

	features := opticalflow.DefaultFeatureParams()
	if cfg.MaxCorners != 0 {
		features.MaxCorners = cfg.MaxCorners
	}
	if cfg.QualityLevel != nil {
		features.QualityLevel = *cfg.QualityLevel
	}
	if cfg.MinDistance != nil {
		features.MinDistance = *cfg.MinDistance
	}
	if cfg.BlockSize != 0 {
		features.BlockSize = cfg.BlockSize
	}

	flow := opticalflow.DefaultFlowParams()
	if cfg.WinSize != 0 {
		flow.WinSize = cfg.WinSize
	}
	if cfg.MaxLevel != nil {
		flow.MaxLevel = *cfg.MaxLevel
	}

	if err := params.Validate(); err != nil {
		return params, features, flow, err
	}
	if err := features.Validate(); err != nil {
		return params, features, flow, err
	}
	if err := flow.Validate(); err != nil {
		return params, features, flow, err
	}
	return params, features, flow, nil
}
