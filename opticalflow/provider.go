package opticalflow

import (
	"image"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"gocv.io/x/gocv"

	"github.com/viam-modules/flow-tracking/flowsort"
)

// Provider keeps the previous grayscale frame and turns each new frame into
// correspondences against it.
type Provider struct {
	features FeatureParams
	flow     FlowParams
	logger   logging.Logger
	prev     gocv.Mat
}

// NewProvider validates the parameters and returns a Provider with no previous frame.
func NewProvider(features FeatureParams, flow FlowParams, logger logging.Logger) (*Provider, error) {
	if err := features.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid feature parameters")
	}
	if err := flow.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid flow parameters")
	}
	return &Provider{
		features: features,
		flow:     flow,
		logger:   logger,
		prev:     gocv.NewMat(),
	}, nil
}

// Next returns the correspondences from the previous frame to gray, then remembers
// gray for the next call. When active is false (no live tracks) the flow computation
// is skipped entirely and only the frame is stored.
func (p *Provider) Next(gray gocv.Mat, mask *flowsort.OccupancyMask, active bool) ([]flowsort.Correspondence, error) {
	defer p.remember(gray)
	if !active || p.prev.Empty() {
		return nil, nil
	}
	if p.prev.Cols() != gray.Cols() || p.prev.Rows() != gray.Rows() {
		p.logger.Warnf("frame size changed from %dx%d to %dx%d, skipping flow",
			p.prev.Cols(), p.prev.Rows(), gray.Cols(), gray.Rows())
		return nil, nil
	}
	flow, err := Correspondences(p.prev, gray, mask, p.features, p.flow)
	if err != nil {
		return nil, err
	}
	p.logger.Debugf("%d flow correspondences", len(flow))
	return flow, nil
}

func (p *Provider) remember(gray gocv.Mat) {
	p.prev.Close()
	p.prev = gray.Clone()
}

// Close releases the stored frame.
func (p *Provider) Close() error {
	return p.prev.Close()
}

// Correspondences finds corners of prev inside the mask and tracks them into next.
// Only points whose flow was found are returned.
func Correspondences(
	prev, next gocv.Mat,
	mask *flowsort.OccupancyMask,
	features FeatureParams,
	flow FlowParams,
) ([]flowsort.Correspondence, error) {
	if mask.Width() != prev.Cols() || mask.Height() != prev.Rows() {
		return nil, errors.Errorf("mask is %dx%d but frame is %dx%d", mask.Width(), mask.Height(), prev.Cols(), prev.Rows())
	}

	region, err := gocv.NewMatFromBytes(mask.Height(), mask.Width(), gocv.MatTypeCV8U, mask.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "unable to build feature mask")
	}
	defer region.Close()

	masked := gocv.NewMat()
	defer masked.Close()
	if err := prev.CopyToWithMask(&masked, region); err != nil {
		return nil, errors.Wrap(err, "unable to mask frame")
	}

	corners := gocv.NewMat()
	defer corners.Close()
	if err := gocv.GoodFeaturesToTrack(masked, &corners, features.MaxCorners, features.QualityLevel, features.MinDistance); err != nil {
		return nil, errors.Wrap(err, "unable to find corners")
	}
	if corners.Empty() {
		return nil, nil
	}

	nextPts := gocv.NewMat()
	defer nextPts.Close()
	status := gocv.NewMat()
	defer status.Close()
	trackErr := gocv.NewMat()
	defer trackErr.Close()
	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, flow.MaxIterations, flow.Epsilon)
	if err := gocv.CalcOpticalFlowPyrLKWithParams(prev, next, corners, nextPts, &status, &trackErr,
		image.Pt(flow.WinSize, flow.WinSize), flow.MaxLevel, criteria, 0, 1e-4); err != nil {
		return nil, errors.Wrap(err, "unable to compute optical flow")
	}

	half := features.BlockSize / 2
	out := make([]flowsort.Correspondence, 0, status.Rows())
	for i := 0; i < status.Rows(); i++ {
		if status.GetUCharAt(i, 0) != 1 {
			continue
		}
		old := flowsort.Point{X: float64(corners.GetFloatAt(i, 0)), Y: float64(corners.GetFloatAt(i, 1))}
		if !insideRegion(mask, old, half) {
			continue
		}
		out = append(out, flowsort.Correspondence{
			Old: old,
			New: flowsort.Point{X: float64(nextPts.GetFloatAt(i, 0)), Y: float64(nextPts.GetFloatAt(i, 1))},
		})
	}
	return out, nil
}

// insideRegion reports whether the block around p lies on tracked pixels. Corners on
// the edge of the masked copy come from the mask itself, not from the scene.
func insideRegion(mask *flowsort.OccupancyMask, p flowsort.Point, half int) bool {
	x, y := int(p.X), int(p.Y)
	for _, dy := range []int{-half, 0, half} {
		for _, dx := range []int{-half, 0, half} {
			if mask.At(x+dx, y+dy) == 0 {
				return false
			}
		}
	}
	return true
}

// ToGray converts a decoded camera image to an 8-bit grayscale Mat.
func ToGray(img image.Image) (gocv.Mat, error) {
	rgb, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "unable to convert image")
	}
	defer rgb.Close()
	gray := gocv.NewMat()
	if err := gocv.CvtColor(rgb, &gray, gocv.ColorRGBToGray); err != nil {
		gray.Close()
		return gocv.NewMat(), errors.Wrap(err, "unable to convert image to grayscale")
	}
	return gray, nil
}

// BGRToGray converts a frame read from a gocv capture to grayscale.
func BGRToGray(frame gocv.Mat) (gocv.Mat, error) {
	gray := gocv.NewMat()
	if err := gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray); err != nil {
		gray.Close()
		return gocv.NewMat(), errors.Wrap(err, "unable to convert frame to grayscale")
	}
	return gray, nil
}
