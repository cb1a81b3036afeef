// Command flowsort-video runs the flow-assisted tracker over a video file and writes
// the reported tracks as MOT result lines.
//
// Detections come from a MOT det.txt file. Without one, a single seed box is placed
// on the first frame and every later frame is empty, so the seed is carried on
// optical flow alone.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"gocv.io/x/gocv"

	"github.com/viam-modules/flow-tracking/flowsort"
	"github.com/viam-modules/flow-tracking/mot"
	"github.com/viam-modules/flow-tracking/opticalflow"
)

// seed is the box used when no detection file is given.
var seed = flowsort.Detection{Box: flowsort.Box{831, 156, 1002, 249}, Score: 100}

func main() {
	videoPath := flag.String("video", "", "video file to track (required)")
	detPath := flag.String("det", "", "MOT det.txt file with per-frame detections (optional)")
	outPath := flag.String("out", "", "MOT result file (default stdout)")
	label := flag.String("label", "", "class label attached to every detection")
	maxAge := flag.Int("max-age", flowsort.DefaultMaxAge, "frames a track survives without a detection")
	minHits := flag.Int("min-hits", flowsort.DefaultMinHits, "consecutive hits before a track is reported")
	iouThreshold := flag.Float64("iou", flowsort.DefaultIOUThreshold, "minimum IOU for a detection to match a track")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *videoPath == "" {
		fmt.Fprintf(os.Stderr, "Error: --video flag is required\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger := logging.NewLogger("flowsort-video")
	if *debug {
		logger = logging.NewDebugLogger("flowsort-video")
	}

	params := flowsort.Params{MaxAge: *maxAge, MinHits: *minHits, IOUThreshold: *iouThreshold}
	if err := run(*videoPath, *detPath, *outPath, *label, params, logger); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func run(videoPath, detPath, outPath, label string, params flowsort.Params, logger logging.Logger) (err error) {
	if err = params.Validate(); err != nil {
		return err
	}

	detections := func(n int) []flowsort.Detection {
		if n == 1 {
			d := seed
			d.Label = label
			return []flowsort.Detection{d}
		}
		return nil
	}
	if detPath != "" {
		f, err := os.Open(detPath)
		if err != nil {
			return errors.Wrap(err, "unable to open detections")
		}
		seq, err := mot.ReadDetections(f, label)
		f.Close()
		if err != nil {
			return err
		}
		logger.Infof("loaded detections for %d frames", seq.Len())
		detections = seq.Frame
	}

	var out io.Writer = os.Stdout
	if outPath != "" {
		f, createErr := os.Create(outPath)
		if createErr != nil {
			return errors.Wrap(createErr, "unable to create result file")
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = errors.Wrap(closeErr, "unable to close result file")
			}
		}()
		out = f
	}
	results := mot.NewWriter(out)

	capture, err := gocv.VideoCaptureFile(videoPath)
	if err != nil {
		return errors.Wrapf(err, "unable to open video %v", videoPath)
	}
	defer capture.Close()

	provider, err := opticalflow.NewProvider(opticalflow.DefaultFeatureParams(), opticalflow.DefaultFlowParams(), logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	var manager *flowsort.Manager
	n := 0
	for {
		if ok := capture.Read(&frame); !ok || frame.Empty() {
			break
		}
		n++
		if manager == nil {
			manager, err = flowsort.NewManager(params, frame.Cols(), frame.Rows(), logger, nil)
			if err != nil {
				return err
			}
		}

		gray, err := opticalflow.BGRToGray(frame)
		if err != nil {
			return errors.Wrapf(err, "frame %d", n)
		}
		flow, err := provider.Next(gray, manager.Mask(), manager.NumTracks() > 0)
		gray.Close()
		if err != nil {
			return errors.Wrapf(err, "frame %d", n)
		}
		_, reported, err := manager.Update(detections(n), flow)
		if err != nil {
			return errors.Wrapf(err, "frame %d", n)
		}
		logger.Debugf("frame %d: %d live tracks, %d reported", n, manager.NumTracks(), len(reported))
		if err := results.Write(n, reported); err != nil {
			return err
		}
	}
	logger.Infof("tracked %d frames", n)
	return nil
}
