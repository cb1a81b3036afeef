// Package tracker implements an object tracker as a Viam vision service.
// This file contains methods that handle the label (or name) of a published detection.
// Labels are of the format classname_N where N is the track identity.
package tracker

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	objdet "go.viam.com/rdk/vision/objectdetection"

	"github.com/viam-modules/flow-tracking/flowsort"
)

const unlabelled = "object"

// GetTimestamp will retrieve and format a timestamp to be YYYYMMDD_HHMMSS
func GetTimestamp() string {
	return time.Now().Format("20060102_150405")
}

func trackLabel(class string, id int) string {
	if class == "" {
		class = unlabelled
	}
	return class + "_" + strconv.Itoa(id)
}

// toDetections turns the reported tracks into labelled detections.
func toDetections(reported []flowsort.Reported) []objdet.Detection {
	out := make([]objdet.Detection, 0, len(reported))
	for _, r := range reported {
		out = append(out, objdet.NewDetection(r.Box.Rect(), 1, trackLabel(r.Label, r.ID)))
	}
	return out
}

type trackedObject struct {
	FullLabel string
	Label     string
	Id        int
	Time      string
}

func newTrackedObjectFromLabel(label, timestamp string) (trackedObject, error) {
	i := strings.LastIndex(label, "_")
	if i < 0 {
		return trackedObject{}, errors.Errorf("label %v has no identity", label)
	}
	id, err := strconv.Atoi(label[i+1:])
	if err != nil {
		return trackedObject{}, errors.Wrapf(err, "unable to parse label %v", label)
	}
	return trackedObject{
		FullLabel: label,
		Label:     label[:i],
		Id:        id,
		Time:      timestamp,
	}, nil
}
