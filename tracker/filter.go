// Package tracker implements an object tracker as a Viam vision service
// This file contains methods that are useful for filtering out detections.
package tracker

import (
	"strings"

	objdet "go.viam.com/rdk/vision/objectdetection"

	"github.com/viam-modules/flow-tracking/flowsort"
)

// NewAdvancedFilter returns a Detections->Detections filtering method to remove
// detections that do not have a class name in chosenLabels and/or do not have the
// associated minimum confidence. An empty input map will return all detections.
// Input chosenLabels is the map with <"class_name": confidence> key-value pairs.
func NewAdvancedFilter(chosenLabels map[string]float64) objdet.Postprocessor {
	return func(detections []objdet.Detection) []objdet.Detection {
		if len(chosenLabels) < 1 {
			return detections
		}
		out := make([]objdet.Detection, 0, len(detections))
		for _, d := range detections {
			minConf, ok := chosenLabels[baseLabel(d.Label())]
			if ok && d.Score() > minConf {
				out = append(out, d)
			}
		}
		return out
	}
}

// FilterDetections applies the label filter and the global score floor, then converts
// what survives into tracker input with lower-cased class names.
func FilterDetections(chosenLabels map[string]float64, dets []objdet.Detection, conf float64) []flowsort.Detection {
	firstPass := NewAdvancedFilter(chosenLabels)(dets)
	kept := objdet.NewScoreFilter(conf)(firstPass)
	out := make([]flowsort.Detection, 0, len(kept))
	for _, d := range kept {
		fd := flowsort.DetectionFromObjDet(d)
		fd.Label = baseLabel(d.Label())
		out = append(out, fd)
	}
	return out
}

func baseLabel(label string) string {
	return strings.ToLower(strings.Split(label, "_")[0])
}
