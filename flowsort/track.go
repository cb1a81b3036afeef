package flowsort

import (
	"image"

	objdet "go.viam.com/rdk/vision/objectdetection"
)

// Detection is one detector output for the current frame. Score and Label are carried
// through to reports but play no part in matching.
type Detection struct {
	Box   Box
	Score float64
	Label string
}

// DetectionFromObjDet converts an rdk detection.
func DetectionFromObjDet(det objdet.Detection) Detection {
	return Detection{
		Box:   BoxFromRect(*det.BoundingBox()),
		Score: det.Score(),
		Label: det.Label(),
	}
}

// Correspondence is one feature seen at Old in the previous frame and at New in the
// current one.
type Correspondence struct {
	Old, New Point
}

// Displacement is New - Old.
func (c Correspondence) Displacement() (float64, float64) {
	return c.New.X - c.Old.X, c.New.Y - c.Old.Y
}

// Track is the state of one tracked object.
type Track struct {
	ID              int
	Label           string
	TimeSinceUpdate int
	Hits            int
	HitStreak       int
	Age             int

	box     Box
	history []Box
}

// newTrack starts a track from an unmatched detection. The spawning detection counts
// as the first hit.
func newTrack(id int, det Detection) *Track {
	return &Track{
		ID:        id,
		Label:     det.Label,
		Hits:      1,
		HitStreak: 1,
		box:       det.Box,
	}
}

// Predict moves the box by the dominant local motion. Only correspondences starting
// inside the box on a pixel covered by this track alone are considered, and the one
// with the largest displacement wins outright.
func (tr *Track) Predict(flow []Correspondence, mask *OccupancyMask) Box {
	var vx, vy, best float64
	for _, c := range flow {
		if !tr.box.Contains(c.Old) {
			continue
		}
		if mask == nil || mask.At(int(c.Old.X), int(c.Old.Y)) != 1 {
			continue
		}
		dx, dy := c.Displacement()
		if d2 := dx*dx + dy*dy; d2 > best {
			best, vx, vy = d2, dx, dy
		}
	}
	tr.box = tr.box.Translate(vx, vy)

	tr.Age++
	if tr.TimeSinceUpdate > 0 {
		tr.HitStreak = 0
	}
	tr.TimeSinceUpdate++
	tr.history = append(tr.history, tr.box)
	return tr.history[len(tr.history)-1]
}

// Absorb corrects the track with a matched detection.
func (tr *Track) Absorb(det Detection) {
	tr.TimeSinceUpdate = 0
	tr.history = tr.history[:0]
	tr.Hits++
	tr.HitStreak++
	tr.box = det.Box
	if det.Label != "" {
		tr.Label = det.Label
	}
}

// Coast keeps the track where it is for a frame without a detection. It still counts
// towards the hit streak but leaves TimeSinceUpdate running, so an unconfirmed track
// keeps ageing towards removal.
func (tr *Track) Coast(box Box) {
	tr.box = box
	tr.HitStreak++
}

// State returns the current box.
func (tr *Track) State() Box {
	return tr.box
}

// Rect returns the current box as an integer rectangle.
func (tr *Track) Rect() image.Rectangle {
	return tr.box.Rect()
}
