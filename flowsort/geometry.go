// Package flowsort implements a SORT style multi-object tracker whose tracks coast on
// sparse optical flow between detections.
// This file contains the box geometry used for matching.
package flowsort

import (
	"image"
	"math"
)

// Box is an axis aligned rectangle as [x1, y1, x2, y2] in image coordinates.
type Box [4]float64

// Point is a 2D image coordinate.
type Point struct {
	X, Y float64
}

// BoxFromRect converts an integer rectangle to a Box.
func BoxFromRect(r image.Rectangle) Box {
	return Box{float64(r.Min.X), float64(r.Min.Y), float64(r.Max.X), float64(r.Max.Y)}
}

// Rect rounds the box to the nearest integer rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(
		int(math.Round(b[0])), int(math.Round(b[1])),
		int(math.Round(b[2])), int(math.Round(b[3])),
	)
}

// Finite reports whether every coordinate is a real number.
func (b Box) Finite() bool {
	for _, v := range b {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Translate shifts both corners by (dx, dy).
func (b Box) Translate(dx, dy float64) Box {
	return Box{b[0] + dx, b[1] + dy, b[2] + dx, b[3] + dy}
}

// Contains reports whether p lies inside the box, edges included.
func (b Box) Contains(p Point) bool {
	return b[0] <= p.X && p.X <= b[2] && b[1] <= p.Y && p.Y <= b[3]
}

// Area is zero for degenerate boxes.
func (b Box) Area() float64 {
	w, h := b[2]-b[0], b[3]-b[1]
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IOU returns the intersection over union of 2 boxes
func IOU(a, b Box) float64 {
	w := math.Min(a[2], b[2]) - math.Max(a[0], b[0])
	h := math.Min(a[3], b[3]) - math.Max(a[1], b[1])
	if w <= 0 || h <= 0 {
		return 0
	}
	inter := w * h
	union := a.Area() + b.Area() - inter
	if !(union > 0) {
		return 0
	}
	o := inter / union
	if o > 1 {
		return 1
	}
	return o
}
