package flowsort

import (
	"math"

	"github.com/pkg/errors"
)

// OccupancyMask counts, for every pixel of the frame, how many live tracks cover it.
// Flow is only trusted where exactly one track sits.
type OccupancyMask struct {
	width, height int
	cells         []uint16
}

// NewOccupancyMask returns an empty mask the size of the frame.
func NewOccupancyMask(width, height int) (*OccupancyMask, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrInvalidParams, "mask size must be positive, got %dx%d", width, height)
	}
	return &OccupancyMask{
		width:  width,
		height: height,
		cells:  make([]uint16, width*height),
	}, nil
}

// Width is the frame width in pixels.
func (m *OccupancyMask) Width() int { return m.width }

// Height is the frame height in pixels.
func (m *OccupancyMask) Height() int { return m.height }

// At returns the counter at pixel (x, y), 0 outside the frame.
func (m *OccupancyMask) At(x, y int) int {
	if x < 0 || y < 0 || x >= m.width || y >= m.height {
		return 0
	}
	return int(m.cells[y*m.width+x])
}

// Reset zeroes every counter.
func (m *OccupancyMask) Reset() {
	for i := range m.cells {
		m.cells[i] = 0
	}
}

// Cover increments every pixel in [x1, x2) x [y1, y2), clamped to the frame.
// Boxes with a non-finite coordinate cover nothing.
func (m *OccupancyMask) Cover(b Box) {
	if !b.Finite() {
		return
	}
	x0, x1 := span(b[0], b[2], m.width)
	y0, y1 := span(b[1], b[3], m.height)
	for y := y0; y < y1; y++ {
		row := m.cells[y*m.width : (y+1)*m.width]
		for x := x0; x < x1; x++ {
			if row[x] < math.MaxUint16 {
				row[x]++
			}
		}
	}
}

func span(lo, hi float64, limit int) (int, int) {
	start, end := clampIndex(lo, limit), clampIndex(hi, limit)
	if end < start {
		return start, start
	}
	return start, end
}

func clampIndex(v float64, limit int) int {
	if v <= 0 {
		return 0
	}
	if v >= float64(limit) {
		return limit
	}
	return int(v)
}

// Rebuild resets the mask and accumulates the given boxes.
func (m *OccupancyMask) Rebuild(boxes []Box) {
	m.Reset()
	for _, b := range boxes {
		m.Cover(b)
	}
}

// Bytes returns a row-major 8-bit plane, 255 where any track sits and 0 elsewhere.
// It is the layout feature detectors expect for a region-of-interest mask.
func (m *OccupancyMask) Bytes() []byte {
	out := make([]byte, len(m.cells))
	for i, c := range m.cells {
		if c > 0 {
			out[i] = 255
		}
	}
	return out
}
