package flowsort

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestOccupancyMask(t *testing.T) {
	_, err := NewOccupancyMask(0, 10)
	test.That(t, errors.Is(err, ErrInvalidParams), test.ShouldBeTrue)

	m, err := NewOccupancyMask(20, 10)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.Width(), test.ShouldEqual, 20)
	test.That(t, m.Height(), test.ShouldEqual, 10)

	m.Cover(Box{2, 2, 6, 6})
	m.Cover(Box{4, 4, 8, 8})
	test.That(t, m.At(2, 2), test.ShouldEqual, 1)
	test.That(t, m.At(5, 5), test.ShouldEqual, 2)
	test.That(t, m.At(7, 7), test.ShouldEqual, 1)
	// half open on the far edges
	test.That(t, m.At(8, 8), test.ShouldEqual, 0)
	test.That(t, m.At(6, 2), test.ShouldEqual, 0)
	// outside the frame reads as uncovered
	test.That(t, m.At(-1, 0), test.ShouldEqual, 0)
	test.That(t, m.At(20, 0), test.ShouldEqual, 0)

	// boxes leaving the frame are clipped, non-finite and inverted boxes cover nothing
	m.Reset()
	m.Cover(Box{-5, -5, 1, 1})
	m.Cover(Box{18, 8, 40, 40})
	m.Cover(Box{math.NaN(), 0, 5, 5})
	m.Cover(Box{5, 5, 1, 1})
	total := 0
	for y := 0; y < m.Height(); y++ {
		for x := 0; x < m.Width(); x++ {
			total += m.At(x, y)
		}
	}
	test.That(t, total, test.ShouldEqual, 1+4)
	test.That(t, m.At(0, 0), test.ShouldEqual, 1)
	test.That(t, m.At(19, 9), test.ShouldEqual, 1)

	m.Rebuild([]Box{{0, 0, 1, 1}})
	test.That(t, m.At(0, 0), test.ShouldEqual, 1)
	test.That(t, m.At(19, 9), test.ShouldEqual, 0)

	plane := m.Bytes()
	test.That(t, len(plane), test.ShouldEqual, 200)
	test.That(t, plane[0], test.ShouldEqual, byte(255))
	test.That(t, plane[1], test.ShouldEqual, byte(0))
}
