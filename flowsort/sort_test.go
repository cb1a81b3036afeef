package flowsort

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
)

const (
	testWidth  = 1280
	testHeight = 720
)

func newTestManager(t *testing.T, params Params) *Manager {
	t.Helper()
	m, err := NewManager(params, testWidth, testHeight, logging.NewTestLogger(t), nil)
	test.That(t, err, test.ShouldBeNil)
	return m
}

func ids(reported []Reported) []int {
	out := make([]int, 0, len(reported))
	for _, r := range reported {
		out = append(out, r.ID)
	}
	return out
}

// checkMask compares every cell against a brute force count over the live tracks.
func checkMask(t *testing.T, m *Manager, mask *OccupancyMask) {
	t.Helper()
	tracks := m.Tracks()
	for y := 0; y < mask.Height(); y += 7 {
		for x := 0; x < mask.Width(); x += 7 {
			want := 0
			for _, tr := range tracks {
				b := tr.State()
				if float64(x) >= math.Floor(b[0]) && float64(x) < math.Floor(b[2]) && float64(y) >= math.Floor(b[1]) && float64(y) < math.Floor(b[3]) {
					want++
				}
			}
			if mask.At(x, y) != want {
				t.Fatalf("mask at (%d, %d) = %d, want %d", x, y, mask.At(x, y), want)
			}
		}
	}
}

func TestNewManagerRejectsBadParams(t *testing.T) {
	logger := logging.NewTestLogger(t)
	for _, p := range []Params{
		{MaxAge: -1, MinHits: 3, IOUThreshold: 0.3},
		{MaxAge: 1, MinHits: -3, IOUThreshold: 0.3},
		{MaxAge: 1, MinHits: 3, IOUThreshold: 1.5},
		{MaxAge: 1, MinHits: 3, IOUThreshold: -0.1},
		{MaxAge: 1, MinHits: 3, IOUThreshold: math.NaN()},
	} {
		_, err := NewManager(p, testWidth, testHeight, logger, nil)
		test.That(t, errors.Is(err, ErrInvalidParams), test.ShouldBeTrue)
	}
	_, err := NewManager(DefaultParams(), 0, testHeight, logger, nil)
	test.That(t, errors.Is(err, ErrInvalidParams), test.ShouldBeTrue)

	test.That(t, DefaultParams(), test.ShouldResemble, Params{MaxAge: 100, MinHits: 3, IOUThreshold: 0.3})
}

func TestSingleDetectionWarmup(t *testing.T) {
	m := newTestManager(t, DefaultParams())
	dets := []Detection{{Box: Box{831, 156, 1002, 249}, Score: 100}}

	// frame 1 reports the fresh track because the tracker is still warming up
	_, reported, err := m.Update(dets, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids(reported), test.ShouldResemble, []int{1})
	test.That(t, reported[0].Box, test.ShouldResemble, Box{831, 156, 1002, 249})

	for frame := 2; frame <= 3; frame++ {
		_, reported, err = m.Update(dets, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ids(reported), test.ShouldResemble, []int{1})
	}
	tracks := m.Tracks()
	test.That(t, len(tracks), test.ShouldEqual, 1)
	test.That(t, tracks[0].HitStreak, test.ShouldEqual, 3)
	test.That(t, tracks[0].Hits, test.ShouldEqual, 3)
	test.That(t, m.Frame(), test.ShouldEqual, 3)

	// past warm up the streak alone keeps it reported
	_, reported, err = m.Update(dets, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids(reported), test.ShouldResemble, []int{1})
}

func TestNewTrackNeedsMinHitsAfterWarmup(t *testing.T) {
	m := newTestManager(t, DefaultParams())
	a := Detection{Box: Box{10, 10, 60, 60}}
	b := Detection{Box: Box{400, 400, 480, 470}}

	for i := 0; i < 3; i++ {
		_, _, err := m.Update([]Detection{a}, nil)
		test.That(t, err, test.ShouldBeNil)
	}

	_, reported, err := m.Update([]Detection{a, b}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids(reported), test.ShouldResemble, []int{1})

	_, reported, err = m.Update([]Detection{a, b}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids(reported), test.ShouldResemble, []int{1})

	_, reported, err = m.Update([]Detection{a, b}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids(reported), test.ShouldResemble, []int{1, 2})
}

func TestEmptyFramesNeverSpawn(t *testing.T) {
	m := newTestManager(t, Params{MaxAge: 2, MinHits: 3, IOUThreshold: 0.3})
	for i := 0; i < 5; i++ {
		mask, reported, err := m.Update(nil, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, reported, test.ShouldBeEmpty)
		test.That(t, m.NumTracks(), test.ShouldEqual, 0)
		test.That(t, mask.At(0, 0), test.ShouldEqual, 0)
	}
	_, _, err := m.Update([]Detection{}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.NumTracks(), test.ShouldEqual, 0)
}

func TestTrackExpiresAfterMaxAge(t *testing.T) {
	const maxAge = 2
	m := newTestManager(t, Params{MaxAge: maxAge, MinHits: 3, IOUThreshold: 0.3})
	_, reported, err := m.Update([]Detection{{Box: Box{100, 100, 200, 200}}}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids(reported), test.ShouldResemble, []int{1})

	// empty frames keep reporting the coasting track until it is too old
	for i := 1; i <= maxAge; i++ {
		mask, reported, err := m.Update(nil, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ids(reported), test.ShouldResemble, []int{1})
		test.That(t, mask.At(150, 150), test.ShouldEqual, 1)
	}

	mask, reported, err := m.Update(nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reported, test.ShouldBeEmpty)
	test.That(t, m.NumTracks(), test.ShouldEqual, 0)
	test.That(t, mask.At(150, 150), test.ShouldEqual, 0)

	// a detection in the same spot is a new object
	_, reported, err = m.Update([]Detection{{Box: Box{100, 100, 200, 200}}}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.NumTracks(), test.ShouldEqual, 1)
	test.That(t, m.Tracks()[0].ID, test.ShouldEqual, 2)
	test.That(t, reported, test.ShouldBeEmpty)
}

func TestUnmatchedTrackIsNotReportedOnDetectionFrames(t *testing.T) {
	m := newTestManager(t, Params{MaxAge: 5, MinHits: 1, IOUThreshold: 0.3})
	a := Detection{Box: Box{10, 10, 60, 60}}
	b := Detection{Box: Box{400, 400, 480, 470}}
	_, _, err := m.Update([]Detection{a}, nil)
	test.That(t, err, test.ShouldBeNil)

	_, reported, err := m.Update([]Detection{b}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids(reported), test.ShouldResemble, []int{2})

	_, reported, err = m.Update([]Detection{b}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids(reported), test.ShouldResemble, []int{2})

	// the coasting track picks up streak even though it has not been seen
	tracks := m.Tracks()
	test.That(t, tracks[0].ID, test.ShouldEqual, 1)
	test.That(t, tracks[0].TimeSinceUpdate, test.ShouldEqual, 2)
	test.That(t, tracks[0].HitStreak, test.ShouldEqual, 1)

	// matching again resumes the identity
	_, reported, err = m.Update([]Detection{a, b}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids(reported), test.ShouldResemble, []int{1, 2})
}

func TestFlowCarriesTrackBetweenDetections(t *testing.T) {
	m := newTestManager(t, DefaultParams())
	start := Box{100, 100, 140, 140}
	_, _, err := m.Update([]Detection{{Box: start}}, nil)
	test.That(t, err, test.ShouldBeNil)

	// the object drifts 12px right per frame with no detections
	box := start
	for i := 0; i < 3; i++ {
		flow := []Correspondence{
			corr(box[0]+5, box[1]+5, box[0]+17, box[1]+5),
			corr(box[0]+20, box[1]+20, box[0]+23, box[1]+20),
			corr(600, 600, 700, 700),
		}
		mask, reported, err := m.Update(nil, flow)
		test.That(t, err, test.ShouldBeNil)
		box = box.Translate(12, 0)
		test.That(t, len(reported), test.ShouldEqual, 1)
		test.That(t, reported[0].Box, test.ShouldResemble, box)
		checkMask(t, m, mask)
	}

	// a detection at the drifted spot matches the same identity. Its streak restarted
	// while coasting so it is not reported yet.
	_, reported, err := m.Update([]Detection{{Box: Box{137, 100, 177, 140}}}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reported, test.ShouldBeEmpty)
	tracks := m.Tracks()
	test.That(t, len(tracks), test.ShouldEqual, 1)
	test.That(t, tracks[0].ID, test.ShouldEqual, 1)
	test.That(t, tracks[0].TimeSinceUpdate, test.ShouldEqual, 0)
	test.That(t, tracks[0].State(), test.ShouldResemble, Box{137, 100, 177, 140})
}

func TestOverlappingTracksIgnoreSharedFlow(t *testing.T) {
	m := newTestManager(t, DefaultParams())
	a := Box{10, 10, 30, 30}
	b := Box{20, 20, 40, 40}
	mask, _, err := m.Update([]Detection{{Box: a}, {Box: b}}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mask.At(25, 25), test.ShouldEqual, 2)
	test.That(t, mask.At(15, 15), test.ShouldEqual, 1)
	test.That(t, mask.At(35, 35), test.ShouldEqual, 1)
	test.That(t, mask.At(50, 50), test.ShouldEqual, 0)

	flow := []Correspondence{
		corr(25, 25, 125, 125),
		corr(15, 15, 17, 15),
	}
	mask, _, err = m.Update(nil, flow)
	test.That(t, err, test.ShouldBeNil)
	tracks := m.Tracks()
	test.That(t, tracks[0].State(), test.ShouldResemble, Box{12, 10, 32, 30})
	test.That(t, tracks[1].State(), test.ShouldResemble, b)
	checkMask(t, m, mask)
}

func TestMalformedPredictionDropsTrack(t *testing.T) {
	m := newTestManager(t, DefaultParams())
	_, _, err := m.Update([]Detection{{Box: Box{10, 10, 30, 30}}, {Box: Box{200, 200, 230, 230}}}, nil)
	test.That(t, err, test.ShouldBeNil)

	flow := []Correspondence{corr(15, 15, math.Inf(1), 15)}
	mask, reported, err := m.Update([]Detection{{Box: Box{200, 200, 230, 230}}}, flow)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids(reported), test.ShouldResemble, []int{2})
	test.That(t, m.NumTracks(), test.ShouldEqual, 1)
	test.That(t, mask.At(15, 15), test.ShouldEqual, 0)

	// also on frames without detections
	_, _, err = m.Update([]Detection{{Box: Box{10, 10, 30, 30}}, {Box: Box{200, 200, 230, 230}}}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, m.NumTracks(), test.ShouldEqual, 2)
	_, reported, err = m.Update(nil, []Correspondence{corr(15, 15, 15, math.Inf(-1))})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids(reported), test.ShouldResemble, []int{2})
	test.That(t, m.NumTracks(), test.ShouldEqual, 1)
}

func TestSolverFailureIsReturned(t *testing.T) {
	fs := &fakeSolver{assignment: []int{3}}
	m, err := NewManager(DefaultParams(), testWidth, testHeight, logging.NewTestLogger(t), fs)
	test.That(t, err, test.ShouldBeNil)

	dets := []Detection{{Box: Box{10, 10, 30, 30}}}
	_, _, err = m.Update(dets, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fs.calls, test.ShouldEqual, 0)

	_, _, err = m.Update(dets, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrAssignment), test.ShouldBeTrue)
	test.That(t, fs.calls, test.ShouldEqual, 1)
}

func TestIdentitiesAreUniqueAndPositive(t *testing.T) {
	m := newTestManager(t, Params{MaxAge: 1, MinHits: 0, IOUThreshold: 0.3})
	seen := make(map[int]Box)
	for frame := 0; frame < 30; frame++ {
		var dets []Detection
		// a new object every frame, each living for two frames
		x := float64(frame * 40)
		dets = append(dets, Detection{Box: Box{x, 10, x + 30, 40}})
		if frame > 0 {
			px := float64((frame - 1) * 40)
			dets = append(dets, Detection{Box: Box{px, 10, px + 30, 40}})
		}
		mask, reported, err := m.Update(dets, nil)
		test.That(t, err, test.ShouldBeNil)
		checkMask(t, m, mask)
		for _, r := range reported {
			test.That(t, r.ID, test.ShouldBeGreaterThan, 0)
			if prev, ok := seen[r.ID]; ok {
				// the same identity never jumps to another object
				test.That(t, IOU(prev, r.Box) > 0.5, test.ShouldBeTrue)
			}
			seen[r.ID] = r.Box
		}
	}
	test.That(t, len(seen), test.ShouldEqual, 30)
}

func TestResizeKeepsIdentitySequence(t *testing.T) {
	m := newTestManager(t, DefaultParams())
	_, reported, err := m.Update([]Detection{{Box: Box{10, 10, 60, 60}}}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids(reported), test.ShouldResemble, []int{1})

	test.That(t, m.Resize(320, 240), test.ShouldBeNil)
	test.That(t, m.NumTracks(), test.ShouldEqual, 0)
	test.That(t, m.Mask().Width(), test.ShouldEqual, 320)
	test.That(t, m.Mask().Height(), test.ShouldEqual, 240)
	test.That(t, m.Mask().At(20, 20), test.ShouldEqual, 0)

	// same box, but it is a new object on the new geometry
	mask, reported, err := m.Update([]Detection{{Box: Box{10, 10, 60, 60}}}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids(reported), test.ShouldResemble, []int{2})
	test.That(t, mask.At(20, 20), test.ShouldEqual, 1)
	test.That(t, m.Frame(), test.ShouldEqual, 2)

	err = m.Resize(0, 240)
	test.That(t, errors.Is(err, ErrInvalidParams), test.ShouldBeTrue)
	test.That(t, m.Mask().Width(), test.ShouldEqual, 320)
}

func TestSetParamsAppliesToLiveTracks(t *testing.T) {
	m := newTestManager(t, DefaultParams())
	a := Detection{Box: Box{10, 10, 60, 60}}
	b := Detection{Box: Box{400, 400, 480, 470}}
	for i := 0; i < 3; i++ {
		_, _, err := m.Update([]Detection{a}, nil)
		test.That(t, err, test.ShouldBeNil)
	}

	// past the warmup a fresh track needs three hits
	_, reported, err := m.Update([]Detection{a, b}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids(reported), test.ShouldResemble, []int{1})

	test.That(t, m.SetParams(Params{MaxAge: 100, MinHits: 1, IOUThreshold: 0.3}), test.ShouldBeNil)
	_, reported, err = m.Update([]Detection{a, b}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids(reported), test.ShouldResemble, []int{1, 2})

	err = m.SetParams(Params{MaxAge: -1})
	test.That(t, errors.Is(err, ErrInvalidParams), test.ShouldBeTrue)
}
