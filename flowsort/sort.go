package flowsort

import (
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// Reported is one track emitted for a frame.
type Reported struct {
	// ID is positive and never reused within a Manager.
	ID    int
	Box   Box
	Label string
}

// Manager owns the live tracks and runs one predict, associate, update, spawn, prune
// cycle per frame.
type Manager struct {
	params Params
	solver Solver
	logger logging.Logger

	tracks []*Track
	mask   *OccupancyMask
	frame  int
	nextID int
}

// NewManager validates params and returns a Manager for frames of the given size.
// A nil solver selects the Hungarian algorithm.
func NewManager(params Params, width, height int, logger logging.Logger, solver Solver) (*Manager, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	mask, err := NewOccupancyMask(width, height)
	if err != nil {
		return nil, err
	}
	if solver == nil {
		solver = MunkresSolver{}
	}
	return &Manager{
		params: params,
		solver: solver,
		logger: logger,
		mask:   mask,
		nextID: 1,
	}, nil
}

// Update advances the tracker by one frame. It must be called for every frame, with
// nil or empty dets when the detector found nothing, since ageing counts calls.
// flow holds the correspondences between the previous frame and this one.
//
// The returned mask is owned by the Manager and is rewritten by the next call.
func (m *Manager) Update(dets []Detection, flow []Correspondence) (*OccupancyMask, []Reported, error) {
	m.frame++

	malformed := make(map[int]struct{})
	for i, tr := range m.tracks {
		if pos := tr.Predict(flow, m.mask); !pos.Finite() {
			m.logger.Warnf("track %d predicted a non-finite box %v on frame %d, dropping it", tr.ID, pos, m.frame)
			malformed[i] = struct{}{}
		}
	}
	m.compact(malformed)

	if len(dets) == 0 {
		return m.finishFrame(func(tr *Track) bool {
			return tr.TimeSinceUpdate <= m.params.MaxAge
		})
	}

	predicted := make([]Box, len(m.tracks))
	for i, tr := range m.tracks {
		predicted[i] = tr.State()
	}
	assoc, err := Associate(dets, predicted, m.params.IOUThreshold, m.solver)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "associating frame %d", m.frame)
	}

	matched := make(map[int]int, len(assoc.Matches))
	for _, match := range assoc.Matches {
		matched[match.Track] = match.Detection
	}
	for i, tr := range m.tracks {
		if d, ok := matched[i]; ok {
			tr.Absorb(dets[d])
		} else {
			tr.Coast(tr.State())
		}
	}

	for _, d := range assoc.UnmatchedDetections {
		tr := newTrack(m.nextID, dets[d])
		m.nextID++
		m.tracks = append(m.tracks, tr)
		m.logger.Debugf("frame %d: new track %d at %v", m.frame, tr.ID, tr.State())
	}

	return m.finishFrame(func(tr *Track) bool {
		return tr.TimeSinceUpdate < 1 && (tr.HitStreak >= m.params.MinHits || m.frame <= m.params.MinHits)
	})
}

// finishFrame reports the tracks accepted by report, drops the ones past MaxAge and
// rebuilds the mask from the survivors.
func (m *Manager) finishFrame(report func(*Track) bool) (*OccupancyMask, []Reported, error) {
	var out []Reported
	dead := make(map[int]struct{})
	for i, tr := range m.tracks {
		if report(tr) {
			out = append(out, Reported{ID: tr.ID, Box: tr.State(), Label: tr.Label})
		}
		if tr.TimeSinceUpdate > m.params.MaxAge {
			m.logger.Debugf("frame %d: track %d unseen for %d frames, removing", m.frame, tr.ID, tr.TimeSinceUpdate)
			dead[i] = struct{}{}
		}
	}
	m.compact(dead)

	boxes := make([]Box, len(m.tracks))
	for i, tr := range m.tracks {
		boxes[i] = tr.State()
	}
	m.mask.Rebuild(boxes)
	return m.mask, out, nil
}

// compact removes the tracks at the given indices in one pass, keeping creation order.
func (m *Manager) compact(remove map[int]struct{}) {
	if len(remove) == 0 {
		return
	}
	kept := m.tracks[:0]
	for i, tr := range m.tracks {
		if _, ok := remove[i]; !ok {
			kept = append(kept, tr)
		}
	}
	for i := len(kept); i < len(m.tracks); i++ {
		m.tracks[i] = nil
	}
	m.tracks = kept
}

// Resize starts over on frames of a new size. Live tracks are dropped since their
// boxes belong to the old geometry; the frame counter and the identity sequence carry
// on so no identity is handed out twice.
func (m *Manager) Resize(width, height int) error {
	mask, err := NewOccupancyMask(width, height)
	if err != nil {
		return err
	}
	m.logger.Debugf("frame %d: resized to %dx%d, dropping %d tracks", m.frame, width, height, len(m.tracks))
	for i := range m.tracks {
		m.tracks[i] = nil
	}
	m.tracks = m.tracks[:0]
	m.mask = mask
	return nil
}

// SetParams swaps the tunables. Live tracks are kept and judged by the new values
// from the next Update on.
func (m *Manager) SetParams(params Params) error {
	if err := params.Validate(); err != nil {
		return err
	}
	m.params = params
	return nil
}

// NumTracks is the number of live tracks. Flow need not be computed when it is zero.
func (m *Manager) NumTracks() int {
	return len(m.tracks)
}

// Frame is the number of Update calls so far.
func (m *Manager) Frame() int {
	return m.frame
}

// Mask returns the occupancy mask built by the last Update.
func (m *Manager) Mask() *OccupancyMask {
	return m.mask
}

// Tracks returns a snapshot of the live tracks in creation order.
func (m *Manager) Tracks() []Track {
	out := make([]Track, 0, len(m.tracks))
	for _, tr := range m.tracks {
		cp := *tr
		cp.history = append([]Box(nil), tr.history...)
		out = append(out, cp)
	}
	return out
}
