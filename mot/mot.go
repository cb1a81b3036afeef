// Package mot reads detection files and writes tracking results in the MOT challenge
// text format. Detection lines are `frame,id,x,y,w,h,score[,...]` with 1-based frames;
// result lines are `frame,id,x,y,w,h,1,-1,-1,-1`.
package mot

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/viam-modules/flow-tracking/flowsort"
)

// Sequence holds the detections of a whole sequence keyed by frame number.
type Sequence struct {
	frames   map[int][]flowsort.Detection
	maxFrame int
}

// Frame returns the detections of the given frame. Frames without any line are empty.
func (s *Sequence) Frame(n int) []flowsort.Detection {
	return s.frames[n]
}

// Len is the highest frame number seen.
func (s *Sequence) Len() int {
	return s.maxFrame
}

// ReadDetections parses a det.txt stream. label is attached to every detection.
func ReadDetections(r io.Reader, label string) (*Sequence, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	seq := &Sequence{frames: make(map[int][]flowsort.Detection)}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "unable to read detections")
		}
		line, _ := cr.FieldPos(0)
		if len(record) < 7 {
			return nil, errors.Errorf("line %d: expected at least 7 fields, got %d", line, len(record))
		}
		values := make([]float64, 7)
		for i := range values {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d field %d", line, i+1)
			}
			values[i] = v
		}
		frame := int(values[0])
		if frame < 1 {
			return nil, errors.Errorf("line %d: frame numbers start at 1, got %d", line, frame)
		}
		x, y, w, h := values[2], values[3], values[4], values[5]
		seq.frames[frame] = append(seq.frames[frame], flowsort.Detection{
			Box:   flowsort.Box{x, y, x + w, y + h},
			Score: values[6],
			Label: label,
		})
		if frame > seq.maxFrame {
			seq.maxFrame = frame
		}
	}
	return seq, nil
}

// Writer emits reported tracks as MOT result lines.
type Writer struct {
	w *csv.Writer
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: csv.NewWriter(w)}
}

// Write appends one line per reported track of frame n.
func (mw *Writer) Write(n int, reported []flowsort.Reported) error {
	for _, r := range reported {
		b := r.Box
		record := []string{
			strconv.Itoa(n),
			strconv.Itoa(r.ID),
			formatCoord(b[0]),
			formatCoord(b[1]),
			formatCoord(b[2] - b[0]),
			formatCoord(b[3] - b[1]),
			"1", "-1", "-1", "-1",
		}
		if err := mw.w.Write(record); err != nil {
			return errors.Wrapf(err, "unable to write frame %d", n)
		}
	}
	mw.w.Flush()
	return mw.w.Error()
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
