package mot

import (
	"bytes"
	"strings"
	"testing"

	"go.viam.com/test"

	"github.com/viam-modules/flow-tracking/flowsort"
)

const detFile = `1,-1,831,156,171,93,100,-1,-1,-1
1,-1,10,20,30,40,0.5,-1,-1,-1
# frame 2 has nothing
3,-1,0.5,1.5,10,10,0.9
`

func TestReadDetections(t *testing.T) {
	seq, err := ReadDetections(strings.NewReader(detFile), "boat")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, seq.Len(), test.ShouldEqual, 3)

	first := seq.Frame(1)
	test.That(t, len(first), test.ShouldEqual, 2)
	test.That(t, first[0].Box, test.ShouldResemble, flowsort.Box{831, 156, 1002, 249})
	test.That(t, first[0].Score, test.ShouldEqual, 100.0)
	test.That(t, first[0].Label, test.ShouldEqual, "boat")
	test.That(t, first[1].Box, test.ShouldResemble, flowsort.Box{10, 20, 40, 60})

	test.That(t, seq.Frame(2), test.ShouldBeEmpty)
	test.That(t, seq.Frame(3)[0].Box, test.ShouldResemble, flowsort.Box{0.5, 1.5, 10.5, 11.5})
}

func TestReadDetectionsErrors(t *testing.T) {
	for _, tc := range []struct {
		name  string
		input string
	}{
		{"short line", "1,-1,1,2,3\n"},
		{"not a number", "1,-1,a,2,3,4,1\n"},
		{"frame zero", "0,-1,1,2,3,4,1\n"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadDetections(strings.NewReader(tc.input), "")
			test.That(t, err, test.ShouldNotBeNil)
		})
	}
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	test.That(t, w.Write(1, []flowsort.Reported{
		{ID: 1, Box: flowsort.Box{831, 156, 1002, 249}},
		{ID: 4, Box: flowsort.Box{0.5, 1, 10.25, 2}},
	}), test.ShouldBeNil)
	test.That(t, w.Write(2, nil), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldEqual,
		"1,1,831.00,156.00,171.00,93.00,1,-1,-1,-1\n"+
			"1,4,0.50,1.00,9.75,1.00,1,-1,-1,-1\n")
}
