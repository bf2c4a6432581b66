package recorder

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	testCases := []struct {
		name   string
		data   string
		expect Summary
	}{
		{
			name:   "empty",
			expect: Summary{Kinds: map[string]int{}},
		},
		{
			name: "complete",
			data: "PRM FMT 1\nPRM MACHINE car7\nPRM SESSION 42\n" + cardLine + "MNT 1000\nMB 1001 bms 1 2\nDRP 3\nMB 1002 bms 1 2\nDRP 2\n",
			expect: Summary{
				Params:  []string{"FMT 1", "MACHINE car7", "SESSION 42"},
				Session: "42",
				Machine: "car7",
				Card:    "03 SD SIM01 1.0 1badcafe 2016/6",
				Kinds:   map[string]int{"PRM": 3, "CRD": 1, "MNT": 1, "MB": 2, "DRP": 2},
				Dropped: 5,
				Lines:   9,
			},
		},
		{
			name: "cut short",
			data: "PRM FMT 1\nMB 1001 bm",
			expect: Summary{
				Params:  []string{"FMT 1"},
				Kinds:   map[string]int{"PRM": 1, "MB": 1},
				Lines:   2,
				Partial: true,
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expect, Summarize([]byte(tc.data)))
		})
	}
}

func TestSummarizeRecorded(t *testing.T) {
	r := newRig(t, 16384, testConfig())
	r.until(t, StageRecording)
	for _, line := range lines("x", 50) {
		require.NoError(t, r.rec.Record([]byte(line)))
	}
	r.closeFile(t)
	s := Summarize([]byte(r.files(t)["DLG0000.DLA"]))
	require.Equal(t, r.rec.Status().Session, s.Session)
	require.Equal(t, "test-machine", s.Machine)
	require.Equal(t, 50, s.Kinds["x"])
	require.Equal(t, 1, s.Kinds["CRD"])
	require.False(t, s.Partial)
	require.Equal(t, []string{"CRD", "MNT", "PRM", "x"}, s.KindNames())
}
