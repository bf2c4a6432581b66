package recorder

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stvnrhodes/calsol/pkg/fat32"
	fx "github.com/stvnrhodes/calsol/pkg/framework"
	"github.com/stvnrhodes/calsol/pkg/sd"
	"github.com/stvnrhodes/calsol/pkg/sd/sim"
	"github.com/stvnrhodes/calsol/pkg/storage"
)

const cardLine = "CRD 03 SD SIM01 1.0 1badcafe 2016/6\n"

type rig struct {
	mem sim.Memory
	sc  *sim.Card
	rec *Recorder
	now time.Time
}

func testConfig() *Config {
	conf := NewConfig()
	conf.PerfInterval = 0
	conf.MachineID = "test-machine"
	conf.Params = []string{"CANCHA 0 Vehicle"}
	return conf
}

func newRig(t *testing.T, blocks uint32, conf *Config) *rig {
	mem := sim.NewMemory(blocks)
	_, err := fat32.Format(mem, blocks, fat32.FormatOptions{SectorsPerCluster: 1})
	require.NoError(t, err)
	sc := sim.NewCard(mem, blocks)
	rec, err := conf.NewRecorder(sd.NewCard(sc), sc)
	require.NoError(t, err)
	return &rig{mem: mem, sc: sc, rec: rec, now: time.Unix(1500000000, 0)}
}

func (r *rig) tasks() bool {
	r.now = r.now.Add(time.Millisecond)
	return r.rec.Tasks(r.now)
}

func (r *rig) until(t *testing.T, stage Stage) {
	for i := 0; r.rec.Stage() != stage; i++ {
		require.True(t, i < 1<<20, "stuck in %s waiting for %s", r.rec.Stage(), stage)
		r.tasks()
	}
}

func (r *rig) drain(t *testing.T) {
	for i, more := 0, true; more || r.rec.Status().Buffered > 0; i++ {
		require.True(t, i < 1<<20, "stalled")
		more = r.tasks()
	}
}

func (r *rig) closeFile(t *testing.T) {
	r.rec.Command(CmdClose)
	r.until(t, StageClosed)
}

// files reads every file of the image through a second card.
func (r *rig) files(t *testing.T) map[string]string {
	sc := sim.NewCard(r.mem, r.sc.Blocks())
	card := sd.NewCard(sc)
	require.Equal(t, storage.Busy, card.Initialize())
	_, err := storage.Wait(100, card.InitializeResult)
	require.NoError(t, err)
	vol := fat32.NewVolume(card)
	require.NoError(t, fat32.MountSync(vol))
	entries, err := fat32.ReadDir(vol)
	require.NoError(t, err)
	files := make(map[string]string)
	for _, e := range entries {
		data, err := fat32.ReadFile(vol, e.FullName())
		require.NoError(t, err)
		files[e.FullName()] = string(data)
	}
	return files
}

func header(session string) string {
	return "PRM FMT 1\nPRM SW " + Version + "\nPRM TIMEBASE 1ms UNIX\nPRM MACHINE test-machine\n" +
		"PRM SESSION " + session + "\nPRM CANCHA 0 Vehicle\nPRM INIT "
}

func lines(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s %04d %s\n", prefix, i, strings.Repeat("x", i%50))
	}
	return out
}

func TestRecordAndClose(t *testing.T) {
	r := newRig(t, 16384, testConfig())
	r.until(t, StageRecording)
	session := r.rec.Status().Session
	recs := lines("CAN", 2000)
	for _, l := range recs {
		for r.rec.Record([]byte(l)) != nil {
			r.tasks()
		}
		r.tasks()
	}
	r.closeFile(t)

	st := r.rec.Status()
	require.Equal(t, StageClosed, st.Stage)
	require.Equal(t, "DLG0000.DLA", st.File)
	require.EqualValues(t, 1, st.Files)
	require.EqualValues(t, len(recs), st.Records)
	require.NotZero(t, st.BlocksWritten)
	require.NotZero(t, st.FATWrites)

	data := r.files(t)["DLG0000.DLA"]
	require.Equal(t, int(st.Committed), len(data))
	require.True(t, strings.HasPrefix(data, header(session)))

	// card identity and mount time follow the header, then every record
	// in order with drops reported in place
	i := strings.Index(data, cardLine)
	require.Positive(t, i)
	body := data[i+len(cardLine):]
	require.True(t, strings.HasPrefix(body, "MNT "))
	body = body[strings.Index(body, "\n")+1:]
	var got []string
	for _, l := range strings.SplitAfter(body, "\n") {
		if l != "" && !strings.HasPrefix(l, "DRP ") {
			got = append(got, l)
		}
	}
	require.Equal(t, recs, got)
}

func TestRotate(t *testing.T) {
	r := newRig(t, 16384, testConfig())
	r.until(t, StageRecording)
	first := r.rec.Status().Session
	require.NoError(t, r.rec.Record([]byte("first file\n")))
	r.rec.Command(CmdRotate)
	r.until(t, StageClosed)
	r.until(t, StageRecording)
	st := r.rec.Status()
	require.Equal(t, "DLG0001.DLA", st.File)
	second := st.Session
	require.NotEqual(t, first, second)
	r.drain(t)
	require.NoError(t, r.rec.Record([]byte("second file\n")))
	r.closeFile(t)

	files := r.files(t)
	require.Len(t, files, 2)
	require.True(t, strings.HasPrefix(files["DLG0000.DLA"], header(first)))
	require.True(t, strings.HasSuffix(files["DLG0000.DLA"], "first file\n"))
	require.True(t, strings.HasPrefix(files["DLG0001.DLA"], header(second)))
	require.True(t, strings.HasSuffix(files["DLG0001.DLA"], "second file\n"))
	require.EqualValues(t, 2, r.rec.Status().Files)
}

func TestCommandIgnoredWithoutFile(t *testing.T) {
	r := newRig(t, 16384, testConfig())
	r.sc.Remove()
	r.rec.Command(CmdClose)
	r.rec.Command(CmdRotate)
	r.tasks()
	require.Equal(t, StageNoCard, r.rec.Stage())
	r.sc.Insert()
	r.until(t, StageRecording)
	require.False(t, r.rec.buf.CloseRequested())
}

func TestCardRemoval(t *testing.T) {
	r := newRig(t, 16384, testConfig())
	r.until(t, StageRecording)
	first := r.rec.Status().Session
	r.drain(t)

	r.sc.Remove()
	r.tasks()
	require.Equal(t, StageNoCard, r.rec.Stage())
	require.NotEqual(t, first, r.rec.Status().Session)
	require.Equal(t, sd.StateUninitialized, r.rec.card.State())
	// records keep buffering while the card is out
	require.NoError(t, r.rec.Record([]byte("while out\n")))
	r.tasks()
	require.Equal(t, StageNoCard, r.rec.Stage())

	r.sc.Insert()
	r.until(t, StageRecording)
	st := r.rec.Status()
	require.Equal(t, "DLG0001.DLA", st.File)
	require.Zero(t, st.InitTries)
	r.closeFile(t)

	data := r.files(t)["DLG0001.DLA"]
	require.True(t, strings.HasPrefix(data, header(st.Session)))
	require.Contains(t, data, "while out\n"+cardLine)
}

func TestDropMarker(t *testing.T) {
	conf := testConfig()
	conf.BufferSize = 1024
	r := newRig(t, 16384, conf)
	r.sc.Remove()
	rec := []byte(strings.Repeat("d", 99) + "\n")
	kept := 0
	for r.rec.Record(rec) == nil {
		kept++
	}
	require.Positive(t, kept)
	require.Error(t, r.rec.Record(rec))
	require.Error(t, r.rec.Record(rec))
	require.EqualValues(t, 3, r.rec.Status().Drops)

	r.sc.Insert()
	r.until(t, StageRecording)
	r.drain(t)
	require.NoError(t, r.rec.Record([]byte("after\n")))
	r.closeFile(t)

	data := r.files(t)["DLG0000.DLA"]
	require.Equal(t, kept, strings.Count(data, string(rec)))
	require.True(t, strings.HasSuffix(data, "\nafter\n"))
	// markers may go out early while a few bytes are free, together they
	// report every drop
	var reported int
	for _, l := range strings.Split(data, "\n") {
		var n int
		if _, err := fmt.Sscanf(l, "DRP %d", &n); err == nil {
			reported += n
		}
	}
	require.Equal(t, 3, reported)
	require.Regexp(t, `DRP \d+\nafter\n$`, data)
}

func TestInitRetries(t *testing.T) {
	conf := testConfig()
	conf.MaxInitTries = 3
	r := newRig(t, 16384, conf)
	r.sc.NeverReady = true
	r.until(t, StageFailed)
	require.Equal(t, 3, r.rec.Status().InitTries)
	require.EqualValues(t, 3, r.rec.Status().Errors)

	// a healthy card needs to be reinserted
	r.sc.NeverReady = false
	for i := 0; i < 100; i++ {
		r.tasks()
	}
	require.Equal(t, StageFailed, r.rec.Stage())
	r.sc.Remove()
	r.tasks()
	require.Equal(t, StageNoCard, r.rec.Stage())
	require.Zero(t, r.rec.Status().InitTries)
	r.sc.Insert()
	r.until(t, StageRecording)
}

func TestUnsupportedCard(t *testing.T) {
	r := newRig(t, 16384, testConfig())
	r.sc.RejectVoltage = true
	r.until(t, StageFailed)
	st := r.rec.Status()
	require.EqualValues(t, 1, st.Errors)
	require.Equal(t, defaultConfig.MaxInitTries, st.InitTries)
	require.Empty(t, st.Card)
}

func TestErrorEscalation(t *testing.T) {
	conf := testConfig()
	conf.MaxErrors = 3
	r := newRig(t, 16384, conf)
	r.until(t, StageRecording)
	r.drain(t)

	r.sc.WriteFault = func(uint32) bool { return true }
	for _, l := range lines("LOST", 40) {
		require.NoError(t, r.rec.Record([]byte(l)))
	}
	for i := 0; r.rec.Status().Resets == 0; i++ {
		require.True(t, i < 1<<20, "no reset")
		r.tasks()
	}
	st := r.rec.Status()
	require.GreaterOrEqual(t, st.Errors, uint64(3))
	require.Equal(t, StageNoCard, st.Stage)
	// the lost records went with the old file, only the new header is left
	require.Positive(t, st.Buffered)
	require.Less(t, st.Buffered, 300)

	r.sc.WriteFault = nil
	r.until(t, StageRecording)
	require.Equal(t, "DLG0001.DLA", r.rec.Status().File)
	require.NoError(t, r.rec.Record([]byte("recovered\n")))
	r.closeFile(t)
	data := r.files(t)["DLG0001.DLA"]
	require.True(t, strings.HasSuffix(data, "recovered\n"))
	require.NotContains(t, data, "LOST")
}

func TestVolumeFull(t *testing.T) {
	r := newRig(t, 700, testConfig())
	r.until(t, StageRecording)
	rec := []byte(strings.Repeat("f", 99) + "\n")
	for i := 0; r.rec.Stage() != StageClosed; i++ {
		require.True(t, i < 1<<20, "volume never filled")
		r.rec.Record(rec)
		r.tasks()
	}
	st := r.rec.Status()
	require.EqualValues(t, 1, st.Files)
	require.NotZero(t, st.Drops)

	// a full volume takes no more files
	r.rec.Command(CmdRotate)
	for i := 0; i < 100; i++ {
		r.tasks()
	}
	require.Equal(t, StageClosed, r.rec.Stage())
	require.Error(t, r.rec.Record(rec))

	data := r.files(t)["DLG0000.DLA"]
	require.Equal(t, int(st.Committed), len(data))
	require.Greater(t, len(data), 300*1024)
	// every accepted record missing from the file is counted as dropped
	lost := st.Records - uint64(strings.Count(data, string(rec)))
	require.Positive(t, lost)
	require.LessOrEqual(t, lost, st.Drops)
}

func TestShutdownClose(t *testing.T) {
	r := newRig(t, 16384, testConfig())
	require.NoError(t, r.rec.Close(10))
	r.until(t, StageRecording)
	require.NoError(t, r.rec.Record([]byte("last words\n")))
	require.NoError(t, r.rec.Close(1<<20))
	require.Equal(t, StageClosed, r.rec.Stage())
	require.True(t, strings.HasSuffix(r.files(t)["DLG0000.DLA"], "last words\n"))
}

func TestLoop(t *testing.T) {
	conf := testConfig()
	conf.PerfInterval = time.Second
	r := newRig(t, 16384, conf)
	l := fx.NewLoop()
	r.rec.AddToLoop(l)
	ctx := context.Background()
	step := func(d time.Duration) {
		r.now = r.now.Add(d)
		l.Step(ctx, r.now)
	}
	for i := 0; r.rec.Stage() != StageRecording; i++ {
		require.True(t, i < 1<<20)
		step(time.Millisecond)
	}

	l.PostMessage(&RecordMsg{Data: []byte("via loop\n")})
	l.PostMessage(&SupplyMsg{Value: 2400})
	step(time.Millisecond)
	l.PostMessage(&SupplyMsg{Value: 2400})
	step(2500 * time.Millisecond)
	require.Equal(t, TermArmed, r.rec.Status().Terminate)

	l.PostMessage(&SupplyMsg{Value: 1000})
	step(time.Millisecond)
	require.Equal(t, TermFiring, r.rec.Status().Terminate)
	l.PostMessage(&SupplyMsg{Value: 1000})
	step(2500 * time.Millisecond)
	for i := 0; r.rec.Stage() != StageClosed; i++ {
		require.True(t, i < 1<<20)
		step(time.Millisecond)
	}
	st := r.rec.Status()
	require.Equal(t, TermDisarmed, st.Terminate)
	require.EqualValues(t, 1000, st.Supply)

	data := r.files(t)["DLG0000.DLA"]
	require.Contains(t, data, "via loop\n")
	require.Contains(t, data, "\nPS ")
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(c *Config)
		ok     bool
	}{
		{name: "defaults", modify: func(c *Config) {}, ok: true},
		{name: "tiny buffer", modify: func(c *Config) { c.BufferSize = 10 }},
		{name: "long name", modify: func(c *Config) { c.FileName = "DATALOGGER" }},
		{name: "digits past name", modify: func(c *Config) { c.PrefixLen = 5 }},
		{name: "no digits", modify: func(c *Config) { c.Digits = 0 }},
		{name: "long ext", modify: func(c *Config) { c.FileExt = "DATA" }},
		{name: "no tries", modify: func(c *Config) { c.MaxInitTries = 0 }},
		{name: "inverted thresholds", modify: func(c *Config) { c.AutoTerminate.Low = 3000 }},
		{name: "thresholds ignored when disabled", modify: func(c *Config) {
			c.AutoTerminate.Enabled = false
			c.AutoTerminate.Low = 3000
		}, ok: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conf := NewConfig()
			tc.modify(conf)
			if tc.ok {
				require.NoError(t, conf.Validate())
			} else {
				require.Error(t, conf.Validate())
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	for _, c := range []Command{CmdClose, CmdRotate} {
		parsed, ok := ParseCommand(c.String())
		require.True(t, ok)
		require.Equal(t, c, parsed)
	}
	_, ok := ParseCommand("format")
	require.False(t, ok)
}
