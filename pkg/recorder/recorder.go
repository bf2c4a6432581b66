// Package recorder runs the storage pipeline of the data logger: it brings
// up the card, mounts the volume, opens numbered files and keeps records
// flowing into them across card removal, errors and power loss.
package recorder

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/stvnrhodes/calsol/pkg/datalog"
	"github.com/stvnrhodes/calsol/pkg/fat32"
	fx "github.com/stvnrhodes/calsol/pkg/framework"
	"github.com/stvnrhodes/calsol/pkg/sd"
	"github.com/stvnrhodes/calsol/pkg/storage"
)

// Version is written into every file header.
const Version = "1.0"

// CardDetector reports card presence, e.g. a card-detect switch.
type CardDetector interface {
	Detect() bool
}

// Recorder is the control loop side of the data logger. All methods must
// be called from the loop goroutine.
type Recorder struct {
	Config

	card     *sd.Card
	detect   CardDetector
	buf      *datalog.Buffer
	autoTerm *AutoTerminate

	vol   *fat32.Volume
	file  *fat32.File
	stage Stage

	session         string
	sessionFile     bool
	cardInfoWritten bool
	rotate          bool
	full            bool
	initTries       int
	errorRun        int
	lastPos         uint32
	pendingDrops    uint64
	supply          uint16

	fileStats fat32.Stats
	status    Status
	perf      perfStats
}

// NewRecorder creates a Recorder on card. detect may be nil when the card
// cannot be removed.
func (c *Config) NewRecorder(card *sd.Card, detect CardDetector) (*Recorder, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	r := &Recorder{
		Config:   *c,
		card:     card,
		detect:   detect,
		buf:      datalog.NewBuffer(c.BufferSize, nil),
		autoTerm: NewAutoTerminate(c.AutoTerminate),
	}
	card.Events = sd.HandleEventFunc(r.handleCardEvent)
	r.startSession(time.Now())
	return r, nil
}

// AddToLoop implements framework.LoopAdder.
func (r *Recorder) AddToLoop(loop *fx.Loop) {
	loop.AddController(fx.PrLvRecord, r)
}

// Control implements framework.Controller.
func (r *Recorder) Control(cc fx.ControlContext) error {
	now := cc.Time()
	r.perf.sample(now)
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mc fx.MessageProcessingContext) {
		switch msg := mc.CurrentMessage().(type) {
		case *RecordMsg:
			mc.MessageTaken()
			r.Record(msg.Data)
		case *SupplyMsg:
			mc.MessageTaken()
			r.Supply(msg.Value, now)
		case *CommandMsg:
			mc.MessageTaken()
			r.Command(msg.Command)
		}
	}))
	if r.PerfInterval > 0 && r.perf.due(now, r.PerfInterval) {
		r.Record(r.perf.record(now))
	}
	if r.Tasks(now) {
		cc.TriggerNext()
	}
	return nil
}

// Record stores one record, all of it or nothing. A record that does not
// fit is counted, and a DRP record reports the count once space frees.
func (r *Recorder) Record(p []byte) error {
	if r.pendingDrops > 0 {
		marker := fmt.Sprintf("DRP %d\n", r.pendingDrops)
		if err := r.buf.WriteAtomic([]byte(marker)); err != nil {
			r.drop()
			return err
		}
		r.pendingDrops = 0
	}
	if err := r.buf.WriteAtomic(p); err != nil {
		r.drop()
		return err
	}
	r.status.Records++
	return nil
}

func (r *Recorder) drop() {
	r.pendingDrops++
	r.status.Drops++
	glog.V(4).Infof("recorder: record dropped, %d pending", r.pendingDrops)
}

// Supply feeds a supply voltage sample taken at now.
func (r *Recorder) Supply(v uint16, now time.Time) {
	r.supply = v
	if r.autoTerm.Update(v, now) {
		glog.Info("recorder: supply lost, closing file")
		r.Command(CmdClose)
	}
}

// Command handles a remote request. Requests arriving while no file is
// open are ignored.
func (r *Recorder) Command(cmd Command) {
	switch {
	case r.stage == StageClosed && cmd == CmdRotate && !r.full:
		r.rotate = true
	case r.stage != StageRecording:
		glog.Warningf("recorder: %s ignored while %s", cmd, r.stage)
	case r.buf.CloseRequested():
		r.rotate = r.rotate || cmd == CmdRotate
	default:
		glog.Infof("recorder: %s %s", cmd, r.file.Name())
		r.buf.RequestClose()
		r.rotate = cmd == CmdRotate
	}
}

// Tasks advances the pipeline and reports whether it has more work to do
// right away.
func (r *Recorder) Tasks(now time.Time) bool {
	if r.detect != nil && !r.detect.Detect() {
		if r.stage != StageNoCard {
			glog.Info("recorder: card removed")
			r.abandon()
		}
		r.initTries = 0
		return false
	}
	switch r.stage {
	case StageNoCard:
		if r.initTries >= r.MaxInitTries {
			glog.Errorf("recorder: card bring-up failed %d times, remove the card", r.initTries)
			r.stage = StageFailed
			return false
		}
		r.initTries++
		glog.V(2).Infof("recorder: initializing card, attempt %d", r.initTries)
		r.stage = StageInitializing
		if res := r.card.Initialize(); res != storage.Busy {
			r.retry("initialize", res)
			return false
		}
		return true
	case StageInitializing:
		switch res := r.card.InitializeResult(); res {
		case storage.Busy:
			return true
		case storage.Success:
			info := r.card.Info()
			glog.Infof("recorder: card %s, %d MiB", info.CID, info.CSD.Capacity()>>20)
			return r.mount()
		case storage.Unsupported:
			glog.Errorf("recorder: unsupported card: %v", r.card.Err())
			r.initTries = r.MaxInitTries
			r.retry("initialize", res)
			return false
		default:
			r.retry("initialize", res)
			return false
		}
	case StageMounting:
		switch res := r.vol.MountResult(); res {
		case storage.Busy:
			return true
		case storage.Success:
			glog.Infof("recorder: mounted, %d free clusters", r.vol.FreeClusters)
			return r.create()
		default:
			r.retry("mount", res)
			return false
		}
	case StageCreating:
		switch res := r.file.CreateResult(); res {
		case storage.Busy:
			return true
		case storage.Success:
			glog.Infof("recorder: recording to %s", r.file.Name())
			r.stage = StageRecording
			r.sessionFile = true
			r.initTries = 0
			r.errorRun = 0
			r.lastPos = 0
			r.buf.Bind(r.file)
			r.cardInfoWritten = r.writeCardInfo(now) == nil
			return true
		default:
			r.retry("create", res)
			return false
		}
	case StageRecording:
		return r.record(now)
	case StageClosed:
		if r.rotate {
			r.rotate = false
			r.startSession(now)
			return r.create()
		}
	}
	return false
}

func (r *Recorder) mount() bool {
	r.vol = fat32.NewVolume(r.card)
	r.stage = StageMounting
	if res := r.vol.Mount(); res != storage.Busy {
		r.retry("mount", res)
		return false
	}
	return true
}

func (r *Recorder) create() bool {
	f, err := r.vol.CreateSequential(r.FileName, r.FileExt, r.PrefixLen, r.Digits)
	if err != nil {
		glog.Errorf("recorder: create: %v", err)
		r.initTries = r.MaxInitTries
		r.retry("create", storage.Failed)
		return false
	}
	r.file = f
	r.stage = StageCreating
	return true
}

// retry drops the card so bring-up starts over, while tries remain.
func (r *Recorder) retry(op string, res storage.Result) {
	glog.Warningf("recorder: %s failed: %s (attempt %d/%d)", op, res, r.initTries, r.MaxInitTries)
	r.status.Errors++
	r.card.Reset()
	r.vol = nil
	r.file = nil
	r.stage = StageNoCard
}

// abandon forgets the card and whatever file was open on it. Buffered
// records of an abandoned file are dropped with it, the next file starts
// with a fresh header.
func (r *Recorder) abandon() {
	r.card.Reset()
	if r.file != nil && r.stage != StageClosed {
		r.addFileStats()
	}
	r.vol = nil
	r.file = nil
	r.rotate = false
	r.full = false
	r.stage = StageNoCard
	r.buf.Bind(nil)
	if r.sessionFile {
		r.startSession(time.Now())
	}
}

func (r *Recorder) record(now time.Time) bool {
	if !r.cardInfoWritten && !r.buf.CloseRequested() {
		if err := r.writeCardInfo(now); err == nil {
			r.cardInfoWritten = true
		}
	}
	for i := 0; i < r.TasksPerTick; i++ {
		res := r.buf.Tasks()
		if pos := r.file.Position(); pos != r.lastPos {
			r.lastPos = pos
			r.errorRun = 0
		}
		switch {
		case res == storage.Closed:
			r.closed()
			return r.rotate
		case res == storage.NoSpace:
			lost := bytes.Count(r.file.Discarded(), []byte{'\n'})
			glog.Errorf("recorder: volume full, closing %s, %d records lost", r.file.Name(), lost)
			r.status.Drops += uint64(lost)
			r.full = true
			r.rotate = false
			r.file.RequestClose()
			r.buf.RequestClose()
		case res.IsError():
			r.status.Errors++
			r.errorRun++
			if r.MaxErrors > 0 && r.errorRun >= r.MaxErrors {
				glog.Errorf("recorder: %d errors without progress, resetting card", r.errorRun)
				r.status.Resets++
				r.abandon()
			}
			// let the card settle until the next tick
			return false
		case res == storage.Busy || res == storage.Success:
		default:
			// idle, nothing more to do this tick
			r.errorRun = 0
			return false
		}
	}
	return true
}

func (r *Recorder) closed() {
	glog.Infof("recorder: closed %s, %d bytes", r.file.Name(), r.file.Position())
	r.status.Files++
	r.addFileStats()
	r.stage = StageClosed
	r.buf.Bind(nil)
	// a full volume leaves records behind; count them and refuse new ones
	// until the next session
	if n := r.buf.Count('\n'); n > 0 {
		glog.Warningf("recorder: %d buffered records dropped", n)
		r.status.Drops += uint64(n)
	}
	r.buf.Reset()
	r.buf.RequestClose()
}

func (r *Recorder) addFileStats() {
	s := r.file.Stats()
	r.fileStats.BlocksWritten += s.BlocksWritten
	r.fileStats.FATWrites += s.FATWrites
	r.fileStats.FSInfoWrites += s.FSInfoWrites
	r.fileStats.DirWrites += s.DirWrites
	r.fileStats.Errors += s.Errors
}

// startSession prepares the buffer for a new file: a fresh session id and
// the parameter header.
func (r *Recorder) startSession(now time.Time) {
	r.buf.Reset()
	r.session = uuid.Must(uuid.NewRandom()).String()
	r.sessionFile = false
	r.cardInfoWritten = false
	var b strings.Builder
	b.WriteString("PRM FMT 1\n")
	fmt.Fprintf(&b, "PRM SW %s\n", Version)
	b.WriteString("PRM TIMEBASE 1ms UNIX\n")
	if r.MachineID != "" {
		fmt.Fprintf(&b, "PRM MACHINE %s\n", r.MachineID)
	}
	fmt.Fprintf(&b, "PRM SESSION %s\n", r.session)
	for _, p := range r.Params {
		fmt.Fprintf(&b, "PRM %s\n", p)
	}
	fmt.Fprintf(&b, "PRM INIT %d\n", stamp(now))
	if err := r.buf.WriteAtomic([]byte(b.String())); err != nil {
		glog.Warningf("recorder: header: %v", err)
	}
}

func (r *Recorder) writeCardInfo(now time.Time) error {
	info := r.card.Info()
	line := fmt.Sprintf("CRD %s\nMNT %d\n", info.CID, stamp(now))
	return r.buf.WriteAtomic([]byte(line))
}

func (r *Recorder) handleCardEvent(e sd.Event) {
	switch e {
	case sd.EventBlockRead:
		r.status.BlocksRead++
	case sd.EventBlockWrite:
		r.status.BlocksWritten++
	}
}

// Close requests the open file to close and drives the pipeline until it
// is closed, taking at most limit steps. It is meant for shutdown, after
// the loop stopped.
func (r *Recorder) Close(limit int) error {
	if r.stage != StageRecording {
		return nil
	}
	r.Command(CmdClose)
	r.rotate = false
	for i := 0; i < limit; i++ {
		r.Tasks(time.Now())
		switch r.stage {
		case StageRecording:
		case StageClosed:
			return nil
		default:
			return fmt.Errorf("recorder: file lost while closing (%s)", r.stage)
		}
	}
	return storage.ErrStalled
}

// Stage returns the current stage.
func (r *Recorder) Stage() Stage {
	return r.stage
}

// Status returns a snapshot for telemetry.
func (r *Recorder) Status() Status {
	s := r.status
	s.Stage = r.stage
	s.Session = r.session
	s.InitTries = r.initTries
	s.Supply = r.supply
	s.Terminate = r.autoTerm.State()
	s.Buffered = r.buf.Len()
	s.BufferFree = r.buf.Free()
	if r.stage >= StageMounting && r.stage <= StageClosed {
		info := r.card.Info()
		s.Card = info.CID.String()
		s.Capacity = info.CSD.Capacity()
	}
	if r.vol != nil && r.vol.Mounted() {
		s.FreeClusters = r.vol.FreeClusters
	}
	fs := r.fileStats
	if r.file != nil {
		s.File = r.file.Name()
		s.Committed = r.file.Position()
		if r.stage != StageClosed {
			cur := r.file.Stats()
			fs.FATWrites += cur.FATWrites
			fs.DirWrites += cur.DirWrites
		}
	}
	s.FATWrites = fs.FATWrites
	s.DirWrites = fs.DirWrites
	return s
}

// stamp is the timestamp format of records, unix milliseconds.
func stamp(t time.Time) int64 {
	return t.UnixNano() / int64(time.Millisecond)
}
