package fat32

import (
	"github.com/golang/glog"

	"github.com/stvnrhodes/calsol/pkg/storage"
)

// FileState is the state of a File.
type FileState int

// File states
const (
	FileUninitialized FileState = iota
	FileCreating
	FileIdle
	FileWritingData
	FileSendingData
	FileTerminatingData
	FileWritingFAT
	FileWritingFSInfo
	FileWritingDirTable
	FileClosed
)

var fileStateNames = [...]string{
	FileUninitialized:   "uninitialized",
	FileCreating:        "creating",
	FileIdle:            "idle",
	FileWritingData:     "writing data",
	FileSendingData:     "sending data",
	FileTerminatingData: "terminating data",
	FileWritingFAT:      "writing FAT",
	FileWritingFSInfo:   "writing FSInfo",
	FileWritingDirTable: "writing directory",
	FileClosed:          "closed",
}

// String implements fmt.Stringer.
func (s FileState) String() string {
	if s >= 0 && int(s) < len(fileStateNames) {
		return fileStateNames[s]
	}
	return "unknown"
}

type fatAction int

const (
	fatAllocate fatAction = iota
	fatTerminate
)

// substates shared by the states doing a read-modify-write or a
// two step session shutdown
const (
	subStart = iota
	subLoading
	subStoring
	subWaiting
)

// Stats counts the device traffic of a File.
type Stats struct {
	BlocksWritten uint64
	FATWrites     uint64
	FSInfoWrites  uint64
	DirWrites     uint64
	Errors        uint64
}

// File writes one file sequentially. It is driven by Tasks and never
// blocks; see Volume.Create.
type File struct {
	vol *Volume
	dev storage.Device
	geo Geometry

	name  shortName
	seq   *sequence
	state FileState
	sub   int

	closeRequested bool
	full           bool
	discarded      []byte

	currCluster  uint32
	currLBA      uint32
	clusterBlock uint32
	clusterEnd   uint32
	startCluster uint32

	fat       []byte
	fatLBA    uint32
	fatValid  bool
	fatAction fatAction
	fatTarget uint32
	fatCount  uint32

	dir       []byte
	dirLBA    uint32
	dirOffset int
	dirDirty  bool

	info []byte

	// position is the committed size, bytes acknowledged by the device.
	position    uint32
	stage       [2][]byte
	fillIndex   int
	writeIndex  int
	fillPos     int
	numFilled   int
	padded      bool
	finalLen    int
	sessionOpen bool

	// creation scan
	scanBlock uint32
	scanLBA   uint32
	slotFound bool
	exists    bool
	nextSeq   uint64

	stats Stats
}

func newFile(v *Volume, name shortName, seq *sequence) *File {
	f := &File{
		vol:  v,
		dev:  v.dev,
		geo:  v.geo,
		name: name,
		seq:  seq,
		fat:  make([]byte, SectorSize),
		dir:  make([]byte, SectorSize),
		info: make([]byte, SectorSize),
	}
	f.stage[0] = make([]byte, SectorSize)
	f.stage[1] = make([]byte, SectorSize)
	return f
}

// Name returns the 8.3 name, final once creation succeeded.
func (f *File) Name() string {
	return f.name.String()
}

// State returns the current state.
func (f *File) State() FileState {
	return f.state
}

// Position is the number of bytes committed to the device.
func (f *File) Position() uint32 {
	return f.position
}

// Size is the number of bytes accepted, committed or staged.
func (f *File) Size() uint32 {
	staged := uint32(f.numFilled*SectorSize + f.fillPos)
	if f.padded {
		staged -= uint32(SectorSize - f.finalLen)
	}
	return f.position + staged
}

// StartCluster is the first cluster of the chain, 0 before allocation.
func (f *File) StartCluster() uint32 {
	return f.startCluster
}

// Discarded returns the staged bytes dropped when the volume ran out of
// clusters, nil otherwise.
func (f *File) Discarded() []byte {
	return f.discarded
}

// Stats returns the traffic counters.
func (f *File) Stats() Stats {
	return f.stats
}

// Ready indicates creation finished, Tasks may be driven.
func (f *File) Ready() bool {
	return f.state != FileUninitialized && f.state != FileCreating
}

// Writable indicates Write may accept bytes.
func (f *File) Writable() bool {
	return f.Ready() && f.state != FileClosed && !f.closeRequested && !f.full
}

// Write stages bytes from p and returns how many were accepted. At most
// two blocks are staged; the rest must be offered again later.
func (f *File) Write(p []byte) int {
	if !f.Writable() {
		return 0
	}
	n := 0
	for n < len(p) && f.numFilled < len(f.stage) {
		c := copy(f.stage[f.fillIndex][f.fillPos:], p[n:])
		n += c
		f.fillPos += c
		if f.fillPos == SectorSize {
			f.fillPos = 0
			f.fillIndex ^= 1
			f.numFilled++
		}
	}
	return n
}

// RequestClose asks the file to flush, terminate its chain and close.
func (f *File) RequestClose() {
	f.closeRequested = true
}

// CloseRequested indicates RequestClose was called.
func (f *File) CloseRequested() bool {
	return f.closeRequested
}

// Tasks advances the state machine by at most one device operation.
func (f *File) Tasks() storage.Result {
	var r storage.Result
	switch f.state {
	case FileCreating:
		return f.CreateResult()
	case FileIdle:
		r = f.idle()
	case FileWritingData:
		r = f.writeData()
	case FileSendingData:
		r = f.sendResult()
	case FileTerminatingData:
		r = f.terminateData()
	case FileWritingFAT:
		r = f.fatResult()
	case FileWritingFSInfo:
		r = f.fsInfoResult()
	case FileWritingDirTable:
		r = f.dirResult()
	case FileClosed:
		return storage.Closed
	default:
		return storage.InvalidState
	}
	if r.IsError() {
		f.stats.Errors++
	}
	return r
}

func (f *File) chainOpen() bool {
	return f.clusterEnd != EOC
}

// pending indicates staged data still needs to reach the device.
func (f *File) pending() bool {
	return f.numFilled > 0 || (f.closeRequested && f.fillPos > 0)
}

func (f *File) idle() storage.Result {
	if f.chainOpen() {
		if f.currCluster > f.clusterEnd && f.pending() {
			return f.beginFAT(fatAllocate)
		}
		if f.closeRequested && !f.pending() {
			if f.startCluster == 0 {
				// nothing was ever allocated, only the entry needs updating
				f.clusterEnd = EOC
				f.dirDirty = true
				return storage.Success
			}
			return f.beginFAT(fatTerminate)
		}
	}
	if f.vol.fsInfoDirty {
		return f.beginFSInfo()
	}
	if f.dirDirty {
		return f.beginDir()
	}
	if f.pending() {
		f.state = FileWritingData
		return f.writeData()
	}
	if f.closeRequested && !f.chainOpen() {
		glog.V(2).Infof("fat32: %s closed, %d bytes", f.name, f.position)
		f.state = FileClosed
		if f.vol.open == f {
			f.vol.open = nil
		}
		return storage.Closed
	}
	return storage.Idle
}

// padFinal zero-fills the partial block so it can be sent.
func (f *File) padFinal() {
	buf := f.stage[f.fillIndex]
	for i := f.fillPos; i < SectorSize; i++ {
		buf[i] = 0
	}
	f.finalLen = f.fillPos
	f.padded = true
	f.fillPos = 0
	f.fillIndex ^= 1
	f.numFilled++
}

func (f *File) writeData() storage.Result {
	if f.currCluster > f.clusterEnd {
		return f.endSession()
	}
	switch {
	case f.numFilled > 0:
	case f.closeRequested && f.fillPos > 0:
		f.padFinal()
	case f.closeRequested:
		return f.endSession()
	default:
		return storage.Idle
	}
	if !f.sessionOpen {
		if r := f.dev.BeginMultiWrite(f.currLBA); r != storage.Success {
			glog.Warningf("fat32: %s: open session at %d: %s", f.name, f.currLBA, r)
			f.state = FileIdle
			return storage.PhysicalError
		}
		f.sessionOpen = true
	}
	if r := f.dev.SendBlock(f.stage[f.writeIndex]); r != storage.Busy {
		glog.Warningf("fat32: %s: send block %d: %s", f.name, f.currLBA, r)
		f.endSession()
		return storage.PhysicalError
	}
	f.state = FileSendingData
	return storage.Busy
}

func (f *File) sendResult() storage.Result {
	switch r := f.dev.MultiWriteResult(); r {
	case storage.Busy:
		return r
	case storage.Success:
		f.advance()
		f.state = FileWritingData
		return storage.Success
	default:
		glog.Warningf("fat32: %s: block %d: %s", f.name, f.currLBA, r)
		f.endSession()
		return storage.PhysicalError
	}
}

// advance commits the block just sent.
func (f *File) advance() {
	if f.padded && f.numFilled == 1 {
		f.position += uint32(f.finalLen)
		f.padded = false
	} else {
		f.position += SectorSize
	}
	f.numFilled--
	f.writeIndex ^= 1
	f.stats.BlocksWritten++
	f.clusterBlock++
	if f.clusterBlock == f.geo.SectorsPerCluster {
		f.clusterBlock = 0
		f.currCluster++
	}
	f.currLBA = f.geo.ClusterToLBA(f.currCluster) + f.clusterBlock
	glog.V(4).Infof("fat32: %s committed %d bytes", f.name, f.position)
}

// endSession closes an open streaming session, or drops back to idle.
func (f *File) endSession() storage.Result {
	if !f.sessionOpen {
		f.state = FileIdle
		return storage.Idle
	}
	f.state = FileTerminatingData
	f.sub = subStart
	return storage.Busy
}

func (f *File) terminateData() storage.Result {
	if f.sub == subStart {
		if r := f.dev.Terminate(); r != storage.Busy {
			glog.Warningf("fat32: %s: terminate session: %s", f.name, r)
			f.sessionOpen = false
			f.state = FileIdle
			return storage.PhysicalError
		}
		f.sub = subWaiting
		return storage.Busy
	}
	r := f.dev.MultiWriteResult()
	if r == storage.Busy {
		return r
	}
	f.sessionOpen = false
	f.state = FileIdle
	if r != storage.Success {
		glog.Warningf("fat32: %s: terminate session: %s", f.name, r)
		return storage.PhysicalError
	}
	return storage.Success
}

func (f *File) outOfSpace() storage.Result {
	glog.Warningf("fat32: %s: volume full, dropping %d staged bytes", f.name, f.Size()-f.position)
	f.discarded = f.staged()
	f.full = true
	f.numFilled = 0
	f.fillPos = 0
	f.padded = false
	f.state = FileIdle
	return storage.NoSpace
}

// staged copies the accepted bytes not yet committed, in order.
func (f *File) staged() []byte {
	out := make([]byte, 0, f.numFilled*SectorSize+f.fillPos)
	idx := f.writeIndex
	for i := 0; i < f.numFilled; i++ {
		n := SectorSize
		if f.padded && i == f.numFilled-1 {
			n = f.finalLen
		}
		out = append(out, f.stage[idx][:n]...)
		idx ^= 1
	}
	return append(out, f.stage[f.fillIndex][:f.fillPos]...)
}

// beginFAT loads the FAT block for an allocation or termination, reusing
// the cached block when it is the right one.
func (f *File) beginFAT(action fatAction) storage.Result {
	target := f.currCluster
	switch action {
	case fatAllocate:
		if target > f.geo.MaxCluster() {
			return f.outOfSpace()
		}
	case fatTerminate:
		if f.clusterBlock == 0 && f.currCluster != f.startCluster {
			// the cursor sits at the start of a cluster holding no data;
			// ending the chain before it returns that cluster to the free
			// count instead of leaving an empty one at the tail
			target--
		}
	}
	f.fatAction = action
	f.fatTarget = target
	f.state = FileWritingFAT
	lba := f.geo.FATBlock(target)
	if f.fatValid && f.fatLBA == lba {
		return f.storeFAT()
	}
	f.fatValid = false
	f.fatLBA = lba
	if r := f.dev.BeginRead(lba, f.fat); r != storage.Busy {
		glog.Warningf("fat32: %s: read FAT %d: %s", f.name, lba, r)
		f.state = FileIdle
		return storage.PhysicalError
	}
	f.sub = subLoading
	return storage.Busy
}

// storeFAT modifies the cached block and writes it back.
func (f *File) storeFAT() storage.Result {
	off := f.geo.FATOffset(f.fatTarget)
	f.fatCount = 0
	switch f.fatAction {
	case fatAllocate:
		max := f.geo.MaxCluster()
		for pos, c := off, f.fatTarget; pos < SectorSize && c <= max; pos, c = pos+PointerSize, c+1 {
			next := c + 1
			if c == max {
				next = EOC
			}
			put32(f.fat[pos:], next)
			f.fatCount++
		}
	case fatTerminate:
		put32(f.fat[off:], EOC)
		for pos, c := off+PointerSize, f.fatTarget+1; pos < SectorSize && c <= f.clusterEnd; pos, c = pos+PointerSize, c+1 {
			put32(f.fat[pos:], FreeCluster)
			f.fatCount++
		}
	}
	if r := f.dev.BeginWrite(f.fatLBA, f.fat); r != storage.Busy {
		glog.Warningf("fat32: %s: write FAT %d: %s", f.name, f.fatLBA, r)
		f.fatValid = false
		f.state = FileIdle
		return storage.PhysicalError
	}
	f.sub = subStoring
	return storage.Busy
}

func (f *File) fatResult() storage.Result {
	switch f.sub {
	case subLoading:
		switch r := f.dev.ReadResult(); r {
		case storage.Busy:
			return r
		case storage.Success:
			f.fatValid = true
			return f.storeFAT()
		default:
			glog.Warningf("fat32: %s: read FAT %d: %s", f.name, f.fatLBA, r)
			f.state = FileIdle
			return storage.PhysicalError
		}
	case subStoring:
		switch r := f.dev.WriteResult(); r {
		case storage.Busy:
			return r
		case storage.Success:
		default:
			glog.Warningf("fat32: %s: write FAT %d: %s", f.name, f.fatLBA, r)
			f.fatValid = false
			f.state = FileIdle
			return storage.PhysicalError
		}
	default:
		return storage.InvalidState
	}

	f.stats.FATWrites++
	v := f.vol
	switch f.fatAction {
	case fatAllocate:
		last := f.fatTarget + f.fatCount - 1
		if f.fatCount > v.FreeClusters {
			v.FreeClusters = 0
		} else {
			v.FreeClusters -= f.fatCount
		}
		f.clusterEnd = last
		v.MostRecentCluster = last
		if f.startCluster == 0 {
			f.startCluster = f.fatTarget
		}
		// the entry follows every chain extension, an interrupted file
		// keeps the size committed so far
		f.dirDirty = true
		f.currLBA = f.geo.ClusterToLBA(f.currCluster) + f.clusterBlock
		glog.V(2).Infof("fat32: %s allocated clusters %d-%d", f.name, f.fatTarget, last)
	case fatTerminate:
		v.FreeClusters += f.fatCount
		v.MostRecentCluster = f.fatTarget
		f.clusterEnd = EOC
		f.dirDirty = true
		glog.V(2).Infof("fat32: %s chain ends at %d, %d clusters returned", f.name, f.fatTarget, f.fatCount)
	}
	v.fsInfoDirty = true
	f.state = FileIdle
	return storage.Success
}

func (f *File) beginFSInfo() storage.Result {
	f.vol.encodeFSInfo(f.info)
	if r := f.dev.BeginWrite(f.geo.FSInfoLBA, f.info); r != storage.Busy {
		glog.Warningf("fat32: write FSInfo: %s", r)
		return storage.PhysicalError
	}
	f.state = FileWritingFSInfo
	return storage.Busy
}

func (f *File) fsInfoResult() storage.Result {
	r := f.dev.WriteResult()
	if r == storage.Busy {
		return r
	}
	f.state = FileIdle
	if r != storage.Success {
		glog.Warningf("fat32: write FSInfo: %s", r)
		return storage.PhysicalError
	}
	f.vol.fsInfoDirty = false
	f.stats.FSInfoWrites++
	return storage.Success
}

func (f *File) beginDir() storage.Result {
	updateDirEntry(f.dir[f.dirOffset:], f.startCluster, f.position)
	if r := f.dev.BeginWrite(f.dirLBA, f.dir); r != storage.Busy {
		glog.Warningf("fat32: %s: write directory: %s", f.name, r)
		return storage.PhysicalError
	}
	f.state = FileWritingDirTable
	return storage.Busy
}

func (f *File) dirResult() storage.Result {
	r := f.dev.WriteResult()
	if r == storage.Busy {
		return r
	}
	f.state = FileIdle
	if r != storage.Success {
		glog.Warningf("fat32: %s: write directory: %s", f.name, r)
		return storage.PhysicalError
	}
	f.dirDirty = false
	f.stats.DirWrites++
	return storage.Success
}
