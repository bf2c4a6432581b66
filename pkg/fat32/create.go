package fat32

import (
	"bytes"
	"fmt"

	"github.com/golang/glog"

	"github.com/stvnrhodes/calsol/pkg/storage"
)

// sequence numbers file names: a fixed prefix followed by a run of
// hexadecimal digits, the rest of the name and the extension fixed.
type sequence struct {
	prefixLen int
	digits    int
}

func (s *sequence) max() uint64 {
	return 1<<(4*uint(s.digits)) - 1
}

// match reports whether entry e belongs to the sequence of name and
// returns its number.
func (s *sequence) match(name shortName, e []byte) (uint64, bool) {
	n := entryName(e)
	end := s.prefixLen + s.digits
	if !bytes.Equal(n[:s.prefixLen], name[:s.prefixLen]) || !bytes.Equal(n[end:], name[end:]) {
		return 0, false
	}
	var v uint64
	for _, c := range n[s.prefixLen:end] {
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | uint64(c-'0')
		case c >= 'A' && c <= 'F':
			v = v<<4 | uint64(c-'A'+10)
		default:
			return 0, false
		}
	}
	return v, true
}

func (s *sequence) apply(name shortName, v uint64) shortName {
	copy(name[s.prefixLen:], fmt.Sprintf("%0*X", s.digits, v))
	return name
}

// Create starts creating name.ext in the root directory. The returned File
// is polled with CreateResult or Tasks.
func (v *Volume) Create(name, ext string) (*File, error) {
	return v.create(name, ext, nil)
}

// CreateSequential creates the next file of a numbered series. The digits
// characters of name following the first prefixLen are replaced by one
// more than the highest number found in the directory, counting in
// hexadecimal, e.g. LOG0005 and LOG0003 yield LOG0006.
func (v *Volume) CreateSequential(name, ext string, prefixLen, digits int) (*File, error) {
	if prefixLen < 0 || digits < 1 || prefixLen+digits > len(name) || prefixLen+digits > deNameLen {
		return nil, ErrInvalidName
	}
	return v.create(name, ext, &sequence{prefixLen: prefixLen, digits: digits})
}

func (v *Volume) create(name, ext string, seq *sequence) (*File, error) {
	if !v.Mounted() {
		return nil, ErrNotMounted
	}
	if v.open != nil {
		return nil, ErrBusy
	}
	n, err := makeShortName(name, ext)
	if err != nil {
		return nil, err
	}
	f := newFile(v, n, seq)
	f.state = FileCreating
	f.sub = subStart
	v.open = f
	return f, nil
}

// CreateResult polls creation. It scans the first cluster of the root
// directory for a free entry and writes the new entry.
func (f *File) CreateResult() storage.Result {
	switch f.state {
	case FileCreating:
	case FileUninitialized:
		return storage.InvalidState
	default:
		return storage.Success
	}

	switch f.sub {
	case subStart:
		f.scanBlock = 0
		return f.readDirBlock()
	case subLoading:
		switch r := f.dev.ReadResult(); r {
		case storage.Busy:
			return r
		case storage.Success:
		default:
			return f.createFailed(storage.PhysicalError, "read directory")
		}
		if !f.scan(f.stage[0]) {
			if f.scanBlock++; f.scanBlock < f.geo.SectorsPerCluster {
				return f.readDirBlock()
			}
		}
		return f.finishScan()
	case subStoring:
		switch r := f.dev.WriteResult(); r {
		case storage.Busy:
			return r
		case storage.Success:
		default:
			return f.createFailed(storage.PhysicalError, "write directory")
		}
		f.stats.DirWrites++
		f.opened()
		return storage.Success
	}
	return storage.InvalidState
}

func (f *File) readDirBlock() storage.Result {
	f.scanLBA = f.geo.ClusterToLBA(f.geo.RootCluster) + f.scanBlock
	if r := f.dev.BeginRead(f.scanLBA, f.stage[0]); r != storage.Busy {
		return f.createFailed(storage.PhysicalError, "read directory")
	}
	f.sub = subLoading
	return storage.Busy
}

// scan inspects one directory block and reports whether the end of the
// directory was reached.
func (f *File) scan(b []byte) bool {
	for i := 0; i < EntriesPerBlock; i++ {
		e := b[i*DirEntrySize : (i+1)*DirEntrySize]
		switch e[deName] {
		case deEndOfDir:
			f.takeSlot(b, i)
			return true
		case deDeleted:
			f.takeSlot(b, i)
			continue
		}
		// volume labels and long name fragments
		if e[deAttr]&attrVolumeID != 0 {
			continue
		}
		if f.seq != nil {
			if v, ok := f.seq.match(f.name, e); ok && v >= f.nextSeq {
				f.nextSeq = v + 1
			}
		} else if f.name.equal(e) {
			f.exists = true
		}
	}
	return false
}

func (f *File) takeSlot(b []byte, i int) {
	if f.slotFound {
		return
	}
	f.slotFound = true
	copy(f.dir, b)
	f.dirLBA = f.scanLBA
	f.dirOffset = i * DirEntrySize
}

func (f *File) finishScan() storage.Result {
	switch {
	case f.exists:
		return f.createFailed(storage.Failed, "already exists")
	case !f.slotFound:
		return f.createFailed(storage.Failed, "root directory full")
	case f.seq != nil && f.nextSeq > f.seq.max():
		return f.createFailed(storage.Failed, "sequence exhausted")
	}
	if f.seq != nil {
		f.name = f.seq.apply(f.name, f.nextSeq)
	}
	writeDirEntry(f.dir[f.dirOffset:], f.name)
	if r := f.dev.BeginWrite(f.dirLBA, f.dir); r != storage.Busy {
		return f.createFailed(storage.PhysicalError, "write directory")
	}
	f.sub = subStoring
	return storage.Busy
}

func (f *File) createFailed(r storage.Result, reason string) storage.Result {
	glog.Warningf("fat32: create %s: %s", f.name, reason)
	f.state = FileUninitialized
	if f.vol.open == f {
		f.vol.open = nil
	}
	return r
}

func (f *File) opened() {
	f.state = FileIdle
	f.currCluster = f.vol.MostRecentCluster + 1
	f.clusterBlock = 0
	f.clusterEnd = 0
	f.startCluster = 0
	f.currLBA = f.geo.ClusterToLBA(f.currCluster)
	glog.V(2).Infof("fat32: created %s, data from cluster %d", f.name, f.currCluster)
}
