package fat32

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stvnrhodes/calsol/pkg/sd"
	"github.com/stvnrhodes/calsol/pkg/sd/sim"
	"github.com/stvnrhodes/calsol/pkg/storage"
)

type testVolume struct {
	*Volume
	card *sd.Card
	sim  *sim.Card
	mem  sim.Memory
	geo  Geometry
}

func newTestVolume(t *testing.T, blocks uint32, opts FormatOptions) *testVolume {
	mem := sim.NewMemory(blocks)
	geo, err := Format(mem, blocks, opts)
	require.NoError(t, err)
	sc := sim.NewCard(mem, blocks)
	card := sd.NewCard(sc)
	require.Equal(t, storage.Busy, card.Initialize())
	_, err = storage.Wait(100, card.InitializeResult)
	require.NoError(t, err)
	v := NewVolume(card)
	require.NoError(t, MountSync(v))
	return &testVolume{Volume: v, card: card, sim: sc, mem: mem, geo: geo}
}

func (tv *testVolume) create(t *testing.T, name, ext string) *File {
	f, err := tv.Create(name, ext)
	require.NoError(t, err)
	r, err := storage.Wait(1000, f.CreateResult)
	require.NoError(t, err)
	require.Equal(t, storage.Success, r)
	require.Equal(t, FileIdle, f.State())
	return f
}

// rootEntry decodes entry i of the first root directory block straight
// from the backing store.
func (tv *testVolume) rootEntry(i int) DirEntry {
	b := tv.mem.Block(tv.geo.ClusterToLBA(tv.geo.RootCluster))
	return decodeDirEntry(b[i*DirEntrySize:])
}

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

// feed offers data to f while polling it, like a ring buffer would.
func feed(t *testing.T, f *File, data []byte) {
	for i := 0; len(data) > 0; i++ {
		require.True(t, i < 1<<20, "stalled")
		data = data[f.Write(data):]
		r := f.Tasks()
		require.False(t, r.IsError(), r.String())
	}
}

func closeFile(t *testing.T, f *File) {
	f.RequestClose()
	for i := 0; ; i++ {
		require.True(t, i < 1<<20, "stalled")
		r := f.Tasks()
		require.False(t, r.IsError(), r.String())
		if r == storage.Closed {
			break
		}
	}
	require.Equal(t, FileClosed, f.State())
	require.Equal(t, storage.Closed, f.Tasks())
}

func TestMount(t *testing.T) {
	testCases := []struct {
		name   string
		opts   FormatOptions
		damage func(mem sim.Memory, g Geometry)
		result storage.Result
	}{
		{
			name:   "boot sector at 0",
			result: storage.Success,
		},
		{
			name:   "partitioned",
			opts:   FormatOptions{PartitionLBA: 64},
			result: storage.Success,
		},
		{
			name: "blank",
			damage: func(mem sim.Memory, g Geometry) {
				copy(mem.Block(0), make([]byte, SectorSize))
			},
			result: storage.Unrecognized,
		},
		{
			name: "FAT16",
			damage: func(mem sim.Memory, g Geometry) {
				b := mem.Block(0)
				b[bsBootSig32] = 0
				b[bsBootSig16] = extBootSignature
			},
			result: storage.Unsupported,
		},
		{
			name: "large sectors",
			damage: func(mem sim.Memory, g Geometry) {
				put16(mem.Block(0)[bsBytesPerSector:], 1024)
			},
			result: storage.Unsupported,
		},
		{
			name: "bad FSInfo",
			damage: func(mem sim.Memory, g Geometry) {
				mem.Block(g.FSInfoLBA)[fsiStrucSig] = 0
			},
			result: storage.Unrecognized,
		},
		{
			name:   "bad partition boot sector",
			opts:   FormatOptions{PartitionLBA: 64},
			damage: func(mem sim.Memory, g Geometry) { mem.Block(64)[bsSignature] = 0 },
			result: storage.Unrecognized,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			const blocks = 4096
			mem := sim.NewMemory(blocks)
			geo, err := Format(mem, blocks, tc.opts)
			require.NoError(t, err)
			if tc.damage != nil {
				tc.damage(mem, geo)
			}
			card := sd.NewCard(sim.NewCard(mem, blocks))
			require.Equal(t, storage.Busy, card.Initialize())
			_, err = storage.Wait(100, card.InitializeResult)
			require.NoError(t, err)

			v := NewVolume(card)
			require.Equal(t, storage.Busy, v.Mount())
			r, _ := storage.Wait(100, v.MountResult)
			require.Equal(t, tc.result, r)
			if r != storage.Success {
				require.False(t, v.Mounted())
				return
			}
			require.True(t, v.Mounted())
			require.Equal(t, geo, v.Geometry())
			require.Equal(t, geo.FATLBA+geo.NumFATs*geo.SectorsPerFAT, v.Geometry().ClusterLBA)
			require.Equal(t, geo.Clusters-1, v.FreeClusters)
			require.Equal(t, geo.RootCluster, v.MostRecentCluster)
		})
	}
}

func TestCreateRequiresMount(t *testing.T) {
	mem := sim.NewMemory(4096)
	_, err := Format(mem, 4096, FormatOptions{})
	require.NoError(t, err)
	v := NewVolume(sd.NewCard(sim.NewCard(mem, 4096)))
	_, err = v.Create("LOG", "TXT")
	require.ErrorIs(t, err, ErrNotMounted)
}

func TestWriteAndClose(t *testing.T) {
	tv := newTestVolume(t, 8192, FormatOptions{})
	free := tv.FreeClusters
	f := tv.create(t, "log", "txt")
	require.Equal(t, "LOG.TXT", f.Name())

	_, err := tv.Create("OTHER", "TXT")
	require.ErrorIs(t, err, ErrBusy)

	data := payload(3000)
	feed(t, f, data)
	require.Equal(t, uint32(3000), f.Size())
	closeFile(t, f)
	require.Equal(t, uint32(3000), f.Position())
	require.Equal(t, uint32(3), f.StartCluster())

	out, err := ReadFile(tv.Volume, "LOG.TXT")
	require.NoError(t, err)
	require.Equal(t, data, out)

	// six one-block clusters, the speculative tail returned
	chain, err := Chain(tv.Volume, 3, 0)
	require.NoError(t, err)
	require.Equal(t, []uint32{3, 4, 5, 6, 7, 8}, chain)
	next, err := NextCluster(tv.Volume, 9)
	require.NoError(t, err)
	require.Equal(t, FreeCluster, next)
	require.Equal(t, free-6, tv.FreeClusters)
	require.Equal(t, uint32(8), tv.MostRecentCluster)
	require.False(t, tv.FSInfoDirty())

	v := NewVolume(tv.card)
	require.NoError(t, MountSync(v))
	require.Equal(t, free-6, v.FreeClusters)
	require.Equal(t, uint32(8), v.MostRecentCluster)

	// the next file continues after the last one
	_, err = v.Create("NEXT", "TXT")
	require.NoError(t, err)
}

func TestFATWritesPerBlock(t *testing.T) {
	tv := newTestVolume(t, 8192, FormatOptions{})
	f := tv.create(t, "BIG", "DAT")

	const clusters = 300
	data := payload(clusters * SectorSize)
	feed(t, f, data)
	// clusters 3..302 span three FAT blocks
	require.Equal(t, uint64((clusters+PointersPerBlock-1)/PointersPerBlock), f.Stats().FATWrites)
	closeFile(t, f)
	require.Equal(t, uint64(4), f.Stats().FATWrites)

	var fat1, fat2 int
	for _, lba := range tv.sim.Writes {
		switch {
		case lba >= tv.geo.FATLBA && lba < tv.geo.FATLBA+tv.geo.SectorsPerFAT:
			fat1++
		case lba >= tv.geo.FATLBA+tv.geo.SectorsPerFAT && lba < tv.geo.ClusterLBA:
			fat2++
		}
	}
	require.Equal(t, 4, fat1)
	require.Zero(t, fat2)

	out, err := ReadFile(tv.Volume, "BIG.DAT")
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestSizeFollowsFATWrites(t *testing.T) {
	tv := newTestVolume(t, 8192, FormatOptions{})
	f := tv.create(t, "BIG", "DAT")

	var sizes []uint32
	last := tv.rootEntry(0).Size
	rest := payload(300 * SectorSize)
	for i := 0; ; i++ {
		require.True(t, i < 1<<20, "stalled")
		rest = rest[f.Write(rest):]
		r := f.Tasks()
		require.False(t, r.IsError(), r.String())
		e := tv.rootEntry(0)
		require.LessOrEqual(t, e.Size, f.Position())
		if e.Size != last {
			sizes = append(sizes, e.Size)
			last = e.Size
		}
		if len(rest) == 0 && r == storage.Idle {
			break
		}
	}
	require.Equal(t, uint64(3), f.Stats().FATWrites)
	// clusters 3..127 then 128..255 were filled before the next extension
	require.Equal(t, []uint32{125 * SectorSize, 253 * SectorSize}, sizes)
	require.NotZero(t, tv.rootEntry(0).Size)
}

func TestStartClusterWrittenOnce(t *testing.T) {
	tv := newTestVolume(t, 8192, FormatOptions{SectorsPerCluster: 4})
	f := tv.create(t, "ONCE", "BIN")

	var changes int
	last := tv.rootEntry(0).Cluster
	step := func() storage.Result {
		r := f.Tasks()
		require.False(t, r.IsError(), r.String())
		if c := tv.rootEntry(0).Cluster; c != last {
			changes++
			last = c
		}
		return r
	}
	data := payload(20*SectorSize + 17)
	for rest := data; len(rest) > 0; {
		rest = rest[f.Write(rest):]
		step()
	}
	f.RequestClose()
	for i := 0; step() != storage.Closed; i++ {
		require.True(t, i < 1<<16)
	}
	require.Equal(t, 1, changes)

	e := tv.rootEntry(0)
	require.Equal(t, "ONCE", e.Name)
	require.Equal(t, "BIN", e.Ext)
	require.Equal(t, f.StartCluster(), e.Cluster)
	require.Equal(t, f.Position(), e.Size)
	require.Equal(t, uint32(len(data)), e.Size)
}

func TestClosePartialBlock(t *testing.T) {
	tv := newTestVolume(t, 8192, FormatOptions{})
	f := tv.create(t, "SHORT", "TXT")
	data := payload(100)
	require.Equal(t, 100, f.Write(data))
	closeFile(t, f)
	require.Zero(t, f.Write(data))

	require.Equal(t, uint32(100), tv.rootEntry(0).Size)
	block := tv.mem.Block(tv.geo.ClusterToLBA(f.StartCluster()))
	require.Equal(t, data, block[:100])
	require.Equal(t, make([]byte, SectorSize-100), block[100:])
	next, err := NextCluster(tv.Volume, f.StartCluster())
	require.NoError(t, err)
	require.Equal(t, EOC, next)
}

func TestCloseEmpty(t *testing.T) {
	tv := newTestVolume(t, 8192, FormatOptions{})
	free := tv.FreeClusters
	f := tv.create(t, "EMPTY", "")
	closeFile(t, f)
	require.Zero(t, f.Stats().FATWrites)
	require.Equal(t, free, tv.FreeClusters)
	e := tv.rootEntry(0)
	require.Equal(t, "EMPTY", e.FullName())
	require.Zero(t, e.Cluster)
	require.Zero(t, e.Size)
}

func TestSendError(t *testing.T) {
	tv := newTestVolume(t, 8192, FormatOptions{})
	f := tv.create(t, "ERR", "LOG")
	bad := tv.geo.ClusterToLBA(3) + 2
	fault := true
	tv.sim.WriteFault = func(addr uint32) bool { return fault && addr == bad }

	data := payload(6 * SectorSize)
	rest := data
	sawError := false
	for i := 0; !sawError; i++ {
		require.True(t, i < 10000)
		rest = rest[f.Write(rest):]
		switch r := f.Tasks(); {
		case r == storage.PhysicalError:
			sawError = true
		case r.IsError():
			t.Fatalf("unexpected %s", r)
		}
	}
	require.Equal(t, uint32(2*SectorSize), f.Position())
	for i := 0; f.State() != FileIdle; i++ {
		require.True(t, i < 100)
		f.Tasks()
	}
	require.Equal(t, uint32(2*SectorSize), f.Position())
	require.Equal(t, sd.StateIdle, tv.card.State())
	require.Equal(t, data[:2*SectorSize], []byte(tv.mem[int(tv.geo.ClusterToLBA(3))*SectorSize:int(bad)*SectorSize]))

	fault = false
	feed(t, f, rest)
	closeFile(t, f)
	out, err := ReadFile(tv.Volume, "ERR.LOG")
	require.NoError(t, err)
	require.Equal(t, data, out)
	require.NotZero(t, f.Stats().Errors)
}

func TestCreateDuplicate(t *testing.T) {
	tv := newTestVolume(t, 8192, FormatOptions{})
	closeFile(t, tv.create(t, "A", "TXT"))
	f, err := tv.Create("a", "txt")
	require.NoError(t, err)
	r, _ := storage.Wait(1000, f.CreateResult)
	require.Equal(t, storage.Failed, r)
	require.Equal(t, FileUninitialized, f.State())
	require.Zero(t, f.Write([]byte("x")))

	// a failed create does not hold the volume
	closeFile(t, tv.create(t, "B", "TXT"))
}

func TestRootDirectoryFull(t *testing.T) {
	tv := newTestVolume(t, 8192, FormatOptions{Label: "CALSOL"})
	// the label occupies the first slot of the single block cluster
	for i := 0; i < EntriesPerBlock-1; i++ {
		f, err := tv.CreateSequential("F000", "", 1, 3)
		require.NoError(t, err)
		r, err := storage.Wait(1000, f.CreateResult)
		require.NoError(t, err, "file %d", i)
		require.Equal(t, storage.Success, r)
		closeFile(t, f)
	}
	f, err := tv.CreateSequential("F000", "", 1, 3)
	require.NoError(t, err)
	r, _ := storage.Wait(1000, f.CreateResult)
	require.Equal(t, storage.Failed, r)

	entries, err := ReadDir(tv.Volume)
	require.NoError(t, err)
	require.Len(t, entries, EntriesPerBlock-1)
	require.Equal(t, "F000", entries[0].Name)
	require.Equal(t, "F00E", entries[len(entries)-1].Name)
}

func TestOutOfSpace(t *testing.T) {
	tv := newTestVolume(t, 1024, FormatOptions{ReservedSectors: 8, NumFATs: 1})
	f := tv.create(t, "FULL", "DAT")
	capacity := int(tv.geo.MaxCluster()-2) * SectorSize

	data := payload(capacity + 4*SectorSize)
	rest := data
	full := false
	for i := 0; !full; i++ {
		require.True(t, i < 1<<20)
		rest = rest[f.Write(rest):]
		switch r := f.Tasks(); {
		case r == storage.NoSpace:
			full = true
		case r.IsError():
			t.Fatalf("unexpected %s", r)
		}
	}
	require.False(t, f.Writable())
	require.NotEmpty(t, f.Discarded())
	require.Equal(t, data[capacity:len(data)-len(rest)], f.Discarded())
	closeFile(t, f)
	require.Equal(t, uint32(capacity), f.Position())
	require.Zero(t, tv.FreeClusters)

	out, err := ReadFile(tv.Volume, "FULL.DAT")
	require.NoError(t, err)
	require.Equal(t, data[:capacity], out)
}

func TestWriteBeforeCreate(t *testing.T) {
	tv := newTestVolume(t, 8192, FormatOptions{})
	f, err := tv.Create("LATE", "TXT")
	require.NoError(t, err)
	require.False(t, f.Ready())
	require.Zero(t, f.Write([]byte("early")))
	_, err = storage.Wait(1000, f.CreateResult)
	require.NoError(t, err)
	require.True(t, f.Ready())
	require.Equal(t, 5, f.Write([]byte("later")))
	f.RequestClose()
	require.Zero(t, f.Write([]byte("closing")))
}
