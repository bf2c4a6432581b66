package sd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stvnrhodes/calsol/pkg/sd/sim"
	"github.com/stvnrhodes/calsol/pkg/storage"
)

func newSimCard(blocks uint32, setup func(*sim.Card)) (*sim.Card, sim.Memory) {
	mem := sim.NewMemory(blocks)
	sc := sim.NewCard(mem, blocks)
	if setup != nil {
		setup(sc)
	}
	return sc, mem
}

func initCard(t *testing.T, sc *sim.Card) *Card {
	c := NewCard(sc)
	require.Equal(t, storage.Busy, c.Initialize())
	r, err := storage.Wait(100, c.InitializeResult)
	require.NoError(t, err)
	require.Equal(t, storage.Success, r)
	require.Equal(t, StateIdle, c.State())
	return c
}

func pattern(seed byte) []byte {
	b := make([]byte, 512)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func TestInitialize(t *testing.T) {
	testCases := []struct {
		name   string
		blocks uint32
		setup  func(*sim.Card)
		result storage.Result
		ver2   bool
		sdhc   bool
	}{
		{
			name:   "v2 standard capacity",
			blocks: 4096,
			result: storage.Success,
			ver2:   true,
		},
		{
			name:   "v2 high capacity",
			blocks: 2048,
			setup:  func(c *sim.Card) { c.SDHC = true },
			result: storage.Success,
			ver2:   true,
			sdhc:   true,
		},
		{
			name:   "v1",
			blocks: 4096,
			setup:  func(c *sim.Card) { c.V1 = true },
			result: storage.Success,
		},
		{
			name:   "rejected voltage",
			blocks: 4096,
			setup:  func(c *sim.Card) { c.RejectVoltage = true },
			result: storage.Unsupported,
		},
		{
			name:   "never ready",
			blocks: 4096,
			setup:  func(c *sim.Card) { c.NeverReady = true },
			result: storage.Timeout,
		},
		{
			name:   "no card",
			blocks: 4096,
			setup:  func(c *sim.Card) { c.Inserted = false },
			result: storage.Failed,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sc, _ := newSimCard(tc.blocks, tc.setup)
			c := NewCard(sc)
			require.Equal(t, storage.Busy, c.Initialize())
			r, _ := storage.Wait(initMaxTries*2, c.InitializeResult)
			require.Equal(t, tc.result, r)
			if r != storage.Success {
				require.Equal(t, StateUninitialized, c.State())
				require.Error(t, c.Err())
				return
			}
			info := c.Info()
			require.Equal(t, tc.ver2, info.Ver2)
			require.Equal(t, tc.sdhc, info.SDHC)
			require.Equal(t, tc.blocks, c.BlockCount())
			require.Equal(t, 512, c.BlockSize())
			require.Equal(t, "SIM01", info.PNM)
			require.Equal(t, uint32(25000000), sc.ClockHz)
		})
	}
}

func TestSingleBlock(t *testing.T) {
	for _, sdhc := range []bool{false, true} {
		sc, mem := newSimCard(2048, func(c *sim.Card) { c.SDHC = sdhc })
		c := initCard(t, sc)

		data := pattern(7)
		require.NoError(t, storage.WriteBlock(c, 10, data))
		require.Equal(t, data, mem.Block(10))
		require.Equal(t, StateIdle, c.State())

		out := make([]byte, 512)
		require.NoError(t, storage.ReadBlock(c, 10, out))
		require.Equal(t, data, out)
		require.Equal(t, []uint32{10}, sc.Reads)
	}
}

func TestReadOutOfRange(t *testing.T) {
	sc, _ := newSimCard(4096, nil)
	c := initCard(t, sc)
	require.Equal(t, storage.PhysicalError, c.BeginRead(5000, make([]byte, 512)))
	require.Equal(t, StateIdle, c.State())
	var rerr *ResponseError
	require.ErrorAs(t, c.Err(), &rerr)
	require.Equal(t, cmdReadSingleBlock, rerr.Cmd)
}

func TestTransferDelay(t *testing.T) {
	sc, _ := newSimCard(4096, nil)
	c := initCard(t, sc)
	sc.TransferDelay = 3
	require.Equal(t, storage.Busy, c.BeginRead(1, make([]byte, 512)))
	for i := 0; i < 3; i++ {
		require.Equal(t, storage.Busy, c.ReadResult())
	}
	require.Equal(t, storage.Success, c.ReadResult())
}

func TestBusyProgramming(t *testing.T) {
	sc, _ := newSimCard(4096, func(c *sim.Card) { c.BusyBytes = 3 * busyBytesPerPoll })
	c := initCard(t, sc)
	require.Equal(t, storage.Busy, c.BeginWrite(3, pattern(1)))
	polls := 0
	r := storage.Busy
	for ; r == storage.Busy; polls++ {
		r = c.WriteResult()
	}
	require.Equal(t, storage.Success, r)
	require.True(t, polls > 3)
}

func TestMultiWrite(t *testing.T) {
	sc, mem := newSimCard(4096, nil)
	c := initCard(t, sc)

	require.Equal(t, storage.Success, c.BeginMultiWrite(100))
	require.Equal(t, StateMultiWriteIdle, c.State())
	for i := byte(0); i < 3; i++ {
		require.Equal(t, storage.Busy, c.SendBlock(pattern(i)))
		r, err := storage.Wait(100, c.MultiWriteResult)
		require.NoError(t, err)
		require.Equal(t, storage.Success, r)
		require.Equal(t, StateMultiWriteIdle, c.State())
	}
	require.Equal(t, storage.Busy, c.Terminate())
	r, err := storage.Wait(100, c.MultiWriteResult)
	require.NoError(t, err)
	require.Equal(t, storage.Success, r)
	require.Equal(t, StateIdle, c.State())

	require.Equal(t, []uint32{100, 101, 102}, sc.Writes)
	for i := byte(0); i < 3; i++ {
		require.True(t, bytes.Equal(pattern(i), mem.Block(100+uint32(i))))
	}
}

func TestWriteFault(t *testing.T) {
	sc, mem := newSimCard(4096, func(c *sim.Card) {
		c.WriteFault = func(addr uint32) bool { return addr == 5 || addr == 21 }
	})
	c := initCard(t, sc)

	require.Equal(t, storage.Busy, c.BeginWrite(5, pattern(9)))
	r, err := storage.Wait(100, c.WriteResult)
	require.ErrorIs(t, err, storage.ErrPhysical)
	require.Equal(t, storage.PhysicalError, r)
	require.Equal(t, StateIdle, c.State())
	require.Equal(t, make([]byte, 512), mem.Block(5))

	require.Equal(t, storage.Success, c.BeginMultiWrite(20))
	require.Equal(t, storage.Busy, c.SendBlock(pattern(1)))
	r, _ = storage.Wait(100, c.MultiWriteResult)
	require.Equal(t, storage.Success, r)
	require.Equal(t, storage.Busy, c.SendBlock(pattern(2)))
	r, _ = storage.Wait(100, c.MultiWriteResult)
	require.Equal(t, storage.PhysicalError, r)
	require.Equal(t, StateMultiWriteIdle, c.State())
	require.Equal(t, storage.Busy, c.Terminate())
	r, _ = storage.Wait(100, c.MultiWriteResult)
	require.Equal(t, storage.Success, r)
	require.Equal(t, StateIdle, c.State())
	require.Equal(t, []uint32{20}, sc.Writes)
}

func TestInvalidState(t *testing.T) {
	sc, _ := newSimCard(4096, nil)
	c := NewCard(sc)
	buf := make([]byte, 512)
	require.Equal(t, storage.InvalidState, c.BeginRead(0, buf))
	require.Equal(t, storage.InvalidState, c.InitializeResult())

	c = initCard(t, sc)
	require.Equal(t, storage.InvalidState, c.ReadResult())
	require.Equal(t, storage.InvalidState, c.WriteResult())
	require.Equal(t, storage.InvalidState, c.SendBlock(buf))
	require.Equal(t, storage.InvalidState, c.Terminate())
	require.Equal(t, storage.InvalidState, c.MultiWriteResult())
	require.Equal(t, storage.InvalidState, c.BeginRead(0, buf[:10]))

	require.Equal(t, storage.Busy, c.BeginRead(0, buf))
	require.Equal(t, storage.InvalidState, c.BeginWrite(0, buf))
	require.Equal(t, storage.InvalidState, c.BeginMultiWrite(0))
	require.Equal(t, storage.Success, c.ReadResult())
}

func TestEvents(t *testing.T) {
	sc, _ := newSimCard(4096, nil)
	c := NewCard(sc)
	var events []Event
	c.Events = HandleEventFunc(func(e Event) { events = append(events, e) })
	require.Equal(t, storage.Busy, c.Initialize())
	_, err := storage.Wait(100, c.InitializeResult)
	require.NoError(t, err)
	require.NoError(t, storage.ReadBlock(c, 0, make([]byte, 512)))
	require.NoError(t, storage.WriteBlock(c, 0, make([]byte, 512)))
	require.Equal(t, []Event{EventCardDataRead, EventCardDataRead, EventBlockRead, EventBlockWrite}, events)
}

func TestReset(t *testing.T) {
	sc, _ := newSimCard(4096, nil)
	c := initCard(t, sc)
	sc.Remove()
	c.Reset()
	require.Equal(t, StateUninitialized, c.State())
	require.Equal(t, uint32(0), c.BlockCount())
	sc.Insert()
	c = initCard(t, sc)
	require.Equal(t, uint32(4096), c.BlockCount())
}
