package sd

import (
	"github.com/golang/glog"

	"github.com/stvnrhodes/calsol/pkg/storage"
)

// State is the transport state of a card.
type State int

// Card states
const (
	StateUninitialized State = iota
	StateInitializing
	StateIdle
	StateReadingBlock
	StateWritingBlock
	StateMultiWriteIdle
	StateMultiWriteSending
	StateMultiWriteTerminating
)

var stateNames = [...]string{
	StateUninitialized:         "uninitialized",
	StateInitializing:          "initializing",
	StateIdle:                  "idle",
	StateReadingBlock:          "reading",
	StateWritingBlock:          "writing",
	StateMultiWriteIdle:        "multi-write idle",
	StateMultiWriteSending:     "multi-write sending",
	StateMultiWriteTerminating: "multi-write terminating",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// initialization substates
const (
	initPowerUp = iota // idle clocks in flight
	initOpCond         // polling ACMD41
	initCID            // CID transfer in flight
	initCSD            // CSD transfer in flight
)

// write substates
const (
	writeSending  = iota // block transfer in flight
	writeBusyWait        // data accepted, card programming
)

// Card is an SD card on a Bus. It implements storage.Device.
type Card struct {
	// Events receives transfer notifications when not nil.
	Events EventHandler
	// MaxBlockSize is the largest block the driver buffers.
	MaxBlockSize int

	bus       Bus
	state     State
	substate  int
	tries     int
	busyPolls int
	info      Info
	blockSize int
	dst       []byte
	tx        []byte
	rx        []byte
	err       error
}

// NewCard creates a Card on bus.
func NewCard(bus Bus) *Card {
	return &Card{
		bus:          bus,
		MaxBlockSize: defaultBlockSize,
		blockSize:    defaultBlockSize,
	}
}

// State returns the transport state.
func (c *Card) State() State {
	return c.state
}

// Info returns what was learned about the card during initialization.
func (c *Card) Info() Info {
	return c.info
}

// Err returns the detail of the last failure, if any.
func (c *Card) Err() error {
	return c.err
}

// BlockSize implements storage.Device.
func (c *Card) BlockSize() int {
	return c.blockSize
}

// BlockCount implements storage.Device.
func (c *Card) BlockCount() uint32 {
	return c.info.CSD.Blocks
}

// Reset drops whatever is in flight and forgets the card, e.g. on removal.
func (c *Card) Reset() {
	c.bus.Select(false)
	c.state = StateUninitialized
	c.info = Info{}
	c.dst = nil
}

func (c *Card) emit(e Event) {
	if c.Events != nil {
		c.Events.HandleEvent(e)
	}
}

func (c *Card) buffers(n int) ([]byte, []byte) {
	if cap(c.tx) < n {
		c.tx = make([]byte, n)
		c.rx = make([]byte, n)
	}
	return c.tx[:n], c.rx[:n]
}

func (c *Card) open() {
	c.bus.Select(true)
}

// release clocks one trailing byte so the card lets go of the data line.
func (c *Card) release() {
	c.bus.Select(false)
	c.bus.Transfer(dummyByte)
}

// command sends a command frame and returns its R1 response, or 0xff when
// the card never answered.
func (c *Card) command(cmd byte, arg uint32, crc byte) byte {
	c.bus.Transfer(0x40 | cmd)
	c.bus.Transfer(byte(arg >> 24))
	c.bus.Transfer(byte(arg >> 16))
	c.bus.Transfer(byte(arg >> 8))
	c.bus.Transfer(byte(arg))
	c.bus.Transfer(crc | 0x01)
	r := idleByte
	for i := 0; r&0x80 != 0 && i < cmdTimeout; i++ {
		r = c.bus.Transfer(dummyByte)
	}
	glog.V(4).Infof("sd: CMD%d(%08x) -> %02x", cmd, arg, r)
	return r
}

// appCommand sends CMD55 followed by an application command.
func (c *Card) appCommand(acmd byte, arg uint32) byte {
	c.command(cmdAppCmd, 0, 0)
	c.bus.Transfer(dummyByte)
	return c.command(acmd, arg, 0)
}

func (c *Card) readBytes(b []byte) {
	for i := range b {
		b[i] = c.bus.Transfer(dummyByte)
	}
}

func (c *Card) waitToken(limit int) byte {
	t := idleByte
	for i := 0; t == idleByte && i < limit; i++ {
		t = c.bus.Transfer(dummyByte)
	}
	return t
}

// waitIdle checks a bounded number of bytes for the end of busy signalling.
// It returns Busy while the card is still programming.
func (c *Card) waitIdle() storage.Result {
	for i := 0; i < busyBytesPerPoll; i++ {
		if c.bus.Transfer(dummyByte) == idleByte {
			return storage.Success
		}
	}
	if c.busyPolls++; c.busyPolls >= busyPollLimit {
		c.err = &TokenError{Op: "busy", Token: busyByte}
		return storage.PhysicalError
	}
	return storage.Busy
}

// dataResponse finds the data response token after a block transfer, the
// first candidate being the last byte clocked during the transfer.
func (c *Card) dataResponse(last byte) storage.Result {
	r := last
	for i := 0; r&0x11 != 0x01 && i < dataResponseTimeout; i++ {
		r = c.bus.Transfer(dummyByte)
	}
	if r&0x11 != 0x01 || r&0x0e != 0x04 {
		c.err = &TokenError{Op: "data response", Token: r}
		return storage.PhysicalError
	}
	return storage.Success
}

// address converts a block address to what the card expects on the wire.
func (c *Card) address(addr uint32) uint32 {
	if c.info.SDHC {
		return addr
	}
	return addr * uint32(c.blockSize)
}

// frame lays out [token][data][crc16][response slot] for a block transfer.
func (c *Card) frame(token byte, src []byte) ([]byte, []byte) {
	tx, rx := c.buffers(c.blockSize + 4)
	tx[0] = token
	copy(tx[1:c.blockSize+1], src)
	tx[c.blockSize+1] = 0
	tx[c.blockSize+2] = 0
	tx[c.blockSize+3] = dummyByte
	return tx, rx
}

func (c *Card) fail(r storage.Result, err error) storage.Result {
	c.err = err
	c.bus.Select(false)
	c.state = StateUninitialized
	glog.Warningf("sd: initialization %s: %v", r, err)
	return r
}
