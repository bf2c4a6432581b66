// Package sim simulates an SD card speaking the SPI protocol, backed by any
// io.ReaderAt/io.WriterAt such as an image file.
package sim

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/golang/glog"
)

// BlockSize is the only block size the simulated card supports.
const BlockSize = 512

// powerUpClocks is the number of idle bytes with the card deselected that
// resets the protocol state.
const powerUpClocks = 10

// Store is the backing medium.
type Store interface {
	io.ReaderAt
	io.WriterAt
}

type mode int

const (
	modeCommand    mode = iota // collecting a command frame
	modeWriteToken             // waiting for a data token
	modeWriteData              // collecting a data block
)

// Card implements the bus side of an SD card. The exported knobs may be
// changed between operations to inject faults.
type Card struct {
	// SDHC selects block addressing and a version 2 CSD.
	SDHC bool
	// V1 makes the card reject CMD8 like a version 1 card.
	V1 bool
	// RejectVoltage clears the voltage accepted bit in the CMD8 echo.
	RejectVoltage bool
	// NeverReady keeps ACMD41 answering idle forever.
	NeverReady bool
	// InitPolls is the number of ACMD41 calls before the card is ready.
	InitPolls int
	// BusyBytes is the number of busy bytes after each programmed block.
	BusyBytes int
	// TransferDelay is the number of TransferComplete calls reporting a
	// bulk transfer still in flight.
	TransferDelay int
	// WriteFault rejects the data block for addr when it returns true.
	WriteFault func(addr uint32) bool
	// Inserted reports card presence for card-detect.
	Inserted bool

	// Writes records every committed block address in order.
	Writes []uint32
	// Reads records every block read in order.
	Reads []uint32
	// ClockHz is the last rate set through SetClockRate.
	ClockHz uint32

	lock     sync.Mutex
	store    Store
	blocks   uint32
	selected bool
	mode     mode
	cmd      []byte
	out      []byte
	data     []byte
	addr     uint32
	multi    bool
	idle     bool
	ready    bool
	appCmd   bool
	polls    int
	pending  int

	// idle bytes clocked while deselected
	deselected int
}

// NewCard creates an inserted card over store holding blocks blocks.
func NewCard(store Store, blocks uint32) *Card {
	return &Card{
		store:     store,
		blocks:    blocks,
		InitPolls: 3,
		BusyBytes: 4,
		Inserted:  true,
	}
}

// Blocks is the capacity of the backing store.
func (c *Card) Blocks() uint32 {
	return c.blocks
}

// Detect reports whether the card is inserted.
func (c *Card) Detect() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.Inserted
}

// Remove ejects the card and loses its protocol state.
func (c *Card) Remove() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.Inserted = false
	c.reset()
}

// Insert puts the card back.
func (c *Card) Insert() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.Inserted = true
}

func (c *Card) reset() {
	c.mode = modeCommand
	c.cmd = c.cmd[:0]
	c.out = c.out[:0]
	c.ready = false
	c.idle = false
	c.appCmd = false
	c.polls = 0
}

// Select implements sd.Bus.
func (c *Card) Select(active bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.selected = active
	if !active {
		c.out = c.out[:0]
		c.cmd = c.cmd[:0]
	}
}

// Transfer implements sd.Bus.
func (c *Card) Transfer(b byte) byte {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.transfer(b)
}

// StartTransfer implements sd.Bus.
func (c *Card) StartTransfer(tx, rx []byte) {
	c.lock.Lock()
	defer c.lock.Unlock()
	for i, b := range tx {
		rx[i] = c.transfer(b)
	}
	c.pending = c.TransferDelay
}

// TransferComplete implements sd.Bus.
func (c *Card) TransferComplete() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.pending > 0 {
		c.pending--
		return false
	}
	return true
}

// SetClockRate implements sd.ClockSetter.
func (c *Card) SetClockRate(hz uint32) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.ClockHz = hz
}

func (c *Card) transfer(in byte) byte {
	if !c.Inserted {
		return 0xff
	}
	if !c.selected {
		// power-up clocks, the host cycled power before sending them
		if c.deselected++; c.deselected == powerUpClocks {
			glog.V(4).Info("sim: power cycle")
			c.reset()
		}
		return 0xff
	}
	c.deselected = 0
	out := byte(0xff)
	if len(c.out) > 0 {
		out = c.out[0]
		c.out = c.out[1:]
	}
	switch c.mode {
	case modeCommand:
		if len(c.cmd) == 0 && in&0xc0 != 0x40 {
			break
		}
		c.cmd = append(c.cmd, in)
		if len(c.cmd) == 6 {
			c.execute()
			c.cmd = c.cmd[:0]
		}
	case modeWriteToken:
		switch {
		case in == 0xfe && !c.multi, in == 0xfc && c.multi:
			c.data = c.data[:0]
			c.mode = modeWriteData
		case in == 0xfd && c.multi:
			c.respond(0xff)
			c.busy()
			c.mode = modeCommand
		}
	case modeWriteData:
		c.data = append(c.data, in)
		if len(c.data) == BlockSize+2 {
			c.program()
		}
	}
	return out
}

func (c *Card) respond(b ...byte) {
	c.out = append(c.out, b...)
}

func (c *Card) busy() {
	for i := 0; i < c.BusyBytes; i++ {
		c.out = append(c.out, 0x00)
	}
}

func (c *Card) r1() byte {
	if c.idle {
		return 0x01
	}
	return 0x00
}

func (c *Card) execute() {
	index := c.cmd[0] & 0x3f
	arg := binary.BigEndian.Uint32(c.cmd[1:5])
	app := c.appCmd
	c.appCmd = false
	// one byte of command response latency
	c.respond(0xff)

	glog.V(4).Infof("sim: CMD%d(%08x) app=%v", index, arg, app)
	switch {
	case index == 0:
		c.ready = false
		c.idle = true
		c.polls = 0
		c.respond(0x01)
	case index == 8:
		if c.V1 {
			c.respond(0x05)
			return
		}
		voltage := byte(arg>>8) & 0x0f
		if c.RejectVoltage {
			voltage = 0
		}
		c.respond(c.r1(), 0x00, 0x00, voltage, byte(arg))
	case index == 55:
		c.appCmd = true
		c.respond(c.r1())
	case index == 41 && app:
		if c.NeverReady || c.polls < c.InitPolls {
			c.polls++
			c.respond(0x01)
			return
		}
		if c.SDHC && arg&0x40000000 == 0 {
			// high capacity cards never leave idle without HCS
			c.respond(0x01)
			return
		}
		c.ready = true
		c.idle = false
		c.respond(0x00)
	case index == 58:
		ocr := []byte{0x00, 0xff, 0x80, 0x00}
		if c.ready {
			ocr[0] |= 0x80
			if c.SDHC {
				ocr[0] |= 0x40
			}
		}
		c.respond(c.r1())
		c.respond(ocr...)
	case index == 9 && c.ready:
		c.respond(0x00, 0xff, 0xfe)
		c.respond(c.csd()...)
		c.respond(0x00, 0x00)
	case index == 10 && c.ready:
		c.respond(0x00, 0xff, 0xfe)
		c.respond(c.cid()...)
		c.respond(0x00, 0x00)
	case index == 17 && c.ready:
		addr, ok := c.blockAddr(arg)
		if !ok {
			c.respond(0x40)
			return
		}
		buf := make([]byte, BlockSize)
		if _, err := c.store.ReadAt(buf, int64(addr)*BlockSize); err != nil && err != io.EOF {
			glog.Warningf("sim: read %d: %v", addr, err)
			c.respond(0x00, 0xff, 0x08)
			return
		}
		c.Reads = append(c.Reads, addr)
		c.respond(0x00, 0xff, 0xff, 0xfe)
		c.respond(buf...)
		c.respond(0x00, 0x00)
	case (index == 24 || index == 25) && c.ready:
		addr, ok := c.blockAddr(arg)
		if !ok {
			c.respond(0x40)
			return
		}
		c.addr = addr
		c.multi = index == 25
		c.mode = modeWriteToken
		c.respond(0x00)
	default:
		c.respond(c.r1() | 0x04)
	}
}

func (c *Card) blockAddr(arg uint32) (uint32, bool) {
	addr := arg
	if !c.SDHC {
		if arg%BlockSize != 0 {
			return 0, false
		}
		addr = arg / BlockSize
	}
	return addr, addr < c.blocks
}

// program commits a received data block and queues the data response.
func (c *Card) program() {
	next := modeCommand
	if c.multi {
		next = modeWriteToken
	}
	c.mode = next
	if c.addr >= c.blocks || (c.WriteFault != nil && c.WriteFault(c.addr)) {
		c.respond(0x0d)
		return
	}
	if _, err := c.store.WriteAt(c.data[:BlockSize], int64(c.addr)*BlockSize); err != nil {
		glog.Warningf("sim: write %d: %v", c.addr, err)
		c.respond(0x0d)
		return
	}
	c.Writes = append(c.Writes, c.addr)
	c.respond(0x05)
	c.busy()
	c.addr++
}

func (c *Card) cid() []byte {
	b := make([]byte, 16)
	b[0] = 0x03
	copy(b[1:3], "SD")
	copy(b[3:8], "SIM01")
	b[8] = 0x10
	binary.BigEndian.PutUint32(b[9:13], 0x1badcafe)
	// 2016-06
	binary.BigEndian.PutUint16(b[13:15], 16<<4|6)
	b[15] = 0x01
	return b
}

func (c *Card) csd() []byte {
	b := make([]byte, 16)
	b[3] = 0x32 // 25 MHz
	if c.SDHC {
		size := c.blocks/1024 - 1
		b[0] = 0x40
		b[5] = 0x59
		b[7] = byte(size>>16) & 0x3f
		b[8] = byte(size >> 8)
		b[9] = byte(size)
		return b
	}
	// READ_BL_LEN 9, C_SIZE_MULT 7
	size := c.blocks/512 - 1
	b[5] = 0x59
	b[6] = byte(size>>10) & 0x03
	b[7] = byte(size >> 2)
	b[8] = byte(size&0x03) << 6
	b[9] = 0x03
	b[10] = 0x80
	return b
}
