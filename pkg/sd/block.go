package sd

import (
	"github.com/golang/glog"

	"github.com/stvnrhodes/calsol/pkg/storage"
)

// BeginRead implements storage.Device.
func (c *Card) BeginRead(addr uint32, dst []byte) storage.Result {
	if c.state != StateIdle || len(dst) < c.blockSize {
		return storage.InvalidState
	}
	c.open()
	if r := c.command(cmdReadSingleBlock, c.address(addr), 0); r != 0 {
		c.release()
		c.err = &ResponseError{Cmd: cmdReadSingleBlock, Response: r}
		glog.Warningf("sd: read %d: %v", addr, c.err)
		return storage.PhysicalError
	}
	if t := c.waitToken(tokenTimeout); t != tokenStartBlock {
		c.release()
		c.err = &TokenError{Op: "read", Token: t}
		glog.Warningf("sd: read %d: %v", addr, c.err)
		return storage.PhysicalError
	}
	tx, rx := c.buffers(c.blockSize + 2)
	for i := range tx {
		tx[i] = dummyByte
	}
	c.dst = dst
	c.state = StateReadingBlock
	c.emit(EventBlockRead)
	c.bus.StartTransfer(tx, rx)
	glog.V(4).Infof("sd: reading block %d", addr)
	return storage.Busy
}

// ReadResult implements storage.Device.
func (c *Card) ReadResult() storage.Result {
	if c.state != StateReadingBlock {
		return storage.InvalidState
	}
	if !c.bus.TransferComplete() {
		return storage.Busy
	}
	c.release()
	copy(c.dst, c.rx[:c.blockSize])
	c.dst = nil
	c.state = StateIdle
	return storage.Success
}

// BeginWrite implements storage.Device.
func (c *Card) BeginWrite(addr uint32, src []byte) storage.Result {
	if c.state != StateIdle || len(src) < c.blockSize {
		return storage.InvalidState
	}
	c.open()
	if r := c.command(cmdWriteBlock, c.address(addr), 0); r != 0 {
		c.release()
		c.err = &ResponseError{Cmd: cmdWriteBlock, Response: r}
		glog.Warningf("sd: write %d: %v", addr, c.err)
		return storage.PhysicalError
	}
	c.startBlock(tokenStartBlock, src)
	c.state = StateWritingBlock
	glog.V(4).Infof("sd: writing block %d", addr)
	return storage.Busy
}

// WriteResult implements storage.Device.
func (c *Card) WriteResult() storage.Result {
	if c.state != StateWritingBlock {
		return storage.InvalidState
	}
	r := c.pollBlock()
	if r != storage.Busy {
		c.release()
		c.state = StateIdle
	}
	return r
}

// BeginMultiWrite implements storage.Device.
func (c *Card) BeginMultiWrite(addr uint32) storage.Result {
	if c.state != StateIdle {
		return storage.InvalidState
	}
	c.open()
	if r := c.command(cmdWriteMultipleBlock, c.address(addr), 0); r != 0 {
		c.release()
		c.err = &ResponseError{Cmd: cmdWriteMultipleBlock, Response: r}
		glog.Warningf("sd: multi-write %d: %v", addr, c.err)
		return storage.PhysicalError
	}
	c.state = StateMultiWriteIdle
	glog.V(4).Infof("sd: multi-write session at %d", addr)
	return storage.Success
}

// SendBlock implements storage.Device.
func (c *Card) SendBlock(src []byte) storage.Result {
	if c.state != StateMultiWriteIdle || len(src) < c.blockSize {
		return storage.InvalidState
	}
	c.startBlock(tokenMultiStart, src)
	c.state = StateMultiWriteSending
	return storage.Busy
}

// Terminate implements storage.Device.
func (c *Card) Terminate() storage.Result {
	if c.state != StateMultiWriteIdle {
		return storage.InvalidState
	}
	c.bus.Transfer(tokenStopTransfer)
	// stuff byte
	c.bus.Transfer(dummyByte)
	c.busyPolls = 0
	c.state = StateMultiWriteTerminating
	return storage.Busy
}

// MultiWriteResult implements storage.Device.
func (c *Card) MultiWriteResult() storage.Result {
	switch c.state {
	case StateMultiWriteSending:
		r := c.pollBlock()
		if r != storage.Busy {
			// the session stays open on failure so it can be terminated
			c.state = StateMultiWriteIdle
		}
		return r
	case StateMultiWriteTerminating:
		r := c.waitIdle()
		if r != storage.Busy {
			c.release()
			c.state = StateIdle
		}
		return r
	}
	return storage.InvalidState
}

func (c *Card) startBlock(token byte, src []byte) {
	tx, rx := c.frame(token, src)
	c.substate = writeSending
	c.busyPolls = 0
	c.emit(EventBlockWrite)
	c.bus.StartTransfer(tx, rx)
}

// pollBlock advances a block transfer through its data response and busy
// phases.
func (c *Card) pollBlock() storage.Result {
	switch c.substate {
	case writeSending:
		if !c.bus.TransferComplete() {
			return storage.Busy
		}
		if r := c.dataResponse(c.rx[c.blockSize+3]); r != storage.Success {
			glog.Warningf("sd: block rejected: %v", c.err)
			return r
		}
		c.substate = writeBusyWait
		fallthrough
	case writeBusyWait:
		r := c.waitIdle()
		if r.IsError() {
			glog.Warningf("sd: card stuck busy: %v", c.err)
		}
		return r
	}
	return storage.InvalidState
}
