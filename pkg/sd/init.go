package sd

import (
	"github.com/golang/glog"

	"github.com/stvnrhodes/calsol/pkg/storage"
)

// Initialize starts the power-up sequence. It is valid from any state and
// abandons whatever was in flight.
func (c *Card) Initialize() storage.Result {
	c.bus.Select(false)
	c.info = Info{}
	c.err = nil
	c.blockSize = defaultBlockSize
	c.state = StateInitializing
	c.substate = initPowerUp
	c.tries = 0
	c.startPowerUp()
	return storage.Busy
}

func (c *Card) startPowerUp() {
	tx, rx := c.buffers(powerUpBytes)
	for i := range tx {
		tx[i] = idleByte
	}
	c.bus.StartTransfer(tx, rx)
}

// InitializeResult polls initialization.
func (c *Card) InitializeResult() storage.Result {
	if c.state != StateInitializing {
		return storage.InvalidState
	}
	if !c.bus.TransferComplete() {
		return storage.Busy
	}
	switch c.substate {
	case initPowerUp:
		return c.identify()
	case initOpCond:
		return c.pollOpCond()
	case initCID:
		c.release()
		c.info.CID = ParseCID(c.rx[:16])
		glog.V(2).Infof("sd: CID %s", c.info.CID)
		if r, err := c.readRegister(cmdSendCSD); r != storage.Busy {
			return c.fail(r, err)
		}
		c.substate = initCSD
		return storage.Busy
	case initCSD:
		c.release()
		return c.finish()
	}
	return storage.InvalidState
}

// identify runs CMD0, CMD8 and CMD58 once the idle clocks went out.
func (c *Card) identify() storage.Result {
	if c.rx[powerUpBytes-1] != idleByte {
		if c.tries++; c.tries < initMaxTries {
			glog.V(2).Info("sd: data line not idle, retrying power-up clocks")
			c.startPowerUp()
			return storage.Busy
		}
		return c.fail(storage.Failed, &TokenError{Op: "power-up", Token: c.rx[powerUpBytes-1]})
	}

	c.open()
	r := c.command(cmdGoIdleState, 0, crcGoIdle)
	c.release()
	if r != r1IdleState {
		return c.fail(storage.Failed, &ResponseError{Cmd: cmdGoIdleState, Response: r})
	}

	var resp [4]byte
	c.open()
	r = c.command(cmdSendIfCond, argIfCond, crcSendIfCnd)
	switch r {
	case r1IdleState | r1IllegalCommand:
		c.release()
	case r1IdleState:
		c.readBytes(resp[:])
		c.release()
		if resp[3] != byte(argIfCond&0xff) {
			return c.fail(storage.Failed, &ResponseError{Cmd: cmdSendIfCond, Response: resp[3]})
		}
		if resp[2]&0x0f != byte(argIfCond>>8) {
			return c.fail(storage.Unsupported, &ResponseError{Cmd: cmdSendIfCond, Response: resp[2]})
		}
		c.info.Ver2 = true
	default:
		c.release()
		return c.fail(storage.Failed, &ResponseError{Cmd: cmdSendIfCond, Response: r})
	}

	c.open()
	r = c.command(cmdReadOCR, 0, 0)
	c.readBytes(resp[:])
	c.release()
	if r != r1IdleState {
		return c.fail(storage.Failed, &ResponseError{Cmd: cmdReadOCR, Response: r})
	}
	if resp[1]&0x78 == 0 {
		return c.fail(storage.Unsupported, &ResponseError{Cmd: cmdReadOCR, Response: resp[1]})
	}

	glog.V(2).Infof("sd: card responded, v2=%v", c.info.Ver2)
	c.substate = initOpCond
	c.tries = 0
	return c.pollOpCond()
}

// pollOpCond issues one ACMD41 per poll until the card leaves idle.
func (c *Card) pollOpCond() storage.Result {
	var arg uint32
	if c.info.Ver2 {
		arg = argHighCap
	}
	c.open()
	r := c.appCommand(acmdSendOpCond, arg)
	c.release()
	switch r {
	case 0:
	case r1IdleState:
		if c.tries++; c.tries >= initMaxTries {
			return c.fail(storage.Timeout, &ResponseError{Cmd: acmdSendOpCond, Response: r})
		}
		return storage.Busy
	default:
		return c.fail(storage.Failed, &ResponseError{Cmd: acmdSendOpCond, Response: r})
	}

	if c.info.Ver2 {
		var ocr [4]byte
		c.open()
		r = c.command(cmdReadOCR, 0, 0)
		c.readBytes(ocr[:])
		c.release()
		if r != 0 {
			return c.fail(storage.Failed, &ResponseError{Cmd: cmdReadOCR, Response: r})
		}
		c.info.SDHC = ocr[0]&0x40 != 0
	}

	if r, err := c.readRegister(cmdSendCID); r != storage.Busy {
		return c.fail(r, err)
	}
	c.substate = initCID
	return storage.Busy
}

// readRegister starts the data phase of CMD9 or CMD10.
func (c *Card) readRegister(cmd byte) (storage.Result, error) {
	c.open()
	if r := c.command(cmd, 0, 0); r != 0 {
		c.release()
		return storage.Failed, &ResponseError{Cmd: cmd, Response: r}
	}
	if t := c.waitToken(tokenTimeout); t != tokenStartBlock {
		c.release()
		return storage.Failed, &TokenError{Op: "register", Token: t}
	}
	tx, rx := c.buffers(registerLen)
	for i := range tx {
		tx[i] = dummyByte
	}
	c.emit(EventCardDataRead)
	c.bus.StartTransfer(tx, rx)
	return storage.Busy, nil
}

func (c *Card) finish() storage.Result {
	csd, err := ParseCSD(c.rx[:16])
	if err != nil {
		if csd.Structure == 0 {
			return c.fail(storage.Failed, err)
		}
		return c.fail(storage.Unsupported, err)
	}
	c.info.CSD = csd
	if c.blockSize > c.MaxBlockSize {
		return c.fail(storage.Unsupported, ErrBlockLen)
	}
	if cs, ok := c.bus.(ClockSetter); ok {
		rate := csd.ClockRate()
		if rate == 0 || rate > defaultClockRate {
			rate = defaultClockRate
		}
		cs.SetClockRate(rate)
	}
	c.state = StateIdle
	glog.V(2).Infof("sd: ready, sdhc=%v blocks=%d", c.info.SDHC, csd.Blocks)
	return storage.Success
}
