package sd

// Commands used by the driver.
const (
	cmdGoIdleState        byte = 0
	cmdSendIfCond         byte = 8
	cmdSendCSD            byte = 9
	cmdSendCID            byte = 10
	cmdReadSingleBlock    byte = 17
	cmdWriteBlock         byte = 24
	cmdWriteMultipleBlock byte = 25
	cmdAppCmd             byte = 55
	cmdReadOCR            byte = 58
	acmdSendOpCond        byte = 41
)

// Tokens and fill bytes on the data line.
const (
	idleByte          byte = 0xff
	busyByte          byte = 0x00
	dummyByte         byte = 0xff
	tokenStartBlock   byte = 0xfe
	tokenMultiStart   byte = 0xfc
	tokenStopTransfer byte = 0xfd
)

// R1 bits.
const (
	r1IdleState      byte = 0x01
	r1IllegalCommand byte = 0x04
)

const (
	argIfCond    uint32 = 0x000001aa
	argHighCap   uint32 = 0x40000000
	crcGoIdle    byte   = 0x95
	crcSendIfCnd byte   = 0x87
)

// Bounds on every wait.
const (
	// powerUpBytes idle bytes are clocked out before CMD0.
	powerUpBytes = 32
	// cmdTimeout is the number of bytes to wait for an R1 response.
	cmdTimeout = 16
	// tokenTimeout is the number of bytes to wait for a start block token.
	tokenTimeout = 4096
	// dataResponseTimeout is the number of bytes to wait for a data response token.
	dataResponseTimeout = 1024
	// busyBytesPerPoll bounds how many busy bytes are checked in one poll.
	busyBytesPerPoll = 8
	// busyPollLimit is the number of polls a card may stay busy.
	busyPollLimit = 1 << 16
	// initMaxTries bounds ACMD41 retries and power-up priming.
	initMaxTries = 1024
	// registerLen is a CID or CSD register plus its CRC.
	registerLen = 18
	// defaultBlockSize is the transfer unit the driver uses.
	defaultBlockSize = 512
	// defaultClockRate is applied once the card leaves identification mode.
	defaultClockRate = 25000000
)
