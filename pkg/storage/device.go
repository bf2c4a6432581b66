// Package storage defines the block device contract shared by the card
// driver and the filesystem writer.
package storage

// Device is a block-addressed medium driven entirely by begin/poll pairs.
//
// At most one operation is in flight. Begin calls return Busy when the
// operation started, InvalidState when the device is not idle, or an error
// result when the command was rejected. The paired poll call is invoked
// until it returns something other than Busy.
type Device interface {
	// BlockSize is the transfer unit in bytes.
	BlockSize() int
	// BlockCount is the capacity in blocks.
	BlockCount() uint32

	// BeginRead starts reading block addr into dst.
	BeginRead(addr uint32, dst []byte) Result
	// ReadResult polls a read started by BeginRead.
	ReadResult() Result

	// BeginWrite starts writing src to block addr.
	BeginWrite(addr uint32, src []byte) Result
	// WriteResult polls a write started by BeginWrite.
	WriteResult() Result

	// BeginMultiWrite opens a streaming write session at block addr. It
	// completes inline and returns Success once the session is open.
	BeginMultiWrite(addr uint32) Result
	// SendBlock streams the next block of the session.
	SendBlock(src []byte) Result
	// Terminate closes the streaming session.
	Terminate() Result
	// MultiWriteResult polls SendBlock and Terminate.
	MultiWriteResult() Result
}

// Wait polls fn until it stops returning Busy or limit polls have elapsed.
// It is meant for tools and tests; the recorder never blocks on the device.
func Wait(limit int, fn func() Result) (Result, error) {
	for i := 0; i < limit; i++ {
		if r := fn(); r != Busy {
			return r, r.Err()
		}
	}
	return Busy, ErrStalled
}

// ReadBlock reads one block synchronously using Wait.
func ReadBlock(dev Device, addr uint32, dst []byte) error {
	switch r := dev.BeginRead(addr, dst); r {
	case Busy:
		_, err := Wait(DefaultWaitLimit, dev.ReadResult)
		return err
	default:
		return r.Err()
	}
}

// WriteBlock writes one block synchronously using Wait.
func WriteBlock(dev Device, addr uint32, src []byte) error {
	switch r := dev.BeginWrite(addr, src); r {
	case Busy:
		_, err := Wait(DefaultWaitLimit, dev.WriteResult)
		return err
	default:
		return r.Err()
	}
}

// DefaultWaitLimit bounds synchronous helpers.
const DefaultWaitLimit = 1 << 20
