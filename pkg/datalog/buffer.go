// Package datalog decouples bursty record producers from block storage.
package datalog

import (
	"bytes"

	"github.com/golang/glog"

	"github.com/stvnrhodes/calsol/pkg/storage"
)

// Sink consumes buffered bytes. fat32.File implements it.
type Sink interface {
	// Ready indicates Write and Tasks may be called.
	Ready() bool
	// Write accepts a prefix of p and returns its length.
	Write(p []byte) int
	RequestClose()
	CloseRequested() bool
	// Tasks advances the sink by one step.
	Tasks() storage.Result
}

// Buffer is a single producer, single consumer ring buffer draining into a
// Sink. It is not safe for concurrent use; producer and consumer share the
// control loop.
type Buffer struct {
	buf            []byte
	free           int
	readPos        int
	writePos       int
	closeRequested bool
	sink           Sink
}

// NewBuffer creates a Buffer of size bytes bound to sink, which may be nil.
func NewBuffer(size int, sink Sink) *Buffer {
	return &Buffer{buf: make([]byte, size), free: size, sink: sink}
}

// Bind attaches the next sink, e.g. after rotating files. Buffered bytes
// are kept and drain into the new sink.
func (b *Buffer) Bind(sink Sink) {
	b.sink = sink
	b.closeRequested = false
}

// Reset drops buffered bytes and the close request, e.g. when the file
// they were meant for is gone.
func (b *Buffer) Reset() {
	b.free = len(b.buf)
	b.readPos = 0
	b.writePos = 0
	b.closeRequested = false
}

// Sink returns the bound sink.
func (b *Buffer) Sink() Sink {
	return b.sink
}

// Cap is the buffer size.
func (b *Buffer) Cap() int {
	return len(b.buf)
}

// Free is the number of bytes WriteAtomic can take.
func (b *Buffer) Free() int {
	return b.free
}

// Len is the number of buffered bytes.
func (b *Buffer) Len() int {
	return len(b.buf) - b.free
}

// Count returns how many buffered bytes equal c, e.g. the number of
// complete records when c is the record terminator.
func (b *Buffer) Count(c byte) int {
	sep := []byte{c}
	switch {
	case b.free == len(b.buf):
		return 0
	case b.readPos < b.writePos:
		return bytes.Count(b.buf[b.readPos:b.writePos], sep)
	default:
		return bytes.Count(b.buf[b.readPos:], sep) + bytes.Count(b.buf[:b.writePos], sep)
	}
}

// CloseRequested indicates RequestClose was called since the last Bind.
func (b *Buffer) CloseRequested() bool {
	return b.closeRequested
}

// RequestClose stops accepting writes. The sink is asked to close once the
// buffer drained.
func (b *Buffer) RequestClose() {
	b.closeRequested = true
}

func (b *Buffer) sinkReady() bool {
	return b.sink != nil && b.sink.Ready()
}

// WriteAtomic stores all of p or nothing.
func (b *Buffer) WriteAtomic(p []byte) error {
	if b.closeRequested {
		return ErrClosing
	}
	if len(p) > b.free {
		return ErrBufferFull
	}
	if b.free == len(b.buf) && b.sinkReady() {
		n := b.sink.Write(p)
		p = p[n:]
		glog.V(4).Infof("datalog: %d bytes direct to sink", n)
	}
	for len(p) > 0 {
		n := len(b.buf) - b.writePos
		if b.readPos > b.writePos {
			n = b.free
		}
		n = copy(b.buf[b.writePos:b.writePos+n], p)
		b.writePos += n
		if b.writePos == len(b.buf) {
			b.writePos = 0
		}
		b.free -= n
		p = p[n:]
	}
	return nil
}

// Tasks moves buffered bytes into the sink and runs the sink. It returns
// Unready while there is no usable sink.
func (b *Buffer) Tasks() storage.Result {
	if !b.sinkReady() {
		return storage.Unready
	}
	for b.free < len(b.buf) {
		end := len(b.buf)
		if b.writePos > b.readPos {
			end = b.writePos
		}
		n := b.sink.Write(b.buf[b.readPos:end])
		if n == 0 {
			break
		}
		b.readPos += n
		if b.readPos == len(b.buf) {
			b.readPos = 0
		}
		b.free += n
	}
	if b.closeRequested && b.free == len(b.buf) && !b.sink.CloseRequested() {
		glog.V(2).Info("datalog: drained, closing sink")
		b.sink.RequestClose()
	}
	return b.sink.Tasks()
}
