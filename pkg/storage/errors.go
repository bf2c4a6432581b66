package storage

import "errors"

var (
	// ErrFailed indicates a malformed response or protocol failure.
	ErrFailed = errors.New("operation failed")
	// ErrTimeout indicates a bounded hardware wait expired.
	ErrTimeout = errors.New("timeout")
	// ErrUnsupported indicates an unsupported medium or format variant.
	ErrUnsupported = errors.New("unsupported")
	// ErrUnrecognized indicates the on-disk format was not recognized.
	ErrUnrecognized = errors.New("unrecognized format")
	// ErrPhysical indicates a transport failure.
	ErrPhysical = errors.New("physical error")
	// ErrInvalidState indicates an operation issued in the wrong state.
	ErrInvalidState = errors.New("invalid state")
	// ErrNoSpace indicates the volume is full.
	ErrNoSpace = errors.New("no space left")
	// ErrStalled indicates a poll loop exceeded its iteration budget.
	ErrStalled = errors.New("operation stalled")
)
