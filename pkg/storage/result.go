package storage

// Result is the outcome of one begin or poll step of a storage operation.
type Result int

const (
	// Success means the operation completed.
	Success Result = iota
	// Busy means the operation is in progress and must be polled again.
	Busy
	// Idle means there was nothing to do this cycle.
	Idle
	// Closed means the file reached its final state.
	Closed
	// Unready means the target is not ready to accept work yet.
	Unready
	// Failed is a malformed response or an unrecoverable protocol failure.
	Failed
	// Timeout means a bounded wait on the hardware expired.
	Timeout
	// Unsupported means the medium or format variant is not supported.
	Unsupported
	// Unrecognized means the on-disk signatures did not match.
	Unrecognized
	// PhysicalError is a transport failure; the in-flight command was aborted.
	PhysicalError
	// InvalidState means the operation was issued in the wrong state.
	InvalidState
	// NoSpace means the volume has no clusters left to allocate.
	NoSpace
)

var resultNames = [...]string{
	Success:       "success",
	Busy:          "busy",
	Idle:          "idle",
	Closed:        "closed",
	Unready:       "unready",
	Failed:        "failed",
	Timeout:       "timeout",
	Unsupported:   "unsupported",
	Unrecognized:  "unrecognized",
	PhysicalError: "physical error",
	InvalidState:  "invalid state",
	NoSpace:       "no space",
}

// String implements fmt.Stringer.
func (r Result) String() string {
	if r >= 0 && int(r) < len(resultNames) {
		return resultNames[r]
	}
	return "unknown"
}

// Pending indicates the operation needs more polling.
func (r Result) Pending() bool {
	return r == Busy
}

// IsError indicates the result is a failure.
func (r Result) IsError() bool {
	return r >= Failed
}

// Err maps failures to sentinel errors, nil otherwise.
func (r Result) Err() error {
	switch r {
	case Failed:
		return ErrFailed
	case Timeout:
		return ErrTimeout
	case Unsupported:
		return ErrUnsupported
	case Unrecognized:
		return ErrUnrecognized
	case PhysicalError:
		return ErrPhysical
	case InvalidState:
		return ErrInvalidState
	case NoSpace:
		return ErrNoSpace
	}
	return nil
}
