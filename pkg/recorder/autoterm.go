package recorder

import (
	"time"

	"github.com/golang/glog"
)

// TermState is the state of the auto-terminate hysteresis.
type TermState int

// Auto-terminate states
const (
	TermDisarmed TermState = iota // supply never seen high
	TermArming                    // high, waiting for Arm
	TermArmed                     // waiting for the supply to drop
	TermFiring                    // low, waiting for Fire
)

var termStateNames = [...]string{
	TermDisarmed: "disarmed",
	TermArming:   "arming",
	TermArmed:    "armed",
	TermFiring:   "firing",
}

// String implements fmt.Stringer.
func (s TermState) String() string {
	if s >= 0 && int(s) < len(termStateNames) {
		return termStateNames[s]
	}
	return "unknown"
}

// AutoTerminate decides when the supply voltage dropped for good. It only
// fires after the supply was high for a while, so a recorder powered on a
// bench never closes its file on its own.
type AutoTerminate struct {
	AutoTerminateConfig

	state TermState
	since time.Time
}

// NewAutoTerminate creates a disarmed AutoTerminate.
func NewAutoTerminate(conf AutoTerminateConfig) *AutoTerminate {
	return &AutoTerminate{AutoTerminateConfig: conf}
}

// State returns the current state.
func (a *AutoTerminate) State() TermState {
	return a.state
}

// Update feeds a supply sample taken at now and reports whether the file
// should be closed. It reports true once per drop.
func (a *AutoTerminate) Update(v uint16, now time.Time) bool {
	if !a.Enabled {
		return false
	}
	switch a.state {
	case TermDisarmed:
		if v > a.High {
			a.enter(TermArming, now)
		}
	case TermArming:
		switch {
		case v <= a.High:
			a.enter(TermDisarmed, now)
		case now.Sub(a.since) >= a.Arm:
			a.enter(TermArmed, now)
		}
	case TermArmed:
		if v < a.Low {
			a.enter(TermFiring, now)
		}
	case TermFiring:
		switch {
		case v >= a.High:
			// recovered, a dip only
			a.enter(TermArmed, now)
		case now.Sub(a.since) >= a.Fire:
			a.enter(TermDisarmed, now)
			return true
		}
	}
	return false
}

func (a *AutoTerminate) enter(s TermState, now time.Time) {
	glog.V(2).Infof("recorder: auto terminate %s -> %s", a.state, s)
	a.state = s
	a.since = now
}
