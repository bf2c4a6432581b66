package recorder

// Stage is the application level state of the Recorder.
type Stage int

// Recorder stages
const (
	StageNoCard       Stage = iota // waiting for a card
	StageInitializing              // card bring-up
	StageMounting                  // reading the volume layout
	StageCreating                  // creating the next file
	StageRecording                 // file open, records flowing
	StageClosed                    // file closed, card may be removed
	StageFailed                    // bring-up gave up until the card is removed
)

var stageNames = [...]string{
	StageNoCard:       "no card",
	StageInitializing: "initializing",
	StageMounting:     "mounting",
	StageCreating:     "creating",
	StageRecording:    "recording",
	StageClosed:       "closed",
	StageFailed:       "failed",
}

// String implements fmt.Stringer.
func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "unknown"
}

// Status is a snapshot of the Recorder.
type Status struct {
	Stage   Stage
	Session string
	// Card is the identity line of the card, empty before bring-up.
	Card     string
	Capacity uint64
	File     string
	// Committed is the number of bytes of File on the card.
	Committed    uint32
	Buffered     int
	BufferFree   int
	FreeClusters uint32
	InitTries    int
	Supply       uint16
	Terminate    TermState

	// counters, monotonic over the process lifetime
	Records       uint64
	Drops         uint64
	Errors        uint64
	Resets        uint64
	Files         uint64
	BlocksRead    uint64
	BlocksWritten uint64
	FATWrites     uint64
	DirWrites     uint64
}
