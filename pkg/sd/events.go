package sd

// Event is emitted when the card starts moving data.
type Event int

const (
	// EventCardDataRead is a register (CID/CSD) read.
	EventCardDataRead Event = iota
	// EventBlockRead is a data block read.
	EventBlockRead
	// EventBlockWrite is a data block write, single or streamed.
	EventBlockWrite
)

// String implements fmt.Stringer.
func (e Event) String() string {
	switch e {
	case EventCardDataRead:
		return "card-data-read"
	case EventBlockRead:
		return "block-read"
	case EventBlockWrite:
		return "block-write"
	}
	return "unknown"
}

// EventHandler receives card events.
type EventHandler interface {
	HandleEvent(Event)
}

// HandleEventFunc is the func form of EventHandler.
type HandleEventFunc func(Event)

// HandleEvent implements EventHandler.
func (f HandleEventFunc) HandleEvent(e Event) {
	f(e)
}
