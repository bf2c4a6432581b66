package framework

import (
	"context"
	"time"
)

// Named is an abstraction for things with a name.
type Named interface {
	Name() string
}

// Runnable defines a background service living beside the loop, e.g. a
// network listener or a poller.
type Runnable interface {
	Run(context.Context) error
}

// Message is what runnables hand to controllers through the loop.
type Message interface {
	// MessageName identifies the message in logs.
	MessageName() string
}

// Controller is driven once per loop iteration.
type Controller interface {
	Control(ControlContext) error
}

// ControlFunc is the func form of Controller.
type ControlFunc func(ControlContext) error

// Control implements Controller.
func (f ControlFunc) Control(cc ControlContext) error {
	return f(cc)
}

// TimeSource provides the time for controlling logic.
type TimeSource interface {
	Time() time.Time
}

// ControlContext is the context of one loop iteration.
type ControlContext interface {
	TimeSource
	Context() context.Context
	// PriorityLevel is the level being run.
	PriorityLevel() int
	// Messages holds the messages posted before the iteration started.
	Messages() MessageStore

	LoopControl
}

// PriorityLevels is the total levels of priorities.
const PriorityLevels int = 16

// Priority levels, lower runs first.
const (
	PrLvTop  int = 0
	PrLvIdle int = PriorityLevels - 1

	// PrLvSource runs producers turning posted samples into records.
	PrLvSource int = 4
	// PrLvRecord runs the storage pipeline.
	PrLvRecord int = 8
	// PrLvPublish runs status publishers after the pipeline moved.
	PrLvPublish int = 12
)

// LoopControl is the part of the loop safe to use from any goroutine.
type LoopControl interface {
	// PostMessage enqueues msg for the next iteration.
	PostMessage(msg Message)
	// TriggerNext runs the next iteration without waiting for the ticker.
	TriggerNext()
}

// MessageStore provides read/write access to a list of messages.
type MessageStore interface {
	ProcessMessages(MessageProcessor)
	MessageAppender
}

// MessageAppender appends message to store.
type MessageAppender interface {
	// AddMessages appends messages for controllers at later levels.
	AddMessages(msgs ...Message)
}

// MessageProcessor is used by MessageStore to process messages.
type MessageProcessor interface {
	ProcessMessage(MessageProcessingContext)
}

// ProcessMessageFunc is the func form of MessageProcessor.
type ProcessMessageFunc func(MessageProcessingContext)

// ProcessMessage implements MessageProcessor.
func (f ProcessMessageFunc) ProcessMessage(mc MessageProcessingContext) {
	f(mc)
}

// MessageProcessingContext provides context for current message.
type MessageProcessingContext interface {
	CurrentMessage() Message
	// MessageTaken removes the message from the store.
	MessageTaken()
	// StopProcessing skips the remaining messages.
	StopProcessing()

	MessageAppender
}
