package telemetry

import (
	"sync"
	"time"

	fx "github.com/stvnrhodes/calsol/pkg/framework"
	"github.com/stvnrhodes/calsol/pkg/recorder"
)

// StatusSource is implemented by recorder.Recorder.
type StatusSource interface {
	Status() recorder.Status
}

// Snapshot is a Status taken on the loop.
type Snapshot struct {
	recorder.Status
	At time.Time
}

// Publisher snapshots the recorder on the loop so other goroutines never
// touch it.
type Publisher struct {
	Interval time.Duration

	src  StatusSource
	last time.Time

	lock     sync.RWMutex
	snapshot Snapshot
	subs     map[chan Snapshot]struct{}
}

// NewPublisher creates a Publisher.
func (c *Config) NewPublisher(src StatusSource) *Publisher {
	return &Publisher{
		Interval: c.Interval,
		src:      src,
		subs:     make(map[chan Snapshot]struct{}),
	}
}

// AddToLoop implements LoopAdder.
func (p *Publisher) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvPublish, p)
}

// Control implements Controller.
func (p *Publisher) Control(cc fx.ControlContext) error {
	now := cc.Time()
	if !p.last.IsZero() && now.Sub(p.last) < p.Interval {
		return nil
	}
	p.last = now
	p.Update(Snapshot{Status: p.src.Status(), At: now})
	return nil
}

// Update stores s and hands it to subscribers. A subscriber still holding
// the previous snapshot misses this one.
func (p *Publisher) Update(s Snapshot) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.snapshot = s
	for ch := range p.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

// Snapshot returns the latest snapshot.
func (p *Publisher) Snapshot() Snapshot {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return p.snapshot
}

// Subscribe returns a channel receiving new snapshots and the func to stop.
func (p *Publisher) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	p.lock.Lock()
	p.subs[ch] = struct{}{}
	p.lock.Unlock()
	return ch, func() {
		p.lock.Lock()
		delete(p.subs, ch)
		p.lock.Unlock()
	}
}
