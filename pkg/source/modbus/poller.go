package modbus

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	fx "github.com/stvnrhodes/calsol/pkg/framework"
)

// Reading is the registers of one Channel.
type Reading struct {
	Channel   string
	Registers []uint16
}

// SampleMsg is one complete poll cycle, posted to the loop.
type SampleMsg struct {
	At       time.Time
	Readings []Reading
}

// MessageName implements framework.Message.
func (m *SampleMsg) MessageName() string { return "modbus sample" }

// Poller reads all channels on a ticker. It runs on its own goroutine and
// hands samples to the loop.
type Poller struct {
	conf   Config
	client Client
	closer io.Closer

	errors uint64
}

// NewPoller creates a Poller dialing the configured endpoint.
func (c *Config) NewPoller() (*Poller, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	client, handler := c.Dial()
	p := c.NewPollerWith(client)
	p.closer = handler
	return p, nil
}

// NewPollerWith creates a Poller on an existing client.
func (c *Config) NewPollerWith(client Client) *Poller {
	return &Poller{conf: *c, client: client}
}

// AddToLoop implements LoopAdder.
func (p *Poller) AddToLoop(l *fx.Loop) {
	l.AddRunnable(p)
}

// Name implements framework.Named.
func (p *Poller) Name() string {
	return "modbus poller"
}

// Errors is the number of failed poll cycles.
func (p *Poller) Errors() uint64 {
	return atomic.LoadUint64(&p.errors)
}

// PollOnce reads every channel. Any failure aborts the cycle so a sample
// is always complete.
func (p *Poller) PollOnce(now time.Time) (*SampleMsg, error) {
	msg := &SampleMsg{At: now, Readings: make([]Reading, 0, len(p.conf.Channels))}
	for _, ch := range p.conf.Channels {
		read := p.client.ReadHoldingRegisters
		if ch.Input {
			read = p.client.ReadInputRegisters
		}
		data, err := read(ch.Address, ch.Quantity)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", ch.Name, err)
		}
		if len(data) != int(ch.Quantity)*2 {
			return nil, fmt.Errorf("channel %s: %d bytes for %d registers", ch.Name, len(data), ch.Quantity)
		}
		msg.Readings = append(msg.Readings, Reading{Channel: ch.Name, Registers: unpackRegisters(data)})
	}
	return msg, nil
}

// Run implements Runnable.
func (p *Poller) Run(ctx context.Context) error {
	if p.closer != nil {
		defer p.closer.Close()
	}
	ctl := fx.LoopCtlFrom(ctx)
	ticker := time.NewTicker(p.conf.Interval)
	defer ticker.Stop()
	glog.Infof("modbus: polling %s every %v", p.conf.Endpoint, p.conf.Interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			msg, err := p.PollOnce(now)
			if err != nil {
				// logged at 1, 2, 4, 8... failures
				if n := atomic.AddUint64(&p.errors, 1); n&(n-1) == 0 {
					glog.Warningf("modbus: poll %s: %v", p.conf.Endpoint, err)
				}
				continue
			}
			ctl.PostMessage(msg)
		}
	}
}
