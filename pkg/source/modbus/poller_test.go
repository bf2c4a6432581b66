package modbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fx "github.com/stvnrhodes/calsol/pkg/framework"
	"github.com/stvnrhodes/calsol/pkg/recorder"
)

type fakeClient struct {
	fail  bool
	reads []string
}

func (f *fakeClient) regs(kind string, addr, qty uint16) ([]byte, error) {
	f.reads = append(f.reads, kind)
	if f.fail {
		return nil, errors.New("timeout")
	}
	out := make([]byte, 2*qty)
	for i := uint16(0); i < qty; i++ {
		v := addr + i
		out[2*i], out[2*i+1] = byte(v>>8), byte(v)
	}
	return out, nil
}

func (f *fakeClient) ReadHoldingRegisters(addr, qty uint16) ([]byte, error) {
	return f.regs("holding", addr, qty)
}

func (f *fakeClient) ReadInputRegisters(addr, qty uint16) ([]byte, error) {
	return f.regs("input", addr, qty)
}

func testConfig() *Config {
	conf := NewConfig()
	conf.Endpoint = "127.0.0.1:502"
	conf.Interval = 2 * time.Millisecond
	conf.Channels = []Channel{
		{Name: "bms", Address: 0x100, Quantity: 3},
		{Name: "supply", Address: 2400, Quantity: 1, Input: true},
	}
	conf.SupplyChannel = "supply"
	return conf
}

// capture records the messages reaching the recorder level.
type capture struct {
	lock sync.Mutex
	msgs []fx.Message
}

func (c *capture) Control(cc fx.ControlContext) error {
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mc fx.MessageProcessingContext) {
		mc.MessageTaken()
		c.lock.Lock()
		c.msgs = append(c.msgs, mc.CurrentMessage())
		c.lock.Unlock()
	}))
	return nil
}

func (c *capture) taken() []fx.Message {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]fx.Message(nil), c.msgs...)
}

func TestPollOnce(t *testing.T) {
	client := &fakeClient{}
	p := testConfig().NewPollerWith(client)
	at := time.Unix(1500000000, 0)
	msg, err := p.PollOnce(at)
	require.NoError(t, err)
	require.Equal(t, []string{"holding", "input"}, client.reads)
	require.Equal(t, &SampleMsg{At: at, Readings: []Reading{
		{Channel: "bms", Registers: []uint16{0x100, 0x101, 0x102}},
		{Channel: "supply", Registers: []uint16{2400}},
	}}, msg)

	client.fail = true
	_, err = p.PollOnce(at)
	require.Error(t, err)
	require.Contains(t, err.Error(), "channel bms")
}

func TestSource(t *testing.T) {
	l := fx.NewLoop()
	conf := testConfig()
	src := conf.NewSource()
	c := &capture{}
	l.Add(src)
	l.AddController(fx.PrLvRecord, c)

	l.PostMessage(&SampleMsg{At: time.Unix(1500000000, 5e6), Readings: []Reading{
		{Channel: "bms", Registers: []uint16{1, 65535}},
		{Channel: "supply", Registers: []uint16{2401}},
	}})
	l.Step(context.Background(), time.Now())
	require.EqualValues(t, 1, src.Samples())
	require.Equal(t, []fx.Message{
		&recorder.RecordMsg{Data: []byte("MB 1500000000005 bms 1 65535\n")},
		&recorder.RecordMsg{Data: []byte("MB 1500000000005 supply 2401\n")},
		&recorder.SupplyMsg{Value: 2401},
	}, c.taken())
}

func TestPollerRun(t *testing.T) {
	l := fx.NewLoop()
	l.Interval = time.Millisecond
	conf := testConfig()
	c := &capture{}
	l.Add(conf.NewPollerWith(&fakeClient{}), conf.NewSource())
	l.AddController(fx.PrLvRecord, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()
	require.Eventually(t, func() bool { return len(c.taken()) >= 6 }, 5*time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(c *Config)
		ok     bool
	}{
		{name: "valid", modify: func(c *Config) {}, ok: true},
		{name: "disabled", modify: func(c *Config) { c.Endpoint = ""; c.Channels = nil }, ok: true},
		{name: "no channels", modify: func(c *Config) { c.Channels = nil }},
		{name: "duplicate", modify: func(c *Config) { c.Channels[1].Name = "bms"; c.SupplyChannel = "" }},
		{name: "too many registers", modify: func(c *Config) { c.Channels[0].Quantity = 126 }},
		{name: "unknown supply", modify: func(c *Config) { c.SupplyChannel = "volts" }},
		{name: "no interval", modify: func(c *Config) { c.Interval = 0 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			conf := testConfig()
			tc.modify(conf)
			if tc.ok {
				require.NoError(t, conf.Validate())
			} else {
				require.Error(t, conf.Validate())
			}
		})
	}
}
