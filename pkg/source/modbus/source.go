package modbus

import (
	"strconv"

	fx "github.com/stvnrhodes/calsol/pkg/framework"
	"github.com/stvnrhodes/calsol/pkg/recorder"
)

// Source turns samples into record lines:
//
//	MB <unix ms> <channel> <register>...
//
// and feeds the supply channel to auto-terminate.
type Source struct {
	SupplyChannel string

	samples uint64
}

// NewSource creates the Source controller.
func (c *Config) NewSource() *Source {
	return &Source{SupplyChannel: c.SupplyChannel}
}

// AddToLoop implements LoopAdder.
func (s *Source) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvSource, s)
}

// Samples is the number of samples converted.
func (s *Source) Samples() uint64 {
	return s.samples
}

// Control implements Controller.
func (s *Source) Control(cc fx.ControlContext) error {
	var out []fx.Message
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mc fx.MessageProcessingContext) {
		msg, ok := mc.CurrentMessage().(*SampleMsg)
		if !ok {
			return
		}
		mc.MessageTaken()
		s.samples++
		out = append(out, s.convert(msg)...)
	}))
	cc.Messages().AddMessages(out...)
	return nil
}

func (s *Source) convert(msg *SampleMsg) []fx.Message {
	out := make([]fx.Message, 0, len(msg.Readings)+1)
	ms := strconv.FormatInt(msg.At.UnixNano()/1e6, 10)
	for _, r := range msg.Readings {
		line := make([]byte, 0, 16+len(r.Channel)+6*len(r.Registers))
		line = append(line, "MB "...)
		line = append(line, ms...)
		line = append(line, ' ')
		line = append(line, r.Channel...)
		for _, v := range r.Registers {
			line = append(line, ' ')
			line = strconv.AppendUint(line, uint64(v), 10)
		}
		line = append(line, '\n')
		out = append(out, &recorder.RecordMsg{Data: line})
		if r.Channel == s.SupplyChannel && len(r.Registers) > 0 {
			out = append(out, &recorder.SupplyMsg{Value: r.Registers[0]})
		}
	}
	return out
}
