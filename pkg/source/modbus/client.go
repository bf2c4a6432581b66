package modbus

import (
	"github.com/goburrow/modbus"
)

// Client is the subset of modbus.Client the poller reads with.
type Client interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
}

// Dial creates a Modbus TCP client. The handler connects on first use and
// reconnects after errors.
func (c *Config) Dial() (Client, *modbus.TCPClientHandler) {
	h := modbus.NewTCPClientHandler(c.Endpoint)
	h.Timeout = c.Timeout
	h.SlaveId = c.UnitID
	return modbus.NewClient(h), h
}

func unpackRegisters(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}
