package modbus

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"
)

// Channel is a block of registers recorded under one name.
type Channel struct {
	Name     string `yaml:"name"`
	Address  uint16 `yaml:"address"`
	Quantity uint16 `yaml:"quantity"`
	// Input selects input registers (FC 4) instead of holding registers (FC 3).
	Input bool `yaml:"input"`
}

// Config defines the Modbus TCP source.
type Config struct {
	// Endpoint is host:port of the Modbus TCP server, empty disables the source.
	Endpoint string        `yaml:"endpoint"`
	UnitID   uint8         `yaml:"unit_id"`
	Timeout  time.Duration `yaml:"timeout"`
	Interval time.Duration `yaml:"interval"`
	Channels []Channel     `yaml:"channels"`
	// SupplyChannel names the channel whose first register is the supply
	// voltage fed to auto-terminate.
	SupplyChannel string `yaml:"supply_channel"`
}

var defaultConfig = Config{
	UnitID:   1,
	Timeout:  time.Second,
	Interval: 100 * time.Millisecond,
}

func init() {
	if val := os.Getenv("DLG_MODBUS_ENDPOINT"); val != "" {
		defaultConfig.Endpoint = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Endpoint, "modbus", defaultConfig.Endpoint, "Modbus TCP endpoint host:port to poll")
	flag.DurationVar(&defaultConfig.Interval, "modbus-interval", defaultConfig.Interval, "Modbus poll interval")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a config with defaults.
func NewConfig() *Config {
	conf := defaultConfig
	conf.Channels = append([]Channel(nil), defaultConfig.Channels...)
	return &conf
}

// Enabled tells whether a source is configured.
func (c *Config) Enabled() bool {
	return c.Endpoint != ""
}

// Validate checks the channel geometry.
func (c *Config) Validate() error {
	if !c.Enabled() {
		return nil
	}
	if c.Interval <= 0 {
		return errors.New("modbus: interval must be > 0")
	}
	if len(c.Channels) == 0 {
		return errors.New("modbus: at least one channel required")
	}
	names := make(map[string]bool)
	for _, ch := range c.Channels {
		if ch.Name == "" || names[ch.Name] {
			return fmt.Errorf("modbus: channel name %q empty or duplicated", ch.Name)
		}
		names[ch.Name] = true
		// 125 registers fit in one response PDU
		if ch.Quantity == 0 || ch.Quantity > 125 {
			return fmt.Errorf("modbus: channel %s quantity %d out of range", ch.Name, ch.Quantity)
		}
	}
	if c.SupplyChannel != "" && !names[c.SupplyChannel] {
		return fmt.Errorf("modbus: unknown supply channel %q", c.SupplyChannel)
	}
	return nil
}
