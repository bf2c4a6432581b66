package mqtt

import (
	"flag"
	"os"
)

// Config defines the MQTT reporter.
type Config struct {
	// URL of the broker, e.g. mqtt://localhost:1883/datalogger/. Empty
	// disables reporting.
	URL string `yaml:"url"`
}

var defaultConfig Config

func init() {
	if val := os.Getenv("DLG_MQTT_URL"); val != "" {
		defaultConfig.URL = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.URL, "mqtt", defaultConfig.URL, "MQTT broker URL, empty to disable")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a config with defaults.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Enabled tells whether a broker is configured.
func (c *Config) Enabled() bool {
	return c.URL != ""
}
