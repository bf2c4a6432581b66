package telemetry

import (
	"flag"
	"os"
	"time"
)

// Config defines the status publisher and its HTTP server.
type Config struct {
	// Listen is the HTTP listen address, empty disables the server.
	Listen string `yaml:"listen"`
	// Interval is the period of status snapshots.
	Interval time.Duration `yaml:"interval"`
}

var defaultConfig = Config{
	Listen:   ":8080",
	Interval: time.Second,
}

func init() {
	if val, ok := os.LookupEnv("DLG_HTTP_ADDR"); ok {
		defaultConfig.Listen = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Listen, "http", defaultConfig.Listen, "Status HTTP listen address, empty to disable")
	flag.DurationVar(&defaultConfig.Interval, "status-interval", defaultConfig.Interval, "Status snapshot period")
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
