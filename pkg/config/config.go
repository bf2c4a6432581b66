// Package config gathers the per-package configs of the datalogger into one
// YAML file.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/denisbrodbeck/machineid"
	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"github.com/stvnrhodes/calsol/pkg/recorder"
	"github.com/stvnrhodes/calsol/pkg/source/modbus"
	"github.com/stvnrhodes/calsol/pkg/telemetry"
	"github.com/stvnrhodes/calsol/pkg/telemetry/mqtt"
)

// Image selects the card image file.
type Image struct {
	Path string `yaml:"path"`
	// Blocks creates and formats the image when it does not exist yet.
	Blocks uint32 `yaml:"blocks"`
}

// Config is the layout of the config file. Sections left out keep the
// values from flags and environment.
type Config struct {
	Image     Image            `yaml:"image"`
	Recorder  recorder.Config  `yaml:"recorder"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	MQTT      mqtt.Config      `yaml:"mqtt"`
	Modbus    modbus.Config    `yaml:"modbus"`
}

var (
	configFile   string
	defaultImage = Image{Path: "datalogger.img"}
)

func init() {
	if val := os.Getenv("DLG_CONFIG"); val != "" {
		configFile = val
	}
	if val := os.Getenv("DLG_IMAGE"); val != "" {
		defaultImage.Path = val
	}
}

// SetupFlags sets command line flags of all sections.
func SetupFlags() {
	flag.StringVar(&configFile, "config", configFile, "YAML config file, its values override flags")
	flag.StringVar(&defaultImage.Path, "image", defaultImage.Path, "Card image file")
	recorder.SetupFlags()
	telemetry.SetupFlags()
	mqtt.SetupFlags()
	modbus.SetupFlags()
}

func defaults() *Config {
	return &Config{
		Image:     defaultImage,
		Recorder:  *recorder.NewConfig(),
		Telemetry: *telemetry.NewConfig(),
		MQTT:      *mqtt.NewConfig(),
		Modbus:    *modbus.NewConfig(),
	}
}

// NewConfig creates a config from flags and environment, then applies the
// config file if one is given.
func NewConfig() (*Config, error) {
	if configFile != "" {
		return Load(configFile)
	}
	c := defaults()
	c.Normalize()
	return c, c.Validate()
}

// Load reads a config file on top of the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c := defaults()
	if err := c.Parse(data); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	glog.V(2).Infof("config: loaded %s", path)
	c.Normalize()
	return c, c.Validate()
}

// Parse decodes YAML over the current values. Unknown keys are errors so
// typos do not go unnoticed.
func (c *Config) Parse(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Normalize fills values derived from the environment. It must be called
// before Validate.
func (c *Config) Normalize() {
	if c.Recorder.MachineID == "" {
		c.Recorder.MachineID = MachineID()
	}
}

// ValidationError lists every problem Validate found.
type ValidationError struct {
	Problems []error
}

// Error implements error.
func (e *ValidationError) Error() string {
	msg := make([]string, len(e.Problems))
	for i, err := range e.Problems {
		msg[i] = err.Error()
	}
	return "invalid config: " + strings.Join(msg, "; ")
}

// Unwrap gives errors.Is and errors.As access to the problems.
func (e *ValidationError) Unwrap() []error {
	return e.Problems
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var problems []error
	if c.Image.Path == "" {
		problems = append(problems, errors.New("image: path required"))
	}
	if err := c.Recorder.Validate(); err != nil {
		problems = append(problems, fmt.Errorf("recorder: %w", err))
	}
	if err := c.Modbus.Validate(); err != nil {
		problems = append(problems, err)
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// MachineID identifies this machine without exposing the raw machine ID.
// The host name stands in on platforms without one.
func MachineID() string {
	id, err := machineid.ProtectedID("datalogger")
	if err == nil && len(id) >= 16 {
		return id[:16]
	}
	glog.Warningf("config: machine id: %v", err)
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "unknown"
}
