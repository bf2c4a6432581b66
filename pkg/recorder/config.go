package recorder

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config defines the options of the Recorder.
type Config struct {
	// BufferSize is the size of the ring buffer absorbing record bursts.
	BufferSize int `yaml:"buffer_size"`
	// FileName is the template of the sequential file name, e.g. DLG0000.
	FileName string `yaml:"file_name"`
	FileExt  string `yaml:"file_ext"`
	// PrefixLen is the number of fixed characters before the sequence digits.
	PrefixLen int `yaml:"prefix_len"`
	Digits    int `yaml:"digits"`
	// MaxInitTries caps card bring-up attempts per insertion.
	MaxInitTries int `yaml:"max_init_tries"`
	// MaxErrors is the number of consecutive physical errors after which the
	// card is reset and brought up again. Zero disables escalation.
	MaxErrors int `yaml:"max_errors"`
	// TasksPerTick bounds the storage steps run per loop iteration.
	TasksPerTick int `yaml:"tasks_per_tick"`
	// PerfInterval is the period of loop timing records, zero disables them.
	PerfInterval time.Duration `yaml:"perf_interval"`
	// MachineID identifies the recorder in file headers.
	MachineID string `yaml:"machine_id"`
	// Params are extra PRM header lines.
	Params []string `yaml:"params"`

	AutoTerminate AutoTerminateConfig `yaml:"auto_terminate"`
}

// AutoTerminateConfig configures closing the file when the supply drops,
// e.g. when the vehicle is switched off.
type AutoTerminateConfig struct {
	Enabled bool `yaml:"enabled"`
	// High must be exceeded for Arm before a drop is acted on.
	High uint16        `yaml:"high"`
	Arm  time.Duration `yaml:"arm"`
	// Low must be undercut, then the supply stay below High for Fire.
	Low  uint16        `yaml:"low"`
	Fire time.Duration `yaml:"fire"`
}

var defaultConfig = Config{
	BufferSize:   8192,
	FileName:     "DLG0000",
	FileExt:      "DLA",
	PrefixLen:    3,
	Digits:       4,
	MaxInitTries: 16,
	MaxErrors:    8,
	TasksPerTick: 64,
	PerfInterval: time.Second,
	AutoTerminate: AutoTerminateConfig{
		Enabled: true,
		High:    2350,
		Arm:     2 * time.Second,
		Low:     1800,
		Fire:    2 * time.Second,
	},
}

func init() {
	if val := os.Getenv("DLG_FILE_NAME"); val != "" {
		defaultConfig.FileName = val
	}
	if val := os.Getenv("DLG_FILE_EXT"); val != "" {
		defaultConfig.FileExt = val
	}
	if val, err := strconv.Atoi(os.Getenv("DLG_BUFFER_SIZE")); err == nil && val > 0 {
		defaultConfig.BufferSize = val
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.IntVar(&defaultConfig.BufferSize, "buffer-size", defaultConfig.BufferSize, "Record buffer size in bytes")
	flag.StringVar(&defaultConfig.FileName, "file-name", defaultConfig.FileName, "Sequential file name template")
	flag.StringVar(&defaultConfig.FileExt, "file-ext", defaultConfig.FileExt, "File extension")
	flag.IntVar(&defaultConfig.PrefixLen, "file-prefix", defaultConfig.PrefixLen, "Fixed characters before the sequence digits")
	flag.IntVar(&defaultConfig.Digits, "file-digits", defaultConfig.Digits, "Number of sequence digits")
	flag.IntVar(&defaultConfig.MaxInitTries, "init-tries", defaultConfig.MaxInitTries, "Card bring-up attempts per insertion")
	flag.IntVar(&defaultConfig.MaxErrors, "max-errors", defaultConfig.MaxErrors, "Consecutive card errors before a reset, 0 to disable")
	flag.IntVar(&defaultConfig.TasksPerTick, "tasks-per-tick", defaultConfig.TasksPerTick, "Storage steps per loop iteration")
	flag.DurationVar(&defaultConfig.PerfInterval, "perf-interval", defaultConfig.PerfInterval, "Loop timing record period, 0 to disable")
	flag.BoolVar(&defaultConfig.AutoTerminate.Enabled, "auto-terminate", defaultConfig.AutoTerminate.Enabled, "Close the file when the supply drops")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a config with defaults.
func NewConfig() *Config {
	conf := defaultConfig
	conf.Params = append([]string(nil), defaultConfig.Params...)
	return &conf
}

// Validate checks the options a Recorder cannot run with.
func (c *Config) Validate() error {
	if c.BufferSize < 64 {
		return fmt.Errorf("buffer size %d too small", c.BufferSize)
	}
	if n := len(c.FileName); n == 0 || n > 8 || c.PrefixLen < 0 || c.Digits < 1 || c.PrefixLen+c.Digits > n {
		return fmt.Errorf("invalid file name template %q with %d+%d digits", c.FileName, c.PrefixLen, c.Digits)
	}
	if len(c.FileExt) > 3 {
		return fmt.Errorf("invalid file extension %q", c.FileExt)
	}
	if c.MaxInitTries < 1 {
		return fmt.Errorf("init tries must be positive")
	}
	if c.TasksPerTick < 1 {
		return fmt.Errorf("tasks per tick must be positive")
	}
	if at := c.AutoTerminate; at.Enabled && at.Low >= at.High {
		return fmt.Errorf("auto terminate low %d must be below high %d", at.Low, at.High)
	}
	return nil
}
