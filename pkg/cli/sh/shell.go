package sh

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"

	"github.com/stvnrhodes/calsol/pkg/fat32"
	"github.com/stvnrhodes/calsol/pkg/image"
	"github.com/stvnrhodes/calsol/pkg/sd"
)

// Shell provides ishell backed interactive shell over a card image and a
// running datalogger.
type Shell struct {
	Interactive bool
	OutputJSON  bool

	Shell  *ishell.Shell
	Config *Config
	Mount  *Mount
}

// Config provides the default targets of the shell.
type Config struct {
	// Image is the card image to mount on start, if any.
	Image string
	// Server is the base URL of the datalogger status server.
	Server string
}

// Mount is a mounted card image.
type Mount struct {
	Image  *image.Image
	Card   *sd.Card
	Volume *fat32.Volume
}

const (
	shellKey        = "$shell"
	unmountedPrompt = "[none] > "
)

var (
	defaultConfig = Config{
		Server: "http://localhost:8080",
	}

	// flags

	evalOnly   bool
	outputJSON bool

	// commands
	commands = []*ishell.Cmd{
		&MountCmd,
		&UmountCmd,
	}
)

func init() {
	if val := os.Getenv("DLG_IMAGE"); val != "" {
		defaultConfig.Image = val
	}
	if val := os.Getenv("DLG_SERVER"); val != "" {
		defaultConfig.Server = val
	}
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
	flag.BoolVar(&outputJSON, "json", outputJSON, "Print output in JSON.")
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Image, "image", defaultConfig.Image, "Card image to mount.")
	flag.StringVar(&defaultConfig.Server, "server", defaultConfig.Server, "Datalogger status server URL.")
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// AddCmds is used by other commands providers during init func.
func AddCmds(cmds ...*ishell.Cmd) {
	commands = append(commands, cmds...)
}

// New creates a new shell.
func New(conf *Config) *Shell {
	s := &Shell{
		Interactive: !evalOnly,
		OutputJSON:  outputJSON,

		Shell:  ishell.New(),
		Config: conf,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unmountedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MountFrom gets the mounted image from ishell context.
func MountFrom(c *ishell.Context) *Mount {
	return ShellFrom(c).Mount
}

// MustBeMounted wraps command func requires a mounted image.
func MustBeMounted(fn func(c *ishell.Context)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if ShellFrom(c).Mount == nil {
			c.Err(fmt.Errorf("no image mounted"))
			return
		}
		fn(c)
	}
}

// Print prints v as JSON in JSON mode, or text otherwise.
func Print(c *ishell.Context, v interface{}, text string) {
	if !ShellFrom(c).OutputJSON {
		c.Print(text)
		return
	}
	out, err := json.Marshal(v)
	if err != nil {
		c.Err(err)
		return
	}
	c.Println(string(out))
}

// DoRequest sends a request to the status server and returns the body.
func DoRequest(c *ishell.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequest(method, strings.TrimSuffix(ShellFrom(c).Config.Server, "/")+path, nil)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return body, fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return body, nil
}

// MountImage opens and mounts the image at path, replacing the current one.
func (s *Shell) MountImage(path string) error {
	img, err := image.Open(path)
	if err != nil {
		return err
	}
	vol, card, err := img.Mount()
	if err != nil {
		img.Close()
		return err
	}
	s.Unmount()
	s.Mount = &Mount{Image: img, Card: card, Volume: vol}
	s.Shell.SetPrompt(fmt.Sprintf("%s > ", path))
	return nil
}

// Unmount closes the current image.
func (s *Shell) Unmount() {
	if s.Mount != nil {
		if err := s.Mount.Image.Close(); err != nil {
			glog.Warningf("close %s: %v", s.Mount.Image.Path, err)
		}
		s.Mount = nil
		s.Shell.SetPrompt(unmountedPrompt)
	}
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	defer s.Unmount()
	if s.Config.Image != "" {
		if err := s.MountImage(s.Config.Image); err != nil {
			glog.Fatalf("mount %q failed: %v", s.Config.Image, err)
		}
	}

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			glog.Fatal(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	glog.Fatal("command expected")
}

var (
	// MountCmd mounts a card image.
	MountCmd = ishell.Cmd{
		Name:    "mount",
		Aliases: []string{"m"},
		Help:    "IMAGE",
		Func: func(c *ishell.Context) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("IMAGE required"))
				return
			}
			if err := ShellFrom(c).MountImage(c.Args[0]); err != nil {
				c.Err(err)
			}
		},
	}

	// UmountCmd closes the mounted image.
	UmountCmd = ishell.Cmd{
		Name:    "umount",
		Aliases: []string{"u"},
		Help:    "",
		Func: func(c *ishell.Context) {
			ShellFrom(c).Unmount()
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	New(NewConfig()).Run(flag.Args()...)
}
