package remote

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/abiosoft/ishell"

	"github.com/stvnrhodes/calsol/pkg/cli/sh"
	"github.com/stvnrhodes/calsol/pkg/recorder"
)

// command posts a recorder command to the running datalogger.
func command(cmd recorder.Command) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if _, err := sh.DoRequest(c, http.MethodPost, "/command/"+cmd.String()); err != nil {
			c.Err(err)
			return
		}
		c.Println("OK")
	}
}

// FormatStatus renders the JSON status of the server as sorted key value
// lines.
func FormatStatus(body []byte) (string, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var w bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&w, "%-15s %v\n", k, fields[k])
	}
	return w.String(), nil
}

var (
	// StatusCmd shows the status of the running datalogger.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "",
		Func: func(c *ishell.Context) {
			body, err := sh.DoRequest(c, http.MethodGet, "/status")
			if err != nil {
				c.Err(err)
				return
			}
			if sh.ShellFrom(c).OutputJSON {
				c.Println(string(body))
				return
			}
			out, err := FormatStatus(body)
			if err != nil {
				c.Err(err)
				return
			}
			c.Print(out)
		},
	}

	// CloseCmd closes the file being recorded.
	CloseCmd = ishell.Cmd{
		Name: "close",
		Help: "",
		Func: command(recorder.CmdClose),
	}

	// RotateCmd closes the file being recorded and starts the next one.
	RotateCmd = ishell.Cmd{
		Name: "rotate",
		Help: "",
		Func: command(recorder.CmdRotate),
	}
)

func init() {
	sh.AddCmds(
		&StatusCmd,
		&CloseCmd,
		&RotateCmd,
	)
}
