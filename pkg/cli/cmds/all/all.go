// Package all registers all shell commands.
package all

import (
	// command providers register in init
	_ "github.com/stvnrhodes/calsol/pkg/cli/cmds/fs"
	_ "github.com/stvnrhodes/calsol/pkg/cli/cmds/remote"
)
