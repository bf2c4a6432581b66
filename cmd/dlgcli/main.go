package main

import (
	"github.com/stvnrhodes/calsol/pkg/cli/sh"

	_ "github.com/stvnrhodes/calsol/pkg/cli/cmds/all"
)

//go-build: CGO_ENABLED=0

func init() {
	sh.SetupFlags()
}

func main() {
	sh.Main()
}
