package main

import (
	"os"

	"github.com/symstub/patch-tool/cmd/patch-tool/cmds"
)

func main() {
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
