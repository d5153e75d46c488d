package main

import (
	"os"

	"github.com/psantana5/taskmon/cmd/taskmon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
