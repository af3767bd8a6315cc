package main

import (
	"os"

	"github.com/Additional-Code/orderpipe/internal/cli"
	"github.com/Additional-Code/orderpipe/pkg/errorbank"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(errorbank.ExitCode(err))
	}
}
