// Package main is the entry point for the docsmith CLI.
package main

import (
	"os"

	"github.com/jmylchreest/docsmith/cmd/docsmith/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
