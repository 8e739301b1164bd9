// Package main provides the entry point for the taskdeck server.
package main

import (
	"fmt"
	"os"

	"github.com/taskdeck-ai/taskdeck/cmd/taskdeck/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
