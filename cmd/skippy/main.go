package main

import (
	"fmt"
	"os"

	"github.com/skippy-ai/skippy/cmd/skippy/commands"
)

var version = "dev"

func main() {
	if err := commands.NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
