// Package main is the entry point for the relay CLI.
//
// Usage:
//
//	relay [flags] <command> [args]
//
// Commands:
//
//	serve      - Run the relay server (chunk log + HTTP transports)
//	gen        - Start a generation against a running server
//	tail       - Follow a stream's text to stdout
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/inkwellhq/relay/go/cmd/relay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
