// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

// The spyglass command is the operator's window into running
// applications that embed the Spyglass diagnostics server. It
// discovers live targets through the shared registry directory and
// exchanges requests with them over their diagnostics channels.
package main

import (
	"fmt"
	"os"

	"github.com/spyglass-foundation/spyglass/cmd/spyglass/cli"
	"github.com/spyglass-foundation/spyglass/lib/version"
)

func main() {
	if err := rootCommand().Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name: "spyglass",
		Description: `Spyglass: diagnostics channels for running applications.

Discover processes that expose a diagnostics channel, ping them, and
invoke their registered methods.`,
		Subcommands: []*cli.Command{
			targetsCommand(),
			pingCommand(),
			callCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("spyglass %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "List live targets",
				Command:     "spyglass targets",
			},
			{
				Description: "Ping the only running target",
				Command:     "spyglass ping",
			},
			{
				Description: "Invoke a method on a specific target",
				Command:     "spyglass call widget-tree --target 4242 --param depth=3",
			},
		},
	}
}
