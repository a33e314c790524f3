// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/pflag"

	"github.com/spyglass-foundation/spyglass/client"
	"github.com/spyglass-foundation/spyglass/cmd/spyglass/cli"
	"github.com/spyglass-foundation/spyglass/wire"
)

func pingCommand() *cli.Command {
	var params struct {
		commonParams
		target int
	}
	return &cli.Command{
		Name:    "ping",
		Summary: "Check that a target's diagnostics channel is responsive",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("ping", pflag.ContinueOnError)
			params.addFlags(flagSet)
			flagSet.IntVar(&params.target, "target", 0, "target process id (default: the only live target)")
			return flagSet
		},
		Run: func(args []string) error {
			data, err := sendRequest(&params.commonParams, params.target, wire.MethodPing, nil)
			if err != nil {
				return err
			}
			var result wire.PingResult
			if err := json.Unmarshal(data, &result); err != nil {
				return fmt.Errorf("decoding ping result: %w", err)
			}
			fmt.Printf("%s (pid %d) protocol %s, started %s\n",
				result.ProcessName, result.PID, result.ProtocolVersion, result.StartTime)
			return nil
		},
	}
}

func callCommand() *cli.Command {
	var params struct {
		commonParams
		target int
		pairs  []string
	}
	return &cli.Command{
		Name:    "call",
		Summary: "Invoke a method on a target",
		Usage:   "spyglass call <method> [flags]",
		Description: `Invoke a registered method on a target and print the JSON result.

Parameters are passed as repeated --param key=value flags. Values that
parse as JSON keep their type; everything else is sent as a string.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("call", pflag.ContinueOnError)
			params.addFlags(flagSet)
			flagSet.IntVar(&params.target, "target", 0, "target process id (default: the only live target)")
			flagSet.StringArrayVar(&params.pairs, "param", nil, "request parameter as key=value (repeatable)")
			return flagSet
		},
		Examples: []cli.Example{
			{
				Description: "Dump a widget tree three levels deep",
				Command:     "spyglass call widget-tree --param depth=3",
			},
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one method name, got %d arguments", len(args))
			}
			requestParams, err := cli.ParseParams(params.pairs)
			if err != nil {
				return err
			}
			data, err := sendRequest(&params.commonParams, params.target, args[0], requestParams)
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
}

// sendRequest wires a one-shot request through a pool: load config,
// resolve the target, deliver, and return the response payload.
func sendRequest(common *commonParams, target int, method string, requestParams map[string]any) (json.RawMessage, error) {
	reg, cfg, logger, err := common.openRegistry()
	if err != nil {
		return nil, err
	}
	pool := client.NewPool(reg, logger)
	pool.SetDialTimeout(cfg.ConnectTimeoutDuration())
	defer pool.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return pool.Request(ctx, target, method, requestParams)
}

// printJSON pretty-prints a raw response payload to stdout. An empty
// payload prints nothing.
func printJSON(data json.RawMessage) error {
	if len(data) == 0 {
		return nil
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, data, "", "  "); err != nil {
		return fmt.Errorf("formatting response: %w", err)
	}
	indented.WriteByte('\n')
	_, err := indented.WriteTo(os.Stdout)
	return err
}
