// Copyright 2026 The Spyglass Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/spyglass-foundation/spyglass/cmd/spyglass/cli"
	"github.com/spyglass-foundation/spyglass/lib/config"
	"github.com/spyglass-foundation/spyglass/registry"
)

// commonParams are the flags shared by every subcommand that touches
// the registry.
type commonParams struct {
	configPath  string
	registryDir string
}

func (p *commonParams) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&p.configPath, "config", "", "path to a config file (default: $SPYGLASS_CONFIG)")
	flagSet.StringVar(&p.registryDir, "registry-dir", "", "registry directory (overrides config)")
}

// openRegistry loads configuration, applies flag overrides, and
// returns the registry, the effective config, and the command logger.
func (p *commonParams) openRegistry() (*registry.Registry, *config.Config, *slog.Logger, error) {
	var cfg *config.Config
	var err error
	if p.configPath != "" {
		cfg, err = config.LoadFile(p.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, nil, nil, err
	}
	if p.registryDir != "" {
		cfg.RegistryDir = p.registryDir
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := cli.NewLogger(level)
	return registry.New(cfg.RegistryDir, logger), cfg, logger, nil
}

func targetsCommand() *cli.Command {
	var params struct {
		commonParams
		asJSON bool
	}
	return &cli.Command{
		Name:    "targets",
		Summary: "List live targets in the registry",
		Description: `List the processes currently advertising a diagnostics channel.

Scanning also garbage-collects registry entries left behind by
processes that exited without cleaning up.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("targets", pflag.ContinueOnError)
			params.addFlags(flagSet)
			flagSet.BoolVar(&params.asJSON, "json", false, "emit the descriptor list as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			reg, _, _, err := params.openRegistry()
			if err != nil {
				return err
			}
			live, err := reg.Scan()
			if err != nil {
				return fmt.Errorf("scanning registry %s: %w", reg.Dir(), err)
			}

			if params.asJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(live)
			}

			if len(live) == 0 {
				fmt.Printf("no live targets in %s\n", reg.Dir())
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 2, 0, 3, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROCESS\tCHANNEL\tUPTIME\tPROTOCOL")
			for _, d := range live {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
					d.ID, d.ProcessName, d.ChannelName,
					time.Since(d.StartTime).Round(time.Second), d.ProtocolVersion)
			}
			return tw.Flush()
		},
	}
}
