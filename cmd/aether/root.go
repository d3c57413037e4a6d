// Copyright 2025 AetherEngine
//
// Root command and shared CLI state.

package main

import (
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/aether-engine/aether/pkg/cli"
)

var (
	flagLogLevel  string
	flagLogFormat string

	cliLogger = log.New(os.Stderr, "", log.LstdFlags)
)

// stdoutIsTTY gates color and progress output
func stdoutIsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "aether",
		Short:         "AetherEngine CLI",
		Long:          "Package, upload, and deploy applications against the Aether control plane.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if !stdoutIsTTY() || flagLogFormat == "json" {
				color.NoColor = true
			}
			if flagLogLevel == "debug" || flagLogLevel == "trace" {
				cliLogger.SetFlags(log.LstdFlags | log.Lshortfile)
			}
		},
	}
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level: trace|debug|info|warn|error")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "auto", "log format: auto|text|json")

	root.AddCommand(newLoginCmd())
	root.AddCommand(newDeployCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newListCmd())
	root.AddCommand(newCompletionsCmd(root))
	addFailCmds(root)
	return root
}

// Execute runs the CLI, translating cobra usage failures to exit code 2
func Execute() error {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		if _, ok := err.(*cli.Error); ok {
			return err
		}
		return cli.WrapError(cli.KindUsage, err.Error(), err)
	}
	return nil
}
