// Copyright 2025 AetherEngine
//
// Hidden failure simulators. Exist only so the exit-code contract stays
// testable end to end.

package main

import (
	"github.com/spf13/cobra"

	"github.com/aether-engine/aether/pkg/cli"
)

func addFailCmds(root *cobra.Command) {
	root.AddCommand(&cobra.Command{
		Use:    "netfail",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.NewError(cli.KindNetwork, "simulated network failure")
		},
	})
	root.AddCommand(&cobra.Command{
		Use:    "iofail",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.NewError(cli.KindIO, "simulated io failure")
		},
	})
	root.AddCommand(&cobra.Command{
		Use:    "usagefail",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.NewError(cli.KindUsage, "simulated usage failure")
		},
	})
	root.AddCommand(&cobra.Command{
		Use:    "runtimefail",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.NewError(cli.KindRuntime, "simulated runtime failure")
		},
	})
}
