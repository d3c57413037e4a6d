// Copyright 2025 AetherEngine
//
// Hidden shell completion generator.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aether-engine/aether/pkg/cli"
)

func newCompletionsCmd(root *cobra.Command) *cobra.Command {
	var shell string
	cmd := &cobra.Command{
		Use:    "completions",
		Short:  "Generate shell completions",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch shell {
			case "bash":
				return root.GenBashCompletionV2(os.Stdout, true)
			case "zsh":
				return root.GenZshCompletion(os.Stdout)
			case "fish":
				return root.GenFishCompletion(os.Stdout, true)
			default:
				return cli.NewError(cli.KindUsage, "shell must be bash, zsh, or fish")
			}
		},
	}
	cmd.Flags().StringVar(&shell, "shell", "bash", "target shell")
	return cmd
}
