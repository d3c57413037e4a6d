// Copyright 2025 AetherEngine
//
// List command: shows registered applications.

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aether-engine/aether/pkg/cli"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List applications",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.APIBase == "" {
				return cli.NewError(cli.KindConfig, "no API base configured (set AETHER_API_BASE)")
			}
			apps, err := newAPIClient(cfg).ListApps(cmd.Context())
			if err != nil {
				return err
			}
			if len(apps) == 0 {
				fmt.Println("no applications")
				return nil
			}
			bold := color.New(color.Bold).SprintFunc()
			fmt.Printf("%s\t%s\n", bold("NAME"), bold("ID"))
			for _, a := range apps {
				fmt.Printf("%s\t%s\n", a.Name, a.ID)
			}
			return nil
		},
	}
}
