// Copyright 2025 AetherEngine
//
// Logs command: streams application logs from the control plane.

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aether-engine/aether/pkg/cli"
	"github.com/aether-engine/aether/pkg/client"
)

func newLogsCmd() *cobra.Command {
	var app string
	var tail int
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Stream logs for an application",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.LoadConfig()
			if err != nil {
				return err
			}
			if app == "" {
				app = cfg.DefaultApp
			}
			if app == "" {
				return cli.NewError(cli.KindUsage, "--app required (or set AETHER_DEFAULT_APP)")
			}
			if cfg.APIBase == "" {
				return cli.NewError(cli.KindConfig, "no API base configured (set AETHER_API_BASE)")
			}
			api := newAPIClient(cfg)
			return api.StreamLogs(cmd.Context(), app, tail, follow, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&app, "app", "", "application name")
	cmd.Flags().IntVar(&tail, "tail", 100, "number of recent lines")
	cmd.Flags().BoolVar(&follow, "follow", true, "follow the log stream")
	return cmd
}

// newAPIClient builds a client with the stored session token, if any
func newAPIClient(cfg *cli.EffectiveConfig) *client.Client {
	token := ""
	if session, err := cli.LoadSession(); err == nil && session != nil {
		token = session.Token
	}
	api := client.New(cfg.APIBase, token)
	api.Logger = cliLogger
	return api
}
