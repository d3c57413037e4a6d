// Copyright 2025 AetherEngine
//
// Login command: stores the bearer token in the session file (0600).

package main

import (
	"fmt"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/aether-engine/aether/pkg/cli"
)

func newLoginCmd() *cobra.Command {
	var token, username string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store a token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				if u, err := user.Current(); err == nil {
					username = u.Username
				} else {
					username = "unknown"
				}
			}
			if token == "" {
				token = "dev-local-token"
			}
			path, err := cli.SaveSession(&cli.Session{Token: token, User: username})
			if err != nil {
				return err
			}
			fmt.Printf("Stored credentials for %s at %s\n", username, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token to store")
	cmd.Flags().StringVar(&username, "username", "", "username to record")
	return cmd
}
