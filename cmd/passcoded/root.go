package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the passcoded CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "passcoded",
		Short: "passcoded - passwordless sign-in service",
		Long:  `passcoded issues and redeems email one-time codes and passwords,
and hands out JWT access and refresh tokens. Engine settings come from
PASSCODE_* environment variables.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())

	return cmd
}
