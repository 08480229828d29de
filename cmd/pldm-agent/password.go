package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/httpapi"
	"github.com/rmacdonaldsmith/pldm-agent-go/internal/secret"
)

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for http.admin_password_hash",
		Long:  "Reads the admin password from the terminal, or the first line of stdin, and prints the hash to put in the config file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := secret.ReadPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "Admin password: ")
			if err != nil {
				return err
			}
			hash, err := httpapi.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
