package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/pldm-agent-go/internal/secret"
	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/httpclient"
)

func newAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with the PLDM agent",
		Long: `Authenticate with the PLDM agent using your client ID.
This prints a JWT token to pass with --token on later commands.`,
		RunE: runAuth,
	}

	cmd.Flags().Bool("admin", false, "Request an admin token")
	cmd.Flags().Bool("password-stdin", false, "Read the admin password from stdin, prompting on a terminal")
	return cmd
}

func runAuth(cmd *cobra.Command, args []string) error {
	admin, _ := cmd.Flags().GetBool("admin")
	withPassword, _ := cmd.Flags().GetBool("password-stdin")
	out := cmd.OutOrStdout()

	if withPassword && !admin {
		return fmt.Errorf("--password-stdin only applies with --admin")
	}
	var password string
	if withPassword {
		var err error
		password, err = secret.ReadPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "Admin password: ")
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fmt.Fprintf(out, "Authenticating with %s as client %s...\n", serverURL, clientID)

	var (
		resp *httpclient.AuthResponse
		err  error
	)
	if withPassword {
		resp, err = client.AuthenticateAdmin(ctx, password)
	} else {
		resp, err = client.Authenticate(ctx, admin)
	}
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	fmt.Fprintf(out, "✅ Authentication successful!\n")
	fmt.Fprintf(out, "Admin: %t\n", resp.IsAdmin)
	fmt.Fprintf(out, "Expires: %s\n", resp.ExpiresAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "Token: %s\n", resp.Token)
	fmt.Fprintf(out, "\nSave this token for later commands:\n")
	fmt.Fprintf(out, "  export PLDM_TOKEN=\"%s\"\n", resp.Token)
	fmt.Fprintf(out, "  pldmctl --token \"$PLDM_TOKEN\" send --type 0 --command 0x02\n")
	return nil
}
