package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/pldm-agent-go/pkg/httpclient"
)

var (
	// Global flags
	serverURL string
	clientID  string
	token     string
	timeout   time.Duration
	noAuth    bool

	outputFormat string

	// Global client instance
	client *httpclient.Client
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pldmctl",
		Short: "PLDM agent HTTP API command line interface",
		Long: `pldmctl is a command line interface for the PLDM agent HTTP API.
It provides commands for authentication, sending PLDM requests, and
inspecting peers and link traffic.`,
		PersistentPreRunE: initializeClient,
		SilenceUsage:      true,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "PLDM agent URL")
	rootCmd.PersistentFlags().StringVar(&clientID, "client-id", "", "Client ID for authentication")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "JWT token (if already authenticated)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&noAuth, "no-auth", false, "Skip authentication (for agents started with --no-auth)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", outputText, "Output format (text, json, yaml)")

	rootCmd.AddCommand(newAuthCommand())
	rootCmd.AddCommand(newHealthCommand())
	rootCmd.AddCommand(newInstanceIDCommand())
	rootCmd.AddCommand(newSendCommand())
	rootCmd.AddCommand(newAdminCommand())

	return rootCmd
}

// initializeClient sets up the HTTP client with global configuration
func initializeClient(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Parent() == nil {
		return nil
	}

	if err := validateOutputFormat(); err != nil {
		return err
	}

	// health needs no identity
	if !noAuth && clientID == "" && token == "" && cmd.Name() != "health" {
		return fmt.Errorf("client-id is required (unless using --token or --no-auth)")
	}

	effectiveClientID := clientID
	if effectiveClientID == "" {
		effectiveClientID = "dev-client"
	}

	var err error
	client, err = httpclient.NewClient(httpclient.Config{
		ServerURL: serverURL,
		ClientID:  effectiveClientID,
		Timeout:   timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	if token != "" {
		client.SetToken(token)
	} else if noAuth {
		// the agent ignores the token in no-auth mode
		client.SetToken("no-auth-mode")
	}
	return nil
}

// requireAuthentication checks if the client is authenticated
func requireAuthentication() error {
	if client == nil {
		return fmt.Errorf("client not initialized")
	}
	if noAuth {
		return nil
	}
	if !client.IsAuthenticated() {
		return fmt.Errorf("not authenticated - run 'pldmctl auth' first or provide --token")
	}
	return nil
}
