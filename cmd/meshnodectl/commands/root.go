// Package commands implements the meshnodectl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// c is the admin HTTP client, initialized in PersistentPreRunE.
	c *client

	// serverAddr is the meshnoded admin address (host:port).
	serverAddr string
)

var rootCmd = &cobra.Command{
	Use:   "meshnodectl",
	Short: "CLI client for the meshnoded daemon",
	Long:  "meshnodectl talks to a running meshnoded's admin HTTP surface to inspect and control a mesh node.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		c = newClient(serverAddr)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:8080",
		"meshnoded admin address (host:port)")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(otaCmd())
	rootCmd.AddCommand(signingCmd())
	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
