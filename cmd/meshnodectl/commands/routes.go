package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show the node's parent and distance to the gateway",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var out map[string]any
			if err := c.get("/v1/routes", &out); err != nil {
				return fmt.Errorf("routes: %w", err)
			}
			fmt.Printf("parent id: %v\n", out["parent_id"])
			fmt.Printf("distance:  %v\n", out["distance"])
			return nil
		},
	}
}

func otaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ota",
		Short: "Show the firmware download session state",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var out map[string]any
			if err := c.get("/v1/ota", &out); err != nil {
				return fmt.Errorf("ota: %w", err)
			}
			fmt.Printf("active:          %v\n", out["active"])
			fmt.Printf("progress blocks: %v\n", out["progress_blocks"])
			return nil
		},
	}
}

func signingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signing",
		Short: "Show the signing coordinator's current state",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var out map[string]any
			if err := c.get("/v1/signing", &out); err != nil {
				return fmt.Errorf("signing: %w", err)
			}
			fmt.Printf("state: %v\n", out["state"])
			return nil
		},
	}
}

func discoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Ask the node to run parent discovery",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var out map[string]any
			if err := c.post("/v1/discover", &out); err != nil {
				return fmt.Errorf("discover: %w", err)
			}
			fmt.Printf("%v\n", out["status"])
			return nil
		},
	}
}
