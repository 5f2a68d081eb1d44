package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// statusResponse mirrors internal/admin.statusResponse.
type statusResponse struct {
	NodeID              int    `json:"node_id"`
	ParentID            int    `json:"parent_id"`
	Distance            int    `json:"distance"`
	FailedTransmissions int    `json:"failed_transmissions"`
	DiscoveryRunning    bool   `json:"discovery_running"`
	SigningState        string `json:"signing_state"`
	FirmwareActive      bool   `json:"firmware_active"`
	FirmwareProgress    int    `json:"firmware_progress_blocks"`
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show a node's identity and transport state",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var st statusResponse
			if err := c.get("/v1/status", &st); err != nil {
				return fmt.Errorf("status: %w", err)
			}

			fmt.Printf("node id:           %d\n", st.NodeID)
			fmt.Printf("parent id:         %d\n", st.ParentID)
			fmt.Printf("distance:          %d\n", st.Distance)
			fmt.Printf("failed tx:         %d\n", st.FailedTransmissions)
			fmt.Printf("discovery running: %t\n", st.DiscoveryRunning)
			fmt.Printf("signing state:     %s\n", st.SigningState)
			fmt.Printf("firmware active:   %t\n", st.FirmwareActive)
			fmt.Printf("firmware blocks:   %d\n", st.FirmwareProgress)
			return nil
		},
	}
}
