package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	nodeversion "github.com/flximg/meshnode/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print meshnodectl build information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(nodeversion.Full("meshnodectl"))
		},
	}
}
