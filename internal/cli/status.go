package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archiegate/guardian/internal/server"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state, widgets, and pipeline counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status server.StatusResponse
		if err := newClient().get("/status", &status); err != nil {
			return err
		}

		fmt.Printf("permission level: %s\n\n", status.PermissionLevel)
		fmt.Println("widgets:")
		for _, w := range status.Widgets {
			state := "disabled"
			if w.Enabled {
				state = "enabled"
			}
			fmt.Printf("  %-18s %s\n", w.Name, state)
		}

		s := status.Stats
		fmt.Printf("\npipeline: ingested=%d processed=%d denied=%d failed=%d dropped=%d\n",
			s.Ingested, s.Processed, s.Denied, s.Failed, s.Dropped)
		return nil
	},
}
