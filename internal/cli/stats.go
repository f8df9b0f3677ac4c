package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archiegate/guardian/internal/orch"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "orch_stats",
	Short: "Show orchestrator pipeline counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats orch.Stats
		if err := newClient().get("/stats", &stats); err != nil {
			return err
		}
		out, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(out))
		return nil
	},
}
