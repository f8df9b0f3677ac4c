package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/archiegate/guardian/internal/gate"
)

func init() {
	rootCmd.AddCommand(pendingCmd, approveCmd, denyCmd)
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List escalations waiting for approval",
	RunE: func(cmd *cobra.Command, args []string) error {
		var escalations []gate.Escalation
		if err := newClient().get("/escalations", &escalations); err != nil {
			return err
		}
		if len(escalations) == 0 {
			fmt.Println("no pending escalations")
			return nil
		}

		for _, e := range escalations {
			fmt.Printf("%s  %s  %s %s  score=%d  %s\n",
				e.ID, humanize.Time(e.CreatedAt), e.Action.Kind, e.Action.Target, e.Score, e.Level)
		}
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <escalation-id>",
	Short: "Approve a pending escalation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().post("/escalations/"+args[0]+"/approve", nil, nil); err != nil {
			return err
		}
		fmt.Printf("%s approved\n", args[0])
		return nil
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny <escalation-id>",
	Short: "Deny a pending escalation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().post("/escalations/"+args[0]+"/deny", nil, nil); err != nil {
			return err
		}
		fmt.Printf("%s denied\n", args[0])
		return nil
	},
}
