package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/archiegate/guardian/internal/model"
)

func init() {
	rootCmd.AddCommand(permsCmd)
}

var permsCmd = &cobra.Command{
	Use:   "set_perms <level>",
	Short: "Set the permission level (observe|alert|analyze|isolate|auto_respond)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Reject bad levels locally for a faster error, then again server-side.
		if _, err := model.ParsePermissionLevel(args[0]); err != nil {
			return err
		}
		if err := newClient().post("/permission", map[string]string{"level": args[0]}, nil); err != nil {
			return err
		}
		fmt.Printf("permission level set to %s\n", args[0])
		return nil
	},
}
