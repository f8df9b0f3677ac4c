package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(enableCmd, disableCmd, actionCmd)
}

var enableCmd = &cobra.Command{
	Use:   "enable <widget>",
	Short: "Enable a sensor widget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().post("/widgets/"+args[0]+"/enable", nil, nil); err != nil {
			return err
		}
		fmt.Printf("%s enabled\n", args[0])
		return nil
	},
}

var disableCmd = &cobra.Command{
	Use:   "disable <widget>",
	Short: "Disable a sensor widget",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().post("/widgets/"+args[0]+"/disable", nil, nil); err != nil {
			return err
		}
		fmt.Printf("%s disabled\n", args[0])
		return nil
	},
}

var actionCmd = &cobra.Command{
	Use:   "action <widget> <action> [key=value ...]",
	Short: "Send a command to a widget (e.g. action scan_engine scan path=/tmp)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := make(map[string]string)
		for _, kv := range args[2:] {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("parameter %q is not key=value", kv)
			}
			params[key] = value
		}

		var result struct {
			Result string `json:"result"`
		}
		body := map[string]any{"action": args[1], "params": params}
		if err := newClient().post("/widgets/"+args[0]+"/action", body, &result); err != nil {
			return err
		}
		fmt.Println(result.Result)
		return nil
	},
}
