package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/archiegate/guardian/internal/config"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a commented default config to ~/.guardian/config.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := flagConfig
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			path = filepath.Join(home, ".guardian", "config.yaml")
		}

		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, not overwriting", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(config.DefaultYAML()), 0600); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}
