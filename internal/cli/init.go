package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pablomarino/teleops/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default teleops.json config",
	Long: `Write a default configuration file. The principal ID must be set
(here or by editing the file) before the agent will accept any message.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().String("principal", "", "Authorized principal ID to write into the config")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists; refusing to overwrite", configPath)
	}

	cfg := config.GenerateDefault()

	principal, err := cmd.Flags().GetString("principal")
	if err != nil {
		return err
	}
	cfg.PrincipalID = principal

	if err := cfg.SaveToFile(configPath); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", configPath)
	if cfg.PrincipalID == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "Set principal_id before running the agent; every message is rejected until it matches.")
	}
	return nil
}
