package cli

import (
	"fmt"

	"github.com/harun/vprtutor/internal/config"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration",
	Long: `Load the configuration the same way start does, validate it and print
the effective values with secrets masked.`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fmt.Fprintln(out, cfg.String())

	for _, warning := range config.NewValidator().ValidateConfig(cfg) {
		fmt.Fprintf(out, "warning: %v\n", warning)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Fprintln(out, "Configuration OK")
	return nil
}
