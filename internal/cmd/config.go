package cmd

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/sauerdaniel/ticketsync/internal/config"
	"github.com/sauerdaniel/ticketsync/internal/style"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: GroupDiag,
	Short:   "Inspect configuration",
	RunE:    requireSubcommand,
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate and print the effective configuration",
	Long: `Load the config file, apply TICKETSYNC_* environment overrides and
defaults, validate the result and print it as TOML with secrets masked.`,
	Args: cobra.NoArgs,
	RunE: runConfigCheck,
}

func init() {
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path, explicit := config.ResolvePath(configPath)
	source := path
	if !explicit && !fileExists(path) {
		source = "defaults and environment"
	}
	fmt.Printf("# source: %s\n", source)
	if err := toml.NewEncoder(os.Stdout).Encode(cfg.Redacted()); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "\n%s %v\n", style.Error.Render("✗"), err)
		return fmt.Errorf("config is invalid")
	}
	fmt.Fprintf(os.Stderr, "\n%s Config is valid\n", style.Success.Render("✓"))
	return nil
}
