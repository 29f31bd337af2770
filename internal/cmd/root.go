// Package cmd implements the ticketsync command line.
package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sauerdaniel/ticketsync/internal/config"
	"github.com/sauerdaniel/ticketsync/internal/handlestore"
	"github.com/sauerdaniel/ticketsync/internal/otrs"
	"github.com/sauerdaniel/ticketsync/internal/projection"
	"github.com/sauerdaniel/ticketsync/internal/render"
	"github.com/sauerdaniel/ticketsync/internal/telegram"
)

// Command groups
const (
	GroupServices = "services"
	GroupDiag     = "diag"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ticketsync",
	Short: "Mirror open OTRS tickets into a Telegram chat",
	Long: `ticketsync keeps one Telegram message per open OTRS ticket.

New tickets are posted, state changes edit the existing message, and
tickets that leave the open set have their message deleted. Message ids
are kept in a durable store so restarts never re-post.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		fmt.Sprintf("Config file (default $%s or %s)", config.EnvConfigPath, config.DefaultConfigFile))

	rootCmd.AddGroup(
		&cobra.Group{ID: GroupServices, Title: "Services:"},
		&cobra.Group{ID: GroupDiag, Title: "Diagnostics:"},
	)
}

// Execute runs the root command.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// requireSubcommand is the RunE of parent commands that only group others.
func requireSubcommand(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("requires a subcommand\n\nRun '%s --help' for usage", cmd.CommandPath())
	}
	return fmt.Errorf("unknown command %q for %q\n\nRun '%s --help' for usage", args[0], cmd.CommandPath(), cmd.CommandPath())
}

// loadConfig resolves --config and loads it. A missing default file is fine.
func loadConfig() (*config.Config, error) {
	path, explicit := config.ResolvePath(configPath)
	cfg, err := config.LoadFile(path, explicit)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// loadValidConfig is loadConfig plus validation, for commands that talk to
// OTRS or Telegram.
func loadValidConfig() (*config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func stderrLogger() *log.Logger {
	return log.New(os.Stderr, "[ticketsync] ", log.LstdFlags)
}

// buildEngine wires the OTRS source, the Telegram messenger and the handle
// store into an engine. The caller closes the returned store.
func buildEngine(ctx context.Context, cfg *config.Config, logger *log.Logger) (*projection.Engine, handlestore.Store, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, fmt.Errorf("loading timezone: %w", err)
	}

	source := otrs.NewClient(otrs.Config{
		BaseURL:    cfg.OTRS.BaseURL,
		Webservice: cfg.OTRS.Webservice,
		Username:   cfg.OTRS.Username,
		Password:   cfg.OTRS.Password,
		States:     cfg.OTRS.States,
		Queues:     cfg.OTRS.Queues,
		Limit:      cfg.OTRS.SearchLimit,
		Location:   loc,
		Logger:     logger,
	})
	messenger := telegram.NewClient(telegram.Config{
		Token:  cfg.Telegram.Token,
		APIURL: cfg.Telegram.APIURL,
		Silent: cfg.Telegram.Silent,
	})

	store, err := handlestore.Open(cfg.Store.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	engine, err := projection.NewEngine(ctx, projection.Config{
		Destination: cfg.Destination(),
		Source:      source,
		Messenger:   chatGuard{Client: messenger, logger: logger},
		Store:       store,
		Renderer:    render.Renderer{BaseURL: source.BaseURL()},
		FloodCap:    cfg.Sync.FloodCap,
		PaceDelay:   cfg.Sync.PaceDelay.Duration,
		Logger:      logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("creating engine: %w", err)
	}
	return engine, store, nil
}

// openStore opens the configured store for read-only inspection commands.
func openStore(cfg *config.Config) (handlestore.Store, error) {
	store, err := handlestore.Open(cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return store, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, 30*time.Second)
}
