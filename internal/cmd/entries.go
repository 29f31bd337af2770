package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/sauerdaniel/ticketsync/internal/handlestore"
	"github.com/sauerdaniel/ticketsync/internal/projection"
	"github.com/sauerdaniel/ticketsync/internal/style"
	"github.com/sauerdaniel/ticketsync/internal/ticket"
	"github.com/sauerdaniel/ticketsync/internal/tui"
)

var (
	entriesListJSON      bool
	entriesWatchInterval time.Duration
)

var entriesCmd = &cobra.Command{
	Use:     "entries",
	GroupID: GroupDiag,
	Short:   "Inspect and repair tracked ticket messages",
	RunE:    requireSubcommand,
	Long: `Inspect the durable map of ticket → chat message.

Every open ticket the daemon has posted has exactly one entry here. The
daemon reads this map on startup, so an entry removed with 'forget' makes
the next tick post the ticket again.`,
}

var entriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked entries for every destination",
	Args:  cobra.NoArgs,
	RunE:  runEntriesList,
}

var entriesForgetCmd = &cobra.Command{
	Use:   "forget <ticket-id>",
	Short: "Drop one entry from the store",
	Long: `Drop the entry for a ticket from the store of the configured destination.

The chat message is not touched. Refused while a daemon owns the
destination; stop it first with 'ticketsync daemon stop'.`,
	Args: cobra.ExactArgs(1),
	RunE: runEntriesForget,
}

var entriesWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live table of tracked entries",
	Args:  cobra.NoArgs,
	RunE:  runEntriesWatch,
}

func init() {
	entriesListCmd.Flags().BoolVar(&entriesListJSON, "json", false, "Output as JSON")
	entriesWatchCmd.Flags().DurationVar(&entriesWatchInterval, "interval", 3*time.Second, "Refresh interval")

	entriesCmd.AddCommand(entriesListCmd)
	entriesCmd.AddCommand(entriesForgetCmd)
	entriesCmd.AddCommand(entriesWatchCmd)
	rootCmd.AddCommand(entriesCmd)
}

// entryView is the JSON shape of one tracked entry.
type entryView struct {
	Destination ticket.Destination `json:"destination"`
	ticket.TrackedEntry
}

func loadRows(ctx context.Context, store handlestore.Store) ([]tui.Row, error) {
	dests, err := store.Destinations(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing destinations: %w", err)
	}
	var rows []tui.Row
	for _, dest := range dests {
		entries, err := store.GetAll(ctx, dest)
		if err != nil {
			return nil, fmt.Errorf("reading entries for %s: %w", dest, err)
		}
		for _, e := range entries {
			rows = append(rows, tui.Row{Destination: dest, Entry: e})
		}
	}
	return rows, nil
}

func runEntriesList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()
	rows, err := loadRows(ctx, store)
	if err != nil {
		return err
	}
	return printEntries(os.Stdout, rows, entriesListJSON, time.Now())
}

func printEntries(w io.Writer, rows []tui.Row, asJSON bool, now time.Time) error {
	if asJSON {
		views := make([]entryView, 0, len(rows))
		for _, r := range rows {
			views = append(views, entryView{Destination: r.Destination, TrackedEntry: r.Entry})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, style.Dim.Render("No tracked entries"))
		return nil
	}

	fmt.Fprintf(w, "%s Tracked entries (%d)\n\n", style.Bold.Render("📋"), len(rows))
	fmt.Fprintf(w, "  %-16s %-18s %-22s %-10s %s\n", "DESTINATION", "TICKET", "STATE", "MESSAGE", "UPDATED")
	for _, r := range rows {
		number := r.Entry.Number
		if number == "" {
			number = strconv.FormatInt(r.Entry.ItemID, 10)
		}
		fmt.Fprintf(w, "  %-16s %-18s %-22s %-10d %s\n",
			r.Destination,
			truncateString(number, 18),
			truncateString(r.Entry.State, 22),
			r.Entry.MessageID,
			style.Dim.Render(tui.Ago(now, r.Entry.UpdatedAt)))
	}
	return nil
}

func runEntriesForget(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid ticket id %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dest := cfg.Destination()
	if dest.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is not configured")
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()
	if err := forgetEntry(ctx, cfg.Daemon.StateDir, store, dest, id); err != nil {
		return err
	}

	fmt.Printf("%s Forgot ticket %d for %s\n", style.Bold.Render("✓"), id, dest)
	return nil
}

// forgetEntry removes one entry while holding the destination lock, so it
// never races a daemon's in-memory copy of the map.
func forgetEntry(ctx context.Context, stateDir string, store handlestore.Store, dest ticket.Destination, id int64) error {
	lock, err := projection.AcquireLock(stateDir, dest)
	if err != nil {
		if errors.Is(err, projection.ErrLocked) {
			return fmt.Errorf("daemon is running for %s; stop it before forgetting entries: %w", dest, err)
		}
		return fmt.Errorf("acquiring lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	if err := store.Remove(ctx, dest, id); err != nil {
		return fmt.Errorf("removing entry: %w", err)
	}
	return nil
}

func runEntriesWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !style.IsTerminal() {
		return fmt.Errorf("entries watch needs a terminal; use 'entries list' instead")
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	model := tui.New(func(ctx context.Context) ([]tui.Row, error) {
		return loadRows(ctx, store)
	}, entriesWatchInterval)

	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

// truncateString truncates a string to maxLen runes, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
