package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mohaanymo/lmsdl"
	"github.com/mohaanymo/lmsdl/internal/tui"
)

// clipboardWrite is replaced in tests.
var clipboardWrite = clipboard.WriteAll

func newHistoryCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and edit the history of finished recordings",
	}
	cmd.AddCommand(
		newHistoryListCmd(root),
		newHistoryDeleteCmd(root),
		newHistoryClearCmd(root),
		newHistoryCopyCmd(root),
	)
	return cmd
}

// withManager runs fn against a manager backed by the configured history.
func withManager(cmd *cobra.Command, root *rootFlags, fn func(m *lmsdl.Manager) error) error {
	s, err := root.loadSettings()
	if err != nil {
		return err
	}
	client, err := root.newClient(s, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client.Manager())
}

func newHistoryListCmd(root *rootFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List finished recordings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, root, func(m *lmsdl.Manager) error {
				entries := m.History()
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(entries)
				}
				printHistory(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func printHistory(w io.Writer, entries []lmsdl.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "History is empty")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tWHEN\tSTATUS\tQUALITY\tTITLE\tFOLDER")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp, humanize.Time(e.Time()), e.Status, e.Quality, e.Title, e.FolderPath)
	}
	tw.Flush()
}

func parseTimestamp(arg string) (int64, error) {
	ts, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", arg, err)
	}
	return ts, nil
}

func newHistoryDeleteCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <timestamp>",
		Short: "Remove one history entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ts, err := parseTimestamp(args[0])
			if err != nil {
				return err
			}
			return withManager(cmd, root, func(m *lmsdl.Manager) error {
				if err := m.DeleteHistory(ts); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d\n", ts)
				return nil
			})
		},
	}
}

func newHistoryClearCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every history entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, root, func(m *lmsdl.Manager) error {
				n := len(m.History())
				if err := m.ClearHistory(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d entries\n", n)
				return nil
			})
		},
	}
}

func newHistoryCopyCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "copy [timestamp]",
		Short: "Copy the merge command of a recording to the clipboard",
		Long: `copy puts the stored ffmpeg merge command of a history entry on the
clipboard. Without a timestamp an interactive picker is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withManager(cmd, root, func(m *lmsdl.Manager) error {
				entry, ok, err := pickEntry(m, args)
				if err != nil || !ok {
					return err
				}
				if entry.PostProcessCommand == "" {
					return fmt.Errorf("entry %d has no merge command", entry.Timestamp)
				}

				out := cmd.OutOrStdout()
				if err := clipboardWrite(entry.PostProcessCommand); err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "clipboard unavailable (%v), printing instead\n", err)
					fmt.Fprintln(out, entry.PostProcessCommand)
					return nil
				}
				fmt.Fprintf(out, "Copied merge command for %q\n", entry.Title)
				return nil
			})
		},
	}
}

func pickEntry(m *lmsdl.Manager, args []string) (lmsdl.HistoryEntry, bool, error) {
	if len(args) == 1 {
		ts, err := parseTimestamp(args[0])
		if err != nil {
			return lmsdl.HistoryEntry{}, false, err
		}
		entry, ok := m.HistoryEntry(ts)
		if !ok {
			return lmsdl.HistoryEntry{}, false, fmt.Errorf("%w: %d", lmsdl.ErrEntryNotFound, ts)
		}
		return entry, true, nil
	}

	picker := tui.NewHistoryPicker(m.History())
	if _, err := tea.NewProgram(picker, tea.WithAltScreen()).Run(); err != nil {
		return lmsdl.HistoryEntry{}, false, fmt.Errorf("history picker error: %w", err)
	}
	res := picker.Result()
	if res.Canceled {
		return lmsdl.HistoryEntry{}, false, nil
	}
	return res.Entry, true, nil
}
