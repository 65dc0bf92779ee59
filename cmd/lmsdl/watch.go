package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/mohaanymo/lmsdl"
	"github.com/mohaanymo/lmsdl/internal/tui"
)

func newWatchCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [url...]",
		Short: "Download several recordings in a live dashboard",
		Long: `watch starts one session per URL and shows every session and the
history log until you quit. Press c to cancel the selected session and d to
delete the selected history entry. Without URLs only the history is shown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := root.loadSettings()
			if err != nil {
				return err
			}
			client, err := root.newClient(s, io.Discard)
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m := client.Manager()
			m.Start(context.Background())

			model := tui.NewModel(m)
			defer model.Close()

			for _, url := range args {
				if _, err := m.Download(ctx, lmsdl.Request{URL: url}); err != nil {
					return fmt.Errorf("start %s: %w", url, err)
				}
			}

			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("run TUI: %w", err)
			}
			return nil
		},
	}
}
