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
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mohaanymo/lmsdl"
	"github.com/mohaanymo/lmsdl/internal/config"
	"github.com/mohaanymo/lmsdl/internal/tui"
)

type getOptions struct {
	title            string
	semester         string
	subject          string
	folders          []string
	outputDir        string
	headers          []string
	videoConcurrency int
	audioConcurrency int
	noTUI            bool
}

func newGetCmd(root *rootFlags) *cobra.Command {
	opts := &getOptions{}

	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Download one recording",
		Long: `get downloads the highest-bandwidth variant of an HLS master playlist
together with its audio rendition and prints the command that merges them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, root, opts, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.title, "title", "t", "", "recording title used for file names")
	f.StringVar(&opts.semester, "semester", "", "semester folder")
	f.StringVar(&opts.subject, "subject", "", "subject folder")
	f.StringArrayVar(&opts.folders, "folder", nil, "additional nested folder (repeatable)")
	f.StringVarP(&opts.outputDir, "output-dir", "o", "", "directory for downloaded streams")
	f.StringArrayVarP(&opts.headers, "header", "H", nil, "custom header \"Key: Value\" (repeatable)")
	f.IntVar(&opts.videoConcurrency, "video-concurrency", 0, "parallel video segment fetches (1-100)")
	f.IntVar(&opts.audioConcurrency, "audio-concurrency", 0, "parallel audio segment fetches (1-100)")
	f.BoolVar(&opts.noTUI, "no-tui", false, "print plain progress lines instead of the TUI")
	return cmd
}

func (o *getOptions) apply(s *lmsdl.Settings, cmd *cobra.Command) error {
	if o.outputDir != "" {
		s.Output.Dir = o.outputDir
	}
	headers, err := parseHeaders(o.headers)
	if err != nil {
		return err
	}
	for k, v := range headers {
		s.Download.Headers[k] = v
	}
	for _, name := range []string{"video-concurrency", "audio-concurrency"} {
		if !cmd.Flags().Changed(name) {
			continue
		}
		n, _ := cmd.Flags().GetInt(name)
		if _, err := config.ParseConcurrency(n); err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
	}
	return nil
}

func (o *getOptions) request(url string, s *lmsdl.Settings) lmsdl.Request {
	folder := s.Folder.Clone()
	if o.semester != "" {
		folder.Semester = o.semester
	}
	if o.subject != "" {
		folder.Subject = o.subject
	}
	if len(o.folders) > 0 {
		folder.AdditionalFolders = append([]string(nil), o.folders...)
	}
	return lmsdl.Request{
		URL:              url,
		Title:            o.title,
		Folder:           &folder,
		VideoConcurrency: o.videoConcurrency,
		AudioConcurrency: o.audioConcurrency,
	}
}

func runGet(cmd *cobra.Command, root *rootFlags, opts *getOptions, url string) error {
	s, err := root.loadSettings()
	if err != nil {
		return err
	}
	if err := opts.apply(s, cmd); err != nil {
		return err
	}

	// The TUI owns the terminal; session errors are shown there instead.
	logOut := io.Discard
	if opts.noTUI {
		logOut = cmd.ErrOrStderr()
	}
	client, err := root.newClient(s, logOut)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := client.Manager()
	m.Start(context.Background())

	id, err := m.Download(ctx, opts.request(url, s))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var res *lmsdl.Result
	if opts.noTUI {
		res, err = followPlain(m, id, out)
	} else {
		res, err = followTUI(ctx, m, id)
	}

	switch {
	case errors.Is(err, lmsdl.ErrCancelled):
		fmt.Fprintln(out, "Cancelled")
		return nil
	case err != nil:
		return err
	}

	printResult(out, s.Output.Dir, res)
	return nil
}

func followTUI(ctx context.Context, m *lmsdl.Manager, id string) (*lmsdl.Result, error) {
	model := tui.NewModel(m, tui.WithFollow(id))
	defer model.Close()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return nil, fmt.Errorf("run TUI: %w", err)
	}

	if _, ok := model.Final(); !ok {
		// Quit before the session finished.
		_ = m.Cancel(id)
	}
	return m.Wait(context.Background(), id)
}

// followPlain prints a line per progress change until the session finishes.
func followPlain(m *lmsdl.Manager, id string, w io.Writer) (*lmsdl.Result, error) {
	snaps, unsubscribe := m.SubscribeSnapshots()
	defer unsubscribe()

	type outcome struct {
		res *lmsdl.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := m.Wait(context.Background(), id)
		done <- outcome{res, err}
	}()

	for {
		select {
		case o := <-done:
			return o.res, o.err
		case list, ok := <-snaps:
			if !ok {
				snaps = nil
				continue
			}
			for _, s := range list {
				if s.SessionID == id {
					printProgress(w, s)
				}
			}
		}
	}
}

func printProgress(w io.Writer, s lmsdl.Snapshot) {
	line := fmt.Sprintf("[%s] %s %5.1f%%  video %d/%d  audio %d/%d  %s",
		s.Status, s.Quality, s.OverallProgress,
		s.Video.Completed, s.Video.Total,
		s.Audio.Completed, s.Audio.Total,
		humanize.Bytes(uint64(s.Video.Bytes+s.Audio.Bytes)))
	if s.ETA != "" {
		line += "  eta " + s.ETA
	}
	fmt.Fprintln(w, line)
}

func printResult(w io.Writer, dir string, res *lmsdl.Result) {
	fmt.Fprintf(w, "Downloaded %s (%s)\n", res.SessionID, res.Quality)
	for _, t := range []lmsdl.StreamType{lmsdl.StreamVideo, lmsdl.StreamAudio} {
		if name, ok := res.Files[t]; ok {
			fmt.Fprintf(w, "  %s: %s/%s\n", t, dir, name)
		}
	}
	if res.Command != "" {
		fmt.Fprintf(w, "\n%s\n", res.Command)
	}
}
