package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mohaanymo/lmsdl"
	"github.com/mohaanymo/lmsdl/internal/logging"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "lmsdl",
		Short: "Download HLS lecture recordings",
		Long: `lmsdl downloads the video and audio streams of HLS lecture recordings
concurrently, tracks every download as a session and keeps a history of
finished recordings together with the ffmpeg command that merges them.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/lmsdl/config.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flags.logJSON, "log-json", false, "log as JSON")

	root.AddCommand(
		newGetCmd(flags),
		newWatchCmd(flags),
		newHistoryCmd(flags),
		newConfigCmd(flags),
	)
	return root
}

// loadSettings reads the configuration, applying the --log-level override.
func (f *rootFlags) loadSettings() (*lmsdl.Settings, error) {
	s, err := lmsdl.LoadSettings(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.logLevel != "" {
		s.Log.Level = f.logLevel
	}
	return s, nil
}

func (f *rootFlags) logger(s *lmsdl.Settings, w io.Writer) (zerolog.Logger, error) {
	return logging.New(s.Log.Level, w, f.logJSON)
}

// newClient builds a client from the effective settings, logging to w.
func (f *rootFlags) newClient(s *lmsdl.Settings, w io.Writer) (*lmsdl.Client, error) {
	log, err := f.logger(s, w)
	if err != nil {
		return nil, err
	}
	return lmsdl.New(lmsdl.WithSettings(s), lmsdl.WithLogger(log))
}

// parseHeaders turns repeated "Key: Value" flags into a map.
func parseHeaders(values []string) (map[string]string, error) {
	headers := make(map[string]string, len(values))
	for _, h := range values {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Key: Value\"", h)
		}
		headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return headers, nil
}
