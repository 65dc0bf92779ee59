package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohaanymo/lmsdl/internal/history"
	"github.com/mohaanymo/lmsdl/internal/models"
)

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// writeConfig writes a config file pointing all state into a temp dir.
func writeConfig(t *testing.T) (configPath, historyPath, outputDir string) {
	t.Helper()
	dir := t.TempDir()
	configPath = filepath.Join(dir, "config.yaml")
	historyPath = filepath.Join(dir, "history.json")
	outputDir = filepath.Join(dir, "out")

	content := fmt.Sprintf(`download:
  backoff_base: 1ms
  jitter_max: 0s
  max_retries: 0
session:
  broadcast_interval: 10ms
history:
  backend: json
  path: %s
output:
  dir: %s
log:
  level: error
`, historyPath, outputDir)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath, historyPath, outputDir
}

func TestParseHeaders(t *testing.T) {
	h, err := parseHeaders([]string{"Referer: https://lms.example.com", "X-Token:abc"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Referer": "https://lms.example.com", "X-Token": "abc"}, h)

	_, err = parseHeaders([]string{"no-colon"})
	assert.Error(t, err)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lmsdl", "config.yaml")

	out, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = execute(t, "--config", path, "config", "init")
	assert.Error(t, err)

	out, err = execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "video_concurrency: 66")
	assert.Contains(t, out, "backend: json")
}

func TestHistoryCommands(t *testing.T) {
	configPath, historyPath, _ := writeConfig(t)

	store, err := history.NewFileStore(historyPath)
	require.NoError(t, err)
	end := time.Date(2024, 10, 2, 9, 30, 0, 0, time.UTC)
	entries := []history.Entry{
		history.NewEntry(end, "Lecture 2", "1280x720", models.Folder{Semester: "Fall", Subject: "Math"}, models.StatusCompleted, "ffmpeg -i a -i b", ""),
		history.NewEntry(end.Add(-time.Hour), "Lecture 1", "unknown", models.Folder{}, models.StatusError, "", "boom"),
	}
	require.NoError(t, store.Save(context.Background(), entries))
	require.NoError(t, store.Close())

	out, err := execute(t, "--config", configPath, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Lecture 2")
	assert.Contains(t, out, "LMS/fall/math")
	assert.Contains(t, out, fmt.Sprint(entries[1].Timestamp))

	orig := clipboardWrite
	t.Cleanup(func() { clipboardWrite = orig })
	var copied string
	clipboardWrite = func(s string) error { copied = s; return nil }

	ts := fmt.Sprint(entries[0].Timestamp)
	out, err = execute(t, "--config", configPath, "history", "copy", ts)
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg -i a -i b", copied)
	assert.Contains(t, out, "Lecture 2")

	clipboardWrite = func(string) error { return errors.New("no display") }
	out, err = execute(t, "--config", configPath, "history", "copy", ts)
	require.NoError(t, err)
	assert.Contains(t, out, "ffmpeg -i a -i b")

	_, err = execute(t, "--config", configPath, "history", "copy", fmt.Sprint(entries[1].Timestamp))
	assert.Error(t, err)

	_, err = execute(t, "--config", configPath, "history", "delete", ts)
	require.NoError(t, err)
	_, err = execute(t, "--config", configPath, "history", "delete", ts)
	assert.ErrorIs(t, err, history.ErrEntryNotFound)

	out, err = execute(t, "--config", configPath, "history", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 1 entries")

	out, err = execute(t, "--config", configPath, "history", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "History is empty")
}

func TestGetNoTUI(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n"+
			"#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=\"a\",URI=\"audio.m3u8\"\n"+
			"#EXT-X-STREAM-INF:BANDWIDTH=500000,RESOLUTION=854x480,AUDIO=\"a\"\nvideo.m3u8\n")
	})
	playlist := func(prefix string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var b strings.Builder
			b.WriteString("#EXTM3U\n")
			for i := 0; i < 3; i++ {
				fmt.Fprintf(&b, "#EXTINF:4,\n%s%d.ts\n", prefix, i)
			}
			fmt.Fprint(w, b.String())
		}
	}
	mux.HandleFunc("/video.m3u8", playlist("v"))
	mux.HandleFunc("/audio.m3u8", playlist("a"))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.TrimPrefix(r.URL.Path, "/"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	configPath, historyPath, outputDir := writeConfig(t)

	out, err := execute(t, "--config", configPath, "get", srv.URL+"/master.m3u8",
		"--no-tui", "--title", "Week 1", "--semester", "Spring", "--subject", "Bio")
	require.NoError(t, err)
	assert.Contains(t, out, "Downloaded")
	assert.Contains(t, out, "854x480")
	assert.Contains(t, out, "ffmpeg")

	video, err := os.ReadFile(filepath.Join(outputDir, "spring_bio_week_1_video.ts"))
	require.NoError(t, err)
	assert.Equal(t, "v0.tsv1.tsv2.ts", string(video))

	store, err := history.NewFileStore(historyPath)
	require.NoError(t, err)
	defer store.Close()
	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "Week 1", saved[0].Title)
	assert.Equal(t, models.StatusCompleted, saved[0].Status)
}

func TestGetRejectsBadConcurrency(t *testing.T) {
	configPath, _, _ := writeConfig(t)
	_, err := execute(t, "--config", configPath, "get", "http://example.invalid/x.m3u8", "--no-tui", "--video-concurrency", "500")
	assert.Error(t, err)
}
