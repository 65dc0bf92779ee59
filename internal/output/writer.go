// Package output writes reassembled streams to disk.
package output

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Eyevinn/mp4ff/mp4"
)

// Container formats a reassembled stream can be in.
const (
	FormatTS  = "ts"
	FormatMP4 = "mp4"
)

const tsSyncByte = 0x47

// DetectContainer reports whether data is an MPEG-TS or fragmented MP4 stream.
// Unknown data is treated as MPEG-TS.
func DetectContainer(data []byte) string {
	if len(data) > 0 && data[0] == tsSyncByte {
		if len(data) <= 188 || data[188] == tsSyncByte {
			return FormatTS
		}
	}

	if !startsWithBox(data) {
		return FormatTS
	}
	f, err := mp4.DecodeFile(bytes.NewReader(data))
	if err == nil && (f.Init != nil || len(f.Segments) > 0) {
		return FormatMP4
	}
	return FormatTS
}

// startsWithBox reports whether data opens with a top-level box of a
// fragmented MP4 stream.
func startsWithBox(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	switch string(data[4:8]) {
	case "ftyp", "styp", "moof", "sidx", "emsg", "prft":
		return true
	}
	return false
}

// Writer saves files into a directory.
type Writer struct {
	dir string
}

// NewWriter creates a Writer rooted at dir, creating it if needed.
func NewWriter(dir string) (*Writer, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the directory files are written to.
func (w *Writer) Dir() string {
	return w.dir
}

// Save writes data to name inside the writer's directory and returns the full path.
// The file is written to a temporary name first and renamed into place.
func (w *Writer) Save(name string, data []byte) (string, error) {
	path := filepath.Join(w.dir, filepath.Base(name))
	tmp := path + ".part"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return path, nil
}
