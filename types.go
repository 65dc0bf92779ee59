package lmsdl

import (
	"github.com/mohaanymo/lmsdl/internal/history"
	"github.com/mohaanymo/lmsdl/internal/models"
	"github.com/mohaanymo/lmsdl/internal/session"
)

// Folder describes where a recording belongs: semester, subject and any
// nested folders below them.
type Folder = models.Folder

// Status is the lifecycle state of a session.
type Status = models.Status

const (
	StatusInitializing = models.StatusInitializing
	StatusDownloading  = models.StatusDownloading
	StatusCancelling   = models.StatusCancelling
	StatusCompleted    = models.StatusCompleted
	StatusError        = models.StatusError
	StatusCancelled    = models.StatusCancelled
)

// StreamType distinguishes the video and audio streams of a session.
type StreamType = models.StreamType

const (
	StreamVideo = models.StreamVideo
	StreamAudio = models.StreamAudio
)

// Snapshot is the observable state of one session.
type Snapshot = session.Snapshot

// StreamSnapshot is the observable state of one stream of a session.
type StreamSnapshot = session.StreamSnapshot

// HistoryEntry is a finished session as recorded in the history log.
type HistoryEntry = history.Entry

// Request describes a recording to download.
type Request struct {
	// URL is the HLS master (or media) playlist. Required.
	URL string

	// Title names the output files. Defaults to the session ID.
	Title string

	// Owner identifies the requesting client, if any.
	Owner string

	// Folder overrides the configured folder descriptor when non-empty.
	Folder *Folder

	// VideoConcurrency and AudioConcurrency set the batch width of each
	// stream. Zero uses the configured value.
	VideoConcurrency int
	AudioConcurrency int
}

// Result is what a completed session produced.
type Result struct {
	SessionID string

	// Quality is the selected variant's resolution, or "unknown".
	Quality string

	// Files maps each downloaded stream to its file name in the output directory.
	Files map[StreamType]string

	// Command is the shell script that merges the streams into the folder path.
	Command string
}
