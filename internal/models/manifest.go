// Package models defines core data structures shared by the downloader,
// the session state machine and the history log.
package models

import (
	"fmt"
	"strings"
)

// StreamType identifies one of the two media streams of a session.
type StreamType string

const (
	StreamVideo StreamType = "video"
	StreamAudio StreamType = "audio"
)

// StreamTypes lists the stream types in reporting order.
var StreamTypes = []StreamType{StreamVideo, StreamAudio}

func (t StreamType) String() string {
	return string(t)
}

// Valid reports whether t is a known stream type.
func (t StreamType) Valid() bool {
	return t == StreamVideo || t == StreamAudio
}

// Status is the lifecycle state of a download session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusDownloading  Status = "downloading"
	StatusCancelling   Status = "cancelling"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
	StatusCancelled    Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether a session in state s still occupies the downloader.
func (s Status) Active() bool {
	switch s {
	case StatusInitializing, StatusDownloading, StatusCancelling:
		return true
	}
	return false
}

// Segment is a single fetchable unit of a stream.
type Segment struct {
	Index int
	URL   string
}

// Variant is one #EXT-X-STREAM-INF entry of a master playlist.
type Variant struct {
	URL        string
	Bandwidth  int64
	Resolution Resolution
}

// Resolution represents video dimensions.
type Resolution struct {
	Width  int
	Height int
}

// String returns "WxH" or "unknown" when the resolution was not declared.
func (r Resolution) String() string {
	if r.Width <= 0 || r.Height <= 0 {
		return QualityUnknown
	}
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// QualityUnknown is reported when the selected variant has no RESOLUTION.
const QualityUnknown = "unknown"

// ParseResolution parses a RESOLUTION attribute value such as "1920x1080".
func ParseResolution(s string) (Resolution, bool) {
	w, h, ok := strings.Cut(strings.TrimSpace(s), "x")
	if !ok {
		return Resolution{}, false
	}
	var r Resolution
	if _, err := fmt.Sscanf(w, "%d", &r.Width); err != nil {
		return Resolution{}, false
	}
	if _, err := fmt.Sscanf(h, "%d", &r.Height); err != nil {
		return Resolution{}, false
	}
	return r, true
}

// Selection is the outcome of master playlist parsing. Either URL may be
// empty when the playlist declares no matching stream.
type Selection struct {
	VideoURL string
	AudioURL string
	Quality  string
}

// URL returns the selected playlist URL for the stream type.
func (s Selection) URL(t StreamType) string {
	if t == StreamAudio {
		return s.AudioURL
	}
	return s.VideoURL
}
