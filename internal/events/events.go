// Package events defines the typed messages the downloader sends to the
// session state machine and the channel that carries them.
package events

import (
	"time"

	"github.com/mohaanymo/lmsdl/internal/models"
)

// Kind names an event type on the wire and in logs.
type Kind string

const (
	KindStart             Kind = "start"
	KindSegmentCountKnown Kind = "segment_count"
	KindProgress          Kind = "progress"
	KindComplete          Kind = "complete"
	KindFail              Kind = "fail"
	KindCancelRequest     Kind = "cancel_request"
	KindCancelConfirmed   Kind = "cancel_confirmed"
)

// Event is implemented by every message consumed by the state machine.
type Event interface {
	Session() string
	Kind() Kind
}

// Start announces a new session.
type Start struct {
	SessionID string        `json:"sessionId"`
	Title     string        `json:"title"`
	Quality   string        `json:"quality"`
	Owner     string        `json:"owner,omitempty"`
	StartTime time.Time     `json:"startTime"`
	Folder    models.Folder `json:"folder"`
}

// SegmentCountKnown reports the number of segments of one stream.
type SegmentCountKnown struct {
	SessionID string            `json:"sessionId"`
	Stream    models.StreamType `json:"streamType"`
	Total     int               `json:"total"`
}

// Progress reports the completed segment count of one stream.
type Progress struct {
	SessionID string            `json:"sessionId"`
	Stream    models.StreamType `json:"streamType"`
	Completed int               `json:"completed"`
	Total     int               `json:"total"`
	Bytes     int64             `json:"bytes"`
	Timestamp time.Time         `json:"timestamp"`
}

// Complete reports a successful session.
type Complete struct {
	SessionID          string   `json:"sessionId"`
	PostProcessCommand string   `json:"postProcessCommand,omitempty"`
	Files              []string `json:"files,omitempty"`
}

// Fail reports a failed session.
type Fail struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"error"`
}

// CancelRequest asks for a session to be stopped.
type CancelRequest struct {
	SessionID string `json:"sessionId"`
}

// CancelConfirmed reports that the downloader stopped after a cancel request.
type CancelConfirmed struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message,omitempty"`
}

func (e Start) Session() string             { return e.SessionID }
func (e SegmentCountKnown) Session() string { return e.SessionID }
func (e Progress) Session() string          { return e.SessionID }
func (e Complete) Session() string          { return e.SessionID }
func (e Fail) Session() string              { return e.SessionID }
func (e CancelRequest) Session() string     { return e.SessionID }
func (e CancelConfirmed) Session() string   { return e.SessionID }

func (Start) Kind() Kind             { return KindStart }
func (SegmentCountKnown) Kind() Kind { return KindSegmentCountKnown }
func (Progress) Kind() Kind          { return KindProgress }
func (Complete) Kind() Kind          { return KindComplete }
func (Fail) Kind() Kind              { return KindFail }
func (CancelRequest) Kind() Kind     { return KindCancelRequest }
func (CancelConfirmed) Kind() Kind   { return KindCancelConfirmed }
