// Package session owns the live download sessions. It applies lifecycle
// events to each session, computes progress and ETA snapshots, and records
// finished sessions in the history log.
package session

import (
	"time"

	"github.com/mohaanymo/lmsdl/internal/models"
)

// Alpha is the EWMA weight given to a new rate sample.
const Alpha = 0.3

// StreamProgress tracks one stream of a session. Total is 0 until the
// segment count is known.
type StreamProgress struct {
	Total      int
	Completed  int
	Bytes      int64
	LastUpdate time.Time
	Rate       float64 // segments per second
}

// Remaining returns the number of segments not yet completed.
func (p StreamProgress) Remaining() int {
	if p.Total <= p.Completed {
		return 0
	}
	return p.Total - p.Completed
}

// observe applies a progress sample and updates the smoothed rate.
func (p *StreamProgress) observe(completed int, bytes int64, at time.Time) {
	dt := at.Sub(p.LastUpdate).Seconds()
	dn := completed - p.Completed

	if dt > 0 && dn > 0 {
		instant := float64(dn) / dt
		if p.Rate == 0 {
			p.Rate = instant
		} else {
			p.Rate = Alpha*instant + (1-Alpha)*p.Rate
		}
	}

	if dn > 0 {
		p.Completed = completed
	}
	if p.Total > 0 && p.Completed > p.Total {
		p.Completed = p.Total
	}
	if bytes > p.Bytes {
		p.Bytes = bytes
	}
	if at.After(p.LastUpdate) {
		p.LastUpdate = at
	}
}

// Session is one download attempt.
type Session struct {
	ID                 string
	Title              string
	Quality            string
	Owner              string
	Status             models.Status
	StartTime          time.Time
	EndTime            *time.Time
	Video              StreamProgress
	Audio              StreamProgress
	Folder             models.Folder
	PostProcessCommand string
	Error              string
	Files              []string
}

// Stream returns the progress record for t.
func (s *Session) Stream(t models.StreamType) *StreamProgress {
	if t == models.StreamAudio {
		return &s.Audio
	}
	return &s.Video
}
