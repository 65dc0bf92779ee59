package session

import (
	"fmt"
	"math"
	"time"

	"github.com/mohaanymo/lmsdl/internal/models"
)

// StreamSnapshot is the observable state of one stream.
type StreamSnapshot struct {
	Completed int     `json:"completed"`
	Total     int     `json:"total"`
	Progress  int     `json:"progress"`
	Bytes     int64   `json:"bytes"`
	Rate      float64 `json:"rate"`
}

// Snapshot is the observable state of a session.
type Snapshot struct {
	SessionID       string         `json:"sessionId"`
	Owner           string         `json:"owner,omitempty"`
	Title           string         `json:"title"`
	Quality         string         `json:"quality"`
	Status          models.Status  `json:"status"`
	OverallProgress float64        `json:"overallProgress"`
	Video           StreamSnapshot `json:"video"`
	Audio           StreamSnapshot `json:"audio"`
	ETASeconds      *float64       `json:"etaSeconds"`
	ETA             string         `json:"eta,omitempty"`
	StartTime       time.Time      `json:"startTime"`
	EndTime         *time.Time     `json:"endTime,omitempty"`
	Folder          models.Folder  `json:"folder"`
	Command         string         `json:"postProcessCommand,omitempty"`
	Error           string         `json:"error,omitempty"`
}

// OverallProgress returns the completed share of all known segments as a
// percentage rounded to one decimal.
func OverallProgress(s *Session) float64 {
	total := s.Video.Total + s.Audio.Total
	if total == 0 {
		return 0
	}
	done := s.Video.Completed + s.Audio.Completed
	return math.Round(float64(done)/float64(total)*1000) / 10
}

// ETA estimates the remaining time while s is downloading. The streams run
// concurrently, so the estimate is the slower stream's time. ok is false
// when the session is not downloading or no rate has been observed.
func ETA(s *Session) (seconds float64, ok bool) {
	if s.Status != models.StatusDownloading {
		return 0, false
	}
	if s.Video.Rate == 0 && s.Audio.Rate == 0 {
		return 0, false
	}
	return math.Max(streamTime(s.Video), streamTime(s.Audio)), true
}

func streamTime(p StreamProgress) float64 {
	if p.Rate <= 0 {
		return 0
	}
	return float64(p.Remaining()) / p.Rate
}

// FormatETA renders seconds as "Xm Ys" or "Ys". It returns "" for
// non-positive values.
func FormatETA(seconds float64) string {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return ""
	}
	mins := int(seconds / 60)
	secs := int(math.Mod(seconds, 60))
	if mins > 0 {
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	return fmt.Sprintf("%ds", secs)
}

// TakeSnapshot builds the observable view of s.
func TakeSnapshot(s *Session) Snapshot {
	snap := Snapshot{
		SessionID:       s.ID,
		Owner:           s.Owner,
		Title:           s.Title,
		Quality:         s.Quality,
		Status:          s.Status,
		OverallProgress: OverallProgress(s),
		Video:           streamSnapshot(s.Video),
		Audio:           streamSnapshot(s.Audio),
		StartTime:       s.StartTime,
		Folder:          s.Folder.Clone(),
		Command:         s.PostProcessCommand,
		Error:           s.Error,
	}
	if s.EndTime != nil {
		end := *s.EndTime
		snap.EndTime = &end
	}
	if eta, ok := ETA(s); ok {
		snap.ETASeconds = &eta
		snap.ETA = FormatETA(eta)
	}
	return snap
}

func streamSnapshot(p StreamProgress) StreamSnapshot {
	progress := 0
	if p.Total > 0 {
		progress = int(math.Round(float64(p.Completed) / float64(p.Total) * 100))
	}
	return StreamSnapshot{
		Completed: p.Completed,
		Total:     p.Total,
		Progress:  progress,
		Bytes:     p.Bytes,
		Rate:      math.Round(p.Rate*1000) / 1000,
	}
}
