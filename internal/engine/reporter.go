package engine

import (
	"context"
	"sync"
	"time"

	"github.com/mohaanymo/lmsdl/internal/events"
	"github.com/mohaanymo/lmsdl/internal/models"
)

// ReportPolicy controls how often progress is emitted per (session, stream).
type ReportPolicy struct {
	Interval time.Duration
	Every    int
}

// DefaultReportPolicy emits at least every 2s or every 5 segments.
func DefaultReportPolicy() ReportPolicy {
	return ReportPolicy{Interval: 2 * time.Second, Every: 5}
}

// ShouldEmit decides whether a progress update passes the coalescing gate.
func ShouldEmit(now, last time.Time, completed, total int, force bool, p ReportPolicy) bool {
	switch {
	case force:
		return true
	case completed == total:
		return true
	case now.Sub(last) > p.Interval:
		return true
	case p.Every > 0 && completed%p.Every == 0:
		return true
	}
	return false
}

type reportKey struct {
	session string
	stream  models.StreamType
}

// Reporter coalesces progress updates before they reach the event sink.
type Reporter struct {
	sink   events.Sink
	policy ReportPolicy
	now    func() time.Time

	mu   sync.Mutex
	last map[reportKey]time.Time
}

// NewReporter creates a Reporter. now may be nil.
func NewReporter(sink events.Sink, policy ReportPolicy, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{
		sink:   sink,
		policy: policy,
		now:    now,
		last:   make(map[reportKey]time.Time),
	}
}

// MaybeReport emits a Progress event if the policy allows it and reports
// whether it did.
func (r *Reporter) MaybeReport(ctx context.Context, sessionID string, stream models.StreamType, completed, total int, bytes int64, force bool) bool {
	key := reportKey{session: sessionID, stream: stream}
	now := r.now()

	r.mu.Lock()
	if !ShouldEmit(now, r.last[key], completed, total, force, r.policy) {
		r.mu.Unlock()
		return false
	}
	r.last[key] = now
	r.mu.Unlock()

	err := r.sink.Emit(ctx, events.Progress{
		SessionID: sessionID,
		Stream:    stream,
		Completed: completed,
		Total:     total,
		Bytes:     bytes,
		Timestamp: now,
	})
	return err == nil
}

// Forget drops the emission state of a session.
func (r *Reporter) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.last {
		if k.session == sessionID {
			delete(r.last, k)
		}
	}
}
