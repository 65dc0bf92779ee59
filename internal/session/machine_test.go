package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohaanymo/lmsdl/internal/engine"
	"github.com/mohaanymo/lmsdl/internal/events"
	"github.com/mohaanymo/lmsdl/internal/history"
	"github.com/mohaanymo/lmsdl/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type recordingHistory struct {
	mu      sync.Mutex
	entries []history.Entry
}

func (h *recordingHistory) Append(e history.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	return nil
}

func (h *recordingHistory) list() []history.Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]history.Entry(nil), h.entries...)
}

type cancelFunc func(string) error

func (f cancelFunc) Cancel(id string) error { return f(id) }

func newTestMachine(t *testing.T, opts ...Option) (*Machine, *fakeClock, *recordingHistory) {
	t.Helper()
	clock := newFakeClock()
	hist := &recordingHistory{}
	base := []Option{WithClock(clock.Now), WithHistory(hist), WithRetention(time.Hour)}
	return NewMachine(append(base, opts...)...), clock, hist
}

func startSession(t *testing.T, m *Machine, id string) {
	t.Helper()
	require.NoError(t, m.Dispatch(events.Start{
		SessionID: id,
		Title:     "Lecture",
		Quality:   "1280x720",
		Folder:    models.Folder{Semester: "Sem 1!", AdditionalFolders: []string{"Week 1"}},
	}))
}

func status(t *testing.T, m *Machine, id string) models.Status {
	t.Helper()
	s, ok := m.Get(id)
	require.True(t, ok)
	return s.Status
}

func TestStartAndSegmentCount(t *testing.T) {
	m, _, _ := newTestMachine(t)
	startSession(t, m, "s")
	assert.Equal(t, models.StatusInitializing, status(t, m, "s"))

	err := m.Dispatch(events.Start{SessionID: "s"})
	assert.ErrorIs(t, err, ErrDuplicateSession)

	require.NoError(t, m.Dispatch(events.SegmentCountKnown{SessionID: "s", Stream: models.StreamVideo, Total: 10}))
	snap, _ := m.Get("s")
	assert.Equal(t, models.StatusDownloading, snap.Status)
	assert.Equal(t, 10, snap.Video.Total)
	assert.Equal(t, 0, snap.Audio.Total)
}

func TestProgressAdvancesFromInitializing(t *testing.T) {
	m, clock, _ := newTestMachine(t)
	startSession(t, m, "s")

	require.NoError(t, m.Dispatch(events.Progress{SessionID: "s", Stream: models.StreamAudio, Completed: 2, Timestamp: clock.Advance(time.Second)}))
	assert.Equal(t, models.StatusDownloading, status(t, m, "s"))
}

func TestUnknownSession(t *testing.T) {
	m, _, _ := newTestMachine(t)
	err := m.Dispatch(events.Progress{SessionID: "ghost", Stream: models.StreamVideo, Completed: 1})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEWMAConvergesWithoutOvershoot(t *testing.T) {
	m, clock, _ := newTestMachine(t)
	startSession(t, m, "s")
	require.NoError(t, m.Dispatch(events.SegmentCountKnown{SessionID: "s", Stream: models.StreamVideo, Total: 100}))

	var first float64
	for i := 1; i <= 20; i++ {
		require.NoError(t, m.Dispatch(events.Progress{
			SessionID: "s",
			Stream:    models.StreamVideo,
			Completed: i,
			Timestamp: clock.Advance(time.Second),
		}))
		snap, _ := m.Get("s")
		if i == 1 {
			first = snap.Video.Rate
		}
		assert.LessOrEqual(t, snap.Video.Rate, first)
		assert.InDelta(t, 1.0, snap.Video.Rate, 1e-9)
	}
}

func TestEWMAWeighting(t *testing.T) {
	p := StreamProgress{LastUpdate: time.Unix(0, 0)}

	p.observe(4, 0, time.Unix(2, 0))
	assert.InDelta(t, 2.0, p.Rate, 1e-9)

	p.observe(5, 0, time.Unix(3, 0))
	assert.InDelta(t, 0.3*1+0.7*2, p.Rate, 1e-9)

	// no change in count or time leaves the rate alone
	p.observe(5, 0, time.Unix(4, 0))
	p.observe(6, 0, time.Unix(4, 0))
	assert.InDelta(t, 1.7, p.Rate, 1e-9)
	assert.Equal(t, 6, p.Completed)
}

func TestProgressNeverExceedsTotal(t *testing.T) {
	m, clock, _ := newTestMachine(t)
	startSession(t, m, "s")
	require.NoError(t, m.Dispatch(events.SegmentCountKnown{SessionID: "s", Stream: models.StreamVideo, Total: 5}))

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			m.Dispatch(events.Progress{SessionID: "s", Stream: models.StreamVideo, Completed: n, Timestamp: clock.Now().Add(time.Duration(n) * time.Millisecond)})
			m.Dispatch(events.Progress{SessionID: "s", Stream: models.StreamAudio, Completed: n, Timestamp: clock.Now().Add(time.Duration(n) * time.Millisecond)})
		}(i)
	}
	wg.Wait()

	snap, _ := m.Get("s")
	assert.Equal(t, 5, snap.Video.Completed)
	assert.Equal(t, 50, snap.Audio.Completed)

	require.NoError(t, m.Dispatch(events.SegmentCountKnown{SessionID: "s", Stream: models.StreamAudio, Total: 40}))
	snap, _ = m.Get("s")
	assert.Equal(t, 40, snap.Audio.Completed)
}

func TestCompleteRecordsHistory(t *testing.T) {
	m, clock, hist := newTestMachine(t)
	startSession(t, m, "s")
	end := clock.Advance(30 * time.Second)

	require.NoError(t, m.Dispatch(events.Complete{SessionID: "s", PostProcessCommand: "ffmpeg ..."}))

	snap, _ := m.Get("s")
	assert.Equal(t, models.StatusCompleted, snap.Status)
	require.NotNil(t, snap.EndTime)
	assert.Equal(t, end, *snap.EndTime)

	entries := hist.list()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, end.UnixMilli(), e.Timestamp)
	assert.Equal(t, "Lecture", e.Title)
	assert.Equal(t, "ffmpeg ...", e.PostProcessCommand)
	assert.Equal(t, "LMS/sem_1_/week_1", e.FolderPath)
	assert.Equal(t, "sem_1__week_1_", e.FilePrefix)
	assert.Equal(t, models.StatusCompleted, e.Status)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	m, _, hist := newTestMachine(t)
	startSession(t, m, "s")
	require.NoError(t, m.Dispatch(events.Fail{SessionID: "s", Message: "HTTP 500"}))

	rejected := []events.Event{
		events.Complete{SessionID: "s"},
		events.Fail{SessionID: "s", Message: "again"},
		events.CancelRequest{SessionID: "s"},
		events.CancelConfirmed{SessionID: "s"},
		events.Progress{SessionID: "s", Stream: models.StreamVideo, Completed: 1},
		events.SegmentCountKnown{SessionID: "s", Stream: models.StreamVideo, Total: 3},
	}
	for _, e := range rejected {
		err := m.Dispatch(e)
		assert.ErrorIs(t, err, ErrInvalidTransition, "%s", e.Kind())
	}

	snap, _ := m.Get("s")
	assert.Equal(t, models.StatusError, snap.Status)
	assert.Equal(t, "HTTP 500", snap.Error)
	require.Len(t, hist.list(), 1)
	assert.Equal(t, "HTTP 500", hist.list()[0].Error)
}

func TestTwoPhaseCancel(t *testing.T) {
	var signalled []string
	m, _, hist := newTestMachine(t, WithCanceller(cancelFunc(func(id string) error {
		signalled = append(signalled, id)
		return nil
	})))
	startSession(t, m, "s")
	require.NoError(t, m.Dispatch(events.SegmentCountKnown{SessionID: "s", Stream: models.StreamVideo, Total: 3}))

	require.NoError(t, m.Dispatch(events.CancelRequest{SessionID: "s"}))
	assert.Equal(t, models.StatusCancelling, status(t, m, "s"))
	assert.Equal(t, []string{"s"}, signalled)
	assert.Empty(t, hist.list(), "cancel request must not write history")

	// progress still arriving while unwinding does not move the status back
	require.NoError(t, m.Dispatch(events.Progress{SessionID: "s", Stream: models.StreamVideo, Completed: 1}))
	assert.Equal(t, models.StatusCancelling, status(t, m, "s"))

	assert.ErrorIs(t, m.Dispatch(events.CancelRequest{SessionID: "s"}), ErrInvalidTransition)

	require.NoError(t, m.Dispatch(events.CancelConfirmed{SessionID: "s"}))
	snap, _ := m.Get("s")
	assert.Equal(t, models.StatusCancelled, snap.Status)
	assert.Equal(t, CancelledMessage, snap.Error)

	require.NoError(t, m.Dispatch(events.CancelConfirmed{SessionID: "s", Message: "dup"}))
	require.Len(t, hist.list(), 1)
	assert.Equal(t, models.StatusCancelled, hist.list()[0].Status)
}

func TestCancelSignalFailureForcesError(t *testing.T) {
	m, _, hist := newTestMachine(t, WithCanceller(cancelFunc(func(string) error {
		return errors.New("unreachable")
	})))
	startSession(t, m, "s")

	require.NoError(t, m.Dispatch(events.CancelRequest{SessionID: "s"}))
	snap, _ := m.Get("s")
	assert.Equal(t, models.StatusError, snap.Status)
	assert.Equal(t, CancelFailedMessage, snap.Error)
	require.Len(t, hist.list(), 1)
}

func TestCancelAfterDownloadReturnedKeepsCompletion(t *testing.T) {
	cancels := engine.NewCancellations()
	m, _, hist := newTestMachine(t, WithCanceller(cancels))
	startSession(t, m, "s")
	require.NoError(t, m.Dispatch(events.SegmentCountKnown{SessionID: "s", Stream: models.StreamVideo, Total: 2}))

	// The download registers, emits Complete and releases before the
	// queued cancel request is applied.
	_, release := cancels.Register(context.Background(), "s")
	release()

	require.NoError(t, m.Dispatch(events.CancelRequest{SessionID: "s"}))
	assert.Equal(t, models.StatusCancelling, status(t, m, "s"))
	assert.Empty(t, hist.list())

	require.NoError(t, m.Dispatch(events.Complete{SessionID: "s", PostProcessCommand: "ffmpeg"}))
	snap, _ := m.Get("s")
	assert.Equal(t, models.StatusCompleted, snap.Status)
	assert.Empty(t, snap.Error)
	require.Len(t, hist.list(), 1)
	assert.Equal(t, models.StatusCompleted, hist.list()[0].Status)
}

func TestCancelNotRunningAwaitsFail(t *testing.T) {
	m, _, hist := newTestMachine(t, WithCanceller(cancelFunc(func(id string) error {
		return fmt.Errorf("cancel %s: %w", id, events.ErrNotRunning)
	})))
	startSession(t, m, "s")

	require.NoError(t, m.Dispatch(events.CancelRequest{SessionID: "s"}))
	assert.Equal(t, models.StatusCancelling, status(t, m, "s"))

	require.NoError(t, m.Dispatch(events.Fail{SessionID: "s", Message: "HTTP 404"}))
	snap, _ := m.Get("s")
	assert.Equal(t, models.StatusError, snap.Status)
	assert.Equal(t, "HTTP 404", snap.Error)
	require.Len(t, hist.list(), 1)
}

func TestRetentionRemovesFinishedSessions(t *testing.T) {
	m, _, _ := newTestMachine(t, WithRetention(20*time.Millisecond))
	startSession(t, m, "s")
	startSession(t, m, "live")
	require.NoError(t, m.Dispatch(events.Complete{SessionID: "s"}))

	_, ok := m.Get("s")
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := m.Get("s")
		return !ok
	}, time.Second, 5*time.Millisecond)

	assert.Len(t, m.Snapshot(), 1)
	assert.Equal(t, 1, m.ActiveCount())
}

func TestCloseStopsRetentionTimers(t *testing.T) {
	m, _, _ := newTestMachine(t, WithRetention(20*time.Millisecond))
	startSession(t, m, "done")
	startSession(t, m, "late")
	require.NoError(t, m.Dispatch(events.Complete{SessionID: "done"}))
	assert.Equal(t, 1, m.pendingRemovals())

	m.Close()
	assert.Equal(t, 0, m.pendingRemovals())

	require.NoError(t, m.Dispatch(events.Fail{SessionID: "late", Message: "boom"}))
	assert.Equal(t, 0, m.pendingRemovals())

	time.Sleep(60 * time.Millisecond)
	_, ok := m.Get("done")
	assert.True(t, ok)
	_, ok = m.Get("late")
	assert.True(t, ok)
}

func TestSnapshotOrdering(t *testing.T) {
	m, _, _ := newTestMachine(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.Dispatch(events.Start{SessionID: "b", StartTime: base.Add(time.Second)}))
	require.NoError(t, m.Dispatch(events.Start{SessionID: "a", StartTime: base.Add(2 * time.Second)}))
	require.NoError(t, m.Dispatch(events.Start{SessionID: "c", StartTime: base}))

	var ids []string
	for _, s := range m.Snapshot() {
		ids = append(ids, s.SessionID)
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)
}
