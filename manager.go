package lmsdl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mohaanymo/lmsdl/internal/config"
	"github.com/mohaanymo/lmsdl/internal/engine"
	"github.com/mohaanymo/lmsdl/internal/events"
	"github.com/mohaanymo/lmsdl/internal/history"
	"github.com/mohaanymo/lmsdl/internal/output"
	"github.com/mohaanymo/lmsdl/internal/parser"
	"github.com/mohaanymo/lmsdl/internal/session"
)

// eventBuffer sizes the channel between downloads and the state machine.
const eventBuffer = 1024

var (
	// ErrNotStarted is returned by Download before Start has been called.
	ErrNotStarted = errors.New("manager not started, call Start() first")

	// ErrClosed is returned once the manager has been closed.
	ErrClosed = errors.New("manager closed")

	ErrMissingURL        = config.ErrMissingURL
	ErrSessionNotFound   = session.ErrSessionNotFound
	ErrInvalidTransition = session.ErrInvalidTransition
	ErrEntryNotFound     = history.ErrEntryNotFound
	ErrCancelled         = engine.ErrCancelled
)

// job tracks one running download.
type job struct {
	done   chan struct{}
	result *Result
	err    error
}

// Manager runs download sessions concurrently and keeps their observable
// state, cancellation and history.
type Manager struct {
	settings *Settings
	log      zerolog.Logger

	sink        *events.ChannelSink
	machine     *session.Machine
	engine      *engine.Engine
	broadcaster *session.Broadcaster
	history     *history.Log
	store       history.Store

	mu   sync.Mutex
	jobs map[string]*job

	downloads     sync.WaitGroup
	downloadCtx   context.Context
	stopDownloads context.CancelFunc

	loops     sync.WaitGroup
	stopLoops context.CancelFunc

	started atomic.Bool
	closed  atomic.Bool
}

func newManager(o *clientOptions) (*Manager, error) {
	s := o.settings
	log := o.log

	writer, err := output.NewWriter(s.Output.Dir)
	if err != nil {
		return nil, err
	}

	hist := history.NewLog(o.store, s.History.Capacity, log)
	if err := hist.Load(context.Background()); err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	sink := events.NewChannelSink(eventBuffer)
	fetcher := engine.NewFetcher(o.httpClient, engine.RetryPolicy{
		MaxRetries:  s.Download.MaxRetries,
		BackoffBase: s.Download.BackoffBase,
		JitterMax:   s.Download.JitterMax,
	}, engine.WithFetchHeaders(s.Download.Headers), engine.WithFetchLogger(log))

	eng, err := engine.New(engine.Options{
		Playlists: parser.NewHLSParser(o.httpClient, s.Download.Headers),
		Fetcher:   fetcher,
		Writer:    writer,
		Sink:      sink,
		Report: engine.ReportPolicy{
			Interval: s.Progress.Interval,
			Every:    s.Progress.Every,
		},
		Now:    o.now,
		Logger: log,
	})
	if err != nil {
		return nil, err
	}

	machine := session.NewMachine(
		session.WithHistory(hist),
		session.WithCanceller(eng),
		session.WithRetention(s.Session.Retention),
		session.WithClock(o.now),
		session.WithLogger(log),
	)
	broadcaster := session.NewBroadcaster(machine, s.Session.BroadcastInterval, log)
	hist.OnChange(func(entries []history.Entry) {
		broadcaster.PublishHistory(entries)
	})

	downloadCtx, stopDownloads := context.WithCancel(context.Background())
	return &Manager{
		settings:      s,
		log:           log.With().Str("component", "manager").Logger(),
		sink:          sink,
		machine:       machine,
		engine:        eng,
		broadcaster:   broadcaster,
		history:       hist,
		store:         o.store,
		jobs:          make(map[string]*job),
		downloadCtx:   downloadCtx,
		stopDownloads: stopDownloads,
	}, nil
}

// Start begins applying session events and publishing snapshots.
// It is a no-op when already running.
func (m *Manager) Start(ctx context.Context) {
	if m.closed.Load() || m.started.Swap(true) {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.stopLoops = cancel

	m.loops.Add(2)
	go func() {
		defer m.loops.Done()
		m.machine.Run(ctx, m.sink.Events())
	}()
	go func() {
		defer m.loops.Done()
		m.broadcaster.Run(ctx)
	}()

	m.broadcaster.PublishHistory(m.history.List())
}

// Download starts a new session for req and returns its identifier without
// waiting for it to finish. ctx bounds the download.
func (m *Manager) Download(ctx context.Context, req Request) (string, error) {
	if m.closed.Load() {
		return "", ErrClosed
	}
	if !m.started.Load() {
		return "", ErrNotStarted
	}
	if req.URL == "" {
		return "", ErrMissingURL
	}

	id := uuid.NewString()
	ereq := m.engineRequest(id, req)

	j := &job{done: make(chan struct{})}
	m.mu.Lock()
	m.jobs[id] = j
	m.mu.Unlock()

	m.downloads.Add(1)
	go func() {
		defer m.downloads.Done()
		defer close(j.done)

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(m.downloadCtx, cancel)
		defer stop()

		res, err := m.engine.Run(runCtx, ereq)
		j.err = err
		if res != nil {
			j.result = &Result{
				SessionID: id,
				Quality:   res.Selection.Quality,
				Files:     res.Files,
				Command:   res.Command,
			}
		}
	}()

	m.log.Info().Str("session", id).Str("url", req.URL).Msg("download queued")
	return id, nil
}

func (m *Manager) engineRequest(id string, req Request) engine.Request {
	folder := m.settings.Folder.Clone()
	if req.Folder != nil {
		folder = req.Folder.Clone()
	}
	title := req.Title
	if title == "" {
		title = id
	}

	video, audio := req.VideoConcurrency, req.AudioConcurrency
	if video == 0 {
		video = m.settings.Download.VideoConcurrency
	}
	if audio == 0 {
		audio = m.settings.Download.AudioConcurrency
	}

	return engine.Request{
		SessionID:        id,
		URL:              req.URL,
		Title:            title,
		Owner:            req.Owner,
		Folder:           folder,
		VideoConcurrency: config.ClampConcurrency(video),
		AudioConcurrency: config.ClampConcurrency(audio),
	}
}

// Wait blocks until the session finishes or ctx is done. A cancelled session
// returns ErrCancelled.
func (m *Manager) Wait(ctx context.Context, sessionID string) (*Result, error) {
	m.mu.Lock()
	j, ok := m.jobs[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	m.mu.Lock()
	delete(m.jobs, sessionID)
	m.mu.Unlock()
	return j.result, j.err
}

// Cancel asks a running session to stop. The session moves to cancelling
// and then to cancelled once its download confirms.
func (m *Manager) Cancel(sessionID string) error {
	snap, ok := m.machine.Get(sessionID)
	if !ok {
		// Start has not been applied yet; stop the download directly.
		if err := m.engine.Cancel(sessionID); err != nil {
			return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil
	}
	if snap.Status != StatusInitializing && snap.Status != StatusDownloading {
		return fmt.Errorf("%w: cancel %s session", ErrInvalidTransition, snap.Status)
	}
	return m.sink.Emit(context.Background(), events.CancelRequest{SessionID: sessionID})
}

// Get returns the snapshot of one session.
func (m *Manager) Get(sessionID string) (Snapshot, bool) {
	return m.machine.Get(sessionID)
}

// Snapshot returns every live session ordered by start time.
func (m *Manager) Snapshot() []Snapshot {
	return m.machine.Snapshot()
}

// ActiveCount returns the number of sessions that have not finished.
func (m *Manager) ActiveCount() int {
	return m.machine.ActiveCount()
}

// SubscribeSnapshots returns a channel receiving the session list whenever it
// changes, and a function that ends the subscription.
func (m *Manager) SubscribeSnapshots() (<-chan []Snapshot, func()) {
	return m.broadcaster.Subscribe()
}

// SubscribeHistory returns a channel receiving the history list whenever it
// changes, and a function that ends the subscription.
func (m *Manager) SubscribeHistory() (<-chan []HistoryEntry, func()) {
	return m.broadcaster.SubscribeHistory()
}

// History returns the history log, newest first.
func (m *Manager) History() []HistoryEntry {
	return m.history.List()
}

// HistoryEntry returns the entry recorded at ts.
func (m *Manager) HistoryEntry(ts int64) (HistoryEntry, bool) {
	return m.history.Find(ts)
}

// DeleteHistory removes the entry recorded at ts.
func (m *Manager) DeleteHistory(ts int64) error {
	return m.history.Delete(ts)
}

// ClearHistory removes every history entry.
func (m *Manager) ClearHistory() error {
	return m.history.Clear()
}

// Close cancels running downloads, waits for their final events to be
// recorded and closes the history store.
func (m *Manager) Close() error {
	if m.closed.Swap(true) {
		return nil
	}

	m.stopDownloads()
	m.downloads.Wait()
	m.sink.Close()

	if m.stopLoops != nil {
		m.stopLoops()
		m.loops.Wait()
	}
	m.drain()
	m.machine.Close()

	return m.store.Close()
}

// drain applies events still buffered after the machine loop stopped.
func (m *Manager) drain() {
	for {
		select {
		case e := <-m.sink.Events():
			if err := m.machine.Dispatch(e); err != nil {
				m.log.Debug().Err(err).Str("session", e.Session()).Msg("event dropped")
			}
		default:
			return
		}
	}
}
