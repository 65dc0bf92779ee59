package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohaanymo/lmsdl/internal/events"
	"github.com/mohaanymo/lmsdl/internal/history"
	"github.com/mohaanymo/lmsdl/internal/models"
)

// DefaultRetention is how long a finished session stays visible.
const DefaultRetention = 10 * time.Second

// CancelFailedMessage is recorded when the cancel signal cannot be delivered.
const CancelFailedMessage = "Failed to send cancel signal."

// CancelledMessage is recorded when a cancel confirmation carries no message.
const CancelledMessage = "Cancelled by user."

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrDuplicateSession  = errors.New("session already exists")
)

// Canceller delivers the out-of-band stop signal to a session's download.
type Canceller interface {
	Cancel(sessionID string) error
}

// HistoryAppender receives the entry of every finished session.
type HistoryAppender interface {
	Append(e history.Entry) error
}

type entry struct {
	mu      sync.Mutex
	session Session
}

// Machine applies events to sessions. Updates to one session are serialized
// by that session's lock.
type Machine struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	timerMu sync.Mutex
	timers  map[string]*time.Timer
	closed  bool

	history   HistoryAppender
	canceller Canceller
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithHistory sets where finished sessions are recorded.
func WithHistory(h HistoryAppender) Option {
	return func(m *Machine) { m.history = h }
}

// WithCanceller sets the cancel signal transport.
func WithCanceller(c Canceller) Option {
	return func(m *Machine) { m.canceller = c }
}

// WithRetention sets how long finished sessions are kept.
func WithRetention(d time.Duration) Option {
	return func(m *Machine) { m.retention = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// NewMachine creates an empty Machine.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		sessions:  make(map[string]*entry),
		timers:    make(map[string]*time.Timer),
		retention: DefaultRetention,
		now:       time.Now,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With().Str("component", "session").Logger()
	return m
}

// Run applies events from in until ctx is done or in is closed. Events that
// reference unknown sessions or violate the state machine are logged and dropped.
func (m *Machine) Run(ctx context.Context, in <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-in:
			if !ok {
				return
			}
			if err := m.Dispatch(e); err != nil {
				m.log.Warn().
					Err(err).
					Str("session", e.Session()).
					Str("event", string(e.Kind())).
					Msg("event dropped")
			}
		}
	}
}

// Dispatch applies a single event.
func (m *Machine) Dispatch(e events.Event) error {
	if start, ok := e.(events.Start); ok {
		return m.start(start)
	}

	ent := m.lookup(e.Session())
	if ent == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, e.Session())
	}

	switch ev := e.(type) {
	case events.SegmentCountKnown:
		return m.segmentCount(ent, ev)
	case events.Progress:
		return m.progress(ent, ev)
	case events.Complete:
		return m.complete(ent, ev)
	case events.Fail:
		return m.fail(ent, ev.Message)
	case events.CancelRequest:
		return m.cancelRequest(ent, ev)
	case events.CancelConfirmed:
		return m.cancelConfirmed(ent, ev)
	default:
		return fmt.Errorf("unknown event %T", e)
	}
}

func (m *Machine) lookup(id string) *entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

func (m *Machine) start(ev events.Start) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[ev.SessionID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSession, ev.SessionID)
	}

	now := m.now()
	startTime := ev.StartTime
	if startTime.IsZero() {
		startTime = now
	}
	m.sessions[ev.SessionID] = &entry{session: Session{
		ID:        ev.SessionID,
		Title:     ev.Title,
		Quality:   ev.Quality,
		Owner:     ev.Owner,
		Status:    models.StatusInitializing,
		StartTime: startTime,
		Video:     StreamProgress{LastUpdate: now},
		Audio:     StreamProgress{LastUpdate: now},
		Folder:    ev.Folder.Clone(),
	}}

	m.log.Info().Str("session", ev.SessionID).Str("title", ev.Title).Msg("session started")
	return nil
}

func (m *Machine) segmentCount(ent *entry, ev events.SegmentCountKnown) error {
	ent.mu.Lock()
	defer ent.mu.Unlock()

	s := &ent.session
	if s.Status.Terminal() {
		return fmt.Errorf("%w: segment count for %s session", ErrInvalidTransition, s.Status)
	}
	if !ev.Stream.Valid() {
		return fmt.Errorf("%w: unknown stream %q", ErrInvalidTransition, ev.Stream)
	}

	p := s.Stream(ev.Stream)
	p.Total = ev.Total
	if p.Total > 0 && p.Completed > p.Total {
		p.Completed = p.Total
	}
	if s.Status == models.StatusInitializing {
		s.Status = models.StatusDownloading
	}
	return nil
}

func (m *Machine) progress(ent *entry, ev events.Progress) error {
	ent.mu.Lock()
	defer ent.mu.Unlock()

	s := &ent.session
	if s.Status.Terminal() {
		return fmt.Errorf("%w: progress for %s session", ErrInvalidTransition, s.Status)
	}
	if !ev.Stream.Valid() {
		return fmt.Errorf("%w: unknown stream %q", ErrInvalidTransition, ev.Stream)
	}

	at := ev.Timestamp
	if at.IsZero() {
		at = m.now()
	}

	p := s.Stream(ev.Stream)
	if p.Total == 0 && ev.Total > 0 {
		p.Total = ev.Total
	}
	p.observe(ev.Completed, ev.Bytes, at)

	if s.Status == models.StatusInitializing {
		s.Status = models.StatusDownloading
	}
	return nil
}

func (m *Machine) complete(ent *entry, ev events.Complete) error {
	ent.mu.Lock()
	defer ent.mu.Unlock()

	s := &ent.session
	if s.Status.Terminal() {
		return fmt.Errorf("%w: complete %s session", ErrInvalidTransition, s.Status)
	}
	s.PostProcessCommand = ev.PostProcessCommand
	s.Files = append([]string(nil), ev.Files...)
	m.finish(s, models.StatusCompleted, "")
	return nil
}

func (m *Machine) fail(ent *entry, message string) error {
	ent.mu.Lock()
	defer ent.mu.Unlock()

	s := &ent.session
	if s.Status.Terminal() {
		return fmt.Errorf("%w: fail %s session", ErrInvalidTransition, s.Status)
	}
	m.finish(s, models.StatusError, message)
	return nil
}

func (m *Machine) cancelRequest(ent *entry, ev events.CancelRequest) error {
	ent.mu.Lock()
	s := &ent.session
	if s.Status != models.StatusInitializing && s.Status != models.StatusDownloading {
		status := s.Status
		ent.mu.Unlock()
		return fmt.Errorf("%w: cancel %s session", ErrInvalidTransition, status)
	}
	s.Status = models.StatusCancelling
	ent.mu.Unlock()

	m.log.Info().Str("session", ev.SessionID).Msg("cancel requested")

	var err error
	if m.canceller == nil {
		err = errors.New("no canceller configured")
	} else {
		err = m.canceller.Cancel(ev.SessionID)
	}
	if errors.Is(err, events.ErrNotRunning) {
		// The download already returned; its terminal event settles the session.
		m.log.Debug().Str("session", ev.SessionID).Msg("download already finished, awaiting terminal event")
		return nil
	}
	if err != nil {
		m.log.Warn().Err(err).Str("session", ev.SessionID).Msg("could not deliver cancel signal")
		return m.fail(ent, CancelFailedMessage)
	}
	return nil
}

func (m *Machine) cancelConfirmed(ent *entry, ev events.CancelConfirmed) error {
	ent.mu.Lock()
	defer ent.mu.Unlock()

	s := &ent.session
	switch {
	case s.Status == models.StatusCancelled:
		return nil
	case s.Status.Terminal():
		return fmt.Errorf("%w: confirm cancel of %s session", ErrInvalidTransition, s.Status)
	}

	msg := ev.Message
	if msg == "" {
		msg = CancelledMessage
	}
	m.finish(s, models.StatusCancelled, msg)
	return nil
}

// finish moves s into a terminal status, records it and schedules its removal.
// The caller holds the session lock.
func (m *Machine) finish(s *Session, status models.Status, message string) {
	end := m.now()
	s.Status = status
	s.EndTime = &end
	s.Error = message

	log := m.log.With().Str("session", s.ID).Str("status", status.String()).Logger()
	if status == models.StatusError {
		log.Error().Str("error", message).Msg("session finished")
	} else {
		log.Info().Msg("session finished")
	}

	if m.history != nil {
		e := history.NewEntry(end, s.Title, s.Quality, s.Folder, status, s.PostProcessCommand, "")
		if status == models.StatusError {
			e.Error = message
		}
		if err := m.history.Append(e); err != nil {
			log.Error().Err(err).Msg("append history")
		}
	}

	m.scheduleRemoval(s.ID)
}

func (m *Machine) scheduleRemoval(id string) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.closed {
		return
	}
	m.timers[id] = time.AfterFunc(m.retention, func() { m.remove(id) })
}

func (m *Machine) remove(id string) {
	m.timerMu.Lock()
	delete(m.timers, id)
	m.timerMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Close stops pending retention timers. Finished sessions stay visible
// until the Machine is dropped.
func (m *Machine) Close() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
}

// pendingRemovals reports the number of scheduled retention timers.
func (m *Machine) pendingRemovals() int {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	return len(m.timers)
}

// Get returns the snapshot of one session.
func (m *Machine) Get(id string) (Snapshot, bool) {
	ent := m.lookup(id)
	if ent == nil {
		return Snapshot{}, false
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return TakeSnapshot(&ent.session), true
}

// Snapshot returns every retained session, oldest first.
func (m *Machine) Snapshot() []Snapshot {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, ent := range m.sessions {
		entries = append(entries, ent)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(entries))
	for _, ent := range entries {
		ent.mu.Lock()
		out = append(out, TakeSnapshot(&ent.session))
		ent.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// ActiveCount returns the number of sessions still occupying the downloader.
func (m *Machine) ActiveCount() int {
	count := 0
	for _, s := range m.Snapshot() {
		if s.Status.Active() {
			count++
		}
	}
	return count
}
