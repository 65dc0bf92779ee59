// Package tui renders live download sessions and the history log in the terminal.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/mohaanymo/lmsdl/internal/history"
	"github.com/mohaanymo/lmsdl/internal/models"
	"github.com/mohaanymo/lmsdl/internal/session"
)

// Source is what the watch screen observes and acts on.
type Source interface {
	SubscribeSnapshots() (<-chan []session.Snapshot, func())
	SubscribeHistory() (<-chan []history.Entry, func())
	Cancel(sessionID string) error
	DeleteHistory(ts int64) error
}

// Messages
type (
	snapshotsMsg []session.Snapshot
	historyMsg   []history.Entry
	tickMsg      time.Time
	actionErrMsg struct{ err error }
)

type pane int

const (
	paneSessions pane = iota
	paneHistory
)

// historyRows is how many history entries are shown.
const historyRows = 8

// Model is the watch screen.
type Model struct {
	src       Source
	snapCh    <-chan []session.Snapshot
	historyCh <-chan []history.Entry
	stops     []func()

	sessions []session.Snapshot
	history  []history.Entry
	focus    pane
	cursor   [2]int

	follow string
	final  *session.Snapshot

	bar    progress.Model
	width  int
	height int
	frame  int
	err    error
}

// Option configures the model.
type Option func(*Model)

// WithFollow makes the model quit once sessionID reaches a terminal status.
func WithFollow(sessionID string) Option {
	return func(m *Model) {
		m.follow = sessionID
	}
}

// NewModel subscribes to src. Call Close when the program exits.
func NewModel(src Source, opts ...Option) *Model {
	m := &Model{
		src:    src,
		bar:    progress.New(progress.WithDefaultGradient(), progress.WithWidth(30), progress.WithoutPercentage()),
		width:  80,
		height: 24,
	}
	for _, opt := range opts {
		opt(m)
	}

	var stopSnaps, stopHistory func()
	m.snapCh, stopSnaps = src.SubscribeSnapshots()
	m.historyCh, stopHistory = src.SubscribeHistory()
	m.stops = []func(){stopSnaps, stopHistory}
	return m
}

// Close ends the subscriptions.
func (m *Model) Close() {
	for _, stop := range m.stops {
		stop()
	}
	m.stops = nil
}

// Final returns the followed session's terminal snapshot, if it was seen.
func (m *Model) Final() (session.Snapshot, bool) {
	if m.final == nil {
		return session.Snapshot{}, false
	}
	return *m.final, true
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(listenSnapshots(m.snapCh), listenHistory(m.historyCh), tick())
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case snapshotsMsg:
		m.sessions = msg
		m.clampCursor(paneSessions)
		if m.followDone() {
			return m, tea.Quit
		}
		return m, listenSnapshots(m.snapCh)

	case historyMsg:
		m.history = msg
		m.clampCursor(paneHistory)
		return m, listenHistory(m.historyCh)

	case actionErrMsg:
		m.err = msg.err

	case tickMsg:
		m.frame++
		return m, tick()
	}

	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "tab":
		if m.focus == paneSessions {
			m.focus = paneHistory
		} else {
			m.focus = paneSessions
		}

	case "up", "k":
		if m.cursor[m.focus] > 0 {
			m.cursor[m.focus]--
		}

	case "down", "j":
		if m.cursor[m.focus] < m.rows(m.focus)-1 {
			m.cursor[m.focus]++
		}

	case "c":
		if m.focus != paneSessions || len(m.sessions) == 0 {
			return m, nil
		}
		id := m.sessions[m.cursor[paneSessions]].SessionID
		return m, m.act(func() error { return m.src.Cancel(id) })

	case "d":
		if m.focus != paneHistory || len(m.history) == 0 {
			return m, nil
		}
		ts := m.history[m.cursor[paneHistory]].Timestamp
		return m, m.act(func() error { return m.src.DeleteHistory(ts) })
	}
	return m, nil
}

func (m *Model) act(fn func() error) tea.Cmd {
	m.err = nil
	return func() tea.Msg {
		if err := fn(); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

func (m *Model) followDone() bool {
	if m.follow == "" {
		return false
	}
	for i := range m.sessions {
		if m.sessions[i].SessionID == m.follow && m.sessions[i].Status.Terminal() {
			snap := m.sessions[i]
			m.final = &snap
			return true
		}
	}
	return false
}

func (m *Model) rows(p pane) int {
	if p == paneSessions {
		return len(m.sessions)
	}
	return min(len(m.history), historyRows)
}

func (m *Model) clampCursor(p pane) {
	n := m.rows(p)
	if n == 0 {
		m.cursor[p] = 0
		return
	}
	m.cursor[p] = clamp(m.cursor[p], 0, n-1)
}

func (m *Model) View() string {
	w := clamp(m.width-4, 60, 100)

	var b strings.Builder
	b.WriteString(m.viewHeader(w))
	b.WriteString("\n\n")
	b.WriteString(m.viewContent())

	return contentStyle.Width(w).Render(b.String())
}

func (m *Model) viewHeader(w int) string {
	title := titleStyle.Render("⚡ lmsdl")
	subtitle := dimStyle.Render(" - lecture downloads")

	active := 0
	for _, s := range m.sessions {
		if s.Status.Active() {
			active++
		}
	}
	stats := statLabelStyle.Render("active: ") + statValueStyle.Render(fmt.Sprint(active)) +
		statLabelStyle.Render("  history: ") + statValueStyle.Render(fmt.Sprint(len(m.history)))

	return headerStyle.Width(w - 6).Render(title + subtitle + "\n" + stats)
}

func (m *Model) viewContent() string {
	var b strings.Builder

	b.WriteString(m.section("Sessions", paneSessions))
	b.WriteString("\n\n")
	if len(m.sessions) == 0 {
		b.WriteString(dimStyle.Render("  no downloads running"))
		b.WriteString("\n")
	}
	for i := range m.sessions {
		b.WriteString(m.renderSession(&m.sessions[i], m.focus == paneSessions && i == m.cursor[paneSessions]))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.section("History", paneHistory))
	b.WriteString("\n\n")
	if len(m.history) == 0 {
		b.WriteString(dimStyle.Render("  empty"))
		b.WriteString("\n")
	}
	for i, e := range m.history {
		if i == historyRows {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  … %d more", len(m.history)-historyRows)))
			b.WriteString("\n")
			break
		}
		b.WriteString(renderHistoryRow(e, m.focus == paneHistory && i == m.cursor[paneHistory]))
		b.WriteString("\n")
	}

	if m.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(fmt.Sprintf("✗ %v", m.err)))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderHelp())
	return b.String()
}

func (m *Model) section(name string, p pane) string {
	if m.focus == p {
		return sectionStyle.Render(name)
	}
	return sectionDimStyle.Render(name)
}

func (m *Model) renderSession(s *session.Snapshot, cursor bool) string {
	var b strings.Builder

	if cursor {
		b.WriteString(cursorStyle.Render("▸ "))
	} else {
		b.WriteString("  ")
	}
	if s.Status.Active() {
		b.WriteString(spinnerStyle.Render(spinner[m.frame%len(spinner)]))
		b.WriteString(" ")
	}
	b.WriteString(statusBadge(s.Status))
	b.WriteString(" ")
	b.WriteString(normalStyle.Render(truncate(s.Title, 40)))
	b.WriteString(dimStyle.Render(" • " + s.Quality))
	b.WriteString("\n")

	for _, t := range models.StreamTypes {
		st := s.Video
		if t == models.StreamAudio {
			st = s.Audio
		}
		b.WriteString("    ")
		b.WriteString(streamBadge(t))
		b.WriteString(" ")
		b.WriteString(m.bar.ViewAs(float64(st.Progress) / 100))
		b.WriteString(statValueStyle.Render(fmt.Sprintf(" %3d%%", st.Progress)))
		b.WriteString(dimStyle.Render(fmt.Sprintf(" (%d/%d) %s", st.Completed, st.Total, humanize.Bytes(uint64(max(st.Bytes, 0))))))
		b.WriteString("\n")
	}

	b.WriteString("    ")
	b.WriteString(statLabelStyle.Render("overall: ") + statValueStyle.Render(fmt.Sprintf("%.1f%%", s.OverallProgress)))
	if s.ETA != "" {
		b.WriteString(statLabelStyle.Render("  eta: ") + statValueStyle.Render(s.ETA))
	}
	if s.Error != "" {
		style := dimStyle
		if s.Status == models.StatusError {
			style = errorStyle
		}
		b.WriteString("  " + style.Render(s.Error))
	}
	return b.String()
}

func renderHistoryRow(e history.Entry, cursor bool) string {
	var b strings.Builder
	if cursor {
		b.WriteString(cursorStyle.Render("▸ "))
	} else {
		b.WriteString("  ")
	}
	b.WriteString(statusBadge(e.Status))
	b.WriteString(" ")
	b.WriteString(normalStyle.Render(truncate(e.Title, 32)))
	b.WriteString(dimStyle.Render(" • " + e.FolderPath + " • " + humanize.Time(e.Time())))
	return b.String()
}

func (m *Model) renderHelp() string {
	return helpStyle.Render(
		keyHelpStyle.Render("tab") + " switch  " +
			keyHelpStyle.Render("↑/↓") + " navigate  " +
			keyHelpStyle.Render("c") + " cancel  " +
			keyHelpStyle.Render("d") + " delete  " +
			keyHelpStyle.Render("q") + " quit",
	)
}

func listenSnapshots(ch <-chan []session.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snaps, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotsMsg(snaps)
	}
}

func listenHistory(ch <-chan []history.Entry) tea.Cmd {
	return func() tea.Msg {
		entries, ok := <-ch
		if !ok {
			return nil
		}
		return historyMsg(entries)
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Helpers

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
