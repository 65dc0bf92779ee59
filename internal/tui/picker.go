package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/mohaanymo/lmsdl/internal/history"
)

// PickerResult is returned when history selection is complete.
type PickerResult struct {
	Entry    history.Entry
	Canceled bool
}

// HistoryPicker lets the user choose one history entry.
type HistoryPicker struct {
	entries      []history.Entry
	cursor       int
	scrollOffset int
	visibleRows  int
	width        int
	height       int
	canceled     bool
}

// NewHistoryPicker creates a picker over entries, newest first.
func NewHistoryPicker(entries []history.Entry) *HistoryPicker {
	return &HistoryPicker{
		entries:     entries,
		width:       80,
		height:      24,
		visibleRows: 10,
	}
}

func (hp *HistoryPicker) Init() tea.Cmd {
	return nil
}

func (hp *HistoryPicker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			hp.canceled = true
			return hp, tea.Quit

		case "enter":
			if len(hp.entries) == 0 {
				hp.canceled = true
			}
			return hp, tea.Quit

		case "up", "k":
			if hp.cursor > 0 {
				hp.cursor--
				hp.adjustScroll()
			}

		case "down", "j":
			if hp.cursor < len(hp.entries)-1 {
				hp.cursor++
				hp.adjustScroll()
			}
		}

	case tea.WindowSizeMsg:
		hp.width = msg.Width
		hp.height = msg.Height
	}

	return hp, nil
}

func (hp *HistoryPicker) adjustScroll() {
	if hp.cursor < hp.scrollOffset {
		hp.scrollOffset = hp.cursor
	}
	if hp.cursor >= hp.scrollOffset+hp.visibleRows {
		hp.scrollOffset = hp.cursor - hp.visibleRows + 1
	}
}

func (hp *HistoryPicker) View() string {
	w := clamp(hp.width-4, 60, 100)

	var b strings.Builder

	title := titleStyle.Render("⚡ lmsdl")
	subtitle := dimStyle.Render(" - Select Recording")
	b.WriteString(headerStyle.Width(w - 6).Render(title + subtitle))
	b.WriteString("\n\n")

	if len(hp.entries) == 0 {
		b.WriteString(dimStyle.Render("  history is empty"))
		b.WriteString("\n\n")
	}

	if hp.scrollOffset > 0 {
		b.WriteString(dimStyle.Render("  ↑ more above"))
		b.WriteString("\n")
	}
	end := min(hp.scrollOffset+hp.visibleRows, len(hp.entries))
	for i := hp.scrollOffset; i < end; i++ {
		b.WriteString(hp.renderRow(hp.entries[i], i == hp.cursor))
		b.WriteString("\n")
	}
	if end < len(hp.entries) {
		b.WriteString(dimStyle.Render("  ↓ more below"))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if len(hp.entries) > 0 {
		e := hp.entries[hp.cursor]
		b.WriteString(statLabelStyle.Render("folder: ") + normalStyle.Render(e.FolderPath))
		b.WriteString("\n")
		if e.Error != "" {
			b.WriteString(errorStyle.Render(e.Error))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render(
		keyHelpStyle.Render("↑/↓") + " navigate  " +
			keyHelpStyle.Render("enter") + " confirm  " +
			keyHelpStyle.Render("q") + " cancel",
	))

	return contentStyle.Width(w).Render(b.String())
}

func (hp *HistoryPicker) renderRow(e history.Entry, cursor bool) string {
	var b strings.Builder

	if cursor {
		b.WriteString(cursorStyle.Render("▸ "))
	} else {
		b.WriteString("  ")
	}
	b.WriteString(statusBadge(e.Status))
	b.WriteString(" ")
	b.WriteString(normalStyle.Render(fmt.Sprintf("%-32s", truncate(e.Title, 32))))
	b.WriteString(dimStyle.Render(" • " + e.Quality))
	b.WriteString(dimStyle.Render(" • " + humanize.Time(e.Time())))
	return b.String()
}

// Result returns the chosen entry.
func (hp *HistoryPicker) Result() PickerResult {
	if hp.canceled || len(hp.entries) == 0 {
		return PickerResult{Canceled: true}
	}
	return PickerResult{Entry: hp.entries[hp.cursor]}
}
