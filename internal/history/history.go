// Package history keeps the bounded, newest-first log of finished sessions
// and persists it through a Store.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohaanymo/lmsdl/internal/models"
)

// DefaultCapacity is the number of entries kept.
const DefaultCapacity = 50

// ErrEntryNotFound is returned when no entry has the requested timestamp.
var ErrEntryNotFound = errors.New("history entry not found")

// Entry is an immutable record of a session that reached a terminal status.
// Timestamp is the session's end time in Unix milliseconds and identifies the entry.
type Entry struct {
	Timestamp          int64         `json:"timestamp"`
	Title              string        `json:"filename"`
	Semester           string        `json:"semester"`
	Subject            string        `json:"subject"`
	AdditionalFolders  []string      `json:"additionalFolders"`
	Quality            string        `json:"quality"`
	PostProcessCommand string        `json:"ffmpegCommand,omitempty"`
	Status             models.Status `json:"status"`
	Error              string        `json:"error,omitempty"`
	FolderPath         string        `json:"folderPath"`
	FilePrefix         string        `json:"filePrefix"`
}

// NewEntry builds an entry for a session that ended at end.
func NewEntry(end time.Time, title, quality string, folder models.Folder, status models.Status, command, errMsg string) Entry {
	folder = folder.Clone()
	if folder.AdditionalFolders == nil {
		folder.AdditionalFolders = []string{}
	}
	return Entry{
		Timestamp:          end.UnixMilli(),
		Title:              title,
		Semester:           folder.Semester,
		Subject:            folder.Subject,
		AdditionalFolders:  folder.AdditionalFolders,
		Quality:            quality,
		PostProcessCommand: command,
		Status:             status,
		Error:              errMsg,
		FolderPath:         models.GeneratePath(folder),
		FilePrefix:         models.GenerateFilePrefix(folder),
	}
}

// Folder returns the destination descriptor recorded in e.
func (e Entry) Folder() models.Folder {
	return models.Folder{
		Semester:          e.Semester,
		Subject:           e.Subject,
		AdditionalFolders: append([]string(nil), e.AdditionalFolders...),
	}
}

// Time returns the entry timestamp as a time.Time.
func (e Entry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

func (e Entry) clone() Entry {
	if e.AdditionalFolders != nil {
		folders := make([]string, len(e.AdditionalFolders))
		copy(folders, e.AdditionalFolders)
		e.AdditionalFolders = folders
	}
	return e
}

// Log is the in-memory history, guarded by a single lock and written through
// to its Store on every mutation.
type Log struct {
	mu        sync.Mutex
	entries   []Entry
	capacity  int
	store     Store
	listeners []func([]Entry)
	log       zerolog.Logger
}

// NewLog creates a Log. A nil store keeps history in memory only.
func NewLog(store Store, capacity int, log zerolog.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Log{
		capacity: capacity,
		store:    store,
		log:      log.With().Str("component", "history").Logger(),
	}
}

// Load replaces the in-memory entries with the stored ones.
func (l *Log) Load(ctx context.Context) error {
	entries, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(entries) > l.capacity {
		entries = entries[:l.capacity]
	}

	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()

	l.log.Debug().Int("entries", len(entries)).Msg("history loaded")
	return nil
}

// OnChange registers fn to receive the entries after every mutation. fn is
// called with the log locked and must not block or call back into the log.
func (l *Log) OnChange(fn func([]Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Append adds e as the newest entry, evicting the oldest beyond capacity.
func (l *Log) Append(e Entry) error {
	return l.mutate(func(entries []Entry) ([]Entry, error) {
		out := make([]Entry, 0, min(len(entries)+1, l.capacity))
		out = append(out, e.clone())
		out = append(out, entries...)
		if len(out) > l.capacity {
			out = out[:l.capacity]
		}
		return out, nil
	})
}

// Delete removes the first entry with timestamp ts.
func (l *Log) Delete(ts int64) error {
	return l.mutate(func(entries []Entry) ([]Entry, error) {
		for i, e := range entries {
			if e.Timestamp == ts {
				out := make([]Entry, 0, len(entries)-1)
				out = append(out, entries[:i]...)
				return append(out, entries[i+1:]...), nil
			}
		}
		return nil, ErrEntryNotFound
	})
}

// Clear removes every entry.
func (l *Log) Clear() error {
	return l.mutate(func([]Entry) ([]Entry, error) {
		return []Entry{}, nil
	})
}

// List returns a copy of the entries, newest first.
func (l *Log) List() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneEntries(l.entries)
}

// Find returns the entry with timestamp ts.
func (l *Log) Find(ts int64) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Timestamp == ts {
			return e.clone(), true
		}
	}
	return Entry{}, false
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Log) mutate(fn func([]Entry) ([]Entry, error)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next, err := fn(l.entries)
	if err != nil {
		return err
	}
	l.entries = next

	saveErr := l.store.Save(context.Background(), next)
	if saveErr != nil {
		l.log.Error().Err(saveErr).Msg("persist history")
	}
	for _, fn := range l.listeners {
		fn(cloneEntries(next))
	}
	if saveErr != nil {
		return fmt.Errorf("persist history: %w", saveErr)
	}
	return nil
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = e.clone()
	}
	return out
}
