package session

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohaanymo/lmsdl/internal/history"
)

// DefaultBroadcastInterval is how often snapshots are polled.
const DefaultBroadcastInterval = time.Second

// SnapshotSource produces the current session snapshots.
type SnapshotSource interface {
	Snapshot() []Snapshot
}

// Broadcaster publishes session snapshots and history changes to subscribers,
// skipping any publication whose JSON encoding equals the previous one.
type Broadcaster struct {
	source   SnapshotSource
	interval time.Duration
	log      zerolog.Logger

	mu          sync.Mutex
	nextID      int
	snapSubs    map[int]chan []Snapshot
	historySubs map[int]chan []history.Entry
	lastSnap    []byte
	lastHistory []byte
}

// NewBroadcaster creates a Broadcaster polling source every interval.
func NewBroadcaster(source SnapshotSource, interval time.Duration, log zerolog.Logger) *Broadcaster {
	if interval <= 0 {
		interval = DefaultBroadcastInterval
	}
	return &Broadcaster{
		source:      source,
		interval:    interval,
		log:         log.With().Str("component", "broadcaster").Logger(),
		snapSubs:    make(map[int]chan []Snapshot),
		historySubs: make(map[int]chan []history.Entry),
	}
}

// Run polls until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.Tick()
		}
	}
}

// Tick publishes the current snapshot if it changed and reports whether it did.
func (b *Broadcaster) Tick() bool {
	snap := b.source.Snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		b.log.Error().Err(err).Msg("encode snapshot")
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastSnap != nil && bytes.Equal(data, b.lastSnap) {
		return false
	}
	b.lastSnap = data
	for _, ch := range b.snapSubs {
		offer(ch, snap)
	}
	return true
}

// PublishHistory publishes entries if they differ from the last publication.
func (b *Broadcaster) PublishHistory(entries []history.Entry) bool {
	data, err := json.Marshal(entries)
	if err != nil {
		b.log.Error().Err(err).Msg("encode history")
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastHistory != nil && bytes.Equal(data, b.lastHistory) {
		return false
	}
	b.lastHistory = data
	for _, ch := range b.historySubs {
		offer(ch, entries)
	}
	return true
}

// Subscribe returns a channel of snapshots and a function that ends the
// subscription. Slow subscribers only see the latest snapshot.
func (b *Broadcaster) Subscribe() (<-chan []Snapshot, func()) {
	ch := make(chan []Snapshot, 1)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.snapSubs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.snapSubs[id]; ok {
			delete(b.snapSubs, id)
			close(ch)
		}
	}
}

// SubscribeHistory returns a channel of history lists and a function that
// ends the subscription.
func (b *Broadcaster) SubscribeHistory() (<-chan []history.Entry, func()) {
	ch := make(chan []history.Entry, 1)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.historySubs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.historySubs[id]; ok {
			delete(b.historySubs, id)
			close(ch)
		}
	}
}

// offer delivers v without blocking, replacing an unread older value.
func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
