package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohaanymo/lmsdl/internal/events"
	"github.com/mohaanymo/lmsdl/internal/models"
)

// fakePlaylists serves a fixed set of segments per playlist URL.
type fakePlaylists struct {
	selection models.Selection
	masterErr error
	media     map[string][]models.Segment
}

func (f *fakePlaylists) Master(ctx context.Context, url string) (models.Selection, error) {
	return f.selection, f.masterErr
}

func (f *fakePlaylists) Media(ctx context.Context, url string) ([]models.Segment, error) {
	segs, ok := f.media[url]
	if !ok {
		return nil, fmt.Errorf("HTTP 404")
	}
	return segs, nil
}

func makeSegments(prefix string, n int) []models.Segment {
	segs := make([]models.Segment, n)
	for i := range segs {
		segs[i] = models.Segment{Index: i, URL: fmt.Sprintf("%s/%d", prefix, i)}
	}
	return segs
}

// fakeFetcher returns "<url>|" after a delay that shrinks with the index, so
// later segments of a batch finish first.
type fakeFetcher struct {
	fail     map[string]error
	block    bool
	inflight atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
	started  chan struct{}
	once     sync.Once
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}

	if f.block {
		<-ctx.Done()
		return nil, ErrCancelled
	}
	if err, ok := f.fail[url]; ok {
		return nil, err
	}

	var idx int
	fmt.Sscanf(url[strings.LastIndex(url, "/")+1:], "%d", &idx)
	select {
	case <-time.After(time.Duration(10-idx%10) * time.Millisecond):
	case <-ctx.Done():
		return nil, ErrCancelled
	}
	return []byte(url + "|"), nil
}

func newTestStreamDownloader(pl PlaylistSource, f SegmentFetcher, rec *recorder) *StreamDownloader {
	rep := NewReporter(rec, ReportPolicy{Interval: time.Hour, Every: 5}, nil)
	return NewStreamDownloader(pl, f, rec, rep, zerolog.Nop())
}

func TestStreamReassemblesInOrdinalOrder(t *testing.T) {
	pl := &fakePlaylists{media: map[string][]models.Segment{"v": makeSegments("v", 23)}}
	f := &fakeFetcher{}
	rec := &recorder{}
	d := newTestStreamDownloader(pl, f, rec)

	blob, err := d.Download(context.Background(), StreamRequest{
		SessionID:   "s1",
		Stream:      models.StreamVideo,
		PlaylistURL: "v",
		Concurrency: 4,
	})
	require.NoError(t, err)

	var want strings.Builder
	for i := 0; i < 23; i++ {
		fmt.Fprintf(&want, "v/%d|", i)
	}
	assert.Equal(t, want.String(), string(blob))
	assert.LessOrEqual(t, f.peak.Load(), int32(4))
	assert.EqualValues(t, 23, f.calls.Load())

	kinds := rec.kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, events.KindSegmentCountKnown, kinds[0])

	progress := rec.progress(models.StreamVideo)
	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, 23, last.Completed)
	assert.Equal(t, 23, last.Total)
	assert.EqualValues(t, len(blob), last.Bytes)
	for i := 1; i < len(progress); i++ {
		assert.Greater(t, progress[i].Completed, progress[i-1].Completed)
	}
}

func TestStreamNoSegments(t *testing.T) {
	pl := &fakePlaylists{media: map[string][]models.Segment{"a": nil}}
	d := newTestStreamDownloader(pl, &fakeFetcher{}, &recorder{})

	_, err := d.Download(context.Background(), StreamRequest{Stream: models.StreamAudio, PlaylistURL: "a", Concurrency: 2})
	assert.ErrorIs(t, err, ErrNoSegmentsFound)
}

func TestStreamFailsOnExhaustedSegment(t *testing.T) {
	pl := &fakePlaylists{media: map[string][]models.Segment{"v": makeSegments("v", 8)}}
	f := &fakeFetcher{fail: map[string]error{
		"v/5": &RetriesExhaustedError{URL: "v/5", Attempts: 4, Last: &TransientFetchError{URL: "v/5", StatusCode: 500}},
	}}
	d := newTestStreamDownloader(pl, f, &recorder{})

	blob, err := d.Download(context.Background(), StreamRequest{Stream: models.StreamVideo, PlaylistURL: "v", Concurrency: 3})
	assert.Nil(t, blob)

	var exhausted *RetriesExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "v/5", exhausted.URL)
	assert.LessOrEqual(t, f.calls.Load(), int32(6), "batch after the failure must not start")
}

func TestStreamCancelledBeforeBatch(t *testing.T) {
	pl := &fakePlaylists{media: map[string][]models.Segment{"v": makeSegments("v", 4)}}
	f := &fakeFetcher{}
	d := newTestStreamDownloader(pl, f, &recorder{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Download(ctx, StreamRequest{Stream: models.StreamVideo, PlaylistURL: "v", Concurrency: 2})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, f.calls.Load())
}

func TestStreamCancelledMidBatch(t *testing.T) {
	pl := &fakePlaylists{media: map[string][]models.Segment{"v": makeSegments("v", 10)}}
	f := &fakeFetcher{block: true, started: make(chan struct{})}
	d := newTestStreamDownloader(pl, f, &recorder{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-f.started
		cancel()
	}()

	_, err := d.Download(ctx, StreamRequest{Stream: models.StreamVideo, PlaylistURL: "v", Concurrency: 5})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.LessOrEqual(t, f.calls.Load(), int32(5))
}
