package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mohaanymo/lmsdl/internal/events"
	"github.com/mohaanymo/lmsdl/internal/models"
)

// StreamRequest describes one stream download of a session.
type StreamRequest struct {
	SessionID   string
	Stream      models.StreamType
	PlaylistURL string
	Concurrency int
}

// StreamDownloader fetches a media playlist's segments in ordered batches
// and reassembles them.
type StreamDownloader struct {
	playlists PlaylistSource
	fetcher   SegmentFetcher
	sink      events.Sink
	reporter  *Reporter
	log       zerolog.Logger
}

// NewStreamDownloader creates a StreamDownloader.
func NewStreamDownloader(playlists PlaylistSource, fetcher SegmentFetcher, sink events.Sink, reporter *Reporter, log zerolog.Logger) *StreamDownloader {
	return &StreamDownloader{
		playlists: playlists,
		fetcher:   fetcher,
		sink:      sink,
		reporter:  reporter,
		log:       log.With().Str("component", "stream").Logger(),
	}
}

// Download runs req to completion and returns the segments concatenated in
// playlist order. Any failed segment fails the whole stream.
func (d *StreamDownloader) Download(ctx context.Context, req StreamRequest) ([]byte, error) {
	width := req.Concurrency
	if width < 1 {
		width = 1
	}

	segments, err := d.playlists.Media(ctx, req.PlaylistURL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, fmt.Errorf("%s playlist: %w", req.Stream, err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%s: %w", req.Stream, ErrNoSegmentsFound)
	}

	total := len(segments)
	if err := d.sink.Emit(ctx, events.SegmentCountKnown{
		SessionID: req.SessionID,
		Stream:    req.Stream,
		Total:     total,
	}); err != nil && ctx.Err() != nil {
		return nil, ErrCancelled
	}

	log := d.log.With().Str("session", req.SessionID).Str("stream", req.Stream.String()).Logger()
	log.Debug().Int("segments", total).Int("width", width).Msg("starting stream")

	blobs := make([][]byte, total)
	var (
		mu        sync.Mutex
		completed int
		size      int64
	)

	for start := 0; start < total; start += width {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}

		end := min(start+width, total)
		g, gctx := errgroup.WithContext(ctx)

		for _, seg := range segments[start:end] {
			g.Go(func() error {
				data, err := d.fetcher.Fetch(gctx, seg.URL)
				if err != nil {
					return err
				}
				blobs[seg.Index] = data

				mu.Lock()
				defer mu.Unlock()
				completed++
				size += int64(len(data))
				d.reporter.MaybeReport(ctx, req.SessionID, req.Stream, completed, total, size, false)
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrCancelled) {
				return nil, ErrCancelled
			}
			return nil, fmt.Errorf("%s segment: %w", req.Stream, err)
		}
	}

	var buf bytes.Buffer
	buf.Grow(int(size))
	for _, b := range blobs {
		buf.Write(b)
	}

	log.Debug().Int64("bytes", size).Msg("stream reassembled")
	return buf.Bytes(), nil
}
