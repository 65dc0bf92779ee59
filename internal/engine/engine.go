// Package engine downloads the video and audio streams of an HLS asset and
// reports the session's lifecycle as events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mohaanymo/lmsdl/internal/events"
	"github.com/mohaanymo/lmsdl/internal/models"
	"github.com/mohaanymo/lmsdl/internal/output"
	"github.com/mohaanymo/lmsdl/internal/postproc"
)

// CancelledMessage is the default message recorded for a user cancellation.
const CancelledMessage = "Cancelled by user."

// DefaultConcurrency is the default batch width of each stream.
const DefaultConcurrency = 66

// Request describes one session to download.
type Request struct {
	SessionID        string
	URL              string
	Title            string
	Owner            string
	Folder           models.Folder
	VideoConcurrency int
	AudioConcurrency int
}

// Result is what a finished session produced.
type Result struct {
	Selection models.Selection
	Files     map[models.StreamType]string
	Command   string
}

// Engine drives session downloads.
type Engine struct {
	playlists PlaylistSource
	streams   *StreamDownloader
	reporter  *Reporter
	writer    OutputWriter
	sink      events.Sink
	cancels   *Cancellations
	now       func() time.Time
	log       zerolog.Logger
}

// Options holds the collaborators of an Engine.
type Options struct {
	Playlists PlaylistSource
	Fetcher   SegmentFetcher
	Writer    OutputWriter
	Sink      events.Sink
	Report    ReportPolicy
	Now       func() time.Time
	Logger    zerolog.Logger
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Playlists == nil || opts.Fetcher == nil || opts.Sink == nil {
		return nil, errors.New("engine: playlists, fetcher and sink are required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	reporter := NewReporter(opts.Sink, opts.Report, opts.Now)
	return &Engine{
		playlists: opts.Playlists,
		streams:   NewStreamDownloader(opts.Playlists, opts.Fetcher, opts.Sink, reporter, opts.Logger),
		reporter:  reporter,
		writer:    opts.Writer,
		sink:      opts.Sink,
		cancels:   NewCancellations(),
		now:       opts.Now,
		log:       opts.Logger.With().Str("component", "engine").Logger(),
	}, nil
}

// Cancel signals a running session to stop.
func (e *Engine) Cancel(sessionID string) error {
	return e.cancels.Cancel(sessionID)
}

// Running returns the number of sessions currently downloading.
func (e *Engine) Running() int {
	return e.cancels.Running()
}

// Run downloads req and emits its lifecycle events. It returns once the
// terminal event has been emitted.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	sessCtx, release := e.cancels.Register(ctx, req.SessionID)
	defer release()
	defer e.reporter.Forget(req.SessionID)

	// Terminal events must be delivered even after cancellation.
	emitCtx := context.WithoutCancel(ctx)
	log := e.log.With().Str("session", req.SessionID).Logger()

	sel, parseErr := e.playlists.Master(sessCtx, req.URL)
	quality := sel.Quality
	if quality == "" {
		quality = models.QualityUnknown
	}

	if err := e.sink.Emit(emitCtx, events.Start{
		SessionID: req.SessionID,
		Title:     req.Title,
		Quality:   quality,
		Owner:     req.Owner,
		StartTime: e.now(),
		Folder:    req.Folder.Clone(),
	}); err != nil {
		return nil, fmt.Errorf("emit start: %w", err)
	}

	result := &Result{Selection: sel, Files: make(map[models.StreamType]string)}
	err := parseErr
	if err == nil {
		err = e.download(sessCtx, req, sel, result)
	}
	if err == nil && sessCtx.Err() != nil {
		// Cancelled after the last segment; the session must not complete.
		err = ErrCancelled
	}

	switch {
	case err == nil:
		result.Command = e.command(req, result)
		log.Info().Str("quality", quality).Msg("session completed")
		files := make([]string, 0, len(result.Files))
		for _, t := range models.StreamTypes {
			if p, ok := result.Files[t]; ok {
				files = append(files, p)
			}
		}
		return result, e.sink.Emit(emitCtx, events.Complete{
			SessionID:          req.SessionID,
			PostProcessCommand: result.Command,
			Files:              files,
		})

	case sessCtx.Err() != nil && (errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)):
		log.Info().Msg("session cancelled")
		if emitErr := e.sink.Emit(emitCtx, events.CancelConfirmed{
			SessionID: req.SessionID,
			Message:   CancelledMessage,
		}); emitErr != nil {
			return result, emitErr
		}
		return result, ErrCancelled

	default:
		log.Error().Err(err).Msg("session failed")
		if emitErr := e.sink.Emit(emitCtx, events.Fail{
			SessionID: req.SessionID,
			Message:   err.Error(),
		}); emitErr != nil {
			return result, emitErr
		}
		return result, err
	}
}

// download runs both streams concurrently. The first failure cancels the other stream.
func (e *Engine) download(ctx context.Context, req Request, sel models.Selection, result *Result) error {
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for _, stream := range models.StreamTypes {
		playlist := sel.URL(stream)
		if playlist == "" {
			continue
		}
		width := req.VideoConcurrency
		if stream == models.StreamAudio {
			width = req.AudioConcurrency
		}
		if width <= 0 {
			width = DefaultConcurrency
		}

		g.Go(func() error {
			data, err := e.streams.Download(gctx, StreamRequest{
				SessionID:   req.SessionID,
				Stream:      stream,
				PlaylistURL: playlist,
				Concurrency: width,
			})
			if err != nil {
				return err
			}
			if e.writer == nil {
				return nil
			}

			name := models.BuildFilename(models.GenerateFilePrefix(req.Folder), req.Title, stream, output.DetectContainer(data))
			path, err := e.writer.Save(name, data)
			if err != nil {
				return err
			}

			mu.Lock()
			result.Files[stream] = name
			mu.Unlock()
			e.log.Debug().Str("session", req.SessionID).Str("path", path).Msg("stream saved")
			return nil
		})
	}

	return g.Wait()
}

func (e *Engine) command(req Request, result *Result) string {
	return postproc.Command(postproc.Inputs{
		Title:  req.Title,
		Folder: req.Folder,
		Video:  result.Files[models.StreamVideo],
		Audio:  result.Files[models.StreamAudio],
	})
}
