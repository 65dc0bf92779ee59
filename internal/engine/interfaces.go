package engine

import (
	"context"

	"github.com/mohaanymo/lmsdl/internal/models"
)

// PlaylistSource resolves playlists into stream selections and segments.
type PlaylistSource interface {
	Master(ctx context.Context, url string) (models.Selection, error)
	Media(ctx context.Context, url string) ([]models.Segment, error)
}

// SegmentFetcher downloads one segment.
type SegmentFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// OutputWriter persists a reassembled stream and returns where it was written.
type OutputWriter interface {
	Save(name string, data []byte) (string, error)
}
