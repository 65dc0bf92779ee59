package parser

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohaanymo/lmsdl/internal/models"
)

// ErrNoStreams is returned by Master when the playlist selects neither a
// video nor an audio stream.
var ErrNoStreams = errors.New("playlist declares no video or audio stream")

// HLSParser fetches and parses HLS playlists.
type HLSParser struct {
	client  *http.Client
	headers map[string]string
}

// NewHLSParser creates a parser that fetches playlists with client.
func NewHLSParser(client *http.Client, headers map[string]string) *HLSParser {
	if client == nil {
		client = http.DefaultClient
	}
	return &HLSParser{client: client, headers: headers}
}

// Master fetches the playlist at rawURL and selects its video and audio streams.
// A media playlist given directly is treated as a video-only selection.
func (p *HLSParser) Master(ctx context.Context, rawURL string) (models.Selection, error) {
	content, err := p.Fetch(ctx, rawURL)
	if err != nil {
		return models.Selection{}, fmt.Errorf("fetch master playlist: %w", err)
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return models.Selection{}, fmt.Errorf("parse playlist url: %w", err)
	}

	sel := ParseMaster(content, base)
	if sel.VideoURL == "" && sel.AudioURL == "" {
		if strings.Contains(content, "#EXTINF") {
			return models.Selection{VideoURL: rawURL, Quality: models.QualityUnknown}, nil
		}
		return sel, ErrNoStreams
	}
	return sel, nil
}

// Media fetches the media playlist at rawURL and returns its segments.
func (p *HLSParser) Media(ctx context.Context, rawURL string) ([]models.Segment, error) {
	content, err := p.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch media playlist: %w", err)
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse playlist url: %w", err)
	}
	return ParseMedia(content, base), nil
}

// ParseMaster selects the highest-bandwidth variant as the video stream and
// the last audio rendition with a URI as the audio stream. Variants with a
// missing or malformed BANDWIDTH are skipped.
func ParseMaster(content string, base *url.URL) models.Selection {
	var (
		sel     models.Selection
		best    int64
		pending *models.Variant
	)

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF:"):
			pending = nil
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-STREAM-INF:"))
			bw, err := strconv.ParseInt(attrs["BANDWIDTH"], 10, 64)
			if err != nil || bw <= 0 {
				continue
			}
			v := &models.Variant{Bandwidth: bw}
			if res, ok := models.ParseResolution(attrs["RESOLUTION"]); ok {
				v.Resolution = res
			}
			pending = v

		case strings.HasPrefix(line, "#EXT-X-MEDIA:"):
			attrs := parseAttributes(strings.TrimPrefix(line, "#EXT-X-MEDIA:"))
			if strings.ToUpper(attrs["TYPE"]) != "AUDIO" {
				continue
			}
			uri := unquote(attrs["URI"])
			if uri == "" {
				continue
			}
			if resolved, ok := resolveURL(base, uri); ok {
				sel.AudioURL = resolved
			}

		case line == "" || strings.HasPrefix(line, "#"):

		case pending != nil:
			resolved, ok := resolveURL(base, line)
			if ok && pending.Bandwidth > best {
				best = pending.Bandwidth
				sel.VideoURL = resolved
				sel.Quality = pending.Resolution.String()
			}
			pending = nil
		}
	}

	return sel
}

// ParseMedia returns every non-comment, non-blank line as a segment, in file
// order, resolved against base.
func ParseMedia(content string, base *url.URL) []models.Segment {
	var segments []models.Segment

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		resolved, ok := resolveURL(base, line)
		if !ok {
			continue
		}
		segments = append(segments, models.Segment{
			Index: len(segments),
			URL:   resolved,
		})
	}

	return segments
}

// Fetch downloads a playlist body.
func (p *HLSParser) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}

	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	return string(body), err
}
