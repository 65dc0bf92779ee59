package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohaanymo/lmsdl/internal/models"
)

func mustURL(t *testing.T, s string) *url.URL {
	t.Helper()
	u, err := url.Parse(s)
	require.NoError(t, err)
	return u
}

func TestParseMasterSelectsHighestBandwidth(t *testing.T) {
	content := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=500000,RESOLUTION=640x360
low/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1200000,RESOLUTION=1280x720
high/index.m3u8
`
	sel := ParseMaster(content, mustURL(t, "https://cdn.example.com/v/master.m3u8"))

	assert.Equal(t, "https://cdn.example.com/v/high/index.m3u8", sel.VideoURL)
	assert.Equal(t, "1280x720", sel.Quality)
	assert.Empty(t, sel.AudioURL)
}

func TestParseMasterAudioAndAbsoluteURIs(t *testing.T) {
	content := `#EXTM3U
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aud",NAME="en",URI="audio/en.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="sub",NAME="en",URI="subs/en.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=900000,AUDIO="aud"
https://other.example.com/video.m3u8
`
	sel := ParseMaster(content, mustURL(t, "https://cdn.example.com/v/master.m3u8"))

	assert.Equal(t, "https://other.example.com/video.m3u8", sel.VideoURL)
	assert.Equal(t, "https://cdn.example.com/v/audio/en.m3u8", sel.AudioURL)
	assert.Equal(t, models.QualityUnknown, sel.Quality)
}

func TestParseMasterSkipsMalformedBandwidth(t *testing.T) {
	content := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=abc
bad.m3u8
#EXT-X-STREAM-INF:RESOLUTION=1920x1080
nobw.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=100
good.m3u8
`
	sel := ParseMaster(content, mustURL(t, "https://h/p/m.m3u8"))
	assert.Equal(t, "https://h/p/good.m3u8", sel.VideoURL)
}

func TestParseMasterEmpty(t *testing.T) {
	sel := ParseMaster("#EXTM3U\n", mustURL(t, "https://h/m.m3u8"))
	assert.Equal(t, models.Selection{}, sel)
}

func TestParseMediaPreservesOrder(t *testing.T) {
	content := `#EXTM3U
#EXT-X-TARGETDURATION:6
#EXTINF:6.0,
seg0.ts

#EXTINF:6.0,
https://abs.example.com/seg1.ts
#EXTINF:6.0,
sub/seg2.ts
#EXT-X-ENDLIST
`
	segs := ParseMedia(content, mustURL(t, "https://h/a/media.m3u8"))

	require.Len(t, segs, 3)
	assert.Equal(t, models.Segment{Index: 0, URL: "https://h/a/seg0.ts"}, segs[0])
	assert.Equal(t, models.Segment{Index: 1, URL: "https://abs.example.com/seg1.ts"}, segs[1])
	assert.Equal(t, models.Segment{Index: 2, URL: "https://h/a/sub/seg2.ts"}, segs[2])
}

func TestHLSParserMasterFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "lmsdl-test", r.Header.Get("User-Agent"))
		w.Write([]byte("#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=10\nv.m3u8\n"))
	})
	mux.HandleFunc("/media.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXTINF:4,\na.ts\n"))
	})
	mux.HandleFunc("/missing.m3u8", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewHLSParser(srv.Client(), map[string]string{"User-Agent": "lmsdl-test"})
	ctx := context.Background()

	sel, err := p.Master(ctx, srv.URL+"/master.m3u8")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/v.m3u8", sel.VideoURL)

	sel, err = p.Master(ctx, srv.URL+"/media.m3u8")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/media.m3u8", sel.VideoURL)

	_, err = p.Master(ctx, srv.URL+"/missing.m3u8")
	assert.Error(t, err)
}
