package output

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectContainerTS(t *testing.T) {
	data := make([]byte, 188*2)
	data[0] = tsSyncByte
	data[188] = tsSyncByte
	assert.Equal(t, FormatTS, DetectContainer(data))
}

func TestDetectContainerFragmentedMP4(t *testing.T) {
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(90000, "video", "und")

	var buf bytes.Buffer
	require.NoError(t, init.Encode(&buf))

	assert.Equal(t, FormatMP4, DetectContainer(buf.Bytes()))
}

func TestDetectContainerUnknown(t *testing.T) {
	assert.Equal(t, FormatTS, DetectContainer([]byte("not media")))
	assert.Equal(t, FormatTS, DetectContainer(nil))
}

func TestWriterSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w, err := NewWriter(dir)
	require.NoError(t, err)

	path, err := w.Save("a_video.ts", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a_video.ts"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	_, err = os.Stat(path + ".part")
	assert.True(t, os.IsNotExist(err))
}
