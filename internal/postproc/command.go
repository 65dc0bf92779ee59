// Package postproc builds the shell command that merges a session's video and
// audio files into the destination folder.
package postproc

import (
	"fmt"
	"strings"

	"github.com/mohaanymo/lmsdl/internal/models"
)

// Inputs names the files a merge command refers to.
type Inputs struct {
	Title  string
	Folder models.Folder
	Video  string
	Audio  string
}

// NewInputs derives the default file names for title and folder.
func NewInputs(title string, folder models.Folder, ext string) Inputs {
	prefix := models.GenerateFilePrefix(folder)
	return Inputs{
		Title:  title,
		Folder: folder,
		Video:  models.BuildFilename(prefix, title, models.StreamVideo, ext),
		Audio:  models.BuildFilename(prefix, title, models.StreamAudio, ext),
	}
}

// Command returns the merge command. With only one input the stream is
// remuxed into the destination on its own. It returns "" when neither file exists.
func Command(in Inputs) string {
	folderPath := models.GeneratePath(in.Folder)
	output := fmt.Sprintf("%s/%s.mp4", folderPath, models.Sanitize(in.Title))

	var b strings.Builder
	b.WriteString("# Create folder structure\n")
	fmt.Fprintf(&b, "mkdir -p %q\n\n", folderPath)

	switch {
	case in.Video != "" && in.Audio != "":
		b.WriteString("# Merge video and audio\n")
		fmt.Fprintf(&b, "ffmpeg -i %q -i %q -c copy %q\n", in.Video, in.Audio, output)
		b.WriteString("\n# Optional: Clean up segment files\n")
		fmt.Fprintf(&b, "# rm %q %q", in.Video, in.Audio)
	case in.Video != "" || in.Audio != "":
		src := in.Video
		if src == "" {
			src = in.Audio
		}
		b.WriteString("# Remux single stream\n")
		fmt.Fprintf(&b, "ffmpeg -i %q -c copy %q\n", src, output)
		b.WriteString("\n# Optional: Clean up segment files\n")
		fmt.Fprintf(&b, "# rm %q", src)
	default:
		return ""
	}
	return b.String()
}
