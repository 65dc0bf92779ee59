package models

import (
	"strings"
)

// RootFolder is the top-level directory every destination path starts with.
const RootFolder = "LMS"

// Folder describes where a session's output should land. It is captured once
// when the session starts and echoed into its history entry.
type Folder struct {
	Semester          string   `json:"semester" yaml:"semester" mapstructure:"semester"`
	Subject           string   `json:"subject" yaml:"subject" mapstructure:"subject"`
	AdditionalFolders []string `json:"additionalFolders" yaml:"additional_folders" mapstructure:"additional_folders"`
}

// Clone returns a deep copy of f.
func (f Folder) Clone() Folder {
	out := f
	if f.AdditionalFolders != nil {
		out.AdditionalFolders = make([]string, len(f.AdditionalFolders))
		copy(out.AdditionalFolders, f.AdditionalFolders)
	}
	return out
}

func (f Folder) parts() []string {
	parts := make([]string, 0, 2+len(f.AdditionalFolders))
	if f.Semester != "" {
		parts = append(parts, f.Semester)
	}
	if f.Subject != "" {
		parts = append(parts, f.Subject)
	}
	for _, name := range f.AdditionalFolders {
		if name != "" {
			parts = append(parts, name)
		}
	}
	return parts
}

// GeneratePath derives the destination directory for f, e.g.
// {Semester: "Sem 1!", AdditionalFolders: ["Week 1"]} => "LMS/sem_1_/week_1".
func GeneratePath(f Folder) string {
	var b strings.Builder
	b.WriteString(RootFolder)
	for _, p := range f.parts() {
		b.WriteByte('/')
		b.WriteString(Sanitize(p))
	}
	return b.String()
}

// GenerateFilePrefix derives the filename prefix for f. Every non-empty part
// is sanitized and followed by "_".
func GenerateFilePrefix(f Folder) string {
	var b strings.Builder
	for _, p := range f.parts() {
		b.WriteString(Sanitize(p))
		b.WriteByte('_')
	}
	return b.String()
}

// Sanitize lower-cases name and replaces every character outside [a-z0-9]
// with "_".
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// BuildFilename returns "<prefix><sanitized title>_<stream>.<ext>".
func BuildFilename(prefix, title string, stream StreamType, ext string) string {
	return prefix + Sanitize(title) + "_" + stream.String() + "." + ext
}
