// Package parser turns HLS master and media playlists into stream
// selections and ordered segment lists.
package parser

import (
	"net/url"
	"regexp"
	"strings"
)

var attrPattern = regexp.MustCompile(`([A-Z0-9-]+)=("[^"]*"|[^,]*)`)

// resolveURL resolves a relative URI against base. ok is false when the URI
// cannot be parsed.
func resolveURL(base *url.URL, relative string) (string, bool) {
	if strings.HasPrefix(relative, "http://") || strings.HasPrefix(relative, "https://") {
		if _, err := url.Parse(relative); err != nil {
			return "", false
		}
		return relative, true
	}
	rel, err := url.Parse(relative)
	if err != nil {
		return "", false
	}
	if base == nil {
		return rel.String(), true
	}
	return base.ResolveReference(rel).String(), true
}

// parseAttributes parses an HLS attribute list. Quoted values keep their quotes.
func parseAttributes(s string) map[string]string {
	attrs := make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(s, -1) {
		if len(m) >= 3 {
			attrs[m[1]] = m[2]
		}
	}
	return attrs
}

func unquote(s string) string {
	return strings.Trim(s, "\"")
}
