package util

import (
	"net/url"
	"path/filepath"
	"strings"
)

// EscapeFileName escapes each part of the input path and makes it suitable to be used in a filename.
// The returned path is cleaned (which means it is separated using filepath.Separator, regardless of
// if the input path used slashes or filepath.Separator).
func EscapeFileName(path string) string {
	var (
		encoded string
		parts   = strings.Split(filepath.Clean(path), string(filepath.Separator))
	)
	for _, part := range parts {
		enc := url.QueryEscape(part)
		if encoded == "" {
			encoded = enc
		} else {
			encoded = filepath.Join(encoded, enc)
		}
	}
	return encoded
}
