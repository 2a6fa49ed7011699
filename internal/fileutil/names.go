package fileutil

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// SafeFileName normalizes a user-supplied filename to NFC and strips every
// rune outside letters, digits, space, dot, dash, and underscore. The result
// is never empty.
func SafeFileName(name string) string {
	normalized := norm.NFC.String(name)
	var b strings.Builder
	b.Grow(len(normalized))
	for _, r := range normalized {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		}
	}
	cleaned := strings.TrimSpace(b.String())
	if cleaned == "" {
		return "file"
	}
	return cleaned
}

// UploadName builds the on-disk name for an uploaded source file.
func UploadName(jobID, filename string) string {
	return jobID + "__" + SafeFileName(filename)
}

// ResultName builds the timestamped name for a final encoded artifact:
// enhanced_<stem>_<YYYYMMDD_HHMMSS>.mp4.
func ResultName(originalFilename string, now time.Time) string {
	base := SafeFileName(originalFilename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "video"
	}
	return "enhanced_" + stem + "_" + now.UTC().Format("20060102_150405") + ".mp4"
}
