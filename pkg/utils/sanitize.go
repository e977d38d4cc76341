package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode/utf8"
)

// --- Filename Sanitization ---
var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Characters invalid in Windows/Unix filenames
var consecutiveUnderscores = regexp.MustCompile(`_+`)

const maxFilenameLength = 100

// SanitizeFilename cleans a string to be safe for use as a filename component.
// Returns "" when nothing usable is left; callers pick their own fallback.
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_ .")

	if len(sanitized) > maxFilenameLength {
		// Keep the tail so the extension survives truncation, starting on a rune boundary
		cut := len(sanitized) - maxFilenameLength
		for cut < len(sanitized) && !utf8.RuneStart(sanitized[cut]) {
			cut++
		}
		sanitized = sanitized[cut:]
		sanitized = strings.Trim(sanitized, "_ ")
	}
	return sanitized
}

// ShortHash returns the first n hex characters of the SHA-256 of s.
func ShortHash(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	h := hex.EncodeToString(sum[:])
	if n <= 0 || n > len(h) {
		return h
	}
	return h[:n]
}
