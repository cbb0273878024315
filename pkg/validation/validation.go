package validation

import (
	"regexp"
	"strings"
)

const (
	// MaxTagLength bounds a single tag after trimming.
	MaxTagLength = 64
	// MaxTags bounds the tag list of one document.
	MaxTags = 50
)

var (
	fieldSegmentRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	allowedImageTypes = map[string]bool{
		"image/jpeg": true,
		"image/png":  true,
		"image/gif":  true,
		"image/webp": true,
	}
)

// SanitizeString removes potentially harmful characters
func SanitizeString(input string) string {
	// Basic sanitization
	input = strings.TrimSpace(input)
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}

// NormalizeTags trims every tag, drops empty ones and duplicates, and keeps
// the first-seen order. Overlong tags are truncated and the list is capped.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = SanitizeString(tag)
		if r := []rune(tag); len(r) > MaxTagLength {
			tag = strings.TrimSpace(string(r[:MaxTagLength]))
		}
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}

// SplitTags parses a comma separated form value into tags.
func SplitTags(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return NormalizeTags(strings.Split(raw, ","))
}

// ValidateFieldPath checks a dotted filter path such as camera.model.
func ValidateFieldPath(path string) bool {
	if path == "" || len(path) > 256 {
		return false
	}
	for _, seg := range strings.Split(path, ".") {
		if !fieldSegmentRegex.MatchString(seg) {
			return false
		}
	}
	return true
}

// ValidateImageContentType reports whether mimeType is an accepted upload type.
func ValidateImageContentType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return allowedImageTypes[mimeType]
}
