// Package filename builds deterministic destination object names for recording files
package filename

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// SanitizerOptions contains configuration options for the sanitizer
type SanitizerOptions struct {
	// MaxTopicLength sets the maximum length for a sanitized topic (default: 100)
	MaxTopicLength int

	// DefaultTopic is used when the topic is empty or only contains invalid characters (default: "untitled")
	DefaultTopic string
}

// Sanitizer turns free-form meeting data into object-key safe segments
type Sanitizer struct {
	maxTopicLength int
	defaultTopic   string

	dashes    *regexp.Regexp
	unsafeKey *regexp.Regexp
}

// NewSanitizer creates a Sanitizer with the given options
func NewSanitizer(options SanitizerOptions) *Sanitizer {
	maxLength := options.MaxTopicLength
	if maxLength <= 0 {
		maxLength = 100
	}

	defaultTopic := options.DefaultTopic
	if defaultTopic == "" {
		defaultTopic = "untitled"
	}

	return &Sanitizer{
		maxTopicLength: maxLength,
		defaultTopic:   defaultTopic,
		dashes:         regexp.MustCompile(`-+`),
		unsafeKey:      regexp.MustCompile(`[^A-Za-z0-9._=-]`),
	}
}

// SanitizeTopic converts a meeting topic to a lowercase dash-separated slug
func (s *Sanitizer) SanitizeTopic(topic string) string {
	folded := foldUnicode(topic)

	var b strings.Builder
	for _, r := range folded {
		if r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune('-')
		}
	}

	slug := strings.Trim(s.dashes.ReplaceAllString(b.String(), "-"), "-")
	if slug == "" {
		return s.defaultTopic
	}

	if len(slug) > s.maxTopicLength {
		truncated := slug[:s.maxTopicLength]
		// cut at a word boundary when one is near the end
		if lastDash := strings.LastIndex(truncated, "-"); lastDash > s.maxTopicLength*2/3 {
			truncated = truncated[:lastDash]
		}
		slug = strings.TrimRight(truncated, "-")
	}

	return slug
}

// SanitizeSegment replaces anything outside [A-Za-z0-9._=-] with a dash
func (s *Sanitizer) SanitizeSegment(segment string) string {
	cleaned := strings.Trim(s.dashes.ReplaceAllString(s.unsafeKey.ReplaceAllString(segment, "-"), "-"), "-")
	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "unknown"
	}
	return cleaned
}

// foldUnicode strips diacritics so "Café" becomes "Cafe"
func foldUnicode(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

// Extension returns the lowercase extension (without dot) for a recording file.
// The provider's file_extension wins; otherwise it is derived from the file type.
func Extension(fileType, fileExtension string) string {
	if ext := strings.Trim(strings.ToLower(fileExtension), ". "); ext != "" {
		return ext
	}

	switch strings.ToUpper(fileType) {
	case "MP4":
		return "mp4"
	case "M4A":
		return "m4a"
	case "TRANSCRIPT", "CC":
		return "vtt"
	case "CHAT", "TXT":
		return "txt"
	case "JSON", "TIMELINE", "SUMMARY":
		return "json"
	case "CSV":
		return "csv"
	default:
		return "bin"
	}
}
