package tts

import (
	"strings"

	"github.com/samber/lo"
)

const DefaultResponseFormat = "mp3"

// FormatPolicy decides what happens to a response_format the provider
// cannot produce.
type FormatPolicy string

const (
	// FormatPolicyFallback silently uses the provider default format.
	FormatPolicyFallback FormatPolicy = "fallback"
	// FormatPolicyReject fails the call with an invalid request error.
	FormatPolicyReject FormatPolicy = "reject"
)

func (p FormatPolicy) OrDefault() FormatPolicy {
	if p == "" {
		return FormatPolicyFallback
	}

	return p
}

var contentTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"opus": "audio/opus",
	"aac":  "audio/aac",
	"flac": "audio/flac",
	"wav":  "audio/wav",
	"pcm":  "audio/pcm",
	"ulaw": "audio/basic",
	"alaw": "audio/x-alaw-basic",
}

// ResponseFormatOrDefault returns the requested format, lower-cased, or mp3.
func ResponseFormatOrDefault(req Request) string {
	format := strings.ToLower(strings.TrimSpace(lo.FromPtrOr(req.GetResponseFormat(), "")))
	if format == "" {
		return DefaultResponseFormat
	}

	return format
}

// FormatFamily strips provider specific sample rate and bitrate suffixes,
// so "mp3_44100_128" belongs to the "mp3" family.
func FormatFamily(format string) string {
	family, _, _ := strings.Cut(strings.ToLower(format), "_")
	return family
}

// ContentTypeForFormat returns the MIME type of an audio format, defaulting to
// audio/mpeg for unknown formats.
func ContentTypeForFormat(format string) string {
	contentType, ok := contentTypes[FormatFamily(format)]
	if !ok {
		return contentTypes[DefaultResponseFormat]
	}

	return contentType
}
