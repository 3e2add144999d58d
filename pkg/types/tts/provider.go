package tts

import (
	"context"
	"net/http"
)

// Credentials is the resolved key and base URL used for one upstream call.
type Credentials struct {
	APIKey  string
	APIBase string
}

type SpeechProvider interface {
	// Name is the provider selector, e.g. "elevenlabs".
	Name() string
	// DisplayName is used in error messages, e.g. "ElevenLabs".
	DisplayName() string
	DefaultAPIBase() string
	// APIKeyEnvNames are consulted in order when the request carries no key.
	APIKeyEnvNames() []string
	APIBaseEnvName() string

	BuildSpeechRequest(ctx context.Context, creds Credentials, req Request, upstreamHeaders http.Header) (*http.Request, error)
	ParseSpeechResponse(resp *http.Response, req Request) (*AudioResponse, error)
}
