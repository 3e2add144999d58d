package tts

import "bytes"

type Request interface {
	GetModel() string
	GetInput() string
	GetVoice() string
	GetResponseFormat() *string
	GetSpeed() *float64
	GetExtraBody() map[string]any
	GetBodyParsed() map[string]any
	GetBodyBuffer() *bytes.Buffer
}

// CredentialOverrides is implemented by requests that may carry their own
// API key or base URL. Values set here win over process-wide configuration.
type CredentialOverrides interface {
	GetAPIKey() *string
	GetAPIBase() *string
}
