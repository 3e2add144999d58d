package speech

import (
	"bytes"

	"speechway.dev/pkg/types/tts"
)

var (
	_ tts.Request             = (*Request)(nil)
	_ tts.CredentialOverrides = (*Request)(nil)
)

// Request is a provider-agnostic text-to-speech call.
type Request struct {
	// Model is forwarded as-is. A "<provider>/" prefix selects the provider
	// and is stripped before forwarding.
	Model string `json:"model"`
	Input string `json:"input"`
	Voice string `json:"voice"`

	Speed          *float64 `json:"speed,omitempty"`
	ResponseFormat *string  `json:"response_format,omitempty"`

	// APIKey and APIBase win over environment and configuration.
	APIKey  *string `json:"-"`
	APIBase *string `json:"-"`

	ExtraBody map[string]any `json:"extra_body,omitempty"`
}

func (r *Request) GetModel() string {
	return r.Model
}

func (r *Request) GetInput() string {
	return r.Input
}

func (r *Request) GetVoice() string {
	return r.Voice
}

func (r *Request) GetResponseFormat() *string {
	return r.ResponseFormat
}

func (r *Request) GetSpeed() *float64 {
	return r.Speed
}

func (r *Request) GetExtraBody() map[string]any {
	return r.ExtraBody
}

func (r *Request) GetBodyParsed() map[string]any {
	return nil
}

func (r *Request) GetBodyBuffer() *bytes.Buffer {
	return nil
}

func (r *Request) GetAPIKey() *string {
	return r.APIKey
}

func (r *Request) GetAPIBase() *string {
	return r.APIBase
}

// routedRequest presents the request to a provider with the provider prefix
// removed from the model, leaving the caller's value untouched.
type routedRequest struct {
	tts.Request

	model string
}

func (r routedRequest) GetModel() string {
	return r.model
}
