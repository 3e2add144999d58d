package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"speechway.dev/pkg/object"
	"speechway.dev/pkg/types/tts"
)

const (
	ProviderName        = "openai"
	ProviderDisplayName = "OpenAI"

	DefaultAPIBase = "https://api.openai.com/v1"

	APIKeyEnvName  = "OPENAI_API_KEY"
	APIBaseEnvName = "OPENAI_API_BASE"
)

var supportedFormats = []string{"mp3", "opus", "aac", "flac", "wav", "pcm"}

var _ tts.SpeechProvider = (*SpeechProvider)(nil)

// SpeechProvider forwards speech requests to any OpenAI-compatible
// /audio/speech endpoint.
type SpeechProvider struct {
	formatPolicy tts.FormatPolicy
}

func NewSpeechProvider(policy tts.FormatPolicy) *SpeechProvider {
	return &SpeechProvider{formatPolicy: policy.OrDefault()}
}

func (p *SpeechProvider) Name() string {
	return ProviderName
}

func (p *SpeechProvider) DisplayName() string {
	return ProviderDisplayName
}

func (p *SpeechProvider) DefaultAPIBase() string {
	return DefaultAPIBase
}

func (p *SpeechProvider) APIKeyEnvNames() []string {
	return []string{APIKeyEnvName}
}

func (p *SpeechProvider) APIBaseEnvName() string {
	return APIBaseEnvName
}

func (p *SpeechProvider) resolveFormat(req tts.Request) (string, error) {
	if lo.FromPtrOr(req.GetResponseFormat(), "") == "" {
		return "", nil
	}

	format := tts.ResponseFormatOrDefault(req)
	if lo.Contains(supportedFormats, format) {
		return format, nil
	}

	if p.formatPolicy == tts.FormatPolicyReject {
		return "", object.NewErrorInvalidParameter("response_format",
			fmt.Sprintf("Unsupported response_format `%s` for %s. Supported values are %s.", format, ProviderDisplayName, strings.Join(supportedFormats, ", ")))
	}

	return tts.DefaultResponseFormat, nil
}

func (p *SpeechProvider) BuildSpeechRequest(ctx context.Context, creds tts.Credentials, req tts.Request, upstreamHeaders http.Header) (*http.Request, error) {
	base, err := url.Parse(strings.TrimRight(creds.APIBase, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, object.NewErrorInvalidConfiguration(ProviderDisplayName, "api_base", lo.Ternary(err != nil, err, fmt.Errorf("api base %q is not an absolute URL", creds.APIBase)))
	}

	format, err := p.resolveFormat(req)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"model": req.GetModel(),
		"input": req.GetInput(),
		"voice": req.GetVoice(),
	}

	if format != "" {
		payload["response_format"] = format
	}

	if speed := req.GetSpeed(); speed != nil {
		payload["speed"] = *speed
	}

	for k, v := range req.GetExtraBody() {
		payload[k] = v
	}

	bs, err := json.Marshal(payload)
	if err != nil {
		return nil, object.NewErrorInvalidParameter("extra_body", "failed to encode request body: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base.JoinPath("audio", "speech").String(), bytes.NewReader(bs))
	if err != nil {
		return nil, object.NewErrorInvalidConfiguration(ProviderDisplayName, "api_base", err)
	}

	for k, values := range upstreamHeaders {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	httpReq.Header.Set("Authorization", "Bearer "+creds.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	return httpReq, nil
}

func (p *SpeechProvider) ParseSpeechResponse(resp *http.Response, req tts.Request) (*tts.AudioResponse, error) {
	if resp == nil || resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, tts.ReadBodyError(ProviderDisplayName, resp)
	}

	audio := tts.NewAudioResponseFromHTTP(resp, req.GetModel())
	audio.RequestID = lo.CoalesceOrEmpty(resp.Header.Get("x-request-id"), resp.Header.Get("request-id"))
	audio.Format = lo.Ternary(lo.Contains(supportedFormats, tts.ResponseFormatOrDefault(req)), tts.ResponseFormatOrDefault(req), tts.DefaultResponseFormat)

	err := audio.ReadAll()
	if err != nil {
		return nil, object.NewTransportError(ProviderDisplayName, err)
	}

	if audio.ContentType == "" {
		audio.ContentType = tts.ContentTypeForFormat(audio.Format)
	}

	return audio.WithInputCharacters(req.GetInput()), nil
}
