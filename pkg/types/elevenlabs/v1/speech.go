package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"
	"github.com/stoewer/go-strcase"

	"speechway.dev/pkg/object"
	"speechway.dev/pkg/types/tts"
)

const (
	ProviderName        = "elevenlabs"
	ProviderDisplayName = "ElevenLabs"

	DefaultAPIBase = "https://api.elevenlabs.io/v1"

	// APIKeyHeader is how ElevenLabs expects the API key.
	APIKeyHeader = "xi-api-key"
)

// APIKeyEnvNames are read in order when no key is configured.
var APIKeyEnvNames = []string{"ELEVENLABS_API_KEY", "ELEVEN_LABS_API_KEY"}

const APIBaseEnvName = "ELEVENLABS_API_BASE"

// outputFormats maps OpenAI response_format values to ElevenLabs output_format.
var outputFormats = map[string]string{
	"mp3":  "mp3_44100_128",
	"opus": "opus_48000_128",
	"pcm":  "pcm_24000",
	"ulaw": "ulaw_8000",
}

var nativeFormatPrefixes = []string{"mp3_", "pcm_", "ulaw_", "alaw_", "opus_"}

var _ tts.SpeechProvider = (*Provider)(nil)

type Provider struct {
	formatPolicy tts.FormatPolicy
}

type ProviderOption func(*Provider)

func WithFormatPolicy(policy tts.FormatPolicy) ProviderOption {
	return func(p *Provider) {
		p.formatPolicy = policy.OrDefault()
	}
}

func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{
		formatPolicy: tts.FormatPolicyFallback,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Provider) Name() string {
	return ProviderName
}

func (p *Provider) DisplayName() string {
	return ProviderDisplayName
}

func (p *Provider) DefaultAPIBase() string {
	return DefaultAPIBase
}

func (p *Provider) APIKeyEnvNames() []string {
	return APIKeyEnvNames
}

func (p *Provider) APIBaseEnvName() string {
	return APIBaseEnvName
}

// OutputFormat resolves the output_format query value for a response_format.
// Native ElevenLabs values such as "mp3_22050_32" pass through. The second
// return is false when the format is not supported by ElevenLabs.
func OutputFormat(format string) (string, bool) {
	format = strings.ToLower(strings.TrimSpace(format))

	if mapped, ok := outputFormats[format]; ok {
		return mapped, true
	}

	for _, prefix := range nativeFormatPrefixes {
		if strings.HasPrefix(format, prefix) {
			return format, true
		}
	}

	return outputFormats[tts.DefaultResponseFormat], false
}

func (p *Provider) resolveOutputFormat(req tts.Request) (string, error) {
	if lo.FromPtrOr(req.GetResponseFormat(), "") == "" {
		return "", nil
	}

	format := tts.ResponseFormatOrDefault(req)

	outputFormat, ok := OutputFormat(format)
	if !ok && p.formatPolicy == tts.FormatPolicyReject {
		return "", object.NewErrorInvalidParameter("response_format",
			fmt.Sprintf("Unsupported response_format `%s` for %s. Supported values are mp3, opus, pcm, ulaw or a native output_format.", format, ProviderDisplayName))
	}

	return outputFormat, nil
}

// ErrInvalidVoice is returned for voice IDs that would escape their path
// segment.
var ErrInvalidVoice = errors.New("voice must not be . or ..")

// joinEscaped appends id to base as one escaped path segment.
func joinEscaped(base *url.URL, id string) (*url.URL, error) {
	if id == "." || id == ".." {
		return nil, ErrInvalidVoice
	}

	endpoint := *base
	endpoint.RawPath = base.EscapedPath() + "/" + url.PathEscape(id)
	endpoint.Path = base.Path + "/" + id

	return &endpoint, nil
}

func parseAPIBase(apiBase string) (*url.URL, error) {
	base, err := url.Parse(strings.TrimRight(apiBase, "/"))
	if err != nil {
		return nil, err
	}

	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("api base %q is not an absolute URL", apiBase)
	}

	return base, nil
}

// SpeechURL joins base and voice into the text-to-speech endpoint. The voice
// becomes a single escaped path segment.
func SpeechURL(apiBase string, voice string) (*url.URL, error) {
	base, err := parseAPIBase(apiBase)
	if err != nil {
		return nil, err
	}

	return joinEscaped(base.JoinPath("text-to-speech"), voice)
}

// SpeechPayload builds the JSON body sent upstream. It never mutates req.
func SpeechPayload(req tts.Request) map[string]any {
	payload := map[string]any{
		"text":     req.GetInput(),
		"model_id": req.GetModel(),
	}

	if speed := req.GetSpeed(); speed != nil {
		payload["voice_settings"] = map[string]any{
			"speed": *speed,
		}
	}

	for k, v := range req.GetExtraBody() {
		key := strcase.SnakeCase(k)

		// voice_settings from extra_body is merged so speed is kept.
		if key == "voice_settings" {
			if settings, ok := v.(map[string]any); ok {
				merged := make(map[string]any, len(settings)+1)
				if existing, ok := payload[key].(map[string]any); ok {
					maps.Copy(merged, existing)
				}

				for sk, sv := range settings {
					merged[strcase.SnakeCase(sk)] = sv
				}

				payload[key] = merged

				continue
			}
		}

		payload[key] = v
	}

	return payload
}

func (p *Provider) BuildSpeechRequest(ctx context.Context, creds tts.Credentials, req tts.Request, upstreamHeaders http.Header) (*http.Request, error) {
	reqURL, err := SpeechURL(creds.APIBase, req.GetVoice())
	if errors.Is(err, ErrInvalidVoice) {
		return nil, object.NewErrorInvalidParameter("voice", fmt.Sprintf("Invalid voice `%s`.", req.GetVoice()))
	}

	if err != nil {
		return nil, object.NewErrorInvalidConfiguration(ProviderDisplayName, "api_base", err)
	}

	outputFormat, err := p.resolveOutputFormat(req)
	if err != nil {
		return nil, err
	}

	if outputFormat != "" {
		query := reqURL.Query()
		query.Set("output_format", outputFormat)
		reqURL.RawQuery = query.Encode()
	}

	bs, err := json.Marshal(SpeechPayload(req))
	if err != nil {
		return nil, object.NewErrorInvalidParameter("extra_body", "failed to encode request body: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL.String(), bytes.NewReader(bs))
	if err != nil {
		return nil, object.NewErrorInvalidConfiguration(ProviderDisplayName, "api_base", err)
	}

	for k, values := range upstreamHeaders {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	httpReq.Header.Set(APIKeyHeader, creds.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", tts.ContentTypeForFormat(lo.Ternary(outputFormat == "", tts.DefaultResponseFormat, outputFormat)))

	return httpReq, nil
}

func (p *Provider) ParseSpeechResponse(resp *http.Response, req tts.Request) (*tts.AudioResponse, error) {
	if resp == nil || resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, tts.ReadBodyError(ProviderDisplayName, resp)
	}

	audio := tts.NewAudioResponseFromHTTP(resp, req.GetModel())
	audio.RequestID = lo.CoalesceOrEmpty(resp.Header.Get("request-id"), resp.Header.Get("x-request-id"))

	format, _ := OutputFormat(tts.ResponseFormatOrDefault(req))
	audio.Format = format

	err := audio.ReadAll()
	if err != nil {
		return nil, object.NewTransportError(ProviderDisplayName, err)
	}

	if audio.ContentType == "" {
		audio.ContentType = tts.ContentTypeForFormat(format)
	}

	return audio.WithInputCharacters(req.GetInput()), nil
}
