package v1

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/vincent-petithory/dataurl"

	"speechway.dev/pkg/object"
	"speechway.dev/pkg/types/tts"
)

type Voice struct {
	VoiceID     string            `json:"voice_id"`
	Name        string            `json:"name"`
	Category    string            `json:"category,omitempty"`
	Description string            `json:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	PreviewURL  string            `json:"preview_url,omitempty"`
}

// VoiceResponse keeps the upstream body as-is next to the typed view.
type VoiceResponse struct {
	Voice
	Raw json.RawMessage `json:"-"`
}

type VoicesResponse struct {
	Voices []Voice         `json:"voices"`
	Raw    json.RawMessage `json:"-"`
}

type CreateVoiceResponse struct {
	VoiceID string          `json:"voice_id"`
	Raw     json.RawMessage `json:"-"`
}

type CreateVoiceRequest struct {
	Name                  string
	Description           string
	Labels                map[string]string
	RemoveBackgroundNoise bool
	// Samples are the raw audio clips to clone the voice from.
	Samples [][]byte
}

// DecodeVoiceSample accepts a data URL or plain standard base64.
func DecodeVoiceSample(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, errors.New("empty voice sample")
	}

	if strings.HasPrefix(encoded, "data:") {
		decoded, err := dataurl.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid data URL: %w", err)
		}

		return decoded.Data, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 voice sample: %w", err)
	}

	return decoded, nil
}

// VoiceManager calls the ElevenLabs voice endpoints with already resolved
// credentials.
type VoiceManager struct {
	httpClient *http.Client
	creds      tts.Credentials
}

func NewVoiceManager(httpClient *http.Client, creds tts.Credentials) *VoiceManager {
	return &VoiceManager{
		httpClient: lo.Ternary(httpClient != nil, httpClient, http.DefaultClient),
		creds:      creds,
	}
}

// endpoint builds {base}/voices, or {base}/voices/{voiceID} with the voice ID
// kept as one escaped segment.
func (m *VoiceManager) endpoint(segments ...string) (string, error) {
	base, err := parseAPIBase(m.creds.APIBase)
	if err != nil {
		return "", object.NewErrorInvalidConfiguration(ProviderDisplayName, "api_base", err)
	}

	endpoint := base.JoinPath("voices")

	for _, segment := range segments {
		endpoint, err = joinEscaped(endpoint, segment)
		if err != nil {
			return "", object.NewErrorInvalidParameter("voice_id", fmt.Sprintf("Invalid voice_id `%s`.", segment))
		}
	}

	return endpoint.String(), nil
}

func (m *VoiceManager) do(ctx context.Context, method string, reqURL string, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, object.NewErrorInvalidConfiguration(ProviderDisplayName, "api_base", err)
	}

	req.Header.Set(APIKeyHeader, m.creds.APIKey)
	req.Header.Set("Accept", "application/json")

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, object.NewTransportError(ProviderDisplayName, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, tts.ReadBodyError(ProviderDisplayName, resp)
	}

	defer resp.Body.Close()

	bs, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, object.NewTransportError(ProviderDisplayName, err)
	}

	return bs, nil
}

func (m *VoiceManager) ListVoices(ctx context.Context) (*VoicesResponse, error) {
	reqURL, err := m.endpoint()
	if err != nil {
		return nil, err
	}

	bs, err := m.do(ctx, http.MethodGet, reqURL, nil, "")
	if err != nil {
		return nil, err
	}

	resp := &VoicesResponse{Raw: bs}

	err = json.Unmarshal(bs, resp)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s voices: %w", ProviderDisplayName, err)
	}

	return resp, nil
}

func (m *VoiceManager) GetVoice(ctx context.Context, voiceID string) (*VoiceResponse, error) {
	if voiceID == "" {
		return nil, object.NewErrorMissingParameters("voice_id")
	}

	reqURL, err := m.endpoint(voiceID)
	if err != nil {
		return nil, err
	}

	bs, err := m.do(ctx, http.MethodGet, reqURL, nil, "")
	if err != nil {
		return nil, err
	}

	resp := &VoiceResponse{Raw: bs}

	err = json.Unmarshal(bs, &resp.Voice)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s voice: %w", ProviderDisplayName, err)
	}

	return resp, nil
}

func (m *VoiceManager) DeleteVoice(ctx context.Context, voiceID string) (json.RawMessage, error) {
	if voiceID == "" {
		return nil, object.NewErrorMissingParameters("voice_id")
	}

	reqURL, err := m.endpoint(voiceID)
	if err != nil {
		return nil, err
	}

	return m.do(ctx, http.MethodDelete, reqURL, nil, "")
}

func (m *VoiceManager) CreateVoice(ctx context.Context, req CreateVoiceRequest) (*CreateVoiceResponse, error) {
	missing := make([]string, 0, 2)
	if req.Name == "" {
		missing = append(missing, "name")
	}

	if len(req.Samples) == 0 {
		missing = append(missing, "files")
	}

	if len(missing) > 0 {
		return nil, object.NewErrorMissingParameters(missing...)
	}

	reqURL, err := m.endpoint("add")
	if err != nil {
		return nil, err
	}

	body, contentType, err := encodeCreateVoiceForm(req)
	if err != nil {
		return nil, err
	}

	bs, err := m.do(ctx, http.MethodPost, reqURL, body, contentType)
	if err != nil {
		return nil, err
	}

	resp := &CreateVoiceResponse{Raw: bs}

	err = json.Unmarshal(bs, resp)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s voice creation: %w", ProviderDisplayName, err)
	}

	return resp, nil
}

func encodeCreateVoiceForm(req CreateVoiceRequest) (*bytes.Buffer, string, error) {
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)

	fields := map[string]string{
		"name": req.Name,
	}
	if req.Description != "" {
		fields["description"] = req.Description
	}

	if req.RemoveBackgroundNoise {
		fields["remove_background_noise"] = strconv.FormatBool(true)
	}

	if len(req.Labels) > 0 {
		labels, err := json.Marshal(req.Labels)
		if err != nil {
			return nil, "", err
		}

		fields["labels"] = string(labels)
	}

	for _, key := range []string{"name", "description", "remove_background_noise", "labels"} {
		value, ok := fields[key]
		if !ok {
			continue
		}

		err := writer.WriteField(key, value)
		if err != nil {
			return nil, "", err
		}
	}

	for i, sample := range req.Samples {
		part, err := writer.CreateFormFile("files", fmt.Sprintf("audio_%d.mp3", i))
		if err != nil {
			return nil, "", err
		}

		_, err = part.Write(sample)
		if err != nil {
			return nil, "", err
		}
	}

	err := writer.Close()
	if err != nil {
		return nil, "", err
	}

	return body, writer.FormDataContentType(), nil
}
