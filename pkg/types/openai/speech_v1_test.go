package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speechway.dev/pkg/object"
	"speechway.dev/pkg/types/tts"
)

func TestSpeechProviderBuildSpeechRequest(t *testing.T) {
	t.Parallel()

	req, err := NewTextToSpeechRequest(newHTTPRequest(`{"model":"tts-1","input":"Hello","voice":"alloy","response_format":"wav","speed":2}`))
	require.NoError(t, err)

	creds := tts.Credentials{APIKey: "sk-test", APIBase: "https://api.openai.com/v1/"}

	httpReq, err := NewSpeechProvider(tts.FormatPolicyFallback).BuildSpeechRequest(context.Background(), creds, req, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://api.openai.com/v1/audio/speech", httpReq.URL.String())
	assert.Equal(t, "Bearer sk-test", httpReq.Header.Get("Authorization"))

	bs, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal(bs, &body))
	assert.Equal(t, map[string]any{
		"model":           "tts-1",
		"input":           "Hello",
		"voice":           "alloy",
		"response_format": "wav",
		"speed":           float64(2),
	}, body)
}

func TestSpeechProviderFormatPolicy(t *testing.T) {
	t.Parallel()

	req, err := NewTextToSpeechRequest(newHTTPRequest(`{"model":"tts-1","input":"Hello","voice":"alloy","response_format":"ulaw"}`))
	require.NoError(t, err)

	creds := tts.Credentials{APIKey: "sk-test", APIBase: DefaultAPIBase}

	_, err = NewSpeechProvider(tts.FormatPolicyReject).BuildSpeechRequest(context.Background(), creds, req, nil)
	require.Error(t, err)
	assert.Equal(t, object.ErrorKindInvalidRequest, object.KindOf(err))

	httpReq, err := NewSpeechProvider("").BuildSpeechRequest(context.Background(), creds, req, nil)
	require.NoError(t, err)

	bs, err := io.ReadAll(httpReq.Body)
	require.NoError(t, err)
	assert.Contains(t, string(bs), `"response_format":"mp3"`)
}

func TestSpeechProviderParseSpeechResponse(t *testing.T) {
	t.Parallel()

	req, err := NewTextToSpeechRequest(newHTTPRequest(`{"model":"tts-1","input":"Hello","voice":"alloy","response_format":"flac"}`))
	require.NoError(t, err)

	provider := NewSpeechProvider(tts.FormatPolicyFallback)

	audio, err := provider.ParseSpeechResponse(&http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader([]byte("fLaC"))),
	}, req)
	require.NoError(t, err)
	assert.Equal(t, "flac", audio.Format)
	assert.Equal(t, "audio/flac", audio.ContentType)
	assert.Equal(t, []byte("fLaC"), audio.Bytes())

	_, err = provider.ParseSpeechResponse(&http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"Rate limit reached","type":"requests"}}`)),
	}, req)
	require.Error(t, err)

	var upstreamErr *object.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusTooManyRequests, upstreamErr.StatusCode)
	assert.Equal(t, "Rate limit reached", upstreamErr.GetMessage())
	assert.Equal(t, "OpenAI", upstreamErr.Provider)
}
