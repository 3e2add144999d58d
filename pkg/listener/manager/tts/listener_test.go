package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"speechway.dev/config"
	"speechway.dev/pkg/bootkit"
	"speechway.dev/pkg/metrics"
	"speechway.dev/pkg/speech"
)

const gatewayKey = "sk-speechway-test-key"

type recordingLifeCycle struct {
	hooks []bootkit.LifeCycleHook
}

func (r *recordingLifeCycle) Append(hook bootkit.LifeCycleHook) {
	r.hooks = append(r.hooks, hook)
}

type upstreamCall struct {
	Method string
	Path   string
	Query  string
	APIKey string
	Body   []byte
	Header http.Header
}

// fakeElevenLabs mimics the ElevenLabs endpoints used by the gateway.
type fakeElevenLabs struct {
	mutex sync.Mutex
	calls []upstreamCall
}

func (f *fakeElevenLabs) record(r *http.Request) upstreamCall {
	body, _ := io.ReadAll(r.Body)

	call := upstreamCall{
		Method: r.Method,
		Path:   r.URL.EscapedPath(),
		Query:  r.URL.RawQuery,
		APIKey: r.Header.Get("xi-api-key"),
		Body:   body,
		Header: r.Header.Clone(),
	}

	f.mutex.Lock()
	f.calls = append(f.calls, call)
	f.mutex.Unlock()

	return call
}

func (f *fakeElevenLabs) Calls() []upstreamCall {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return append([]upstreamCall(nil), f.calls...)
}

func (f *fakeElevenLabs) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/v1/text-to-speech/{voice}", func(w http.ResponseWriter, r *http.Request) {
		call := f.record(r)

		if strings.Contains(string(call.Body), "upstream-failure") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":{"status":"invalid_api_key","message":"Invalid API key"}}`))

			return
		}

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte{0x00, 0x01, 0xFF})
	}).Methods(http.MethodPost)

	router.HandleFunc("/v1/voices", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"21m00Tcm4TlvDq8ikWAM","name":"Rachel"}]}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/v1/voices/add", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"voice_id":"cloned-voice"}`))
	}).Methods(http.MethodPost)

	router.HandleFunc("/v1/voices/{voice_id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.Header().Set("Content-Type", "application/json")

		if r.Method == http.MethodDelete {
			_, _ = w.Write([]byte(`{"status":"ok"}`))
			return
		}

		_, _ = w.Write([]byte(`{"voice_id":"` + mux.Vars(r)["voice_id"] + `","name":"Rachel"}`))
	}).Methods(http.MethodGet, http.MethodDelete)

	return router
}

type testGateway struct {
	URL       string
	Upstream  *fakeElevenLabs
	Listener  *OpenAITextToSpeechListener
	LifeCycle *recordingLifeCycle
}

func newTestGateway(t *testing.T, mutate func(cfg *config.Config)) *testGateway {
	t.Helper()

	upstream := &fakeElevenLabs{}
	upstreamServer := httptest.NewServer(upstream.Handler())
	t.Cleanup(upstreamServer.Close)

	cfg := config.Default()
	cfg.Gateway.AccessLog = false
	cfg.Gateway.DrainWait = 100 * time.Millisecond
	cfg.Auth = config.AuthConfig{
		Enabled: true,
		Keys: []config.APIKeyConfig{
			{Key: gatewayKey, ID: "test", UserID: "tester", DenyModels: []string{"openai/**"}},
		},
	}
	cfg.RateLimit = config.RateLimitConfig{
		Enabled: true,
		Policies: []config.RateLimitPolicy{
			{Name: "per-key", BasedOn: config.RateLimitBasedOnAPIKey, Limit: 100, Duration: time.Minute},
		},
	}
	cfg.Providers[config.ProviderElevenLabs] = config.ProviderConfig{
		APIKey:  "xi-test-key",
		APIBase: upstreamServer.URL + "/v1",
		Timeout: 5 * time.Second,
		DefaultParams: map[string]any{
			"response_format": "mp3",
		},
		Headers: map[string]string{"X-Gateway": "speechway"},
	}

	if mutate != nil {
		mutate(cfg)
	}

	require.NoError(t, cfg.Validate())

	lifecycle := &recordingLifeCycle{}
	m := metrics.New()

	client := speech.New(cfg,
		speech.WithHTTPClient(upstreamServer.Client()),
		speech.WithMetrics(m),
		speech.WithEnvLookup(func(string) (string, bool) { return "", false }),
	)

	requestFilters, err := NewRequestFilters(cfg, m, lifecycle)
	require.NoError(t, err)

	l, err := NewOpenAITextToSpeechListener(cfg, client, requestFilters, lifecycle)
	require.NoError(t, err)

	router := mux.NewRouter()
	require.NoError(t, l.RegisterRoutes(router))

	gateway := httptest.NewServer(router)

	t.Cleanup(func() {
		gateway.Close()

		for _, hook := range lifecycle.hooks {
			_ = hook.Stop(context.Background())
		}
	})

	return &testGateway{
		URL:       gateway.URL,
		Upstream:  upstream,
		Listener:  l,
		LifeCycle: lifecycle,
	}
}

func newOpenAIClient(baseURL string, apiKey string) *goopenai.Client {
	clientCfg := goopenai.DefaultConfig(apiKey)
	clientCfg.BaseURL = baseURL + "/v1"

	return goopenai.NewClientWithConfig(clientCfg)
}

func TestSpeech_WithOpenAIClient(t *testing.T) {
	gw := newTestGateway(t, nil)
	client := newOpenAIClient(gw.URL, gatewayKey)

	resp, err := client.CreateSpeech(context.Background(), goopenai.CreateSpeechRequest{
		Model: goopenai.SpeechModel("eleven_multilingual_v2"),
		Input: "Hello there",
		Voice: goopenai.SpeechVoice("21m00Tcm4TlvDq8ikWAM"),
	})
	require.NoError(t, err)

	defer resp.Close()

	audio, err := io.ReadAll(resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0xFF}, audio)

	calls := gw.Upstream.Calls()
	require.Len(t, calls, 1)

	call := calls[0]
	assert.Equal(t, "/v1/text-to-speech/21m00Tcm4TlvDq8ikWAM", call.Path)
	assert.Equal(t, "output_format=mp3_44100_128", call.Query)
	assert.Equal(t, "xi-test-key", call.APIKey)
	assert.Equal(t, "speechway", call.Header.Get("X-Gateway"))
	assert.Empty(t, call.Header.Get("Authorization"))
	assert.Equal(t, "Hello there", gjson.GetBytes(call.Body, "text").String())
	assert.Equal(t, "eleven_multilingual_v2", gjson.GetBytes(call.Body, "model_id").String())
}

func TestSpeech_ProviderPrefixAndExtraBody(t *testing.T) {
	gw := newTestGateway(t, nil)

	body := `{"model":"elevenlabs/eleven_turbo_v2","input":"hi","voice":"Rachel","speed":1.2,"extra_body":{"voiceSettings":{"stability":0.4},"languageCode":"de"}}`

	req, err := http.NewRequest(http.MethodPost, gw.URL+"/v1/audio/speech", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+gatewayKey)
	req.Header.Set("X-Request-Id", "req-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))

	calls := gw.Upstream.Calls()
	require.Len(t, calls, 1)

	sent := calls[0].Body
	assert.Equal(t, "eleven_turbo_v2", gjson.GetBytes(sent, "model_id").String())
	assert.InDelta(t, 1.2, gjson.GetBytes(sent, "voice_settings.speed").Float(), 1e-9)
	assert.InDelta(t, 0.4, gjson.GetBytes(sent, "voice_settings.stability").Float(), 1e-9)
	assert.Equal(t, "de", gjson.GetBytes(sent, "language_code").String())
}

func TestSpeech_Errors(t *testing.T) {
	gw := newTestGateway(t, nil)

	tests := []struct {
		name       string
		apiKey     string
		body       string
		wantStatus int
		wantType   string
		wantCalls  int
	}{
		{
			name:       "MissingFields",
			apiKey:     gatewayKey,
			body:       `{"model":"eleven_multilingual_v2"}`,
			wantStatus: http.StatusBadRequest,
			wantType:   "invalid_request_error",
		},
		{
			name:       "InvalidBody",
			apiKey:     gatewayKey,
			body:       `not json`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "IncorrectGatewayKey",
			apiKey:     "sk-wrong",
			body:       `{"model":"eleven_multilingual_v2","input":"hi","voice":"Rachel"}`,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "DeniedModel",
			apiKey:     gatewayKey,
			body:       `{"model":"openai/tts-1","input":"hi","voice":"alloy"}`,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "UpstreamFailure",
			apiKey:     gatewayKey,
			body:       `{"model":"eleven_multilingual_v2","input":"upstream-failure","voice":"Rachel"}`,
			wantStatus: http.StatusUnauthorized,
			wantType:   "upstream_error",
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(gw.Upstream.Calls())

			req, err := http.NewRequest(http.MethodPost, gw.URL+"/v1/audio/speech", strings.NewReader(tt.body))
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+tt.apiKey)

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)

			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, resp.StatusCode, string(respBody))
			assert.True(t, gjson.GetBytes(respBody, "error.message").Exists())

			if tt.wantType != "" {
				assert.Equal(t, tt.wantType, gjson.GetBytes(respBody, "error.type").String())
			}

			assert.Len(t, gw.Upstream.Calls(), before+tt.wantCalls)
		})
	}
}

func TestSpeech_OpenAIClientSeesAPIError(t *testing.T) {
	gw := newTestGateway(t, nil)
	client := newOpenAIClient(gw.URL, "sk-wrong")

	_, err := client.CreateSpeech(context.Background(), goopenai.CreateSpeechRequest{
		Model: goopenai.SpeechModel("eleven_multilingual_v2"),
		Input: "Hello",
		Voice: goopenai.SpeechVoice("Rachel"),
	})
	require.Error(t, err)

	var apiErr *goopenai.APIError
	require.True(t, errors.As(err, &apiErr), "unexpected error %T: %v", err, err)
	assert.Equal(t, http.StatusUnauthorized, apiErr.HTTPStatusCode)
}

func TestSpeech_RejectedAfterDrain(t *testing.T) {
	gw := newTestGateway(t, nil)

	require.NoError(t, gw.Listener.Drain(context.Background()))
	assert.True(t, gw.Listener.HasDrained())

	req, err := http.NewRequest(http.MethodPost, gw.URL+"/v1/audio/speech",
		strings.NewReader(`{"model":"eleven_multilingual_v2","input":"hi","voice":"Rachel"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+gatewayKey)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Empty(t, gw.Upstream.Calls())
}

func doJSON(t *testing.T, method string, url string, body io.Reader, contentType string) (*http.Response, []byte) {
	t.Helper()

	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+gatewayKey)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, respBody
}

func TestVoices(t *testing.T) {
	gw := newTestGateway(t, nil)

	resp, body := doJSON(t, http.MethodGet, gw.URL+"/v1/voices", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "Rachel", gjson.GetBytes(body, "voices.0.name").String())

	resp, body = doJSON(t, http.MethodGet, gw.URL+"/v1/voices/21m00Tcm4TlvDq8ikWAM", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "21m00Tcm4TlvDq8ikWAM", gjson.GetBytes(body, "voice_id").String())

	resp, body = doJSON(t, http.MethodDelete, gw.URL+"/v1/voices/21m00Tcm4TlvDq8ikWAM", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "ok", gjson.GetBytes(body, "status").String())

	for _, call := range gw.Upstream.Calls() {
		assert.Equal(t, "xi-test-key", call.APIKey)
	}
}

func TestVoices_CreateFromJSON(t *testing.T) {
	gw := newTestGateway(t, nil)

	payload, err := json.Marshal(map[string]any{
		"name":   "Narrator",
		"labels": map[string]string{"accent": "british"},
		"files": []string{
			base64.StdEncoding.EncodeToString([]byte("sample-one")),
			"data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString([]byte("sample-two")),
		},
	})
	require.NoError(t, err)

	resp, body := doJSON(t, http.MethodPost, gw.URL+"/v1/voices", bytes.NewReader(payload), "application/json")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "cloned-voice", gjson.GetBytes(body, "voice_id").String())

	calls := gw.Upstream.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "/v1/voices/add", calls[0].Path)
	assert.Contains(t, string(calls[0].Body), "sample-one")
	assert.Contains(t, string(calls[0].Body), "sample-two")
}

func TestVoices_CreateFromMultipart(t *testing.T) {
	gw := newTestGateway(t, nil)

	buf := new(bytes.Buffer)
	writer := multipart.NewWriter(buf)
	require.NoError(t, writer.WriteField("name", "Narrator"))

	part, err := writer.CreateFormFile("files", "sample.mp3")
	require.NoError(t, err)

	_, err = part.Write([]byte("multipart-sample"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	resp, body := doJSON(t, http.MethodPost, gw.URL+"/v1/voices", buf, writer.FormDataContentType())
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	calls := gw.Upstream.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, string(calls[0].Body), "multipart-sample")
}

func TestVoices_CreateValidation(t *testing.T) {
	gw := newTestGateway(t, nil)

	resp, body := doJSON(t, http.MethodPost, gw.URL+"/v1/voices", strings.NewReader(`{"files":["%%%"]}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
	assert.Equal(t, "files[0]", gjson.GetBytes(body, "error.param").String())

	resp, body = doJSON(t, http.MethodPost, gw.URL+"/v1/voices", strings.NewReader(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
	assert.Contains(t, gjson.GetBytes(body, "error.message").String(), "name")
	assert.Contains(t, gjson.GetBytes(body, "error.message").String(), "files")

	assert.Empty(t, gw.Upstream.Calls())
}

func TestVoices_MissingCredential(t *testing.T) {
	gw := newTestGateway(t, func(cfg *config.Config) {
		provider := cfg.Providers[config.ProviderElevenLabs]
		provider.APIKey = ""
		cfg.Providers[config.ProviderElevenLabs] = provider
	})

	resp, body := doJSON(t, http.MethodGet, gw.URL+"/v1/voices", nil, "")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, string(body))
	assert.Equal(t, "configuration_error", gjson.GetBytes(body, "error.type").String())
	assert.Contains(t, gjson.GetBytes(body, "error.message").String(), "configured on the server")
	assert.NotContains(t, gjson.GetBytes(body, "error.message").String(), "pass it as api_key")
	assert.Empty(t, gw.Upstream.Calls())
}

func TestSpeech_MissingProviderCredential(t *testing.T) {
	gw := newTestGateway(t, func(cfg *config.Config) {
		provider := cfg.Providers[config.ProviderElevenLabs]
		provider.APIKey = ""
		cfg.Providers[config.ProviderElevenLabs] = provider
	})

	resp, body := doJSON(t, http.MethodPost, gw.URL+"/v1/audio/speech",
		strings.NewReader(`{"model":"eleven_turbo_v2","input":"hi","voice":"Rachel"}`), "application/json")

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, string(body))
	assert.Equal(t, "configuration_error", gjson.GetBytes(body, "error.type").String())
	assert.Equal(t, "api_key", gjson.GetBytes(body, "error.param").String())
	assert.Contains(t, gjson.GetBytes(body, "error.message").String(), "ELEVENLABS_API_KEY")
	assert.NotContains(t, gjson.GetBytes(body, "error.message").String(), "pass it as api_key")
	assert.Empty(t, gw.Upstream.Calls())
}
