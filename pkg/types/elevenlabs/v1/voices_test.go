package v1

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/nekomeowww/xo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speechway.dev/pkg/object"
	"speechway.dev/pkg/types/tts"
)

func newTestVoiceManager(t *testing.T, handler http.HandlerFunc) (*VoiceManager, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "xi-test-key", r.Header.Get(APIKeyHeader))
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	return NewVoiceManager(server.Client(), tts.Credentials{APIKey: "xi-test-key", APIBase: server.URL + "/v1/"}), &calls
}

func TestDecodeVoiceSample(t *testing.T) {
	t.Parallel()

	decoded, err := DecodeVoiceSample("data:audio/mpeg;base64," + base64.StdEncoding.EncodeToString([]byte("ID3")))
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3"), decoded)

	decoded, err = DecodeVoiceSample(base64.StdEncoding.EncodeToString([]byte{0xff, 0xfb}))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xfb}, decoded)

	_, err = DecodeVoiceSample("")
	require.Error(t, err)

	_, err = DecodeVoiceSample("!!not base64!!")
	require.Error(t, err)
}

func TestVoiceManagerListVoices(t *testing.T) {
	t.Parallel()

	fixture, err := os.ReadFile(xo.RelativePathOf("./testdata/voices.json"))
	require.NoError(t, err)

	manager, calls := newTestVoiceManager(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/voices", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(fixture)
	})

	resp, err := manager.ListVoices(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Voices, 2)
	assert.Equal(t, "Rachel", resp.Voices[0].Name)
	assert.Equal(t, "female", resp.Voices[0].Labels["gender"])
	assert.JSONEq(t, string(fixture), string(resp.Raw))
	assert.Equal(t, int32(1), calls.Load())
}

func TestVoiceManagerGetAndDelete(t *testing.T) {
	t.Parallel()

	manager, _ := newTestVoiceManager(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/voices/abc", r.URL.Path)

		switch r.Method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`{"voice_id":"abc","name":"Cloned"}`))
		case http.MethodDelete:
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	voice, err := manager.GetVoice(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", voice.VoiceID)
	assert.Equal(t, "Cloned", voice.Name)

	deleted, err := manager.DeleteVoice(context.Background(), "abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(deleted))

	_, err = manager.GetVoice(context.Background(), "")
	assert.Equal(t, object.ErrorKindInvalidRequest, object.KindOf(err))
}

func TestVoiceManagerVoiceIDStaysInPath(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		received []string
	)

	manager, _ := newTestVoiceManager(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received = append(received, r.Method+" "+r.RequestURI)
		mu.Unlock()

		_, _ = w.Write([]byte(`{"voice_id":"x"}`))
	})

	_, err := manager.GetVoice(context.Background(), "../models")
	require.NoError(t, err)

	_, err = manager.DeleteVoice(context.Background(), "../../history/abc")
	require.NoError(t, err)

	_, err = manager.GetVoice(context.Background(), "a/b")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"GET /v1/voices/..%2Fmodels",
		"DELETE /v1/voices/..%2F..%2Fhistory%2Fabc",
		"GET /v1/voices/a%2Fb",
	}, received)

	for _, voiceID := range []string{".", ".."} {
		_, err = manager.DeleteVoice(context.Background(), voiceID)
		require.Error(t, err)
		assert.Equal(t, object.ErrorKindInvalidRequest, object.KindOf(err))
	}

	assert.Len(t, received, 3)
}

func TestVoiceManagerCreateVoice(t *testing.T) {
	t.Parallel()

	manager, calls := newTestVoiceManager(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/voices/add", r.URL.Path)

		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Narrator", r.FormValue("name"))
		assert.Equal(t, "Warm narrator", r.FormValue("description"))
		assert.JSONEq(t, `{"accent":"british"}`, r.FormValue("labels"))

		files := r.MultipartForm.File["files"]
		if !assert.Len(t, files, 2) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		assert.Equal(t, "audio_0.mp3", files[0].Filename)
		assert.Equal(t, "audio_1.mp3", files[1].Filename)

		f, err := files[1].Open()
		assert.NoError(t, err)

		content, err := io.ReadAll(f)
		assert.NoError(t, err)
		assert.Equal(t, []byte("second"), content)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"voice_id":"new-voice"}`))
	})

	resp, err := manager.CreateVoice(context.Background(), CreateVoiceRequest{
		Name:        "Narrator",
		Description: "Warm narrator",
		Labels:      map[string]string{"accent": "british"},
		Samples:     [][]byte{[]byte("first"), []byte("second")},
	})
	require.NoError(t, err)
	assert.Equal(t, "new-voice", resp.VoiceID)
	assert.Equal(t, int32(1), calls.Load())

	_, err = manager.CreateVoice(context.Background(), CreateVoiceRequest{})
	require.Error(t, err)
	assert.Equal(t, "Missing required parameters: 'name', 'files'.", err.Error())
	assert.Equal(t, int32(1), calls.Load())
}

func TestVoiceManagerUpstreamError(t *testing.T) {
	t.Parallel()

	manager, _ := newTestVoiceManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":{"status":"voice_not_found","message":"A voice with the voice_id missing was not found."}}`))
	})

	_, err := manager.GetVoice(context.Background(), "missing")
	require.Error(t, err)

	var upstreamErr *object.UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusNotFound, upstreamErr.StatusCode)
	assert.Equal(t, "A voice with the voice_id missing was not found.", upstreamErr.GetMessage())
}
