package tts

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/gorilla/mux"

	"speechway.dev/pkg/listener"
	"speechway.dev/pkg/object"
	elevenlabs "speechway.dev/pkg/types/elevenlabs/v1"
	"speechway.dev/pkg/types/openai"
)

const maxVoiceUploadBytes = 32 << 20

// createVoiceBody is the JSON form of a voice creation request. Files hold
// base64 or data URL encoded audio samples.
type createVoiceBody struct {
	Name                  string            `json:"name"`
	Description           string            `json:"description"`
	Labels                map[string]string `json:"labels"`
	RemoveBackgroundNoise bool              `json:"remove_background_noise"`
	Files                 []string          `json:"files"`
}

func (l *OpenAITextToSpeechListener) withPreFilters(next listener.HandlerFunc) listener.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) (any, error) {
		for _, f := range l.filters.OnRequestPreFilters() {
			fResult := f.OnRequestPre(request.Context(), request)
			if fResult.IsFailed() {
				return nil, fResult.Error
			}
		}

		return next(writer, request)
	}
}

func (l *OpenAITextToSpeechListener) voiceManager() (*elevenlabs.VoiceManager, error) {
	manager, err := l.client.Voices(nil)
	if err != nil {
		return nil, serverSideConfigurationError(err)
	}

	return manager, nil
}

func (l *OpenAITextToSpeechListener) listVoices(writer http.ResponseWriter, request *http.Request) (any, error) {
	manager, err := l.voiceManager()
	if err != nil {
		return nil, err
	}

	resp, err := manager.ListVoices(request.Context())
	if err != nil {
		return nil, err
	}

	return json.RawMessage(resp.Raw), nil
}

func (l *OpenAITextToSpeechListener) getVoice(writer http.ResponseWriter, request *http.Request) (any, error) {
	manager, err := l.voiceManager()
	if err != nil {
		return nil, err
	}

	resp, err := manager.GetVoice(request.Context(), mux.Vars(request)["voice_id"])
	if err != nil {
		return nil, err
	}

	return json.RawMessage(resp.Raw), nil
}

func (l *OpenAITextToSpeechListener) deleteVoice(writer http.ResponseWriter, request *http.Request) (any, error) {
	manager, err := l.voiceManager()
	if err != nil {
		return nil, err
	}

	resp, err := manager.DeleteVoice(request.Context(), mux.Vars(request)["voice_id"])
	if err != nil {
		return nil, err
	}

	if len(resp) == 0 {
		return nil, nil
	}

	return resp, nil
}

func (l *OpenAITextToSpeechListener) createVoice(writer http.ResponseWriter, request *http.Request) (any, error) {
	createReq, err := parseCreateVoiceRequest(request)
	if err != nil {
		return nil, err
	}

	manager, err := l.voiceManager()
	if err != nil {
		return nil, err
	}

	resp, err := manager.CreateVoice(request.Context(), createReq)
	if err != nil {
		return nil, err
	}

	return json.RawMessage(resp.Raw), nil
}

func parseCreateVoiceRequest(request *http.Request) (elevenlabs.CreateVoiceRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(request.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return parseCreateVoiceMultipart(request)
	}

	var body createVoiceBody

	err := json.NewDecoder(io.LimitReader(request.Body, maxVoiceUploadBytes)).Decode(&body)
	if err != nil {
		return elevenlabs.CreateVoiceRequest{}, openai.NewErrorInvalidBody()
	}

	createReq := elevenlabs.CreateVoiceRequest{
		Name:                  body.Name,
		Description:           body.Description,
		Labels:                body.Labels,
		RemoveBackgroundNoise: body.RemoveBackgroundNoise,
		Samples:               make([][]byte, 0, len(body.Files)),
	}

	for i, encoded := range body.Files {
		sample, err := elevenlabs.DecodeVoiceSample(encoded)
		if err != nil {
			return elevenlabs.CreateVoiceRequest{}, object.NewErrorInvalidParameter(fmt.Sprintf("files[%d]", i), err.Error())
		}

		createReq.Samples = append(createReq.Samples, sample)
	}

	return createReq, nil
}

func parseCreateVoiceMultipart(request *http.Request) (elevenlabs.CreateVoiceRequest, error) {
	err := request.ParseMultipartForm(maxVoiceUploadBytes)
	if err != nil {
		return elevenlabs.CreateVoiceRequest{}, openai.NewErrorInvalidBody()
	}

	form := request.MultipartForm

	createReq := elevenlabs.CreateVoiceRequest{
		Name:                  request.FormValue("name"),
		Description:           request.FormValue("description"),
		RemoveBackgroundNoise: request.FormValue("remove_background_noise") == "true",
	}

	if labels := request.FormValue("labels"); labels != "" {
		err := json.Unmarshal([]byte(labels), &createReq.Labels)
		if err != nil {
			return elevenlabs.CreateVoiceRequest{}, object.NewErrorInvalidParameter("labels", "labels must be a JSON object of strings")
		}
	}

	for i, header := range form.File["files"] {
		file, err := header.Open()
		if err != nil {
			return elevenlabs.CreateVoiceRequest{}, object.NewErrorInvalidParameter(fmt.Sprintf("files[%d]", i), err.Error())
		}

		sample, err := io.ReadAll(file)
		_ = file.Close()

		if err != nil {
			return elevenlabs.CreateVoiceRequest{}, object.NewErrorInvalidParameter(fmt.Sprintf("files[%d]", i), err.Error())
		}

		createReq.Samples = append(createReq.Samples, sample)
	}

	return createReq, nil
}
