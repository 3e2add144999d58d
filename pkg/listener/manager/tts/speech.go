package tts

import (
	"context"
	"errors"
	"net/http"

	"speechway.dev/pkg/metadata"
	"speechway.dev/pkg/object"
	"speechway.dev/pkg/types/openai"
	"speechway.dev/pkg/types/tts"
)

func (l *OpenAITextToSpeechListener) unmarshalTextToSpeechRequestToLLMRequest(request *http.Request) (object.LLMRequest, error) {
	llmRequest, err := openai.NewTextToSpeechRequest(request)
	if err != nil {
		return nil, err
	}

	rMeta := metadata.RequestMetadataFromCtx(request.Context())
	rMeta.RequestModel = llmRequest.GetModel()
	rMeta.RequestVoice = llmRequest.GetVoice()

	err = l.applyProviderParams(llmRequest)
	if err != nil {
		return nil, err
	}

	return llmRequest, nil
}

// applyProviderParams fills defaults, forces overrides and strips keys as
// configured for the provider the model routes to. Models that do not route
// are left untouched and fail validation later.
func (l *OpenAITextToSpeechListener) applyProviderParams(request *openai.TextToSpeechRequest) error {
	provider, _, err := l.client.Route(request.GetModel())
	if err != nil {
		// The speech client reports routing errors with the other
		// validation errors.
		return nil //nolint:nilerr
	}

	providerCfg := l.cfg.Provider(provider.Name())

	defaults, err := providerCfg.DefaultParamValues()
	if err != nil {
		return object.NewErrorInvalidConfiguration(provider.DisplayName(), "default_params", err)
	}

	overrides, err := providerCfg.OverrideParamValues()
	if err != nil {
		return object.NewErrorInvalidConfiguration(provider.DisplayName(), "override_params", err)
	}

	if len(defaults) > 0 {
		if err := request.SetDefaultParams(defaults); err != nil {
			return object.NewErrorInvalidConfiguration(provider.DisplayName(), "default_params", err)
		}
	}

	if len(overrides) > 0 {
		if err := request.SetOverrideParams(overrides); err != nil {
			return object.NewErrorInvalidConfiguration(provider.DisplayName(), "override_params", err)
		}
	}

	if len(providerCfg.RemoveParamKeys) > 0 {
		if err := request.RemoveParamKeys(providerCfg.RemoveParamKeys); err != nil {
			return object.NewErrorInvalidConfiguration(provider.DisplayName(), "remove_param_keys", err)
		}
	}

	return nil
}

func (l *OpenAITextToSpeechListener) handleSpeech(ctx context.Context, request object.LLMRequest) (*tts.AudioResponse, error) {
	speechRequest, ok := request.(tts.Request)
	if !ok {
		return nil, openai.NewErrorInternalError().WithCausef("unexpected request type %T", request)
	}

	audio, err := l.client.Speech(ctx, speechRequest)
	if err != nil {
		return nil, serverSideConfigurationError(err)
	}

	return audio, nil
}

// serverSideConfigurationError marks credential failures as the gateway's
// own, since gateway callers never pass provider credentials.
func serverSideConfigurationError(err error) error {
	var configurationErr *object.ConfigurationError
	if errors.As(err, &configurationErr) {
		return configurationErr.AsServerSide()
	}

	return err
}
