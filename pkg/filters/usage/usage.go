package usage

import (
	"context"
	"log/slog"

	"speechway.dev/pkg/filters"
	"speechway.dev/pkg/metadata"
	"speechway.dev/pkg/object"
	"speechway.dev/pkg/types/tts"
)

var _ filters.RequestFilter = (*UsageFilter)(nil)
var _ filters.OnTextToSpeechResponseFilter = (*UsageFilter)(nil)

// UsageFilter emits one usage record per synthesized response, attributed to
// the gateway API key that made the call.
type UsageFilter struct {
	filters.IsRequestFilter

	logger *slog.Logger
}

func NewWithLogger(logger *slog.Logger) filters.RequestFilter {
	if logger == nil {
		logger = slog.Default()
	}

	return &UsageFilter{logger: logger.With(slog.String("filter", "usage"))}
}

func (f *UsageFilter) OnTextToSpeechResponse(ctx context.Context, request object.LLMRequest, response *tts.AudioResponse) filters.RequestFilterResult {
	rMeta := metadata.RequestMetadataFromCtx(ctx)
	rMeta.ResponseModel = response.GetModel()

	usage, ok := object.AsLLMCharactersUsage(response.GetUsage())
	if !ok {
		return filters.NewOK()
	}

	f.logger.InfoContext(ctx, "speech usage",
		slog.String("request_id", rMeta.RequestID),
		slog.String("api_key_id", rMeta.AuthInfo.GetAPIKeyID()),
		slog.String("user_id", rMeta.AuthInfo.GetUserID()),
		slog.String("provider", rMeta.UpstreamProvider),
		slog.String("request_model", request.GetModel()),
		slog.String("model", response.GetModel()),
		slog.Uint64("input_characters", usage.GetInputCharacters()),
		slog.Int("audio_bytes", len(response.Bytes())),
	)

	return filters.NewOK()
}
