package listener

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"speechway.dev/pkg/filters"
	"speechway.dev/pkg/object"
	"speechway.dev/pkg/types/tts"
)

type Listener interface {
	RegisterRoutes(mux *mux.Router) error
}

// Drainable listeners stop accepting new requests once drained and cancel
// the in-flight ones after a grace period.
type Drainable interface {
	HasDrained() bool
	Drain(ctx context.Context) error
}

// HandlerFunc returns the response instead of writing it, so middlewares
// can observe both the response and the error.
type HandlerFunc func(writer http.ResponseWriter, request *http.Request) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// WithMiddlewares chains middlewares so the first one is the outermost.
func WithMiddlewares(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}

		return next
	}
}

func HTTPHandlerFunc(fn HandlerFunc) http.HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) {
		_, _ = fn(writer, request)
	}
}

// SpeechHandler performs the upstream call for a parsed speech request.
type SpeechHandler func(ctx context.Context, request object.LLMRequest) (*tts.AudioResponse, error)

func CommonListenerHandler(
	listenerFilters filters.RequestFilters,
	reversedFilters filters.RequestFilters,
	parseRequest func(request *http.Request) (object.LLMRequest, error),
	handle SpeechHandler,
) HandlerFunc {
	return func(writer http.ResponseWriter, request *http.Request) (any, error) {
		for _, f := range listenerFilters.OnRequestPreFilters() {
			fResult := f.OnRequestPre(request.Context(), request)
			if fResult.IsFailed() {
				return nil, fResult.Error
			}
		}

		llmRequest, err := parseRequest(request)
		if err != nil {
			return nil, err
		}

		if llmRequest.GetRequestType() == object.RequestTypeTextToSpeech {
			for _, f := range listenerFilters.OnTextToSpeechRequestFilters() {
				fResult := f.OnTextToSpeechRequest(request.Context(), llmRequest, request)
				if fResult.IsFailed() {
					return nil, fResult.Error
				}
			}
		}

		resp, err := handle(request.Context(), llmRequest)
		if err != nil {
			return nil, err
		}

		if !lo.IsNil(resp) {
			for _, f := range reversedFilters.OnTextToSpeechResponseFilters() {
				fResult := f.OnTextToSpeechResponse(request.Context(), llmRequest, resp)
				if fResult.IsFailed() {
					// The audio is already produced, so a failing response
					// filter is reported but does not fail the request.
					slog.Error("error occurred during invoking of OnTextToSpeechResponse filters", "error", fResult.Error)
				}
			}
		}

		return resp, nil
	}
}
