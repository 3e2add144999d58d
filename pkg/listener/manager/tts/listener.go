package tts

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/lo/mutable"

	"speechway.dev/config"
	"speechway.dev/pkg/bootkit"
	"speechway.dev/pkg/filters"
	"speechway.dev/pkg/filters/auth"
	"speechway.dev/pkg/filters/ratelimit"
	"speechway.dev/pkg/filters/usage"
	"speechway.dev/pkg/listener"
	"speechway.dev/pkg/metrics"
	"speechway.dev/pkg/speech"
	"speechway.dev/pkg/types/openai"
	"speechway.dev/pkg/utils"
)

const defaultDrainWaitTime = 5 * time.Second

var _ listener.Listener = (*OpenAITextToSpeechListener)(nil)
var _ listener.Drainable = (*OpenAITextToSpeechListener)(nil)

// OpenAITextToSpeechListener serves the OpenAI compatible speech endpoint and
// the ElevenLabs voice management endpoints.
type OpenAITextToSpeechListener struct {
	cfg             *config.Config
	client          *speech.Client
	filters         filters.RequestFilters
	reversedFilters filters.RequestFilters
	cancellable     *listener.CancellableRequestMap

	mutex   sync.RWMutex
	drained bool
}

func NewRequestFilters(cfg *config.Config, m *metrics.Metrics, lifecycle bootkit.LifeCycle) (filters.RequestFilters, error) {
	fs := make(filters.RequestFilters, 0, 3)

	if cfg.Auth.Enabled {
		f, err := auth.NewWithConfig(cfg.Auth)
		if err != nil {
			return nil, err
		}

		fs = append(fs, f)
	}

	if cfg.RateLimit.Enabled {
		f, err := ratelimit.NewWithConfig(cfg.RateLimit, m, lifecycle)
		if err != nil {
			return nil, err
		}

		fs = append(fs, f)
	}

	fs = append(fs, usage.NewWithLogger(slog.Default()))

	return fs, nil
}

func NewOpenAITextToSpeechListener(cfg *config.Config, client *speech.Client, requestFilters filters.RequestFilters, lifecycle bootkit.LifeCycle) (*OpenAITextToSpeechListener, error) {
	l := &OpenAITextToSpeechListener{
		cfg:         cfg,
		client:      client,
		filters:     requestFilters,
		cancellable: listener.NewCancellableRequestMap(),
	}

	lifecycle.Append(bootkit.LifeCycleHook{
		HookName: "speech-listener",
		OnStop:   l.Drain,
	})

	l.reversedFilters = utils.Clone(l.filters)
	mutable.Reverse(l.reversedFilters)

	return l, nil
}

func (l *OpenAITextToSpeechListener) middlewares() listener.Middleware {
	return listener.WithMiddlewares(
		listener.WithCancellable(l.cancellable),
		listener.WithInitMetadata(),
		listener.WithAccessLog(l.cfg.Gateway.AccessLog),
		listener.WithRequestTimer(),
		listener.WithOptions(),
		listener.WithResponseHandler(openai.ResponseHandler()),
		listener.WithRecoverWithError(),
		listener.WithRejectAfterDrainedWithError(l),
	)
}

func (l *OpenAITextToSpeechListener) RegisterRoutes(router *mux.Router) error {
	middlewares := l.middlewares()

	router.Handle("/v1/audio/speech", listener.HTTPHandlerFunc(middlewares(listener.CommonListenerHandler(
		l.filters,
		l.reversedFilters,
		l.unmarshalTextToSpeechRequestToLLMRequest,
		l.handleSpeech,
	)))).Methods(http.MethodPost, http.MethodOptions)

	router.Handle("/v1/voices", listener.HTTPHandlerFunc(middlewares(l.withPreFilters(l.listVoices)))).Methods(http.MethodGet)
	router.Handle("/v1/voices", listener.HTTPHandlerFunc(middlewares(l.withPreFilters(l.createVoice)))).Methods(http.MethodPost)
	router.Handle("/v1/voices/{voice_id}", listener.HTTPHandlerFunc(middlewares(l.withPreFilters(l.getVoice)))).Methods(http.MethodGet)
	router.Handle("/v1/voices/{voice_id}", listener.HTTPHandlerFunc(middlewares(l.withPreFilters(l.deleteVoice)))).Methods(http.MethodDelete)

	return nil
}

func (l *OpenAITextToSpeechListener) HasDrained() bool {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.drained
}

func (l *OpenAITextToSpeechListener) Drain(ctx context.Context) error {
	l.mutex.Lock()
	l.drained = true
	l.mutex.Unlock()

	drainWait := l.cfg.Gateway.DrainWait
	if drainWait <= 0 {
		drainWait = defaultDrainWaitTime
	}

	l.cancellable.CancelAllAfterWithContext(ctx, drainWait)

	return nil
}
