package listener

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/nekomeowww/fo"

	"speechway.dev/pkg/metadata"
	"speechway.dev/pkg/object"
	"speechway.dev/pkg/types/openai"
)

func WithAccessLog(enable bool) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(writer http.ResponseWriter, request *http.Request) (any, error) {
			resp, err := next(writer, request)
			if !enable {
				return resp, err
			}

			rMeta := metadata.RequestMetadataFromCtx(request.Context())

			attrs := []any{
				slog.String("request_id", rMeta.RequestID),
				slog.String("method", request.Method),
				slog.String("protocol", request.Proto),
				slog.String("host", request.Host),
				slog.String("uri", request.RequestURI),
				slog.String("remote_address", request.RemoteAddr),
				slog.String("x_forwarded_for", request.Header.Get("X-Forwarded-For")),
				slog.Duration("response_duration", rMeta.RespondAt.Sub(rMeta.RequestAt)),
				slog.String("auth_info_api_key_id", rMeta.AuthInfo.GetAPIKeyID()),
				slog.String("auth_info_user_id", rMeta.AuthInfo.GetUserID()),
				slog.String("request_model", rMeta.RequestModel),
				slog.String("request_voice", rMeta.RequestVoice),
				slog.String("response_model", rMeta.ResponseModel),
				slog.Int("response_status", rMeta.StatusCode),
				slog.String("upstream_provider", rMeta.UpstreamProvider),
				slog.String("upstream_request_model", rMeta.UpstreamRequestModel),
				slog.Int("upstream_response_status_code", rMeta.UpstreamResponseStatusCode),
			}

			if usage, ok := rMeta.UpstreamCharactersUsage.Get(); ok {
				attrs = append(attrs, slog.Uint64("usage_input_characters", usage.GetInputCharacters()))
			}

			if !rMeta.UpstreamRespondAt.IsZero() {
				attrs = append(attrs, slog.Duration("upstream_duration", rMeta.UpstreamRespondAt.Sub(rMeta.UpstreamRequestAt)))
			}

			if rMeta.ErrorMessage != "" {
				attrs = append(attrs, slog.String("error", rMeta.ErrorMessage))
			}

			slog.Info("", attrs...)

			return resp, err
		}
	}
}

func WithInitMetadata() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(writer http.ResponseWriter, request *http.Request) (any, error) {
			ctx := metadata.InitMetadataContext(request)
			writer.Header().Set("X-Request-Id", metadata.RequestMetadataFromCtx(ctx).RequestID)

			return next(writer, request.WithContext(ctx))
		}
	}
}

func WithOptions() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(writer http.ResponseWriter, request *http.Request) (any, error) {
			if request.Method == http.MethodOptions {
				writer.WriteHeader(http.StatusNoContent)
				return nil, nil
			}

			return next(writer, request)
		}
	}
}

func WithRecoverWithError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(writer http.ResponseWriter, request *http.Request) (resp any, err error) {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Recovered from panic",
						slog.Any("panic", r),
						slog.String("url", request.URL.String()),
						slog.String("stack", string(debug.Stack())),
					)

					resp, err = nil, openai.NewErrorInternalError()
				}
			}()

			return next(writer, request)
		}
	}
}

type CancellableRequestMap struct {
	mutex            sync.Mutex
	requestCancelMap map[*http.Request]context.CancelFunc
}

func NewCancellableRequestMap() *CancellableRequestMap {
	return &CancellableRequestMap{
		requestCancelMap: make(map[*http.Request]context.CancelFunc),
	}
}

func (l *CancellableRequestMap) Add(req *http.Request, cancel context.CancelFunc) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.requestCancelMap[req] = cancel
}

func (l *CancellableRequestMap) Remove(req *http.Request) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	delete(l.requestCancelMap, req)
}

func (l *CancellableRequestMap) Len() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	return len(l.requestCancelMap)
}

func (l *CancellableRequestMap) CancelAll() {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	for _, cancel := range l.requestCancelMap {
		cancel()
	}
}

// CancelAllAfterWithContext waits for timeout, or until every request has
// finished, then cancels whatever is still in flight. ctx cuts the wait
// short.
func (l *CancellableRequestMap) CancelAllAfterWithContext(ctx context.Context, timeout time.Duration) {
	_ = fo.Invoke0(ctx, func() error {
		deadline := time.NewTimer(timeout)
		defer deadline.Stop()

		ticker := time.NewTicker(50 * time.Millisecond) //nolint:mnd
		defer ticker.Stop()

		for l.Len() > 0 {
			select {
			case <-deadline.C:
				l.CancelAll()
				return nil
			case <-ticker.C:
			}
		}

		return nil
	})

	if ctx.Err() != nil {
		l.CancelAll()
	}
}

func WithCancellable(cancellable *CancellableRequestMap) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(writer http.ResponseWriter, request *http.Request) (any, error) {
			ctx, cancel := context.WithCancel(request.Context())
			defer cancel()

			cancellable.Add(request, cancel)
			defer cancellable.Remove(request)

			return next(writer, request.WithContext(ctx))
		}
	}
}

func WithRejectAfterDrainedWithError(d Drainable) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(writer http.ResponseWriter, request *http.Request) (any, error) {
			if d.HasDrained() {
				return nil, object.NewErrorServiceUnavailable()
			}

			return next(writer, request)
		}
	}
}

func WithRequestTimer() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(writer http.ResponseWriter, request *http.Request) (any, error) {
			metadata.RequestMetadataFromCtx(request.Context()).RequestAt = time.Now()
			resp, err := next(writer, request)
			metadata.RequestMetadataFromCtx(request.Context()).RespondAt = time.Now()

			return resp, err
		}
	}
}

func WithResponseHandler(fn func(resp any, err error, writer http.ResponseWriter, request *http.Request)) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(writer http.ResponseWriter, request *http.Request) (any, error) {
			resp, err := next(writer, request)
			fn(resp, err, writer, request)

			return nil, nil
		}
	}
}

// NotFoundHandler answers unknown routes with an OpenAI style error.
func NotFoundHandler() http.Handler {
	return HTTPHandlerFunc(WithMiddlewares(
		WithInitMetadata(),
		WithResponseHandler(openai.ResponseHandler()),
	)(func(writer http.ResponseWriter, request *http.Request) (any, error) {
		return nil, openai.NewErrorNotFound(request.Method, request.URL.Path)
	}))
}
