package metadata

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"speechway.dev/pkg/object"
)

type requestMetadataKey struct{}

// AuthInfo describes the gateway API key that authenticated the request.
type AuthInfo struct {
	APIKeyID    string
	UserID      string
	AllowModels []string
	DenyModels  []string
}

func (a *AuthInfo) GetAPIKeyID() string {
	if a == nil {
		return ""
	}

	return a.APIKeyID
}

func (a *AuthInfo) GetUserID() string {
	if a == nil {
		return ""
	}

	return a.UserID
}

// RequestMetadata is collected while a gateway request is served and is
// emitted by the access log once it completes.
type RequestMetadata struct {
	RequestID string

	// Timing
	RequestAt time.Time
	RespondAt time.Time

	// Auth
	EnabledAuthFilter bool
	AuthInfo          *AuthInfo

	// Request
	RequestModel string
	RequestVoice string

	// Response
	ResponseModel string
	StatusCode    int
	ErrorMessage  string

	// Upstream
	UpstreamProvider             string
	UpstreamRequestModel         string
	UpstreamRequestAt            time.Time
	UpstreamRespondAt            time.Time
	UpstreamResponseStatusCode   int
	UpstreamResponseHeader       mo.Option[http.Header]
	UpstreamResponseErrorMessage string
	UpstreamCharactersUsage      mo.Option[object.LLMCharactersUsage]
}

func NewRequestMetadata() *RequestMetadata {
	return &RequestMetadata{
		RequestID:               uuid.NewString(),
		UpstreamResponseHeader:  mo.None[http.Header](),
		UpstreamCharactersUsage: mo.None[object.LLMCharactersUsage](),
	}
}

// InitMetadataContext attaches fresh metadata to the request context. An
// incoming X-Request-Id header is kept as the request ID.
func InitMetadataContext(request *http.Request) context.Context {
	rMeta := NewRequestMetadata()
	if requestID := request.Header.Get("X-Request-Id"); requestID != "" {
		rMeta.RequestID = requestID
	}

	return WithRequestMetadata(request.Context(), rMeta)
}

func WithRequestMetadata(ctx context.Context, rMeta *RequestMetadata) context.Context {
	return context.WithValue(ctx, requestMetadataKey{}, rMeta)
}

// RequestMetadataFromCtx never returns nil: outside of a gateway request a
// detached value is returned so callers can record into it unconditionally.
func RequestMetadataFromCtx(ctx context.Context) *RequestMetadata {
	rMeta, ok := ctx.Value(requestMetadataKey{}).(*RequestMetadata)
	if !ok || rMeta == nil {
		return NewRequestMetadata()
	}

	return rMeta
}
