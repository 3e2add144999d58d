package filters

import (
	"context"
	"net/http"

	"speechway.dev/pkg/object"
	"speechway.dev/pkg/types/tts"
	"speechway.dev/pkg/utils"
)

type RequestFilter interface {
	isRequestFilter()
}

type IsRequestFilter struct{}

func (IsRequestFilter) isRequestFilter() {}

// OnRequestPreFilter runs before the request body is parsed.
type OnRequestPreFilter interface {
	RequestFilter

	OnRequestPre(ctx context.Context, sourceHTTPRequest *http.Request) RequestFilterResult
}

// OnTextToSpeechRequestFilter runs once the speech request is parsed and
// before it is sent upstream.
type OnTextToSpeechRequestFilter interface {
	RequestFilter

	OnTextToSpeechRequest(ctx context.Context, request object.LLMRequest, sourceHTTPRequest *http.Request) RequestFilterResult
}

// OnTextToSpeechResponseFilter observes a successful upstream response.
type OnTextToSpeechResponseFilter interface {
	RequestFilter

	OnTextToSpeechResponse(ctx context.Context, request object.LLMRequest, response *tts.AudioResponse) RequestFilterResult
}

type ResultType int

const (
	ResultTypeOK ResultType = iota
	ResultTypeFailed
)

type RequestFilterResult struct {
	Type  ResultType
	Error error
}

func NewOK() RequestFilterResult {
	return RequestFilterResult{Type: ResultTypeOK}
}

func NewFailed(err error) RequestFilterResult {
	return RequestFilterResult{Type: ResultTypeFailed, Error: err}
}

func (r RequestFilterResult) IsOK() bool {
	return r.Type == ResultTypeOK
}

func (r RequestFilterResult) IsFailed() bool {
	return r.Type == ResultTypeFailed
}

type RequestFilters []RequestFilter

func (r RequestFilters) OnRequestPreFilters() []OnRequestPreFilter {
	return utils.TypeAssertFrom[RequestFilter, OnRequestPreFilter](r)
}

func (r RequestFilters) OnTextToSpeechRequestFilters() []OnTextToSpeechRequestFilter {
	return utils.TypeAssertFrom[RequestFilter, OnTextToSpeechRequestFilter](r)
}

func (r RequestFilters) OnTextToSpeechResponseFilters() []OnTextToSpeechResponseFilter {
	return utils.TypeAssertFrom[RequestFilter, OnTextToSpeechResponseFilter](r)
}
