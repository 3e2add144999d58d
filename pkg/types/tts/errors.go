package tts

import (
	"errors"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"speechway.dev/pkg/object"
)

// upstreamMessagePaths lists where speech providers put a human readable
// message in their error bodies, most specific first.
var upstreamMessagePaths = []string{
	"detail.message",
	"detail",
	"error.message",
	"error",
	"message",
}

// UpstreamMessage extracts a readable message from an upstream error body.
// It returns an empty string when body is not JSON or has no known field.
func UpstreamMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}

	for _, path := range upstreamMessagePaths {
		result := gjson.GetBytes(body, path)
		if result.Type == gjson.String && result.String() != "" {
			return result.String()
		}
	}

	return ""
}

// ParseUpstreamError wraps a non-success upstream response. The body is kept
// byte for byte.
func ParseUpstreamError(provider string, resp *http.Response, body []byte) error {
	if resp == nil {
		return object.NewTransportError(provider, errors.New("upstream response is nil"))
	}

	return &object.UpstreamError{
		Provider:        provider,
		StatusCode:      resp.StatusCode,
		Header:          resp.Header.Clone(),
		Body:            body,
		UpstreamMessage: UpstreamMessage(body),
	}
}

// ReadBodyError drains and closes resp.Body, then builds the upstream error.
func ReadBodyError(provider string, resp *http.Response) error {
	if resp == nil {
		return object.NewTransportError(provider, errors.New("upstream response is nil"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return object.NewTransportError(provider, err)
	}

	return ParseUpstreamError(provider, resp, body)
}
