package object

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/samber/lo"
)

// ErrorKind separates caller mistakes (configuration, invalid request) from
// upstream problems (upstream status, transport).
type ErrorKind string

const (
	ErrorKindUnknown        ErrorKind = ""
	ErrorKindConfiguration  ErrorKind = "configuration_error"
	ErrorKindInvalidRequest ErrorKind = "invalid_request_error"
	ErrorKindUpstream       ErrorKind = "upstream_error"
	ErrorKindTransport      ErrorKind = "transport_error"
)

// StatusClientClosedRequest is reported when the caller cancelled the call
// before the upstream answered.
const StatusClientClosedRequest = 499

func marshalKindError(kind ErrorKind, code LLMErrorCode, message string, param *string) ([]byte, error) {
	return json.Marshal(map[string]any{
		"error": map[string]any{
			"type":    kind,
			"code":    code,
			"message": message,
			"param":   param,
		},
	})
}

// KindOf reports which kind of error err is, looking through wrapped errors.
func KindOf(err error) ErrorKind {
	var (
		configurationErr  *ConfigurationError
		invalidRequestErr *InvalidRequestError
		upstreamErr       *UpstreamError
		transportErr      *TransportError
	)

	switch {
	case err == nil:
		return ErrorKindUnknown
	case errors.As(err, &configurationErr):
		return ErrorKindConfiguration
	case errors.As(err, &invalidRequestErr):
		return ErrorKindInvalidRequest
	case errors.As(err, &upstreamErr):
		return ErrorKindUpstream
	case errors.As(err, &transportErr):
		return ErrorKindTransport
	default:
		return ErrorKindUnknown
	}
}

var _ LLMError = (*ConfigurationError)(nil)

// ConfigurationError means a credential or endpoint could not be resolved
// from the request or the process-wide configuration.
type ConfigurationError struct {
	Provider string
	Setting  string
	Message  string
	Cause    error
	EnvNames []string
	// ServerSide is set when the caller cannot supply the setting, so the
	// failure is reported as a server error instead of 401.
	ServerSide bool
}

func NewErrorMissingCredential(provider string, envNames ...string) *ConfigurationError {
	message := fmt.Sprintf("Missing %s API key.", provider)
	if len(envNames) > 0 {
		message = fmt.Sprintf("Missing %s API key. Set the %s environment variable or pass it as api_key.", provider, strings.Join(envNames, " or "))
	}

	return &ConfigurationError{
		Provider: provider,
		Setting:  "api_key",
		Message:  message,
		EnvNames: envNames,
	}
}

// AsServerSide rewords a missing credential for callers that go through a
// proxy and cannot pass provider credentials.
func (e *ConfigurationError) AsServerSide() *ConfigurationError {
	converted := *e
	converted.ServerSide = true

	if e.Setting == "api_key" {
		converted.Message = fmt.Sprintf("No %s API key is configured on the server.", e.Provider)
		if len(e.EnvNames) > 0 {
			converted.Message = fmt.Sprintf("No %s API key is configured on the server. The operator must set %s or the provider api_key in the gateway configuration.", e.Provider, strings.Join(e.EnvNames, " or "))
		}
	}

	return &converted
}

func NewErrorInvalidConfiguration(provider string, setting string, cause error) *ConfigurationError {
	return &ConfigurationError{
		Provider: provider,
		Setting:  setting,
		Message:  fmt.Sprintf("invalid %s for %s: %v", setting, provider, cause),
		Cause:    cause,
	}
}

func (e *ConfigurationError) Error() string {
	return e.Message
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

func (e *ConfigurationError) GetCode() string {
	if e.Setting == "api_key" {
		return string(LLMErrorCodeMissingAPIKey)
	}

	return string(LLMErrorCodeInvalidConfiguration)
}

func (e *ConfigurationError) GetMessage() string {
	return e.Message
}

func (e *ConfigurationError) GetStatus() int {
	if e.Setting == "api_key" && !e.ServerSide {
		return http.StatusUnauthorized
	}

	return http.StatusInternalServerError
}

func (e *ConfigurationError) MarshalJSON() ([]byte, error) {
	return marshalKindError(ErrorKindConfiguration, LLMErrorCode(e.GetCode()), e.Message, lo.EmptyableToPtr(e.Setting))
}

var _ LLMError = (*InvalidRequestError)(nil)

// InvalidRequestError means the caller must fix the request before retrying.
type InvalidRequestError struct {
	Code    LLMErrorCode
	Params  []string
	Message string
}

func NewErrorMissingParameters(params ...string) *InvalidRequestError {
	quoted := lo.Map(params, func(p string, _ int) string {
		return "'" + p + "'"
	})

	message := "Missing required parameter: " + strings.Join(quoted, ", ") + "."
	if len(params) > 1 {
		message = "Missing required parameters: " + strings.Join(quoted, ", ") + "."
	}

	return &InvalidRequestError{
		Code:    LLMErrorCodeMissingParameter,
		Params:  params,
		Message: message,
	}
}

func NewErrorInvalidParameter(param string, message string) *InvalidRequestError {
	return &InvalidRequestError{
		Code:    LLMErrorCodeInvalidParameter,
		Params:  []string{param},
		Message: message,
	}
}

func NewErrorUnsupportedProvider(provider string) *InvalidRequestError {
	return &InvalidRequestError{
		Code:    LLMErrorCodeUnsupportedProvider,
		Params:  []string{"model"},
		Message: fmt.Sprintf("Unsupported speech provider `%s`.", provider),
	}
}

func (e *InvalidRequestError) Error() string {
	return e.Message
}

func (e *InvalidRequestError) GetCode() string {
	return string(e.Code)
}

func (e *InvalidRequestError) GetMessage() string {
	return e.Message
}

func (e *InvalidRequestError) GetStatus() int {
	return http.StatusBadRequest
}

func (e *InvalidRequestError) MarshalJSON() ([]byte, error) {
	var param *string
	if len(e.Params) > 0 {
		param = lo.ToPtr(e.Params[0])
	}

	return marshalKindError(ErrorKindInvalidRequest, e.Code, e.Message, param)
}

var _ LLMError = (*UpstreamError)(nil)

// UpstreamError carries a non-success upstream response untouched so the
// caller can diagnose it.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Header     http.Header
	Body       []byte
	// UpstreamMessage is the human readable message extracted from Body, if any.
	UpstreamMessage string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s API Error: %d - %s", e.Provider, e.StatusCode, string(e.Body))
}

func (e *UpstreamError) GetCode() string {
	return string(LLMErrorCodeUpstreamError)
}

func (e *UpstreamError) GetMessage() string {
	if e.UpstreamMessage != "" {
		return e.UpstreamMessage
	}

	return e.Error()
}

func (e *UpstreamError) GetStatus() int {
	return e.StatusCode
}

func (e *UpstreamError) MarshalJSON() ([]byte, error) {
	return marshalKindError(ErrorKindUpstream, LLMErrorCodeUpstreamError, e.Error(), nil)
}

var _ LLMError = (*TransportError)(nil)

// TransportError means no upstream status is available: the connection
// failed, the body could not be read, or the call was cancelled.
type TransportError struct {
	Provider string
	Cause    error
}

func NewTransportError(provider string, cause error) *TransportError {
	return &TransportError{
		Provider: provider,
		Cause:    cause,
	}
}

func (e *TransportError) Error() string {
	switch {
	case e.Cancelled():
		return fmt.Sprintf("request to %s was cancelled: %v", e.Provider, e.Cause)
	case e.Timeout():
		return fmt.Sprintf("request to %s timed out: %v", e.Provider, e.Cause)
	default:
		return fmt.Sprintf("failed to reach %s: %v", e.Provider, e.Cause)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

func (e *TransportError) Cancelled() bool {
	return errors.Is(e.Cause, context.Canceled)
}

func (e *TransportError) Timeout() bool {
	if errors.Is(e.Cause, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(e.Cause, &netErr) && netErr.Timeout()
}

func (e *TransportError) GetCode() string {
	switch {
	case e.Cancelled():
		return string(LLMErrorCodeRequestCancelled)
	case e.Timeout():
		return string(LLMErrorCodeUpstreamTimeout)
	default:
		return string(LLMErrorCodeBadGateway)
	}
}

func (e *TransportError) GetMessage() string {
	return e.Error()
}

func (e *TransportError) GetStatus() int {
	switch {
	case e.Cancelled():
		return StatusClientClosedRequest
	case e.Timeout():
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (e *TransportError) MarshalJSON() ([]byte, error) {
	return marshalKindError(ErrorKindTransport, LLMErrorCode(e.GetCode()), e.Error(), nil)
}
