package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/lo"

	"speechway.dev/pkg/object"
	"speechway.dev/pkg/utils"
)

const (
	scalarNullJSON  = "null"
	scalarNilGolang = "<nil>"
)

type Error struct {
	Code    *string `json:"code"`
	Message string  `json:"message"`
	Param   *string `json:"param"`
	Type    string  `json:"type"`
}

// optionalField reads a scalar at path, treating null as absent.
func optionalField(parsed map[string]any, path string) (*string, error) {
	value, err := utils.GetByJSONPathWithoutConvert(parsed, path)
	if err != nil {
		return nil, err
	}

	if value == scalarNullJSON || value == scalarNilGolang {
		return nil, nil
	}

	return lo.EmptyableToPtr(value), nil
}

// UnmarshalJSON accepts the loosely typed error bodies returned by
// OpenAI-compatible upstreams, where code may be a number or null.
func (e *Error) UnmarshalJSON(data []byte) error {
	var parsed map[string]any

	err := json.Unmarshal(data, &parsed)
	if err != nil {
		return fmt.Errorf("failed to unmarshal error: %w", err)
	}

	fields := []struct {
		path string
		dst  **string
	}{
		{"{ .code }", &e.Code},
		{"{ .param }", &e.Param},
	}

	for _, field := range fields {
		*field.dst, err = optionalField(parsed, field.path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", field.path, err)
		}
	}

	errType, err := optionalField(parsed, "{ .type }")
	if err != nil {
		return fmt.Errorf("failed to read type: %w", err)
	}

	message, err := optionalField(parsed, "{ .message }")
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	e.Type = lo.FromPtrOr(errType, "")
	e.Message = lo.FromPtrOr(message, "")

	if e.Message == "" {
		e.Message = fmt.Sprintf("upstream returned an error without a message (code: %s, type: %s)", lo.FromPtrOr(e.Code, ""), e.Type)
	}

	return nil
}

var _ object.LLMError = (*ErrorResponse)(nil)

type ErrorResponse struct { //nolint:errname
	Status       int    `json:"-"`
	FromUpstream bool   `json:"-"`
	ErrorBody    *Error `json:"error"`
	Cause        error  `json:"-"`
}

func (e *ErrorResponse) Error() string {
	return e.ErrorBody.Message
}

// WithCause records err and appends its text to the client-facing message.
func (e *ErrorResponse) WithCause(err error) *ErrorResponse {
	e.Cause = err

	if e.ErrorBody == nil {
		e.ErrorBody = &Error{}
	}

	e.ErrorBody.Message = strings.TrimPrefix(e.ErrorBody.Message+": "+err.Error(), ": ")

	return e
}

func (e *ErrorResponse) WithCausef(format string, args ...any) *ErrorResponse {
	e.WithCause(fmt.Errorf(format, args...)) //nolint:errcheck

	return e
}

func (e *ErrorResponse) GetCode() string {
	return lo.FromPtrOr(e.ErrorBody.Code, "")
}

func (e *ErrorResponse) GetMessage() string {
	return e.ErrorBody.Message
}

func (e *ErrorResponse) GetStatus() int {
	return e.Status
}

func (e *ErrorResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"error": e.ErrorBody,
	})
}

func (e *ErrorResponse) UnmarshalJSON(data []byte) error {
	var errorBody Error

	err := json.Unmarshal(data, &errorBody)
	if err != nil {
		return fmt.Errorf("failed to unmarshal error body: %w", err)
	}

	e.ErrorBody = &errorBody

	return nil
}

func NewErrorResponse(status int, err Error) *ErrorResponse {
	return &ErrorResponse{
		Status:    status,
		ErrorBody: &err,
	}
}

// NewErrorMissingAPIKey mirrors the OpenAI response for a request without
// Authorization.
func NewErrorMissingAPIKey() *ErrorResponse {
	return NewErrorResponse(http.StatusUnauthorized, Error{
		Message: "" +
			"You didn't provide an API key. You need to provide your API key in an Authorization header using Bearer auth " +
			"(i.e. Authorization: Bearer YOUR_KEY), or as the password field (with blank username) if you're accessing the " +
			"API from your browser and are prompted for a username and password. You can obtain an API key from " +
			"https://platform.openai.com/account/api-keys.",
		Type: "invalid_request_error",
	})
}

func NewErrorIncorrectAPIKey(apiKey string) *ErrorResponse {
	return NewErrorResponse(http.StatusUnauthorized, Error{
		Message: "Incorrect API key provided: " + apiKey + ". You can find your API key at https://platform.openai.com/account/api-keys.",
		Type:    "invalid_request_error",
		Code:    lo.ToPtr("invalid_api_key"),
	})
}

// NewErrorInvalidBody is returned when the request body is not valid JSON.
func NewErrorInvalidBody() *ErrorResponse {
	return NewErrorResponse(http.StatusBadRequest, Error{
		Message: "" +
			"We could not parse the JSON body of your request. " +
			"(HINT: This likely means you aren't using your HTTP " +
			"library correctly. The OpenAI API expects a JSON " +
			"payload, but what was sent was not valid JSON. If you " +
			"have trouble figuring out how to fix this, please " +
			"contact us through our help center at help.openai.com.)",
		Type: "invalid_request_error",
	})
}

func NewErrorNotFound(method string, url string) *ErrorResponse {
	return NewErrorResponse(http.StatusNotFound, Error{
		Message: fmt.Sprintf("Invalid URL (%s %s)", strings.ToUpper(method), url),
		Type:    "invalid_request_error",
	})
}

func NewErrorModelAccessDenied(model string) *ErrorResponse {
	return NewErrorResponse(http.StatusForbidden, Error{
		Message: fmt.Sprintf("You do not have access to the model `%s`.", model),
		Type:    "invalid_request_error",
		Code:    lo.ToPtr("model_access_denied"),
	})
}

func NewErrorRateLimitExceeded() *ErrorResponse {
	return NewErrorResponse(http.StatusTooManyRequests, Error{
		Message: "You have exceeded the rate limit. Please try again later.",
		Type:    "requests",
		Code:    lo.ToPtr("rate_limit_exceeded"),
	})
}

func NewErrorInternalError() *ErrorResponse {
	return NewErrorResponse(http.StatusInternalServerError, Error{
		Message: "internal error",
		Type:    "internal_error",
	})
}

func NewErrorServiceUnavailable() *ErrorResponse {
	return NewErrorResponse(http.StatusServiceUnavailable, Error{
		Message: "service unavailable",
		Type:    "internal_error",
	})
}

// NewErrorFromLLMError renders any error in the OpenAI error shape. Upstream
// errors keep the upstream status code.
func NewErrorFromLLMError(err error) *ErrorResponse {
	llmError := object.AsLLMError(err)
	if llmError == nil {
		return NewErrorInternalError().WithCause(err)
	}

	var openaiErrorResp *ErrorResponse
	if errors.As(err, &openaiErrorResp) {
		return openaiErrorResp
	}

	if kind := object.KindOf(err); kind != object.ErrorKindUnknown {
		resp := NewErrorResponse(llmError.GetStatus(), Error{
			Code:    lo.EmptyableToPtr(llmError.GetCode()),
			Message: llmError.GetMessage(),
			Type:    string(kind),
		})

		var invalidRequestErr *object.InvalidRequestError
		if errors.As(err, &invalidRequestErr) && len(invalidRequestErr.Params) > 0 {
			resp.ErrorBody.Param = lo.ToPtr(invalidRequestErr.Params[0])
		}

		var configurationErr *object.ConfigurationError
		if errors.As(err, &configurationErr) {
			resp.ErrorBody.Param = lo.EmptyableToPtr(configurationErr.Setting)
		}

		resp.FromUpstream = kind == object.ErrorKindUpstream
		resp.Cause = err

		return resp
	}

	m := map[string]func() *ErrorResponse{
		string(object.LLMErrorCodeModelAccessDenied): func() *ErrorResponse {
			newError := NewErrorModelAccessDenied("")
			newError.ErrorBody.Message = llmError.GetMessage()

			return newError
		},
		string(object.LLMErrorCodeRateLimitExceeded): NewErrorRateLimitExceeded,
		string(object.LLMErrorCodeMissingAPIKey):     NewErrorMissingAPIKey,
		string(object.LLMErrorCodeIncorrectAPIKey): func() *ErrorResponse {
			newError := NewErrorIncorrectAPIKey("******")
			newError.ErrorBody.Message = llmError.GetMessage()

			return newError
		},
		string(object.LLMErrorCodeServiceUnavailable): NewErrorServiceUnavailable,
		string(object.LLMErrorCodeInternalError): func() *ErrorResponse {
			newError := NewErrorInternalError()
			newError.ErrorBody.Message = llmError.GetMessage()

			return newError
		},
	}

	errorConstructor, ok := m[llmError.GetCode()]
	if !ok {
		return NewErrorResponse(llmError.GetStatus(), Error{
			Code:    lo.ToPtr(llmError.GetCode()),
			Message: llmError.GetMessage(),
		})
	}

	return errorConstructor()
}
