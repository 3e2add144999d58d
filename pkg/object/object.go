package object

import (
	"encoding/json"
	"errors"
	"net/http"

	"google.golang.org/protobuf/types/known/structpb"
)

type RequestType string

const (
	RequestTypeTextToSpeech RequestType = "text_to_speech"
	RequestTypeVoices       RequestType = "voices"
)

type LLMRequest interface {
	IsStream() bool
	GetModel() string
	SetModel(modelName string) error

	SetOverrideParams(params map[string]*structpb.Value) error
	SetDefaultParams(params map[string]*structpb.Value) error
	RemoveParamKeys(keys []string) error

	GetRequestType() RequestType
	GetRawRequest() *http.Request
}

type LLMResponse interface {
	json.Marshaler

	IsStream() bool
	GetRequestID() string
	GetUsage() LLMUsage
	GetError() LLMError

	GetModel() string
	SetModel(modelName string) error
}

func IsLLMResponse(r any) bool {
	_, ok := r.(LLMResponse)
	return ok
}

type LLMError interface {
	error
	json.Marshaler

	GetCode() string
	GetMessage() string
	GetStatus() int
}

func IsLLMError(err error) bool {
	var llmErr LLMError
	return errors.As(err, &llmErr)
}

func AsLLMError(err error) LLMError {
	var llmErr LLMError
	if errors.As(err, &llmErr) {
		return llmErr
	}

	return nil
}

type LLMUsage interface {
	isLLMUsage()
}

// LLMCharactersUsage is reported by text-to-speech responses, which are
// billed by input characters rather than tokens.
type LLMCharactersUsage interface {
	LLMUsage

	GetInputCharacters() uint64
}

func AsLLMCharactersUsage(u LLMUsage) (LLMCharactersUsage, bool) {
	c, ok := u.(LLMCharactersUsage)
	return c, ok
}

var _ LLMUsage = (*IsLLMUsage)(nil)

type IsLLMUsage struct{}

func (IsLLMUsage) isLLMUsage() {}

var _ LLMCharactersUsage = (*CharactersUsage)(nil)

type CharactersUsage struct {
	IsLLMUsage

	InputCharacters uint64 `json:"input_characters"`
}

func (u *CharactersUsage) GetInputCharacters() uint64 {
	if u == nil {
		return 0
	}

	return u.InputCharacters
}
