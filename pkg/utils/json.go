package utils

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"k8s.io/client-go/util/jsonpath"
)

func ReadAsJSONWithClose(readCloser io.ReadCloser) (*bytes.Buffer, map[string]any, error) {
	defer readCloser.Close()

	buffer := new(bytes.Buffer)

	_, err := buffer.ReadFrom(readCloser)
	if err != nil {
		return buffer, nil, err
	}

	var parsed map[string]any

	err = json.Unmarshal(buffer.Bytes(), &parsed)
	if err != nil {
		return buffer, nil, err
	}

	return buffer, parsed, nil
}

func findByJSONPath(obj any, template string) (any, bool) {
	j := jsonpath.New("")
	j.AllowMissingKeys(true)

	err := j.Parse(template)
	if err != nil {
		return nil, false
	}

	results, err := j.FindResults(obj)
	if err != nil || len(results) == 0 || len(results[0]) == 0 {
		return nil, false
	}

	value := results[0][0]
	if !value.IsValid() || !value.CanInterface() {
		return nil, false
	}

	return value.Interface(), true
}

// GetByJSONPathWithoutConvert renders the template against obj as text.
func GetByJSONPathWithoutConvert(obj any, template string) (string, error) {
	j := jsonpath.New("")
	j.AllowMissingKeys(true)

	err := j.Parse(template)
	if err != nil {
		return "", err
	}

	buffer := new(bytes.Buffer)

	err = j.Execute(buffer, obj)
	if err != nil {
		return "", err
	}

	return buffer.String(), nil
}

// GetByJSONPath looks up the first value matched by template and converts it
// into T, returning the zero value when nothing matched or conversion fails.
func GetByJSONPath[T any](obj any, template string) T {
	var empty T

	raw, ok := findByJSONPath(obj, template)
	if !ok || raw == nil {
		return empty
	}

	if typed, ok := raw.(T); ok {
		return typed
	}

	if str, ok := raw.(string); ok {
		return FromStringOrEmpty[T](str)
	}

	bs, err := json.Marshal(raw)
	if err != nil {
		return empty
	}

	var converted T

	err = json.Unmarshal(bs, &converted)
	if err != nil {
		return empty
	}

	return converted
}

func FromMap[T any](m map[string]any) (*T, error) {
	bs, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	var obj T

	err = json.Unmarshal(bs, &obj)
	if err != nil {
		return nil, err
	}

	return &obj, nil
}

func WriteJSONForHTTP(status int, resp any, writer http.ResponseWriter) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)

	if resp == nil {
		return
	}

	_ = json.NewEncoder(writer).Encode(resp)
}

func SafeFlush(writer http.ResponseWriter) {
	flusher, ok := writer.(http.Flusher)
	if !ok {
		return
	}

	flusher.Flush()
}
