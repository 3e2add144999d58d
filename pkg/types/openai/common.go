package openai

import (
	"bytes"
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"google.golang.org/protobuf/types/known/structpb"
)

type JSONPatchOperationObject struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// patchValue unwraps protobuf values so they encode as plain JSON.
func patchValue(value any) any {
	switch v := value.(type) {
	case *structpb.Value:
		return v.AsInterface()
	case **structpb.Value:
		if v == nil {
			return nil
		}

		return (*v).AsInterface()
	default:
		return value
	}
}

func NewAdd(path string, value any) *JSONPatchOperationObject {
	return &JSONPatchOperationObject{Op: "add", Path: path, Value: patchValue(value)}
}

func NewRemove(path string) *JSONPatchOperationObject {
	return &JSONPatchOperationObject{Op: "remove", Path: path}
}

func NewPatches(patches ...*JSONPatchOperationObject) []byte {
	bs, _ := json.Marshal(patches)
	return bs
}

func modifyBufferBodyAndParsed(buffer *bytes.Buffer, applyOpt *jsonpatch.ApplyOptions, patches ...*JSONPatchOperationObject) (*bytes.Buffer, map[string]any, error) {
	patch, err := jsonpatch.DecodePatch(NewPatches(patches...))
	if err != nil {
		return nil, nil, err
	}

	if applyOpt == nil {
		applyOpt = jsonpatch.NewApplyOptions()
	}

	patched, err := patch.ApplyWithOptions(buffer.Bytes(), applyOpt)
	if err != nil {
		return nil, nil, err
	}

	var newParsed map[string]any

	err = json.Unmarshal(patched, &newParsed)
	if err != nil {
		return nil, nil, err
	}

	return bytes.NewBuffer(patched), newParsed, nil
}
