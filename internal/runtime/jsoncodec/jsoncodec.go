// Package jsoncodec is the single JSON entry point for queue payloads, API
// bodies and broadcast messages. It runs sonic with the encoding/json
// compatible settings so the envelope wire format matches other producers.
package jsoncodec

import (
	"bytes"
	"errors"

	"github.com/bytedance/sonic"
)

// ErrEmpty is returned by UnmarshalBody for a body holding only whitespace.
var ErrEmpty = errors.New("jsoncodec: empty body")

var api = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
}.Froze()

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// UnmarshalBody decodes a request or queue body, telling an empty body apart
// from a malformed one.
func UnmarshalBody(data []byte, v any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return ErrEmpty
	}
	return api.Unmarshal(data, v)
}
