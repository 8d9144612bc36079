package jsoncodec

import (
	"bytes"
	"io"

	"github.com/bytedance/sonic"
)

// canonicalConfig produces byte-stable output: map keys sorted, no indentation,
// HTML escaped. Numbers decode as json.Number so integer and float params keep
// their textual form through a decode/encode cycle.
var canonicalConfig = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
	UseNumber:        true,
}.Froze()

func Marshal(v any) ([]byte, error) {
	return canonicalConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return canonicalConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return canonicalConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	enc := canonicalConfig.NewEncoder(w)
	return enc.Encode(v)
}

func Decode(r io.Reader, v any) error {
	dec := canonicalConfig.NewDecoder(r)
	return dec.Decode(v)
}

// Valid reports whether data is a syntactically valid JSON document.
func Valid(data []byte) bool {
	return canonicalConfig.Valid(bytes.TrimSpace(data))
}

// DecodeObject decodes a JSON object into a generic map. Numbers stay json.Number.
func DecodeObject(data []byte) (map[string]any, error) {
	var out map[string]any
	if err := canonicalConfig.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
