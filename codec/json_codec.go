package codec

import (
	"github.com/bytedance/sonic"
)

// JSONCodec serializes with sonic in its encoding/json compatible mode, so
// struct tags, custom (Un)Marshalers and map/slice decoding of any behave
// exactly like the standard library.
// Pros: human-readable, cross-language, easy to debug.
// Cons: larger payload (field names repeated).
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return sonic.ConfigStd.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return sonic.ConfigStd.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
