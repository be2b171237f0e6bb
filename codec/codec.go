// Package codec provides the pluggable serialization layer.
//
// The connection engine consumes codecs only through the Codec interface:
// it never inspects argument or return value types itself. A codec must be
// able to encode/decode arbitrary caller values as well as the two envelope
// types from the message package.
package codec

type CodecType byte

const (
	CodecTypeJSON   CodecType = 0
	CodecTypeBinary CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeBinary {
		return &BinaryCodec{}
	}
	return &JSONCodec{}
}
