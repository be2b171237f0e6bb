package codec

import (
	"encoding/binary"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/alarouche/czrpc/message"
)

// BinaryCodec encodes the Request/Reply envelopes with a compact manual
// big-endian layout instead of JSON field names. Individual argument and
// return values still go through JSON: they are arbitrary caller types, and
// the envelope layout only has to be fast for the framing-heavy path.
//
// Request layout: nameLen u16 | name | argCount u16 | (argLen u32 | arg)...
// Reply layout:   errLen u16 | err | valueLen u32 | value
type BinaryCodec struct{}

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	switch m := v.(type) {
	case *message.Request:
		return c.encodeRequest(m), nil
	case *message.Reply:
		return c.encodeReply(m), nil
	default:
		return json.Marshal(v)
	}
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	switch m := v.(type) {
	case *message.Request:
		return c.decodeRequest(data, m)
	case *message.Reply:
		return c.decodeReply(data, m)
	default:
		return json.Unmarshal(data, v)
	}
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

func (c *BinaryCodec) encodeRequest(req *message.Request) []byte {
	total := 2 + len(req.Name) + 2
	for _, arg := range req.Args {
		total += 4 + len(arg)
	}
	buf := make([]byte, total)

	offset := 0
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(req.Name)))
	offset += 2
	copy(buf[offset:], req.Name)
	offset += len(req.Name)

	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(req.Args)))
	offset += 2
	for _, arg := range req.Args {
		binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(arg)))
		offset += 4
		copy(buf[offset:], arg)
		offset += len(arg)
	}
	return buf
}

func (c *BinaryCodec) decodeRequest(data []byte, req *message.Request) error {
	offset := 0
	nameLen, err := readLen16(data, &offset)
	if err != nil {
		return err
	}
	if offset+nameLen > len(data) {
		return errors.New("binary codec: request name out of bounds")
	}
	req.Name = string(data[offset : offset+nameLen])
	offset += nameLen

	argCount, err := readLen16(data, &offset)
	if err != nil {
		return err
	}
	req.Args = make([][]byte, 0, argCount)
	for i := 0; i < argCount; i++ {
		argLen, err := readLen32(data, &offset)
		if err != nil {
			return err
		}
		if offset+argLen > len(data) {
			return errors.Errorf("binary codec: argument %d out of bounds", i)
		}
		arg := make([]byte, argLen)
		copy(arg, data[offset:offset+argLen])
		offset += argLen
		req.Args = append(req.Args, arg)
	}
	return nil
}

func (c *BinaryCodec) encodeReply(rep *message.Reply) []byte {
	buf := make([]byte, 2+len(rep.Error)+4+len(rep.Value))

	offset := 0
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(len(rep.Error)))
	offset += 2
	copy(buf[offset:], rep.Error)
	offset += len(rep.Error)

	binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(len(rep.Value)))
	offset += 4
	copy(buf[offset:], rep.Value)
	return buf
}

func (c *BinaryCodec) decodeReply(data []byte, rep *message.Reply) error {
	offset := 0
	errLen, err := readLen16(data, &offset)
	if err != nil {
		return err
	}
	if offset+errLen > len(data) {
		return errors.New("binary codec: reply error out of bounds")
	}
	rep.Error = string(data[offset : offset+errLen])
	offset += errLen

	valueLen, err := readLen32(data, &offset)
	if err != nil {
		return err
	}
	if offset+valueLen > len(data) {
		return errors.New("binary codec: reply value out of bounds")
	}
	rep.Value = make([]byte, valueLen)
	copy(rep.Value, data[offset:offset+valueLen])
	return nil
}

func readLen16(data []byte, offset *int) (int, error) {
	if *offset+2 > len(data) {
		return 0, errors.New("binary codec: truncated length field")
	}
	n := int(binary.BigEndian.Uint16(data[*offset : *offset+2]))
	*offset += 2
	return n, nil
}

func readLen32(data []byte, offset *int) (int, error) {
	if *offset+4 > len(data) {
		return 0, errors.New("binary codec: truncated length field")
	}
	n := int(binary.BigEndian.Uint32(data[*offset : *offset+4]))
	*offset += 4
	return n, nil
}
