package codec

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/juju/errors"

	"user-rpc/message"
)

// BinaryCodec writes an RPCMessage as length-prefixed fields:
//
//	service(u16+n) method(u16+n) payload(u32+n) error(u16+n) metaCount(u16) {key(u16+n) value(u16+n)}*
type BinaryCodec struct{}

var errShortBuffer = errors.New("BinaryCodec: short buffer")

func (c *BinaryCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return nil, errors.New("BinaryCodec: v must be *RPCMessage")
	}

	if err := fits16("service", msg.Service, "method", msg.Method, "error", msg.Error); err != nil {
		return nil, err
	}
	if uint64(len(msg.Payload)) > math.MaxUint32 {
		return nil, errors.NotValidf("payload of %d bytes", len(msg.Payload))
	}
	if len(msg.Metadata) > math.MaxUint16 {
		return nil, errors.NotValidf("%d metadata entries", len(msg.Metadata))
	}

	keys := make([]string, 0, len(msg.Metadata))
	total := 2 + len(msg.Service) + 2 + len(msg.Method) + 4 + len(msg.Payload) + 2 + len(msg.Error) + 2
	for k, val := range msg.Metadata {
		if err := fits16("metadata key", k, "metadata "+k, val); err != nil {
			return nil, err
		}
		keys = append(keys, k)
		total += 2 + len(k) + 2 + len(val)
	}
	// Metadata keys are written in sorted order.
	sort.Strings(keys)

	buf := make([]byte, 0, total)
	buf = appendString16(buf, msg.Service)
	buf = appendString16(buf, msg.Method)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg.Payload)))
	buf = append(buf, msg.Payload...)
	buf = appendString16(buf, msg.Error)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(keys)))
	for _, k := range keys {
		buf = appendString16(buf, k)
		buf = appendString16(buf, msg.Metadata[k])
	}
	return buf, nil
}

func (c *BinaryCodec) Decode(data []byte, v any) error {
	msg, ok := v.(*message.RPCMessage)
	if !ok {
		return errors.New("BinaryCodec: v must be *RPCMessage")
	}

	r := reader{data: data}
	msg.Service = r.string16()
	msg.Method = r.string16()
	if n := r.uint32(); r.err == nil {
		msg.Payload = r.bytes(int(n))
	}
	msg.Error = r.string16()
	count := r.uint16()
	if count > 0 && r.err == nil {
		msg.Metadata = make(map[string]string, count)
		for i := 0; i < int(count); i++ {
			k := r.string16()
			msg.Metadata[k] = r.string16()
		}
	}
	return r.err
}

func (c *BinaryCodec) Type() CodecType {
	return CodecTypeBinary
}

// fits16 takes (name, value) pairs and rejects any value too long for a
// 16-bit length prefix.
func fits16(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if n := len(pairs[i+1]); n > math.MaxUint16 {
			return errors.NotValidf("%s of %d bytes", pairs[i], n)
		}
	}
	return nil
}

func appendString16(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// reader walks a buffer and remembers the first out-of-range read.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.data) {
		r.err = errShortBuffer
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) uint16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) string16() string {
	return string(r.take(int(r.uint16())))
}

func (r *reader) bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
