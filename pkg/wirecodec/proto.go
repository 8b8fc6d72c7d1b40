package wirecodec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Minimal proto2 wire support for the fixed Mumble message schema. The
// schema is frozen by the protocol, so a full protobuf runtime buys
// nothing over direct field readers and writers.

const (
	wireVarint  = 0
	wireFixed64 = 1
	wireBytes   = 2
	wireFixed32 = 5
)

type protoReader struct {
	buf []byte
	pos int
}

func (r *protoReader) more() bool { return r.pos < len(r.buf) }

func (r *protoReader) readKey() (field int, wire int, err error) {
	k, err := r.readVarint()
	if err != nil {
		return 0, 0, err
	}
	return int(k >> 3), int(k & 7), nil
}

func (r *protoReader) readVarint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		if r.pos >= len(r.buf) {
			return 0, fmt.Errorf("truncated varint")
		}
		b := r.buf[r.pos]
		r.pos++
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
		if shift > 63 {
			return 0, fmt.Errorf("varint overflow")
		}
	}
}

func (r *protoReader) readBytes() ([]byte, error) {
	n, err := r.readVarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(r.buf)-r.pos) {
		return nil, fmt.Errorf("truncated field: %d bytes wanted, %d left", n, len(r.buf)-r.pos)
	}
	out := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return out, nil
}

func (r *protoReader) readFixed32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("truncated fixed32")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// skip consumes a field of the given wire type.
func (r *protoReader) skip(wire int) error {
	switch wire {
	case wireVarint:
		_, err := r.readVarint()
		return err
	case wireFixed64:
		if r.pos+8 > len(r.buf) {
			return fmt.Errorf("truncated fixed64")
		}
		r.pos += 8
		return nil
	case wireBytes:
		_, err := r.readBytes()
		return err
	case wireFixed32:
		_, err := r.readFixed32()
		return err
	}
	return fmt.Errorf("unsupported wire type %d", wire)
}

func (r *protoReader) readString() (string, error) {
	b, err := r.readBytes()
	return string(b), err
}

func (r *protoReader) readBool() (bool, error) {
	v, err := r.readVarint()
	return v != 0, err
}

func (r *protoReader) readFloat() (float32, error) {
	v, err := r.readFixed32()
	return math.Float32frombits(v), err
}

// readUint32s reads one repeated-uint32 occurrence, accepting both the
// packed and the unpacked encoding.
func (r *protoReader) readUint32s(wire int, dst []uint32) ([]uint32, error) {
	if wire == wireBytes {
		packed, err := r.readBytes()
		if err != nil {
			return dst, err
		}
		sub := protoReader{buf: packed}
		for sub.more() {
			v, err := sub.readVarint()
			if err != nil {
				return dst, err
			}
			dst = append(dst, uint32(v))
		}
		return dst, nil
	}
	v, err := r.readVarint()
	if err != nil {
		return dst, err
	}
	return append(dst, uint32(v)), nil
}

func (r *protoReader) readInt32s(wire int, dst []int32) ([]int32, error) {
	vals, err := r.readUint32s(wire, nil)
	if err != nil {
		return dst, err
	}
	for _, v := range vals {
		dst = append(dst, int32(v))
	}
	return dst, nil
}

type protoWriter struct {
	buf []byte
}

func (w *protoWriter) writeVarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

func (w *protoWriter) writeKey(field, wire int) {
	w.writeVarint(uint64(field)<<3 | uint64(wire))
}

func (w *protoWriter) uint32Field(field int, v uint32) {
	w.writeKey(field, wireVarint)
	w.writeVarint(uint64(v))
}

func (w *protoWriter) uint64Field(field int, v uint64) {
	w.writeKey(field, wireVarint)
	w.writeVarint(v)
}

// int32Field sign-extends negative values to ten bytes, as proto2
// requires for plain int32.
func (w *protoWriter) int32Field(field int, v int32) {
	w.writeKey(field, wireVarint)
	w.writeVarint(uint64(int64(v)))
}

func (w *protoWriter) boolField(field int, v bool) {
	w.writeKey(field, wireVarint)
	if v {
		w.writeVarint(1)
	} else {
		w.writeVarint(0)
	}
}

func (w *protoWriter) bytesField(field int, v []byte) {
	w.writeKey(field, wireBytes)
	w.writeVarint(uint64(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *protoWriter) stringField(field int, v string) {
	w.writeKey(field, wireBytes)
	w.writeVarint(uint64(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *protoWriter) floatField(field int, v float32) {
	w.writeKey(field, wireFixed32)
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}
