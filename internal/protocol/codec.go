package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// tag bytes for the self-describing value encoding.
const (
	tagNil    byte = 0
	tagBool   byte = 1
	tagInt    byte = 2
	tagString byte = 3
	tagList   byte = 4
	tagMap    byte = 5
)

// builder accumulates bytes the way the teacher's packet.Writer does
// (WriteC/WriteH/WriteD helpers over a growable buffer).
type builder struct {
	buf []byte
}

func (b *builder) writeByte(v byte) { b.buf = append(b.buf, v) }

func (b *builder) writeU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *builder) writeI64(v int64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	b.buf = append(b.buf, tmp[:]...)
}

func (b *builder) writeString(s string) {
	b.writeU32(uint32(len(s)))
	b.buf = append(b.buf, s...)
}

func (b *builder) writeValue(v Value) {
	switch v.kind {
	case kindNil:
		b.writeByte(tagNil)
	case kindBool:
		b.writeByte(tagBool)
		if v.b {
			b.writeByte(1)
		} else {
			b.writeByte(0)
		}
	case kindInt:
		b.writeByte(tagInt)
		b.writeI64(v.i)
	case kindString:
		b.writeByte(tagString)
		b.writeString(v.s)
	case kindList:
		b.writeByte(tagList)
		b.writeU32(uint32(len(v.list)))
		for _, item := range v.list {
			b.writeValue(item)
		}
	case kindMap:
		b.writeByte(tagMap)
		b.writeU32(uint32(len(v.m)))
		for key, val := range v.m {
			b.writeString(key)
			b.writeValue(val)
		}
	default:
		panic(fmt.Sprintf("protocol: unknown value kind %d", v.kind))
	}
}

// Encode serializes a packet to its wire form: magic byte, code byte,
// then the encoded payload (absent entirely when Payload is Nil).
// Total function except when Code is out of [0,255] (spec.md §4.1).
func Encode(p Packet) ([]byte, error) {
	if p.Code < 0 || p.Code > 255 {
		return nil, fmt.Errorf("protocol: code %d out of range", p.Code)
	}
	b := &builder{buf: make([]byte, 0, 32)}
	b.writeByte(Magic)
	b.writeByte(byte(p.Code))
	if !p.Payload.IsNil() {
		b.writeValue(p.Payload)
	}
	return b.buf, nil
}

type reader struct {
	data []byte
	off  int
}

var errShortRead = errors.New("protocol: unexpected end of payload")

func (r *reader) byte() (byte, error) {
	if r.off >= len(r.data) {
		return 0, errShortRead
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.off+4 > len(r.data) {
		return 0, errShortRead
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) i64() (int64, error) {
	if r.off+8 > len(r.data) {
		return 0, errShortRead
	}
	v := binary.LittleEndian.Uint64(r.data[r.off:])
	r.off += 8
	return int64(v), nil
}

func (r *reader) string() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if n > math.MaxInt32 || r.off+int(n) > len(r.data) {
		return "", errShortRead
	}
	s := string(r.data[r.off : r.off+int(n)])
	r.off += int(n)
	return s, nil
}

func (r *reader) value() (Value, error) {
	tag, err := r.byte()
	if err != nil {
		return Nil, err
	}
	switch tag {
	case tagNil:
		return Nil, nil
	case tagBool:
		bb, err := r.byte()
		if err != nil {
			return Nil, err
		}
		return Bool(bb != 0), nil
	case tagInt:
		i, err := r.i64()
		if err != nil {
			return Nil, err
		}
		return Int(i), nil
	case tagString:
		s, err := r.string()
		if err != nil {
			return Nil, err
		}
		return Str(s), nil
	case tagList:
		n, err := r.u32()
		if err != nil {
			return Nil, err
		}
		items := make([]Value, 0, n)
		for i := uint32(0); i < n; i++ {
			item, err := r.value()
			if err != nil {
				return Nil, err
			}
			items = append(items, item)
		}
		return List(items...), nil
	case tagMap:
		n, err := r.u32()
		if err != nil {
			return Nil, err
		}
		m := make(map[string]Value, n)
		for i := uint32(0); i < n; i++ {
			key, err := r.string()
			if err != nil {
				return Nil, err
			}
			val, err := r.value()
			if err != nil {
				return Nil, err
			}
			m[key] = val
		}
		return MapOf(m), nil
	default:
		return Nil, fmt.Errorf("protocol: unknown value tag %d", tag)
	}
}

// Decode parses a packet from its wire form. It never returns an error to
// the caller: any malformed input yields the UNDEFINED packet, per
// spec.md §4.1 ("decode(bytes) -> packet returns an UNDEFINED packet on
// any failure rather than throwing to the caller").
func Decode(data []byte) Packet {
	if len(data) < 2 || data[0] != Magic {
		return Undefined
	}
	code := Code(data[1])
	if !code.IsDefined() {
		return Undefined
	}
	if len(data) == 2 {
		return Packet{Code: code, Payload: Nil}
	}
	r := &reader{data: data[2:]}
	val, err := r.value()
	if err != nil {
		return Undefined
	}
	return Packet{Code: code, Payload: val}
}

// ReadFrame reads one length-prefixed packet frame from r.
// Wire format: [2 bytes LE: length of the encoded packet][encoded packet].
// This is the explicit length prefix recommended by spec.md §6/§9 in place
// of the reference's one-packet-per-recv assumption.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}
	n := int(binary.LittleEndian.Uint16(header[:]))
	if n == 0 || n > 65535 {
		return nil, fmt.Errorf("invalid frame length: %d", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload (%d bytes): %w", n, err)
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed packet frame to w.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > 65535 {
		return fmt.Errorf("frame payload too large: %d bytes", len(data))
	}
	var header [2]byte
	binary.LittleEndian.PutUint16(header[:], uint16(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}
