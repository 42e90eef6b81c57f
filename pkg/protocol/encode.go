package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// AMQP 1.0 type-system constructors used by the encoder/decoder. The encoder
// emits only what the Open/Close performatives need; the decoder accepts the
// wider set a peer may legally send back.
const (
	ctorDescribed = 0x00
	ctorNull      = 0x40
	ctorTrue      = 0x41
	ctorFalse     = 0x42
	ctorBool      = 0x56
	ctorUint0     = 0x43
	ctorUlong0    = 0x44
	ctorUbyte     = 0x50
	ctorByte      = 0x51
	ctorSmallUint = 0x52
	ctorSmallLong = 0x53 // small ulong
	ctorSmallInt  = 0x54
	ctorSmallLng  = 0x55 // small long
	ctorUshort    = 0x60
	ctorShort     = 0x61
	ctorUint      = 0x70
	ctorInt       = 0x71
	ctorUlong     = 0x80
	ctorLong      = 0x81
	ctorBin8      = 0xa0
	ctorStr8      = 0xa1
	ctorSym8      = 0xa3
	ctorBin32     = 0xb0
	ctorStr32     = 0xb1
	ctorSym32     = 0xb3
	ctorList0     = 0x45
	ctorList8     = 0xc0
	ctorList32    = 0xd0
	ctorMap8      = 0xc1
	ctorMap32     = 0xd1
)

// Symbol is an AMQP symbolic constant (7-bit ASCII on the wire). Map keys in
// the open properties are symbols, not strings.
type Symbol string

type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) writeNull() { e.buf.WriteByte(ctorNull) }

func (e *encoder) writeBool(v bool) {
	if v {
		e.buf.WriteByte(ctorTrue)
	} else {
		e.buf.WriteByte(ctorFalse)
	}
}

func (e *encoder) writeUshort(v uint16) {
	e.buf.WriteByte(ctorUshort)
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) writeUint(v uint32) {
	switch {
	case v == 0:
		e.buf.WriteByte(ctorUint0)
	case v <= math.MaxUint8:
		e.buf.WriteByte(ctorSmallUint)
		e.buf.WriteByte(byte(v))
	default:
		e.buf.WriteByte(ctorUint)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		e.buf.Write(b[:])
	}
}

func (e *encoder) writeUlong(v uint64) {
	switch {
	case v == 0:
		e.buf.WriteByte(ctorUlong0)
	case v <= math.MaxUint8:
		e.buf.WriteByte(ctorSmallLong)
		e.buf.WriteByte(byte(v))
	default:
		e.buf.WriteByte(ctorUlong)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], v)
		e.buf.Write(b[:])
	}
}

func (e *encoder) writeVariable(small, large byte, data []byte) error {
	if len(data) <= math.MaxUint8 {
		e.buf.WriteByte(small)
		e.buf.WriteByte(byte(len(data)))
	} else if uint64(len(data)) <= math.MaxUint32 {
		e.buf.WriteByte(large)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(data)))
		e.buf.Write(b[:])
	} else {
		return fmt.Errorf("value too large: %d bytes", len(data))
	}
	e.buf.Write(data)
	return nil
}

func (e *encoder) writeString(s string) error { return e.writeVariable(ctorStr8, ctorStr32, []byte(s)) }
func (e *encoder) writeSymbol(s Symbol) error { return e.writeVariable(ctorSym8, ctorSym32, []byte(s)) }
func (e *encoder) writeBinary(b []byte) error { return e.writeVariable(ctorBin8, ctorBin32, b) }

func (e *encoder) writeValue(v any) error {
	switch x := v.(type) {
	case nil:
		e.writeNull()
	case bool:
		e.writeBool(x)
	case uint16:
		e.writeUshort(x)
	case uint32:
		e.writeUint(x)
	case uint64:
		e.writeUlong(x)
	case int:
		if x < 0 {
			return fmt.Errorf("negative int not supported: %d", x)
		}
		e.writeUlong(uint64(x))
	case string:
		return e.writeString(x)
	case Symbol:
		return e.writeSymbol(x)
	case []byte:
		return e.writeBinary(x)
	case rawValue:
		e.buf.Write(x)
	case []any:
		return e.writeList(x)
	case map[string]any:
		return e.writeMap(x)
	default:
		return fmt.Errorf("unsupported type %T", v)
	}
	return nil
}

// writeList encodes a compound list, trimming trailing nulls first: AMQP
// permits omitting unset tail fields entirely.
func (e *encoder) writeList(fields []any) error {
	for len(fields) > 0 && fields[len(fields)-1] == nil {
		fields = fields[:len(fields)-1]
	}
	if len(fields) == 0 {
		e.buf.WriteByte(ctorList0)
		return nil
	}
	var inner encoder
	for _, f := range fields {
		if err := inner.writeValue(f); err != nil {
			return err
		}
	}
	return e.writeCompound(ctorList8, ctorList32, len(fields), inner.buf.Bytes())
}

// writeMap encodes a map with symbol keys (the only key kind the open
// properties use).
func (e *encoder) writeMap(m map[string]any) error {
	var inner encoder
	for _, k := range sortedKeys(m) {
		if err := inner.writeSymbol(Symbol(k)); err != nil {
			return err
		}
		if err := inner.writeValue(m[k]); err != nil {
			return err
		}
	}
	return e.writeCompound(ctorMap8, ctorMap32, len(m)*2, inner.buf.Bytes())
}

func (e *encoder) writeCompound(small, large byte, count int, body []byte) error {
	// size field covers the count field plus the encoded elements
	if len(body)+1 <= math.MaxUint8 && count <= math.MaxUint8 {
		e.buf.WriteByte(small)
		e.buf.WriteByte(byte(len(body) + 1))
		e.buf.WriteByte(byte(count))
	} else {
		e.buf.WriteByte(large)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(len(body)+4))
		e.buf.Write(b[:])
		binary.BigEndian.PutUint32(b[:], uint32(count))
		e.buf.Write(b[:])
	}
	e.buf.Write(body)
	return nil
}

func (e *encoder) writeDescribed(descriptor uint64, fields []any) error {
	e.buf.WriteByte(ctorDescribed)
	e.writeUlong(descriptor)
	return e.writeList(fields)
}

// encodePerformative renders the frame body for one of the closed
// performative variants.
func encodePerformative(p Performative) ([]byte, error) {
	var e encoder
	switch x := p.(type) {
	case *Open:
		var props any
		if len(x.Properties) > 0 {
			props = x.Properties
		}
		fields := []any{
			x.ContainerID,
			x.Hostname,
			x.MaxFrameSize,
			x.ChannelMax,
			x.IdleTimeout,
			nil, // outgoing-locales
			nil, // incoming-locales
			nil, // offered-capabilities
			nil, // desired-capabilities
			props,
		}
		if err := e.writeDescribed(DescriptorOpen, fields); err != nil {
			return nil, err
		}
	case *Close:
		var fields []any
		if x.Error != nil {
			var inner encoder
			if err := inner.writeDescribed(DescriptorError, []any{
				Symbol(x.Error.Condition), x.Error.Description,
			}); err != nil {
				return nil, err
			}
			fields = []any{rawValue(inner.buf.Bytes())}
		}
		if err := e.writeDescribed(DescriptorClose, fields); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("cannot encode performative %T", p)
	}
	return e.buf.Bytes(), nil
}

// rawValue splices pre-encoded bytes into a compound value.
type rawValue []byte

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
