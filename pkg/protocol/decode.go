package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// described pairs a descriptor with its value during generic decoding.
type described struct {
	descriptor uint64
	value      any
}

type decoder struct {
	buf []byte
	off int
}

var errTruncated = errors.New("truncated value")

func (d *decoder) remaining() int { return len(d.buf) - d.off }

func (d *decoder) readByte() (byte, error) {
	if d.remaining() < 1 {
		return 0, errTruncated
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *decoder) readN(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, errTruncated
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

// readValue decodes one complete value of any constructor this core accepts.
func (d *decoder) readValue() (any, error) {
	ctor, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch ctor {
	case ctorDescribed:
		desc, err := d.readValue()
		if err != nil {
			return nil, err
		}
		code, ok := toUint64(desc)
		if !ok {
			return nil, fmt.Errorf("non-numeric descriptor %T", desc)
		}
		v, err := d.readValue()
		if err != nil {
			return nil, err
		}
		return described{descriptor: code, value: v}, nil
	case ctorNull:
		return nil, nil
	case ctorTrue:
		return true, nil
	case ctorFalse:
		return false, nil
	case ctorBool:
		b, err := d.readByte()
		return b != 0, err
	case ctorUbyte:
		b, err := d.readByte()
		return uint8(b), err
	case ctorByte:
		b, err := d.readByte()
		return int8(b), err
	case ctorUint0:
		return uint32(0), nil
	case ctorUlong0:
		return uint64(0), nil
	case ctorSmallUint:
		b, err := d.readByte()
		return uint32(b), err
	case ctorSmallLong:
		b, err := d.readByte()
		return uint64(b), err
	case ctorSmallInt:
		b, err := d.readByte()
		return int32(int8(b)), err
	case ctorSmallLng:
		b, err := d.readByte()
		return int64(int8(b)), err
	case ctorUshort:
		b, err := d.readN(2)
		if err != nil {
			return nil, err
		}
		return binary.BigEndian.Uint16(b), nil
	case ctorShort:
		b, err := d.readN(2)
		if err != nil {
			return nil, err
		}
		return int16(binary.BigEndian.Uint16(b)), nil
	case ctorUint:
		b, err := d.readN(4)
		if err != nil {
			return nil, err
		}
		return binary.BigEndian.Uint32(b), nil
	case ctorInt:
		b, err := d.readN(4)
		if err != nil {
			return nil, err
		}
		return int32(binary.BigEndian.Uint32(b)), nil
	case ctorUlong:
		b, err := d.readN(8)
		if err != nil {
			return nil, err
		}
		return binary.BigEndian.Uint64(b), nil
	case ctorLong:
		b, err := d.readN(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(b)), nil
	case ctorBin8, ctorBin32:
		b, err := d.readVariable(ctor == ctorBin32)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	case ctorStr8, ctorStr32:
		b, err := d.readVariable(ctor == ctorStr32)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case ctorSym8, ctorSym32:
		b, err := d.readVariable(ctor == ctorSym32)
		if err != nil {
			return nil, err
		}
		return Symbol(b), nil
	case ctorList0:
		return []any{}, nil
	case ctorList8, ctorList32:
		return d.readList(ctor == ctorList32)
	case ctorMap8, ctorMap32:
		return d.readMap(ctor == ctorMap32)
	default:
		return nil, fmt.Errorf("unsupported constructor 0x%02x", ctor)
	}
}

func (d *decoder) readVariable(wide bool) ([]byte, error) {
	n, err := d.readSize(wide)
	if err != nil {
		return nil, err
	}
	return d.readN(n)
}

func (d *decoder) readSize(wide bool) (int, error) {
	if wide {
		b, err := d.readN(4)
		if err != nil {
			return 0, err
		}
		return int(binary.BigEndian.Uint32(b)), nil
	}
	b, err := d.readByte()
	return int(b), err
}

func (d *decoder) readCompound(wide bool) (*decoder, int, error) {
	size, err := d.readSize(wide)
	if err != nil {
		return nil, 0, err
	}
	body, err := d.readN(size)
	if err != nil {
		return nil, 0, err
	}
	inner := &decoder{buf: body}
	count, err := inner.readSize(wide)
	if err != nil {
		return nil, 0, err
	}
	return inner, count, nil
}

func (d *decoder) readList(wide bool) ([]any, error) {
	inner, count, err := d.readCompound(wide)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, count)
	for i := 0; i < count; i++ {
		v, err := inner.readValue()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *decoder) readMap(wide bool) (map[string]any, error) {
	inner, count, err := d.readCompound(wide)
	if err != nil {
		return nil, err
	}
	if count%2 != 0 {
		return nil, fmt.Errorf("map with odd element count %d", count)
	}
	out := make(map[string]any, count/2)
	for i := 0; i < count; i += 2 {
		k, err := inner.readValue()
		if err != nil {
			return nil, err
		}
		v, err := inner.readValue()
		if err != nil {
			return nil, err
		}
		switch key := k.(type) {
		case Symbol:
			out[string(key)] = v
		case string:
			out[key] = v
		default:
			return nil, fmt.Errorf("unsupported map key type %T", k)
		}
	}
	return out, nil
}

// decodePerformative parses the leading described value of a frame body and
// returns any trailing payload bytes untouched.
func decodePerformative(body []byte) (Performative, []byte, error) {
	d := &decoder{buf: body}
	v, err := d.readValue()
	if err != nil {
		return nil, nil, fmt.Errorf("decode performative: %w", err)
	}
	payload := body[d.off:]
	dv, ok := v.(described)
	if !ok {
		return nil, nil, fmt.Errorf("frame body is %T, not a described type", v)
	}
	fields, _ := dv.value.([]any)
	switch dv.descriptor {
	case DescriptorOpen:
		return decodeOpen(fields), payload, nil
	case DescriptorClose:
		return decodeClose(fields), payload, nil
	default:
		return &Unknown{Descriptor: dv.descriptor, Fields: fields}, payload, nil
	}
}

func decodeOpen(fields []any) *Open {
	o := &Open{}
	o.ContainerID, _ = fieldAt(fields, 0).(string)
	o.Hostname, _ = fieldAt(fields, 1).(string)
	o.MaxFrameSize = fieldUint32(fields, 2)
	if v, ok := fieldAt(fields, 3).(uint16); ok {
		o.ChannelMax = v
	}
	o.IdleTimeout = fieldUint32(fields, 4)
	if m, ok := fieldAt(fields, 9).(map[string]any); ok {
		o.Properties = m
	}
	return o
}

func decodeClose(fields []any) *Close {
	c := &Close{}
	if dv, ok := fieldAt(fields, 0).(described); ok && dv.descriptor == DescriptorError {
		ef, _ := dv.value.([]any)
		e := &Error{}
		switch cond := fieldAt(ef, 0).(type) {
		case Symbol:
			e.Condition = string(cond)
		case string:
			e.Condition = cond
		}
		e.Description, _ = fieldAt(ef, 1).(string)
		c.Error = e
	}
	return c
}

func fieldAt(fields []any, i int) any {
	if i >= len(fields) {
		return nil
	}
	return fields[i]
}

func fieldUint32(fields []any, i int) uint32 {
	v, _ := toUint64(fieldAt(fields, i))
	return uint32(v)
}

func toUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	default:
		return 0, false
	}
}
