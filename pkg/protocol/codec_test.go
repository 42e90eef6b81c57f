package protocol

import (
	"strings"
	"testing"
)

func TestValueRoundtrip(t *testing.T) {
	cases := []any{
		nil,
		true,
		false,
		uint16(65535),
		uint32(0),
		uint32(200),
		uint32(1 << 20),
		uint64(1 << 40),
		"",
		"short",
		strings.Repeat("x", 300), // forces str32
		Symbol("amqp:connection:forced"),
		[]byte{1, 2, 3},
	}
	for _, in := range cases {
		var e encoder
		if err := e.writeValue(in); err != nil {
			t.Fatalf("encode %#v: %v", in, err)
		}
		d := &decoder{buf: e.buf.Bytes()}
		out, err := d.readValue()
		if err != nil {
			t.Fatalf("decode %#v: %v", in, err)
		}
		if d.remaining() != 0 {
			t.Fatalf("decode %#v left %d bytes", in, d.remaining())
		}
		switch want := in.(type) {
		case []byte:
			got, ok := out.([]byte)
			if !ok || string(got) != string(want) {
				t.Fatalf("roundtrip %#v -> %#v", in, out)
			}
		default:
			if out != in {
				t.Fatalf("roundtrip %#v -> %#v", in, out)
			}
		}
	}
}

func TestListRoundtrip(t *testing.T) {
	var e encoder
	in := []any{"a", uint32(7), nil, Symbol("s")}
	if err := e.writeList(in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	d := &decoder{buf: e.buf.Bytes()}
	out, err := d.readValue()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := out.([]any)
	if !ok || len(got) != len(in) {
		t.Fatalf("roundtrip %#v -> %#v", in, out)
	}
	for i := range in {
		if got[i] != in[i] {
			t.Fatalf("element %d: %#v vs %#v", i, got[i], in[i])
		}
	}
}

func TestListTrimsTrailingNulls(t *testing.T) {
	var e encoder
	if err := e.writeList([]any{"a", nil, nil}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	d := &decoder{buf: e.buf.Bytes()}
	out, err := d.readValue()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := out.([]any); len(got) != 1 {
		t.Fatalf("trailing nulls not trimmed: %#v", got)
	}
}

func TestAllNullListIsList0(t *testing.T) {
	var e encoder
	if err := e.writeList([]any{nil, nil}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if b := e.buf.Bytes(); len(b) != 1 || b[0] != ctorList0 {
		t.Fatalf("encoding = %x, want list0", b)
	}
}

func TestMapRoundtrip(t *testing.T) {
	in := map[string]any{"product": "client", "version": "0.1.0"}
	var e encoder
	if err := e.writeMap(in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	d := &decoder{buf: e.buf.Bytes()}
	out, err := d.readValue()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := out.(map[string]any)
	if !ok || len(got) != len(in) {
		t.Fatalf("roundtrip %#v -> %#v", in, out)
	}
	for k, v := range in {
		if got[k] != v {
			t.Fatalf("key %q: %#v vs %#v", k, got[k], v)
		}
	}
}

func TestTruncatedValueFails(t *testing.T) {
	var e encoder
	if err := e.writeString("hello world"); err != nil {
		t.Fatalf("encode: %v", err)
	}
	full := e.buf.Bytes()
	for i := 1; i < len(full); i++ {
		d := &decoder{buf: full[:i]}
		if _, err := d.readValue(); err == nil {
			t.Fatalf("truncation at %d not detected", i)
		}
	}
}

func TestUnsupportedConstructorFails(t *testing.T) {
	d := &decoder{buf: []byte{0x98, 0x00}} // uuid, not supported
	if _, err := d.readValue(); err == nil {
		t.Fatalf("expected unsupported constructor error")
	}
}
