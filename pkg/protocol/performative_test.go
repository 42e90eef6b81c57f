package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEmptyCloseFrameBytes(t *testing.T) {
	b, err := EncodeFrame(0, &Close{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// 8-byte header, then described empty list: 0x00 smallulong 0x18 list0.
	want := []byte{0, 0, 0, 12, 2, 0, 0, 0, 0x00, 0x53, 0x18, 0x45}
	if !bytes.Equal(b, want) {
		t.Fatalf("close frame = %x, want %x", b, want)
	}
}

func TestOpenRoundtrip(t *testing.T) {
	in := &Open{
		ContainerID:  "client-1",
		Hostname:     "broker.example",
		MaxFrameSize: 131072,
		ChannelMax:   100,
		IdleTimeout:  0,
		Properties: map[string]any{
			"product":  "rabbitmq-amqp1.0-client",
			"version":  "0.1.0",
			"platform": "go",
		},
	}
	buf, err := EncodeFrame(0, in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, err := ReadFrame(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if f.Channel != 0 {
		t.Fatalf("channel = %d", f.Channel)
	}
	out, ok := f.Body.(*Open)
	if !ok {
		t.Fatalf("body is %T, want *Open", f.Body)
	}
	if out.ContainerID != in.ContainerID || out.Hostname != in.Hostname ||
		out.MaxFrameSize != in.MaxFrameSize || out.ChannelMax != in.ChannelMax ||
		out.IdleTimeout != in.IdleTimeout {
		t.Fatalf("open differs: %#v vs %#v", out, in)
	}
	for k, v := range in.Properties {
		if out.Properties[k] != v {
			t.Fatalf("property %q = %v, want %v", k, out.Properties[k], v)
		}
	}
}

func TestCloseWithErrorRoundtrip(t *testing.T) {
	in := &Close{Error: &Error{Condition: "amqp:connection:forced", Description: "shutting down"}}
	buf, err := EncodeFrame(0, in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	f, err := DecodeFrame(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, ok := f.Body.(*Close)
	if !ok {
		t.Fatalf("body is %T, want *Close", f.Body)
	}
	if out.Error == nil {
		t.Fatalf("error field lost")
	}
	if out.Error.Condition != in.Error.Condition || out.Error.Description != in.Error.Description {
		t.Fatalf("error differs: %#v vs %#v", out.Error, in.Error)
	}
}

func TestUnknownPerformativeKeptRaw(t *testing.T) {
	// A begin performative (descriptor 0x11), which this core does not model.
	var e encoder
	if err := e.writeDescribed(0x11, []any{nil, uint16(0), uint32(1), uint32(1), uint32(100)}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	body := e.buf.Bytes()
	hdr := FrameHeader{Size: uint32(frameHeaderSize + len(body)), DOFF: 2, Type: 0, Channel: 5}
	hb, _ := hdr.MarshalBinary()
	f, err := DecodeFrame(append(hb, body...))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	u, ok := f.Body.(*Unknown)
	if !ok {
		t.Fatalf("body is %T, want *Unknown", f.Body)
	}
	if u.Descriptor != 0x11 || f.Channel != 5 {
		t.Fatalf("descriptor = %#x channel = %d", u.Descriptor, f.Channel)
	}
}

func TestReadFrameRejectsOversizeHeader(t *testing.T) {
	// A header-only input announcing a giant body must fail on the size
	// field, before the body buffer is ever allocated.
	hdr := FrameHeader{Size: 1 << 30, DOFF: 2, Type: 0, Channel: 0}
	hb, err := hdr.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	_, err = ReadFrame(bytes.NewReader(hb))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("err = %v, want ErrFrameTooLarge", err)
	}

	// The largest acceptable size still decodes (empty extended header).
	ok := FrameHeader{Size: frameHeaderSize, DOFF: 2, Type: 0, Channel: 0}
	hb, _ = ok.MarshalBinary()
	if _, err := ReadFrame(bytes.NewReader(hb)); err != nil {
		t.Fatalf("minimal frame: %v", err)
	}
}

func TestEmptyFrameIsHeartbeat(t *testing.T) {
	f, err := DecodeFrame([]byte{0, 0, 0, 8, 2, 0, 0, 0})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := f.Body.(*Unknown); !ok {
		t.Fatalf("empty frame body is %T, want *Unknown", f.Body)
	}
}

func TestPayloadPreserved(t *testing.T) {
	var e encoder
	if err := e.writeDescribed(0x14, []any{uint32(0)}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	payload := []byte("message body bytes")
	body := append(e.buf.Bytes(), payload...)
	hdr := FrameHeader{Size: uint32(frameHeaderSize + len(body)), DOFF: 2, Type: 0, Channel: 1}
	hb, _ := hdr.MarshalBinary()
	f, err := DecodeFrame(append(hb, body...))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(f.Payload, payload) {
		t.Fatalf("payload = %q, want %q", f.Payload, payload)
	}
}
