// Package protocol is the frame codec boundary: it turns Open/Close
// performatives into length-prefixed AMQP 1.0 frames and back. It is pure and
// stateless; the connection state machine never touches raw bytes itself.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Protocol header layout (8 bytes), exchanged once per connection before any
// frame:
//
//	0 ..3  Magic      'A''M''Q''P'
//	4      ProtocolID u8 (0 = plain AMQP)
//	5      Major      u8
//	6      Minor      u8
//	7      Revision   u8
//
// Frame header layout (8 bytes), all integers big-endian:
//
//	0 ..3  Size    u32 (whole frame, header included)
//	4      DOFF    u8  (data offset in 4-byte words; 2 = no extended header)
//	5      Type    u8  (0 = AMQP frame)
//	6 ..7  Channel u16
const (
	protoHeaderSize = 8
	frameHeaderSize = 8

	protocolID   = 0
	versionMajor = 1
	versionMinor = 0
	versionRev   = 0

	frameTypeAMQP = 0
	minDOFF       = 2
)

// MaxInboundFrameSize is the hard ceiling on the size field of inbound
// frames. The size is peer-controlled and drives the body allocation, so it
// is bounded regardless of what max-frame-size was advertised.
const MaxInboundFrameSize = 1 << 20

var magic = [4]byte{'A', 'M', 'Q', 'P'}

var (
	ErrBadMagic      = errors.New("bad protocol header magic")
	ErrShortFrame    = errors.New("short frame")
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
)

// ProtoHeader is the fixed version preamble.
type ProtoHeader struct {
	Major    uint8
	Minor    uint8
	Revision uint8
}

// Supported reports whether the peer's announced version is the one version
// this client speaks. Version negotiation is not re-attempted on mismatch.
func (h ProtoHeader) Supported() bool {
	return h.Major == versionMajor && h.Minor == versionMinor && h.Revision == versionRev
}

func (h ProtoHeader) String() string {
	return fmt.Sprintf("%d.%d.%d", h.Major, h.Minor, h.Revision)
}

// LocalProtoHeader returns the 8-byte header sent as soon as the socket is
// available: AMQP\x00\x01\x00\x00.
func LocalProtoHeader() [protoHeaderSize]byte {
	return [protoHeaderSize]byte{'A', 'M', 'Q', 'P', protocolID, versionMajor, versionMinor, versionRev}
}

// MarshalBinary encodes the header to an 8-byte buffer.
func (h *ProtoHeader) MarshalBinary() ([]byte, error) {
	buf := make([]byte, protoHeaderSize)
	copy(buf, magic[:])
	buf[4] = protocolID
	buf[5] = h.Major
	buf[6] = h.Minor
	buf[7] = h.Revision
	return buf, nil
}

// UnmarshalBinary decodes the header from an 8-byte buffer. A bad magic is an
// error; an unsupported version is not (the state machine decides).
func (h *ProtoHeader) UnmarshalBinary(buf []byte) error {
	if len(buf) < protoHeaderSize {
		return errors.New("short protocol header")
	}
	if [4]byte(buf[0:4]) != magic {
		return ErrBadMagic
	}
	h.Major = buf[5]
	h.Minor = buf[6]
	h.Revision = buf[7]
	return nil
}

// FrameHeader describes one frame on the wire.
type FrameHeader struct {
	Size    uint32
	DOFF    uint8
	Type    uint8
	Channel uint16
}

// MarshalBinary encodes the frame header to an 8-byte buffer.
func (h *FrameHeader) MarshalBinary() ([]byte, error) {
	if h.Size < frameHeaderSize {
		return nil, fmt.Errorf("frame size %d below header size", h.Size)
	}
	buf := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Size)
	buf[4] = h.DOFF
	buf[5] = h.Type
	binary.BigEndian.PutUint16(buf[6:8], h.Channel)
	return buf, nil
}

// UnmarshalBinary decodes the frame header from an 8-byte buffer.
func (h *FrameHeader) UnmarshalBinary(buf []byte) error {
	if len(buf) < frameHeaderSize {
		return ErrShortFrame
	}
	h.Size = binary.BigEndian.Uint32(buf[0:4])
	h.DOFF = buf[4]
	h.Type = buf[5]
	h.Channel = binary.BigEndian.Uint16(buf[6:8])
	if h.Size < frameHeaderSize {
		return fmt.Errorf("frame size %d below header size", h.Size)
	}
	if h.DOFF < minDOFF {
		return fmt.Errorf("invalid data offset %d", h.DOFF)
	}
	return nil
}
