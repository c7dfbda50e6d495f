// Package frame implements the block request wire frame: a fixed header, an
// optional extension block carrying request metadata, and the payload.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic   uint32 = 0x10A10001
	Version uint16 = 1

	FixedHeaderLen uint16 = 32
	FlagHasExt     uint32 = 0x01
	FlagIsResponse uint32 = 0x02
	FlagIsError    uint32 = 0x04
)

var (
	ErrShortHeader       = errors.New("frame: short fixed header")
	ErrInvalidMagic      = errors.New("frame: invalid magic")
	ErrUnsupportedVer    = errors.New("frame: unsupported version")
	ErrHeaderLenTooSmall = errors.New("frame: header_len smaller than fixed header")
	ErrHeaderLenMismatch = errors.New("frame: ext flag set but header_len has no ext bytes")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
	ErrExtTooLarge       = errors.New("frame: ext too large")
)

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	MessageID  uint64
	Opcode     uint32
	Flags      uint32
	PayloadLen uint64
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Ext     []byte
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxExtBytes     uint64
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxExtBytes:     16 * 1024,
		MaxPayloadBytes: 4 * 1024 * 1024,
	}
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		// io.EOF on a frame boundary is a clean close.
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.Magic != Magic {
		return Frame{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Frame{}, ErrUnsupportedVer
	}
	if h.HeaderLen < FixedHeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}

	extLen := uint64(h.HeaderLen - FixedHeaderLen)
	if h.Flags&FlagHasExt != 0 && extLen == 0 {
		return Frame{}, ErrHeaderLenMismatch
	}
	if extLen > limits.MaxExtBytes {
		return Frame{}, ErrExtTooLarge
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	ext := make([]byte, extLen)
	if extLen > 0 {
		if _, err := io.ReadFull(r, ext); err != nil {
			return Frame{}, err
		}
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}

	return Frame{Header: h, Ext: ext, Payload: payload}, nil
}

// WriteFrame writes f with magic, version and lengths filled in. The payload
// may be supplied as several segments, written back to back.
func WriteFrame(w io.Writer, f Frame, limits Limits, segments ...[]byte) error {
	extLen := uint64(len(f.Ext))
	payloadLen := uint64(len(f.Payload))
	for _, seg := range segments {
		payloadLen += uint64(len(seg))
	}
	if extLen > limits.MaxExtBytes || extLen > uint64(^uint16(0)-FixedHeaderLen) {
		return ErrExtTooLarge
	}
	if payloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen + uint16(extLen)
	h.PayloadLen = payloadLen
	if extLen > 0 {
		h.Flags |= FlagHasExt
	} else {
		h.Flags &^= FlagHasExt
	}

	// One write per frame keeps concurrent writers from interleaving when
	// the caller serializes on the frame rather than the connection.
	buf := make([]byte, 0, uint64(FixedHeaderLen)+extLen+payloadLen)
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, f.Ext...)
	buf = append(buf, f.Payload...)
	for _, seg := range segments {
		buf = append(buf, seg...)
	}
	_, err := w.Write(buf)
	return err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.MessageID)
	binary.BigEndian.PutUint32(buf[16:20], h.Opcode)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(b[6:8]),
		MessageID:  binary.BigEndian.Uint64(b[8:16]),
		Opcode:     binary.BigEndian.Uint32(b[16:20]),
		Flags:      binary.BigEndian.Uint32(b[20:24]),
		PayloadLen: binary.BigEndian.Uint64(b[24:32]),
	}, nil
}
