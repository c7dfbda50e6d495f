package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/blkio/internal/protocol/tlv"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	ext := tlv.EncodeFields([]tlv.Field{tlv.NewString(1, "/vol/a")})
	in := Frame{
		Header: Header{MessageID: 42, Opcode: 1},
		Ext:    ext,
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits(), []byte("ab"), []byte("cd")); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Magic != Magic || out.Header.Opcode != 1 || out.Header.MessageID != 42 {
		t.Fatalf("header mismatch: got=%+v", out.Header)
	}
	if out.Header.Flags&FlagHasExt == 0 {
		t.Fatalf("ext flag not set")
	}
	if !bytes.Equal(out.Ext, ext) {
		t.Fatalf("ext mismatch")
	}
	if string(out.Payload) != "abcd" {
		t.Fatalf("payload mismatch: %q", out.Payload)
	}
}

func TestReadFrameMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil), DefaultLimits())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadFrameInvalidMagic(t *testing.T) {
	h := Header{Magic: 1, Version: Version, HeaderLen: FixedHeaderLen}
	_, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits())
	if !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestReadFrameHeaderLenTooSmall(t *testing.T) {
	h := Header{Magic: Magic, Version: Version, HeaderLen: 8, MessageID: 1, Opcode: 1}
	_, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits())
	if !errors.Is(err, ErrHeaderLenTooSmall) {
		t.Fatalf("expected ErrHeaderLenTooSmall, got %v", err)
	}
}

func TestReadFrameExtFlagWithoutExtBytes(t *testing.T) {
	h := Header{Magic: Magic, Version: Version, HeaderLen: FixedHeaderLen, MessageID: 1, Opcode: 1, Flags: FlagHasExt}
	_, err := ReadFrame(bytes.NewReader(EncodeHeader(h)), DefaultLimits())
	if !errors.Is(err, ErrHeaderLenMismatch) {
		t.Fatalf("expected ErrHeaderLenMismatch, got %v", err)
	}
}

func TestWriteFramePayloadLimit(t *testing.T) {
	limits := Limits{MaxExtBytes: 16, MaxPayloadBytes: 4}
	err := WriteFrame(io.Discard, Frame{}, limits, []byte("abc"), []byte("de"))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}
