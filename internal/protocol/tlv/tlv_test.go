package tlv

import (
	"bytes"
	"errors"
	"math"
	"testing"
)

func TestEncodeDecodeFieldsRoundTripPreservesUnknown(t *testing.T) {
	in := []Field{
		{ID: 1, Type: TypeString, Value: []byte("vol-a")},
		{ID: 9999, Type: TypeBytes, Value: []byte{0xAA, 0xBB}}, // unknown field id
	}
	b := EncodeFields(in)
	out, err := DecodeFields(b)
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out))
	}
	if out[1].ID != 9999 || out[1].Type != TypeBytes || !bytes.Equal(out[1].Value, []byte{0xAA, 0xBB}) {
		t.Fatalf("unknown field not preserved: %+v", out[1])
	}
}

func TestDecodeFieldsMalformedHeaderIsDeterministic(t *testing.T) {
	_, err := DecodeFields([]byte{1, 2, 3})
	if !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
}

func TestDecodeFieldsMalformedLengthIsDeterministic(t *testing.T) {
	// id=1, type=string, len=5, value only 2 bytes
	payload := []byte{0, 1, TypeString, 0, 0, 0, 5, 'a', 'b'}
	_, err := DecodeFields(payload)
	if !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

func TestTypedAccessors(t *testing.T) {
	fields := []Field{
		NewU32(1, 7),
		NewU64(2, 1<<40),
		NewI64(3, -5),
		NewF64(4, math.Pi),
		NewBool(5, true),
		NewString(6, "/vol/a"),
	}
	out, err := DecodeFields(EncodeFields(fields))
	if err != nil {
		t.Fatalf("decode fields: %v", err)
	}
	if v, err := out[0].U32(); err != nil || v != 7 {
		t.Fatalf("u32 got=%d err=%v", v, err)
	}
	if v, err := out[1].U64(); err != nil || v != 1<<40 {
		t.Fatalf("u64 got=%d err=%v", v, err)
	}
	if v, err := out[2].I64(); err != nil || v != -5 {
		t.Fatalf("i64 got=%d err=%v", v, err)
	}
	if v, err := out[3].F64(); err != nil || v != math.Pi {
		t.Fatalf("f64 got=%v err=%v", v, err)
	}
	if v, err := out[4].Bool(); err != nil || !v {
		t.Fatalf("bool got=%v err=%v", v, err)
	}
	if v, err := out[5].Str(); err != nil || v != "/vol/a" {
		t.Fatalf("string got=%q err=%v", v, err)
	}
	if _, err := out[5].U64(); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}
}
