package kvset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/danmuck/blkio/internal/protocol/tlv"
)

var (
	ErrTooManyProperties = errors.New("kvset: too many properties")
	ErrKeyTooLong        = errors.New("kvset: key too long")
	ErrMalformed         = errors.New("kvset: malformed payload")
)

const maxDepth = 64

// Marshal encodes s as a sequence of TLV fields, one per property. Each field
// value is a 2-byte key length, the key, then the value encoding for its kind.
func Marshal(s *Set) ([]byte, error) {
	fields, err := marshalProps(s.Properties(), 0)
	if err != nil {
		return nil, err
	}
	return tlv.EncodeFields(fields), nil
}

// Unmarshal decodes a payload produced by Marshal. An empty payload yields
// an empty set.
func Unmarshal(b []byte) (*Set, error) {
	props, err := unmarshalProps(b, 0)
	if err != nil {
		return nil, err
	}
	return &Set{props: props}, nil
}

func marshalProps(props []Property, depth int) ([]tlv.Field, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}
	if len(props) > math.MaxUint16+1 {
		return nil, ErrTooManyProperties
	}
	fields := make([]tlv.Field, 0, len(props))
	for i, p := range props {
		if len(p.Key) > math.MaxUint16 {
			return nil, fmt.Errorf("%w: %d bytes", ErrKeyTooLong, len(p.Key))
		}
		typ, body, err := marshalValue(p.Value, depth)
		if err != nil {
			return nil, fmt.Errorf("kvset: property %q: %w", p.Key, err)
		}
		value := make([]byte, 2+len(p.Key)+len(body))
		binary.BigEndian.PutUint16(value[0:2], uint16(len(p.Key)))
		copy(value[2:], p.Key)
		copy(value[2+len(p.Key):], body)
		fields = append(fields, tlv.Field{ID: uint16(i), Type: typ, Value: value})
	}
	return fields, nil
}

func marshalValue(v Value, depth int) (uint8, []byte, error) {
	switch v.Kind {
	case KindNull:
		return tlv.TypeNull, nil, nil
	case KindString:
		return tlv.TypeString, []byte(v.Str), nil
	case KindInt:
		return tlv.TypeI64, tlv.NewI64(0, v.Int).Value, nil
	case KindUint:
		return tlv.TypeU64, tlv.NewU64(0, v.Uint).Value, nil
	case KindFloat:
		return tlv.TypeF64, tlv.NewF64(0, v.Float).Value, nil
	case KindBool:
		return tlv.TypeBool, tlv.NewBool(0, v.Bool).Value, nil
	case KindBytes:
		return tlv.TypeBytes, v.Bytes, nil
	case KindSet:
		fields, err := marshalProps(v.Set.Properties(), depth+1)
		if err != nil {
			return 0, nil, err
		}
		return tlv.TypeSet, tlv.EncodeFields(fields), nil
	case KindList:
		items := make([]Property, len(v.List))
		for i, item := range v.List {
			items[i] = Property{Value: item}
		}
		fields, err := marshalProps(items, depth+1)
		if err != nil {
			return 0, nil, err
		}
		return tlv.TypeList, tlv.EncodeFields(fields), nil
	default:
		return 0, nil, fmt.Errorf("%w: unknown kind %d", ErrMalformed, v.Kind)
	}
}

func unmarshalProps(b []byte, depth int) ([]Property, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrMalformed, maxDepth)
	}
	fields, err := tlv.DecodeFields(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	props := make([]Property, 0, len(fields))
	for _, f := range fields {
		if len(f.Value) < 2 {
			return nil, fmt.Errorf("%w: field %d missing key length", ErrMalformed, f.ID)
		}
		keyLen := int(binary.BigEndian.Uint16(f.Value[0:2]))
		if len(f.Value)-2 < keyLen {
			return nil, fmt.Errorf("%w: field %d short key", ErrMalformed, f.ID)
		}
		key := string(f.Value[2 : 2+keyLen])
		v, err := unmarshalValue(f.Type, f.Value[2+keyLen:], depth)
		if err != nil {
			return nil, err
		}
		props = append(props, Property{Key: key, Value: v})
	}
	return props, nil
}

func unmarshalValue(typ uint8, body []byte, depth int) (Value, error) {
	// Scalars reuse the tlv accessors, which validate length.
	scalar := tlv.Field{Type: typ, Value: body}
	switch typ {
	case tlv.TypeNull:
		return Null(), nil
	case tlv.TypeString:
		return String(string(body)), nil
	case tlv.TypeI64:
		n, err := scalar.I64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Int(n), nil
	case tlv.TypeU64:
		n, err := scalar.U64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Uint(n), nil
	case tlv.TypeF64:
		n, err := scalar.F64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Float(n), nil
	case tlv.TypeBool:
		n, err := scalar.Bool()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Bool(n), nil
	case tlv.TypeBytes:
		return Bytes(body), nil
	case tlv.TypeSet:
		props, err := unmarshalProps(body, depth+1)
		if err != nil {
			return Value{}, err
		}
		return Nested(&Set{props: props}), nil
	case tlv.TypeList:
		props, err := unmarshalProps(body, depth+1)
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, len(props))
		for i, p := range props {
			items[i] = p.Value
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("%w: unknown value type %d", ErrMalformed, typ)
	}
}
