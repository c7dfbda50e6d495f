package kvset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

var ErrInvalidJSON = errors.New("kvset: invalid json")

// RenderJSON renders s as a compact JSON object, keeping property order.
// Byte values render as base64 strings.
func RenderJSON(s *Set) (string, error) {
	var buf bytes.Buffer
	if err := writeObject(&buf, s.Properties()); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func writeObject(buf *bytes.Buffer, props []Property) error {
	buf.WriteByte('{')
	for i, p := range props {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Key)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if err := writeValue(buf, p.Value); err != nil {
			return fmt.Errorf("kvset: render %q: %w", p.Key, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

func writeValue(buf *bytes.Buffer, v Value) error {
	switch v.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		b, err := json.Marshal(v.Str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.Int, 10))
	case KindUint:
		buf.WriteString(strconv.FormatUint(v.Uint, 10))
	case KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return fmt.Errorf("unsupported float %v", v.Float)
		}
		buf.WriteString(formatFloat(v.Float))
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.Bool))
	case KindBytes:
		b, err := json.Marshal(v.Bytes)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindSet:
		return writeObject(buf, v.Set.Properties())
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.List {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return fmt.Errorf("unknown kind %d", v.Kind)
	}
	return nil
}

// ParseJSON parses a JSON object into a Set, keeping document key order.
// Integral numbers become KindInt (KindUint above MaxInt64); the rest become
// KindFloat. Duplicate keys keep the first position and the last value.
func ParseJSON(text string) (*Set, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: top level must be an object", ErrInvalidJSON)
	}
	s, err := parseObject(dec, 0)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data", ErrInvalidJSON)
	}
	return s, nil
}

// parseObject consumes the members of an object whose '{' was already read.
func parseObject(dec *json.Decoder, depth int) (*Set, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrInvalidJSON, maxDepth)
	}
	s := New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: expected key, got %v", ErrInvalidJSON, tok)
		}
		v, err := parseValue(dec, depth)
		if err != nil {
			return nil, err
		}
		s.Put(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return s, nil
}

func parseValue(dec *json.Decoder, depth int) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return parseNumber(t)
	case json.Delim:
		switch t {
		case '{':
			s, err := parseObject(dec, depth+1)
			if err != nil {
				return Value{}, err
			}
			return Nested(s), nil
		case '[':
			items := make([]Value, 0)
			for dec.More() {
				item, err := parseValue(dec, depth+1)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
			}
			return List(items...), nil
		}
	}
	return Value{}, fmt.Errorf("%w: unexpected token %v", ErrInvalidJSON, tok)
}

// formatFloat keeps a fraction or exponent so the text parses back as a float.
func formatFloat(f float64) string {
	text := strconv.FormatFloat(f, 'g', -1, 64)
	if strings.ContainsAny(text, ".eE") {
		return text
	}
	return text + ".0"
}

func parseNumber(n json.Number) (Value, error) {
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		return Int(i), nil
	}
	if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
		return Uint(u), nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: number %s: %v", ErrInvalidJSON, n, err)
	}
	return Float(f), nil
}
