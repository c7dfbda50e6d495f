package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/blkio/internal/kvset"
	"github.com/danmuck/blkio/internal/testutil/testlog"
	"github.com/danmuck/blkio/internal/transport"
)

func TestValidateResizeRequiredProperty(t *testing.T) {
	testlog.Start(t)
	for _, v := range []kvset.Value{kvset.Uint(10), kvset.Int(10)} {
		in := kvset.New().Put("size", v).Put("extra", kvset.String("ignored"))
		if err := Validate(transport.OpResize, in); err != nil {
			t.Fatalf("validate resize %s: %v", v.Kind, err)
		}
	}
}

func TestValidateFailuresDeterministic(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name   string
		op     transport.Opcode
		in     *kvset.Set
		key    string
		reason string
	}{
		{"missing", transport.OpResize, kvset.New(), "size", "missing required property"},
		{"wrong kind", transport.OpResize, kvset.New().Put("size", kvset.String("big")), "size", "kind string not allowed"},
		{"negative", transport.OpResize, kvset.New().Put("size", kvset.Int(-1)), "size", "negative value"},
		{"unknown op", transport.Opcode(77), kvset.New(), "", "unknown opcode"},
	}
	for _, tc := range cases {
		err := Validate(tc.op, tc.in)
		var ve ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
		if ve.Key != tc.key || ve.Reason != tc.reason {
			t.Fatalf("%s: unexpected validation error: %+v", tc.name, ve)
		}
	}
}

func TestKnown(t *testing.T) {
	testlog.Start(t)
	for _, op := range []transport.Opcode{transport.OpStat, transport.OpResize, transport.OpFlush, transport.OpEcho} {
		if !Known(op) {
			t.Fatalf("%s should be known", op)
		}
	}
	if Known(transport.OpRead) {
		t.Fatalf("read is not a control opcode")
	}
}
