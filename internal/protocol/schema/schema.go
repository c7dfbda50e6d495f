// Package schema checks control request payloads against the properties
// each control opcode requires.
package schema

import (
	"fmt"

	"github.com/danmuck/blkio/internal/kvset"
	"github.com/danmuck/blkio/internal/transport"
	"github.com/rs/zerolog/log"
)

type Requirement struct {
	Key string
	// Kinds lists the accepted value kinds.
	Kinds []kvset.Kind
}

type ValidationError struct {
	Opcode transport.Opcode
	Key    string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("schema: op=%s: %s", e.Opcode, e.Reason)
	}
	return fmt.Sprintf("schema: op=%s key=%q: %s", e.Opcode, e.Key, e.Reason)
}

var unsigned = []kvset.Kind{kvset.KindUint, kvset.KindInt}

var requirements = map[transport.Opcode][]Requirement{
	transport.OpStat:   nil,
	transport.OpFlush:  nil,
	transport.OpEcho:   nil,
	transport.OpResize: {{Key: "size", Kinds: unsigned}},
}

// Known reports whether op is a control opcode with a registered schema.
func Known(op transport.Opcode) bool {
	_, ok := requirements[op]
	return ok
}

// Validate enforces required properties and their kinds for a control
// opcode. Extra properties are ignored.
func Validate(op transport.Opcode, in *kvset.Set) error {
	reqs, ok := requirements[op]
	if !ok {
		log.Debug().Str("op", op.String()).Msg("schema.Validate unknown opcode")
		return ValidationError{Opcode: op, Reason: "unknown opcode"}
	}
	for _, req := range reqs {
		v, found := in.Get(req.Key)
		if !found {
			log.Debug().Str("op", op.String()).Str("key", req.Key).Msg("schema.Validate missing property")
			return ValidationError{Opcode: op, Key: req.Key, Reason: "missing required property"}
		}
		if !kindAllowed(v.Kind, req.Kinds) {
			return ValidationError{Opcode: op, Key: req.Key, Reason: "kind " + v.Kind.String() + " not allowed"}
		}
		if v.Kind == kvset.KindInt && v.Int < 0 {
			return ValidationError{Opcode: op, Key: req.Key, Reason: "negative value"}
		}
	}
	return nil
}

func kindAllowed(k kvset.Kind, allowed []kvset.Kind) bool {
	for _, a := range allowed {
		if a == k {
			return true
		}
	}
	return false
}
