package iio

import (
	"github.com/danmuck/blkio/internal/kvset"
	"github.com/danmuck/blkio/internal/transport"
)

// Reason tells a Callback why it fired.
type Reason uint8

const (
	// ReasonDone is a request that completed successfully.
	ReasonDone Reason = iota
	// ReasonEvent is a request that completed with an error status.
	ReasonEvent
	// ReasonHup is a channel hangup. It is not tied to any request.
	ReasonHup
)

func (r Reason) String() string {
	switch r {
	case ReasonDone:
		return "done"
	case ReasonEvent:
		return "event"
	case ReasonHup:
		return "hup"
	default:
		return "unknown"
	}
}

type PayloadKind uint8

const (
	PayloadNone PayloadKind = iota
	PayloadJSON
	PayloadSet
	PayloadBytes
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadNone:
		return "none"
	case PayloadJSON:
		return "json"
	case PayloadSet:
		return "set"
	case PayloadBytes:
		return "bytes"
	default:
		return "unknown"
	}
}

// Payload is the decoded body of a Reply. The concrete type is one of
// NoPayload, JSONPayload, SetPayload or BytesPayload.
type Payload interface {
	Kind() PayloadKind
	isPayload()
}

type NoPayload struct{}

// JSONPayload is a structured reply rendered to text.
type JSONPayload struct {
	Text string
}

// SetPayload is a structured reply owned by the caller.
type SetPayload struct {
	Set *kvset.Set
}

// BytesPayload exposes the receive buffer the caller passed to Read. Buf
// aliases that buffer; NBytes is the count the remote side transferred.
type BytesPayload struct {
	Buf    []byte
	Len    int
	NBytes uint64
}

func (NoPayload) Kind() PayloadKind    { return PayloadNone }
func (JSONPayload) Kind() PayloadKind  { return PayloadJSON }
func (SetPayload) Kind() PayloadKind   { return PayloadSet }
func (BytesPayload) Kind() PayloadKind { return PayloadBytes }

func (NoPayload) isPayload()    {}
func (JSONPayload) isPayload()  {}
func (SetPayload) isPayload()   {}
func (BytesPayload) isPayload() {}

// KindOf is p.Kind() with a nil Payload reported as PayloadNone.
func KindOf(p Payload) PayloadKind {
	if p == nil {
		return PayloadNone
	}
	return p.Kind()
}

// Reply is handed to the Callback once per completed request and once per
// channel hangup. The callback owns it after delivery.
type Reply struct {
	Status  transport.Status
	Opcode  transport.Opcode
	Handle  int32
	UserCtx any
	Payload Payload
}

// Err returns nil for a successful reply.
func (r *Reply) Err() error {
	return r.Status.Err()
}
