package transport

import (
	"errors"
	"fmt"
)

// Opcode identifies the requested operation.
type Opcode uint32

const (
	OpRead  Opcode = 1
	OpWrite Opcode = 2

	// Control opcodes carry structured payloads.
	OpStat   Opcode = 100
	OpResize Opcode = 101
	OpFlush  Opcode = 102
	OpEcho   Opcode = 103
)

func (o Opcode) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpStat:
		return "stat"
	case OpResize:
		return "resize"
	case OpFlush:
		return "flush"
	case OpEcho:
		return "echo"
	default:
		return fmt.Sprintf("op(%d)", uint32(o))
	}
}

// DataType describes the payload shape of a message in both directions.
type DataType uint32

const (
	DataNone DataType = 0
	DataRaw  DataType = 1
	DataPS   DataType = 2
)

// Flags select request/response behavior on the wire.
type Flags uint32

const (
	FlagReq      Flags = 0x01
	FlagNeedResp Flags = 0x02
	FlagNeedAck  Flags = 0x04
)

// IOFlags are carried to the remote endpoint untouched.
type IOFlags uint32

const (
	SourceTagAppIO IOFlags = 0x10
)

// Status is the completion code of a message.
type Status uint32

const (
	StatusSuccess Status = iota
	StatusChanExists
	StatusChannelHup
	StatusNotConnected
	StatusIO
	StatusInvalid
	StatusNoDevice
	StatusTooBig
	StatusInvalidPayload
	StatusClosed
)

var (
	ErrChanExists     = errors.New("transport: channel exists")
	ErrChannelHup     = errors.New("transport: channel hangup")
	ErrNotConnected   = errors.New("transport: channel not connected")
	ErrIO             = errors.New("transport: i/o error")
	ErrInvalid        = errors.New("transport: invalid request")
	ErrNoDevice       = errors.New("transport: no such device")
	ErrTooBig         = errors.New("transport: payload too large")
	ErrInvalidPayload = errors.New("transport: invalid payload")
	ErrClosed         = errors.New("transport: engine closed")
	ErrDoubleRelease  = errors.New("transport: message released twice")
	ErrNilMessage     = errors.New("transport: nil message")
)

var statusErrors = map[Status]error{
	StatusChanExists:     ErrChanExists,
	StatusChannelHup:     ErrChannelHup,
	StatusNotConnected:   ErrNotConnected,
	StatusIO:             ErrIO,
	StatusInvalid:        ErrInvalid,
	StatusNoDevice:       ErrNoDevice,
	StatusTooBig:         ErrTooBig,
	StatusInvalidPayload: ErrInvalidPayload,
	StatusClosed:         ErrClosed,
}

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	if err, ok := statusErrors[s]; ok {
		return err.Error()
	}
	return fmt.Sprintf("status(%d)", uint32(s))
}

// Err returns nil for StatusSuccess and a *StatusError otherwise.
func (s Status) Err() error {
	if s == StatusSuccess {
		return nil
	}
	return &StatusError{Code: s}
}

// StatusError carries a non-success completion code. errors.Is matches the
// sentinel for known codes.
type StatusError struct {
	Code Status
}

func (e *StatusError) Error() string {
	return e.Code.String()
}

func (e *StatusError) Unwrap() error {
	return statusErrors[e.Code]
}

// StatusOf extracts the completion code from err. Errors that carry no code
// map to StatusIO.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return StatusIO
}
