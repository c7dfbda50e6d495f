package transport

import (
	"fmt"

	"github.com/danmuck/blkio/internal/protocol/frame"
	"github.com/danmuck/blkio/internal/protocol/tlv"
)

// Ext field IDs carried in the frame extension block.
const (
	extTarget   uint16 = 1
	extOffset   uint16 = 2
	extSize     uint16 = 3
	extIOFlags  uint16 = 4
	extDataType uint16 = 5
	extFlags    uint16 = 6
	extStatus   uint16 = 7
	extNBytes   uint16 = 8
)

// RequestHeader is the per-message metadata that travels next to the frame
// header in both directions.
type RequestHeader struct {
	Target   string
	Offset   uint64
	Size     uint64
	IOFlags  IOFlags
	DataType DataType
	Flags    Flags
	Status   Status
	NBytes   uint64
}

func (h RequestHeader) Encode() []byte {
	return tlv.EncodeFields([]tlv.Field{
		tlv.NewString(extTarget, h.Target),
		tlv.NewU64(extOffset, h.Offset),
		tlv.NewU64(extSize, h.Size),
		tlv.NewU32(extIOFlags, uint32(h.IOFlags)),
		tlv.NewU32(extDataType, uint32(h.DataType)),
		tlv.NewU32(extFlags, uint32(h.Flags)),
		tlv.NewU32(extStatus, uint32(h.Status)),
		tlv.NewU64(extNBytes, h.NBytes),
	})
}

// DecodeRequestHeader parses an extension block. Missing fields keep their
// zero value; unknown fields are ignored.
func DecodeRequestHeader(ext []byte) (RequestHeader, error) {
	fields, err := tlv.DecodeFields(ext)
	if err != nil {
		return RequestHeader{}, err
	}
	var h RequestHeader
	for _, f := range fields {
		switch f.ID {
		case extTarget:
			h.Target, err = f.Str()
		case extOffset:
			h.Offset, err = f.U64()
		case extSize:
			h.Size, err = f.U64()
		case extNBytes:
			h.NBytes, err = f.U64()
		case extIOFlags, extDataType, extFlags, extStatus:
			var v uint32
			v, err = f.U32()
			switch f.ID {
			case extIOFlags:
				h.IOFlags = IOFlags(v)
			case extDataType:
				h.DataType = DataType(v)
			case extFlags:
				h.Flags = Flags(v)
			case extStatus:
				h.Status = Status(v)
			}
		}
		if err != nil {
			return RequestHeader{}, fmt.Errorf("transport: ext field %d: %w", f.ID, err)
		}
	}
	return h, nil
}

// RequestFrame maps msg onto a wire frame. Send segments are passed to
// frame.WriteFrame separately so they are not copied twice.
func RequestFrame(msg *Message) frame.Frame {
	return frame.Frame{
		Header: frame.Header{MessageID: msg.ID, Opcode: uint32(msg.Opcode)},
		Ext: RequestHeader{
			Target:   msg.Target,
			Offset:   msg.Offset,
			Size:     msg.Size,
			IOFlags:  msg.IOFlags,
			DataType: msg.DataType,
			Flags:    msg.Flags,
		}.Encode(),
	}
}

// ResponseFrame builds the reply to req carrying status and payload.
func ResponseFrame(req frame.Header, h RequestHeader, payload []byte) frame.Frame {
	flags := frame.FlagIsResponse
	if h.Status != StatusSuccess {
		flags |= frame.FlagIsError
	}
	return frame.Frame{
		Header:  frame.Header{MessageID: req.MessageID, Opcode: req.Opcode, Flags: flags},
		Ext:     h.Encode(),
		Payload: payload,
	}
}
