package iio

import (
	"fmt"

	"github.com/danmuck/blkio/internal/kvset"
	"github.com/danmuck/blkio/internal/transport"
)

func (c *Client) newMessage(rfd int32, userCtx any) (*transport.Message, error) {
	host, dev, err := c.resolveDevice(rfd)
	if err != nil {
		return nil, err
	}
	return &transport.Message{
		Handle:  rfd,
		Channel: host,
		Target:  dev,
		UserCtx: userCtx,
	}, nil
}

func (c *Client) buildRead(rfd int32, buf []byte, offset uint64, userCtx any) (*transport.Message, error) {
	msg, err := c.newMessage(rfd, userCtx)
	if err != nil {
		return nil, err
	}
	msg.Opcode = transport.OpRead
	msg.DataType = transport.DataRaw
	msg.Offset = offset
	msg.Size = uint64(len(buf))
	msg.IOFlags |= transport.SourceTagAppIO
	msg.Recv = [][]byte{buf}
	return msg, nil
}

func (c *Client) buildWrite(rfd int32, segs [][]byte, offset uint64, userCtx any) (*transport.Message, error) {
	msg, err := c.newMessage(rfd, userCtx)
	if err != nil {
		return nil, err
	}
	msg.Opcode = transport.OpWrite
	msg.DataType = transport.DataRaw
	msg.Send = segs
	if size := msg.SendLen(); size > MaxIOSize {
		c.release(msg)
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrPayloadTooLarge, size, MaxIOSize)
	}
	msg.PayloadSize = msg.SendLen()
	msg.Offset = offset
	msg.IOFlags |= transport.SourceTagAppIO
	return msg, nil
}

// buildControl parses inJSON before a message exists, so bad input never
// allocates one.
func (c *Client) buildControl(rfd int32, opcode transport.Opcode, inJSON string, userCtx any) (*transport.Message, error) {
	host, dev, err := c.resolveDevice(rfd)
	if err != nil {
		return nil, err
	}
	var body []byte
	if inJSON != "" {
		in, err := kvset.ParseJSON(inJSON)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}
		body, err = kvset.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}
	}
	msg := &transport.Message{
		Handle:      rfd,
		Opcode:      opcode,
		DataType:    transport.DataPS,
		Channel:     host,
		Target:      dev,
		PayloadSize: uint64(len(body)),
		UserCtx:     userCtx,
	}
	if body != nil {
		msg.Send = [][]byte{body}
	}
	return msg, nil
}
