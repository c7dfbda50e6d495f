package iio

import (
	"context"
	"fmt"

	"github.com/danmuck/blkio/internal/kvset"
	"github.com/danmuck/blkio/internal/observability"
	"github.com/danmuck/blkio/internal/transport"
	"github.com/rs/zerolog/log"
)

// Read fills buf from the device rfd at offset. With FlagAsync the call
// returns once the engine accepts the request and buf is filled before the
// Callback fires.
func (c *Client) Read(ctx context.Context, rfd int32, buf []byte, offset uint64, userCtx any, flags Flags) error {
	msg, err := c.buildRead(rfd, buf, offset, userCtx)
	if err != nil {
		return err
	}
	if flags&FlagAsync != 0 {
		return c.sendAsync(msg, transport.FlagReq|transport.FlagNeedResp)
	}
	defer c.release(msg)
	return c.sendSync(ctx, msg, transport.FlagReq|transport.FlagNeedResp)
}

// Writev writes the concatenation of segs to the device rfd at offset.
func (c *Client) Writev(ctx context.Context, rfd int32, segs [][]byte, offset uint64, userCtx any, flags Flags) error {
	msg, err := c.buildWrite(rfd, segs, offset, userCtx)
	if err != nil {
		return err
	}
	if flags&FlagAsync != 0 {
		wire := transport.FlagReq
		if flags&FlagDone != 0 {
			wire |= transport.FlagNeedAck
		}
		if flags&FlagNeedResp != 0 {
			wire |= transport.FlagNeedResp
		}
		return c.sendAsync(msg, wire)
	}
	defer c.release(msg)
	return c.sendSync(ctx, msg, transport.FlagReq|transport.FlagNeedAck)
}

// IoctlJSON sends a control request. inJSON, when non-empty, must be a JSON
// object. A synchronous call returns the decoded response; async calls
// return a nil Payload and deliver the response through the Callback.
func (c *Client) IoctlJSON(ctx context.Context, rfd int32, opcode transport.Opcode, inJSON string, userCtx any, flags Flags) (Payload, error) {
	msg, err := c.buildControl(rfd, opcode, inJSON, userCtx)
	if err != nil {
		log.Debug().Int32("rfd", rfd).Str("op", opcode.String()).Err(err).Msg("iio.IoctlJSON build failed")
		return nil, err
	}
	if flags&FlagAsync != 0 {
		wire := transport.FlagReq
		if flags&(FlagDone|FlagNeedResp) != 0 {
			wire |= transport.FlagNeedResp
		}
		return nil, c.sendAsync(msg, wire)
	}
	defer c.release(msg)
	if err := c.sendSync(ctx, msg, transport.FlagReq|transport.FlagNeedResp); err != nil {
		return nil, err
	}
	if len(msg.Recv) == 0 || len(msg.Recv[0]) == 0 {
		return NoPayload{}, nil
	}
	out, err := c.decodeSet(msg.Recv[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return out, nil
}

// sendAsync passes ownership of msg to the engine, or releases it when the
// engine refuses it.
func (c *Client) sendAsync(msg *transport.Message, wire transport.Flags) error {
	op := msg.Opcode.String()
	msg.Flags = wire
	if err := c.engine.Send(msg); err != nil {
		observability.RecordDispatch(op, "async", "rejected")
		log.Debug().Int32("rfd", msg.Handle).Str("op", op).Err(err).Msg("iio async send rejected")
		c.release(msg)
		return fmt.Errorf("iio: %s rfd=%d: %w", op, msg.Handle, err)
	}
	observability.RecordDispatch(op, "async", "accepted")
	return nil
}

// sendSync blocks until msg completes. The caller keeps ownership and
// releases it.
func (c *Client) sendSync(ctx context.Context, msg *transport.Message, wire transport.Flags) error {
	op := msg.Opcode.String()
	msg.Flags = wire
	if err := c.engine.SendAndWait(ctx, msg); err != nil {
		observability.RecordDispatch(op, "sync", "error")
		return fmt.Errorf("iio: %s rfd=%d: %w", op, msg.Handle, err)
	}
	observability.RecordDispatch(op, "sync", "ok")
	return nil
}

// decodeSet turns a structured payload into JSON text or a property set
// depending on the client mode.
func (c *Client) decodeSet(b []byte) (Payload, error) {
	set, err := kvset.Unmarshal(b)
	if err != nil {
		return nil, err
	}
	if !c.jsonMode {
		return SetPayload{Set: set}, nil
	}
	text, err := kvset.RenderJSON(set)
	if err != nil {
		return nil, err
	}
	return JSONPayload{Text: text}, nil
}

func (c *Client) release(msg *transport.Message) {
	if err := msg.Release(); err != nil {
		log.Error().Int32("rfd", msg.Handle).Uint64("id", msg.ID).Err(err).Msg("iio message release")
	}
}
