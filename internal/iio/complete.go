package iio

import (
	"github.com/danmuck/blkio/internal/observability"
	"github.com/danmuck/blkio/internal/transport"
	"github.com/rs/zerolog/log"
)

// complete is the engine's completion func. It runs once per async message
// and once per channel hangup, and releases the message after the callback
// returns.
func (c *Client) complete(msg *transport.Message) {
	defer c.release(msg)

	if msg.Status == transport.StatusChannelHup {
		log.Info().Str("host", msg.Channel).Msg("iio channel hangup")
		observability.RecordCompletion("none", ReasonHup.String(), PayloadNone.String())
		c.cb(0, ReasonHup, nil, &Reply{Status: transport.StatusChannelHup, Payload: NoPayload{}})
		return
	}

	reply := &Reply{
		Status:  msg.Status,
		Opcode:  msg.Opcode,
		Handle:  msg.Handle,
		UserCtx: msg.UserCtx,
		Payload: NoPayload{},
	}
	reason := ReasonDone
	if msg.Status != transport.StatusSuccess {
		reason = ReasonEvent
	} else {
		switch msg.DataType {
		case transport.DataPS:
			if len(msg.Recv) > 0 && len(msg.Recv[0]) > 0 {
				p, err := c.decodeSet(msg.Recv[0])
				if err != nil {
					log.Warn().Int32("rfd", msg.Handle).Uint64("id", msg.ID).Err(err).Msg("iio reply decode failed")
					reply.Status = transport.StatusInvalidPayload
					reason = ReasonEvent
				} else {
					reply.Payload = p
				}
			}
		case transport.DataRaw:
			if len(msg.Recv) > 0 {
				buf := msg.Recv[0]
				reply.Payload = BytesPayload{Buf: buf, Len: len(buf), NBytes: msg.NBytes}
			}
		}
	}

	observability.RecordCompletion(msg.Opcode.String(), reason.String(), reply.Payload.Kind().String())
	c.cb(msg.Handle, reason, msg.UserCtx, reply)
}
