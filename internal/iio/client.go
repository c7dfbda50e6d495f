// Package iio is the caller-facing block I/O API. A Client hands out
// channel and device handles, turns read, write and control calls into
// transport messages, and translates completions into typed replies.
package iio

import (
	"fmt"
	"sync/atomic"

	"github.com/danmuck/blkio/internal/transport"
	"github.com/rs/zerolog/log"
)

// MaxIOSize bounds the payload of a single write.
const MaxIOSize = 1 << 20

// Flags select the execution mode of Read, Writev and IoctlJSON.
type Flags uint32

const (
	// FlagAsync returns once the engine accepts the request; the result
	// arrives through the Callback.
	FlagAsync Flags = 1 << iota
	// FlagDone asks for an ack on writes and a response on control calls.
	FlagDone
	// FlagNeedResp asks for a full response.
	FlagNeedResp
)

// Callback receives async completions and channel hangups. It runs on
// engine goroutines and must not block for long.
type Callback func(handle int32, reason Reason, userCtx any, reply *Reply)

// EngineFactory builds the transport engine a Client dispatches to. done is
// the Client's completion translator.
type EngineFactory func(done transport.CompletionFunc) (transport.Engine, error)

// Config selects the reply mode and transport for a Client.
type Config struct {
	// JSON renders structured replies as JSON text instead of a property set.
	JSON      bool
	Transport transport.Config
	// Engine overrides the default TCP engine.
	Engine EngineFactory
}

// TCPEngine returns a factory for the TCP transport engine.
func TCPEngine(cfg transport.Config) EngineFactory {
	return func(done transport.CompletionFunc) (transport.Engine, error) {
		engine, err := transport.NewTCPEngine(cfg, done)
		if err != nil {
			return nil, err
		}
		return engine, nil
	}
}

// Client is one initialized API instance. It is safe for concurrent use.
type Client struct {
	cb       Callback
	jsonMode bool
	engine   transport.Engine

	next     atomic.Int32
	channels *table[string]
	// devices maps a handle to "<host> <devpath>".
	devices *table[string]
}

// Init builds a Client and its engine. cb is required.
func Init(cfg Config, cb Callback) (*Client, error) {
	if cb == nil {
		return nil, ErrNilCallback
	}
	c := &Client{
		cb:       cb,
		jsonMode: cfg.JSON,
		channels: newTable[string](),
		devices:  newTable[string](),
	}
	factory := cfg.Engine
	if factory == nil {
		factory = TCPEngine(cfg.Transport)
	}
	engine, err := factory(c.complete)
	if err != nil {
		return nil, fmt.Errorf("iio: init engine: %w", err)
	}
	c.engine = engine
	log.Debug().Bool("json", cfg.JSON).Msg("iio.Init")
	return c, nil
}

// Shutdown closes the transport engine. Handles are left as they are.
func (c *Client) Shutdown() error {
	return c.engine.Close()
}

// JSONMode reports whether structured replies are rendered as JSON text.
func (c *Client) JSONMode() bool {
	return c.jsonMode
}
