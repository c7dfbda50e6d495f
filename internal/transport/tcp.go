package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/blkio/internal/protocol/frame"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
)

// TCPEngine runs one connection per remote host and demultiplexes replies by
// message ID on a reader goroutine per connection.
type TCPEngine struct {
	cfg    Config
	done   CompletionFunc
	nextID atomic.Uint64

	mu       sync.Mutex
	channels map[string]*channel
	rng      *rand.Rand
	closed   bool
}

var _ Engine = (*TCPEngine)(nil)

// NewTCPEngine returns an engine that reports completions and hangups to done.
func NewTCPEngine(cfg Config, done CompletionFunc) (*TCPEngine, error) {
	if done == nil {
		return nil, errors.New("transport: completion func required")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	return &TCPEngine{
		cfg:      cfg,
		done:     done,
		channels: make(map[string]*channel),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

type channel struct {
	host    string
	addr    string
	conn    net.Conn
	engine  *TCPEngine
	pending *pendingTable

	wmu      sync.Mutex
	stopOnce sync.Once
}

func (e *TCPEngine) CreateChannel(host, port string) Status {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return StatusClosed
	}
	if _, ok := e.channels[host]; ok {
		e.mu.Unlock()
		return StatusChanExists
	}
	e.mu.Unlock()

	addr := net.JoinHostPort(host, port)
	conn, err := e.dialWithRetry(addr)
	if err != nil {
		log.Warn().Str("addr", addr).Err(err).Msg("transport.CreateChannel dial failed")
		return StatusNotConnected
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		_ = conn.Close()
		return StatusClosed
	}
	if _, ok := e.channels[host]; ok {
		// lost the race to a concurrent open of the same host
		_ = conn.Close()
		return StatusChanExists
	}
	ch := &channel{
		host:    host,
		addr:    addr,
		conn:    conn,
		engine:  e,
		pending: newPendingTable(),
	}
	e.channels[host] = ch
	go ch.readLoop()
	log.Debug().Str("host", host).Str("addr", addr).Msg("transport.CreateChannel ready")
	return StatusSuccess
}

func (e *TCPEngine) dialWithRetry(addr string) (net.Conn, error) {
	var attempt int
	for {
		attempt++
		conn, err := e.dial(addr)
		if err == nil {
			return conn, nil
		}
		if e.cfg.MaxConnectAttempts > 0 && attempt >= e.cfg.MaxConnectAttempts {
			return nil, err
		}
		e.mu.Lock()
		delay := e.cfg.Backoff.Delay(attempt, e.rng)
		e.mu.Unlock()
		log.Debug().Str("addr", addr).Int("attempt", attempt).Dur("delay", delay).Err(err).Msg("transport dial retry")
		time.Sleep(delay)
	}
}

func (e *TCPEngine) dial(addr string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: e.cfg.ConnectTimeout}
	rawConn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	if !e.cfg.TLS.Enabled {
		return rawConn, nil
	}
	tlsCfg, err := e.clientTLSConfig(addr)
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(ctx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (e *TCPEngine) clientTLSConfig(addr string) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: e.cfg.TLS.InsecureSkipVerify,
	}
	serverName := strings.TrimSpace(e.cfg.TLS.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(e.cfg.TLS.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("transport: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}
	if strings.TrimSpace(e.cfg.TLS.CertFile) != "" {
		cert, err := tls.LoadX509KeyPair(e.cfg.TLS.CertFile, e.cfg.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func (e *TCPEngine) lookup(host string) (*channel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	ch, ok := e.channels[host]
	if !ok {
		return nil, fmt.Errorf("%w: host=%q", ErrNotConnected, host)
	}
	return ch, nil
}

func (e *TCPEngine) Send(msg *Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	msg.done = nil
	ch, err := e.lookup(msg.Channel)
	if err != nil {
		return err
	}
	return ch.send(msg)
}

func (e *TCPEngine) SendAndWait(ctx context.Context, msg *Message) error {
	if msg == nil {
		return ErrNilMessage
	}
	if msg.Flags&(FlagNeedResp|FlagNeedAck) == 0 {
		msg.Flags |= FlagReq | FlagNeedResp
	}
	msg.done = make(chan struct{})
	ch, err := e.lookup(msg.Channel)
	if err != nil {
		return err
	}
	if err := ch.send(msg); err != nil {
		return err
	}
	select {
	case <-msg.done:
		return msg.Status.Err()
	case <-ctx.Done():
		if _, ok := ch.pending.take(msg.ID); !ok {
			// the reader already owns it; wait so it is not touched after return
			<-msg.done
		}
		return ctx.Err()
	}
}

// Pending lists in-flight requests on the channel to host.
func (e *TCPEngine) Pending(host string) []PendingRequest {
	ch, err := e.lookup(host)
	if err != nil {
		return nil
	}
	return ch.pending.list()
}

// Close tears down every channel. Pending requests complete with
// StatusClosed; no hangup events are delivered.
func (e *TCPEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	channels := make([]*channel, 0, len(e.channels))
	for host, ch := range e.channels {
		channels = append(channels, ch)
		delete(e.channels, host)
	}
	e.mu.Unlock()

	var err error
	for _, ch := range channels {
		err = multierr.Append(err, ch.stop(StatusClosed))
	}
	return err
}

func (e *TCPEngine) deliver(msg *Message) {
	if msg.done != nil {
		close(msg.done)
		return
	}
	e.done(msg)
}

func (c *channel) send(msg *Message) error {
	id := c.engine.nextID.Add(1)
	msg.ID = id
	needsReply := msg.Flags&(FlagNeedResp|FlagNeedAck) != 0 || msg.done != nil
	msg.writing.Lock()
	if needsReply {
		c.pending.add(msg, time.Now())
	}

	c.wmu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.engine.cfg.WriteTimeout))
	err := frame.WriteFrame(c.conn, RequestFrame(msg), c.engine.cfg.Limits, msg.Send...)
	c.wmu.Unlock()
	msg.writing.Unlock()
	if err != nil {
		if needsReply {
			if _, ok := c.pending.take(id); !ok {
				// the reader drained it during a concurrent hangup
				return nil
			}
		}
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if !needsReply {
		msg.Complete(StatusSuccess, nil)
		go c.engine.deliver(msg)
	}
	return nil
}

func (c *channel) readLoop() {
	reader := bufio.NewReader(c.conn)
	for {
		fr, err := frame.ReadFrame(reader, c.engine.cfg.Limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn().Str("host", c.host).Err(err).Msg("transport channel read failed")
			}
			break
		}
		hdr, err := DecodeRequestHeader(fr.Ext)
		if err != nil {
			log.Warn().Str("host", c.host).Uint64("id", fr.Header.MessageID).Err(err).Msg("transport bad reply header")
			continue
		}
		msg, ok := c.pending.take(fr.Header.MessageID)
		if !ok {
			log.Debug().Str("host", c.host).Uint64("id", fr.Header.MessageID).Msg("transport reply for unknown message")
			continue
		}
		msg.awaitWrite()
		msg.Complete(hdr.Status, fr.Payload)
		if msg.NBytes == 0 {
			msg.NBytes = hdr.NBytes
		}
		c.engine.deliver(msg)
	}
	c.hangup()
}

// hangup runs when the remote side drops the connection.
func (c *channel) hangup() {
	e := c.engine
	e.mu.Lock()
	owned := e.channels[c.host] == c
	if owned {
		delete(e.channels, c.host)
	}
	closed := e.closed
	e.mu.Unlock()
	if !owned || closed {
		return
	}
	if err := c.stop(StatusIO); err != nil {
		log.Debug().Str("host", c.host).Err(err).Msg("transport channel close")
	}
	log.Info().Str("host", c.host).Msg("transport channel hangup")
	e.done(Hangup(c.host))
}

func (c *channel) stop(status Status) error {
	var err error
	c.stopOnce.Do(func() {
		err = c.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
		// conn.Close unblocks in-flight writes; each sender lets go of its
		// message before the drained completion is delivered.
		for _, msg := range c.pending.drain() {
			msg.awaitWrite()
			msg.Complete(status, nil)
			c.engine.deliver(msg)
		}
	})
	return err
}
