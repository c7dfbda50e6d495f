// Package target is a memory-backed block endpoint speaking the frame
// protocol. It backs the client's end-to-end tests and the blkserve binary.
package target

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/blkio/internal/kvset"
	"github.com/danmuck/blkio/internal/observability"
	"github.com/danmuck/blkio/internal/protocol/frame"
	"github.com/danmuck/blkio/internal/protocol/schema"
	"github.com/danmuck/blkio/internal/transport"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Config defines one target node.
type Config struct {
	ID          string
	Listen      string
	AdminListen string
	CorsOrigins []string
	MaxIOSize   uint64
	MaxDevSize  uint64
	// FixedDevices rejects requests for devices not created up front.
	FixedDevices bool
	Devices      []DeviceInfo
	TLSCertFile  string
	TLSKeyFile   string
	// AdminToken guards the device routes of the admin API when set.
	AdminToken string
	Limits     frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ID:        "blkserve",
		Listen:    "127.0.0.1:9810",
		MaxIOSize: 1 << 20,
		Limits:    frame.DefaultLimits(),
	}
}

type Server struct {
	cfg      Config
	store    *Store
	started  time.Time
	listener net.Listener
	admin    *http.Server

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func New(cfg Config) (*Server, error) {
	if strings.TrimSpace(cfg.ID) == "" {
		cfg.ID = DefaultConfig().ID
	}
	if cfg.MaxIOSize == 0 {
		cfg.MaxIOSize = DefaultConfig().MaxIOSize
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	store := NewStore(cfg.MaxDevSize, cfg.FixedDevices)
	for _, dev := range cfg.Devices {
		if err := store.Create(dev.Path, dev.Size); err != nil {
			return nil, fmt.Errorf("target: device %q: %w", dev.Path, err)
		}
	}
	return &Server{
		cfg:     cfg,
		store:   store,
		started: time.Now(),
		conns:   make(map[net.Conn]struct{}),
	}, nil
}

func (s *Server) Store() *Store {
	return s.store
}

// Listen binds the frame listener. It is split from Serve so callers can
// learn the bound address before serving.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	if s.cfg.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		if err != nil {
			_ = ln.Close()
			return err
		}
		ln = tls.NewListener(ln, &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		})
	}
	s.listener = ln
	return nil
}

func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Serve accepts connections, and runs the admin listener when configured,
// until ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.acceptLoop()
	})
	if s.cfg.AdminListen != "" {
		s.admin = &http.Server{Addr: s.cfg.AdminListen, Handler: s.AdminRouter()}
		g.Go(func() error {
			if err := s.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return s.Close()
	})
	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Close stops listening and drops every connection.
func (s *Server) Close() error {
	var err error
	if s.listener != nil {
		if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}
	if s.admin != nil {
		err = multierr.Append(err, s.admin.Close())
	}
	s.DropConnections()
	return err
}

// DropConnections closes every client connection, which clients observe as
// a channel hangup.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}

func (s *Server) acceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	remote := conn.RemoteAddr().String()
	log.Debug().Str("node", s.cfg.ID).Str("remote", remote).Msg("target connection open")
	reader := bufio.NewReader(conn)
	for {
		fr, err := frame.ReadFrame(reader, s.cfg.Limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Warn().Str("node", s.cfg.ID).Str("remote", remote).Err(err).Msg("target read failed")
			}
			return
		}
		resp, reply := s.handle(fr)
		if !reply {
			continue
		}
		if err := frame.WriteFrame(conn, resp, s.cfg.Limits); err != nil {
			log.Warn().Str("node", s.cfg.ID).Str("remote", remote).Err(err).Msg("target write failed")
			return
		}
	}
}

// handle serves one request frame. The second result is false when the
// client asked for neither a response nor an ack.
func (s *Server) handle(fr frame.Frame) (frame.Frame, bool) {
	start := time.Now()
	op := transport.Opcode(fr.Header.Opcode)
	req, err := transport.DecodeRequestHeader(fr.Ext)
	if err != nil {
		log.Warn().Str("node", s.cfg.ID).Uint64("id", fr.Header.MessageID).Err(err).Msg("target bad request header")
		resp := transport.RequestHeader{Status: transport.StatusInvalid}
		return transport.ResponseFrame(fr.Header, resp, nil), true
	}

	resp := transport.RequestHeader{Target: req.Target, Offset: req.Offset, DataType: req.DataType}
	payload, status := s.execute(op, req, fr.Payload)
	resp.Status = status
	if status == transport.StatusSuccess {
		if op == transport.OpWrite {
			resp.NBytes = uint64(len(fr.Payload))
		} else {
			resp.NBytes = uint64(len(payload))
		}
	} else {
		payload = nil
	}
	observability.RecordTargetRequest(s.cfg.ID, op.String(), status.String(), time.Since(start))
	log.Debug().
		Str("node", s.cfg.ID).
		Uint64("id", fr.Header.MessageID).
		Str("op", op.String()).
		Str("target", req.Target).
		Uint64("offset", req.Offset).
		Str("status", status.String()).
		Msg("target request")

	reply := req.Flags&(transport.FlagNeedResp|transport.FlagNeedAck) != 0
	if op == transport.OpWrite && req.Flags&transport.FlagNeedResp == 0 {
		// an ack confirms acceptance and carries no payload
		payload = nil
	}
	return transport.ResponseFrame(fr.Header, resp, payload), reply
}

func (s *Server) execute(op transport.Opcode, req transport.RequestHeader, body []byte) ([]byte, transport.Status) {
	switch op {
	case transport.OpRead:
		if req.Size > s.cfg.MaxIOSize {
			return nil, transport.StatusTooBig
		}
		data, err := s.store.ReadAt(req.Target, req.Offset, req.Size)
		return data, storeStatus(err)
	case transport.OpWrite:
		if uint64(len(body)) > s.cfg.MaxIOSize {
			return nil, transport.StatusTooBig
		}
		_, err := s.store.WriteAt(req.Target, req.Offset, body)
		return nil, storeStatus(err)
	}

	in, err := kvset.Unmarshal(body)
	if err != nil {
		return nil, transport.StatusInvalidPayload
	}
	out, status := s.control(op, req.Target, in)
	if status != transport.StatusSuccess || out == nil {
		return nil, status
	}
	b, err := kvset.Marshal(out)
	if err != nil {
		return nil, transport.StatusInvalidPayload
	}
	return b, transport.StatusSuccess
}

func (s *Server) control(op transport.Opcode, path string, in *kvset.Set) (*kvset.Set, transport.Status) {
	if err := schema.Validate(op, in); err != nil {
		log.Debug().Err(err).Str("device", path).Msg("control request rejected")
		return nil, transport.StatusInvalid
	}
	switch op {
	case transport.OpStat:
		info, err := s.store.Stat(path)
		if err != nil {
			return nil, storeStatus(err)
		}
		return deviceSet(info), transport.StatusSuccess
	case transport.OpResize:
		size, ok := in.GetUint("size")
		if !ok {
			return nil, transport.StatusInvalid
		}
		if err := s.store.Resize(path, size); err != nil {
			return nil, storeStatus(err)
		}
		info, err := s.store.Stat(path)
		if err != nil {
			return nil, storeStatus(err)
		}
		return deviceSet(info), transport.StatusSuccess
	case transport.OpFlush:
		if _, err := s.store.Stat(path); err != nil {
			return nil, storeStatus(err)
		}
		return kvset.New().Put("flushed", kvset.Bool(true)), transport.StatusSuccess
	case transport.OpEcho:
		return in, transport.StatusSuccess
	default:
		return nil, transport.StatusInvalid
	}
}

func deviceSet(info DeviceInfo) *kvset.Set {
	return kvset.New().
		Put("path", kvset.String(info.Path)).
		Put("size", kvset.Uint(info.Size))
}

func storeStatus(err error) transport.Status {
	switch {
	case err == nil:
		return transport.StatusSuccess
	case errors.Is(err, ErrNoDevice):
		return transport.StatusNoDevice
	case errors.Is(err, ErrOutOfRange):
		return transport.StatusTooBig
	case errors.Is(err, ErrInvalidDevice):
		return transport.StatusInvalid
	default:
		return transport.StatusIO
	}
}
