// Package service wires together the connection, channel, and rpc domain
// packages into the server runtime (spec §4.7 / §3's state machine):
// accept loop, admission control, per-connection reader/writer actors, and
// graceful shutdown.
//
// Grounded on the teacher's cmd/sentinel-gate/cmd.runStart wiring style
// (construct every domain collaborator, hand them to one runtime object,
// run until a shutdown signal) and on gorilla/websocket's documented
// read-pump/write-pump pattern, which is the idiomatic Go replacement for
// the teacher's hand-rolled RFC 6455 frame relay in
// internal/adapter/inbound/httpgw/websocket.go — this server terminates
// WebSocket connections itself instead of proxying them to an upstream.
package service

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/riptide-ws/riptide/internal/auth"
	"github.com/riptide-ws/riptide/internal/config"
	"github.com/riptide-ws/riptide/internal/domain/channel"
	"github.com/riptide-ws/riptide/internal/domain/conn"
	"github.com/riptide-ws/riptide/internal/domain/rpc"
	"github.com/riptide-ws/riptide/internal/obsv"
	"github.com/riptide-ws/riptide/internal/tlsconfig"
	"github.com/riptide-ws/riptide/pkg/riptide"
)

// State is the server lifecycle state machine (spec §3): INIT -> STARTING
// -> RUNNING -> STOPPING -> STOPPED.
type State int32

const (
	StateInit State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// OnConnectFunc runs once a connection completes its WebSocket handshake,
// before it is marked OPEN and tracked for broadcast. Returning an error
// refuses the connection (spec §4.7's admission hook).
type OnConnectFunc func(c *conn.Connection) error

// OnDisconnectFunc runs once a connection has fully torn down (after
// channel unsubscription). The connection's rate-limit buckets are not
// discarded at teardown; the limiter's idle sweep reclaims them.
type OnDisconnectFunc func(c *conn.Connection)

// OnReceiveFunc runs for every inbound Packet that is not an RPC request
// (plain data packets). RPC requests are routed to the Dispatcher
// automatically and never reach this hook.
type OnReceiveFunc func(c *conn.Connection, p riptide.Packet)

// Server is the WebSocket accept loop and connection lifecycle runtime.
type Server struct {
	cfg        config.ServerConfig
	codec      riptide.Codec
	registry   *channel.Registry
	dispatcher *rpc.Dispatcher
	admitter   *auth.Admitter
	metrics    *obsv.Metrics
	logger     *slog.Logger
	upgrader   websocket.Upgrader

	onConnect    OnConnectFunc
	onDisconnect OnDisconnectFunc
	onReceive    OnReceiveFunc

	state    atomic.Int32
	httpSrv  *http.Server
	listener net.Listener
	connWG   sync.WaitGroup
}

// Option configures a Server at construction.
type Option func(*Server)

func WithLogger(l *slog.Logger) Option         { return func(s *Server) { s.logger = l } }
func WithMetrics(m *obsv.Metrics) Option        { return func(s *Server) { s.metrics = m } }
func WithAdmitter(a *auth.Admitter) Option      { return func(s *Server) { s.admitter = a } }
func WithOnConnect(f OnConnectFunc) Option      { return func(s *Server) { s.onConnect = f } }
func WithOnDisconnect(f OnDisconnectFunc) Option { return func(s *Server) { s.onDisconnect = f } }
func WithOnReceive(f OnReceiveFunc) Option      { return func(s *Server) { s.onReceive = f } }

// New builds a Server around dispatcher and registry. cfg.Wire selects the
// codec ("json" default, "binary" for the TLV wire format).
func New(cfg config.ServerConfig, registry *channel.Registry, dispatcher *rpc.Dispatcher, opts ...Option) *Server {
	var codec riptide.Codec = riptide.JSONCodec{}
	if cfg.Wire == "binary" {
		codec = riptide.BinaryCodec{}
	}
	s := &Server{
		cfg:        cfg,
		codec:      codec,
		registry:   registry,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(int32(StateInit))
	return s
}

// State returns the current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

// Registry exposes the channel registry for the owning process to publish
// or broadcast from outside a connection's own lifecycle (e.g. a timer job).
func (s *Server) Registry() *channel.Registry { return s.registry }

var ErrAdmissionRefused = errors.New("service: connection refused at admission")

// Start binds the listener and begins accepting connections. It returns
// once the listener is bound; Serve runs in the background until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.state.Store(int32(StateStarting))

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleUpgrade)

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("service: listen %s: %w", s.cfg.Listen, err)
	}

	tlsCfg, err := tlsconfig.Load(s.cfg.TLS)
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("service: loading tls config: %w", err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
		s.logger.Info("tls termination enabled", "addr", s.cfg.Listen)
	}

	s.listener = ln
	s.httpSrv = &http.Server{Handler: mux}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server loop exited", "error", err)
		}
	}()

	s.state.Store(int32(StateRunning))
	s.logger.Info("riptide server listening", "addr", s.cfg.Listen, "path", s.cfg.Path)
	return nil
}

// Shutdown stops accepting new connections and waits (bounded by ctx) for
// all connection goroutines to exit (spec §3's STOPPING -> STOPPED
// transition). It does not close connections that are still open; while
// any remain, it returns only once ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.state.Store(int32(StateStopping))

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Warn("http server shutdown error", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	s.state.Store(int32(StateStopped))
	return nil
}

// connWriter adapts *websocket.Conn to conn.Writer.
type connWriter struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (w *connWriter) WriteMessage(codec riptide.Codec, p riptide.Packet) error {
	b, err := codec.Encode(p)
	if err != nil {
		return err
	}
	msgType := websocket.TextMessage
	if _, ok := codec.(riptide.BinaryCodec); ok {
		msgType = websocket.BinaryMessage
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ws.WriteMessage(msgType, b)
}

func (w *connWriter) Close(code int, reason string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	return w.ws.Close()
}

// handleUpgrade is the HTTP handler mounted at cfg.Path: admission check,
// WebSocket upgrade, then the connection's full lifecycle.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.admitter != nil {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = r.Header.Get("X-Riptide-Admission-Token")
		}
		if err := s.admitter.Check(token); err != nil {
			if s.metrics != nil {
				s.metrics.AdmissionRejections.WithLabelValues("bad_token").Inc()
			}
			http.Error(w, "admission refused", http.StatusUnauthorized)
			return
		}
	}

	if s.cfg.MaxConnections > 0 && s.registry.ConnectionCount() >= s.cfg.MaxConnections {
		if s.metrics != nil {
			s.metrics.AdmissionRejections.WithLabelValues("max_connections").Inc()
		}
		http.Error(w, "server at capacity", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	writer := &connWriter{ws: ws}
	c := conn.New(r.RemoteAddr, writer, s.codec)

	if s.onConnect != nil {
		if err := s.onConnect(c); err != nil {
			s.logger.Info("connection refused by on_connect", "error", err, "remote", r.RemoteAddr)
			_ = writer.Close(conn.CloseTryAgainLater, "refused by application")
			return
		}
	}

	c.MarkOpen()
	s.registry.Track(c)
	if s.metrics != nil {
		s.metrics.ConnectionsTotal.Inc()
		s.metrics.ConnectionsActive.Inc()
	}

	s.connWG.Add(1)
	go s.runConnection(c, ws)
}

// runConnection owns one connection's full lifecycle: a dedicated writer
// goroutine draining the outbound queue, and the calling goroutine reading
// frames until the socket closes. Both exit before teardown completes.
func (s *Server) runConnection(c *conn.Connection, ws *websocket.Conn) {
	defer s.connWG.Done()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case pkt := <-c.Outbound():
				if err := (&connWriter{ws: ws}).WriteMessage(s.codec, pkt); err != nil {
					return
				}
			case <-c.Closed():
				// Drain what is already queued; writes fail once the
				// transport has been closed.
				for {
					select {
					case pkt := <-c.Outbound():
						if err := (&connWriter{ws: ws}).WriteMessage(s.codec, pkt); err != nil {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()

	s.readLoop(c, ws)

	_ = c.Close()
	<-writerDone
	c.MarkClosed()
	s.registry.Untrack(c)
	if s.metrics != nil {
		s.metrics.ConnectionsActive.Dec()
	}
	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}
}

func (s *Server) readLoop(c *conn.Connection, ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		pkt, err := s.codec.Decode(data)
		if err != nil {
			s.logger.Debug("dropping undecodable packet", "conn", c.ID(), "error", err)
			continue
		}

		if pkt.RPC != nil && pkt.RPC.Type == riptide.RPCTypeRequest {
			go s.handleRPC(c, *pkt.RPC)
			continue
		}

		if s.onReceive != nil {
			s.onReceive(c, pkt)
		} else {
			c.DeliverInbound(pkt)
		}
	}
}

func (s *Server) handleRPC(c *conn.Connection, req riptide.RPC) {
	ctx := context.Background()
	if t := s.rpcTimeout(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	start := time.Now()
	resp, closeAfter := s.dispatcher.Dispatch(ctx, c, req)

	if s.metrics != nil {
		outcome := "ok"
		if resp.Error != nil {
			outcome = string(*resp.Error)
		}
		s.metrics.RPCCallsTotal.WithLabelValues(req.Method, outcome).Inc()
		s.metrics.RPCCallDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
		if resp.Error != nil && *resp.Error == riptide.ErrRateLimited {
			s.metrics.RateLimitRejects.WithLabelValues(req.Method).Inc()
		}
	}

	_ = c.Send(riptide.Packet{RPC: &resp, Source: riptide.SourceRPC})

	// The close, if any, must follow the Send above: Dispatch never closes
	// the connection itself so the rejection response is guaranteed to be
	// enqueued first (spec §4.3).
	if closeAfter != nil {
		_ = c.CloseWithCode(closeAfter.Code, closeAfter.Reason)
	}
}

// rpcTimeout is the deadline for one RPC dispatch; zero means none.
func (s *Server) rpcTimeout() time.Duration {
	return s.cfg.RPCCallTimeout
}
