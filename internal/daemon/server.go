package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tessro/tinymon/internal/logging"
	"github.com/tessro/tinymon/internal/paths"
)

// DefaultSocketPath returns the default Unix socket path.
func DefaultSocketPath() string {
	return paths.SocketPath()
}

// writeTimeout bounds a single response write.
const writeTimeout = 5 * time.Second

// broadcastTimeout bounds an event write to an attached client. Broadcast
// runs on the supervisor's event goroutine, so a client that stops reading
// is dropped rather than waited on.
var broadcastTimeout = time.Second

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	connKey   contextKey = "conn"
	serverKey contextKey = "server"
)

// Handler processes control requests and returns responses.
type Handler interface {
	// Handle processes a request and returns a response.
	// Use ConnFromContext and ServerFromContext for attach/detach.
	Handle(ctx context.Context, req *Request) *Response
}

// ConnFromContext retrieves the client connection from the context.
func ConnFromContext(ctx context.Context) net.Conn {
	conn, _ := ctx.Value(connKey).(net.Conn)
	return conn
}

// ServerFromContext retrieves the server from the context.
func ServerFromContext(ctx context.Context) *Server {
	srv, _ := ctx.Value(serverKey).(*Server)
	return srv
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, req *Request) *Response

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req *Request) *Response {
	return f(ctx, req)
}

// Server is the Unix socket control server of a running supervisor.
type Server struct {
	socketPath string
	handler    Handler
	log        *slog.Logger
	listener   net.Listener // Set in Start before goroutine, closed in Stop

	// inflight is read-held while a request is handled and answered, so
	// Stop lets a reply to "stop" reach its client before closing.
	inflight sync.RWMutex

	mu sync.Mutex
	// +checklocks:mu
	conns map[net.Conn]*peer
	// +checklocks:mu
	started bool
	done    chan struct{}
}

// peer serializes writes to one connection. Responses and broadcast events
// share the connection, so both go through the same encoder.
type peer struct {
	conn net.Conn

	mu sync.Mutex
	// +checklocks:mu
	encoder *json.Encoder
	// +checklocks:mu
	attached bool
}

func newPeer(conn net.Conn) *peer {
	return &peer{conn: conn, encoder: json.NewEncoder(conn)}
}

// send writes v within timeout.
func (p *peer) send(v any, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sendLocked(v, timeout)
}

// +checklocks:p.mu
func (p *peer) sendLocked(v any, timeout time.Duration) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(timeout))
	err := p.encoder.Encode(v)
	_ = p.conn.SetWriteDeadline(time.Time{})
	return err
}

// NewServer creates a new control server. A nil logger uses slog.Default.
func NewServer(socketPath string, handler Handler, log *slog.Logger) *Server {
	if socketPath == "" {
		socketPath = DefaultSocketPath()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		log:        log,
		conns:      make(map[net.Conn]*peer),
		done:       make(chan struct{}),
	}
}

// SocketPath returns the socket path this server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start begins listening on the Unix socket.
// Returns an error if the server is already running or cannot bind.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.mu.Unlock()

	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	// Remove stale socket file if it exists
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}

	// Owner only
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("set socket permissions: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.started = true
	s.mu.Unlock()

	s.log.Debug("control socket listening", logging.KindKey, logging.KindAction, "socket", s.socketPath)

	go s.acceptLoop()

	return nil
}

func (s *Server) acceptLoop() {
	defer logging.LogPanic("control-accept", nil)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("accept connection failed", logging.KindKey, logging.KindError, "error", err)
			continue
		}

		p := newPeer(conn)
		s.mu.Lock()
		s.conns[conn] = p
		connCount := len(s.conns)
		s.mu.Unlock()

		s.log.Debug("client connected", "connections", connCount)

		go s.handleConnection(conn, p)
	}
}

// handleConnection processes requests from a single client.
func (s *Server) handleConnection(conn net.Conn, p *peer) {
	defer logging.LogPanic("control-conn", nil)
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		connCount := len(s.conns)
		s.mu.Unlock()
		s.log.Debug("client disconnected", "connections", connCount)
	}()

	decoder := json.NewDecoder(conn)

	ctx := context.WithValue(context.Background(), connKey, conn)
	ctx = context.WithValue(ctx, serverKey, s)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn("decode request failed", logging.KindKey, logging.KindError, "error", err)
			_ = p.send(&Response{Error: fmt.Sprintf("decode request: %v", err)}, writeTimeout)
			return
		}

		s.log.Debug("request received", "type", req.Type, "id", req.ID)

		s.inflight.RLock()
		resp := s.handler.Handle(ctx, &req)
		if resp == nil {
			resp = &Response{Error: "handler returned nil response"}
		}
		if resp.Type == "" {
			resp.Type = req.Type
		}
		if resp.ID == "" {
			resp.ID = req.ID
		}

		if !resp.Success {
			s.log.Warn("request failed", logging.KindKey, logging.KindError, "type", req.Type, "error", resp.Error)
		}

		err := p.send(resp, writeTimeout)
		s.inflight.RUnlock()
		if err != nil {
			s.log.Debug("write response failed", "error", err)
			return
		}
	}
}

// Stop shuts down the server, closing every connection and removing the
// socket file.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	connCount := len(s.conns)
	s.mu.Unlock()

	s.log.Debug("control socket stopping", "active_connections", connCount)

	close(s.done)
	if s.listener != nil {
		s.listener.Close()
	}

	s.inflight.Lock()
	defer s.inflight.Unlock()

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = make(map[net.Conn]*peer)
	s.mu.Unlock()

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove socket: %w", err)
	}
	return nil
}

// Addr returns the listener address, or empty string if not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Attach subscribes a tracked connection to broadcast events.
func (s *Server) Attach(conn net.Conn) {
	s.setAttached(conn, true)
}

// Detach removes a connection from broadcast events.
func (s *Server) Detach(conn net.Conn) {
	s.setAttached(conn, false)
}

func (s *Server) setAttached(conn net.Conn, attached bool) {
	s.mu.Lock()
	p, ok := s.conns[conn]
	s.mu.Unlock()
	if !ok {
		return
	}
	p.mu.Lock()
	p.attached = attached
	p.mu.Unlock()
}

// Broadcast sends a stream event to every attached client. Clients that
// cannot be written to within broadcastTimeout are dropped.
func (s *Server) Broadcast(event *StreamEvent) {
	s.mu.Lock()
	targets := make(map[net.Conn]*peer, len(s.conns))
	for conn, p := range s.conns {
		targets[conn] = p
	}
	s.mu.Unlock()

	for conn, p := range targets {
		p.mu.Lock()
		if !p.attached {
			p.mu.Unlock()
			continue
		}
		err := p.sendLocked(event, broadcastTimeout)
		if err != nil {
			p.attached = false
		}
		p.mu.Unlock()
		if err != nil {
			s.log.Warn("drop attached client", logging.KindKey, logging.KindError, "error", err)
			conn.Close()
		}
	}
}

// AttachedCount returns the number of attached streaming clients.
func (s *Server) AttachedCount() int {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.conns))
	for _, p := range s.conns {
		peers = append(peers, p)
	}
	s.mu.Unlock()

	n := 0
	for _, p := range peers {
		p.mu.Lock()
		if p.attached {
			n++
		}
		p.mu.Unlock()
	}
	return n
}
