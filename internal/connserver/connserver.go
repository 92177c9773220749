// Package connserver implements the per-connection handler and accept
// loop from spec §4.4/§4.6: it accepts concurrent client connections,
// frames incoming bytes into records via internal/framing, appends them
// to a shared internal/logdev.Device, recognises an embedded seek
// directive, and streams the log back to the originating client.
package connserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"github.com/aeld/aesdsocket-go/internal/framing"
	"github.com/aeld/aesdsocket-go/internal/logdev"
)

// DefaultChunkSize matches spec §4.4's BUF constant.
const DefaultChunkSize = 1024

// Config configures a Server.
type Config struct {
	// ChunkSize is the per-read/recv buffer size (spec §4.4's BUF).
	ChunkSize int
	// Logger receives structured startup, shutdown, and per-connection
	// error events. Defaults to slog.Default().
	Logger *slog.Logger
}

// clientConn tracks one accepted connection so the shutdown path can force
// it closed, unblocking any in-flight Read the way the original's thread
// cancellation would (spec §9: no raw pointer/flag retention — Go's
// net.Conn already gives a safe cancellation handle).
type clientConn struct {
	id   int64
	conn net.Conn
}

// Server is the aesdsocket TCP reception server.
type Server struct {
	addr   string
	dev    *logdev.Device
	chunk  int
	logger *slog.Logger

	listener net.Listener

	mu         sync.Mutex
	closed     bool
	nextConnID int64
	clients    map[int64]*clientConn

	wg sync.WaitGroup
}

// New constructs a Server bound to dev. addr is a "host:port" or ":port"
// TCP listen address (spec §6: port 9000, IPv4).
func New(addr string, dev *logdev.Device, cfg Config) *Server {
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		dev:     dev,
		chunk:   chunk,
		logger:  logger,
		clients: make(map[int64]*clientConn),
	}
}

// reuseAddrControl sets SO_REUSEADDR on the listening socket the way the
// original C source's explicit setsockopt(SO_REUSEADDR) call does (spec
// §4.6) — net.ListenConfig does not expose this directly, so the raw
// socket option is set via golang.org/x/sys/unix through the Control hook.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Start opens the TCP listener and runs the accept loop until ctx is
// cancelled or Close is called, and returns once every handler goroutine
// has finished. It blocks; cmd/aesdsocket calls it on its main goroutine
// while the timestamp injector runs in a goroutine of its own.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{Control: reuseAddrControl}
	listener, err := lc.Listen(ctx, "tcp4", s.addr)
	if err != nil {
		return fmt.Errorf("connserver: failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("aesdsocket listening", "addr", s.addr)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				s.wg.Wait()
				return nil
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.nextConnID++
		id := s.nextConnID
		client := &clientConn{id: id, conn: conn}
		s.clients[id] = client
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.clients, client.id)
				s.mu.Unlock()
			}()
			s.handleConnection(ctx, client)
		}()
	}
}

// Close gracefully shuts down the server: it stops accepting new
// connections, forces every in-flight connection closed (unblocking their
// pending reads the way the original's thread cancellation would), and
// waits for every handler goroutine to finish before returning.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	clients := make([]*clientConn, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	var result *multierror.Error
	if listener != nil {
		if err := listener.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("connserver: close listener: %w", err))
		}
	}
	for _, c := range clients {
		if err := c.conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("connserver: close connection %d: %w", c.id, err))
		}
	}

	s.wg.Wait()
	return result.ErrorOrNil()
}

// handleConnection runs one connection through the RECEIVING → REPLAYING
// → CLOSING state machine of spec §4.4. There is no per-request critical
// section: each Append, SeekTo and ReadAt call takes the log device's lock
// on its own, and the socket reads and writes happen outside that lock,
// so other connections can use the log between those calls.
func (s *Server) handleConnection(ctx context.Context, client *clientConn) {
	conn := client.conn
	defer conn.Close()

	seek, isSeek, err := s.receive(ctx, conn)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.logger.Warn("connserver: receive failed, closing without replay", "client", client.id, "error", err)
		}
		return
	}

	var cursor int
	if isSeek {
		off, err := s.dev.SeekTo(ctx, seek.WriteCmd, seek.WriteCmdOffset)
		if err != nil {
			s.logger.Info("connserver: seek rejected, closing connection", "client", client.id, "error", err)
			return
		}
		cursor = off
	}

	if err := s.replay(ctx, conn, cursor); err != nil {
		s.logger.Warn("connserver: replay failed", "client", client.id, "error", err)
	}
}

// receive reads chunks from conn, classifying each with internal/framing
// and appending ordinary data to the log device, until it observes a
// terminator, a seek directive, or the peer half-closes. A non-EOF socket
// error is returned so the caller can close without replaying (spec
// §4.4's "Socket errors during RECEIVING terminate the connection without
// replay").
func (s *Server) receive(ctx context.Context, conn net.Conn) (seek framing.Seek, isSeek bool, err error) {
	buf := make([]byte, s.chunk)
	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if sk, ok := framing.Classify(chunk); ok {
				return sk, true, nil
			}
			if _, appendErr := s.dev.Append(ctx, chunk); appendErr != nil {
				return framing.Seek{}, false, fmt.Errorf("connserver: append failed: %w", appendErr)
			}
			if framing.ContainsTerminator(chunk) {
				return framing.Seek{}, false, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return framing.Seek{}, false, nil
			}
			return framing.Seek{}, false, readErr
		}
	}
}

// replay streams read_at results back to conn starting at cursor until
// the log device reports zero remaining bytes (spec §4.4's REPLAYING
// state).
func (s *Server) replay(ctx context.Context, conn net.Conn, cursor int) error {
	for {
		chunk, err := s.dev.ReadAt(ctx, cursor, s.chunk)
		if err != nil {
			return fmt.Errorf("read_at failed: %w", err)
		}
		if len(chunk) == 0 {
			return nil
		}
		if _, err := conn.Write(chunk); err != nil {
			return fmt.Errorf("write failed: %w", err)
		}
		cursor += len(chunk)
	}
}

// ActiveConnections reports how many connections are currently being
// handled — used by diagnostics and tests.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
