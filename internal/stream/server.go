package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	appLog "paperpiper/internal/log"
)

// Sink receives stream traffic. Implementations must not block for long;
// the orchestrator queue is the only production Sink.
type Sink interface {
	StreamConnected(client uint64)
	StreamBytes(client uint64, data []byte)
}

// Server accepts raw TCP clients one at a time. A new client supersedes
// and closes the previous one.
type Server struct {
	addr string
	sink Sink

	mu      sync.Mutex
	ln      net.Listener
	current net.Conn
	nextID  uint64
}

// NewServer returns a server that will listen on addr.
func NewServer(addr string, sink Sink) *Server {
	return &Server{addr: addr, sink: sink}
}

// Addr returns the bound address, or nil before Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ListenAndServe binds the configured address and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("stream: listen %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts clients on ln until ctx is cancelled. It always returns a
// non-nil error; context cancellation yields ctx.Err().
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	appLog.Info("stream listener started", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.mu.Lock()
		if s.current != nil {
			_ = s.current.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			appLog.Warn("stream accept failed", "err", err.Error())
			continue
		}
		id := s.adopt(conn)
		go s.read(id, conn)
	}
}

func (s *Server) adopt(conn net.Conn) uint64 {
	s.mu.Lock()
	prev := s.current
	s.nextID++
	id := s.nextID
	s.current = conn
	s.mu.Unlock()

	if prev != nil {
		appLog.Info("stream client superseded", "remote", prev.RemoteAddr().String())
		_ = prev.Close()
	}
	appLog.Info("stream client connected", "client", id, "remote", conn.RemoteAddr().String())
	s.sink.StreamConnected(id)
	return id
}

func (s *Server) read(id uint64, conn net.Conn) {
	defer func() {
		s.mu.Lock()
		if s.current == conn {
			s.current = nil
		}
		s.mu.Unlock()
		_ = conn.Close()
	}()

	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.sink.StreamBytes(id, chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				appLog.Debug("stream read ended", "client", id, "err", err.Error())
			}
			appLog.Info("stream client disconnected", "client", id)
			return
		}
	}
}
