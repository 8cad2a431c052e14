package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/park285/xiangqi-arena/internal/obslog"
	"go.uber.org/zap"
)

var ErrServerClosed = errors.New("transport: server closed")

// Server accepts framed TCP connections and hands each to the Handler.
type Server struct {
	h    Handler
	opts Options

	mu      sync.Mutex
	ln      net.Listener
	closing bool
	conns   tracker
}

func NewServer(h Handler, opts Options) *Server {
	return &Server{h: h, opts: opts}
}

func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve runs the accept loop. It returns nil after Shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("transport: Serve called before Listen")
	}
	obslog.L().Info("tcp_listen", zap.String("addr", ln.Addr().String()))

	for {
		nc, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		go serveConn(ctx, s.h, newTCPConn(nc, s.opts.MaxFrame), s.opts, &s.conns)
	}
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	if err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Connections reports how many connections are currently being served.
func (s *Server) Connections() int { return s.conns.count() }

// Shutdown stops accepting and waits for open connections to finish. When
// ctx expires the rest are aborted.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.closing = true
	ln := s.ln
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	err := s.conns.wait(ctx)
	obslog.L().Info("tcp_shutdown", zap.Error(err))
	return err
}
