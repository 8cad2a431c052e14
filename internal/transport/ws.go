package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/park285/xiangqi-arena/internal/obslog"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// WSPath is where the gateway upgrades connections.
const WSPath = "/ws"

// WSGateway serves the same protocol over WebSocket, one JSON message per
// text frame.
type WSGateway struct {
	h    Handler
	opts Options

	mu    sync.Mutex
	ln    net.Listener
	srv   *http.Server
	conns tracker
}

func NewWSGateway(h Handler, opts Options) *WSGateway {
	g := &WSGateway{h: h, opts: opts}
	mux := http.NewServeMux()
	mux.Handle(WSPath, g)
	g.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return g
}

func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Debug("ws_accept_error", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	// the request context ends with the handler, so the connection lives on
	// a detached one and is torn down through the tracker instead.
	serveConn(context.WithoutCancel(r.Context()), g.h, newWSConn(c, r.RemoteAddr, g.opts.MaxFrame), g.opts, &g.conns)
}

func (g *WSGateway) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	g.mu.Lock()
	g.ln = ln
	g.mu.Unlock()
	return nil
}

func (g *WSGateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ln == nil {
		return nil
	}
	return g.ln.Addr()
}

// Serve returns nil after Shutdown.
func (g *WSGateway) Serve(ctx context.Context) error {
	g.mu.Lock()
	ln := g.ln
	g.mu.Unlock()
	if ln == nil {
		return errors.New("transport: Serve called before Listen")
	}
	g.srv.BaseContext = func(net.Listener) context.Context { return ctx }
	obslog.L().Info("ws_listen", zap.String("addr", ln.Addr().String()), zap.String("path", WSPath))
	if err := g.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws serve: %w", err)
	}
	return nil
}

func (g *WSGateway) ListenAndServe(ctx context.Context, addr string) error {
	if err := g.Listen(addr); err != nil {
		return err
	}
	return g.Serve(ctx)
}

func (g *WSGateway) Connections() int { return g.conns.count() }

// Shutdown closes the listener and waits for upgraded connections, which
// http.Server.Shutdown does not track.
func (g *WSGateway) Shutdown(ctx context.Context) error {
	err := g.srv.Shutdown(ctx)
	if werr := g.conns.wait(ctx); werr != nil && err == nil {
		err = werr
	}
	obslog.L().Info("ws_shutdown", zap.Error(err))
	return err
}
