package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/park285/xiangqi-arena/internal/lobby"
	"github.com/park285/xiangqi-arena/internal/obslog"
	"github.com/park285/xiangqi-arena/pkg/xqproto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Handler receives decoded traffic. *lobby.Registry implements it.
type Handler interface {
	Attach(p lobby.Peer) *lobby.Client
	Handle(ctx context.Context, c *lobby.Client, m *xqproto.Message) error
	Disconnect(ctx context.Context, c *lobby.Client)
}

type Options struct {
	MaxFrame  int
	SendQueue int
	// DrainTimeout bounds how long a closing connection may spend flushing
	// its send queue.
	DrainTimeout time.Duration
}

func (o Options) drainTimeout() time.Duration {
	if o.DrainTimeout <= 0 {
		return 5 * time.Second
	}
	return o.DrainTimeout
}

// tracker keeps the live peers of one listener so that shutdown can wait for
// them or cut them off.
type tracker struct {
	mu      sync.Mutex
	peers   map[*Peer]struct{}
	wg      sync.WaitGroup
	stopped bool
}

// add reports false once wait has begun.
func (t *tracker) add(p *Peer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return false
	}
	if t.peers == nil {
		t.peers = make(map[*Peer]struct{})
	}
	t.peers[p] = struct{}{}
	t.wg.Add(1)
	return true
}

func (t *tracker) remove(p *Peer) {
	t.mu.Lock()
	delete(t.peers, p)
	t.mu.Unlock()
	t.wg.Done()
}

func (t *tracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

func (t *tracker) abortAll() {
	t.mu.Lock()
	peers := make([]*Peer, 0, len(t.peers))
	for p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.Unlock()
	for _, p := range peers {
		p.Abort()
	}
}

// wait blocks until every tracked connection has finished. When ctx expires
// first the remaining connections are aborted.
func (t *tracker) wait(ctx context.Context) error {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.abortAll()
		<-done
		return ctx.Err()
	}
}

// serveConn runs the read loop of one connection until it fails, then
// detaches the client and waits for the writer.
func serveConn(ctx context.Context, h Handler, conn msgConn, opts Options, tr *tracker) {
	p := newPeer(conn, opts.SendQueue)
	if !tr.add(p) {
		_ = conn.Abort()
		return
	}
	defer tr.remove(p)
	go p.writeLoop()

	log := obslog.L().With(zap.String("remote", conn.RemoteAddr()))
	c := h.Attach(p)
	log.Info("conn_open", zap.Uint64("client_id", c.ID()))

	textLimit := xqproto.TextLimit(opts.MaxFrame)
	for {
		m, err := conn.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, xqproto.ErrMalformed) {
				log.Debug("conn_drop_frame", zap.Stringer("client", c), zap.Error(err))
				continue
			}
			if !isClosed(err) {
				log.Info("conn_read_error", zap.Stringer("client", c), zap.Error(err))
			}
			break
		}
		// text is echoed to other clients and must still fit their frames
		if m.ClampText(textLimit) {
			log.Debug("conn_text_clamped", zap.Stringer("client", c), zap.String("type", string(m.Type)), zap.Int("limit", textLimit))
		}
		if err := h.Handle(ctx, c, m); err != nil {
			log.Debug("conn_handle_error", zap.Stringer("client", c), zap.String("type", string(m.Type)), zap.Error(err))
		}
	}

	h.Disconnect(context.WithoutCancel(ctx), c)
	_ = p.Close()
	select {
	case <-p.Done():
	case <-time.After(opts.drainTimeout()):
		p.Abort()
		<-p.Done()
	}
	log.Info("conn_close", zap.Stringer("client", c))
}

func isClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
