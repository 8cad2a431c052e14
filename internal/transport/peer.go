package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/xiangqi-arena/internal/obslog"
	"github.com/park285/xiangqi-arena/pkg/xqproto"
	"go.uber.org/zap"
)

var (
	ErrPeerClosed    = errors.New("peer closed")
	ErrSendQueueFull = errors.New("send queue full")
)

const (
	DefaultSendQueue = 64
	writeTimeout     = 10 * time.Second
)

// Peer owns the outbound half of a connection: a bounded queue drained by a
// single writer goroutine.
type Peer struct {
	conn  msgConn
	queue chan *xqproto.Message
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

func newPeer(c msgConn, queueSize int) *Peer {
	if queueSize <= 0 {
		queueSize = DefaultSendQueue
	}
	return &Peer{
		conn:  c,
		queue: make(chan *xqproto.Message, queueSize),
		done:  make(chan struct{}),
	}
}

// Send enqueues m without blocking. A full queue closes the peer.
func (p *Peer) Send(m *xqproto.Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPeerClosed
	}
	select {
	case p.queue <- m:
		p.mu.Unlock()
		return nil
	default:
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	obslog.L().Warn("conn_send_queue_full", zap.String("remote", p.conn.RemoteAddr()), zap.Int("capacity", cap(p.queue)))
	_ = p.conn.Abort()
	return ErrSendQueueFull
}

// Close stops accepting messages; the writer flushes what is queued and then
// closes the connection.
func (p *Peer) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	return nil
}

// Abort closes the peer and the connection without flushing.
func (p *Peer) Abort() {
	_ = p.Close()
	_ = p.conn.Abort()
}

func (p *Peer) RemoteAddr() string { return p.conn.RemoteAddr() }

// Done is closed once the writer goroutine has exited.
func (p *Peer) Done() <-chan struct{} { return p.done }

// writeLoop is detached from the accept context so that a graceful close can
// still flush after shutdown begins.
func (p *Peer) writeLoop() {
	defer close(p.done)
	for m := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := p.conn.WriteMessage(ctx, m)
		cancel()
		if err != nil {
			obslog.L().Debug("conn_write_error", zap.String("remote", p.conn.RemoteAddr()), zap.String("type", string(m.Type)), zap.Error(err))
			p.Abort()
			return
		}
	}
	_ = p.conn.Close()
}
