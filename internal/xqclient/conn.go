// Package xqclient is a small arena client used by the probe command and by
// end-to-end tests.
package xqclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/park285/xiangqi-arena/internal/obslog"
	"github.com/park285/xiangqi-arena/pkg/xqproto"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var ErrClosed = errors.New("xqclient: connection closed")

// HeaderProvider supplies extra headers for the WebSocket handshake.
type HeaderProvider func() map[string]string

type MessageCallback func(m *xqproto.Message)

type codec interface {
	read(ctx context.Context) (*xqproto.Message, error)
	write(ctx context.Context, m *xqproto.Message) error
	close() error
}

type options struct {
	dialTimeout time.Duration
	heartbeat   time.Duration
	inbox       int
	maxFrame    int
	headers     HeaderProvider
}

type Option func(*options)

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithHeartbeat sends HEARTBEAT every d. Zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

func WithInboxSize(n int) Option {
	return func(o *options) { o.inbox = n }
}

func WithMaxFrame(n int) Option {
	return func(o *options) { o.maxFrame = n }
}

func WithHeaderProvider(h HeaderProvider) Option {
	return func(o *options) { o.headers = h }
}

func buildOptions(opts []Option) options {
	o := options{dialTimeout: 10 * time.Second, inbox: 256}
	for _, opt := range opts {
		opt(&o)
	}
	if o.inbox <= 0 {
		o.inbox = 1
	}
	return o
}

// Conn is one client connection. Inbound messages are delivered to
// callbacks and then queued for Recv.
type Conn struct {
	codec codec
	inbox chan *xqproto.Message

	writeM sync.Mutex

	msgCbs []callbackEntry
	cbM    sync.RWMutex

	errM sync.Mutex
	err  error

	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	rootCtx    context.Context
	rootCancel context.CancelFunc
}

type callbackEntry struct {
	id       int
	callback MessageCallback
}

// DialTCP connects to a framed TCP listener.
func DialTCP(ctx context.Context, addr string, opts ...Option) (*Conn, error) {
	o := buildOptions(opts)
	d := net.Dialer{Timeout: o.dialTimeout}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return start(&tcpCodec{nc: nc, r: xqproto.NewReader(nc, o.maxFrame), w: xqproto.NewWriter(nc, o.maxFrame)}, o), nil
}

// DialWS connects to a WebSocket gateway, e.g. ws://host:8889/ws.
func DialWS(ctx context.Context, wsURL string, opts ...Option) (*Conn, error) {
	o := buildOptions(opts)
	dialCtx, cancel := context.WithTimeout(ctx, o.dialTimeout)
	defer cancel()
	c, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      buildHeaders(o.headers),
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}
	if o.maxFrame > 0 {
		c.SetReadLimit(int64(o.maxFrame))
	}
	return start(&wsCodec{c: c}, o), nil
}

func start(cd codec, o options) *Conn {
	c := &Conn{
		codec:  cd,
		inbox:  make(chan *xqproto.Message, o.inbox),
		stopCh: make(chan struct{}),
	}
	c.rootCtx, c.rootCancel = context.WithCancel(context.Background())
	c.wg.Add(1)
	go c.listen()
	if o.heartbeat > 0 {
		c.wg.Add(1)
		go c.heartbeatLoop(o.heartbeat)
	}
	return c
}

func (c *Conn) listen() {
	defer c.wg.Done()
	defer close(c.inbox)
	for {
		m, err := c.codec.read(c.rootCtx)
		if err != nil {
			if errors.Is(err, xqproto.ErrMalformed) {
				obslog.L().Debug("xqclient_drop_frame", zap.Error(err))
				continue
			}
			if c.isStopping() {
				c.setErr(ErrClosed)
			} else {
				c.setErr(err)
			}
			return
		}

		c.cbM.RLock()
		callbacks := make([]callbackEntry, len(c.msgCbs))
		copy(callbacks, c.msgCbs)
		c.cbM.RUnlock()
		for _, entry := range callbacks {
			entry.callback(m)
		}

		select {
		case c.inbox <- m:
		case <-c.stopCh:
			c.setErr(ErrClosed)
			return
		}
	}
}

func (c *Conn) heartbeatLoop(every time.Duration) {
	defer c.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.rootCtx, 3*time.Second)
			err := c.Send(ctx, xqproto.New(xqproto.TypeHeartbeat))
			cancel()
			if err != nil {
				obslog.L().Debug("xqclient_heartbeat_error", zap.Error(err))
				return
			}
		}
	}
}

// OnMessage registers cb for every inbound message and returns an id for
// RemoveMessageCallback. Callbacks run on the read goroutine.
func (c *Conn) OnMessage(cb MessageCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	id := 1
	if n := len(c.msgCbs); n > 0 {
		id = c.msgCbs[n-1].id + 1
	}
	c.msgCbs = append(c.msgCbs, callbackEntry{id: id, callback: cb})
	return id
}

func (c *Conn) RemoveMessageCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.msgCbs {
		if cb.id == id {
			c.msgCbs = append(c.msgCbs[:i], c.msgCbs[i+1:]...)
			break
		}
	}
}

// Send writes one message. Safe for concurrent use; m is not modified.
func (c *Conn) Send(ctx context.Context, m *xqproto.Message) error {
	if c.isStopping() {
		return ErrClosed
	}
	if m.V == 0 {
		m = m.Clone()
		m.V = xqproto.Version
	}
	c.writeM.Lock()
	defer c.writeM.Unlock()
	if err := c.codec.write(ctx, m); err != nil {
		return fmt.Errorf("send %s: %w", m.Type, err)
	}
	return nil
}

// Recv returns the next inbound message. After the connection ends it
// returns the error that ended it.
func (c *Conn) Recv(ctx context.Context) (*xqproto.Message, error) {
	select {
	case m, ok := <-c.inbox:
		if !ok {
			return nil, c.Err()
		}
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitFor discards inbound messages until one of the given types arrives.
func (c *Conn) WaitFor(ctx context.Context, types ...xqproto.Type) (*xqproto.Message, error) {
	for {
		m, err := c.Recv(ctx)
		if err != nil {
			return nil, err
		}
		for _, t := range types {
			if m.Type == t {
				return m, nil
			}
		}
	}
}

// Err reports why the read loop stopped, or nil while it runs.
func (c *Conn) Err() error {
	c.errM.Lock()
	defer c.errM.Unlock()
	return c.err
}

func (c *Conn) setErr(err error) {
	c.errM.Lock()
	if c.err == nil {
		c.err = err
	}
	c.errM.Unlock()
}

func (c *Conn) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.rootCancel()
	_ = c.codec.close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (c *Conn) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

type tcpCodec struct {
	nc net.Conn
	r  *xqproto.Reader
	w  *xqproto.Writer
}

func (t *tcpCodec) read(context.Context) (*xqproto.Message, error) { return t.r.Read() }

func (t *tcpCodec) write(ctx context.Context, m *xqproto.Message) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.nc.SetWriteDeadline(dl)
	} else {
		_ = t.nc.SetWriteDeadline(time.Time{})
	}
	return t.w.Write(m)
}

func (t *tcpCodec) close() error { return t.nc.Close() }

type wsCodec struct {
	c *websocket.Conn
}

func (w *wsCodec) read(ctx context.Context) (*xqproto.Message, error) {
	var m xqproto.Message
	if err := wsjson.Read(ctx, w.c, &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (w *wsCodec) write(ctx context.Context, m *xqproto.Message) error {
	return wsjson.Write(ctx, w.c, m)
}

func (w *wsCodec) close() error { return w.c.Close(websocket.StatusNormalClosure, "close") }

func buildHeaders(h HeaderProvider) http.Header {
	hdr := http.Header{}
	if h == nil {
		return hdr
	}
	for k, v := range h() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
