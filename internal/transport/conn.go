package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/park285/xiangqi-arena/pkg/xqproto"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// msgConn is a message-oriented connection. ReadMessage is called from the
// read loop only, WriteMessage from the writer goroutine only.
type msgConn interface {
	ReadMessage(ctx context.Context) (*xqproto.Message, error)
	WriteMessage(ctx context.Context, m *xqproto.Message) error
	// Close ends the connection politely; Abort tears it down at once.
	Close() error
	Abort() error
	RemoteAddr() string
}

// tcpConn carries length-prefixed JSON frames.
type tcpConn struct {
	c net.Conn
	r *xqproto.Reader
	w *xqproto.Writer
}

func newTCPConn(c net.Conn, maxFrame int) *tcpConn {
	return &tcpConn{c: c, r: xqproto.NewReader(c, maxFrame), w: xqproto.NewWriter(c, maxFrame)}
}

func (t *tcpConn) ReadMessage(context.Context) (*xqproto.Message, error) { return t.r.Read() }

func (t *tcpConn) WriteMessage(ctx context.Context, m *xqproto.Message) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = t.c.SetWriteDeadline(dl)
	}
	return t.w.Write(m)
}

func (t *tcpConn) Close() error { return t.c.Close() }

func (t *tcpConn) Abort() error { return t.c.Close() }

func (t *tcpConn) RemoteAddr() string { return t.c.RemoteAddr().String() }

// wsConn carries one JSON message per text frame.
type wsConn struct {
	c      *websocket.Conn
	remote string
}

func newWSConn(c *websocket.Conn, remote string, maxFrame int) *wsConn {
	if maxFrame <= 0 {
		maxFrame = xqproto.DefaultMaxFrame
	}
	c.SetReadLimit(int64(maxFrame))
	return &wsConn{c: c, remote: remote}
}

// ReadMessage decodes by hand rather than through wsjson.Read, which closes
// the connection on bad JSON; malformed frames are dropped instead.
func (w *wsConn) ReadMessage(ctx context.Context) (*xqproto.Message, error) {
	typ, data, err := w.c.Read(ctx)
	if err != nil {
		return nil, err
	}
	if typ != websocket.MessageText {
		return nil, fmt.Errorf("%w: binary frame", xqproto.ErrMalformed)
	}
	var m xqproto.Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", xqproto.ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (w *wsConn) WriteMessage(ctx context.Context, m *xqproto.Message) error {
	return wsjson.Write(ctx, w.c, m)
}

func (w *wsConn) Close() error { return w.c.Close(websocket.StatusNormalClosure, "bye") }

func (w *wsConn) Abort() error { return w.c.CloseNow() }

func (w *wsConn) RemoteAddr() string { return w.remote }
