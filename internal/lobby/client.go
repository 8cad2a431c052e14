package lobby

import (
	"fmt"
	"sync/atomic"

	"github.com/park285/xiangqi-arena/pkg/xqproto"
)

// Client is one attached connection. It satisfies match.Player once logged in.
type Client struct {
	id   uint64
	peer Peer
	name atomic.Pointer[string]
}

func (c *Client) ID() uint64 { return c.id }

// Name returns the login name, or "" before a successful login.
func (c *Client) Name() string {
	if p := c.name.Load(); p != nil {
		return *p
	}
	return ""
}

func (c *Client) Send(m *xqproto.Message) error { return c.peer.Send(m) }

func (c *Client) String() string {
	if n := c.Name(); n != "" {
		return fmt.Sprintf("#%d(%s)", c.id, n)
	}
	return fmt.Sprintf("#%d", c.id)
}

func (c *Client) setName(n string) { c.name.Store(&n) }
