package xqclient

import (
	"context"
	"fmt"

	"github.com/park285/xiangqi-arena/pkg/xqproto"
)

// LoginError carries the server's LOGIN_FAILED reason.
type LoginError struct{ Reason string }

func (e *LoginError) Error() string { return "login failed: " + e.Reason }

// Login sends LOGIN and waits for the verdict.
func (c *Conn) Login(ctx context.Context, username, password string) error {
	m := xqproto.New(xqproto.TypeLogin)
	m.Username = username
	m.Content = password
	if err := c.Send(ctx, m); err != nil {
		return err
	}
	reply, err := c.WaitFor(ctx, xqproto.TypeLoginSuccess, xqproto.TypeLoginFailed)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if reply.Type == xqproto.TypeLoginFailed {
		return &LoginError{Reason: reply.Content}
	}
	return nil
}

// Match describes a pairing as announced by MATCH_FOUND.
type Match struct {
	ID       string
	Opponent string
	IsRed    bool
}

// FindMatch queues for a game and blocks until paired.
func (c *Conn) FindMatch(ctx context.Context) (Match, error) {
	if err := c.Send(ctx, xqproto.New(xqproto.TypeMatchRequest)); err != nil {
		return Match{}, err
	}
	found, err := c.WaitFor(ctx, xqproto.TypeMatchFound)
	if err != nil {
		return Match{}, fmt.Errorf("find match: %w", err)
	}
	return Match{ID: found.MatchID, Opponent: found.Opponent, IsRed: found.IsRed}, nil
}

func (c *Conn) Move(ctx context.Context, fromX, fromY, toX, toY int) error {
	m := xqproto.New(xqproto.TypeMove)
	m.FromX, m.FromY, m.ToX, m.ToY = fromX, fromY, toX, toY
	return c.Send(ctx, m)
}

func (c *Conn) Chat(ctx context.Context, text string) error {
	m := xqproto.New(xqproto.TypeChat)
	m.Content = text
	return c.Send(ctx, m)
}

func (c *Conn) RequestUndo(ctx context.Context) error {
	return c.Send(ctx, xqproto.New(xqproto.TypeUndoRequest))
}

func (c *Conn) RespondUndo(ctx context.Context, accepted bool, reason string) error {
	m := xqproto.New(xqproto.TypeUndoResponse)
	m.Accepted = accepted
	m.Reason = reason
	return c.Send(ctx, m)
}

func (c *Conn) RequestDraw(ctx context.Context) error {
	return c.Send(ctx, xqproto.New(xqproto.TypeDrawRequest))
}

func (c *Conn) RespondDraw(ctx context.Context, accepted bool, reason string) error {
	m := xqproto.New(xqproto.TypeDrawResponse)
	m.Accepted = accepted
	m.Reason = reason
	return c.Send(ctx, m)
}

func (c *Conn) Surrender(ctx context.Context) error {
	return c.Send(ctx, xqproto.New(xqproto.TypeSurrender))
}
