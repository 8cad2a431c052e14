package lobby

import (
	"context"
	"time"

	"github.com/park285/xiangqi-arena/internal/match"
	"github.com/park285/xiangqi-arena/pkg/xqproto"
)

// Peer is the transport side of a connection. Send must not block; Close
// must be safe to call more than once.
type Peer interface {
	Send(m *xqproto.Message) error
	Close() error
	RemoteAddr() string
}

// Presence mirrors online users and live matches to an external store.
// Failures are logged by the registry and never fail a request.
type Presence interface {
	UserOnline(ctx context.Context, username string) error
	UserOffline(ctx context.Context, username string) error
	MatchStarted(ctx context.Context, info match.Info) error
	MatchEnded(ctx context.Context, matchID string) error
}

type nopPresence struct{}

func (nopPresence) UserOnline(context.Context, string) error { return nil }
func (nopPresence) UserOffline(context.Context, string) error { return nil }
func (nopPresence) MatchStarted(context.Context, match.Info) error { return nil }
func (nopPresence) MatchEnded(context.Context, string) error { return nil }

// Stats is a snapshot of registry counters.
type Stats struct {
	Connections    int       `json:"connections"`
	Online         int       `json:"online"`
	Waiting        int       `json:"waiting"`
	LiveMatches    int       `json:"live_matches"`
	MatchesStarted uint64    `json:"matches_started"`
	MatchesEnded   uint64    `json:"matches_ended"`
	StartedAt      time.Time `json:"started_at"`
}

// Errors
var (
	ErrInvalidUsername = errf("duplicate or invalid username")
	ErrAlreadyLoggedIn = errf("connection already logged in")
	ErrNotLoggedIn     = errf("login required")
	ErrAlreadyInMatch  = errf("player already in a live match")
	ErrNoMatch         = errf("no live match for connection")
	ErrClosed          = errf("registry is shut down")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error { return staticErr(s) }
