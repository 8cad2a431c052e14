package lobby

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/park285/xiangqi-arena/internal/match"
	"github.com/park285/xiangqi-arena/internal/msgcat"
	"github.com/park285/xiangqi-arena/internal/obslog"
	"github.com/park285/xiangqi-arena/pkg/xqproto"
	"go.uber.org/zap"
)

type liveMatch struct {
	s          *match.Session
	red, black *Client
}

// Registry owns logins, the waiting queue and the live-match table. It never
// calls into a session or a peer while holding its own lock.
type Registry struct {
	mu       sync.Mutex
	clients  map[*Client]struct{}
	logins   map[string]*Client
	queue    []*Client
	matches  map[string]*liveMatch
	byClient map[*Client]*liveMatch
	closed   bool

	msgs     *msgcat.Catalog
	presence Presence
	newID    func() string

	seq            atomic.Uint64
	matchesStarted atomic.Uint64
	matchesEnded   atomic.Uint64
	startedAt      time.Time
}

type Option func(*Registry)

func WithPresence(p Presence) Option {
	return func(r *Registry) {
		if p != nil {
			r.presence = p
		}
	}
}

func WithMessages(c *msgcat.Catalog) Option {
	return func(r *Registry) { r.msgs = c }
}

// WithIDGenerator replaces the uuid match ids, mostly for tests.
func WithIDGenerator(f func() string) Option {
	return func(r *Registry) {
		if f != nil {
			r.newID = f
		}
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clients:   make(map[*Client]struct{}),
		logins:    make(map[string]*Client),
		matches:   make(map[string]*liveMatch),
		byClient:  make(map[*Client]*liveMatch),
		presence:  nopPresence{},
		newID:     uuid.NewString,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Attach registers a new connection. After Shutdown the peer is closed at once.
func (r *Registry) Attach(p Peer) *Client {
	c := &Client{id: r.seq.Add(1), peer: p}
	r.mu.Lock()
	closed := r.closed
	if !closed {
		r.clients[c] = struct{}{}
	}
	r.mu.Unlock()
	if closed {
		_ = p.Close()
	}
	obslog.L().Debug("lobby_attach", zap.Uint64("client_id", c.id), zap.String("remote", p.RemoteAddr()))
	return c
}

// Handle dispatches one inbound message from c. Messages a client may not
// send are dropped.
func (r *Registry) Handle(ctx context.Context, c *Client, m *xqproto.Message) error {
	switch m.Type {
	case xqproto.TypeLogin:
		return r.Login(ctx, c, m.Username, m.Content)
	case xqproto.TypeMatchRequest:
		return r.RequestMatch(ctx, c)
	case xqproto.TypeHeartbeat:
		return c.Send(xqproto.New(xqproto.TypeHeartbeat))
	case xqproto.TypeChat:
		if r.inMatch(c) {
			return r.Route(ctx, c, m)
		}
		return r.Broadcast(c, m)
	case xqproto.TypeMove, xqproto.TypeUndoRequest, xqproto.TypeUndoResponse,
		xqproto.TypeDrawRequest, xqproto.TypeDrawResponse, xqproto.TypeSurrender:
		return r.Route(ctx, c, m)
	default:
		obslog.L().Debug("lobby_drop", zap.Stringer("client", c), zap.String("type", string(m.Type)))
		return nil
	}
}

// Login registers c under username. The password is accepted and ignored.
func (r *Registry) Login(ctx context.Context, c *Client, username, _ string) error {
	name := strings.TrimSpace(username)

	r.mu.Lock()
	var err error
	switch {
	case r.closed:
		err = ErrClosed
	case c.Name() != "":
		err = ErrAlreadyLoggedIn
	case name == "":
		err = ErrInvalidUsername
	default:
		if _, taken := r.logins[name]; taken {
			err = ErrInvalidUsername
		} else if _, attached := r.clients[c]; !attached {
			err = ErrClosed
		} else {
			r.logins[name] = c
			c.setName(name)
		}
	}
	r.mu.Unlock()

	if err != nil {
		fail := xqproto.New(xqproto.TypeLoginFailed)
		if errors.Is(err, ErrAlreadyLoggedIn) {
			fail.Content = r.msgs.Text(msgcat.LoginAlready, map[string]any{"Username": c.Name()})
		} else {
			fail.Content = r.msgs.Text(msgcat.LoginFailed, nil)
		}
		_ = c.Send(fail)
		obslog.L().Info("lobby_login_failed", zap.Stringer("client", c), zap.String("username", name), zap.Error(err))
		return err
	}

	ok := xqproto.New(xqproto.TypeLoginSuccess)
	ok.Username = name
	_ = c.Send(ok)
	obslog.L().Info("lobby_login", zap.Uint64("client_id", c.id), zap.String("username", name))
	if perr := r.presence.UserOnline(ctx, name); perr != nil {
		obslog.L().Warn("presence_error", zap.String("op", "user_online"), zap.String("username", name), zap.Error(perr))
	}
	return nil
}

// RequestMatch queues c and pairs the two earliest waiters whenever at least
// two are queued. The first of a pair plays Red.
func (r *Registry) RequestMatch(ctx context.Context, c *Client) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if c.Name() == "" || r.logins[c.Name()] != c {
		r.mu.Unlock()
		return ErrNotLoggedIn
	}
	if _, busy := r.byClient[c]; busy {
		r.mu.Unlock()
		return ErrAlreadyInMatch
	}
	if r.queuedLocked(c) {
		r.mu.Unlock()
		return nil
	}
	r.queue = append(r.queue, c)
	waiting := len(r.queue)
	paired := r.pairLocked()
	r.mu.Unlock()

	obslog.L().Info("lobby_queue", zap.String("username", c.Name()), zap.Int("waiting", waiting))
	for _, lm := range paired {
		r.startMatch(ctx, lm)
	}
	return nil
}

// pairLocked turns the two earliest waiters into a match until fewer than two
// remain.
func (r *Registry) pairLocked() []*liveMatch {
	var paired []*liveMatch
	for len(r.queue) >= 2 {
		red, black := r.queue[0], r.queue[1]
		r.queue = r.queue[2:]
		lm := &liveMatch{red: red, black: black}
		lm.s = match.New(r.newID(), red, black, r.msgs)
		r.matches[lm.s.ID()] = lm
		r.byClient[red] = lm
		r.byClient[black] = lm
		paired = append(paired, lm)
	}
	return paired
}

func (r *Registry) startMatch(ctx context.Context, lm *liveMatch) {
	r.matchesStarted.Add(1)
	r.mu.Lock()
	_, live := r.matches[lm.s.ID()]
	r.mu.Unlock()
	if !live {
		// a player left right after pairing; Disconnect already ended it
		obslog.L().Info("lobby_match_abandoned", zap.String("match_id", lm.s.ID()))
		return
	}
	for _, side := range []struct {
		me, other *Client
		red       bool
	}{{lm.red, lm.black, true}, {lm.black, lm.red, false}} {
		found := xqproto.New(xqproto.TypeMatchFound)
		found.IsRed = side.red
		found.MatchID = lm.s.ID()
		found.Opponent = side.other.Name()
		_ = side.me.Send(found)
	}
	lm.s.Start()
	obslog.L().Info("lobby_match",
		zap.String("match_id", lm.s.ID()),
		zap.String("red", lm.red.Name()),
		zap.String("black", lm.black.Name()),
	)

	if err := r.presence.MatchStarted(ctx, lm.s.Info()); err != nil {
		obslog.L().Warn("presence_error", zap.String("op", "match_started"), zap.String("match_id", lm.s.ID()), zap.Error(err))
	}
	// A disconnect may have ended the match before it was mirrored.
	if lm.s.Ended() {
		r.endMatch(lm)
		r.presenceMatchEnded(ctx, lm.s.ID())
	}
}

// Broadcast sends lobby chat from c to every other logged-in client.
func (r *Registry) Broadcast(c *Client, m *xqproto.Message) error {
	name := c.Name()
	r.mu.Lock()
	if name == "" || r.logins[name] != c {
		r.mu.Unlock()
		return ErrNotLoggedIn
	}
	targets := make([]*Client, 0, len(r.logins))
	for _, other := range r.logins {
		if other != c {
			targets = append(targets, other)
		}
	}
	r.mu.Unlock()

	for _, t := range targets {
		out := xqproto.New(xqproto.TypeChat)
		out.Username = name
		out.Content = m.Content
		_ = t.Send(out)
	}
	return nil
}

// Route delegates a session message to the match owning c and retires the
// match when it reports the end.
func (r *Registry) Route(ctx context.Context, c *Client, m *xqproto.Message) error {
	r.mu.Lock()
	lm := r.byClient[c]
	r.mu.Unlock()
	if lm == nil {
		obslog.L().Debug("lobby_unroutable", zap.Stringer("client", c), zap.String("type", string(m.Type)))
		return ErrNoMatch
	}
	if ended := lm.s.Handle(c, m); ended {
		if r.endMatch(lm) {
			r.presenceMatchEnded(ctx, lm.s.ID())
		}
	}
	return nil
}

// Disconnect removes every trace of c and ends its match. Safe to call more
// than once.
func (r *Registry) Disconnect(ctx context.Context, c *Client) {
	name := c.Name()

	r.mu.Lock()
	_, attached := r.clients[c]
	delete(r.clients, c)
	loggedIn := name != "" && r.logins[name] == c
	if loggedIn {
		delete(r.logins, name)
	}
	r.dequeueLocked(c)
	lm := r.byClient[c]
	if lm != nil {
		r.removeLocked(lm)
	}
	r.mu.Unlock()

	if lm != nil {
		lm.s.Disconnect(c)
		r.matchesEnded.Add(1)
		r.presenceMatchEnded(ctx, lm.s.ID())
	}
	if loggedIn {
		if err := r.presence.UserOffline(ctx, name); err != nil {
			obslog.L().Warn("presence_error", zap.String("op", "user_offline"), zap.String("username", name), zap.Error(err))
		}
	}
	_ = c.peer.Close()
	if attached {
		obslog.L().Info("lobby_disconnect", zap.Uint64("client_id", c.id), zap.String("username", name), zap.Bool("in_match", lm != nil))
	}
}

// Shutdown ends every live match with a shutdown notice and closes all peers.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	live := make([]*liveMatch, 0, len(r.matches))
	for _, lm := range r.matches {
		live = append(live, lm)
	}
	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	names := make([]string, 0, len(r.logins))
	for n := range r.logins {
		names = append(names, n)
	}
	r.clients = make(map[*Client]struct{})
	r.logins = make(map[string]*Client)
	r.queue = nil
	r.matches = make(map[string]*liveMatch)
	r.byClient = make(map[*Client]*liveMatch)
	r.mu.Unlock()

	notice := r.msgs.Text(msgcat.MatchShutdown, nil)
	for _, lm := range live {
		lm.s.Abort(notice)
		r.matchesEnded.Add(1)
		r.presenceMatchEnded(ctx, lm.s.ID())
	}
	for _, n := range names {
		if err := r.presence.UserOffline(ctx, n); err != nil {
			obslog.L().Warn("presence_error", zap.String("op", "user_offline"), zap.String("username", n), zap.Error(err))
		}
	}
	for _, c := range clients {
		_ = c.peer.Close()
	}
	obslog.L().Info("lobby_shutdown", zap.Int("matches", len(live)), zap.Int("clients", len(clients)))
	return ctx.Err()
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Connections:    len(r.clients),
		Online:         len(r.logins),
		Waiting:        len(r.queue),
		LiveMatches:    len(r.matches),
		MatchesStarted: r.matchesStarted.Load(),
		MatchesEnded:   r.matchesEnded.Load(),
		StartedAt:      r.startedAt,
	}
}

// Matches returns summaries of live matches, oldest first.
func (r *Registry) Matches() []match.Info {
	r.mu.Lock()
	live := make([]*liveMatch, 0, len(r.matches))
	for _, lm := range r.matches {
		live = append(live, lm)
	}
	r.mu.Unlock()

	out := make([]match.Info, 0, len(live))
	for _, lm := range live {
		out = append(out, lm.s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Match looks up a live match by id.
func (r *Registry) Match(id string) (*match.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lm, ok := r.matches[id]
	if !ok {
		return nil, false
	}
	return lm.s, true
}

func (r *Registry) inMatch(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byClient[c]
	return ok
}

// endMatch drops lm from the table; it reports false when someone else
// already did.
func (r *Registry) endMatch(lm *liveMatch) bool {
	r.mu.Lock()
	_, present := r.matches[lm.s.ID()]
	if present {
		r.removeLocked(lm)
	}
	r.mu.Unlock()
	if present {
		r.matchesEnded.Add(1)
	}
	return present
}

func (r *Registry) presenceMatchEnded(ctx context.Context, id string) {
	if err := r.presence.MatchEnded(ctx, id); err != nil {
		obslog.L().Warn("presence_error", zap.String("op", "match_ended"), zap.String("match_id", id), zap.Error(err))
	}
}

func (r *Registry) removeLocked(lm *liveMatch) {
	delete(r.matches, lm.s.ID())
	if r.byClient[lm.red] == lm {
		delete(r.byClient, lm.red)
	}
	if r.byClient[lm.black] == lm {
		delete(r.byClient, lm.black)
	}
}

func (r *Registry) queuedLocked(c *Client) bool {
	for _, q := range r.queue {
		if q == c {
			return true
		}
	}
	return false
}

func (r *Registry) dequeueLocked(c *Client) {
	for i, q := range r.queue {
		if q == c {
			r.queue = append(r.queue[:i:i], r.queue[i+1:]...)
			return
		}
	}
}
