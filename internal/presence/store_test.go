package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/park285/xiangqi-arena/internal/lobby"
	"github.com/park285/xiangqi-arena/internal/match"
	"github.com/park285/xiangqi-arena/pkg/xqproto"
	"github.com/redis/go-redis/v9"
)

var _ lobby.Presence = (*Store)(nil)

func newTestStore(t *testing.T, node string) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewStore(rdb, time.Minute, node), mr
}

func TestUsersExpireAndArePruned(t *testing.T) {
	s, mr := newTestStore(t, "node-a")
	ctx := context.Background()

	if err := s.UserOnline(ctx, "alice"); err != nil {
		t.Fatalf("UserOnline: %v", err)
	}
	mr.FastForward(30 * time.Second)
	if err := s.UserOnline(ctx, "bob"); err != nil {
		t.Fatalf("UserOnline: %v", err)
	}
	if v, _ := mr.Get("xq:user:bob"); v != "node-a" {
		t.Fatalf("user key holds %q, want node name", v)
	}
	mr.FastForward(40 * time.Second)

	users, err := s.OnlineUsers(ctx)
	if err != nil {
		t.Fatalf("OnlineUsers: %v", err)
	}
	if len(users) != 1 || users[0] != "bob" {
		t.Fatalf("online = %v, want [bob]", users)
	}
	members, _ := mr.Members("xq:online")
	if len(members) != 1 {
		t.Fatalf("expired member not pruned: %v", members)
	}

	if err := s.UserOffline(ctx, "bob"); err != nil {
		t.Fatalf("UserOffline: %v", err)
	}
	if users, _ := s.OnlineUsers(ctx); len(users) != 0 {
		t.Fatalf("online after offline = %v", users)
	}
	if err := s.UserOnline(ctx, "  "); err != nil {
		t.Fatalf("blank name should be ignored: %v", err)
	}
}

func TestMatchesAcrossNodes(t *testing.T) {
	a, mr := newTestStore(t, "node-a")
	b := NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute, "node-b")
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()

	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if err := b.MatchStarted(ctx, match.Info{ID: "m2", Red: "c", Black: "d", Phase: match.PhaseActive, CreatedAt: t0.Add(time.Minute)}); err != nil {
		t.Fatalf("MatchStarted: %v", err)
	}
	if err := a.MatchStarted(ctx, match.Info{ID: "m1", Red: "a", Black: "b", Phase: match.PhaseActive, CreatedAt: t0}); err != nil {
		t.Fatalf("MatchStarted: %v", err)
	}

	live, err := a.LiveMatches(ctx)
	if err != nil {
		t.Fatalf("LiveMatches: %v", err)
	}
	if len(live) != 2 || live[0].ID != "m1" || live[0].Node != "node-a" || live[1].Node != "node-b" {
		t.Fatalf("live = %+v", live)
	}
	if live[1].Red != "c" || live[1].Phase != match.PhaseActive {
		t.Fatalf("info not preserved: %+v", live[1])
	}

	if err := b.MatchEnded(ctx, "m2"); err != nil {
		t.Fatalf("MatchEnded: %v", err)
	}
	if m, err := a.LoadMatch(ctx, "m2"); err != nil || m != nil {
		t.Fatalf("ended match still loadable: %+v %v", m, err)
	}

	mr.FastForward(2 * time.Minute)
	if live, _ := a.LiveMatches(ctx); len(live) != 0 {
		t.Fatalf("expired matches listed: %+v", live)
	}
}

func TestParseRedisURL(t *testing.T) {
	tests := []struct {
		raw     string
		addr    string
		db      int
		pass    string
		tls     bool
		wantErr bool
	}{
		{raw: "redis://localhost:6379", addr: "localhost:6379"},
		{raw: "redis://:secret@cache:6380/2", addr: "cache:6380", db: 2, pass: "secret"},
		{raw: "rediss://user:pw@example.com:6379/0", addr: "example.com:6379", pass: "pw", tls: true},
		{raw: "http://localhost:6379", wantErr: true},
		{raw: "redis://localhost:6379/x", wantErr: true},
	}
	for _, tt := range tests {
		opts, err := parseRedisURL(tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tt.raw, err)
			continue
		}
		if opts.Addr != tt.addr || opts.DB != tt.db || opts.Password != tt.pass || (opts.TLSConfig != nil) != tt.tls {
			t.Errorf("%s: got addr=%s db=%d pass=%q tls=%v", tt.raw, opts.Addr, opts.DB, opts.Password, opts.TLSConfig != nil)
		}
	}
}

type nullPeer struct {
	mu     sync.Mutex
	closed bool
}

func (p *nullPeer) Send(*xqproto.Message) error { return nil }

func (p *nullPeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *nullPeer) RemoteAddr() string { return "null" }

func TestRegistryMirrorsIntoStore(t *testing.T) {
	s, _ := newTestStore(t, "node-a")
	reg := lobby.NewRegistry(lobby.WithPresence(s))
	ctx := context.Background()

	red := reg.Attach(&nullPeer{})
	black := reg.Attach(&nullPeer{})
	for c, name := range map[*lobby.Client]string{red: "alice", black: "bob"} {
		if err := reg.Login(ctx, c, name, ""); err != nil {
			t.Fatalf("login %s: %v", name, err)
		}
	}
	if err := reg.RequestMatch(ctx, red); err != nil {
		t.Fatalf("RequestMatch: %v", err)
	}
	if err := reg.RequestMatch(ctx, black); err != nil {
		t.Fatalf("RequestMatch: %v", err)
	}

	live, err := s.LiveMatches(ctx)
	if err != nil || len(live) != 1 {
		t.Fatalf("live = %+v err=%v", live, err)
	}
	if live[0].Red != "alice" || live[0].Black != "bob" {
		t.Fatalf("colours not mirrored: %+v", live[0])
	}

	reg.Disconnect(ctx, red)
	if live, _ := s.LiveMatches(ctx); len(live) != 0 {
		t.Fatalf("match still mirrored after disconnect: %+v", live)
	}
	users, _ := s.OnlineUsers(ctx)
	if len(users) != 1 || users[0] != "bob" {
		t.Fatalf("online = %v, want [bob]", users)
	}
}
