// Package presence mirrors online users and live matches into Redis so that
// operators can see activity across server instances. The mirror is TTL'd and
// never authoritative.
package presence

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/park285/xiangqi-arena/internal/match"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = time.Hour

// ClusterMatch is a live match as recorded by whichever node hosts it.
type ClusterMatch struct {
	match.Info
	Node string `json:"node"`
}

type Store struct {
	rdb  *redis.Client
	ttl  time.Duration
	node string
}

// NewStore wraps an existing client. node identifies this server in the
// mirror; empty means the hostname.
func NewStore(rdb *redis.Client, ttl time.Duration, node string) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if node == "" {
		node, _ = os.Hostname()
	}
	return &Store{rdb: rdb, ttl: ttl, node: node}
}

// Open connects to the Redis server named by a redis:// or rediss:// URL and
// checks it with PING.
func Open(ctx context.Context, rawURL string, ttl time.Duration) (*Store, error) {
	opts, err := parseRedisURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewStore(rdb, ttl, ""), nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func (s *Store) Node() string { return s.node }

func (s *Store) keyUser(name string) string { return "xq:user:" + strings.TrimSpace(name) }
func (s *Store) keyOnline() string          { return "xq:online" }
func (s *Store) keyMatch(id string) string  { return "xq:match:" + strings.TrimSpace(id) }
func (s *Store) keyMatches() string         { return "xq:matches" }

func (s *Store) UserOnline(ctx context.Context, username string) error {
	if strings.TrimSpace(username) == "" {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keyUser(username), s.node, s.ttl)
	pipe.SAdd(ctx, s.keyOnline(), username)
	pipe.Expire(ctx, s.keyOnline(), s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) UserOffline(ctx context.Context, username string) error {
	if strings.TrimSpace(username) == "" {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.keyUser(username))
	pipe.SRem(ctx, s.keyOnline(), username)
	_, err := pipe.Exec(ctx)
	return err
}

// OnlineUsers lists users whose presence key has not expired, sorted.
func (s *Store) OnlineUsers(ctx context.Context) ([]string, error) {
	names, err := s.rdb.SMembers(ctx, s.keyOnline()).Result()
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		switch err := s.rdb.Get(ctx, s.keyUser(n)).Err(); {
		case err == nil:
			out = append(out, n)
		case errors.Is(err, redis.Nil):
			_ = s.rdb.SRem(ctx, s.keyOnline(), n).Err()
		default:
			return nil, err
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) MatchStarted(ctx context.Context, info match.Info) error {
	if strings.TrimSpace(info.ID) == "" {
		return nil
	}
	raw, err := json.Marshal(ClusterMatch{Info: info, Node: s.node})
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keyMatch(info.ID), raw, s.ttl)
	pipe.SAdd(ctx, s.keyMatches(), info.ID)
	pipe.Expire(ctx, s.keyMatches(), s.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) MatchEnded(ctx context.Context, matchID string) error {
	if strings.TrimSpace(matchID) == "" {
		return nil
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.keyMatch(matchID))
	pipe.SRem(ctx, s.keyMatches(), matchID)
	_, err := pipe.Exec(ctx)
	return err
}

// LoadMatch returns nil, nil when the match is unknown or expired.
func (s *Store) LoadMatch(ctx context.Context, matchID string) (*ClusterMatch, error) {
	raw, err := s.rdb.Get(ctx, s.keyMatch(matchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m ClusterMatch
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode match %s: %w", matchID, err)
	}
	return &m, nil
}

// LiveMatches lists matches across all nodes, oldest first. Index entries
// whose record expired are pruned on the way.
func (s *Store) LiveMatches(ctx context.Context) ([]ClusterMatch, error) {
	ids, err := s.rdb.SMembers(ctx, s.keyMatches()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]ClusterMatch, 0, len(ids))
	for _, id := range ids {
		m, err := s.LoadMatch(ctx, id)
		if err != nil {
			return nil, err
		}
		if m == nil {
			_ = s.rdb.SRem(ctx, s.keyMatches(), id).Err()
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: u.Hostname()}
	}
	return opts, nil
}
