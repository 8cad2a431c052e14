// Package admin serves a read-only JSON status endpoint for operators.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/park285/xiangqi-arena/internal/lobby"
	"github.com/park285/xiangqi-arena/internal/match"
	"github.com/park285/xiangqi-arena/internal/obslog"
	"github.com/park285/xiangqi-arena/internal/presence"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Source is the local view, normally *lobby.Registry.
type Source interface {
	Stats() lobby.Stats
	Matches() []match.Info
	Match(id string) (*match.Session, bool)
}

// Cluster is the cross-node view, normally *presence.Store.
type Cluster interface {
	LiveMatches(ctx context.Context) ([]presence.ClusterMatch, error)
	OnlineUsers(ctx context.Context) ([]string, error)
}

type Option func(*Server)

func WithCluster(c Cluster) Option {
	return func(s *Server) { s.cluster = c }
}

// WithConnections adds live transport connection counts to /stats.
func WithConnections(f func() int) Option {
	return func(s *Server) { s.conns = f }
}

type Server struct {
	src     Source
	cluster Cluster
	conns   func() int
	srv     *fasthttp.Server
}

type statsResponse struct {
	lobby.Stats
	Transport     *int   `json:"transport_connections,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Node          string `json:"node,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func New(src Source, opts ...Option) *Server {
	s := &Server{src: src}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = &fasthttp.Server{
		Handler:      s.accessLog(s.route),
		Name:         "xiangqi-admin",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router for embedding and tests.
func (s *Server) Handler() fasthttp.RequestHandler { return s.srv.Handler }

func (s *Server) Serve(ln net.Listener) error {
	obslog.L().Info("admin_listen", zap.String("addr", ln.Addr().String()))
	return s.srv.Serve(ln)
}

func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

func (s *Server) route(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Response.Header.Set("Allow", "GET, HEAD")
		writeJSON(ctx, fasthttp.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}
	path := string(ctx.Path())
	switch {
	case path == "/healthz" || path == "/readyz":
		ctx.SetContentType("text/plain; charset=utf-8")
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	case path == "/stats":
		s.stats(ctx)
	case path == "/matches":
		writeJSON(ctx, fasthttp.StatusOK, s.src.Matches())
	case strings.HasPrefix(path, "/matches/"):
		s.matchByID(ctx, strings.TrimPrefix(path, "/matches/"))
	case path == "/cluster/matches":
		s.clusterMatches(ctx)
	case path == "/cluster/users":
		s.clusterUsers(ctx)
	default:
		writeJSON(ctx, fasthttp.StatusNotFound, errorResponse{Error: "not found"})
	}
}

func (s *Server) stats(ctx *fasthttp.RequestCtx) {
	st := s.src.Stats()
	resp := statsResponse{Stats: st}
	if !st.StartedAt.IsZero() {
		resp.UptimeSeconds = int64(time.Since(st.StartedAt) / time.Second)
	}
	if s.conns != nil {
		n := s.conns()
		resp.Transport = &n
	}
	if n, ok := s.cluster.(interface{ Node() string }); ok {
		resp.Node = n.Node()
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

func (s *Server) matchByID(ctx *fasthttp.RequestCtx, id string) {
	sess, ok := s.src.Match(id)
	if !ok {
		writeJSON(ctx, fasthttp.StatusNotFound, errorResponse{Error: "no such match"})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sess.Info())
}

func (s *Server) clusterMatches(ctx *fasthttp.RequestCtx) {
	if s.cluster == nil {
		writeJSON(ctx, fasthttp.StatusServiceUnavailable, errorResponse{Error: "presence disabled"})
		return
	}
	live, err := s.cluster.LiveMatches(ctx)
	if err != nil {
		obslog.L().Warn("admin_cluster_error", zap.String("op", "live_matches"), zap.Error(err))
		writeJSON(ctx, fasthttp.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, live)
}

func (s *Server) clusterUsers(ctx *fasthttp.RequestCtx) {
	if s.cluster == nil {
		writeJSON(ctx, fasthttp.StatusServiceUnavailable, errorResponse{Error: "presence disabled"})
		return
	}
	users, err := s.cluster.OnlineUsers(ctx)
	if err != nil {
		obslog.L().Warn("admin_cluster_error", zap.String("op", "online_users"), zap.Error(err))
		writeJSON(ctx, fasthttp.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, users)
}

func (s *Server) accessLog(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		obslog.L().Debug("admin_request",
			zap.ByteString("method", ctx.Method()),
			zap.ByteString("path", ctx.Path()),
			zap.Int("status", ctx.Response.StatusCode()),
			zap.Duration("took", time.Since(start)),
		)
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetStatusCode(status)
	ctx.SetBody(body)
}
