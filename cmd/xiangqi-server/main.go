// Command xiangqi-server runs the arena: the framed TCP listener, the
// optional WebSocket gateway and admin endpoint, and the Redis presence
// mirror when REDIS_URL is set.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/park285/xiangqi-arena/internal/admin"
	appcfg "github.com/park285/xiangqi-arena/internal/config"
	"github.com/park285/xiangqi-arena/internal/lobby"
	"github.com/park285/xiangqi-arena/internal/msgcat"
	"github.com/park285/xiangqi-arena/internal/obslog"
	"github.com/park285/xiangqi-arena/internal/presence"
	"github.com/park285/xiangqi-arena/internal/transport"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const shutdownGrace = 10 * time.Second

func main() {
	cmd := &cli.Command{
		Name:  "xiangqi-server",
		Usage: "two-player Xiangqi arena over TCP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "dotenv file loaded before reading the environment"},
			&cli.StringFlag{Name: "listen", Usage: "TCP listen address (overrides LISTEN_ADDR)"},
			&cli.StringFlag{Name: "ws", Usage: "WebSocket gateway address (overrides WS_ADDR)"},
			&cli.StringFlag{Name: "admin", Usage: "admin HTTP address (overrides ADMIN_ADDR)"},
			&cli.StringFlag{Name: "redis", Usage: "presence Redis URL (overrides REDIS_URL)"},
			&cli.StringFlag{Name: "messages", Usage: "directory of message catalog overrides (overrides MESSAGES_DIR)"},
			&cli.BoolFlag{Name: "debug", Usage: "log at debug level", Sources: cli.EnvVars("XQ_DEBUG")},
		},
		Action: run,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("xiangqi-server: %v", err)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if err := godotenv.Load(cmd.String("env-file")); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: loading %s: %v", cmd.String("env-file"), err)
	}

	logOpts := obslog.OptionsFromEnv()
	if cmd.Bool("debug") {
		logOpts.Level = "debug"
	}
	if err := obslog.Init(logOpts); err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	for flag, dst := range map[string]*string{
		"listen":   &cfg.ListenAddr,
		"ws":       &cfg.WSAddr,
		"admin":    &cfg.AdminAddr,
		"redis":    &cfg.RedisURL,
		"messages": &cfg.MessagesDir,
	} {
		if cmd.IsSet(flag) {
			*dst = cmd.String(flag)
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return fmt.Errorf("messages: %w", err)
	}

	regOpts := []lobby.Option{lobby.WithMessages(msgs)}
	var store *presence.Store
	if cfg.RedisURL != "" {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		store, err = presence.Open(pctx, cfg.RedisURL, cfg.PresenceTTL())
		cancel()
		if err != nil {
			return fmt.Errorf("presence: %w", err)
		}
		defer store.Close()
		regOpts = append(regOpts, lobby.WithPresence(store))
		logger.Info("presence_enabled", zap.String("node", store.Node()), zap.Duration("ttl", cfg.PresenceTTL()))
	}
	reg := lobby.NewRegistry(regOpts...)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	topts := transport.Options{MaxFrame: cfg.MaxFrameBytes, SendQueue: cfg.SendQueueSize}
	errCh := make(chan error, 3)

	tcp := transport.NewServer(reg, topts)
	if err := tcp.Listen(cfg.ListenAddr); err != nil {
		return err
	}
	go func() { errCh <- tcp.Serve(ctx) }()

	var ws *transport.WSGateway
	if cfg.WSAddr != "" {
		ws = transport.NewWSGateway(reg, topts)
		if err := ws.Listen(cfg.WSAddr); err != nil {
			return err
		}
		go func() { errCh <- ws.Serve(ctx) }()
	}

	var adm *admin.Server
	if cfg.AdminAddr != "" {
		adminOpts := []admin.Option{admin.WithConnections(func() int {
			n := tcp.Connections()
			if ws != nil {
				n += ws.Connections()
			}
			return n
		})}
		if store != nil {
			adminOpts = append(adminOpts, admin.WithCluster(store))
		}
		adm = admin.New(reg, adminOpts...)
		go func() {
			if err := adm.ListenAndServe(cfg.AdminAddr); err != nil {
				errCh <- fmt.Errorf("admin: %w", err)
			}
		}()
	}

	logger.Info("server_started",
		zap.String("listen", cfg.ListenAddr),
		zap.String("ws", cfg.WSAddr),
		zap.String("admin", cfg.AdminAddr),
		zap.Bool("presence", store != nil),
	)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("server_signal")
	case runErr = <-errCh:
		if runErr != nil {
			logger.Error("server_failed", zap.Error(runErr))
		}
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	_ = reg.Shutdown(sctx)
	if err := tcp.Shutdown(sctx); err != nil {
		logger.Warn("tcp_shutdown_error", zap.Error(err))
	}
	if ws != nil {
		if err := ws.Shutdown(sctx); err != nil {
			logger.Warn("ws_shutdown_error", zap.Error(err))
		}
	}
	if adm != nil {
		if err := adm.Shutdown(sctx); err != nil {
			logger.Warn("admin_shutdown_error", zap.Error(err))
		}
	}
	logger.Info("server_stopped")
	return runErr
}
