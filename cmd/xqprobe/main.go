// Command xqprobe is an operator's smoke test: it connects, logs in,
// optionally queues for a match and prints what the server sends.
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

	"github.com/park285/xiangqi-arena/internal/xqclient"
	"github.com/park285/xiangqi-arena/pkg/xqproto"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "xqprobe",
		Usage: "connect to a xiangqi-server and print its traffic",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "localhost:8888", Usage: "TCP address", Sources: cli.EnvVars("XQ_ADDR")},
			&cli.StringFlag{Name: "ws", Usage: "WebSocket URL; used instead of --addr when set", Sources: cli.EnvVars("XQ_WS_URL")},
			&cli.StringFlag{Name: "user", Value: "probe", Usage: "login name"},
			&cli.BoolFlag{Name: "queue", Usage: "request a match after login"},
			&cli.DurationFlag{Name: "watch", Value: 10 * time.Second, Usage: "how long to print incoming messages"},
			&cli.StringFlag{Name: "stats", Usage: "admin base URL to query, e.g. http://localhost:8890", Sources: cli.EnvVars("XQ_ADMIN_URL")},
		},
		Action: probe,
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatalf("xqprobe: %v", err)
	}
}

func probe(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if base := cmd.String("stats"); base != "" {
		printStats(ctx, base)
	}

	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var (
		conn *xqclient.Conn
		err  error
	)
	if u := cmd.String("ws"); u != "" {
		conn, err = xqclient.DialWS(dctx, u, xqclient.WithHeartbeat(30*time.Second))
	} else {
		conn, err = xqclient.DialTCP(dctx, cmd.String("addr"), xqclient.WithHeartbeat(30*time.Second))
	}
	if err != nil {
		return err
	}
	defer func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer ccancel()
		_ = conn.Close(cctx)
	}()

	if err := conn.Login(dctx, cmd.String("user"), ""); err != nil {
		return err
	}
	log.Printf("logged in as %s", cmd.String("user"))

	if cmd.Bool("queue") {
		if err := conn.Send(ctx, xqproto.New(xqproto.TypeMatchRequest)); err != nil {
			return err
		}
		log.Println("queued for a match")
	}

	wctx, wcancel := context.WithTimeout(ctx, cmd.Duration("watch"))
	defer wcancel()
	for {
		m, err := conn.Recv(wctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("connection ended: %w", err)
		}
		if m.Type == xqproto.TypeHeartbeat {
			continue
		}
		printMessage(m)
	}
}

func printMessage(m *xqproto.Message) {
	switch m.Type {
	case xqproto.TypeMove:
		fmt.Printf("%s (%d,%d)->(%d,%d)\n", m.Type, m.FromX, m.FromY, m.ToX, m.ToY)
	case xqproto.TypeMatchFound:
		fmt.Printf("%s match=%s opponent=%s red=%v\n", m.Type, m.MatchID, m.Opponent, m.IsRed)
	case xqproto.TypeUndoRefresh:
		fmt.Printf("%s redToMove=%v board=%s\n", m.Type, m.IsRed, m.BoardState)
	default:
		fmt.Printf("%s user=%q content=%q reason=%q accepted=%v red=%v\n", m.Type, m.Username, m.Content, m.Reason, m.Accepted, m.IsRed)
	}
}

func printStats(ctx context.Context, base string) {
	sc := xqclient.NewStatsClient(base, xqclient.WithStatsTimeout(5*time.Second))
	st, err := sc.Stats(ctx)
	if err != nil {
		log.Printf("/stats error: %v", err)
		return
	}
	log.Printf("/stats ok: online=%d waiting=%d live=%d started=%d ended=%d uptime=%ds",
		st.Online, st.Waiting, st.LiveMatches, st.MatchesStarted, st.MatchesEnded, st.UptimeSeconds)

	live, err := sc.ClusterMatches(ctx)
	var se *xqclient.StatusError
	switch {
	case errors.As(err, &se) && se.Code == 503:
		log.Println("presence disabled; skipping cluster view")
	case err != nil:
		log.Printf("/cluster/matches error: %v", err)
	default:
		for _, m := range live {
			log.Printf("match %s on %s: %s vs %s, %d plies", m.ID, m.Node, m.Red, m.Black, m.Plies)
		}
	}
}
