package match

import (
	"strings"
	"sync"
	"time"

	"github.com/park285/xiangqi-arena/internal/msgcat"
	"github.com/park285/xiangqi-arena/internal/obslog"
	"github.com/park285/xiangqi-arena/internal/xiangqi"
	"github.com/park285/xiangqi-arena/pkg/xqproto"
	"go.uber.org/zap"
)

// Session is one live match between two players. Every event runs under the
// session mutex; players are sent to while it is held, so Player.Send must
// not call back into the session.
type Session struct {
	mu sync.Mutex

	id    string
	red   Player
	black Player
	msgs  *msgcat.Catalog

	board     xiangqi.Board
	moves     []xiangqi.MoveRecord
	snapshots []xiangqi.Board // len(snapshots) == len(moves)+1

	started bool
	ended   bool
	outcome Outcome

	undoPending bool
	undoBy      xiangqi.Side
	drawPending bool
	drawBy      xiangqi.Side

	createdAt time.Time
	updatedAt time.Time
}

// New creates a session in PhaseWaiting with the standard opening position.
// A nil catalog uses the embedded messages.
func New(id string, red, black Player, msgs *msgcat.Catalog) *Session {
	b := xiangqi.NewBoard()
	now := time.Now()
	return &Session{
		id:        id,
		red:       red,
		black:     black,
		msgs:      msgs,
		board:     b,
		snapshots: []xiangqi.Board{b},
		createdAt: now,
		updatedAt: now,
	}
}

func (s *Session) ID() string { return s.id }

// Red and Black return the seated players.
func (s *Session) Red() Player   { return s.red }
func (s *Session) Black() Player { return s.black }

// Start sends GAME_START to both players and opens the session for moves.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.ended {
		return
	}
	s.started = true
	s.touch()
	s.sendBoth(xqproto.New(xqproto.TypeGameStart))
	obslog.L().Info("match_start",
		zap.String("match_id", s.id),
		zap.String("red", s.red.Name()),
		zap.String("black", s.black.Name()),
	)
}

// Handle dispatches a session-routed message from p and reports whether the
// session has ended.
func (s *Session) Handle(p Player, m *xqproto.Message) bool {
	if m == nil {
		return s.Ended()
	}
	switch m.Type {
	case xqproto.TypeMove:
		return s.Move(p, m)
	case xqproto.TypeUndoRequest:
		return s.RequestUndo(p)
	case xqproto.TypeUndoResponse:
		return s.RespondUndo(p, m.Accepted, m.Reason)
	case xqproto.TypeDrawRequest:
		return s.RequestDraw(p)
	case xqproto.TypeDrawResponse:
		return s.RespondDraw(p, m.Accepted, m.Reason)
	case xqproto.TypeSurrender:
		return s.Surrender(p)
	case xqproto.TypeChat:
		return s.Chat(p, m.Content)
	default:
		obslog.L().Debug("match_drop_unroutable", zap.String("match_id", s.id), zap.String("type", string(m.Type)))
		return s.Ended()
	}
}

// Move applies m for p when it is p's turn, no undo is pending and the move
// is legal. Anything else is dropped without a reply.
func (s *Session) Move(p Player, m *xqproto.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	side, ok := s.playerSide(p)
	if !ok || !s.live() {
		return s.ended
	}
	if s.undoPending || side != s.board.Turn || !s.board.IsLegalMove(m.FromX, m.FromY, m.ToX, m.ToY) {
		obslog.L().Debug("match_move_dropped",
			zap.String("match_id", s.id),
			zap.String("side", side.String()),
			zap.String("turn", s.board.Turn.String()),
			zap.Bool("undo_pending", s.undoPending),
			zap.Ints("move", []int{m.FromX, m.FromY, m.ToX, m.ToY}),
		)
		return false
	}

	captured := s.board.Apply(m.FromX, m.FromY, m.ToX, m.ToY)
	s.moves = append(s.moves, xiangqi.MoveRecord{
		FromX: m.FromX, FromY: m.FromY, ToX: m.ToX, ToY: m.ToY,
		Captured: captured,
		Mover:    side,
	})
	s.snapshots = append(s.snapshots, s.board)
	s.touch()

	fwd := xqproto.New(xqproto.TypeMove)
	fwd.FromX, fwd.FromY, fwd.ToX, fwd.ToY = m.FromX, m.FromY, m.ToX, m.ToY
	s.send(s.opponent(side), fwd)

	obslog.L().Info("match_move",
		zap.String("match_id", s.id),
		zap.String("side", side.String()),
		zap.Ints("move", []int{m.FromX, m.FromY, m.ToX, m.ToY}),
		zap.String("captured", captured.String()),
		zap.Int("ply", len(s.moves)),
	)

	if s.board.IsGameOver() {
		winner, _ := s.board.Winner()
		over := xqproto.New(xqproto.TypeGameOver)
		over.IsRed = winner == xiangqi.Red
		s.finish(Outcome{Reason: EndKingCaptured, Winner: winner.String(), HasWinner: true})
		s.sendBoth(over)
	}
	return s.ended
}

// RequestUndo forwards a takeback request from the player who made the last
// move, or rejects it to the requester.
func (s *Session) RequestUndo(p Player) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	side, ok := s.playerSide(p)
	if !ok || !s.live() {
		return s.ended
	}

	var reason string
	switch {
	case len(s.moves) == 0:
		reason = s.msgs.Text(msgcat.UndoUnavailable, nil)
	case s.moves[len(s.moves)-1].Mover != side:
		reason = s.msgs.Text(msgcat.UndoNotLastMover, nil)
	case s.undoPending:
		reason = s.msgs.Text(msgcat.UndoPending, nil)
	}
	if reason != "" {
		rej := xqproto.New(xqproto.TypeUndoResponse)
		rej.Accepted = false
		rej.Reason = reason
		s.send(p, rej)
		obslog.L().Debug("match_undo_rejected", zap.String("match_id", s.id), zap.String("side", side.String()), zap.String("reason", reason))
		return false
	}

	s.undoPending = true
	s.undoBy = side
	s.touch()
	req := xqproto.New(xqproto.TypeUndoRequest)
	req.Username = p.Name()
	s.send(s.opponent(side), req)
	obslog.L().Info("match_undo_request", zap.String("match_id", s.id), zap.String("side", side.String()))
	return false
}

// RespondUndo settles a pending undo. Only the requester's opponent may
// answer; other responses are dropped.
func (s *Session) RespondUndo(p Player, accepted bool, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	side, ok := s.playerSide(p)
	if !ok || !s.live() || !s.undoPending || side != s.undoBy.Opponent() {
		return s.ended
	}
	requester := s.playerFor(s.undoBy)
	s.undoPending = false
	s.touch()

	if !accepted || len(s.moves) == 0 {
		rej := xqproto.New(xqproto.TypeUndoResponse)
		rej.Accepted = false
		rej.Reason = strings.TrimSpace(reason)
		if rej.Reason == "" {
			rej.Reason = s.msgs.Text(msgcat.UndoDeclined, nil)
		}
		s.send(requester, rej)
		obslog.L().Info("match_undo_declined", zap.String("match_id", s.id), zap.String("reason", rej.Reason))
		return false
	}

	last := s.moves[len(s.moves)-1]
	s.moves = s.moves[:len(s.moves)-1]
	s.snapshots = s.snapshots[:len(s.snapshots)-1]
	s.board = s.snapshots[len(s.snapshots)-1]

	refresh := xqproto.New(xqproto.TypeUndoRefresh)
	refresh.IsRed = s.board.Turn == xiangqi.Red
	refresh.BoardState = s.board.Serialize()
	s.sendBoth(refresh)

	done := xqproto.New(xqproto.TypeUndoResponse)
	done.Accepted = true
	done.Content = s.msgs.Text(msgcat.UndoDone, nil)
	s.sendBoth(done)

	obslog.L().Info("match_undo",
		zap.String("match_id", s.id),
		zap.String("side", last.Mover.String()),
		zap.Ints("move", []int{last.FromX, last.FromY, last.ToX, last.ToY}),
		zap.Int("ply", len(s.moves)),
	)
	return false
}

// RequestDraw forwards a draw offer to the opponent.
func (s *Session) RequestDraw(p Player) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	side, ok := s.playerSide(p)
	if !ok || !s.live() {
		return s.ended
	}
	s.drawPending = true
	s.drawBy = side
	s.touch()
	req := xqproto.New(xqproto.TypeDrawRequest)
	req.Username = p.Name()
	s.send(s.opponent(side), req)
	obslog.L().Info("match_draw_offer", zap.String("match_id", s.id), zap.String("side", side.String()))
	return false
}

// RespondDraw settles a pending draw offer. Only the offerer's opponent may
// answer.
func (s *Session) RespondDraw(p Player, accepted bool, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	side, ok := s.playerSide(p)
	if !ok || !s.live() || !s.drawPending || side != s.drawBy.Opponent() {
		return s.ended
	}
	offerer := s.playerFor(s.drawBy)
	s.drawPending = false
	s.touch()

	if !accepted {
		rej := xqproto.New(xqproto.TypeDrawResponse)
		rej.Accepted = false
		rej.Reason = strings.TrimSpace(reason)
		if rej.Reason == "" {
			rej.Reason = s.msgs.Text(msgcat.DrawDeclined, nil)
		}
		s.send(offerer, rej)
		obslog.L().Info("match_draw_declined", zap.String("match_id", s.id))
		return false
	}

	res := xqproto.New(xqproto.TypeDrawResponse)
	res.Accepted = true
	res.Content = s.msgs.Text(msgcat.DrawAgreed, nil)
	s.finish(Outcome{Reason: EndDraw})
	s.sendBoth(res)
	return true
}

// Surrender ends the session with p's opponent as winner.
func (s *Session) Surrender(p Player) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	side, ok := s.playerSide(p)
	if !ok || !s.live() {
		return s.ended
	}
	winner := side.Opponent()
	res := xqproto.New(xqproto.TypeSurrender)
	res.Username = p.Name()
	res.IsRed = winner == xiangqi.Red
	s.finish(Outcome{Reason: EndSurrender, Winner: winner.String(), HasWinner: true})
	s.sendBoth(res)
	return true
}

// Chat forwards text from p to the opponent under p's name.
func (s *Session) Chat(p Player, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	side, ok := s.playerSide(p)
	if !ok || s.ended {
		return s.ended
	}
	c := xqproto.New(xqproto.TypeChat)
	c.Username = p.Name()
	c.Content = content
	s.send(s.opponent(side), c)
	return false
}

// Disconnect ends the session because p left and tells the other player.
func (s *Session) Disconnect(p Player) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	side, ok := s.playerSide(p)
	if !ok || s.ended {
		return s.ended
	}
	winner := side.Opponent()
	s.finish(Outcome{Reason: EndDisconnect, Winner: winner.String(), HasWinner: true})
	n := xqproto.New(xqproto.TypeDisconnect)
	n.Content = s.msgs.Text(msgcat.MatchOpponentLeft, nil)
	s.send(s.opponent(side), n)
	return true
}

// Abort ends the session without a winner and sends DISCONNECT carrying
// content to both players.
func (s *Session) Abort(content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return true
	}
	s.finish(Outcome{Reason: EndAborted})
	n := xqproto.New(xqproto.TypeDisconnect)
	n.Content = content
	s.sendBoth(n)
	return true
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase()
}

func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Board returns a copy of the current position.
func (s *Session) Board() xiangqi.Board {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

// Plies is the number of moves currently in the history.
func (s *Session) Plies() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.moves)
}

// Outcome reports the result once the session has ended.
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome, s.ended
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := Info{
		ID:        s.id,
		Red:       s.red.Name(),
		Black:     s.black.Name(),
		Phase:     s.phase(),
		Turn:      s.board.Turn.String(),
		Plies:     len(s.moves),
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
	}
	if s.ended {
		o := s.outcome
		in.Outcome = &o
	}
	return in
}

func (s *Session) phase() Phase {
	switch {
	case s.ended:
		return PhaseEnded
	case !s.started:
		return PhaseWaiting
	case s.undoPending:
		return PhaseAwaitingUndo
	case s.drawPending:
		return PhaseAwaitingDraw
	default:
		return PhaseActive
	}
}

func (s *Session) live() bool { return s.started && !s.ended }

func (s *Session) finish(o Outcome) {
	s.ended = true
	s.outcome = o
	s.undoPending = false
	s.drawPending = false
	s.touch()
	obslog.L().Info("match_end",
		zap.String("match_id", s.id),
		zap.String("reason", string(o.Reason)),
		zap.String("winner", o.Winner),
		zap.Int("plies", len(s.moves)),
		zap.Duration("duration", s.updatedAt.Sub(s.createdAt)),
	)
}

func (s *Session) touch() { s.updatedAt = time.Now() }

func (s *Session) playerSide(p Player) (xiangqi.Side, bool) {
	switch p {
	case s.red:
		return xiangqi.Red, true
	case s.black:
		return xiangqi.Black, true
	default:
		return xiangqi.Red, false
	}
}

func (s *Session) playerFor(side xiangqi.Side) Player {
	if side == xiangqi.Black {
		return s.black
	}
	return s.red
}

func (s *Session) opponent(side xiangqi.Side) Player { return s.playerFor(side.Opponent()) }

// sendBoth gives each player its own copy so transports may hold on to it.
func (s *Session) sendBoth(m *xqproto.Message) {
	s.send(s.red, m.Clone())
	s.send(s.black, m)
}

// send drops the error: a failed send closes the peer and its reader then
// reports the disconnect.
func (s *Session) send(p Player, m *xqproto.Message) {
	if err := p.Send(m); err != nil {
		obslog.L().Debug("match_send_error",
			zap.String("match_id", s.id),
			zap.String("to", p.Name()),
			zap.String("type", string(m.Type)),
			zap.Error(err),
		)
	}
}
