package match

import (
	"sync"
	"testing"

	"github.com/park285/xiangqi-arena/internal/xiangqi"
	"github.com/park285/xiangqi-arena/pkg/xqproto"
)

type fakePlayer struct {
	name string
	mu   sync.Mutex
	got  []*xqproto.Message
}

func (f *fakePlayer) Name() string { return f.name }

func (f *fakePlayer) Send(m *xqproto.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, m)
	return nil
}

func (f *fakePlayer) drain() []*xqproto.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.got
	f.got = nil
	return out
}

func newStarted(t *testing.T) (*Session, *fakePlayer, *fakePlayer) {
	t.Helper()
	red, black := &fakePlayer{name: "alice"}, &fakePlayer{name: "bob"}
	s := New("m-test", red, black, nil)
	s.Start()
	for _, p := range []*fakePlayer{red, black} {
		got := p.drain()
		if len(got) != 1 || got[0].Type != xqproto.TypeGameStart {
			t.Fatalf("%s: expected GAME_START, got %v", p.name, got)
		}
	}
	return s, red, black
}

func move(fx, fy, tx, ty int) *xqproto.Message {
	m := xqproto.New(xqproto.TypeMove)
	m.FromX, m.FromY, m.ToX, m.ToY = fx, fy, tx, ty
	return m
}

func response(t xqproto.Type, accepted bool, reason string) *xqproto.Message {
	m := xqproto.New(t)
	m.Accepted = accepted
	m.Reason = reason
	return m
}

func expectOne(t *testing.T, p *fakePlayer, want xqproto.Type) *xqproto.Message {
	t.Helper()
	got := p.drain()
	if len(got) != 1 || got[0].Type != want {
		t.Fatalf("%s: expected single %s, got %v", p.name, want, got)
	}
	return got[0]
}

func expectNone(t *testing.T, p *fakePlayer) {
	t.Helper()
	if got := p.drain(); len(got) != 0 {
		t.Fatalf("%s: expected nothing, got %v", p.name, got)
	}
}

func TestEventsBeforeStartAreDropped(t *testing.T) {
	red, black := &fakePlayer{name: "alice"}, &fakePlayer{name: "bob"}
	s := New("m-wait", red, black, nil)
	if s.Phase() != PhaseWaiting {
		t.Fatalf("phase = %s", s.Phase())
	}
	s.Handle(red, move(1, 7, 4, 7))
	if s.Plies() != 0 {
		t.Fatalf("move applied before start")
	}
	expectNone(t, black)
}

func TestMoveTurnOwnershipAndForwarding(t *testing.T) {
	s, red, black := newStarted(t)

	// Black may not open the game.
	s.Handle(black, move(1, 2, 4, 2))
	expectNone(t, red)

	// Illegal red move is dropped silently.
	s.Handle(red, move(1, 7, 2, 6))
	expectNone(t, red)
	expectNone(t, black)

	if ended := s.Handle(red, move(1, 7, 4, 7)); ended {
		t.Fatalf("session should not end")
	}
	fwd := expectOne(t, black, xqproto.TypeMove)
	if fwd.FromX != 1 || fwd.FromY != 7 || fwd.ToX != 4 || fwd.ToY != 7 {
		t.Fatalf("forwarded move mismatch: %+v", fwd)
	}
	expectNone(t, red)

	b := s.Board()
	if b.Turn != xiangqi.Black || b.At(4, 7).Kind != xiangqi.Cannon {
		t.Fatalf("board not updated: turn=%s piece=%s", b.Turn, b.At(4, 7))
	}

	// Red cannot move twice in a row.
	s.Handle(red, move(7, 7, 6, 7))
	if s.Plies() != 1 {
		t.Fatalf("out-of-turn move applied")
	}

	// A stranger is ignored entirely.
	s.Handle(&fakePlayer{name: "eve"}, move(1, 2, 4, 2))
	if s.Plies() != 1 {
		t.Fatalf("outsider move applied")
	}
}

func TestUndoIsExact(t *testing.T) {
	s, red, black := newStarted(t)
	players := map[xiangqi.Side]*fakePlayer{xiangqi.Red: red, xiangqi.Black: black}

	plies := [][4]int{
		{1, 7, 4, 7}, // red cannon to centre
		{1, 0, 2, 2}, // black horse
		{7, 9, 6, 7}, // red horse
		{0, 0, 0, 1}, // black chariot
		{4, 6, 4, 5}, // red soldier
		{4, 3, 4, 4}, // black soldier
	}
	type before struct {
		state string
		turn  xiangqi.Side
	}
	var history []before
	for i, mv := range plies {
		b := s.Board()
		history = append(history, before{b.Serialize(), b.Turn})
		s.Handle(players[b.Turn], move(mv[0], mv[1], mv[2], mv[3]))
		if s.Plies() != i+1 {
			t.Fatalf("ply %d (%v) rejected", i, mv)
		}
	}
	red.drain()
	black.drain()

	for i := len(plies) - 1; i >= 0; i-- {
		mover := players[history[i].turn]
		other := players[history[i].turn.Opponent()]
		s.Handle(mover, xqproto.New(xqproto.TypeUndoRequest))
		req := expectOne(t, other, xqproto.TypeUndoRequest)
		if req.Username != mover.name {
			t.Fatalf("undo request username = %q", req.Username)
		}
		if s.Phase() != PhaseAwaitingUndo {
			t.Fatalf("phase = %s, want %s", s.Phase(), PhaseAwaitingUndo)
		}
		s.Handle(other, response(xqproto.TypeUndoResponse, true, ""))

		b := s.Board()
		if got := b.Serialize(); got != history[i].state {
			t.Fatalf("undo %d: board mismatch\n got %s\nwant %s", i, got, history[i].state)
		}
		if b.Turn != history[i].turn {
			t.Fatalf("undo %d: turn = %s, want %s", i, b.Turn, history[i].turn)
		}
		for _, p := range []*fakePlayer{red, black} {
			got := p.drain()
			if len(got) != 2 || got[0].Type != xqproto.TypeUndoRefresh || got[1].Type != xqproto.TypeUndoResponse || !got[1].Accepted {
				t.Fatalf("%s: unexpected undo broadcast %v", p.name, got)
			}
			if got[0].BoardState != history[i].state || got[0].IsRed != (history[i].turn == xiangqi.Red) {
				t.Fatalf("%s: refresh carries wrong state", p.name)
			}
		}
	}
	final, opening := s.Board(), xiangqi.NewBoard()
	if final.Serialize() != opening.Serialize() {
		t.Fatalf("board did not return to the opening position")
	}
}

func TestUndoNegotiation(t *testing.T) {
	s, red, black := newStarted(t)

	s.Handle(red, move(1, 7, 4, 7))
	black.drain()

	// Black did not make the last move.
	s.Handle(black, xqproto.New(xqproto.TypeUndoRequest))
	rej := expectOne(t, black, xqproto.TypeUndoResponse)
	if rej.Accepted || rej.Reason != "only the player who just moved may request undo" {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	expectNone(t, red)

	s.Handle(red, xqproto.New(xqproto.TypeUndoRequest))
	expectOne(t, black, xqproto.TypeUndoRequest)

	// A second request while one is pending is refused.
	s.Handle(red, xqproto.New(xqproto.TypeUndoRequest))
	if r := expectOne(t, red, xqproto.TypeUndoResponse); r.Reason != "an undo request is already pending" {
		t.Fatalf("unexpected reason %q", r.Reason)
	}

	// Moves are frozen while the undo is pending; the requester cannot answer itself.
	s.Handle(black, move(1, 2, 4, 2))
	s.Handle(red, response(xqproto.TypeUndoResponse, true, ""))
	if s.Plies() != 1 || s.Phase() != PhaseAwaitingUndo {
		t.Fatalf("state changed while undo pending: plies=%d phase=%s", s.Plies(), s.Phase())
	}
	expectNone(t, red)

	s.Handle(black, response(xqproto.TypeUndoResponse, false, "no takebacks"))
	if r := expectOne(t, red, xqproto.TypeUndoResponse); r.Accepted || r.Reason != "no takebacks" {
		t.Fatalf("decline not forwarded: %+v", r)
	}
	expectNone(t, black)
	if s.Phase() != PhaseActive || s.Plies() != 1 {
		t.Fatalf("decline should keep the move: plies=%d phase=%s", s.Plies(), s.Phase())
	}

	// Declining without a reason uses the default.
	s.Handle(red, xqproto.New(xqproto.TypeUndoRequest))
	black.drain()
	s.Handle(black, response(xqproto.TypeUndoResponse, false, ""))
	if r := expectOne(t, red, xqproto.TypeUndoResponse); r.Reason != "opponent declined the undo request" {
		t.Fatalf("default reason = %q", r.Reason)
	}
}

func TestUndoAfterOnlyMove(t *testing.T) {
	s, red, black := newStarted(t)

	s.Handle(red, move(1, 7, 4, 7))
	s.Handle(red, xqproto.New(xqproto.TypeUndoRequest))
	black.drain()
	s.Handle(black, response(xqproto.TypeUndoResponse, true, ""))
	red.drain()
	black.drain()

	if s.Plies() != 0 || s.Board().Turn != xiangqi.Red {
		t.Fatalf("undo not applied")
	}
	s.Handle(black, xqproto.New(xqproto.TypeUndoRequest))
	if r := expectOne(t, black, xqproto.TypeUndoResponse); r.Accepted || r.Reason != "cannot undo" {
		t.Fatalf("unexpected rejection: %+v", r)
	}
	expectNone(t, red)
}

func TestKingCaptureEndsGame(t *testing.T) {
	s, red, black := newStarted(t)
	b := xiangqi.EmptyBoard()
	b.Set(4, 9, xiangqi.Piece{Kind: xiangqi.King, Side: xiangqi.Red})
	b.Set(3, 0, xiangqi.Piece{Kind: xiangqi.King, Side: xiangqi.Black})
	b.Set(3, 5, xiangqi.Piece{Kind: xiangqi.Chariot, Side: xiangqi.Red})
	s.board = b
	s.snapshots = []xiangqi.Board{b}

	if ended := s.Handle(red, move(3, 5, 3, 0)); !ended {
		t.Fatalf("capturing the king should end the session")
	}
	if got := black.drain(); len(got) != 2 || got[0].Type != xqproto.TypeMove || got[1].Type != xqproto.TypeGameOver || !got[1].IsRed {
		t.Fatalf("black: unexpected messages %v", got)
	}
	if over := expectOne(t, red, xqproto.TypeGameOver); !over.IsRed {
		t.Fatalf("red should be reported as winner")
	}
	o, ended := s.Outcome()
	if !ended || o.Reason != EndKingCaptured || o.Winner != "red" {
		t.Fatalf("outcome = %+v ended=%v", o, ended)
	}

	s.Handle(black, xqproto.New(xqproto.TypeSurrender))
	expectNone(t, red)
	if s.Phase() != PhaseEnded {
		t.Fatalf("phase = %s", s.Phase())
	}
}

func TestSurrender(t *testing.T) {
	s, red, black := newStarted(t)
	if ended := s.Handle(black, xqproto.New(xqproto.TypeSurrender)); !ended {
		t.Fatalf("surrender should end the session")
	}
	for _, p := range []*fakePlayer{red, black} {
		m := expectOne(t, p, xqproto.TypeSurrender)
		if m.Username != "bob" || !m.IsRed {
			t.Fatalf("%s: unexpected surrender notice %+v", p.name, m)
		}
	}
	if o, _ := s.Outcome(); o.Reason != EndSurrender || o.Winner != "red" {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestDrawNegotiation(t *testing.T) {
	s, red, black := newStarted(t)

	// No offer pending: dropped.
	s.Handle(black, response(xqproto.TypeDrawResponse, true, ""))
	expectNone(t, red)
	if s.Ended() {
		t.Fatalf("unsolicited draw response ended the game")
	}

	s.Handle(red, xqproto.New(xqproto.TypeDrawRequest))
	if m := expectOne(t, black, xqproto.TypeDrawRequest); m.Username != "alice" {
		t.Fatalf("draw offer username = %q", m.Username)
	}
	if s.Phase() != PhaseAwaitingDraw {
		t.Fatalf("phase = %s", s.Phase())
	}
	// A pending offer does not freeze play.
	s.Handle(red, move(1, 7, 4, 7))
	if s.Plies() != 1 {
		t.Fatalf("move rejected during draw offer")
	}
	black.drain()

	// The offerer cannot accept its own offer.
	s.Handle(red, response(xqproto.TypeDrawResponse, true, ""))
	if s.Ended() {
		t.Fatalf("offerer accepted own draw")
	}

	s.Handle(black, response(xqproto.TypeDrawResponse, false, ""))
	if m := expectOne(t, red, xqproto.TypeDrawResponse); m.Accepted || m.Reason != "opponent declined the draw offer" {
		t.Fatalf("unexpected decline %+v", m)
	}
	expectNone(t, black)

	s.Handle(black, xqproto.New(xqproto.TypeDrawRequest))
	expectOne(t, red, xqproto.TypeDrawRequest)
	if ended := s.Handle(red, response(xqproto.TypeDrawResponse, true, "")); !ended {
		t.Fatalf("accepted draw should end the session")
	}
	for _, p := range []*fakePlayer{red, black} {
		if m := expectOne(t, p, xqproto.TypeDrawResponse); !m.Accepted || m.Content != "both players agreed to a draw" {
			t.Fatalf("%s: unexpected draw result %+v", p.name, m)
		}
	}
	if o, _ := s.Outcome(); o.Reason != EndDraw || o.HasWinner {
		t.Fatalf("outcome = %+v", o)
	}
}

func TestUndoAndDrawMayOverlap(t *testing.T) {
	s, red, black := newStarted(t)
	s.Handle(red, move(1, 7, 4, 7))
	s.Handle(red, xqproto.New(xqproto.TypeUndoRequest))
	s.Handle(black, xqproto.New(xqproto.TypeDrawRequest))
	red.drain()
	black.drain()

	s.Handle(red, response(xqproto.TypeDrawResponse, false, "keep playing"))
	if m := expectOne(t, black, xqproto.TypeDrawResponse); m.Reason != "keep playing" {
		t.Fatalf("unexpected draw decline %+v", m)
	}
	if s.Phase() != PhaseAwaitingUndo {
		t.Fatalf("undo negotiation lost: phase = %s", s.Phase())
	}
	s.Handle(black, response(xqproto.TypeUndoResponse, true, ""))
	if s.Plies() != 0 || s.Phase() != PhaseActive {
		t.Fatalf("undo not applied after overlapping draw: plies=%d phase=%s", s.Plies(), s.Phase())
	}
}

func TestChatForwardedToOpponent(t *testing.T) {
	s, red, black := newStarted(t)
	s.Handle(black, &xqproto.Message{Type: xqproto.TypeChat, Username: "spoofed", Content: "gl hf"})
	m := expectOne(t, red, xqproto.TypeChat)
	if m.Username != "bob" || m.Content != "gl hf" {
		t.Fatalf("unexpected chat %+v", m)
	}
	expectNone(t, black)
}

func TestDisconnectAndAbort(t *testing.T) {
	s, red, black := newStarted(t)
	if ended := s.Disconnect(red); !ended {
		t.Fatalf("disconnect should end the session")
	}
	if m := expectOne(t, black, xqproto.TypeDisconnect); m.Content != "opponent disconnected" {
		t.Fatalf("content = %q", m.Content)
	}
	expectNone(t, red)
	s.Disconnect(black)
	expectNone(t, red)
	if o, _ := s.Outcome(); o.Reason != EndDisconnect || o.Winner != "black" {
		t.Fatalf("outcome = %+v", o)
	}

	s2, red2, black2 := newStarted(t)
	s2.Abort("server shutting down")
	for _, p := range []*fakePlayer{red2, black2} {
		if m := expectOne(t, p, xqproto.TypeDisconnect); m.Content != "server shutting down" {
			t.Fatalf("%s: content = %q", p.name, m.Content)
		}
	}
	info := s2.Info()
	if info.Phase != PhaseEnded || info.Outcome == nil || info.Outcome.Reason != EndAborted {
		t.Fatalf("info = %+v", info)
	}
}
