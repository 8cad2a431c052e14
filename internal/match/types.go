package match

import (
	"time"

	"github.com/park285/xiangqi-arena/pkg/xqproto"
)

// Player is one side of a match as the session sees it. Send must not block.
type Player interface {
	Name() string
	Send(m *xqproto.Message) error
}

// Phase represents a session lifecycle state.
type Phase string

const (
	PhaseWaiting      Phase = "WAITING"
	PhaseActive       Phase = "ACTIVE"
	PhaseAwaitingUndo Phase = "AWAITING_UNDO"
	PhaseAwaitingDraw Phase = "AWAITING_DRAW"
	PhaseEnded        Phase = "ENDED"
)

// EndReason records how a session reached PhaseEnded.
type EndReason string

const (
	EndKingCaptured EndReason = "king_captured"
	EndSurrender    EndReason = "surrender"
	EndDraw         EndReason = "draw"
	EndDisconnect   EndReason = "disconnect"
	EndAborted      EndReason = "aborted"
)

// Outcome is the final result; Winner is only meaningful when HasWinner.
type Outcome struct {
	Reason    EndReason `json:"reason"`
	Winner    string    `json:"winner,omitempty"`
	HasWinner bool      `json:"has_winner"`
}

// Info is a point-in-time summary used by the admin endpoint and presence.
type Info struct {
	ID        string    `json:"id"`
	Red       string    `json:"red"`
	Black     string    `json:"black"`
	Phase     Phase     `json:"phase"`
	Turn      string    `json:"turn"`
	Plies     int       `json:"plies"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Outcome   *Outcome  `json:"outcome,omitempty"`
}
