// Package xqproto defines the messages exchanged between arena clients and the
// server, and the length-prefixed frame codec used on TCP connections.
package xqproto

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Version is the schema version stamped on every outbound message.
const Version = 1

type Type string

const (
	TypeLogin        Type = "LOGIN"
	TypeLoginSuccess Type = "LOGIN_SUCCESS"
	TypeLoginFailed  Type = "LOGIN_FAILED"
	TypeMatchRequest Type = "MATCH_REQUEST"
	TypeMatchFound   Type = "MATCH_FOUND"
	TypeGameStart    Type = "GAME_START"
	TypeMove         Type = "MOVE"
	TypeGameOver     Type = "GAME_OVER"
	TypeUndoRequest  Type = "UNDO_REQUEST"
	TypeUndoResponse Type = "UNDO_RESPONSE"
	TypeUndoRefresh  Type = "UNDO_REFRESH"
	TypeDrawRequest  Type = "DRAW_REQUEST"
	TypeDrawResponse Type = "DRAW_RESPONSE"
	TypeSurrender    Type = "SURRENDER"
	TypeChat         Type = "CHAT"
	TypeHeartbeat    Type = "HEARTBEAT"
	TypeDisconnect   Type = "DISCONNECT"
)

var knownTypes = map[Type]struct{}{
	TypeLogin: {}, TypeLoginSuccess: {}, TypeLoginFailed: {},
	TypeMatchRequest: {}, TypeMatchFound: {}, TypeGameStart: {},
	TypeMove: {}, TypeGameOver: {},
	TypeUndoRequest: {}, TypeUndoResponse: {}, TypeUndoRefresh: {},
	TypeDrawRequest: {}, TypeDrawResponse: {},
	TypeSurrender: {}, TypeChat: {}, TypeHeartbeat: {}, TypeDisconnect: {},
}

// Known reports whether t is part of the vocabulary.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// Message is the single tagged record carried on the wire. Fields other than
// V and Type are optional per type.
type Message struct {
	V          int    `json:"v"`
	Type       Type   `json:"type"`
	Username   string `json:"username,omitempty"`
	Content    string `json:"content,omitempty"`
	FromX      int    `json:"fromX,omitempty"`
	FromY      int    `json:"fromY,omitempty"`
	ToX        int    `json:"toX,omitempty"`
	ToY        int    `json:"toY,omitempty"`
	IsRed      bool   `json:"isRed,omitempty"`
	Accepted   bool   `json:"accepted,omitempty"`
	Reason     string `json:"reason,omitempty"`
	BoardState string `json:"boardState,omitempty"`
	MatchID    string `json:"matchId,omitempty"`
	Opponent   string `json:"opponent,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

var (
	// ErrMalformed marks a frame that was read completely but cannot be used.
	// The stream stays aligned, so callers drop the message and keep reading.
	ErrMalformed          = errors.New("malformed message")
	ErrUnknownType        = fmt.Errorf("%w: unknown type", ErrMalformed)
	ErrUnsupportedVersion = fmt.Errorf("%w: unsupported version", ErrMalformed)
)

// New returns a message of the given type stamped with the schema version and
// the current time.
func New(t Type) *Message {
	return &Message{V: Version, Type: t, Timestamp: time.Now().UnixMilli()}
}

// Validate checks version and type of a decoded message. A missing version is
// read as the current one.
func (m *Message) Validate() error {
	if m == nil {
		return ErrMalformed
	}
	if m.V == 0 {
		m.V = Version
	}
	if m.V < 0 || m.V > Version {
		return fmt.Errorf("%w: v=%d", ErrUnsupportedVersion, m.V)
	}
	if !m.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return nil
}

// MinFrame is the smallest frame limit a server may be configured with.
const MinFrame = 1024

// textEnvelope is the room kept for the fixed fields of a server message.
const textEnvelope = 512

// TextLimit is the longest Username, Content or Reason, in bytes, that the
// server echoes inside a frame of maxFrame bytes. All three may appear in one
// message and any byte may grow to a six-byte JSON escape.
func TextLimit(maxFrame int) int {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	if n := (maxFrame - textEnvelope) / 18; n > 0 {
		return n
	}
	return 0
}

// ClampText cuts Username, Content and Reason to at most limit bytes on rune
// boundaries and reports whether anything was cut.
func (m *Message) ClampText(limit int) bool {
	var u, c, r bool
	m.Username, u = clip(m.Username, limit)
	m.Content, c = clip(m.Content, limit)
	m.Reason, r = clip(m.Reason, limit)
	return u || c || r
}

func clip(s string, n int) (string, bool) {
	if len(s) <= n {
		return s, false
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n], true
}

// Clone returns a shallow copy; all fields are values.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}
