package xqproto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
)

func rawFrame(body string) []byte {
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[4:], body)
	return out
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 0)

	mv := New(TypeMove)
	mv.FromX, mv.FromY, mv.ToX, mv.ToY = 1, 7, 4, 7
	found := New(TypeMatchFound)
	found.IsRed = true
	found.MatchID = "m-1"
	for _, m := range []*Message{mv, found} {
		if err := w.Write(m); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	r := NewReader(&buf, 0)
	got, err := r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if *got != *mv {
		t.Fatalf("move mismatch: %+v vs %+v", got, mv)
	}
	got, err = r.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got.IsRed || got.MatchID != "m-1" || got.Type != TypeMatchFound {
		t.Fatalf("match found mismatch: %+v", got)
	}
	if _, err := r.Read(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF at end of stream, got %v", err)
	}
}

func TestReaderSkipsMalformedFrames(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(rawFrame(`{not json`))
	buf.Write(rawFrame(`{"type":"BOGUS"}`))
	buf.Write(rawFrame(`{"v":9,"type":"MOVE"}`))
	buf.Write(rawFrame(`{"type":"HEARTBEAT"}`))

	r := NewReader(&buf, 0)
	for i := 0; i < 3; i++ {
		if _, err := r.Read(); !errors.Is(err, ErrMalformed) {
			t.Fatalf("frame %d: err = %v, want ErrMalformed", i, err)
		}
	}
	m, err := r.Read()
	if err != nil {
		t.Fatalf("stream should stay aligned after malformed frames: %v", err)
	}
	if m.Type != TypeHeartbeat || m.V != Version {
		t.Fatalf("unexpected message %+v", m)
	}
}

func TestFrameLimits(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(rawFrame(`{"type":"CHAT","content":"0123456789012345678901234567890123456789"}`))
	if _, err := NewReader(&buf, 16).Read(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}

	chat := New(TypeChat)
	chat.Content = "a long enough chat line to overflow a tiny frame"
	if err := NewWriter(io.Discard, 16).Write(chat); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("writer: expected ErrFrameTooLarge, got %v", err)
	}

	truncated := rawFrame(`{"type":"HEARTBEAT"}`)
	_, err := NewReader(bytes.NewReader(truncated[:10]), 0).Read()
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("truncated frame: err = %v, want ErrUnexpectedEOF", err)
	}
}

func TestClampTextFitsEchoedFrame(t *testing.T) {
	limit := TextLimit(MinFrame)
	m := New(TypeUndoResponse)
	m.Username = strings.Repeat("<", 4*limit)
	m.Content = strings.Repeat("\x01", 4*limit)
	m.Reason = strings.Repeat("&", 4*limit)
	if !m.ClampText(limit) {
		t.Fatal("oversized text was not reported as clamped")
	}
	if len(m.Username) != limit || len(m.Content) != limit || len(m.Reason) != limit {
		t.Fatalf("lengths %d/%d/%d, want %d", len(m.Username), len(m.Content), len(m.Reason), limit)
	}

	// every other field at its largest server-side value
	m.FromX, m.FromY, m.ToX, m.ToY = 8, 9, 8, 9
	m.IsRed, m.Accepted = true, true
	m.BoardState = strings.Repeat("r", 90) + "/////////"
	m.MatchID = "3f2504e0-4f89-11d3-9a0c-0305e82c3301"
	m.Opponent = m.Username
	var buf bytes.Buffer
	if err := NewWriter(&buf, MinFrame).Write(m); err != nil {
		t.Fatalf("clamped message does not fit a %d-byte frame: %v", MinFrame, err)
	}
}

func TestClampTextKeepsRunes(t *testing.T) {
	m := &Message{Content: "象棋象棋"}
	if !m.ClampText(7) || m.Content != "象棋" {
		t.Fatalf("content %q", m.Content)
	}
	m = &Message{Reason: "ok"}
	if m.ClampText(7) || m.Reason != "ok" {
		t.Fatalf("short text changed: %+v", m)
	}
}
