package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedDefaults(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, key := range []string{LoginFailed, MatchOpponentLeft, MatchShutdown, UndoUnavailable,
		UndoNotLastMover, UndoPending, UndoDeclined, UndoDone, DrawDeclined, DrawAgreed} {
		if s, err := c.Render(key, nil); err != nil || s == "" {
			t.Fatalf("Render(%s) = %q, %v", key, s, err)
		}
	}
	s, err := c.Render(LoginAlready, map[string]any{"Username": "alice"})
	if err != nil || s != "already logged in as alice" {
		t.Fatalf("Render(%s) = %q, %v", LoginAlready, s, err)
	}
	if _, err := c.Render(LoginAlready, map[string]any{}); err == nil {
		t.Fatalf("expected missing template field to fail")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "10-undo.yaml"), []byte("undo:\n  unavailable: \"nothing to take back\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text(UndoUnavailable, nil); got != "nothing to take back" {
		t.Fatalf("override not applied: %q", got)
	}
	if got := c.Text(DrawAgreed, nil); got != "both players agreed to a draw" {
		t.Fatalf("default lost after override: %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "20-dup.yml"), []byte("undo:\n  unavailable: \"again\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate override key error")
	}
}

func TestTextFallbacks(t *testing.T) {
	var c *Catalog
	if got := c.Text(UndoDone, nil); got != "undo succeeded" {
		t.Fatalf("nil catalog should use embedded defaults, got %q", got)
	}
	if got := Default().Text("no.such.key", nil); got != "no.such.key" {
		t.Fatalf("missing key should fall back to the key, got %q", got)
	}
}
