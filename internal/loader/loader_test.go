package loader

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"glmprep/internal/model"
)

func writeSessionFile(t *testing.T, dir, sessionID string, session model.Session) {
	t.Helper()
	data, err := json.Marshal(session)
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, sessionID+".json"), data, 0o644); err != nil {
		t.Fatalf("write session file: %v", err)
	}
}

func TestFileLoaderLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	session := model.Session{
		SessionID: "s1",
		Units:     []model.Unit{{ID: "u1", Structure: "MOs"}},
		Behavior: model.Behavior{
			Timestamps: []float64{0, 0.5, 1.0},
			Traces:     map[string][]float64{"running": {0, 1, 2}},
		},
	}
	writeSessionFile(t, dir, "s1", session)

	loaded, err := NewFileLoader(dir).Load(ctx, "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SessionID != "s1" || len(loaded.Units) != 1 {
		t.Fatalf("unexpected session: %+v", loaded)
	}
}

func TestFileLoaderMissingFile(t *testing.T) {
	_, err := NewFileLoader(t.TempDir()).Load(context.Background(), "absent")
	if !errors.Is(err, ErrSessionMissing) {
		t.Fatalf("expected ErrSessionMissing, got %v", err)
	}
}

func TestFileLoaderCorruptJSON(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "s1.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	_, err := NewFileLoader(dir).Load(context.Background(), "s1")
	if !errors.Is(err, ErrSessionCorrupt) {
		t.Fatalf("expected ErrSessionCorrupt, got %v", err)
	}
}

func TestFileLoaderIDMismatch(t *testing.T) {
	dir := t.TempDir()
	writeSessionFile(t, dir, "s1", model.Session{SessionID: "other"})

	_, err := NewFileLoader(dir).Load(context.Background(), "s1")
	if !errors.Is(err, ErrSessionCorrupt) {
		t.Fatalf("expected ErrSessionCorrupt, got %v", err)
	}
}

func TestFileLoaderBackfillsEmptyID(t *testing.T) {
	dir := t.TempDir()
	writeSessionFile(t, dir, "s1", model.Session{})

	loaded, err := NewFileLoader(dir).Load(context.Background(), "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SessionID != "s1" {
		t.Fatalf("session id not backfilled: %q", loaded.SessionID)
	}
}

func TestFileLoaderHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFileLoader(t.TempDir()).Load(ctx, "s1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
