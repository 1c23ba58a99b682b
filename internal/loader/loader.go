// Package loader fetches the per-session recording data. Missing and
// corrupted files are expected, non-fatal conditions: a batch skips the
// session and moves on.
package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"glmprep/internal/model"
)

var (
	ErrSessionMissing = errors.New("session data missing")
	ErrSessionCorrupt = errors.New("session data corrupt")
)

type Loader interface {
	Load(ctx context.Context, sessionID string) (model.Session, error)
}

// FileLoader reads one JSON session file per session id from a data
// directory.
type FileLoader struct {
	DataDir string
}

func NewFileLoader(dataDir string) *FileLoader {
	return &FileLoader{DataDir: dataDir}
}

func (l *FileLoader) Load(ctx context.Context, sessionID string) (model.Session, error) {
	if err := ctx.Err(); err != nil {
		return model.Session{}, err
	}

	path := filepath.Join(l.DataDir, sessionID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Session{}, fmt.Errorf("%s: %w", path, ErrSessionMissing)
		}
		return model.Session{}, err
	}

	var session model.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return model.Session{}, fmt.Errorf("%s: %v: %w", path, err, ErrSessionCorrupt)
	}
	if session.SessionID == "" {
		session.SessionID = sessionID
	}
	if session.SessionID != sessionID {
		return model.Session{}, fmt.Errorf("%s: payload session id %q does not match %q: %w", path, session.SessionID, sessionID, ErrSessionCorrupt)
	}
	return session, nil
}
