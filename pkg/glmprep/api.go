// Package glmprep is the in-process entry point for running the encoding
// model input-preparation pipeline: open a client against a session store
// and a data directory, then run batches.
package glmprep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"glmprep/internal/artifacts"
	"glmprep/internal/loader"
	"glmprep/internal/logging"
	"glmprep/internal/model"
	"glmprep/internal/params"
	"glmprep/internal/pipeline"
	"glmprep/internal/storage"
)

const (
	defaultDBPath  = "glmprep.db"
	defaultDataDir = "data"
	defaultOutDir  = "results"
)

// ErrSessionNotInTable is a configuration error: an explicitly requested
// session id is absent from the filtered session table.
var ErrSessionNotInTable = errors.New("session id not in filtered session table")

type Options struct {
	StoreKind string
	DBPath    string
	DataDir   string
	OutDir    string
	Logger    *slog.Logger
}

type Client struct {
	store  storage.Store
	loader loader.Loader
	log    *slog.Logger
	outDir string
}

func Open(ctx context.Context, opts Options) (*Client, error) {
	if opts.DBPath == "" {
		opts.DBPath = defaultDBPath
	}
	if opts.DataDir == "" {
		opts.DataDir = defaultDataDir
	}
	if opts.OutDir == "" {
		opts.OutDir = defaultOutDir
	}
	if opts.Logger == nil {
		opts.Logger = logging.New(os.Stderr, "INFO", "text")
	}

	store, err := storage.NewStore(opts.StoreKind, opts.DBPath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, err
	}

	return &Client{
		store:  store,
		loader: loader.NewFileLoader(opts.DataDir),
		log:    opts.Logger,
		outDir: opts.OutDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Store() storage.Store { return c.store }

// Sessions lists the session records matching the filter.
func (c *Client) Sessions(ctx context.Context, filter storage.Filter) ([]model.SessionRecord, error) {
	return c.store.ListSessions(ctx, filter)
}

// ImportSessions loads a JSON array of session records into the store and
// returns the number imported.
func (c *Client) ImportSessions(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var records []model.SessionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("decode session table %s: %w", path, err)
	}
	for _, record := range records {
		if record.SessionID == "" {
			return 0, fmt.Errorf("session table %s: record without session_id", path)
		}
		if err := c.store.SaveSession(ctx, record); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

type RunRequest struct {
	// SessionID limits the batch to one session; it must be present in the
	// filtered session table.
	SessionID string
	Overrides map[string]any
	Filter    *storage.Filter
	TestMode  bool
	RunID     string
}

// Run resolves the base parameter set, selects the session ids, and
// executes the batch. Configuration errors are returned; per-session
// failures are recorded in the summary instead.
func (c *Client) Run(ctx context.Context, req RunRequest) (pipeline.BatchSummary, error) {
	base, err := params.ApplyOverrides(params.Defaults(""), req.Overrides)
	if err != nil {
		return pipeline.BatchSummary{}, err
	}

	filter := storage.DefaultFilter()
	if req.Filter != nil {
		filter = *req.Filter
	}
	records, err := c.store.ListSessions(ctx, filter)
	if err != nil {
		return pipeline.BatchSummary{}, err
	}
	sessionIDs := make([]string, 0, len(records))
	for _, record := range records {
		sessionIDs = append(sessionIDs, record.SessionID)
	}
	c.log.Debug("filtered session table", "sessions", len(sessionIDs))

	if req.SessionID != "" {
		found := false
		for _, id := range sessionIDs {
			if id == req.SessionID {
				found = true
				break
			}
		}
		if !found {
			// No artifacts will be produced, but downstream tooling still
			// expects both output subfolders to exist and be non-empty.
			runID := req.RunID
			if runID == "" {
				runID = uuid.NewString()
			}
			if dirErr := artifacts.EnsureResultsDirs(c.outDir, runID); dirErr != nil {
				return pipeline.BatchSummary{}, dirErr
			}
			return pipeline.BatchSummary{RunID: runID}, fmt.Errorf("%q: %w", req.SessionID, ErrSessionNotInTable)
		}
		sessionIDs = []string{req.SessionID}
	}

	orch := &pipeline.Orchestrator{
		Loader:   c.loader,
		OutDir:   c.outDir,
		Log:      c.log,
		TestMode: req.TestMode,
		RunID:    req.RunID,
	}
	summary, err := orch.RunBatch(ctx, sessionIDs, base)
	if err != nil {
		return summary, err
	}

	if err := c.store.SaveRun(ctx, model.RunRecord{
		RunID:        summary.RunID,
		TestMode:     summary.TestMode,
		Sessions:     len(summary.Results),
		Completed:    summary.Completed,
		Skipped:      summary.Skipped,
		Failed:       summary.Failed,
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return summary, fmt.Errorf("save run record: %w", err)
	}
	return summary, nil
}

// Runs lists persisted run records, newest first.
func (c *Client) Runs(ctx context.Context) ([]model.RunRecord, error) {
	return c.store.ListRuns(ctx)
}
