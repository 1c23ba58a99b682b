// Package pipeline sequences one analysis run: load each session, build the
// full-model design matrix, write it, then iterate the dropout variants.
// Failures are isolated per session and per dropout feature so a batch
// always runs to the end of its session list.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"glmprep/internal/artifacts"
	"glmprep/internal/design"
	"glmprep/internal/dropout"
	"glmprep/internal/loader"
	"glmprep/internal/model"
	"glmprep/internal/params"
)

type SessionStatus string

const (
	StatusCompleted SessionStatus = "completed"
	StatusSkipped   SessionStatus = "skipped"
	StatusFailed    SessionStatus = "failed"
)

type FeatureError struct {
	Feature string `json:"feature"`
	Error   string `json:"error"`
}

// SessionResult is the typed outcome of one session, in place of
// log-and-forget exception handling: batch-level success is queryable.
type SessionResult struct {
	SessionID       string         `json:"session_id"`
	Status          SessionStatus  `json:"status"`
	Error           string         `json:"error,omitempty"`
	Artifacts       []string       `json:"artifacts,omitempty"`
	SkippedFeatures []string       `json:"skipped_features,omitempty"`
	FeatureErrors   []FeatureError `json:"feature_errors,omitempty"`
}

type BatchSummary struct {
	RunID     string          `json:"run_id"`
	TestMode  bool            `json:"test_mode"`
	Results   []SessionResult `json:"results"`
	Completed int             `json:"completed"`
	Skipped   int             `json:"skipped"`
	Failed    int             `json:"failed"`
	ElapsedMS int64           `json:"elapsed_ms"`
}

type Orchestrator struct {
	Loader   loader.Loader
	OutDir   string
	Log      *slog.Logger
	TestMode bool

	// RunID is assigned when empty.
	RunID string
}

// ProcessSession drives one session through load, full-model build, write,
// and the dropout iteration. Missing or corrupt session data is a skip;
// any other failure marks this session failed without affecting others.
func (o *Orchestrator) ProcessSession(ctx context.Context, sessionID string, base params.AppParams) SessionResult {
	log := o.Log.With("session_id", sessionID)
	result := SessionResult{SessionID: sessionID}

	session, err := o.Loader.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, loader.ErrSessionMissing) || errors.Is(err, loader.ErrSessionCorrupt) {
			log.Info("skipping session", "reason", err.Error())
			result.Status = StatusSkipped
			result.Error = err.Error()
			return result
		}
		return o.failed(log, result, fmt.Errorf("load session: %w", err))
	}

	app := base.Clone()
	app.SessionID = sessionID
	if o.TestMode {
		app = testModeParams(app, session, log)
	}

	run, err := params.Resolve(app, params.FullModelLabel, app.DropVariables)
	if err != nil {
		return o.failed(log, result, fmt.Errorf("resolve full-model params: %w", err))
	}
	log.Info("building fullmodel", "input_variables", run.InputVariables)

	fit, err := design.ExtractUnitData(run, session)
	if err != nil {
		return o.failed(log, result, fmt.Errorf("extract unit data: %w", err))
	}
	matrix, err := design.BuildDesign(run, session, &fit)
	if err != nil {
		return o.failed(log, result, fmt.Errorf("build design matrix: %w", err))
	}
	if len(fit.FailedKernels) > 0 {
		log.Warn("kernels failed to build", "failed_kernels", fit.FailedKernels)
	}

	path, n, err := artifacts.WriteModelInputs(o.OutDir, artifacts.SubfolderFull, matrix, fit, run)
	if err != nil {
		return o.failed(log, result, fmt.Errorf("write fullmodel inputs: %w", err))
	}
	log.Info("wrote model inputs", "path", path, "size", humanize.Bytes(uint64(n)))
	result.Artifacts = append(result.Artifacts, path)

	planner := dropout.NewPlanner(app, run, fit, matrix)
	for _, feature := range planner.Candidates() {
		reduction, err := planner.Reduce(feature)
		if err != nil {
			if errors.Is(err, dropout.ErrFailedKernel) {
				log.Warn("failed kernel, skipping dropout analysis", "feature", feature)
				result.SkippedFeatures = append(result.SkippedFeatures, feature)
				continue
			}
			log.Error("dropout feature failed", "feature", feature, "error", err)
			result.FeatureErrors = append(result.FeatureErrors, FeatureError{Feature: feature, Error: err.Error()})
			continue
		}
		log.Info("built reduced model", "feature", feature,
			"rows", len(reduction.Matrix.Data), "weights", len(reduction.Matrix.Columns))

		path, n, err := artifacts.WriteModelInputs(o.OutDir, artifacts.SubfolderReduced, reduction.Matrix, fit, reduction.Run)
		if err != nil {
			log.Error("write reduced inputs failed", "feature", feature, "error", err)
			result.FeatureErrors = append(result.FeatureErrors, FeatureError{Feature: feature, Error: err.Error()})
			continue
		}
		log.Info("wrote model inputs", "path", path, "size", humanize.Bytes(uint64(n)))
		result.Artifacts = append(result.Artifacts, path)
	}

	result.Status = StatusCompleted
	return result
}

func (o *Orchestrator) failed(log *slog.Logger, result SessionResult, err error) SessionResult {
	log.Error("session failed", "error", err)
	result.Status = StatusFailed
	result.Error = err.Error()
	return result
}

// RunBatch processes the session ids in order. Per-session failures never
// abort the batch; in test mode at most one session runs. Both output
// subfolders are guaranteed to exist and be non-empty afterwards.
func (o *Orchestrator) RunBatch(ctx context.Context, sessionIDs []string, base params.AppParams) (BatchSummary, error) {
	start := time.Now()
	summary := BatchSummary{RunID: o.RunID, TestMode: o.TestMode}
	if summary.RunID == "" {
		summary.RunID = uuid.NewString()
	}
	log := o.Log.With("run_id", summary.RunID)

	if err := artifacts.WriteAppParams(o.OutDir, base); err != nil {
		return summary, fmt.Errorf("write app params: %w", err)
	}

	for _, sessionID := range sessionIDs {
		result := o.ProcessSession(ctx, sessionID, base)
		summary.Results = append(summary.Results, result)
		switch result.Status {
		case StatusCompleted:
			summary.Completed++
			log.Info("session completed", "session_id", sessionID, "artifacts", len(result.Artifacts))
		case StatusSkipped:
			summary.Skipped++
		case StatusFailed:
			summary.Failed++
		}
		if o.TestMode {
			log.Info("test mode: exiting after first session")
			break
		}
	}

	if err := artifacts.EnsureResultsDirs(o.OutDir, summary.RunID); err != nil {
		return summary, fmt.Errorf("ensure results dirs: %w", err)
	}
	if err := artifacts.AppendRunIndex(o.OutDir, artifacts.RunIndexEntry{
		RunID:        summary.RunID,
		Sessions:     len(summary.Results),
		Completed:    summary.Completed,
		Skipped:      summary.Skipped,
		Failed:       summary.Failed,
		TestMode:     o.TestMode,
		CreatedAtUTC: time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return summary, fmt.Errorf("append run index: %w", err)
	}

	summary.ElapsedMS = time.Since(start).Milliseconds()
	log.Info("batch finished", "completed", summary.Completed, "skipped", summary.Skipped,
		"failed", summary.Failed, "elapsed", time.Since(start).Round(time.Millisecond).String())
	return summary, nil
}

// testModeParams swaps in the reduced test configuration: one qualifying
// structure from the session's own unit-area histogram (>= 50 units, name
// not all-lowercase), coarse bins, relaxed unit gating.
func testModeParams(app params.AppParams, session model.Session, log *slog.Logger) params.AppParams {
	log.Info("test mode: using reduced params set")

	counts := make(map[string]int)
	for _, unit := range session.Units {
		counts[unit.Structure]++
	}
	type structureCount struct {
		name  string
		count int
	}
	qualifying := make([]structureCount, 0, len(counts))
	for name, count := range counts {
		if count >= 50 && strings.ToLower(name) != name {
			qualifying = append(qualifying, structureCount{name: name, count: count})
		}
	}
	sort.Slice(qualifying, func(i, j int) bool {
		if qualifying[i].count != qualifying[j].count {
			return qualifying[i].count > qualifying[j].count
		}
		return qualifying[i].name < qualifying[j].name
	})
	if len(qualifying) > 0 {
		app.AreasToInclude = []string{qualifying[0].name}
	} else {
		app.AreasToInclude = nil
	}

	app.TimeOfInterest = "full_trial"
	app.SpikeBinWidth = 0.5
	app.RunOnQCUnits = true
	return app
}
