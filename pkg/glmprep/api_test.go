package glmprep

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"glmprep/internal/model"
	"glmprep/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestClient(t *testing.T, dataDir, outDir string) *Client {
	t.Helper()
	client, err := Open(context.Background(), Options{
		StoreKind: "memory",
		DataDir:   dataDir,
		OutDir:    outDir,
		Logger:    discardLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func productionRecord(id string) model.SessionRecord {
	return model.SessionRecord{
		SessionID:    id,
		Project:      "DynamicRouting",
		IsEphys:      true,
		IsTask:       true,
		IsAnnotated:  true,
		IsProduction: true,
	}
}

func writeSessionData(t *testing.T, dataDir, sessionID string) {
	t.Helper()
	n := 21
	ts := make([]float64, n)
	running := make([]float64, n)
	for i := range ts {
		ts[i] = float64(i) * 0.5
		running[i] = ts[i]
	}
	session := model.Session{
		SessionID: sessionID,
		Units:     []model.Unit{{ID: "u1", Structure: "MOs", QCPass: true, SpikeTimes: []float64{0.1}}},
		Behavior: model.Behavior{
			Timestamps: ts,
			Traces:     map[string][]float64{"running": running},
			Events:     map[string][]float64{"lick_onsets": {1.0}},
		},
	}
	data, err := json.Marshal(session)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, sessionID+".json"), data, 0o644))
}

func baseOverrides() map[string]any {
	return map[string]any{
		"input_variables":      []string{"licks", "running_speed"},
		"time_of_interest":     "full_trial",
		"spike_bin_width":      0.5,
		"input_window_lengths": map[string]float64{"licks": 1.0, "running_speed": 0.5},
		"intercept":            false,
		"run_on_qc_units":      true,
	}
}

func TestImportSessions(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	client := openTestClient(t, dir, t.TempDir())

	table := []model.SessionRecord{productionRecord("s1"), productionRecord("s2")}
	data, err := json.Marshal(table)
	require.NoError(t, err)
	path := filepath.Join(dir, "table.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	n, err := client.ImportSessions(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	records, err := client.Sessions(ctx, storage.DefaultFilter())
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestImportSessionsRejectsMissingID(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	client := openTestClient(t, dir, t.TempDir())

	path := filepath.Join(dir, "table.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"project":"DynamicRouting"}]`), 0o644))

	_, err := client.ImportSessions(ctx, path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "session_id")
}

func TestRunProcessesFilteredSessions(t *testing.T) {
	ctx := context.Background()
	dataDir, outDir := t.TempDir(), t.TempDir()
	client := openTestClient(t, dataDir, outDir)

	require.NoError(t, client.Store().SaveSession(ctx, productionRecord("s1")))
	excluded := productionRecord("s2")
	excluded.IsProduction = false
	require.NoError(t, client.Store().SaveSession(ctx, excluded))
	writeSessionData(t, dataDir, "s1")
	writeSessionData(t, dataDir, "s2")

	summary, err := client.Run(ctx, RunRequest{Overrides: baseOverrides(), RunID: "run-1"})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Completed)
	require.Len(t, summary.Results, 1)
	require.Equal(t, "s1", summary.Results[0].SessionID)

	_, err = os.Stat(filepath.Join(outDir, "full", "s1_fullmodel_inputs.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, "full", "s2_fullmodel_inputs.json"))
	require.True(t, os.IsNotExist(err), "filtered-out session must not be processed")

	runs, err := client.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "run-1", runs[0].RunID)
	require.Equal(t, 1, runs[0].Completed)
}

func TestRunRequestedSessionNotInTable(t *testing.T) {
	ctx := context.Background()
	dataDir, outDir := t.TempDir(), t.TempDir()
	client := openTestClient(t, dataDir, outDir)

	require.NoError(t, client.Store().SaveSession(ctx, productionRecord("s1")))

	_, err := client.Run(ctx, RunRequest{
		SessionID: "ghost",
		Overrides: baseOverrides(),
		RunID:     "run-1",
	})
	require.ErrorIs(t, err, ErrSessionNotInTable)

	// The process exits without model inputs, but both output subfolders
	// still exist and are non-empty.
	for _, sub := range []string{"full", "reduced"} {
		entries, readErr := os.ReadDir(filepath.Join(outDir, sub))
		require.NoError(t, readErr)
		require.NotEmpty(t, entries)
	}
	matches, globErr := filepath.Glob(filepath.Join(outDir, "*", "*_inputs.json"))
	require.NoError(t, globErr)
	require.Empty(t, matches, "no model inputs may be written")
}

func TestRunExplicitSessionLimitsBatch(t *testing.T) {
	ctx := context.Background()
	dataDir, outDir := t.TempDir(), t.TempDir()
	client := openTestClient(t, dataDir, outDir)

	require.NoError(t, client.Store().SaveSession(ctx, productionRecord("s1")))
	require.NoError(t, client.Store().SaveSession(ctx, productionRecord("s2")))
	writeSessionData(t, dataDir, "s1")
	writeSessionData(t, dataDir, "s2")

	summary, err := client.Run(ctx, RunRequest{
		SessionID: "s2",
		Overrides: baseOverrides(),
	})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	require.Equal(t, "s2", summary.Results[0].SessionID)
}

func TestRunBadOverridesIsConfigError(t *testing.T) {
	client := openTestClient(t, t.TempDir(), t.TempDir())

	_, err := client.Run(context.Background(), RunRequest{
		Overrides: map[string]any{"not_a_param": true},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown parameter")
}

func TestRunCustomFilter(t *testing.T) {
	ctx := context.Background()
	dataDir, outDir := t.TempDir(), t.TempDir()
	client := openTestClient(t, dataDir, outDir)

	templeton := productionRecord("s1")
	templeton.Project = "Templeton"
	require.NoError(t, client.Store().SaveSession(ctx, templeton))
	writeSessionData(t, dataDir, "s1")

	filter := storage.DefaultFilter()
	filter.Project = "Templeton"
	summary, err := client.Run(ctx, RunRequest{
		Overrides: baseOverrides(),
		Filter:    &filter,
	})
	require.NoError(t, err)
	require.Equal(t, 1, summary.Completed)
}
