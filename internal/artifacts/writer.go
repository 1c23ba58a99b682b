// Package artifacts serializes model-input bundles and run bookkeeping.
// One file per (session, model variant); the session_id filename prefix is
// the collision-avoidance contract for parallel invocations sharing an
// output root.
package artifacts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"glmprep/internal/design"
	"glmprep/internal/model"
	"glmprep/internal/params"
)

const (
	SubfolderFull    = "full"
	SubfolderReduced = "reduced"

	runIndexFile    = "run_index.json"
	appParamsFile   = "app_params.json"
	placeholderFile = "placeholder.json"
)

// DesignMatrixPayload is the serialized form of a design matrix: the data
// block plus the weight and timestamp axes.
type DesignMatrixPayload struct {
	Data       [][]float64 `json:"data"`
	Weights    []string    `json:"weights"`
	Timestamps []float64   `json:"timestamps"`
}

// Bundle is the on-disk unit of output for one model variant.
type Bundle struct {
	File         string              `json:"file"`
	DesignMatrix DesignMatrixPayload `json:"design_matrix"`
	Fit          model.FitRecord     `json:"fit"`
	RunParams    params.RunParams    `json:"run_params"`
}

// WriteModelInputs writes one variant's bundle to
// <baseDir>/<subfolder>/<sessionID>_<modelLabel>_inputs.json, creating the
// subfolder if absent. It returns the path and the byte count written.
func WriteModelInputs(baseDir, subfolder string, matrix design.Matrix, fit model.FitRecord, run params.RunParams) (string, int, error) {
	if strings.TrimSpace(run.SessionID) == "" {
		return "", 0, fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(run.ModelLabel) == "" {
		return "", 0, fmt.Errorf("model label is required")
	}

	dir := filepath.Join(baseDir, subfolder)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, err
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s_inputs.json", run.SessionID, run.ModelLabel))
	bundle := Bundle{
		File: path,
		DesignMatrix: DesignMatrixPayload{
			Data:       matrix.Data,
			Weights:    matrix.WeightNames(),
			Timestamps: matrix.Timestamps,
		},
		Fit:       fit,
		RunParams: run,
	}
	n, err := writeJSON(path, bundle)
	if err != nil {
		return "", 0, err
	}
	return path, n, nil
}

// WriteAppParams records the resolved base parameter set at the output root.
func WriteAppParams(baseDir string, app params.AppParams) error {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}
	_, err := writeJSON(filepath.Join(baseDir, appParamsFile), app)
	return err
}

// EnsureResultsDirs guarantees both output subfolders exist and are
// non-empty, writing a placeholder into any that would otherwise end the
// run empty. Downstream batch tooling expects a fixed directory shape.
func EnsureResultsDirs(baseDir, runID string) error {
	for _, subfolder := range []string{SubfolderFull, SubfolderReduced} {
		dir := filepath.Join(baseDir, subfolder)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			continue
		}
		placeholder := map[string]string{
			"run_id": runID,
			"reason": "no model inputs were produced for this subfolder",
		}
		if _, err := writeJSON(filepath.Join(dir, placeholderFile), placeholder); err != nil {
			return err
		}
	}
	return nil
}

type RunIndexEntry struct {
	RunID        string `json:"run_id"`
	Sessions     int    `json:"sessions"`
	Completed    int    `json:"completed"`
	Skipped      int    `json:"skipped"`
	Failed       int    `json:"failed"`
	TestMode     bool   `json:"test_mode"`
	CreatedAtUTC string `json:"created_at_utc"`
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			_, err := writeJSON(filepath.Join(baseDir, runIndexFile), index)
			return err
		}
	}

	index = append(index, entry)
	_, err = writeJSON(filepath.Join(baseDir, runIndexFile), index)
	return err
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAtUTC > entries[j].CreatedAtUTC
	})
	return entries, nil
}

func writeJSON(path string, value any) (int, error) {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return 0, err
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, err
	}
	return len(data), nil
}
