package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"glmprep/internal/params"
)

// paramFlagKeys maps the scalar parameter flags onto parameter keys.
// List- and map-valued parameters are only settable through --config or
// --override-params.
var paramFlagKeys = map[string]string{
	"time-of-interest":     "time_of_interest",
	"spontaneous-duration": "spontaneous_duration",
	"input-offsets":        "input_offsets",
	"run-on-qc-units":      "run_on_qc_units",
	"spike-bin-width":      "spike_bin_width",
	"quiescent-start-time": "quiescent_start_time",
	"quiescent-stop-time":  "quiescent_stop_time",
	"trial-start-time":     "trial_start_time",
	"trial-stop-time":      "trial_stop_time",
	"intercept":            "intercept",
}

func registerParamFlags(fs *flag.FlagSet) {
	fs.String("time-of-interest", "quiescent", "analysis window: quiescent|full_trial|spontaneous")
	fs.Float64("spontaneous-duration", 120, "spontaneous window duration in seconds")
	fs.Bool("input-offsets", true, "expand kernels into time-offset weight columns")
	fs.Bool("run-on-qc-units", false, "gate units on the qc flag instead of inclusion criteria")
	fs.Float64("spike-bin-width", 0.025, "spike bin width in seconds")
	fs.Float64("quiescent-start-time", -1.5, "quiescent window start relative to trial")
	fs.Float64("quiescent-stop-time", 0, "quiescent window stop relative to trial")
	fs.Float64("trial-start-time", -2, "trial window start")
	fs.Float64("trial-stop-time", 3, "trial window stop")
	fs.Bool("intercept", true, "include an intercept column")
}

// collectOverrides gathers the three override sources in precedence order:
// config file, then explicitly set command-line flags, then the JSON
// override map. Later sources win on key conflicts.
func collectOverrides(fs *flag.FlagSet, configPath, overrideJSON string, log *slog.Logger) (map[string]any, error) {
	var fileValues map[string]any
	if configPath != "" {
		loaded, err := loadParamsFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		fileValues = loaded
	}

	cliValues := make(map[string]any)
	fs.Visit(func(f *flag.Flag) {
		key, ok := paramFlagKeys[f.Name]
		if !ok {
			return
		}
		if getter, ok := f.Value.(flag.Getter); ok {
			cliValues[key] = getter.Get()
		}
	})

	var jsonValues map[string]any
	if overrideJSON != "" {
		if err := json.Unmarshal([]byte(overrideJSON), &jsonValues); err != nil {
			return nil, fmt.Errorf("parse --override-params: %w", err)
		}
	}

	return params.MergeOverrides(log,
		params.OverrideSource{Name: "config_file", Values: fileValues},
		params.OverrideSource{Name: "command_line", Values: cliValues},
		params.OverrideSource{Name: "override_params_json", Values: jsonValues},
	), nil
}

func loadParamsFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	values := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &values); err != nil {
			return nil, err
		}
	}
	return values, nil
}

func printJSON(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
