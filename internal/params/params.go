package params

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/spf13/cast"
)

const FullModelLabel = "fullmodel"

// AppParams is the per-run analysis configuration. Every field except
// SessionID has a default and may be overridden; SessionID is immutable
// once set.
type AppParams struct {
	SessionID                   string             `json:"session_id"`
	TimeOfInterest              string             `json:"time_of_interest"`
	SpontaneousDuration         float64            `json:"spontaneous_duration"`
	FeaturesToDrop              []string           `json:"features_to_drop"`
	InputVariables              []string           `json:"input_variables"`
	InputOffsets                bool               `json:"input_offsets"`
	InputWindowLengths          map[string]float64 `json:"input_window_lengths"`
	DropVariables               []string           `json:"drop_variables"`
	UnitInclusionCriteria       map[string]float64 `json:"unit_inclusion_criteria"`
	RunOnQCUnits                bool               `json:"run_on_qc_units"`
	SpikeBinWidth               float64            `json:"spike_bin_width"`
	AreasToInclude              []string           `json:"areas_to_include"`
	AreasToExclude              []string           `json:"areas_to_exclude"`
	OrthogonalizeAgainstContext []string           `json:"orthogonalize_against_context"`
	QuiescentStartTime          float64            `json:"quiescent_start_time"`
	QuiescentStopTime           float64            `json:"quiescent_stop_time"`
	TrialStartTime              float64            `json:"trial_start_time"`
	TrialStopTime               float64            `json:"trial_stop_time"`
	Intercept                   bool               `json:"intercept"`
}

func Defaults(sessionID string) AppParams {
	return AppParams{
		SessionID:           sessionID,
		TimeOfInterest:      "quiescent",
		SpontaneousDuration: 2 * 60,
		InputVariables:      []string{"licks", "rewards", "running_speed", "pupil_area", "whisker_energy", "context"},
		InputOffsets:        true,
		UnitInclusionCriteria: map[string]float64{
			"isi_violations":   0.1,
			"presence_ratio":   0.99,
			"amplitude_cutoff": 0.1,
			"firing_rate":      1,
		},
		SpikeBinWidth:               0.025,
		OrthogonalizeAgainstContext: []string{"facial_features"},
		QuiescentStartTime:          -1.5,
		QuiescentStopTime:           0,
		TrialStartTime:              -2,
		TrialStopTime:               3,
		Intercept:                   true,
	}
}

// Clone deep-copies the parameter set so resolved variants never share
// slice or map state with the base.
func (p AppParams) Clone() AppParams {
	out := p
	out.FeaturesToDrop = append([]string(nil), p.FeaturesToDrop...)
	out.InputVariables = append([]string(nil), p.InputVariables...)
	out.DropVariables = append([]string(nil), p.DropVariables...)
	out.AreasToInclude = append([]string(nil), p.AreasToInclude...)
	out.AreasToExclude = append([]string(nil), p.AreasToExclude...)
	out.OrthogonalizeAgainstContext = append([]string(nil), p.OrthogonalizeAgainstContext...)
	if p.InputWindowLengths != nil {
		out.InputWindowLengths = make(map[string]float64, len(p.InputWindowLengths))
		for k, v := range p.InputWindowLengths {
			out.InputWindowLengths[k] = v
		}
	}
	if p.UnitInclusionCriteria != nil {
		out.UnitInclusionCriteria = make(map[string]float64, len(p.UnitInclusionCriteria))
		for k, v := range p.UnitInclusionCriteria {
			out.UnitInclusionCriteria[k] = v
		}
	}
	return out
}

// OverrideSource is one ordered source of parameter overrides. Later
// sources win; conflicts are logged, not rejected.
type OverrideSource struct {
	Name   string
	Values map[string]any
}

// MergeOverrides flattens override sources in order. A key supplied by two
// sources keeps the later value and logs the replacement.
func MergeOverrides(log *slog.Logger, sources ...OverrideSource) map[string]any {
	merged := make(map[string]any)
	origin := make(map[string]string)
	for _, source := range sources {
		keys := make([]string, 0, len(source.Values))
		for key := range source.Values {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if prev, ok := origin[key]; ok && log != nil {
				log.Info("overriding parameter", "key", key, "replaced_source", prev, "source", source.Name)
			}
			merged[key] = source.Values[key]
			origin[key] = source.Name
		}
	}
	return merged
}

// ApplyOverrides copies recognized keys onto a clone of base. Unknown keys
// and attempts to change a non-empty session_id are configuration errors.
func ApplyOverrides(base AppParams, overrides map[string]any) (AppParams, error) {
	out := base.Clone()
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := overrides[key]
		var err error
		switch key {
		case "session_id":
			id, castErr := cast.ToStringE(value)
			if castErr != nil {
				err = castErr
				break
			}
			if out.SessionID != "" && id != out.SessionID {
				return AppParams{}, fmt.Errorf("session_id is immutable once set (have %q, override %q)", out.SessionID, id)
			}
			out.SessionID = id
		case "time_of_interest":
			out.TimeOfInterest, err = cast.ToStringE(value)
		case "spontaneous_duration":
			out.SpontaneousDuration, err = cast.ToFloat64E(value)
		case "features_to_drop":
			out.FeaturesToDrop, err = toStringSlice(value)
		case "input_variables":
			out.InputVariables, err = toStringSlice(value)
		case "input_offsets":
			out.InputOffsets, err = cast.ToBoolE(value)
		case "input_window_lengths":
			out.InputWindowLengths, err = toFloatMap(value)
		case "drop_variables":
			out.DropVariables, err = toStringSlice(value)
		case "unit_inclusion_criteria":
			out.UnitInclusionCriteria, err = toFloatMap(value)
		case "run_on_qc_units":
			out.RunOnQCUnits, err = cast.ToBoolE(value)
		case "spike_bin_width":
			out.SpikeBinWidth, err = cast.ToFloat64E(value)
		case "areas_to_include":
			out.AreasToInclude, err = toStringSlice(value)
		case "areas_to_exclude":
			out.AreasToExclude, err = toStringSlice(value)
		case "orthogonalize_against_context":
			out.OrthogonalizeAgainstContext, err = toStringSlice(value)
		case "quiescent_start_time":
			out.QuiescentStartTime, err = cast.ToFloat64E(value)
		case "quiescent_stop_time":
			out.QuiescentStopTime, err = cast.ToFloat64E(value)
		case "trial_start_time":
			out.TrialStartTime, err = cast.ToFloat64E(value)
		case "trial_stop_time":
			out.TrialStopTime, err = cast.ToFloat64E(value)
		case "intercept":
			out.Intercept, err = cast.ToBoolE(value)
		default:
			return AppParams{}, fmt.Errorf("unknown parameter %q", key)
		}
		if err != nil {
			return AppParams{}, fmt.Errorf("parameter %q: %w", key, err)
		}
	}
	return out, nil
}

func toStringSlice(value any) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	out, err := cast.ToStringSliceE(value)
	if err != nil {
		return nil, err
	}
	// copy so the result never aliases a caller-owned slice
	return append([]string(nil), out...), nil
}

func toFloatMap(value any) (map[string]float64, error) {
	if value == nil {
		return nil, nil
	}
	// typed maps arrive through the in-process API; cast only handles
	// map[string]any
	if typed, ok := value.(map[string]float64); ok {
		out := make(map[string]float64, len(typed))
		for k, v := range typed {
			out[k] = v
		}
		return out, nil
	}
	raw, err := cast.ToStringMapE(value)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

// RunParams is the validated, expanded form of AppParams: the parameter set
// plus the derived kernel map and the model label for one variant.
type RunParams struct {
	AppParams
	ModelLabel string            `json:"model_label"`
	Kernels    map[string]Kernel `json:"kernels"`
}

// Resolve expands one model variant. The full model passes FullModelLabel
// and the base drop list; dropout variants patch in a single drop variable
// and a drop_<feature> label, re-deriving kernels so downstream stages see
// the post-drop kernel set.
func Resolve(app AppParams, modelLabel string, dropVariables []string) (RunParams, error) {
	run := RunParams{AppParams: app.Clone(), ModelLabel: modelLabel}
	if dropVariables != nil {
		run.DropVariables = append([]string(nil), dropVariables...)
	}
	kernels, err := deriveKernels(run.AppParams)
	if err != nil {
		return RunParams{}, err
	}
	run.Kernels = kernels
	if err := run.Validate(); err != nil {
		return RunParams{}, err
	}
	return run, nil
}

// Validate fails, rather than warns, on cross-field inconsistency.
func (r RunParams) Validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if r.ModelLabel == "" {
		return fmt.Errorf("model_label is required")
	}
	if r.SpikeBinWidth <= 0 {
		return fmt.Errorf("spike_bin_width must be positive, got %v", r.SpikeBinWidth)
	}
	switch r.TimeOfInterest {
	case "quiescent", "full_trial", "spontaneous":
	default:
		return fmt.Errorf("unknown time_of_interest %q", r.TimeOfInterest)
	}
	if r.QuiescentStartTime >= r.QuiescentStopTime {
		return fmt.Errorf("quiescent window is inverted: [%v, %v]", r.QuiescentStartTime, r.QuiescentStopTime)
	}
	if r.TrialStartTime >= r.TrialStopTime {
		return fmt.Errorf("trial window is inverted: [%v, %v]", r.TrialStartTime, r.TrialStopTime)
	}

	dropped := make(map[string]bool, len(r.DropVariables))
	for _, key := range r.DropVariables {
		dropped[key] = true
	}
	for _, name := range r.InputVariables {
		template, ok := kernelRegistry[name]
		if !ok {
			return fmt.Errorf("input variable %q has no kernel registry entry", name)
		}
		if dropped[name] || dropped[template.FunctionCall] {
			continue
		}
		if _, ok := r.Kernels[name]; !ok {
			return fmt.Errorf("input variable %q missing from derived kernels", name)
		}
	}
	return nil
}

// FeatureIndexFor builds the bidirectional index over the variant's active
// kernel set (intercept excluded: it is not a feature).
func (r RunParams) FeatureIndexFor() FeatureIndex {
	kernels := make(map[string]Kernel, len(r.Kernels))
	for name, kernel := range r.Kernels {
		if name == InterceptKernel {
			continue
		}
		kernels[name] = kernel
	}
	return NewFeatureIndex(kernels)
}
