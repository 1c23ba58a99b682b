package design

import (
	"fmt"
	"sort"

	"glmprep/internal/model"
	"glmprep/internal/params"
)

// ExtractUnitData applies the area and quality gates to the session's units
// and bins their spikes on the run's time grid. An empty unit set is a
// legitimate outcome, not an error.
func ExtractUnitData(run params.RunParams, session model.Session) (model.FitRecord, error) {
	bins, err := timeGrid(run, session.Behavior)
	if err != nil {
		return model.FitRecord{}, err
	}

	fit := model.FitRecord{
		SessionID:      run.SessionID,
		SpikeBinWidth:  run.SpikeBinWidth,
		IsGoodBehavior: session.Behavior.IsGoodBehavior,
		DPrime:         session.Behavior.DPrime,
	}
	for _, unit := range session.Units {
		if !unitIncluded(run, unit) {
			continue
		}
		fit.IncludedUnits = append(fit.IncludedUnits, unit.ID)
		fit.SpikeCounts = append(fit.SpikeCounts, binSpikes(unit.SpikeTimes, bins, run.SpikeBinWidth))
	}
	return fit, nil
}

func unitIncluded(run params.RunParams, unit model.Unit) bool {
	if len(run.AreasToInclude) > 0 && !containsString(run.AreasToInclude, unit.Structure) {
		return false
	}
	if containsString(run.AreasToExclude, unit.Structure) {
		return false
	}
	if run.RunOnQCUnits {
		return unit.QCPass
	}
	criteria := run.UnitInclusionCriteria
	if v, ok := criteria["isi_violations"]; ok && unit.ISIViolations > v {
		return false
	}
	if v, ok := criteria["presence_ratio"]; ok && unit.PresenceRatio < v {
		return false
	}
	if v, ok := criteria["amplitude_cutoff"]; ok && unit.AmplitudeCutoff > v {
		return false
	}
	if v, ok := criteria["firing_rate"]; ok && unit.FiringRate < v {
		return false
	}
	return true
}

// BuildDesign expands every kernel of the resolved variant into weight
// columns on the run's time grid. A kernel whose behavioral source is
// absent from the session is recorded in fit.FailedKernels and contributes
// no columns; only an unusable time grid fails the build as a whole.
func BuildDesign(run params.RunParams, session model.Session, fit *model.FitRecord) (Matrix, error) {
	bins, err := timeGrid(run, session.Behavior)
	if err != nil {
		return Matrix{}, err
	}

	names := make([]string, 0, len(run.Kernels))
	for name := range run.Kernels {
		names = append(names, name)
	}
	sort.Strings(names)

	matrix := Matrix{Timestamps: bins, Data: make([][]float64, len(bins))}
	for i := range matrix.Data {
		matrix.Data[i] = make([]float64, 0, len(names))
	}

	for _, name := range names {
		kernel := run.Kernels[name]
		columns, ok := kernelColumns(kernel, run, session.Behavior, bins)
		if !ok {
			fit.FailedKernels = append(fit.FailedKernels, name)
			continue
		}
		if containsString(run.OrthogonalizeAgainstContext, kernel.FunctionCall) {
			for _, col := range columns {
				center(col)
			}
		}
		for w, col := range columns {
			matrix.Columns = append(matrix.Columns, Column{
				Name:   fmt.Sprintf("%s_%d", name, w),
				Kernel: name,
			})
			for i := range bins {
				matrix.Data[i] = append(matrix.Data[i], col[i])
			}
		}
	}
	sort.Strings(fit.FailedKernels)

	if err := matrix.CheckKernels(run.Kernels); err != nil {
		return Matrix{}, err
	}
	return matrix, nil
}

func kernelColumns(kernel params.Kernel, run params.RunParams, behavior model.Behavior, bins []float64) ([][]float64, bool) {
	switch kernel.Type {
	case params.KernelEvent:
		events, ok := behavior.Events[kernel.FunctionCall]
		if !ok {
			return nil, false
		}
		return eventColumns(kernel, run, events, bins), true
	case params.KernelContinuous:
		if kernel.FunctionCall == params.InterceptKernel {
			col := make([]float64, len(bins))
			for i := range col {
				col[i] = 1
			}
			return [][]float64{col}, true
		}
		trace, ok := behavior.Traces[kernel.FunctionCall]
		if !ok || len(trace) != len(behavior.Timestamps) {
			return nil, false
		}
		return traceColumns(kernel, run, behavior.Timestamps, trace, bins), true
	default:
		return nil, false
	}
}

func traceColumns(kernel params.Kernel, run params.RunParams, ts, trace, bins []float64) [][]float64 {
	columns := make([][]float64, kernel.Weights)
	for w := 0; w < kernel.Weights; w++ {
		shift := weightShift(kernel, run, w)
		col := make([]float64, len(bins))
		for i, t := range bins {
			col[i] = interp(ts, trace, t+shift)
		}
		columns[w] = col
	}
	return columns
}

func eventColumns(kernel params.Kernel, run params.RunParams, events, bins []float64) [][]float64 {
	sorted := append([]float64(nil), events...)
	sort.Float64s(sorted)

	columns := make([][]float64, kernel.Weights)
	for w := 0; w < kernel.Weights; w++ {
		shift := weightShift(kernel, run, w)
		col := make([]float64, len(bins))
		for i, t := range bins {
			col[i] = countInWindow(sorted, t+shift, t+shift+run.SpikeBinWidth)
		}
		columns[w] = col
	}
	return columns
}

func weightShift(kernel params.Kernel, run params.RunParams, w int) float64 {
	if kernel.Weights <= 1 {
		return 0
	}
	return kernel.WindowStart + float64(w)*run.SpikeBinWidth
}

// timeGrid derives the bin timestamps for the analysis window of interest.
func timeGrid(run params.RunParams, behavior model.Behavior) ([]float64, error) {
	if len(behavior.Timestamps) < 2 {
		return nil, fmt.Errorf("session %s: behavior timestamps are empty or degenerate", run.SessionID)
	}
	start := behavior.Timestamps[0]
	stop := behavior.Timestamps[len(behavior.Timestamps)-1]
	if run.TimeOfInterest == "spontaneous" && start+run.SpontaneousDuration < stop {
		stop = start + run.SpontaneousDuration
	}
	if stop <= start {
		return nil, fmt.Errorf("session %s: empty analysis window [%v, %v]", run.SessionID, start, stop)
	}

	n := int((stop - start) / run.SpikeBinWidth)
	if n < 1 {
		return nil, fmt.Errorf("session %s: analysis window shorter than one bin", run.SessionID)
	}
	bins := make([]float64, n)
	for i := range bins {
		bins[i] = start + float64(i)*run.SpikeBinWidth
	}
	return bins, nil
}

func binSpikes(spikes, bins []float64, width float64) []float64 {
	sorted := append([]float64(nil), spikes...)
	sort.Float64s(sorted)
	counts := make([]float64, len(bins))
	for i, t := range bins {
		counts[i] = countInWindow(sorted, t, t+width)
	}
	return counts
}

func countInWindow(sorted []float64, lo, hi float64) float64 {
	start := sort.SearchFloat64s(sorted, lo)
	end := sort.SearchFloat64s(sorted, hi)
	return float64(end - start)
}

// interp linearly interpolates xs over ts at t, clamping at the edges.
func interp(ts, xs []float64, t float64) float64 {
	if t <= ts[0] {
		return xs[0]
	}
	last := len(ts) - 1
	if t >= ts[last] {
		return xs[last]
	}
	i := sort.SearchFloat64s(ts, t)
	if ts[i] == t {
		return xs[i]
	}
	frac := (t - ts[i-1]) / (ts[i] - ts[i-1])
	return xs[i-1] + frac*(xs[i]-xs[i-1])
}

func center(col []float64) {
	if len(col) == 0 {
		return
	}
	var sum float64
	for _, v := range col {
		sum += v
	}
	mean := sum / float64(len(col))
	for i := range col {
		col[i] -= mean
	}
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
