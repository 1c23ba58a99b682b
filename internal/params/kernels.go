package params

import (
	"fmt"
	"math"
	"sort"
)

const (
	KernelContinuous = "continuous"
	KernelEvent      = "event"

	// InterceptKernel owns the constant column. It is derived from the
	// intercept flag rather than input_variables, so it is never a drop
	// candidate and survives every structural filter.
	InterceptKernel = "intercept"
)

// Kernel describes how one feature expands into design-matrix weight columns.
type Kernel struct {
	FunctionCall string  `json:"function_call"`
	Type         string  `json:"type"`
	WindowStart  float64 `json:"window_start"`
	WindowStop   float64 `json:"window_stop"`
	Weights      int     `json:"weights"`
}

// kernelRegistry maps every recognized input variable to its kernel
// template. FunctionCall identifiers must stay unique: the planner accepts
// either key when deciding what to drop.
var kernelRegistry = map[string]Kernel{
	"licks":          {FunctionCall: "lick_onsets", Type: KernelEvent, WindowStart: -0.5, WindowStop: 0.5},
	"rewards":        {FunctionCall: "reward_times", Type: KernelEvent, WindowStart: 0, WindowStop: 1.0},
	"running_speed":  {FunctionCall: "running", Type: KernelContinuous, WindowStart: -0.25, WindowStop: 0.25},
	"pupil_area":     {FunctionCall: "pupil", Type: KernelContinuous, WindowStart: -0.25, WindowStop: 0.25},
	"whisker_energy": {FunctionCall: "facial_features", Type: KernelContinuous, WindowStart: -0.25, WindowStop: 0.25},
	"context":        {FunctionCall: "context_block", Type: KernelContinuous, WindowStart: 0, WindowStop: 0},
}

func RegisteredVariables() []string {
	names := make([]string, 0, len(kernelRegistry))
	for name := range kernelRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FeatureIndex is the bidirectional mapping between feature names and their
// kernel function-call identifiers. Downstream config may refer to a feature
// by either key, so membership tests resolve to the canonical name first.
type FeatureIndex struct {
	byName map[string]string
	byCall map[string]string
}

func NewFeatureIndex(kernels map[string]Kernel) FeatureIndex {
	ix := FeatureIndex{
		byName: make(map[string]string, len(kernels)),
		byCall: make(map[string]string, len(kernels)),
	}
	for name, kernel := range kernels {
		ix.byName[name] = kernel.FunctionCall
		ix.byCall[kernel.FunctionCall] = name
	}
	return ix
}

// Canonical resolves a feature name or function-call identifier to the
// canonical feature name.
func (ix FeatureIndex) Canonical(key string) (string, bool) {
	if _, ok := ix.byName[key]; ok {
		return key, true
	}
	if name, ok := ix.byCall[key]; ok {
		return name, true
	}
	return "", false
}

func (ix FeatureIndex) Contains(key string) bool {
	_, ok := ix.Canonical(key)
	return ok
}

func deriveKernels(app AppParams) (map[string]Kernel, error) {
	dropped := make(map[string]bool, len(app.DropVariables))
	for _, key := range app.DropVariables {
		dropped[key] = true
	}

	kernels := make(map[string]Kernel, len(app.InputVariables)+1)
	for _, name := range app.InputVariables {
		template, ok := kernelRegistry[name]
		if !ok {
			return nil, fmt.Errorf("input variable %q has no kernel registry entry (known: %v)", name, RegisteredVariables())
		}
		if dropped[name] || dropped[template.FunctionCall] {
			continue
		}
		kernel := template
		if length, ok := app.InputWindowLengths[name]; ok {
			kernel.WindowStart = -length / 2
			kernel.WindowStop = length / 2
		}
		kernel.Weights = kernelWeightCount(kernel, app)
		kernels[name] = kernel
	}
	if app.Intercept {
		kernels[InterceptKernel] = Kernel{FunctionCall: InterceptKernel, Type: KernelContinuous, Weights: 1}
	}
	return kernels, nil
}

func kernelWeightCount(kernel Kernel, app AppParams) int {
	if !app.InputOffsets || app.SpikeBinWidth <= 0 {
		return 1
	}
	n := int(math.Round((kernel.WindowStop - kernel.WindowStart) / app.SpikeBinWidth))
	if n < 1 {
		return 1
	}
	return n
}
