// Package dropout plans the reduced (feature-dropout) model variants for a
// session: which features to drop, and how each drop filters the full
// design matrix down to the weights whose kernels survive.
package dropout

import (
	"errors"
	"fmt"
	"sort"

	"glmprep/internal/design"
	"glmprep/internal/model"
	"glmprep/internal/params"
)

// ErrFailedKernel marks a candidate whose kernel never built: it
// contributed no columns, so dropping it is meaningless and the variant is
// skipped rather than written.
var ErrFailedKernel = errors.New("kernel failed to build")

// ErrNoRetainedWeights signals a structural mismatch between the design
// matrix columns and the post-drop kernel set: a surviving kernel should
// have contributed columns and none were found. An empty retained set is
// legitimate only when every surviving kernel failed to build.
var ErrNoRetainedWeights = errors.New("no weights retained after dropout")

// Reduction is one reduced model: the patched run parameters and the
// column-filtered design matrix.
type Reduction struct {
	Feature string
	Run     params.RunParams
	Matrix  design.Matrix
}

// Planner derives drop candidates and builds reductions. It is a pure
// function of its inputs: Reduce never mutates the full matrix or the fit
// record, so features may be processed in any order and re-planning yields
// identical output.
type Planner struct {
	app    params.AppParams
	full   params.RunParams
	fit    model.FitRecord
	matrix design.Matrix
	index  params.FeatureIndex
}

func NewPlanner(app params.AppParams, full params.RunParams, fit model.FitRecord, matrix design.Matrix) *Planner {
	return &Planner{
		app:    app,
		full:   full,
		fit:    fit,
		matrix: matrix,
		index:  full.FeatureIndexFor(),
	}
}

// Candidates returns the drop-feature list. Downstream config may name a
// feature by its semantic name or by its kernel function-call identifier, so
// both keys are accepted and resolved through the bidirectional index to one
// canonical candidate per feature. The result is deduplicated and sorted.
func (p *Planner) Candidates() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(key string) {
		if key == "" {
			return
		}
		if canonical, ok := p.index.Canonical(key); ok {
			key = canonical
		}
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, key)
	}

	if len(p.app.FeaturesToDrop) > 0 {
		for _, key := range p.app.FeaturesToDrop {
			add(key)
		}
	} else {
		for _, name := range p.full.InputVariables {
			add(name)
			if kernel, ok := p.full.Kernels[name]; ok {
				add(kernel.FunctionCall)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Reduce builds the reduced model for one candidate feature. It returns
// ErrFailedKernel when the candidate's kernel never built, and
// ErrNoRetainedWeights when a surviving kernel that did build retains no
// columns. When the only surviving kernels are failed ones the reduction
// is written with zero weight columns instead of erroring.
func (p *Planner) Reduce(feature string) (Reduction, error) {
	if canonical, ok := p.index.Canonical(feature); ok && p.fit.KernelFailed(canonical) {
		return Reduction{}, fmt.Errorf("feature %q: %w", feature, ErrFailedKernel)
	}

	run, err := params.Resolve(p.app, "drop_"+feature, []string{feature})
	if err != nil {
		return Reduction{}, fmt.Errorf("resolve drop params for %q: %w", feature, err)
	}

	retained := p.matrix.WeightsOwnedBy(run.Kernels)
	if len(retained) == 0 && !p.allSurvivorsFailed(run.Kernels) {
		return Reduction{}, fmt.Errorf("feature %q: %w", feature, ErrNoRetainedWeights)
	}

	reduced, err := p.matrix.Copy().Select(retained)
	if err != nil {
		return Reduction{}, fmt.Errorf("filter design matrix for %q: %w", feature, err)
	}
	return Reduction{Feature: feature, Run: run, Matrix: reduced}, nil
}

// allSurvivorsFailed reports whether the post-drop kernel set retains no
// columns for a benign reason: every kernel in it is on the failed list, so
// none ever contributed columns to the full matrix. Dropping down to an
// empty kernel set is not benign.
func (p *Planner) allSurvivorsFailed(kernels map[string]params.Kernel) bool {
	if len(kernels) == 0 {
		return false
	}
	for name := range kernels {
		if !p.fit.KernelFailed(name) {
			return false
		}
	}
	return true
}
