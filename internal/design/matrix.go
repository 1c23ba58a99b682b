package design

import (
	"fmt"
	"sort"

	"glmprep/internal/params"
)

// Column is one design-matrix weight. Kernel records the owning feature
// explicitly so structural filtering never has to re-derive group
// membership from the weight name.
type Column struct {
	Name   string `json:"name"`
	Kernel string `json:"kernel"`
}

// Matrix is the observations x weights array: one row per timestamp, one
// column per weight.
type Matrix struct {
	Columns    []Column    `json:"columns"`
	Timestamps []float64   `json:"timestamps"`
	Data       [][]float64 `json:"data"`
}

func (m Matrix) WeightNames() []string {
	names := make([]string, len(m.Columns))
	for i, col := range m.Columns {
		names[i] = col.Name
	}
	return names
}

// Copy returns a deep copy, so in-place selection on the copy can never
// leak into another variant's view of the full matrix.
func (m Matrix) Copy() Matrix {
	out := Matrix{
		Columns:    append([]Column(nil), m.Columns...),
		Timestamps: append([]float64(nil), m.Timestamps...),
		Data:       make([][]float64, len(m.Data)),
	}
	for i, row := range m.Data {
		out.Data[i] = append([]float64(nil), row...)
	}
	return out
}

// Select keeps the named weights, preserving matrix column order.
func (m Matrix) Select(names []string) (Matrix, error) {
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	keep := make([]int, 0, len(names))
	for i, col := range m.Columns {
		if wanted[col.Name] {
			keep = append(keep, i)
			delete(wanted, col.Name)
		}
	}
	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for name := range wanted {
			missing = append(missing, name)
		}
		sort.Strings(missing)
		return Matrix{}, fmt.Errorf("unknown weights: %v", missing)
	}

	out := Matrix{
		Columns:    make([]Column, len(keep)),
		Timestamps: append([]float64(nil), m.Timestamps...),
		Data:       make([][]float64, len(m.Data)),
	}
	for j, idx := range keep {
		out.Columns[j] = m.Columns[idx]
	}
	for i, row := range m.Data {
		selected := make([]float64, len(keep))
		for j, idx := range keep {
			selected[j] = row[idx]
		}
		out.Data[i] = selected
	}
	return out, nil
}

// WeightsOwnedBy returns the names of every weight whose owning kernel is a
// key of the given kernel set, in matrix column order.
func (m Matrix) WeightsOwnedBy(kernels map[string]params.Kernel) []string {
	retained := make([]string, 0, len(m.Columns))
	for _, col := range m.Columns {
		if _, ok := kernels[col.Kernel]; ok {
			retained = append(retained, col.Name)
		}
	}
	return retained
}

// CheckKernels verifies the structural invariant that every column belongs
// to a kernel in the active set.
func (m Matrix) CheckKernels(kernels map[string]params.Kernel) error {
	for _, col := range m.Columns {
		if _, ok := kernels[col.Kernel]; !ok {
			return fmt.Errorf("weight %q belongs to kernel %q which is not in the active kernel set", col.Name, col.Kernel)
		}
	}
	return nil
}
