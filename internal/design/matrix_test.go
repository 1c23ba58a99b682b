package design

import (
	"testing"

	"github.com/stretchr/testify/require"

	"glmprep/internal/params"
)

func sampleMatrix() Matrix {
	return Matrix{
		Columns: []Column{
			{Name: "licks_0", Kernel: "licks"},
			{Name: "licks_1", Kernel: "licks"},
			{Name: "running_speed_0", Kernel: "running_speed"},
		},
		Timestamps: []float64{0, 0.5},
		Data: [][]float64{
			{1, 2, 3},
			{4, 5, 6},
		},
	}
}

func TestCopyIsIndependent(t *testing.T) {
	m := sampleMatrix()
	c := m.Copy()
	c.Data[0][0] = 99
	c.Columns[0].Name = "mutated"
	c.Timestamps[0] = -1

	require.Equal(t, 1.0, m.Data[0][0])
	require.Equal(t, "licks_0", m.Columns[0].Name)
	require.Equal(t, 0.0, m.Timestamps[0])
}

func TestSelectPreservesColumnOrder(t *testing.T) {
	m := sampleMatrix()
	// Request out of matrix order; result must follow matrix order.
	out, err := m.Select([]string{"running_speed_0", "licks_0"})
	require.NoError(t, err)
	require.Equal(t, []string{"licks_0", "running_speed_0"}, out.WeightNames())
	require.Equal(t, [][]float64{{1, 3}, {4, 6}}, out.Data)
	require.Equal(t, m.Timestamps, out.Timestamps)
}

func TestSelectUnknownWeightFails(t *testing.T) {
	m := sampleMatrix()
	_, err := m.Select([]string{"licks_0", "ghost_0"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "ghost_0")
}

func TestWeightsOwnedBy(t *testing.T) {
	m := sampleMatrix()
	kernels := map[string]params.Kernel{"licks": {}}
	require.Equal(t, []string{"licks_0", "licks_1"}, m.WeightsOwnedBy(kernels))
	require.Empty(t, m.WeightsOwnedBy(map[string]params.Kernel{}))
}

func TestCheckKernels(t *testing.T) {
	m := sampleMatrix()
	full := map[string]params.Kernel{"licks": {}, "running_speed": {}}
	require.NoError(t, m.CheckKernels(full))

	err := m.CheckKernels(map[string]params.Kernel{"licks": {}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "running_speed_0")
}
