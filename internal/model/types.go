package model

// SessionRecord is one row of the session table used to select sessions for
// a batch run. Filtering happens in storage; the record itself is inert.
type SessionRecord struct {
	SessionID    string   `json:"session_id"`
	Project      string   `json:"project"`
	IsEphys      bool     `json:"is_ephys"`
	IsTask       bool     `json:"is_task"`
	IsAnnotated  bool     `json:"is_annotated"`
	IsProduction bool     `json:"is_production"`
	Issues       []string `json:"issues"`
}

type Unit struct {
	ID              string  `json:"id"`
	Structure       string  `json:"structure"`
	ISIViolations   float64 `json:"isi_violations"`
	PresenceRatio   float64 `json:"presence_ratio"`
	AmplitudeCutoff float64 `json:"amplitude_cutoff"`
	FiringRate      float64 `json:"firing_rate"`
	QCPass          bool    `json:"qc_pass"`

	SpikeTimes []float64 `json:"spike_times"`
}

// Behavior bundles the time-aligned behavioral signals extracted from one
// session: continuous traces sampled at Timestamps, discrete event series
// (onset times), and the session-level behavioral metrics.
type Behavior struct {
	Timestamps     []float64            `json:"timestamps"`
	Traces         map[string][]float64 `json:"traces"`
	Events         map[string][]float64 `json:"events"`
	IsGoodBehavior bool                 `json:"is_good_behavior"`
	DPrime         float64              `json:"dprime"`
}

type Session struct {
	SessionID string   `json:"session_id"`
	Units     []Unit   `json:"units"`
	Behavior  Behavior `json:"behavior"`
}

// FitRecord is the per-session bundle accompanying a design matrix.
// FailedKernels lists features whose columns could not be built; it is
// written once by the design builder and only read afterwards.
type FitRecord struct {
	SessionID      string      `json:"session_id"`
	SpikeBinWidth  float64     `json:"spike_bin_width"`
	IncludedUnits  []string    `json:"included_units"`
	SpikeCounts    [][]float64 `json:"spike_counts"`
	FailedKernels  []string    `json:"failed_kernels"`
	IsGoodBehavior bool        `json:"is_good_behavior"`
	DPrime         float64     `json:"dprime"`
}

// RunRecord is the persisted outcome of one batch run.
type RunRecord struct {
	RunID        string `json:"run_id"`
	TestMode     bool   `json:"test_mode"`
	Sessions     int    `json:"sessions"`
	Completed    int    `json:"completed"`
	Skipped      int    `json:"skipped"`
	Failed       int    `json:"failed"`
	CreatedAtUTC string `json:"created_at_utc"`
}

func (f FitRecord) KernelFailed(feature string) bool {
	for _, name := range f.FailedKernels {
		if name == feature {
			return true
		}
	}
	return false
}
