package storage

import (
	"context"

	"glmprep/internal/model"
)

// Store persists the session table that batch runs select sessions from,
// plus the outcome record of each run.
type Store interface {
	Init(ctx context.Context) error
	SaveSession(ctx context.Context, record model.SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (model.SessionRecord, bool, error)
	ListSessions(ctx context.Context, filter Filter) ([]model.SessionRecord, error)
	SaveRun(ctx context.Context, record model.RunRecord) error
	GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
}

// Filter reproduces the production session-table query: ephys task sessions
// that are annotated, production, issue-free, and belong to one project.
type Filter struct {
	RequireEphys      bool
	RequireTask       bool
	RequireAnnotated  bool
	RequireProduction bool
	Project           string
	NoIssues          bool
}

func DefaultFilter() Filter {
	return Filter{
		RequireEphys:      true,
		RequireTask:       true,
		RequireAnnotated:  true,
		RequireProduction: true,
		Project:           "DynamicRouting",
		NoIssues:          true,
	}
}

func (f Filter) Matches(record model.SessionRecord) bool {
	if f.RequireEphys && !record.IsEphys {
		return false
	}
	if f.RequireTask && !record.IsTask {
		return false
	}
	if f.RequireAnnotated && !record.IsAnnotated {
		return false
	}
	if f.RequireProduction && !record.IsProduction {
		return false
	}
	if f.Project != "" && record.Project != f.Project {
		return false
	}
	if f.NoIssues && len(record.Issues) > 0 {
		return false
	}
	return true
}
