package storage

import (
	"context"
	"testing"

	"glmprep/internal/model"
)

func productionRecord(id string) model.SessionRecord {
	return model.SessionRecord{
		SessionID:    id,
		Project:      "DynamicRouting",
		IsEphys:      true,
		IsTask:       true,
		IsAnnotated:  true,
		IsProduction: true,
	}
}

func TestMemoryStoreSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := productionRecord("s1")
	input.Issues = []string{"probe drift"}
	if err := store.SaveSession(ctx, input); err != nil {
		t.Fatalf("save session: %v", err)
	}

	output, ok, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted session")
	}
	if output.SessionID != "s1" || len(output.Issues) != 1 {
		t.Fatalf("unexpected session: %+v", output)
	}

	_, ok, err = store.GetSession(ctx, "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatal("expected missing session")
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	input := productionRecord("s1")
	input.Issues = []string{"original"}
	if err := store.SaveSession(ctx, input); err != nil {
		t.Fatalf("save session: %v", err)
	}
	input.Issues[0] = "mutated after save"

	output, _, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if output.Issues[0] != "original" {
		t.Fatalf("store shared slice state with caller: %+v", output)
	}
	output.Issues[0] = "mutated after get"

	again, _, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session again: %v", err)
	}
	if again.Issues[0] != "original" {
		t.Fatalf("get leaked mutable state: %+v", again)
	}
}

func TestMemoryStoreListFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	withIssues := productionRecord("s2")
	withIssues.Issues = []string{"broken sync line"}
	notProduction := productionRecord("s3")
	notProduction.IsProduction = false
	otherProject := productionRecord("s4")
	otherProject.Project = "Templeton"

	for _, record := range []model.SessionRecord{
		productionRecord("s9"),
		productionRecord("s1"),
		withIssues,
		notProduction,
		otherProject,
	} {
		if err := store.SaveSession(ctx, record); err != nil {
			t.Fatalf("save %s: %v", record.SessionID, err)
		}
	}

	out, err := store.ListSessions(ctx, DefaultFilter())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 || out[0].SessionID != "s1" || out[1].SessionID != "s9" {
		t.Fatalf("unexpected filtered list: %+v", out)
	}

	all, err := store.ListSessions(ctx, Filter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("empty filter returned %d of 5 sessions", len(all))
	}
}

func TestMemoryStoreRunRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	older := model.RunRecord{RunID: "a", Sessions: 1, CreatedAtUTC: "2026-08-01T00:00:00Z"}
	newer := model.RunRecord{RunID: "b", Sessions: 2, CreatedAtUTC: "2026-08-02T00:00:00Z"}
	if err := store.SaveRun(ctx, older); err != nil {
		t.Fatalf("save run a: %v", err)
	}
	if err := store.SaveRun(ctx, newer); err != nil {
		t.Fatalf("save run b: %v", err)
	}

	got, ok, err := store.GetRun(ctx, "a")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok || got.Sessions != 1 {
		t.Fatalf("unexpected run: ok=%t %+v", ok, got)
	}
	_, ok, err = store.GetRun(ctx, "missing")
	if err != nil {
		t.Fatalf("get missing run: %v", err)
	}
	if ok {
		t.Fatal("expected missing run")
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "b" {
		t.Fatalf("unexpected run order: %+v", runs)
	}
}

func TestFilterMatches(t *testing.T) {
	filter := DefaultFilter()

	if !filter.Matches(productionRecord("s1")) {
		t.Fatal("production record should match the default filter")
	}

	noEphys := productionRecord("s1")
	noEphys.IsEphys = false
	if filter.Matches(noEphys) {
		t.Fatal("non-ephys record matched")
	}

	noTask := productionRecord("s1")
	noTask.IsTask = false
	if filter.Matches(noTask) {
		t.Fatal("non-task record matched")
	}

	flagged := productionRecord("s1")
	flagged.Issues = []string{"anything"}
	if filter.Matches(flagged) {
		t.Fatal("record with issues matched")
	}

	filter.NoIssues = false
	if !filter.Matches(flagged) {
		t.Fatal("issues should be allowed when NoIssues is off")
	}
}
