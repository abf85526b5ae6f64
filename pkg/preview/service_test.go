package preview

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/catprev/catprev/pkg/catalog"
	"github.com/catprev/catprev/pkg/stores"
)

func newTestService(t *testing.T, store stores.Store, backend CompilerBackend) *Service {
	t.Helper()
	reg, _ := newMemRegistry()
	return NewService(
		NewFactIngestor(NewStoreFactSaver(store), zerolog.Nop()),
		NewNodeResolver(NewStoreLookup(store), stubServerFacts(t), zerolog.Nop()),
		NewDualCompiler(backend, reg),
		store,
		zerolog.Nop(),
	)
}

func TestServiceRunsFullPipeline(t *testing.T) {
	store := stores.NewMemStore()
	seedFacts(t, store, "web01.example.com", "production", map[string]any{"os": "linux"})

	svc := newTestService(t, store, &fakeBackend{})

	req := testRequest()
	req.Options.FactSet = &catalog.FactSet{
		Name:   "web01.example.com",
		Values: map[string]any{"os": "linux", "release": "12"},
	}

	result, err := svc.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Baseline == nil || result.Preview == nil {
		t.Fatal("incomplete compile result")
	}

	// The ingested facts must be what the lookup observed.
	facts, err := store.GetFacts(context.Background(), "web01.example.com")
	if err != nil {
		t.Fatalf("GetFacts failed: %v", err)
	}
	if facts.Values["release"] != "12" {
		t.Errorf("ingested facts not stored: %v", facts.Values)
	}

	records, err := store.ListCompiles(context.Background(), "web01.example.com", 10, 0)
	if err != nil {
		t.Fatalf("ListCompiles failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("recorded %d compile runs, want 1", len(records))
	}
	rec := records[0]
	if rec.Status != stores.CompileStatusSucceeded {
		t.Errorf("status = %q, want succeeded", rec.Status)
	}
	if rec.BaselineEnv != "production" || rec.PreviewEnv != "prod_v2" {
		t.Errorf("recorded environments %q -> %q", rec.BaselineEnv, rec.PreviewEnv)
	}
	if rec.TransactionUUID == "" {
		t.Error("no transaction UUID recorded")
	}
}

func TestServiceRecordsFailedRuns(t *testing.T) {
	store := stores.NewMemStore()
	seedFacts(t, store, "web01.example.com", "production", nil)

	svc := newTestService(t, store, &fakeBackend{failOn: 1})

	if _, err := svc.Run(context.Background(), testRequest()); err == nil {
		t.Fatal("expected compile failure to propagate")
	}

	records, err := store.ListCompiles(context.Background(), "web01.example.com", 10, 0)
	if err != nil {
		t.Fatalf("ListCompiles failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("recorded %d compile runs, want 1", len(records))
	}
	if records[0].Status != stores.CompileStatusFailed {
		t.Errorf("status = %q, want failed", records[0].Status)
	}
	if records[0].Error == nil || *records[0].Error == "" {
		t.Error("failure recorded without an error message")
	}
}

func TestServiceRejectsTargetlessRequests(t *testing.T) {
	svc := newTestService(t, stores.NewMemStore(), &fakeBackend{})

	req := testRequest()
	req.Key = ""
	req.NodeName = ""

	_, err := svc.Run(context.Background(), req)
	if !IsArgument(err) {
		t.Errorf("targetless request classified as %v, want argument", err)
	}
}
