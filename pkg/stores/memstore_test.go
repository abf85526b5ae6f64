package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/catprev/catprev/pkg/catalog"
)

func TestMemStoreFactsRoundTrip(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	if _, err := store.GetFacts(ctx, "web01.example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFacts for unknown node = %v, want ErrNotFound", err)
	}

	err := store.SaveFacts(ctx, &catalog.FactSet{
		Name:   "web01.example.com",
		Values: map[string]any{"os": "linux"},
	}, SaveOptions{Environment: "production", TransactionUUID: "txn-1"})
	if err != nil {
		t.Fatalf("SaveFacts failed: %v", err)
	}

	got, err := store.GetFacts(ctx, "web01.example.com")
	if err != nil {
		t.Fatalf("GetFacts failed: %v", err)
	}
	if got.Environment != "production" || got.Values["os"] != "linux" {
		t.Errorf("unexpected facts: %+v", got)
	}
}

func TestMemStoreSaveFactsReplaces(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	first := &catalog.FactSet{Name: "web01.example.com", Values: map[string]any{"os": "linux", "release": "11"}}
	if err := store.SaveFacts(ctx, first, SaveOptions{}); err != nil {
		t.Fatalf("SaveFacts failed: %v", err)
	}
	second := &catalog.FactSet{Name: "web01.example.com", Values: map[string]any{"os": "linux", "release": "12"}}
	if err := store.SaveFacts(ctx, second, SaveOptions{}); err != nil {
		t.Fatalf("SaveFacts failed: %v", err)
	}

	got, err := store.GetFacts(ctx, "web01.example.com")
	if err != nil {
		t.Fatalf("GetFacts failed: %v", err)
	}
	if got.Values["release"] != "12" {
		t.Errorf("release = %v, want the later submission", got.Values["release"])
	}
}

func TestMemStoreCompileAudit(t *testing.T) {
	store := NewMemStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i, node := range []string{"web01", "web01", "db01"} {
		err := store.RecordCompile(ctx, &CompileRecord{
			NodeName:    node,
			BaselineEnv: "production",
			PreviewEnv:  "prod_v2",
			Status:      CompileStatusSucceeded,
			StartedAt:   base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("RecordCompile failed: %v", err)
		}
	}

	records, err := store.ListCompiles(ctx, "web01", 10, 0)
	if err != nil {
		t.Fatalf("ListCompiles failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("listed %d records for web01, want 2", len(records))
	}
	if records[0].StartedAt.Before(records[1].StartedAt) {
		t.Error("records not ordered newest first")
	}
	if records[0].ID == "" {
		t.Error("record saved without an ID")
	}

	all, err := store.ListCompiles(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("ListCompiles failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("listed %d records for all nodes, want 3", len(all))
	}

	limited, err := store.ListCompiles(ctx, "", 1, 0)
	if err != nil {
		t.Fatalf("ListCompiles failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("limit 1 returned %d records", len(limited))
	}
}
