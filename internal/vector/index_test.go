package vector

import (
	"context"
	"strings"
	"testing"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(":memory:", nil, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

func TestIndex_StoreAndKeywordSearch(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	records := []string{
		"4-week strength block focused on squat and bench",
		"deload week after hypertrophy phase",
		"5k running plan with interval sessions",
	}
	for _, content := range records {
		if err := ix.Store(ctx, "u1", content, map[string]any{"kind": "program"}); err != nil {
			t.Fatalf("store: %v", err)
		}
	}
	// Another user's history must not leak into results.
	if err := ix.Store(ctx, "u2", "squat technique notes", nil); err != nil {
		t.Fatalf("store u2: %v", err)
	}

	entries, err := ix.Search(ctx, "u1", "squat strength", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if !strings.Contains(entries[0].Content, "strength block") {
		t.Fatalf("wrong entry: %s", entries[0].Content)
	}
	if entries[0].UserID != "u1" {
		t.Fatalf("cross-user leak: %s", entries[0].UserID)
	}
	if entries[0].Metadata["kind"] != "program" {
		t.Fatalf("metadata lost: %v", entries[0].Metadata)
	}
}

func TestIndex_EmptyQueryReturnsNothing(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	_ = ix.Store(ctx, "u1", "something", nil)

	entries, err := ix.Search(ctx, "u1", "   ", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}

func TestIndex_MetadataCeiling(t *testing.T) {
	ix := openTestIndex(t)
	big := map[string]any{"notes": strings.Repeat("x", MaxMetadataBytes)}
	err := ix.Store(context.Background(), "u1", "content", big)
	if err == nil {
		t.Fatal("expected error for oversized metadata")
	}
}

func TestIndex_ValidatesInput(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	if err := ix.Store(ctx, "", "content", nil); err == nil {
		t.Fatal("expected error for empty user")
	}
	if err := ix.Store(ctx, "u1", "  ", nil); err == nil {
		t.Fatal("expected error for empty content")
	}
	if _, err := ix.Search(ctx, "", "query", 5); err == nil {
		t.Fatal("expected error for empty user")
	}
}

func TestIndex_SearchCacheInvalidatedByStore(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	_ = ix.Store(ctx, "u1", "first squat session", nil)
	entries, err := ix.Search(ctx, "u1", "squat", 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("first search: %d entries, err %v", len(entries), err)
	}

	_ = ix.Store(ctx, "u1", "second squat session", nil)
	entries, err = ix.Search(ctx, "u1", "squat", 10)
	if err != nil {
		t.Fatalf("second search: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("stale cache: %d entries, want 2", len(entries))
	}
}
