package tool

import (
	"context"
	"encoding/json"
	"testing"
)

func noop(ctx context.Context, input json.RawMessage, job *Job) (any, error) {
	return map[string]any{"ok": true}, nil
}

func TestNewRegistry_Validation(t *testing.T) {
	if _, err := NewRegistry(Tool{Name: "", Execute: noop}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := NewRegistry(Tool{Name: "a"}); err == nil {
		t.Fatal("expected error for nil Execute")
	}
	if _, err := NewRegistry(Tool{Name: "a", Execute: noop}, Tool{Name: "a", Execute: noop}); err == nil {
		t.Fatal("expected error for duplicate name")
	}
}

func TestRegistry_SpecsOrderAndDefaults(t *testing.T) {
	r, err := NewRegistry(
		Tool{Name: "b", Description: "second", Execute: noop},
		Tool{Name: "a", Description: "first", InputSchema: json.RawMessage(`{"type":"object","properties":{"k":{"type":"string"}}}`), Execute: noop},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	specs := r.Specs()
	if len(specs) != 2 || specs[0].Name != "b" || specs[1].Name != "a" {
		t.Fatalf("registration order not preserved: %+v", specs)
	}
	if string(specs[0].InputSchema) != `{"type":"object"}` {
		t.Fatalf("missing schema not defaulted: %s", specs[0].InputSchema)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatal("unexpected hit for unknown tool")
	}
}

func TestJob_Memo(t *testing.T) {
	job := NewJob("u-1")
	if job.ID == "" {
		t.Fatal("job id not assigned")
	}
	if _, ok := job.Result("requirements"); ok {
		t.Fatal("unexpected result before set")
	}
	job.SetResult("requirements", "large payload")
	v, ok := job.Result("requirements")
	if !ok || v != "large payload" {
		t.Fatalf("memo roundtrip failed: %v %v", v, ok)
	}
	// Overwrite is allowed; pruning depends on it.
	job.SetResult("requirements", "pruned payload")
	v, _ = job.Result("requirements")
	if v != "pruned payload" {
		t.Fatalf("overwrite failed: %v", v)
	}
}
