package program

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"stride/internal/tool"
)

func TestMain(m *testing.M) {
	// opencensus (pulled in by the genai client) starts a worker goroutine at
	// package init that never exits.
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

// routingClient answers the three orchestrator call sites by prompt content.
type routingClient struct {
	mu sync.Mutex

	structure    json.RawMessage
	structureErr error

	phaseErr   map[string]error
	phaseCalls []string

	pruneResp  json.RawMessage
	pruneErr   error
	pruneCalls int
}

func (f *routingClient) Name() string                { return "routing" }
func (f *routingClient) Close() error                { return nil }
func (f *routingClient) CountTokens(text string) int { return len(text) / 4 }
func (f *routingClient) TokenCapacity() int          { return 100000 }

func (f *routingClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.Contains(prompt, "Partition"):
		if f.structureErr != nil {
			return nil, f.structureErr
		}
		return f.structure, nil
	case strings.Contains(prompt, "one phase"):
		var in struct {
			Phase Phase `json:"phase"`
		}
		b, _ := json.Marshal(input)
		if err := json.Unmarshal(b, &in); err != nil {
			return nil, err
		}
		f.phaseCalls = append(f.phaseCalls, in.Phase.ID)
		if err := f.phaseErr[in.Phase.ID]; err != nil {
			return nil, err
		}
		return phaseWorkoutsJSON(in.Phase), nil
	case strings.Contains(prompt, "Select whole days"):
		f.pruneCalls++
		if f.pruneErr != nil {
			return nil, f.pruneErr
		}
		return f.pruneResp, nil
	}
	return nil, fmt.Errorf("unexpected prompt: %s", prompt)
}

// phaseWorkoutsJSON generates one workout per day across the phase range.
func phaseWorkoutsJSON(ph Phase) json.RawMessage {
	var workouts []Workout
	for d := ph.StartDay; d <= ph.EndDay; d++ {
		workouts = append(workouts, Workout{
			ID:              fmt.Sprintf("w%03d", d),
			Day:             d,
			Name:            fmt.Sprintf("Session %d", d),
			Optional:        d%7 == 0,
			DurationMinutes: 45,
		})
	}
	b, _ := json.Marshal(map[string]any{"workouts": workouts})
	return b
}

func phasesJSON(ranges ...[2]int) json.RawMessage {
	var phases []Phase
	for i, r := range ranges {
		phases = append(phases, Phase{
			ID:       fmt.Sprintf("phase-%d", i+1),
			Name:     fmt.Sprintf("Block %d", i+1),
			StartDay: r[0],
			EndDay:   r[1],
		})
	}
	b, _ := json.Marshal(map[string]any{"phases": phases})
	return b
}

func fullWeekReq() Requirements {
	return Requirements{UserID: "u-1", DurationWeeks: 3, DaysPerWeek: 7, Goal: "strength"}
}

func TestGenerate_CoverageIdempotence(t *testing.T) {
	client := &routingClient{structure: phasesJSON([2]int{1, 7}, [2]int{8, 14}, [2]int{15, 21})}
	o := &Orchestrator{Client: client}
	job := tool.NewJob("u-1")

	agg, err := o.Generate(context.Background(), job, fullWeekReq())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if agg.CoveredDays != 21 {
		t.Fatalf("covered days = %d, want 21", agg.CoveredDays)
	}
	if len(agg.Workouts) != 21 {
		t.Fatalf("workouts = %d, want 21", len(agg.Workouts))
	}
	seen := map[string]bool{}
	for i, w := range agg.Workouts {
		if w.Day != i+1 {
			t.Fatalf("workout %d on day %d, want sorted day %d", i, w.Day, i+1)
		}
		key := fmt.Sprintf("%d/%s", w.Day, w.ID)
		if seen[key] {
			t.Fatalf("duplicate (day, id) pair %s", key)
		}
		seen[key] = true
	}
	if client.pruneCalls != 0 {
		t.Fatalf("pruning ran for on-target coverage")
	}
	if len(agg.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", agg.Warnings)
	}
	if _, ok := job.Result(AggregateKey); !ok {
		t.Fatal("aggregate not stored in memo")
	}
	for _, id := range []string{"phase-1", "phase-2", "phase-3"} {
		if _, ok := job.Result(PhaseKey(id)); !ok {
			t.Fatalf("phase %s missing from memo", id)
		}
	}
}

func TestGenerate_PruningMath(t *testing.T) {
	// 3 weeks x 3 days/week = target 9 days, but generation covers all 21.
	req := Requirements{UserID: "u-1", DurationWeeks: 3, DaysPerWeek: 3, Goal: "strength"}
	removeDays := []int{2, 3, 5, 6, 9, 10, 12, 13, 16, 17, 19, 20}
	pruneResp, _ := json.Marshal(map[string]any{"remove_days": removeDays})
	client := &routingClient{
		structure: phasesJSON([2]int{1, 7}, [2]int{8, 14}, [2]int{15, 21}),
		pruneResp: pruneResp,
	}
	o := &Orchestrator{Client: client}
	job := tool.NewJob("u-1")

	agg, err := o.Generate(context.Background(), job, req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if client.pruneCalls != 1 {
		t.Fatalf("prune calls = %d, want 1", client.pruneCalls)
	}
	original := 21
	removed := original - len(agg.Workouts)
	if removed+len(agg.Workouts) != original {
		t.Fatalf("pruning math broken: removed %d + kept %d != %d", removed, len(agg.Workouts), original)
	}
	if len(agg.PrunedDays) != len(removeDays) {
		t.Fatalf("pruned days = %v", agg.PrunedDays)
	}
	for _, w := range agg.Workouts {
		for _, d := range removeDays {
			if w.Day == d {
				t.Fatalf("workout %s survived on pruned day %d", w.ID, d)
			}
		}
	}
	// Memo now holds the pruned version, not the original.
	v, ok := job.Result(PhaseKey("phase-1"))
	if !ok {
		t.Fatal("phase-1 missing from memo")
	}
	sub := v.(SubtaskResult)
	if len(sub.Workouts) != 3 { // days 1,4,7 survive in phase 1
		t.Fatalf("memo not overwritten with pruned workouts: %d", len(sub.Workouts))
	}
}

func TestGenerate_PruneZeroSelectionIsSoftFailure(t *testing.T) {
	req := Requirements{UserID: "u-1", DurationWeeks: 3, DaysPerWeek: 3}
	pruneResp, _ := json.Marshal(map[string]any{"remove_days": []int{}})
	client := &routingClient{
		structure: phasesJSON([2]int{1, 7}, [2]int{8, 14}, [2]int{15, 21}),
		pruneResp: pruneResp,
	}
	o := &Orchestrator{Client: client}

	agg, err := o.Generate(context.Background(), tool.NewJob("u-1"), req)
	if err != nil {
		t.Fatalf("zero selection must not fail the job: %v", err)
	}
	if len(agg.Workouts) != 21 {
		t.Fatalf("workouts = %d, want all 21 kept", len(agg.Workouts))
	}
	found := false
	for _, w := range agg.Warnings {
		if strings.Contains(w, "zero days") {
			found = true
		}
	}
	if !found {
		t.Fatalf("soft failure not recorded in warnings: %v", agg.Warnings)
	}
}

func TestGenerate_PruneCallFailureIsFailOpen(t *testing.T) {
	req := Requirements{UserID: "u-1", DurationWeeks: 3, DaysPerWeek: 3}
	client := &routingClient{
		structure: phasesJSON([2]int{1, 21}),
		pruneErr:  errors.New("model unavailable"),
	}
	o := &Orchestrator{Client: client}
	agg, err := o.Generate(context.Background(), tool.NewJob("u-1"), req)
	if err != nil {
		t.Fatalf("prune failure must be fail-open: %v", err)
	}
	if len(agg.Workouts) != 21 {
		t.Fatalf("workouts = %d", len(agg.Workouts))
	}
}

func TestGenerate_PhaseGapIsFailOpen(t *testing.T) {
	// Day 10 end, day 12 next start: a gap. Warn, do not fail.
	client := &routingClient{structure: phasesJSON([2]int{1, 10}, [2]int{12, 21})}
	o := &Orchestrator{Client: client}

	agg, err := o.Generate(context.Background(), tool.NewJob("u-1"), fullWeekReq())
	if err != nil {
		t.Fatalf("gap must not fail assembly: %v", err)
	}
	gapWarned := false
	for _, w := range agg.Warnings {
		if strings.Contains(w, "expected 11") {
			gapWarned = true
		}
	}
	if !gapWarned {
		t.Fatalf("gap not warned: %v", agg.Warnings)
	}
}

func TestGenerate_EmptyStructureFails(t *testing.T) {
	client := &routingClient{structure: json.RawMessage(`{"phases":[]}`)}
	o := &Orchestrator{Client: client}
	if _, err := o.Generate(context.Background(), tool.NewJob("u-1"), fullWeekReq()); err == nil {
		t.Fatal("expected error for empty structure")
	}
}

func TestGenerate_OnePhaseFailureFailsFanOut(t *testing.T) {
	client := &routingClient{
		structure: phasesJSON([2]int{1, 7}, [2]int{8, 14}, [2]int{15, 21}),
		phaseErr:  map[string]error{"phase-2": errors.New("quota exceeded")},
	}
	o := &Orchestrator{Client: client}
	_, err := o.Generate(context.Background(), tool.NewJob("u-1"), fullWeekReq())
	if err == nil || !strings.Contains(err.Error(), "phase-2") {
		t.Fatalf("expected phase-2 failure, got %v", err)
	}
}

func TestGenerate_InvalidRequirements(t *testing.T) {
	o := &Orchestrator{Client: &routingClient{}}
	if _, err := o.Generate(context.Background(), tool.NewJob("u"), Requirements{DurationWeeks: 0, DaysPerWeek: 3}); err == nil {
		t.Fatal("expected error for zero duration")
	}
	if _, err := o.Generate(context.Background(), tool.NewJob("u"), Requirements{DurationWeeks: 4, DaysPerWeek: 9}); err == nil {
		t.Fatal("expected error for impossible frequency")
	}
}

func TestCheckContiguity(t *testing.T) {
	ok := []Phase{
		{ID: "a", StartDay: 1, EndDay: 7},
		{ID: "b", StartDay: 8, EndDay: 14},
	}
	if w := CheckContiguity(ok, 14); len(w) != 0 {
		t.Fatalf("valid partition warned: %v", w)
	}
	bad := []Phase{
		{ID: "a", StartDay: 2, EndDay: 10},
		{ID: "b", StartDay: 12, EndDay: 20},
	}
	w := CheckContiguity(bad, 21)
	if len(w) != 3 { // wrong start, wrong end, gap
		t.Fatalf("expected 3 warnings, got %v", w)
	}
}
