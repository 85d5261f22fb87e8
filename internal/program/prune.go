package program

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"stride/internal/tool"
)

const prunePrompt = `A generated training program has more training days than
the target. Select whole days to remove so the kept day count reaches the
target. Removal priority: days holding only optional or accessory work first,
then days in later phases before earlier ones, then days with the longest
total session duration. Respond as JSON: {"remove_days":[<day numbers>]}.`

// daySummary is what the model sees per candidate day.
type daySummary struct {
	Day             int    `json:"day"`
	PhaseID         string `json:"phase_id"`
	Workouts        int    `json:"workouts"`
	AllOptional     bool   `json:"all_optional"`
	DurationMinutes int    `json:"duration_minutes"`
}

// prune asks the model which whole days to drop, verifies the arithmetic in
// code, and overwrites the per-phase memo entries with the pruned versions.
// Days are removed atomically: either every workout on a day goes, or none.
// The model selecting zero days is a soft failure: the job completes with
// excess workouts rather than failing.
func (o *Orchestrator) prune(ctx context.Context, job *tool.Job, agg *Aggregate, req Requirements) error {
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}

	input := map[string]any{
		"target_days":  agg.TargetWorkouts,
		"covered_days": agg.CoveredDays,
		"days":         summarizeDays(agg),
	}
	raw, err := o.Client.GenerateJSON(ctx, prunePrompt, input)
	if err != nil {
		return fmt.Errorf("prune call failed: %w", err)
	}
	var out struct {
		RemoveDays []int `json:"remove_days"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("prune call returned invalid JSON: %w", err)
	}

	valid := map[int]bool{}
	for _, w := range agg.Workouts {
		valid[w.Day] = true
	}
	removeSet := map[int]bool{}
	for _, d := range out.RemoveDays {
		if valid[d] {
			removeSet[d] = true
		}
	}
	if len(removeSet) == 0 {
		// Soft failure by policy: deliver the imperfect program.
		log.Warn("prune selected zero days, keeping excess workouts",
			zap.Int("covered_days", agg.CoveredDays),
			zap.Int("target", agg.TargetWorkouts))
		agg.Warnings = append(agg.Warnings, "pruning selected zero days; program keeps excess workouts")
		return nil
	}

	original := len(agg.Workouts)
	var kept, removed []Workout
	for _, w := range agg.Workouts {
		if removeSet[w.Day] {
			removed = append(removed, w)
		} else {
			kept = append(kept, w)
		}
	}
	// The arithmetic is enforced here, not trusted from the model.
	if len(removed)+len(kept) != original {
		return fmt.Errorf("prune accounting broken: removed %d + kept %d != original %d", len(removed), len(kept), original)
	}

	agg.Workouts = kept
	agg.CoveredDays = countDays(kept)
	agg.PrunedDays = sortedDays(removeSet)
	if deviation := agg.CoveredDays - agg.TargetWorkouts; deviation != 0 {
		log.Info("prune finished off target",
			zap.Int("covered_days", agg.CoveredDays),
			zap.Int("target", agg.TargetWorkouts),
			zap.Int("deviation", deviation))
	}

	// Propagate into the per-phase memo so persistence reads the pruned
	// version. Single-writer overwrite; callers never track two copies.
	byPhase := map[string][]Workout{}
	for _, w := range kept {
		byPhase[w.PhaseID] = append(byPhase[w.PhaseID], w)
	}
	for _, ph := range agg.Phases {
		prev, ok := job.Result(PhaseKey(ph.ID))
		if !ok {
			continue
		}
		sub, ok := prev.(SubtaskResult)
		if !ok {
			continue
		}
		sub.Workouts = byPhase[ph.ID]
		sub.Trace = append(sub.Trace, fmt.Sprintf("pruned to %d workouts", len(sub.Workouts)))
		job.SetResult(PhaseKey(ph.ID), sub)
	}
	return nil
}

func summarizeDays(agg *Aggregate) []daySummary {
	byDay := map[int]*daySummary{}
	for _, w := range agg.Workouts {
		s, ok := byDay[w.Day]
		if !ok {
			s = &daySummary{Day: w.Day, PhaseID: w.PhaseID, AllOptional: true}
			byDay[w.Day] = s
		}
		s.Workouts++
		s.DurationMinutes += w.DurationMinutes
		if !w.Optional {
			s.AllOptional = false
		}
	}
	out := make([]daySummary, 0, len(byDay))
	for _, s := range byDay {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

func sortedDays(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for d := range set {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}
