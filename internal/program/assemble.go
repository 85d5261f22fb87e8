package program

import (
	"fmt"
	"sort"
)

// assemble concatenates all sub-task outputs, sorts deterministically, and
// validates against the frequency-derived target. Invalid workouts are
// dropped with a warning; coverage deviations inside the tolerance band are
// warnings too, never errors.
func assemble(phases []Phase, results []SubtaskResult, req Requirements, tolerance float64) *Aggregate {
	agg := &Aggregate{
		Phases:         phases,
		TargetWorkouts: req.TargetWorkouts(),
	}
	totalDays := req.TotalDays()

	seen := map[string]bool{}
	for _, res := range results {
		for _, w := range res.Workouts {
			if w.ID == "" || w.Name == "" {
				agg.Warnings = append(agg.Warnings, fmt.Sprintf("phase %s: dropped workout with missing required fields (id=%q name=%q)", res.PhaseID, w.ID, w.Name))
				continue
			}
			if w.Day < 1 || w.Day > totalDays {
				agg.Warnings = append(agg.Warnings, fmt.Sprintf("phase %s: dropped workout %s with day %d outside 1-%d", res.PhaseID, w.ID, w.Day, totalDays))
				continue
			}
			key := fmt.Sprintf("%d/%s", w.Day, w.ID)
			if seen[key] {
				agg.Warnings = append(agg.Warnings, fmt.Sprintf("dropped duplicate workout %s on day %d", w.ID, w.Day))
				continue
			}
			seen[key] = true
			agg.Workouts = append(agg.Workouts, w)
		}
	}

	// Sort by day then workout id for deterministic reassembly.
	sort.Slice(agg.Workouts, func(i, j int) bool {
		if agg.Workouts[i].Day != agg.Workouts[j].Day {
			return agg.Workouts[i].Day < agg.Workouts[j].Day
		}
		return agg.Workouts[i].ID < agg.Workouts[j].ID
	})

	agg.CoveredDays = countDays(agg.Workouts)
	target := float64(agg.TargetWorkouts)
	if float64(agg.CoveredDays) < target*(1-tolerance) {
		agg.Warnings = append(agg.Warnings, fmt.Sprintf("coverage %d days is below target %d", agg.CoveredDays, agg.TargetWorkouts))
	}
	if float64(agg.CoveredDays) > target*(1+tolerance) {
		agg.Warnings = append(agg.Warnings, fmt.Sprintf("coverage %d days exceeds target %d", agg.CoveredDays, agg.TargetWorkouts))
	}
	return agg
}

func countDays(workouts []Workout) int {
	days := map[int]bool{}
	for _, w := range workouts {
		days[w.Day] = true
	}
	return len(days)
}
