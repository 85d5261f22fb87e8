package coach

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"stride/internal/program"
)

// NormalizedProgram is the canonical persisted form of a generated program:
// stable ordering, trimmed fields, and a flat workout list the rest of the
// product reads without knowing how generation was partitioned.
type NormalizedProgram struct {
	Version    int               `json:"version"`
	UserID     string            `json:"user_id"`
	Phases     []program.Phase   `json:"phases"`
	Workouts   []program.Workout `json:"workouts"`
	TotalDays  int               `json:"total_days"`
	Warnings   []string          `json:"warnings,omitempty"`
	FinishedAt time.Time         `json:"finished_at"`
}

const normalizedVersion = 1

// Normalize produces the canonical form of an aggregate. It never fails:
// fields that cannot be repaired were already dropped during assembly.
func Normalize(agg *program.Aggregate) *NormalizedProgram {
	norm := &NormalizedProgram{
		Version:    normalizedVersion,
		Phases:     append([]program.Phase(nil), agg.Phases...),
		Warnings:   append([]string(nil), agg.Warnings...),
		FinishedAt: time.Now().UTC(),
	}
	sort.Slice(norm.Phases, func(i, j int) bool { return norm.Phases[i].StartDay < norm.Phases[j].StartDay })

	lastDay := 0
	for _, w := range agg.Workouts {
		w.Name = strings.TrimSpace(w.Name)
		w.Focus = strings.TrimSpace(w.Focus)
		exercises := w.Exercises[:0:0]
		for _, ex := range w.Exercises {
			ex.Name = strings.TrimSpace(ex.Name)
			if ex.Name == "" {
				continue
			}
			exercises = append(exercises, ex)
		}
		w.Exercises = exercises
		norm.Workouts = append(norm.Workouts, w)
		if w.Day > lastDay {
			lastDay = w.Day
		}
	}
	sort.Slice(norm.Workouts, func(i, j int) bool {
		if norm.Workouts[i].Day != norm.Workouts[j].Day {
			return norm.Workouts[i].Day < norm.Workouts[j].Day
		}
		return norm.Workouts[i].ID < norm.Workouts[j].ID
	})
	norm.TotalDays = lastDay
	return norm
}

// Summary renders a short searchable description for the history index.
func (n *NormalizedProgram) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d-day program, %d workouts", n.TotalDays, len(n.Workouts))
	for _, ph := range n.Phases {
		fmt.Fprintf(&b, "; %s (days %d-%d", ph.Name, ph.StartDay, ph.EndDay)
		if ph.Focus != "" {
			fmt.Fprintf(&b, ", %s", ph.Focus)
		}
		b.WriteString(")")
	}
	return b.String()
}
