// Package program generates multi-week training programs by fanning one
// large generation job out into independent per-phase model calls and
// reassembling the results deterministically.
package program

import "fmt"

// Requirements are the external constraints a program must satisfy. They are
// loaded by an upstream tool and passed through the per-job memo.
type Requirements struct {
	UserID        string   `json:"user_id"`
	DurationWeeks int      `json:"duration_weeks"`
	DaysPerWeek   int      `json:"days_per_week"`
	Goal          string   `json:"goal"`
	Experience    string   `json:"experience"`
	Equipment     []string `json:"equipment,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

func (r Requirements) Validate() error {
	if r.DurationWeeks < 1 {
		return fmt.Errorf("program: duration must be at least 1 week, got %d", r.DurationWeeks)
	}
	if r.DaysPerWeek < 1 || r.DaysPerWeek > 7 {
		return fmt.Errorf("program: days per week must be 1-7, got %d", r.DaysPerWeek)
	}
	return nil
}

// TotalDays is the calendar length of the program.
func (r Requirements) TotalDays() int { return r.DurationWeeks * 7 }

// TargetWorkouts is the training-day count derived from the frequency
// constraint: one workout day per scheduled session.
func (r Requirements) TargetWorkouts() int { return r.DurationWeeks * r.DaysPerWeek }

// Phase is one contiguous sub-range of the program. Phases partition the
// full duration: the first starts at day 1, the last ends at the final day,
// and each phase starts the day after its predecessor ends.
type Phase struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	StartDay int    `json:"start_day"`
	EndDay   int    `json:"end_day"`
	Focus    string `json:"focus,omitempty"`
}

// Exercise is one movement inside a workout.
type Exercise struct {
	Name        string `json:"name"`
	Sets        int    `json:"sets"`
	Reps        string `json:"reps"`
	RestSeconds int    `json:"rest_seconds,omitempty"`
}

// Workout is the generated unit: one session on one calendar day.
type Workout struct {
	ID              string     `json:"id"`
	PhaseID         string     `json:"phase_id"`
	Day             int        `json:"day"`
	Name            string     `json:"name"`
	Focus           string     `json:"focus,omitempty"`
	Optional        bool       `json:"optional,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	Exercises       []Exercise `json:"exercises,omitempty"`
}

// SubtaskResult is the output of one independent phase generation call.
// Stored in the per-job memo under PhaseKey(phaseID); the pruning pass
// overwrites it so persistence reads the pruned version.
type SubtaskResult struct {
	PhaseID  string    `json:"phase_id"`
	Workouts []Workout `json:"workouts"`
	Trace    []string  `json:"trace,omitempty"`
}

// Aggregate is the combined, validated, possibly pruned program.
type Aggregate struct {
	Phases         []Phase   `json:"phases"`
	Workouts       []Workout `json:"workouts"`
	TargetWorkouts int       `json:"target_workouts"`
	CoveredDays    int       `json:"covered_days"`
	PrunedDays     []int     `json:"pruned_days,omitempty"`
	Warnings       []string  `json:"warnings,omitempty"`
}

// Memo keys used between tools of one job.
const AggregateKey = "program:aggregate"

func PhaseKey(phaseID string) string { return "program:phase:" + phaseID }
