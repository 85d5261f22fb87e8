package program

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stride/internal/llmclient"
	"stride/internal/tool"
)

// DefaultTolerance is the accepted deviation band around the coverage
// target. Coverage above target*(1+tolerance) triggers pruning; coverage
// below target*(1-tolerance) is logged but accepted.
const DefaultTolerance = 0.20

const structurePrompt = `Partition a training program into 2-5 contiguous
phases. Phases must cover day 1 through the final day with no gaps or
overlaps; each phase starts the day after the previous one ends. Respond as
JSON: {"phases":[{"id":"...","name":"...","start_day":N,"end_day":N,"focus":"..."}]}.`

const phasePrompt = `Generate the workouts for one phase of a training
program. Each workout needs a unique id, the phase id, a calendar day inside
the phase range, a name, and exercises. Schedule the configured number of
training days per week; mark accessory sessions as optional. Respond as
JSON: {"workouts":[...]}.`

// Orchestrator fans a program generation job out into per-phase sub-jobs.
type Orchestrator struct {
	Client    llmclient.Client
	Log       *zap.Logger
	Tolerance float64
}

// Generate runs the full pipeline: structure, concurrent fan-out, assembly,
// and pruning. Sub-task results land in the job memo so later tools can
// persist them without re-transmission. Structural defects inside the
// tolerance band are warnings on the aggregate; Generate fails only when a
// collaborator call fails outright or produces nothing usable.
func (o *Orchestrator) Generate(ctx context.Context, job *tool.Job, req Requirements) (*Aggregate, error) {
	if o.Client == nil {
		return nil, fmt.Errorf("program: nil client")
	}
	if job == nil {
		return nil, fmt.Errorf("program: nil job")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	log := o.Log
	if log == nil {
		log = zap.NewNop()
	}

	phases, warnings, err := o.planPhases(ctx, req)
	if err != nil {
		return nil, err
	}

	results, err := o.fanOut(ctx, req, phases)
	if err != nil {
		return nil, err
	}
	for _, r := range results {
		job.SetResult(PhaseKey(r.PhaseID), r)
	}

	agg := assemble(phases, results, req, o.tolerance())
	agg.Warnings = append(warnings, agg.Warnings...)
	for _, w := range agg.Warnings {
		log.Warn("program assembly", zap.String("warning", w))
	}

	if float64(agg.CoveredDays) > float64(agg.TargetWorkouts)*(1+o.tolerance()) {
		if err := o.prune(ctx, job, agg, req); err != nil {
			// Fail-open: an imperfect program beats no program.
			log.Warn("pruning failed, keeping excess workouts", zap.Error(err))
			agg.Warnings = append(agg.Warnings, fmt.Sprintf("pruning failed: %v", err))
		}
	}

	job.SetResult(AggregateKey, agg)
	return agg, nil
}

func (o *Orchestrator) tolerance() float64 {
	if o.Tolerance > 0 {
		return o.Tolerance
	}
	return DefaultTolerance
}

// planPhases is the structure step: one model call partitions the duration.
// Contiguity violations are warnings (fail-open); an empty partition is an
// error because nothing downstream can run.
func (o *Orchestrator) planPhases(ctx context.Context, req Requirements) ([]Phase, []string, error) {
	raw, err := o.Client.GenerateJSON(ctx, structurePrompt, req)
	if err != nil {
		return nil, nil, fmt.Errorf("program: structure step failed: %w", err)
	}
	var out struct {
		Phases []Phase `json:"phases"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, nil, fmt.Errorf("program: structure step returned invalid JSON: %w", err)
	}
	if len(out.Phases) == 0 {
		return nil, nil, fmt.Errorf("program: structure step returned no phases")
	}

	phases := out.Phases
	sort.Slice(phases, func(i, j int) bool { return phases[i].StartDay < phases[j].StartDay })
	for i := range phases {
		if phases[i].ID == "" {
			phases[i].ID = fmt.Sprintf("phase-%d", i+1)
		}
	}
	return phases, CheckContiguity(phases, req.TotalDays()), nil
}

// CheckContiguity reports partition violations: the phases must cover day 1
// through totalDays with neither gaps nor overlaps.
func CheckContiguity(phases []Phase, totalDays int) []string {
	var warnings []string
	if len(phases) == 0 {
		return warnings
	}
	if phases[0].StartDay != 1 {
		warnings = append(warnings, fmt.Sprintf("first phase starts at day %d, want 1", phases[0].StartDay))
	}
	if phases[len(phases)-1].EndDay != totalDays {
		warnings = append(warnings, fmt.Sprintf("last phase ends at day %d, want %d", phases[len(phases)-1].EndDay, totalDays))
	}
	for i := range phases {
		if phases[i].EndDay < phases[i].StartDay {
			warnings = append(warnings, fmt.Sprintf("phase %s has inverted range %d-%d", phases[i].ID, phases[i].StartDay, phases[i].EndDay))
		}
		if i == 0 {
			continue
		}
		prev := phases[i-1]
		if prev.EndDay+1 != phases[i].StartDay {
			warnings = append(warnings, fmt.Sprintf("phase %s starts at day %d, expected %d after phase %s", phases[i].ID, phases[i].StartDay, prev.EndDay+1, prev.ID))
		}
	}
	return warnings
}

// fanOut runs one independent generation call per phase, concurrently.
// Sub-jobs share no mutable state; the join waits for all of them, and one
// failure fails the step (no per-phase retry at this layer).
func (o *Orchestrator) fanOut(ctx context.Context, req Requirements, phases []Phase) ([]SubtaskResult, error) {
	results := make([]SubtaskResult, len(phases))
	g, gctx := errgroup.WithContext(ctx)
	for i, ph := range phases {
		g.Go(func() error {
			res, err := o.generatePhase(gctx, req, ph)
			if err != nil {
				return fmt.Errorf("phase %s: %w", ph.ID, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("program: fan-out failed: %w", err)
	}
	return results, nil
}

func (o *Orchestrator) generatePhase(ctx context.Context, req Requirements, ph Phase) (SubtaskResult, error) {
	input := map[string]any{
		"requirements": req,
		"phase":        ph,
	}
	raw, err := o.Client.GenerateJSON(ctx, phasePrompt, input)
	if err != nil {
		return SubtaskResult{}, err
	}
	var out struct {
		Workouts []Workout `json:"workouts"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return SubtaskResult{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if len(out.Workouts) == 0 {
		return SubtaskResult{}, fmt.Errorf("no workouts generated")
	}
	for i := range out.Workouts {
		out.Workouts[i].PhaseID = ph.ID
	}
	return SubtaskResult{
		PhaseID:  ph.ID,
		Workouts: out.Workouts,
		Trace:    []string{fmt.Sprintf("generated %d workouts for days %d-%d", len(out.Workouts), ph.StartDay, ph.EndDay)},
	}, nil
}
