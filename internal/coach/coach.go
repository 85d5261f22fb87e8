// Package coach wires the coaching domain tools: loading user requirements,
// generating training programs, validating, normalizing, and persisting
// them, and searching past coaching history.
package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"stride/internal/agent"
	"stride/internal/program"
	"stride/internal/store"
	"stride/internal/tool"
	"stride/internal/transform"
	"stride/internal/vector"
)

// maxHistoryContent bounds what one saved program contributes to the history
// index. Longer summaries are compressed, or truncated when no compressor is
// wired.
const maxHistoryContent = 4096

// Memo keys written by the coaching tools.
const (
	RequirementsKey = "coach:requirements"
	NormalizedKey   = "coach:normalized"
)

// KV is the slice of the key-value store the tools need.
type KV interface {
	Load(ctx context.Context, pk, sk string) (store.Item, error)
	Save(ctx context.Context, pk, sk string, body json.RawMessage) error
	Query(ctx context.Context, pk, skPrefix string) ([]store.Item, error)
}

// Blob persists large job artifacts.
type Blob interface {
	Put(ctx context.Context, jobID, path string, content []byte) error
}

// History is the slice of the vector index the tools need.
type History interface {
	Store(ctx context.Context, userID, content string, metadata map[string]any) error
	Search(ctx context.Context, userID, query string, limit int) ([]vector.Entry, error)
}

// Generator runs the fan-out program generation pipeline.
type Generator interface {
	Generate(ctx context.Context, job *tool.Job, req program.Requirements) (*program.Aggregate, error)
}

// Deps holds the collaborators the tool set closes over. Blob and History
// are optional; the corresponding steps are skipped when nil.
type Deps struct {
	KV        KV
	Blob      Blob
	History   History
	Generator Generator
	Shrink    *transform.Compressor
	Log       *zap.Logger

	// IndexTimeout bounds the fire-and-forget history write after a save.
	IndexTimeout time.Duration
}

func (d Deps) logger() *zap.Logger {
	if d.Log != nil {
		return d.Log
	}
	return zap.NewNop()
}

func (d Deps) indexTimeout() time.Duration {
	if d.IndexTimeout > 0 {
		return d.IndexTimeout
	}
	return 10 * time.Second
}

// NewRegistry builds the full coaching tool set.
func NewRegistry(d Deps) (*tool.Registry, error) {
	if d.KV == nil {
		return nil, fmt.Errorf("coach: nil kv store")
	}
	if d.Generator == nil {
		return nil, fmt.Errorf("coach: nil generator")
	}
	return tool.NewRegistry(
		loadRequirementsTool(d),
		generateProgramTool(d),
		validateProgramTool(d),
		normalizeProgramTool(d),
		saveProgramTool(d),
		searchHistoryTool(d),
	)
}

func userPK(userID string) string { return "user#" + userID }

func loadRequirementsTool(d Deps) tool.Tool {
	return tool.Tool{
		Name:        "load_requirements",
		Description: "Load the user's stored training requirements (goal, duration, weekly frequency, equipment).",
		Execute: func(ctx context.Context, _ json.RawMessage, job *tool.Job) (any, error) {
			it, err := d.KV.Load(ctx, userPK(job.UserID), "requirements")
			if err != nil {
				return nil, fmt.Errorf("load requirements: %w", err)
			}
			var req program.Requirements
			if err := json.Unmarshal(it.Body, &req); err != nil {
				return nil, fmt.Errorf("stored requirements are malformed: %w", err)
			}
			req.UserID = job.UserID
			if err := req.Validate(); err != nil {
				return nil, err
			}
			job.SetResult(RequirementsKey, req)
			return req, nil
		},
	}
}

// generationSummary is what the model sees after generation. The full
// aggregate stays in the job memo; re-transmitting every workout through the
// conversation would waste the context window.
type generationSummary struct {
	Phases      int      `json:"phases"`
	Workouts    int      `json:"workouts"`
	CoveredDays int      `json:"covered_days"`
	TargetDays  int      `json:"target_days"`
	PrunedDays  []int    `json:"pruned_days,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

func generateProgramTool(d Deps) tool.Tool {
	return tool.Tool{
		Name:        "generate_program",
		Description: "Generate the training program from the loaded requirements. Run load_requirements first.",
		Execute: func(ctx context.Context, _ json.RawMessage, job *tool.Job) (any, error) {
			v, ok := job.Result(RequirementsKey)
			if !ok {
				return nil, fmt.Errorf("no requirements loaded; call load_requirements first")
			}
			req, ok := v.(program.Requirements)
			if !ok {
				return nil, fmt.Errorf("requirements memo holds unexpected type %T", v)
			}
			emitter := agent.EmitterFrom(ctx)
			emitter.EmitProgress("generating", fmt.Sprintf("building %d-week program", req.DurationWeeks))
			agg, err := d.Generator.Generate(ctx, job, req)
			if err != nil {
				return nil, err
			}
			emitter.EmitProgress("generated", fmt.Sprintf("%d workouts across %d phases", len(agg.Workouts), len(agg.Phases)))
			return generationSummary{
				Phases:      len(agg.Phases),
				Workouts:    len(agg.Workouts),
				CoveredDays: agg.CoveredDays,
				TargetDays:  agg.TargetWorkouts,
				PrunedDays:  agg.PrunedDays,
				Warnings:    agg.Warnings,
			}, nil
		},
	}
}

type validateInput struct {
	ShouldSave      bool     `json:"should_save"`
	BlockingReasons []string `json:"blocking_reasons,omitempty"`
	Confidence      float64  `json:"confidence,omitempty"`
}

func validateProgramTool(d Deps) tool.Tool {
	return tool.Tool{
		Name: "validate_program",
		Description: "Record the validation verdict for the generated program. " +
			"A negative verdict permanently blocks normalization and saving for this job.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "should_save": {"type": "boolean"},
    "blocking_reasons": {"type": "array", "items": {"type": "string"}},
    "confidence": {"type": "number"}
  },
  "required": ["should_save"]
}`),
		Execute: func(ctx context.Context, input json.RawMessage, job *tool.Job) (any, error) {
			v, ok := job.Result(program.AggregateKey)
			if !ok {
				return nil, fmt.Errorf("no generated program to validate; call generate_program first")
			}
			agg, ok := v.(*program.Aggregate)
			if !ok {
				return nil, fmt.Errorf("aggregate memo holds unexpected type %T", v)
			}
			var in validateInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("invalid verdict input: %w", err)
			}
			// Structural checks override the model's assessment: a program
			// that fails them is never saved, whatever the judge said.
			if structural := structuralBlockers(agg); len(structural) > 0 {
				in.ShouldSave = false
				in.BlockingReasons = append(structural, in.BlockingReasons...)
			}
			if !in.ShouldSave && len(in.BlockingReasons) == 0 {
				in.BlockingReasons = []string{"validation rejected the program without naming a reason"}
			}
			verdict := &tool.Verdict{
				ShouldSave:      in.ShouldSave,
				BlockingReasons: in.BlockingReasons,
				Confidence:      in.Confidence,
			}
			job.SetVerdict(verdict)
			effective := job.Verdict()
			d.logger().Info("verdict recorded",
				zap.String("job_id", job.ID),
				zap.Bool("should_save", effective.ShouldSave),
				zap.Strings("blocking_reasons", effective.BlockingReasons))
			return map[string]any{
				"recorded":    true,
				"should_save": effective.ShouldSave,
			}, nil
		},
	}
}

// structuralBlockers runs the deterministic part of validation: conditions
// no judge call can wave through.
func structuralBlockers(agg *program.Aggregate) []string {
	var reasons []string
	if len(agg.Workouts) == 0 {
		reasons = append(reasons, "program has no workouts")
	}
	if agg.TargetWorkouts > 0 && agg.CoveredDays*2 < agg.TargetWorkouts {
		reasons = append(reasons, fmt.Sprintf("coverage %d days is under half the %d-day target", agg.CoveredDays, agg.TargetWorkouts))
	}
	return reasons
}

func normalizeProgramTool(d Deps) tool.Tool {
	return tool.Tool{
		Name:        "normalize_program",
		Description: "Normalize the validated program into its canonical persisted form.",
		Execute: func(ctx context.Context, _ json.RawMessage, job *tool.Job) (any, error) {
			v, ok := job.Result(program.AggregateKey)
			if !ok {
				return nil, fmt.Errorf("no generated program to normalize; call generate_program first")
			}
			agg, ok := v.(*program.Aggregate)
			if !ok {
				return nil, fmt.Errorf("aggregate memo holds unexpected type %T", v)
			}
			norm := Normalize(agg)
			norm.UserID = job.UserID
			job.SetResult(NormalizedKey, norm)
			return map[string]any{
				"normalized": true,
				"workouts":   len(norm.Workouts),
			}, nil
		},
	}
}

type saveResult struct {
	ProgramID string `json:"program_id"`
	Saved     bool   `json:"saved"`
}

func saveProgramTool(d Deps) tool.Tool {
	return tool.Tool{
		Name:        "save_program",
		Description: "Persist the normalized program. Run normalize_program first.",
		Execute: func(ctx context.Context, _ json.RawMessage, job *tool.Job) (any, error) {
			v, ok := job.Result(NormalizedKey)
			if !ok {
				return nil, fmt.Errorf("no normalized program; call normalize_program first")
			}
			norm, ok := v.(*NormalizedProgram)
			if !ok {
				return nil, fmt.Errorf("normalized memo holds unexpected type %T", v)
			}

			body, err := json.Marshal(norm)
			if err != nil {
				return nil, fmt.Errorf("marshal program: %w", err)
			}
			programID := "program#" + job.ID
			if err := d.KV.Save(ctx, userPK(job.UserID), programID, body); err != nil {
				return nil, fmt.Errorf("save program: %w", err)
			}
			if d.Blob != nil {
				if err := d.Blob.Put(ctx, job.ID, "program.json", body); err != nil {
					// The record of truth is the KV row; a failed snapshot is
					// not worth failing the save.
					d.logger().Warn("program snapshot upload failed",
						zap.String("job_id", job.ID), zap.Error(err))
				}
			}
			d.indexHistory(job, norm)

			return saveResult{ProgramID: programID, Saved: true}, nil
		},
	}
}

// indexHistory writes the saved program into the history index without
// blocking the save. The write runs on its own deadline, detached from the
// request context, and failures are logged only.
func (d Deps) indexHistory(job *tool.Job, norm *NormalizedProgram) {
	if d.History == nil {
		return
	}
	userID := job.UserID
	jobID := job.ID
	summary := norm.Summary()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.indexTimeout())
		defer cancel()
		if len(summary) > maxHistoryContent {
			summary = d.shrink(ctx, summary)
		}
		err := d.History.Store(ctx, userID, summary, map[string]any{
			"job_id":   jobID,
			"kind":     "program",
			"workouts": len(norm.Workouts),
		})
		if err != nil {
			d.logger().Warn("history index write failed",
				zap.String("job_id", jobID), zap.Error(err))
		}
	}()
}

// shrink fits oversized history content to the index limit: semantic
// compression when a compressor is wired, plain truncation otherwise.
func (d Deps) shrink(ctx context.Context, content string) string {
	if d.Shrink != nil {
		out, err := d.Shrink.Compress(ctx, content, maxHistoryContent)
		if err == nil {
			return out
		}
		d.logger().Warn("history compression failed, truncating", zap.Error(err))
	}
	return transform.Truncate(content, maxHistoryContent)
}

type searchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func searchHistoryTool(d Deps) tool.Tool {
	return tool.Tool{
		Name:        "search_history",
		Description: "Search the user's past programs and coaching notes.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "query": {"type": "string"},
    "limit": {"type": "integer"}
  },
  "required": ["query"]
}`),
		Execute: func(ctx context.Context, input json.RawMessage, job *tool.Job) (any, error) {
			if d.History == nil {
				return []vector.Entry{}, nil
			}
			var in searchInput
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("invalid search input: %w", err)
			}
			if strings.TrimSpace(in.Query) == "" {
				return nil, fmt.Errorf("query is required")
			}
			entries, err := d.History.Search(ctx, job.UserID, in.Query, in.Limit)
			if err != nil {
				return nil, fmt.Errorf("search history: %w", err)
			}
			if entries == nil {
				entries = []vector.Entry{}
			}
			return entries, nil
		},
	}
}
