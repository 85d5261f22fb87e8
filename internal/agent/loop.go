// Package agent drives a language model through reason-act-observe
// iterations: call the model, reassemble tool calls from stream fragments,
// execute tools, append results, repeat until a terminal stop reason.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"stride/internal/llmclient"
	"stride/internal/tool"
)

// DefaultMaxIterations caps tool-calling rounds per run. Reaching the cap is
// reported in the result, not treated as an error.
const DefaultMaxIterations = 15

// Loop runs the reason-act-observe cycle for one job.
type Loop struct {
	Stream        llmclient.StreamClient
	Tools         *tool.Registry
	System        string
	MaxIterations int
	MaxTokens     int
	Log           *zap.Logger
}

// Result is the aggregate outcome of one loop run.
type Result struct {
	Text       string
	ToolsUsed  []string
	Iterations int
	StopReason llmclient.StopReason
}

// Run executes the loop until a terminal stop reason or the iteration cap.
// Text deltas are forwarded through the context emitter as they arrive; they
// are never buffered for ordering. Run returns an error only for caller bugs
// (nil collaborators, empty input) and for the two conditions that make the
// turn unrecoverable: a failed model call and a tool_use stop with zero
// collected calls.
func (l *Loop) Run(ctx context.Context, job *tool.Job, userInput string) (*Result, error) {
	if l.Stream == nil || l.Tools == nil {
		return nil, fmt.Errorf("agent: stream client and tool registry are required")
	}
	if job == nil {
		return nil, fmt.Errorf("agent: nil job")
	}
	if strings.TrimSpace(userInput) == "" {
		return nil, fmt.Errorf("agent: empty user input")
	}
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}
	maxIters := l.MaxIterations
	if maxIters <= 0 {
		maxIters = DefaultMaxIterations
	}

	emitter := EmitterFrom(ctx)
	conv := NewConversation(userInput)
	specs := l.Tools.Specs()

	var text strings.Builder
	res := &Result{}

	for iter := 1; iter <= maxIters; iter++ {
		res.Iterations = iter

		if err := conv.CheckToolProtocol(); err != nil {
			return nil, fmt.Errorf("agent: conversation protocol violated: %w", err)
		}

		events, errs := l.Stream.StreamTurn(ctx, llmclient.TurnRequest{
			System:    l.System,
			Messages:  conv.Messages(),
			Tools:     specs,
			MaxTokens: l.MaxTokens,
		})

		pending := newPendingSet()
		var complete *llmclient.StreamEvent
		for ev := range events {
			switch ev.Type {
			case llmclient.EventTextDelta:
				text.WriteString(ev.Text)
				emitter.EmitText(ev.Text)
			case llmclient.EventToolCallStart:
				pending.start(ev.CallID, ev.ToolName)
			case llmclient.EventToolCallDelta:
				pending.appendFragment(ev.CallID, ev.Fragment)
			case llmclient.EventToolCallStop:
				pending.stop(ev.CallID)
			case llmclient.EventTurnComplete:
				evCopy := ev
				complete = &evCopy
			}
		}
		if err := <-errs; err != nil {
			return nil, fmt.Errorf("agent: model call failed on iteration %d: %w", iter, err)
		}
		if complete == nil {
			return nil, fmt.Errorf("agent: stream closed without turn completion on iteration %d", iter)
		}

		conv.AppendAssistant(complete.Content)
		res.StopReason = complete.StopReason

		if complete.StopReason.Terminal() {
			log.Debug("loop finished",
				zap.String("job_id", job.ID),
				zap.String("stop_reason", string(complete.StopReason)),
				zap.Int("iterations", iter))
			res.Text = text.String()
			return res, nil
		}

		if pending.len() == 0 {
			// The model claims it wants tools but the stream carried no tool
			// call blocks. Calling the model again with this state would
			// corrupt the protocol; terminate the turn instead.
			log.Error("tool_use stop with zero collected calls, stream desynchronized",
				zap.String("job_id", job.ID),
				zap.Int("iteration", iter))
			return nil, fmt.Errorf("agent: model requested tool use but no calls were collected")
		}

		// Tools run sequentially so result order matches call order; the
		// conversation replays deterministically.
		results := make([]llmclient.ContentBlock, 0, pending.len())
		for _, call := range pending.calls() {
			results = append(results, l.executeCall(ctx, call, job, emitter, log))
			res.ToolsUsed = append(res.ToolsUsed, call.name)
		}
		conv.AppendToolResults(results)
	}

	log.Info("iteration cap reached",
		zap.String("job_id", job.ID),
		zap.Int("max_iterations", maxIters))
	res.Text = text.String()
	return res, nil
}

// executeCall always produces exactly one tool_result block for a started
// call: parse failures, unknown tools, execution errors, and panics all
// become error results so the loop can continue.
func (l *Loop) executeCall(ctx context.Context, call *pendingCall, job *tool.Job, emitter Emitter, log *zap.Logger) llmclient.ContentBlock {
	input, err := call.finalize()
	if err != nil {
		log.Warn("tool input parse failed", zap.String("tool", call.name), zap.Error(err))
		return errorResult(call.id, err.Error())
	}

	t, ok := l.Tools.Get(call.name)
	if !ok {
		log.Warn("unknown tool requested", zap.String("tool", call.name))
		return errorResult(call.id, fmt.Sprintf("unknown tool: %s", call.name))
	}

	if blocked := tool.Enforce(call.name, job.Verdict()); blocked != nil {
		payload, _ := json.Marshal(blocked)
		log.Info("tool blocked by validation gate",
			zap.String("tool", call.name),
			zap.Strings("reasons", blocked.Reasons))
		emitter.EmitProgress(call.name, "skipped: blocked by validation")
		return llmclient.ContentBlock{Type: "tool_result", ToolUseID: call.id, Content: string(payload)}
	}

	emitter.EmitProgress(call.name, "running "+call.name)
	out, err := safeExecute(ctx, t, input, job)
	if err != nil {
		log.Warn("tool execution failed", zap.String("tool", call.name), zap.Error(err))
		return errorResult(call.id, err.Error())
	}
	return llmclient.ContentBlock{Type: "tool_result", ToolUseID: call.id, Content: marshalResult(out)}
}

func safeExecute(ctx context.Context, t tool.Tool, input json.RawMessage, job *tool.Job) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool %s panicked: %v", t.Name, r)
		}
	}()
	return t.Execute(ctx, input, job)
}

func marshalResult(out any) string {
	switch v := out.(type) {
	case nil:
		return "{}"
	case string:
		return v
	case json.RawMessage:
		return string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf(`{"error":"unencodable tool result: %v"}`, err)
		}
		return string(b)
	}
}

func errorResult(callID, message string) llmclient.ContentBlock {
	return llmclient.ContentBlock{
		Type:      "tool_result",
		ToolUseID: callID,
		Content:   message,
		IsError:   true,
	}
}
