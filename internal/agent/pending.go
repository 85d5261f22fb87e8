package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// pendingCall accumulates raw input fragments for one tool call between
// tool_call_start and tool_call_stop. Fragments are not parseable alone;
// finalize joins and parses them once the call is complete.
type pendingCall struct {
	id        string
	name      string
	fragments []string
	stopped   bool
}

// finalize reassembles the call input. An empty input is a valid call with
// no arguments. The raw text is returned alongside parse errors so they can
// be reported with context.
func (p *pendingCall) finalize() (json.RawMessage, error) {
	raw := strings.TrimSpace(strings.Join(p.fragments, ""))
	if raw == "" {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("tool call %s (%s): input is not valid JSON: %q", p.id, p.name, truncateForLog(raw))
	}
	return json.RawMessage(raw), nil
}

// pendingSet keys accumulators by call id, preserving start order so results
// can be produced in the order the model made the calls.
type pendingSet struct {
	byID  map[string]*pendingCall
	order []string
}

func newPendingSet() *pendingSet {
	return &pendingSet{byID: make(map[string]*pendingCall)}
}

func (s *pendingSet) start(id, name string) {
	if _, exists := s.byID[id]; exists {
		return
	}
	s.byID[id] = &pendingCall{id: id, name: name}
	s.order = append(s.order, id)
}

func (s *pendingSet) appendFragment(id, fragment string) {
	if p, ok := s.byID[id]; ok {
		p.fragments = append(p.fragments, fragment)
	}
}

func (s *pendingSet) stop(id string) {
	if p, ok := s.byID[id]; ok {
		p.stopped = true
	}
}

func (s *pendingSet) len() int { return len(s.order) }

// calls returns pending calls in start order.
func (s *pendingSet) calls() []*pendingCall {
	out := make([]*pendingCall, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

func truncateForLog(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
