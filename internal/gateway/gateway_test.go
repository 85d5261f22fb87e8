package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stride/internal/agent"
	"stride/internal/llmclient"
	"stride/internal/tool"
)

// oneTurnStream answers every model call with one text delta and a terminal
// end_turn completion.
type oneTurnStream struct{}

func (oneTurnStream) Name() string { return "one-turn" }

func (oneTurnStream) StreamTurn(ctx context.Context, req llmclient.TurnRequest) (<-chan llmclient.StreamEvent, <-chan error) {
	events := make(chan llmclient.StreamEvent, 2)
	errs := make(chan error, 1)
	events <- llmclient.StreamEvent{Type: llmclient.EventTextDelta, Text: "done"}
	events <- llmclient.StreamEvent{
		Type:       llmclient.EventTurnComplete,
		StopReason: llmclient.StopEndTurn,
		Content:    []llmclient.ContentBlock{{Type: "text", Text: "done"}},
	}
	close(events)
	close(errs)
	return events, errs
}

func newTestService(t *testing.T) *RunService {
	t.Helper()
	reg, err := tool.NewRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	loop := &agent.Loop{Stream: oneTurnStream{}, Tools: reg}
	return NewRunService(loop, NewEventBroker(), nil)
}

func TestBroker_AllocateGet(t *testing.T) {
	b := NewEventBroker()
	ch := b.Allocate("job-1", 4)
	got, ok := b.Get("job-1")
	if !ok || got != ch {
		t.Fatal("allocated channel not retrievable")
	}
	if _, ok := b.Get("job-2"); ok {
		t.Fatal("unknown job returned a channel")
	}
}

func TestRunService_StreamsAndCompletes(t *testing.T) {
	s := newTestService(t)
	jobID, err := s.Start("u1", "build me a program")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	ch, ok := s.Broker.Get(jobID)
	if !ok {
		t.Fatal("no event channel for started job")
	}

	var sawText, sawCompleted bool
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, open := <-ch:
			if !open {
				if !sawText {
					t.Fatal("no text event before channel close")
				}
				if !sawCompleted {
					t.Fatal("no terminal progress event before channel close")
				}
				rec, ok := s.Job(jobID)
				if !ok || rec.Status != StatusCompleted {
					t.Fatalf("record = %+v", rec)
				}
				return
			}
			switch {
			case ev.Type == agent.EventText && ev.Text == "done":
				sawText = true
			case ev.Type == agent.EventProgress && ev.Stage == "completed":
				sawCompleted = true
			}
		case <-deadline:
			t.Fatal("job never finished")
		}
	}
}

func TestRunService_FailureRecorded(t *testing.T) {
	s := newTestService(t)
	// Empty goal is rejected synchronously.
	if _, err := s.Start("u1", "   "); err == nil {
		t.Fatal("expected error for empty goal")
	}
	if _, err := s.Start("", "goal"); err == nil {
		t.Fatal("expected error for empty user")
	}
}

func TestRunService_UnknownJob(t *testing.T) {
	s := newTestService(t)
	if _, ok := s.Job("nope"); ok {
		t.Fatal("unknown job reported as found")
	}
}

// fakeArtifacts serves a fixed listing and presigns everything except paths
// listed in urlErr.
type fakeArtifacts struct {
	paths   []string
	listErr error
	urlErr  map[string]error
}

func (f *fakeArtifacts) List(_ context.Context, _ string) ([]string, error) {
	return f.paths, f.listErr
}

func (f *fakeArtifacts) GetURL(_ context.Context, jobID, path string) (string, error) {
	if err := f.urlErr[path]; err != nil {
		return "", err
	}
	return "https://blob.test/" + jobID + "/" + path, nil
}

func startedJob(t *testing.T, s *RunService) string {
	t.Helper()
	jobID, err := s.Start("u1", "build me a program")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ch, ok := s.Broker.Get(jobID)
	if !ok {
		t.Fatal("no event channel for started job")
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-ch:
			if !open {
				return jobID
			}
		case <-deadline:
			t.Fatal("job never finished")
		}
	}
}

func TestHandler_JobArtifacts(t *testing.T) {
	s := newTestService(t)
	jobID := startedJob(t, s)

	store := &fakeArtifacts{
		paths:  []string{"program.json", "summary.txt"},
		urlErr: map[string]error{"summary.txt": errors.New("presign failed")},
	}
	h := NewHandler(s, store, nil)

	rr := httptest.NewRecorder()
	h.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+jobID+"/artifacts", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Artifacts []struct {
			Path string `json:"path"`
			URL  string `json:"url"`
		} `json:"artifacts"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Artifacts) != 2 {
		t.Fatalf("artifacts = %+v", resp.Artifacts)
	}
	if resp.Artifacts[0].Path != "program.json" || resp.Artifacts[0].URL == "" {
		t.Fatalf("first entry = %+v", resp.Artifacts[0])
	}
	// Presign failure keeps the entry but omits the link.
	if resp.Artifacts[1].Path != "summary.txt" || resp.Artifacts[1].URL != "" {
		t.Fatalf("second entry = %+v", resp.Artifacts[1])
	}
}

func TestHandler_JobArtifactsUnknownJob(t *testing.T) {
	s := newTestService(t)
	h := NewHandler(s, &fakeArtifacts{}, nil)
	rr := httptest.NewRecorder()
	h.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/jobs/nope/artifacts", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestHandler_JobArtifactsNoStore(t *testing.T) {
	s := newTestService(t)
	jobID := startedJob(t, s)
	h := NewHandler(s, nil, nil)

	rr := httptest.NewRecorder()
	h.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+jobID+"/artifacts", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var resp struct {
		Artifacts []any `json:"artifacts"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Artifacts == nil || len(resp.Artifacts) != 0 {
		t.Fatalf("artifacts = %v, want empty list", resp.Artifacts)
	}
}

func TestHandler_JobArtifactsListFailure(t *testing.T) {
	s := newTestService(t)
	jobID := startedJob(t, s)
	h := NewHandler(s, &fakeArtifacts{listErr: errors.New("bucket down")}, nil)

	rr := httptest.NewRecorder()
	h.Mux().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+jobID+"/artifacts", nil))
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rr.Code)
	}
}
