package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"stride/internal/agent"
	"stride/internal/tool"
)

// JobStatus is the lifecycle of one coaching job.
type JobStatus string

const (
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// JobRecord is the service-side view of one started job.
type JobRecord struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Status     JobStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// RunService starts coaching jobs and streams their loop events through the
// broker. One goroutine per job; the job's channel closes when the loop
// finishes, which is how subscribers learn the run ended.
type RunService struct {
	Loop    *agent.Loop
	Broker  *EventBroker
	Log     *zap.Logger
	Timeout time.Duration

	mu   sync.RWMutex
	jobs map[string]*JobRecord
}

func NewRunService(loop *agent.Loop, broker *EventBroker, log *zap.Logger) *RunService {
	if log == nil {
		log = zap.NewNop()
	}
	return &RunService{
		Loop:   loop,
		Broker: broker,
		Log:    log,
		jobs:   make(map[string]*JobRecord),
	}
}

func (s *RunService) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return 10 * time.Minute
}

// Start launches a coaching job and returns its id immediately. Events flow
// through the broker channel allocated under the job id.
func (s *RunService) Start(userID, goal string) (string, error) {
	if s.Loop == nil || s.Broker == nil {
		return "", fmt.Errorf("gateway: run service not wired")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", fmt.Errorf("gateway: user_id is required")
	}
	if strings.TrimSpace(goal) == "" {
		return "", fmt.Errorf("gateway: goal is required")
	}

	job := tool.NewJob(userID)
	ch := s.Broker.Allocate(job.ID, 256)
	rec := &JobRecord{ID: job.ID, UserID: userID, Status: StatusRunning, StartedAt: time.Now().UTC()}
	s.mu.Lock()
	s.jobs[job.ID] = rec
	s.mu.Unlock()

	go s.run(job, goal, ch)
	return job.ID, nil
}

func (s *RunService) run(job *tool.Job, goal string, ch chan agent.Event) {
	defer func() {
		close(ch)
		s.Broker.ScheduleCleanup(job.ID)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout())
	defer cancel()
	ctx = agent.WithEmitter(ctx, &agent.ChannelEmitter{Ch: ch})

	result, err := s.Loop.Run(ctx, job, goal)

	s.mu.Lock()
	rec := s.jobs[job.ID]
	rec.FinishedAt = time.Now().UTC()
	if err != nil {
		rec.Status = StatusFailed
		rec.Error = err.Error()
	} else {
		rec.Status = StatusCompleted
	}
	s.mu.Unlock()

	if err != nil {
		s.Log.Error("coaching job failed",
			zap.String("job_id", job.ID),
			zap.String("user_id", job.UserID),
			zap.Error(err))
		emit(ch, agent.Event{Type: agent.EventProgress, Stage: "failed", Message: err.Error()})
		return
	}
	s.Log.Info("coaching job completed",
		zap.String("job_id", job.ID),
		zap.Int("iterations", result.Iterations),
		zap.Strings("tools_used", result.ToolsUsed),
		zap.String("stop_reason", string(result.StopReason)))
	emit(ch, agent.Event{Type: agent.EventProgress, Stage: "completed", Message: "job finished"})
}

// emit is best-effort: the terminal event is dropped if the buffer is full,
// the closed channel still signals completion.
func emit(ch chan agent.Event, ev agent.Event) {
	select {
	case ch <- ev:
	default:
	}
}

// Job returns the record for a started job.
func (s *RunService) Job(jobID string) (JobRecord, bool) {
	s.mu.RLock()
	rec, ok := s.jobs[strings.TrimSpace(jobID)]
	s.mu.RUnlock()
	if !ok {
		return JobRecord{}, false
	}
	return *rec, true
}
