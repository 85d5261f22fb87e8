package tool

import (
	"sync"

	"github.com/google/uuid"
)

// Job is the shared context for one coaching job. Tools store named results
// here so later tools can consume large intermediate payloads without the
// model re-transmitting them. The job is created per request and discarded
// at completion; it is never a process-wide cache.
//
// Keys are written once in the common case. The pruning pass is the one
// documented exception: it overwrites per-phase results so persistence reads
// the pruned version. That update is single-writer.
type Job struct {
	ID     string
	UserID string

	mu      sync.RWMutex
	results map[string]any
	verdict *Verdict
}

func NewJob(userID string) *Job {
	return &Job{
		ID:      uuid.NewString(),
		UserID:  userID,
		results: make(map[string]any),
	}
}

// SetResult stores a named tool result, overwriting any previous value for
// the key.
func (j *Job) SetResult(key string, v any) {
	j.mu.Lock()
	j.results[key] = v
	j.mu.Unlock()
}

// Result retrieves a named tool result.
func (j *Job) Result(key string) (any, bool) {
	j.mu.RLock()
	v, ok := j.results[key]
	j.mu.RUnlock()
	return v, ok
}

// Keys returns the stored result keys. Ordering is not defined.
func (j *Job) Keys() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	keys := make([]string, 0, len(j.results))
	for k := range j.results {
		keys = append(keys, k)
	}
	return keys
}

// SetVerdict records the latest validation verdict. Once a negative verdict
// is stored it is terminal for the job: later positive verdicts do not
// unblock gated tools.
func (j *Job) SetVerdict(v *Verdict) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.verdict != nil && !j.verdict.ShouldSave {
		return
	}
	j.verdict = v
}

// Verdict returns the recorded validation verdict, or nil if none yet.
func (j *Job) Verdict() *Verdict {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.verdict
}
