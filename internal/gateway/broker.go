// Package gateway exposes running coaching jobs over HTTP: job start,
// websocket streaming of loop events, and graceful server lifecycle.
package gateway

import (
	"strings"
	"sync"
	"time"

	"stride/internal/agent"
)

const completedJobRetention = 30 * time.Second

// EventBroker manages per-job event channels. A channel is allocated when
// the job starts and handed to the websocket subscriber; completed jobs are
// kept briefly so a late subscriber can still drain the tail.
type EventBroker struct {
	mu     sync.RWMutex
	events map[string]chan agent.Event
}

func NewEventBroker() *EventBroker {
	return &EventBroker{events: make(map[string]chan agent.Event)}
}

// Allocate creates and registers a new event channel for a job.
func (b *EventBroker) Allocate(jobID string, size int) chan agent.Event {
	if size <= 0 {
		size = 1
	}
	ch := make(chan agent.Event, size)
	b.mu.Lock()
	b.events[strings.TrimSpace(jobID)] = ch
	b.mu.Unlock()
	return ch
}

// Get returns the event channel for a job.
func (b *EventBroker) Get(jobID string) (chan agent.Event, bool) {
	b.mu.RLock()
	ch, ok := b.events[strings.TrimSpace(jobID)]
	b.mu.RUnlock()
	return ch, ok
}

// ScheduleCleanup removes a job's event channel after the retention period.
func (b *EventBroker) ScheduleCleanup(jobID string) {
	time.AfterFunc(completedJobRetention, func() {
		b.mu.Lock()
		delete(b.events, strings.TrimSpace(jobID))
		b.mu.Unlock()
	})
}
