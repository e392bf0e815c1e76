package scheduler

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemoryJobScheduler records enqueued jobs. Used for tests; production
// deployments plug in their job subsystem.
type InMemoryJobScheduler struct {
	mu   sync.Mutex
	jobs []*Job
}

func NewInMemoryJobScheduler() *InMemoryJobScheduler {
	return &InMemoryJobScheduler{}
}

func (s *InMemoryJobScheduler) Enqueue(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := *job
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	s.jobs = append(s.jobs, &j)

	return nil
}

// Jobs returns a snapshot of all enqueued jobs, oldest first.
func (s *InMemoryJobScheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Job, len(s.jobs))
	for i, j := range s.jobs {
		result[i] = *j
	}

	return result
}

// InMemoryTimerScheduler records scheduled timers.
type InMemoryTimerScheduler struct {
	mu     sync.Mutex
	timers []*Timer
}

func NewInMemoryTimerScheduler() *InMemoryTimerScheduler {
	return &InMemoryTimerScheduler{}
}

func (s *InMemoryTimerScheduler) Schedule(ctx context.Context, timer *Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := *timer
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.timers = append(s.timers, &t)

	return nil
}

// Timers returns a snapshot of all scheduled timers, oldest first.
func (s *InMemoryTimerScheduler) Timers() []Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Timer, len(s.timers))
	for i, t := range s.timers {
		result[i] = *t
	}

	return result
}
