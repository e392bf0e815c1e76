package tasks

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// InMemorySink collects tasks in memory. Used for tests and for embedding
// without a task service.
type InMemorySink struct {
	mu    sync.Mutex
	tasks []*Task
}

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{}
}

func (s *InMemorySink) Create(ctx context.Context, task *Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := *task
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Status = TaskOpen
	s.tasks = append(s.tasks, &t)

	return t.ID, nil
}

func (s *InMemorySink) Cancel(ctx context.Context, instanceID, activityInstanceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.InstanceID == instanceID && t.ActivityInstanceID == activityInstanceID && t.Status == TaskOpen {
			t.Status = TaskCancelled
		}
	}

	return nil
}

// Tasks returns a snapshot of all tasks, oldest first.
func (s *InMemorySink) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Task, len(s.tasks))
	for i, t := range s.tasks {
		result[i] = *t
	}

	return result
}
