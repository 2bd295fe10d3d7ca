package schedule

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskID identifies a scheduled task
type TaskID string

// Scheduler runs single-shot tasks at fixed delays. It is the one timer
// primitive shared by lock auto-release and the attempt timeout machinery,
// so every deferred action can be cancelled through the same registry.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[TaskID]*time.Timer
	closed bool
}

// NewScheduler creates an empty scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{
		tasks: make(map[TaskID]*time.Timer),
	}
}

// After schedules fn to run once after exactly delay. The delay is never
// adjusted or jittered. Returns the task id for cancellation.
func (s *Scheduler) After(delay time.Duration, fn func()) TaskID {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ""
	}

	id := TaskID(uuid.NewString())
	s.tasks[id] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.tasks, id)
		s.mu.Unlock()
		fn()
	})
	return id
}

// Cancel stops a pending task. Returns false if the task already fired
// or was cancelled before.
func (s *Scheduler) Cancel(id TaskID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, exists := s.tasks[id]
	if !exists {
		return false
	}
	delete(s.tasks, id)
	return timer.Stop()
}

// CancelAll stops every pending task
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.tasks {
		timer.Stop()
		delete(s.tasks, id)
	}
}

// Active returns the number of pending tasks
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close cancels all pending tasks and rejects new ones
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, timer := range s.tasks {
		timer.Stop()
		delete(s.tasks, id)
	}
}
