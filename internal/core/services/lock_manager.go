package services

import (
	"context"
	"sync"
	"time"

	"pairlink/internal/core/domain"
	"pairlink/pkg/errors"
	"pairlink/pkg/schedule"

	"go.uber.org/zap"
)

// operationLock is one named lock with a holder token and auto-release deadline.
type operationLock struct {
	name        string
	holder      string
	acquiredAt  time.Time
	releaseAt   time.Time
	releaseTask schedule.TaskID
}

// SequenceLockManager serializes the async chains of one session. Locks are
// named per operation, admission is gated on prerequisite steps, and every
// lock auto-releases at its TTL so an abandoned holder cannot deadlock the
// pipeline.
type SequenceLockManager struct {
	mu        sync.Mutex
	locks     map[string]*operationLock
	state     *domain.SequenceState
	scheduler *schedule.Scheduler

	logger *zap.SugaredLogger
}

// NewSequenceLockManager creates a lock manager for one session.
func NewSequenceLockManager(scheduler *schedule.Scheduler, logger *zap.SugaredLogger) *SequenceLockManager {
	return &SequenceLockManager{
		locks:     make(map[string]*operationLock),
		state:     domain.NewSequenceState(),
		scheduler: scheduler,
		logger:    logger,
	}
}

// AcquireLock acquires the named lock for holder. Non-blocking: returns false
// if a different holder has it. Re-acquiring by the same holder succeeds.
// Auto-release is scheduled at ttl.
func (m *SequenceLockManager) AcquireLock(name, holder string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, held := m.locks[name]; held {
		return existing.holder == holder
	}

	lock := &operationLock{
		name:       name,
		holder:     holder,
		acquiredAt: time.Now(),
		releaseAt:  time.Now().Add(ttl),
	}
	lock.releaseTask = m.scheduler.After(ttl, func() {
		m.autoRelease(name, holder)
	})
	m.locks[name] = lock
	return true
}

// Release releases the named lock. Fails on holder mismatch.
func (m *SequenceLockManager) Release(name, holder string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, held := m.locks[name]
	if !held || lock.holder != holder {
		return false
	}

	m.scheduler.Cancel(lock.releaseTask)
	delete(m.locks, name)
	return true
}

// autoRelease drops a lock whose TTL expired while still held.
func (m *SequenceLockManager) autoRelease(name, holder string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, held := m.locks[name]
	if !held || lock.holder != holder {
		return
	}
	delete(m.locks, name)
	m.logger.Warnw("operation lock auto-released after ttl",
		"lock", name,
		"holder", holder,
		"held_for", time.Since(lock.acquiredAt),
	)
}

// ExecuteWithLock runs op for the step under its lock. Admission is rejected
// with a prerequisite error if any prerequisite step has not completed. The
// step is marked completed only when op succeeds; the lock is always released.
func (m *SequenceLockManager) ExecuteWithLock(ctx context.Context, step domain.SequenceStep, holder string, ttl time.Duration, op func(context.Context) error, prerequisites ...domain.SequenceStep) error {
	m.mu.Lock()
	for _, prereq := range prerequisites {
		if !m.state.Completed(prereq) {
			m.mu.Unlock()
			return errors.NewPrerequisiteViolation(string(step), string(prereq))
		}
	}
	m.mu.Unlock()

	if !m.AcquireLock(string(step), holder, ttl) {
		return errors.NewLockContention(string(step))
	}
	defer m.Release(string(step), holder)

	if err := op(ctx); err != nil {
		m.logger.Warnw("locked operation failed",
			"step", step,
			"holder", holder,
			"error", err,
		)
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.state.MarkCompleted(step); err != nil {
		return errors.NewInvariantViolation(err.Error())
	}
	return nil
}

// NamedOperation couples a step with the function executing it.
type NamedOperation struct {
	Step          domain.SequenceStep
	Prerequisites []domain.SequenceStep
	Op            func(context.Context) error
}

// CoordinateSequentialOperations runs first to full completion under its lock
// before second starts. Strict happens-before, never interleaved.
func (m *SequenceLockManager) CoordinateSequentialOperations(ctx context.Context, holder string, ttl time.Duration, first, second NamedOperation) error {
	if err := m.ExecuteWithLock(ctx, first.Step, holder, ttl, first.Op, first.Prerequisites...); err != nil {
		return err
	}
	return m.ExecuteWithLock(ctx, second.Step, holder, ttl, second.Op, second.Prerequisites...)
}

// ValidateSequenceOrder checks, without side effects, that every canonically
// earlier step is already completed.
func (m *SequenceLockManager) ValidateSequenceOrder(step domain.SequenceStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ValidateOrder(step)
}

// Completed reports whether a step finished successfully.
func (m *SequenceLockManager) Completed(step domain.SequenceStep) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Completed(step)
}

// SetGates flips gates without marking completion, validating prerequisites.
// Either every gate flips or none does.
func (m *SequenceLockManager) SetGates(steps ...domain.SequenceStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.state.SetGate(steps...); err != nil {
		return errors.NewInvariantViolation(err.Error())
	}
	return nil
}

// MarkCompleted records a finished step outside ExecuteWithLock. Used for
// steps driven by remote events (answer received, connection established).
func (m *SequenceLockManager) MarkCompleted(step domain.SequenceStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.state.MarkCompleted(step); err != nil {
		return errors.NewInvariantViolation(err.Error())
	}
	return nil
}

// Reset drops every held lock and the completed-step set. Called when a new
// attempt begins: sequence state belongs to exactly one orchestration run,
// and a fresh attempt must not inherit the previous run's progress. Pending
// auto-release tasks find their lock gone and no-op.
func (m *SequenceLockManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, lock := range m.locks {
		m.scheduler.Cancel(lock.releaseTask)
	}
	m.locks = make(map[string]*operationLock)
	m.state = domain.NewSequenceState()
}

// HeldLocks returns the names of currently held locks.
func (m *SequenceLockManager) HeldLocks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.locks))
	for name := range m.locks {
		names = append(names, name)
	}
	return names
}

// CompletedSteps returns the completed steps in canonical order.
func (m *SequenceLockManager) CompletedSteps() []domain.SequenceStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.CompletedSteps()
}
