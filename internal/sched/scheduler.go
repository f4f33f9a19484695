// Package sched multiplexes named, cancellable delayed and periodic tasks
// over a single owner, so start/stop stays idempotent without leaking
// timer instances.
package sched

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs named tasks. Scheduling a name that is already active
// replaces the previous task; stopping an unknown name is a no-op.
type Scheduler struct {
	logger *zap.Logger

	mu    sync.Mutex
	tasks map[string]chan struct{}
}

func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		tasks:  make(map[string]chan struct{}),
	}
}

// After runs fn once after d. A previous task with the same name is
// cancelled first.
func (s *Scheduler) After(name string, d time.Duration, fn func()) {
	stop := s.register(name)

	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-stop:
			return
		case <-timer.C:
		}

		s.unregister(name, stop)
		fn()
	}()
}

// Every runs fn on a fixed cadence until the name is stopped. A previous
// task with the same name is cancelled first.
func (s *Scheduler) Every(name string, d time.Duration, fn func()) {
	stop := s.register(name)

	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// Stop cancels the named task if it is active.
func (s *Scheduler) Stop(name string) {
	s.mu.Lock()
	stop, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	if ok {
		close(stop)
	}
}

// StopAll cancels every active task.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[string]chan struct{})
	s.mu.Unlock()

	for name, stop := range tasks {
		close(stop)
		s.logger.Debug("Stopped scheduled task", zap.String("task", name))
	}
}

// Active reports whether a task with the given name is scheduled.
func (s *Scheduler) Active(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

func (s *Scheduler) register(name string) chan struct{} {
	s.mu.Lock()
	if prev, ok := s.tasks[name]; ok {
		close(prev)
	}
	stop := make(chan struct{})
	s.tasks[name] = stop
	s.mu.Unlock()
	return stop
}

// unregister removes a one-shot task entry, unless the name has already
// been replaced by a newer task.
func (s *Scheduler) unregister(name string, stop chan struct{}) {
	s.mu.Lock()
	if cur, ok := s.tasks[name]; ok && cur == stop {
		delete(s.tasks, name)
	}
	s.mu.Unlock()
}
