package hmrclient

import (
	"context"
	"sync"
)

// Scheduler runs tasks on a later tick of a single logical thread. Every
// Runtime method must be called from its scheduler.
type Scheduler interface {
	Post(task func())
}

// Loop is a single goroutine event loop. Tasks posted during a tick run on
// the next one.
type Loop struct {
	mutex   sync.Mutex
	pending []func()
	wake    chan struct{}
}

// NewLoop creates a loop. Call Run to start processing.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues task. It never blocks.
func (l *Loop) Post(task func()) {
	l.mutex.Lock()
	l.pending = append(l.pending, task)
	l.mutex.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run processes ticks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}

		for l.tick() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// tick runs the tasks queued so far and reports whether more arrived.
func (l *Loop) tick() bool {
	l.mutex.Lock()
	tasks := l.pending
	l.pending = nil
	l.mutex.Unlock()

	for _, task := range tasks {
		task()
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.pending) > 0
}

// ManualScheduler runs tasks only when the caller ticks it.
type ManualScheduler struct {
	mutex   sync.Mutex
	pending []func()
}

// NewManualScheduler creates an idle scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) Post(task func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.pending = append(s.pending, task)
}

// Tick runs the tasks queued before the call and returns how many ran.
func (s *ManualScheduler) Tick() int {
	s.mutex.Lock()
	tasks := s.pending
	s.pending = nil
	s.mutex.Unlock()

	for _, task := range tasks {
		task()
	}
	return len(tasks)
}

// Drain ticks until no task is pending and returns the number of ticks.
func (s *ManualScheduler) Drain() int {
	ticks := 0
	for s.Tick() > 0 {
		ticks++
	}
	return ticks
}

// Pending returns the number of queued tasks.
func (s *ManualScheduler) Pending() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.pending)
}
