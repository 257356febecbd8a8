// Package deferred runs delayed tasks bound to a cancellable runtime context.
package deferred

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrNotStarted = errors.New("scheduler not started")

const (
	taskPending int32 = iota
	taskFired
	taskCancelled
)

// CancelFunc stops a pending task and reports whether it was stopped before running.
type CancelFunc func() bool

type Scheduler struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
	logger  *log.Entry
}

func NewScheduler() *Scheduler {
	return &Scheduler{logger: log.WithField("object", "Scheduler")}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.started = true
	return nil
}

// Stop cancels every pending task and waits for running ones.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// After runs task once delay elapses. The task receives the scheduler context, which is
// cancelled on Stop. Scheduling on a stopped scheduler logs and returns a no-op cancel.
func (s *Scheduler) After(delay time.Duration, task func(ctx context.Context)) CancelFunc {
	s.mu.Lock()
	if !s.started || s.runCtx == nil {
		s.mu.Unlock()
		s.logger.WithField("error", ErrNotStarted.Error()).Warn("task dropped")
		return func() bool { return false }
	}
	runCtx := s.runCtx
	s.wg.Add(1)
	s.mu.Unlock()

	stop := make(chan struct{})
	var state atomic.Int32

	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-runCtx.Done():
			return
		case <-stop:
			return
		case <-timer.C:
		}
		if !state.CompareAndSwap(taskPending, taskFired) {
			return
		}
		task(runCtx)
	}()

	return func() bool {
		if !state.CompareAndSwap(taskPending, taskCancelled) {
			return false
		}
		close(stop)
		return true
	}
}
