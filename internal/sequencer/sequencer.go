// Package sequencer serializes work per conversation scope. Tasks admitted
// under the same key run strictly in admission order; tasks under distinct
// keys run concurrently, bounded by a global worker limit so one busy scope
// never starves the rest.
package sequencer

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Task is one unit of work; it receives the sequencer's run context.
type Task func(ctx context.Context)

// Sequencer drains per-key FIFO queues with a bounded number of concurrent
// workers.
type Sequencer struct {
	ctx    context.Context
	sem    *semaphore.Weighted
	logger *zap.Logger

	mu      sync.Mutex
	queues  map[int64][]Task
	running map[int64]bool
	closed  bool
	wg      sync.WaitGroup
}

// New builds a sequencer whose tasks run under ctx. maxWorkers bounds the
// number of tasks executing at once across all scopes.
func New(ctx context.Context, maxWorkers int64, logger *zap.Logger) *Sequencer {
	return &Sequencer{
		ctx:     ctx,
		sem:     semaphore.NewWeighted(maxWorkers),
		logger:  logger,
		queues:  make(map[int64][]Task),
		running: make(map[int64]bool),
	}
}

// Admit enqueues a task for the given scope key. Tasks for one key execute
// sequentially in admission order. Admit never blocks on task execution.
func (s *Sequencer) Admit(scope int64, task Task) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("Task rejected, sequencer is shut down", zap.Int64("scope", scope))
		return
	}
	s.queues[scope] = append(s.queues[scope], task)
	if !s.running[scope] {
		s.running[scope] = true
		s.wg.Add(1)
		go s.drain(scope)
	}
	s.mu.Unlock()
}

// drain owns one scope's queue until it empties, then exits. Ownership
// guarantees FIFO within the scope.
func (s *Sequencer) drain(scope int64) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		queue := s.queues[scope]
		if len(queue) == 0 {
			delete(s.queues, scope)
			delete(s.running, scope)
			s.mu.Unlock()
			return
		}
		task := queue[0]
		s.queues[scope] = queue[1:]
		s.mu.Unlock()

		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			// Shutdown: work not yet at its commit point is dropped.
			s.mu.Lock()
			dropped := len(s.queues[scope])
			delete(s.queues, scope)
			delete(s.running, scope)
			s.mu.Unlock()
			if dropped > 0 {
				s.logger.Info("Dropping queued tasks on shutdown",
					zap.Int64("scope", scope), zap.Int("dropped", dropped))
			}
			return
		}
		task(s.ctx)
		s.sem.Release(1)
	}
}

// Shutdown stops admitting new work and waits for in-flight tasks.
func (s *Sequencer) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
