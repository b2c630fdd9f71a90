package service

import (
	"context"
	"sync"

	"github.com/ayo6706/stablecoin-gateway/internal/observability"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TaskRegistry owns background sweeps keyed by ledger entry id. Tasks run on
// the registry context, not on the context of the request that started them.
type TaskRegistry struct {
	mu     sync.Mutex
	tasks  map[uuid.UUID]chan struct{}
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewTaskRegistry() *TaskRegistry {
	ctx, cancel := context.WithCancel(context.Background())
	return &TaskRegistry{
		tasks:  make(map[uuid.UUID]chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go starts fn for id. Only one task per id may run at a time; a second call
// for a running id is a no-op that returns false.
func (r *TaskRegistry) Go(id uuid.UUID, fn func(ctx context.Context)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, ErrRegistryClosed
	}
	if _, running := r.tasks[id]; running {
		return false, nil
	}

	done := make(chan struct{})
	r.tasks[id] = done
	r.wg.Add(1)
	observability.AddRunningSweeps(1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				zap.L().Error("background task panicked", zap.String("task_id", id.String()), zap.Any("panic", rec))
			}
			r.mu.Lock()
			delete(r.tasks, id)
			r.mu.Unlock()
			close(done)
			observability.AddRunningSweeps(-1)
			r.wg.Done()
		}()
		fn(r.ctx)
	}()
	return true, nil
}

// Running reports whether a task for id is in flight.
func (r *TaskRegistry) Running(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[id]
	return ok
}

// Wait blocks until the task for id finishes. It returns immediately when no
// such task is running.
func (r *TaskRegistry) Wait(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	done, ok := r.tasks[id]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of running tasks.
func (r *TaskRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Shutdown stops accepting tasks, cancels the running ones and waits for them
// to return or for ctx to expire.
func (r *TaskRegistry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	finished := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
