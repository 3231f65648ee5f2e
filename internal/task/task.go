// Package task manages the lifecycle of the goroutines a device transport
// runs: accept loops, read loops and per-connection handlers. It provides a
// structured way to start, stop and wait for them with proper cancellation,
// so a stalled device worker can be abandoned without crashing the process.
package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openlis/labwire/internal/pool"
	"github.com/openlis/labwire/logger"
)

// Func is one iteration of a managed loop. It returns true to keep
// looping or false to terminate the goroutine.
type Func func() bool

// CleanupFunc runs when a managed goroutine exits, whether it stopped
// itself or was cancelled.
type CleanupFunc func()

// Manager owns a group of goroutines tied to a single context. Stop
// cancels them all; Wait and WaitTimeout observe their termination.
type Manager struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
}

// NewManager creates a Manager whose tasks are cancelled when ctx is done
// or Stop is called.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)
	return mgr
}

// Context returns the context shared by all tasks of this manager.
func (mgr *Manager) Context() context.Context {
	return mgr.ctx
}

// Run starts a named goroutine executing fn once, with panic protection.
func (mgr *Manager) Run(name string, fn func(), cleanup CleanupFunc) {
	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				mgr.logger.Error("panic in task", "name", name, "panic", r)
			}
			if cleanup != nil {
				cleanup()
			}
			mgr.count.Add(-1)
			mgr.wg.Done()
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.TaskCount())
		}()

		fn()
	}()
}

// Loop starts a named goroutine that calls fn repeatedly until fn returns
// false or the manager is stopped.
func (mgr *Manager) Loop(name string, fn Func, cleanup CleanupFunc) {
	mgr.Run(name, func() {
		for {
			select {
			case <-mgr.ctx.Done():
				return
			default:
				if !fn() {
					return
				}
			}
		}
	}, cleanup)
}

// Stop signals all running goroutines to terminate.
func (mgr *Manager) Stop() {
	mgr.cancel()
}

// Stopping reports whether Stop has been called (or the parent context is done).
func (mgr *Manager) Stopping() bool {
	select {
	case <-mgr.ctx.Done():
		return true
	default:
		return false
	}
}

// Wait blocks until every goroutine has terminated.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()
}

// WaitTimeout waits for all goroutines up to d. It returns false if some
// goroutine is still running when the deadline passes; the caller abandons
// it rather than blocking shutdown.
func (mgr *Manager) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		mgr.wg.Wait()
		close(done)
	}()

	timer := pool.GetTimer(d)
	defer pool.PutTimer(timer)

	select {
	case <-done:
		return true
	case <-timer.C:
		mgr.logger.Warn("timeout waiting for tasks to terminate",
			"timeout", d,
			"task_count", mgr.TaskCount())
		return false
	}
}

// TaskCount returns the number of currently running goroutines.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}
