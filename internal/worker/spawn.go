// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/jeranaias/flicker/internal/logx"
)

// =============================================================================
// JOB
// =============================================================================

// Job is one unit of background work producing progress values of type P and
// a terminal result of type R.
type Job[P, R any] struct {
	// Family groups workers in the registry (completion, intent, scan, ...).
	Family string

	// Run does the work. emit delivers one progress value synchronously and
	// returns the progress handler's error, or ErrFinished after the terminal event.
	Run func(ctx context.Context, emit func(P) error) (R, error)

	// OnProgress receives progress values in emission order. An error fails the worker.
	OnProgress func(P) error

	// OnFinish receives the terminal result exactly once, before the
	// registry entry is removed.
	OnFinish func(R, error)
}

// PanicError is the terminal error of a job that panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("worker panic: %v", e.Value)
}

// =============================================================================
// HANDLE
// =============================================================================

// Handle observes one spawned worker.
type Handle[R any] struct {
	id     uuid.UUID
	family string
	done   chan struct{}

	result R
	err    error
}

// ID returns the worker's instance id.
func (h *Handle[R]) ID() uuid.UUID { return h.id }

// Family returns the worker's family.
func (h *Handle[R]) Family() string { return h.family }

// Done is closed after the terminal event has been delivered and the worker
// has left the registry.
func (h *Handle[R]) Done() <-chan struct{} { return h.done }

// Wait blocks until the worker finishes or ctx is done, and returns the
// terminal result.
func (h *Handle[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// =============================================================================
// SPAWN
// =============================================================================

// Spawn registers a worker and starts job.Run on a new goroutine. It never
// blocks on the work itself.
func Spawn[P, R any](ctx context.Context, reg *Registry, job Job[P, R]) *Handle[R] {
	if job.Run == nil {
		panic("worker: Job.Run is nil")
	}
	rec := reg.add(job.Family)
	h := &Handle[R]{id: rec.ID, family: job.Family, done: make(chan struct{})}
	go run(ctx, reg, rec, job, h)
	return h
}

func run[P, R any](ctx context.Context, reg *Registry, rec Record, job Job[P, R], h *Handle[R]) {
	log := logx.WithWorker(reg.log, rec.Family, rec.ID.String())
	log.Debug("worker started")

	var (
		mu       sync.Mutex
		finished bool
		progErr  error
	)
	emit := func(p P) error {
		mu.Lock()
		defer mu.Unlock()
		if finished {
			return ErrFinished
		}
		if progErr != nil {
			return progErr
		}
		if job.OnProgress == nil {
			return nil
		}
		if err := callProgress(job.OnProgress, p); err != nil {
			progErr = fmt.Errorf("progress handler: %w", err)
			return progErr
		}
		return nil
	}

	result, err := callRun(ctx, job.Run, emit)

	mu.Lock()
	finished = true
	if err == nil && progErr != nil {
		err = progErr
	}
	mu.Unlock()

	elapsed := time.Since(rec.Started)
	if err != nil {
		log.Error("worker failed", "err", err, "elapsed", elapsed)
	} else {
		log.Debug("worker finished", "elapsed", elapsed)
	}

	h.result, h.err = result, err
	if job.OnFinish != nil {
		callFinish(log, job.OnFinish, result, err)
	}
	reg.remove(rec.ID)
	close(h.done)
}

func callRun[P, R any](ctx context.Context, fn func(context.Context, func(P) error) (R, error), emit func(P) error) (result R, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return fn(ctx, emit)
}

func callProgress[P any](fn func(P) error, p P) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	return fn(p)
}

func callFinish[R any](log pslog.Logger, fn func(R, error), result R, err error) {
	defer func() {
		if v := recover(); v != nil {
			log.Error("worker finish handler panicked", "panic", v)
		}
	}()
	fn(result, err)
}
