// Copyright 2026 Redpanda Data, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package worker runs jobs one at a time on a dedicated goroutine and bounds
// how long a caller waits for them.
//
// A job that outlives its bound cannot be stopped from the outside, only asked
// to stop through its context. The worker therefore poisons itself when a
// caller gives up on a job: the job keeps the goroutine until it notices the
// cancellation, and every later submission fails fast with [ErrPoisoned].
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrPoisoned is returned once a job has timed out or been abandoned.
	ErrPoisoned = errors.New("worker is poisoned by an abandoned job")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("worker is closed")
	// ErrReentrant is returned when a running job submits to its own worker.
	ErrReentrant = errors.New("worker called from one of its own jobs")
)

// TimeoutError reports that a job did not finish within its bound.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return "execution timed out after " + e.Timeout.String()
}

// Job is the unit of work. ctx is cancelled when the caller stops waiting.
type Job func(ctx context.Context) error

type markerKey struct{}

type job struct {
	ctx  context.Context
	fn   Job
	done chan error
}

// Worker owns one goroutine executing submitted jobs sequentially.
type Worker struct {
	jobs    chan job
	quit    chan struct{}
	stopped chan struct{}

	poisoned  atomic.Bool
	closeOnce sync.Once
}

// New starts a worker.
func New() *Worker {
	w := &Worker{
		jobs:    make(chan job),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.quit:
			return
		case j := <-w.jobs:
			j.done <- exec(j)
		}
	}
}

func exec(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job panicked: %v", r)
		}
	}()
	return j.fn(j.ctx)
}

// InJob reports whether ctx belongs to a job running on w.
func (w *Worker) InJob(ctx context.Context) bool {
	owner, _ := ctx.Value(markerKey{}).(*Worker)
	return owner == w
}

// Poisoned reports whether a job has been abandoned.
func (w *Worker) Poisoned() bool {
	return w.poisoned.Load()
}

// Err returns ErrClosed after Close, ErrPoisoned once a job has been
// abandoned, and nil while the worker accepts jobs.
func (w *Worker) Err() error {
	select {
	case <-w.quit:
		return ErrClosed
	default:
	}
	if w.poisoned.Load() {
		return ErrPoisoned
	}
	return nil
}

// Do runs fn on the worker and waits for it. A positive timeout bounds the
// wait: when it expires Do returns a [*TimeoutError], the job context is
// cancelled and the worker is poisoned. Cancelling ctx while the job runs has
// the same effect.
func (w *Worker) Do(ctx context.Context, timeout time.Duration, fn Job) error {
	if w.InJob(ctx) {
		return ErrReentrant
	}
	if err := w.Err(); err != nil {
		return err
	}

	jobCtx, cancel := context.WithCancel(context.WithValue(ctx, markerKey{}, w))
	defer cancel()

	done := make(chan error, 1)
	select {
	case w.jobs <- job{ctx: jobCtx, fn: fn, done: done}:
	case <-w.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case err := <-done:
		return err
	case <-expired:
		w.poisoned.Store(true)
		return &TimeoutError{Timeout: timeout}
	case <-ctx.Done():
		w.poisoned.Store(true)
		return errors.Wrap(ctx.Err(), "execution abandoned")
	}
}

// Close stops accepting jobs and waits up to grace for the running job, if
// any, to finish.
func (w *Worker) Close(grace time.Duration) error {
	w.closeOnce.Do(func() { close(w.quit) })

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-w.stopped:
		return nil
	case <-t.C:
		return errors.Newf("running job did not stop within %s", grace)
	}
}
