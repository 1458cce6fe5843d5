// Package reactor is the single-threaded event loop (C1) that owns the
// internal/graph.Set and drives it to fixpoint after every external event.
// Nothing outside this package's Run goroutine may touch the graph.Set
// directly; other goroutines (the supervisor's process-exit watchers, the
// control server's connection handlers) hand work in via Post.
package reactor

import (
	"context"
	"log/slog"

	"github.com/loykin/dinitgo/internal/graph"
)

// Job is a unit of work executed on the reactor goroutine with exclusive
// access to the graph. After it runs, the reactor drains the graph's
// propagation/transition queues to fixpoint, mirroring dinit's own
// "handle one event, then process the queues" event loop structure
// (original_source/src/dinit.cc main loop).
type Job func(*graph.Set)

// Reactor serializes graph mutations coming from many goroutines (process
// exit watchers, control-socket handlers, timers) onto one loop goroutine.
type Reactor struct {
	set  *graph.Set
	jobs chan Job
	log  *slog.Logger
}

func New(set *graph.Set, log *slog.Logger) *Reactor {
	if log == nil {
		log = slog.Default()
	}
	return &Reactor{set: set, jobs: make(chan Job, 256), log: log}
}

// Set returns the graph.Set this reactor owns. Safe to read concurrently;
// callers must still only mutate it via Post.
func (rc *Reactor) Set() *graph.Set { return rc.set }

// Post schedules job to run on the reactor goroutine. Safe from any
// goroutine. Blocks if the queue is full, which is intentional backpressure
// rather than an unbounded buffer.
func (rc *Reactor) Post(job Job) {
	rc.jobs <- job
}

// Run drains posted jobs until ctx is cancelled. Each job runs to
// completion, then the graph is drained to fixpoint, before the next job
// is accepted — this is what makes the single-goroutine assumption in
// internal/graph's package doc hold.
func (rc *Reactor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-rc.jobs:
			func() {
				defer func() {
					if p := recover(); p != nil {
						rc.log.Error("reactor job panicked", "panic", p)
					}
				}()
				job(rc.set)
				rc.set.DrainQueues()
			}()
		}
	}
}

// PostAndWait runs job synchronously from the reactor's perspective but
// lets the caller block until it (and the resulting queue drain) has
// completed — used by the control server to answer a request only after
// the state change it triggered has settled.
func (rc *Reactor) PostAndWait(job Job) {
	done := make(chan struct{})
	rc.Post(func(s *graph.Set) {
		defer close(done)
		job(s)
	})
	<-done
}
