package graph

import "time"

// RestartLimiter is an optional capability a Driver can implement to veto an
// auto-restart once it has happened too many times within the configured
// window. internal/supervisor.Driver implements this with a sliding window
// per service name; drivers that don't implement it (e.g. the internal
// no-op driver) never get vetoed.
type RestartLimiter interface {
	AllowRestart(name string, interval time.Duration, max int) bool
}

// This file implements propagation of acquire/release/failure across
// dependency edges, and the per-record state transition table. Both
// halves only ever run from inside Set.DrainQueues, so they may freely
// mutate Record/Edge fields without locking (see package doc).

// propagate applies one record's pending acquire/release/failure bits to
// its neighbors: a held edge keeps its target active, and release
// propagates once activation drops to zero. Order matters: failure must
// be seen before acquire/release so a
// record that just learned a dependency failed doesn't also try to start it.
func (r *Record) propagate(s *Set) {
	if r.pendingFailure {
		r.pendingFailure = false
		r.propagateFailure(s)
	}
	if r.pendingRelease {
		r.pendingRelease = false
		r.propagateRelease(s)
	}
	if r.pendingAcquire {
		r.pendingAcquire = false
		r.propagateAcquire(s)
	}
}

// propagateAcquire walks r's dependencies, acquiring every edge that isn't
// already held and cascading the acquire onward so transitive dependencies
// come up too.
func (r *Record) propagateAcquire(s *Set) {
	for _, e := range r.dependsOut {
		if !e.Kind.acquires() || e.holdingAcquire {
			continue
		}
		e.holdingAcquire = true
		to := e.To
		to.activationCount++
		if to.Pin == PinStopped {
			continue
		}
		if to.Target != Started {
			to.Target = Started
		}
		to.pendingAcquire = true
		s.enqueuePropagation(to)
		s.enqueueTransition(to)
	}
}

// propagateRelease walks r's dependencies, releasing every edge r still
// holds. A dependency whose activation count drops to zero (and isn't
// pinned started, and isn't itself explicitly activated) is targeted to
// stop and the release cascades onward.
func (r *Record) propagateRelease(s *Set) {
	for _, e := range r.dependsOut {
		if !e.Kind.acquires() || !e.holdingAcquire {
			continue
		}
		e.holdingAcquire = false
		to := e.To
		to.activationCount--
		if to.explicitlyActivated || to.Pin == PinStarted || to.activationCount > 0 {
			continue
		}
		to.Target = Stopped
		to.pendingRelease = true
		s.enqueuePropagation(to)
		s.enqueueTransition(to)
	}
}

// propagateFailure tells every dependent waiting on r (via a hard edge) that
// r failed to start: a failed Milestone/Regular/Waits-For dependency fails
// the dependent's start attempt. Soft and
// Before/After edges never propagate failure.
func (r *Record) propagateFailure(s *Set) {
	for _, e := range r.dependsIn {
		if !e.Kind.cycleRelevant() {
			continue
		}
		from := e.From
		if from.Current != Starting {
			continue
		}
		from.depFailed = true
		s.enqueueTransition(from)
	}
}

// hardDepsReady reports whether every Regular/WaitsFor/Milestone dependency
// of r is Started, marking the ones that aren't as waited-on so their own
// Started()/FailedToStart() wakes r back up.
func (r *Record) hardDepsReady(s *Set) bool {
	ready := true
	for _, e := range r.dependsOut {
		if !e.Kind.cycleRelevant() {
			e.waitingOn = false
			continue
		}
		if e.To.Current == Started {
			e.waitingOn = false
			continue
		}
		e.waitingOn = true
		ready = false
	}
	return ready
}

// clearWaiters drops the waitingOn bit on every in-edge now that r left
// Starting (either Started or failed), so a stale bit can't wake a
// record twice.
func (r *Record) clearWaiters() {
	for _, e := range r.dependsIn {
		e.waitingOn = false
	}
}

// executeTransition is the state-machine step proper: given Current and
// Target, decide whether to ask the driver to do something, or to wait.
// This is the Stopped/Starting/Started/Stopping state diagram proper.
func (r *Record) executeTransition(s *Set) {
	if r.Current == r.Target {
		return
	}
	switch r.Target {
	case Started:
		r.stepTowardStarted(s)
	case Stopped:
		r.stepTowardStopped(s)
	}
}

func (r *Record) stepTowardStarted(s *Set) {
	switch r.Current {
	case Stopped:
		// Entering Starting happens unconditionally, even before dependencies
		// are known to be ready: a dependency that later fails must be able
		// to find us (via propagateFailure) in Starting, not Stopped.
		r.Current = Starting
		r.continueStarting(s)
	case Stopping:
		// Will be revisited by stopped() once the in-flight stop completes.
	case Starting:
		r.continueStarting(s)
	}
}

// continueStarting advances a record already in Starting: checks for a
// dependency failure, waits on unready hard dependencies or the console, and
// otherwise asks the driver to actually bring the service up. It is called
// both on first entry to Starting and again whenever a dependency or the
// console wakes this record up (propagateFailure, Started, ReleaseConsole).
func (r *Record) continueStarting(s *Set) {
	if r.depFailed {
		r.depFailed = false
		r.failedToStart(s, StopReasonDepFailed)
		return
	}
	if !r.hardDepsReady(s) {
		return // woken by a dependency's Started()/FailedToStart()
	}
	if r.needsConsole() && !s.AcquireConsole(r) {
		return // woken by ReleaseConsole handing us the console
	}
	if err := r.Driver.BringUp(r); err != nil {
		r.failedToStart(s, StopReasonExecFailed)
	}
}

func (r *Record) stepTowardStopped(s *Set) {
	switch r.Current {
	case Started:
		r.Current = Stopping
		r.Driver.BringDown(r)
	case Starting:
		if r.Settings.Flags.StartInterruptible {
			r.Driver.Interrupt(r)
		}
		// Otherwise wait for the in-flight start to resolve; started()/
		// failedToStart() both re-check Target and will stop it cleanly.
	case Stopping:
		// Already stopping; nothing more to do.
	}
}

// Started is called by the driver once a service is confirmed up (process
// exec succeeded and, if waits_for_readiness is set, the readiness
// notification arrived).
func (r *Record) Started(s *Set) {
	r.Current = Started
	r.restarting = false
	r.wakeWaiters(s)
	if r.Settings.Flags.StartsOnConsole && !r.Settings.Flags.RunsOnConsole {
		s.ReleaseConsole(r)
	}
	r.notify(EventStarted)
	if r.Target == Stopped {
		s.enqueueTransition(r)
	}
}

// wakeWaiters clears waitingOn on every in-edge and re-queues the
// dependents that were blocked on r, so they re-check hardDepsReady.
func (r *Record) wakeWaiters(s *Set) {
	for _, e := range r.dependsIn {
		if !e.waitingOn {
			continue
		}
		e.waitingOn = false
		s.enqueueTransition(e.From)
	}
}

// FailedToStart is called by the driver (or executeTransition itself, for a
// synchronous resource failure) when a start attempt did not succeed.
func (r *Record) FailedToStart(s *Set, reason StopReason) {
	r.failedToStart(s, reason)
}

func (r *Record) failedToStart(s *Set, reason StopReason) {
	r.Current = Stopped
	r.StopReason = reason
	r.restarting = false
	r.clearWaiters()
	if r.needsConsole() {
		s.ReleaseConsole(r)
	}
	r.Target = Stopped
	r.notify(EventFailedStart)
	r.pendingFailure = true
	s.enqueuePropagation(r)
	r.pendingRelease = true
	s.enqueuePropagation(r)
}

// Stopped is called by the driver once a service is confirmed fully down
// (process reaped, or the internal/scripted stop action completed).
func (r *Record) Stopped(s *Set) {
	r.Current = Stopped
	if r.needsConsole() {
		s.ReleaseConsole(r)
	}
	r.notify(EventStopped)

	if r.restarting {
		r.restarting = false
		r.Target = Started
		s.enqueueTransition(r)
		return
	}

	wantsRestart := r.Target == Started && s.restartsEnabled && !r.forceStop
	r.forceStop = false

	if wantsRestart {
		if lim, ok := r.Driver.(RestartLimiter); ok && !lim.AllowRestart(r.Name, r.Settings.RestartInterval, r.Settings.MaxRestarts) {
			r.Target = Stopped
			r.StopReason = StopReasonFailed
			r.pendingRelease = true
			s.enqueuePropagation(r)
			return
		}
		s.enqueueTransition(r)
		return
	}

	r.pendingRelease = true
	s.enqueuePropagation(r)
}

// Restart requests an explicit stop-then-start cycle (the control
// protocol's RESTARTSERVICE), distinct from a driver-initiated auto-restart:
// it always runs even if the record wasn't explicitly activated, as long as
// it is currently up. Stopped() checks the restarting flag set here and
// flips Target back to Started once the stop completes.
func (r *Record) Restart(s *Set) {
	if r.Current == Stopped {
		if r.Target == Started {
			s.enqueueTransition(r)
		}
		return
	}
	r.restarting = true
	r.Target = Stopped
	s.enqueueTransition(r)
}
