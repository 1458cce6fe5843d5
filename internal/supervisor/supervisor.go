// Package supervisor is C4: the process-kind driver for internal/graph.
// It backs KindProcess, KindBgProcess and KindScripted records, turning a
// graph.Record's Settings into an *exec.Cmd, supervising the resulting
// child process, and reporting back to the graph by posting onto the owning
// reactor. KindBgProcess records are run the same way as KindProcess: the
// child is waited on directly and no PID file is read back.
//
// Grounded on internal/process.Process (exec.Cmd construction, stdio
// wiring through internal/logger, PID-file handling, process-group
// signaling) and internal/manager.Manager (restart bookkeeping), adapted
// from "one long-lived named process" to "one graph.Record bring-up
// attempt at a time".
package supervisor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loykin/dinitgo/internal/detector"
	"github.com/loykin/dinitgo/internal/env"
	"github.com/loykin/dinitgo/internal/graph"
	"github.com/loykin/dinitgo/internal/history"
	"github.com/loykin/dinitgo/internal/logger"
	"github.com/loykin/dinitgo/internal/metrics"
	"github.com/loykin/dinitgo/internal/process"
	"github.com/loykin/dinitgo/internal/store"
)

// Poster is the subset of internal/reactor.Reactor the driver needs; kept
// as an interface so this package doesn't import internal/reactor (which
// would create an import cycle the other direction in cmd/dinitd's wiring).
type Poster interface {
	Post(func(*graph.Set))
}

// restartWindow tracks the sliding restart-rate-limit window for one record.
type restartWindow struct {
	times []time.Time
}

func (w *restartWindow) allow(now time.Time, interval time.Duration, max int) bool {
	cutoff := now.Add(-interval)
	kept := w.times[:0]
	for _, t := range w.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.times = kept
	if len(w.times) >= max {
		return false
	}
	w.times = append(w.times, now)
	return true
}

// Driver implements graph.Driver for process-backed service kinds.
type Driver struct {
	poster Poster
	env    *env.Env
	log    *slog.Logger

	mu        sync.Mutex
	running   map[string]*process.Process
	restarts  map[string]*restartWindow
	store     store.Store
	histSinks []history.Sink
}

func New(poster Poster, globalEnv *env.Env, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		poster:   poster,
		env:      globalEnv,
		log:      log,
		running:  make(map[string]*process.Process),
		restarts: make(map[string]*restartWindow),
	}
}

// SetStore configures a persistence store recording process lifecycle
// events (start/stop, PID, exit status), mirroring the teacher's
// Manager.SetStore. Passing nil clears it.
func (d *Driver) SetStore(s store.Store) error {
	d.mu.Lock()
	d.store = s
	d.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.EnsureSchema(context.Background())
}

// SetHistorySinks configures external history sinks (OpenSearch,
// ClickHouse, ...) that receive a copy of every start/stop event.
func (d *Driver) SetHistorySinks(sinks ...history.Sink) {
	d.mu.Lock()
	d.histSinks = append([]history.Sink(nil), sinks...)
	d.mu.Unlock()
}

func (d *Driver) recordStart(snap process.Status) {
	d.mu.Lock()
	st := d.store
	sinks := append([]history.Sink(nil), d.histSinks...)
	d.mu.Unlock()
	if st == nil && len(sinks) == 0 {
		return
	}
	rec := store.Record{Name: snap.Name, PID: snap.PID, StartedAt: snap.StartedAt}
	if st != nil {
		_ = st.RecordStart(context.Background(), rec)
	}
	for _, s := range sinks {
		_ = s.Send(context.Background(), history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: rec})
	}
}

func (d *Driver) recordStop(snap process.Status) {
	d.mu.Lock()
	st := d.store
	sinks := append([]history.Sink(nil), d.histSinks...)
	d.mu.Unlock()
	if st == nil && len(sinks) == 0 {
		return
	}
	uniq := store.UniqueKey(snap.PID, snap.StartedAt)
	if st != nil {
		_ = st.RecordStop(context.Background(), uniq, snap.StoppedAt, snap.ExitErr)
	}
	rec := store.Record{
		Name:      snap.Name,
		PID:       snap.PID,
		StartedAt: snap.StartedAt,
		StoppedAt: sql.NullTime{Time: snap.StoppedAt, Valid: !snap.StoppedAt.IsZero()},
		Running:   false,
	}
	if snap.ExitErr != nil {
		rec.ExitErr = sql.NullString{String: snap.ExitErr.Error(), Valid: true}
	}
	for _, s := range sinks {
		_ = s.Send(context.Background(), history.Event{Type: history.EventStop, OccurredAt: time.Now().UTC(), Record: rec})
	}
}

// toSpec adapts a graph.Settings into the internal/process.Spec shape so
// internal/process's command/stdio/pidfile plumbing can be reused unchanged.
func toSpec(st graph.Settings) process.Spec {
	spec := process.Spec{
		Name:    st.Name,
		Command: st.Command,
		WorkDir: st.WorkDir,
		Env:     st.Env,
		PIDFile: st.PIDFile,
		Log: logger.Config{
			Dir:        st.LogDir,
			StdoutPath: st.LogStdout,
			StderrPath: st.LogStderr,
		},
	}
	if st.PIDFile != "" {
		spec.Detectors = []detector.Detector{detector.PIDFileDetector{PIDFile: st.PIDFile}}
	}
	return spec
}

// BringUp starts the process backing r (KindBgProcess included; it is not
// detached), returning a synchronous error only for resource failures that
// happen before any child exists. Readiness and exit are reported
// asynchronously via the reactor.
func (d *Driver) BringUp(r *graph.Record) error {
	st := r.Settings
	if err := st.Hooks.RunPhase(context.Background(), st.Name, process.PhasePreStart); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	spec := toSpec(st)
	proc := process.New(spec)

	merged := d.env.Merge(st.Env)

	var readyW *os.File
	var readyR *os.File
	if st.Flags.WaitsForReadiness {
		var err error
		readyR, readyW, err = os.Pipe()
		if err != nil {
			return fmt.Errorf("supervisor: readiness pipe: %w", err)
		}
		// cmd.ExtraFiles has nothing else in it, so this pipe always lands
		// at fd 3 in the child regardless of st.ReadinessFD's configured
		// value; advertise the fd Go actually assigns, not the configured one.
		if st.ReadinessFDVar != "" {
			merged = append(merged, fmt.Sprintf("%s=%d", st.ReadinessFDVar, 3))
		}
	}

	cmd := proc.ConfigureCmd(merged)
	if readyW != nil {
		cmd.ExtraFiles = append(cmd.ExtraFiles, readyW)
		defer readyW.Close()
	}

	if err := proc.TryStart(cmd); err != nil {
		if readyR != nil {
			readyR.Close()
		}
		return fmt.Errorf("supervisor: start %s: %w", st.Name, err)
	}

	d.mu.Lock()
	d.running[st.Name] = proc
	running := len(d.running)
	d.mu.Unlock()

	snap := proc.Snapshot()
	d.recordStart(snap)
	metrics.IncStart(st.Name)
	if !snap.StartedAt.IsZero() {
		metrics.ObserveStartDuration(st.Name, time.Since(snap.StartedAt).Seconds())
	}
	metrics.SetRecordsRunning(running)

	if err := st.Hooks.RunPhase(context.Background(), st.Name, process.PhasePostStart); err != nil {
		d.log.Error("post_start hook failed", "record", st.Name, "error", err)
	}

	go d.watch(r, proc, readyR)

	if !st.Flags.WaitsForReadiness {
		d.poster.Post(func(s *graph.Set) { r.Started(s) })
	}
	return nil
}

// RunningPIDs returns a snapshot of every record name with a live process
// and its PID, for internal/metrics.ProcessMetricsCollector's periodic
// CPU/memory sampling.
func (d *Driver) RunningPIDs() map[string]int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	pids := make(map[string]int32, len(d.running))
	for name, proc := range d.running {
		if snap := proc.Snapshot(); snap.PID > 0 {
			pids[name] = int32(snap.PID)
		}
	}
	return pids
}

// watch waits for readiness (if applicable) and then for process exit,
// reporting both back onto the reactor goroutine. This is the async half
// of BringUp/BringDown described in graph.Driver's doc comment.
func (d *Driver) watch(r *graph.Record, proc *process.Process, readyR *os.File) {
	if readyR != nil {
		buf := make([]byte, 1)
		n, _ := readyR.Read(buf)
		readyR.Close()
		if n > 0 {
			d.poster.Post(func(s *graph.Set) { r.Started(s) })
		} else {
			d.poster.Post(func(s *graph.Set) { r.FailedToStart(s, graph.StopReasonExecFailed) })
		}
	}

	proc.MonitoringStartIfNeeded()
	cmd := proc.CopyCmd()
	var err error
	if cmd != nil {
		err = cmd.Wait()
	}
	proc.CloseWaitDone()
	proc.MarkExited(err)
	proc.CloseWriters()
	proc.RemovePIDFile()

	d.recordStop(proc.Snapshot())
	metrics.IncStop(r.Name)

	if err := r.Settings.Hooks.RunPhase(context.Background(), r.Name, process.PhasePostStop); err != nil {
		d.log.Error("post_stop hook failed", "record", r.Name, "error", err)
	}

	d.mu.Lock()
	delete(d.running, r.Name)
	delete(d.restarts, r.Name)
	running := len(d.running)
	d.mu.Unlock()
	metrics.SetRecordsRunning(running)

	d.poster.Post(func(s *graph.Set) {
		from := r.Current
		if r.Current == graph.Starting {
			r.FailedToStart(s, graph.StopReasonExecFailed)
			metrics.RecordStateTransition(r.Name, from.String(), r.Current.String())
			metrics.SetCurrentState(r.Name, from.String(), false)
			metrics.SetCurrentState(r.Name, r.Current.String(), true)
			return
		}
		r.Stopped(s)
		metrics.RecordStateTransition(r.Name, from.String(), r.Current.String())
		metrics.SetCurrentState(r.Name, from.String(), false)
		metrics.SetCurrentState(r.Name, r.Current.String(), true)
	})
}

// BringDown runs StopCommand first when one is set (for any kind) and then
// stops the process with proc.Stop: SIGTERM, then SIGKILL after StopTimeout.
func (d *Driver) BringDown(r *graph.Record) {
	d.mu.Lock()
	proc, ok := d.running[r.Name]
	d.mu.Unlock()
	if !ok {
		// Nothing tracked (the process already exited and was removed):
		// consider it already down.
		d.poster.Post(func(s *graph.Set) { r.Stopped(s) })
		return
	}

	go func() {
		if err := r.Settings.Hooks.RunPhase(context.Background(), r.Name, process.PhasePreStop); err != nil {
			d.log.Error("pre_stop hook failed", "record", r.Name, "error", err)
		}

		timeout := r.Settings.StopTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		if r.Settings.StopCommand != "" {
			stopSpec := process.Spec{Name: r.Name + "-stop", Command: r.Settings.StopCommand, WorkDir: r.Settings.WorkDir}
			stopProc := process.New(stopSpec)
			cmd := stopProc.ConfigureCmd(d.env.Merge(r.Settings.Env))
			if err := stopProc.TryStart(cmd); err == nil {
				stopProc.MonitoringStartIfNeeded()
				if sc := stopProc.CopyCmd(); sc != nil {
					_ = sc.Wait()
				}
			}
		}
		_ = proc.Stop(timeout)
		// proc.Stop already escalates SIGTERM->SIGKILL internally and
		// blocks until exit or timeout; watch() will observe the exit
		// and call r.Stopped() from there.
	}()
}

// Interrupt abandons a start attempt by killing the process with proc.Kill
// (SIGKILL); no interrupt signal is sent first.
func (d *Driver) Interrupt(r *graph.Record) {
	d.mu.Lock()
	proc, ok := d.running[r.Name]
	d.mu.Unlock()
	if !ok {
		return
	}
	_ = proc.Kill()
}

// AllowRestart applies restart rate limiting: at most MaxRestarts
// within RestartInterval. internal/graph calls the driver's BringUp again
// whenever it decides (via its own restart policy check) that a record
// should come back up; the driver is the layer that actually enforces the
// numeric limit and can veto by returning false, on which graph sets the
// record's target to Stopped with StopReasonFailed instead of restarting it.
func (d *Driver) AllowRestart(name string, interval time.Duration, max int) bool {
	if max <= 0 {
		return true
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.restarts[name]
	if !ok {
		w = &restartWindow{}
		d.restarts[name] = w
	}
	allowed := w.allow(time.Now(), interval, max)
	if allowed {
		metrics.IncRestart(name)
	}
	return allowed
}
