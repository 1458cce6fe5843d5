package graph

import "fmt"

// ShutdownKind is the machine-wide action requested via stop_all.
type ShutdownKind int

const (
	ShutdownNone ShutdownKind = iota
	ShutdownContinue
	ShutdownHalt
	ShutdownPoweroff
	ShutdownReboot
)

// Set is the service set (C2): naming, membership, queue drainage, console
// arbitration and shutdown orchestration. Like
// internal/manager.Manager, it is a flat map keyed by name guarded by the
// caller's single-goroutine discipline (see package doc).
type Set struct {
	records map[string]*Record

	propQueue []*Record
	transQueue []*Record

	consoleHolder *Record
	consoleQueue  []*Record

	restartsEnabled bool
	shutdownKind    ShutdownKind
}

func NewSet() *Set {
	return &Set{records: make(map[string]*Record), restartsEnabled: true}
}

func (s *Set) Find(name string) (*Record, bool) {
	r, ok := s.records[name]
	return r, ok
}

// New creates and inserts a new, Stopped record for settings.
func (s *Set) New(settings Settings, driver Driver) (*Record, error) {
	if _, exists := s.records[settings.Name]; exists {
		return nil, fmt.Errorf("service %q already loaded", settings.Name)
	}
	r := &Record{
		set:      s,
		Name:     settings.Name,
		Kind:     settings.Kind,
		Settings: settings,
		Driver:   driver,
		Current:  Stopped,
		Target:   Stopped,
	}
	s.records[r.Name] = r
	return r, nil
}

// Remove deletes a record from the set. This is
// only valid once current_state == Stopped and nothing depends on it.
func (s *Set) Remove(r *Record) error {
	if r.Current != Stopped {
		return fmt.Errorf("cannot unload %s: not stopped", r.Name)
	}
	if len(r.dependsIn) != 0 {
		return fmt.Errorf("cannot unload %s: other services depend on it", r.Name)
	}
	delete(s.records, r.Name)
	return nil
}

func (s *Set) All() []*Record {
	out := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	return out
}

// --- queues -----------------------------------------------------------

func (s *Set) enqueuePropagation(r *Record) {
	if r.inPropQueue {
		return
	}
	r.inPropQueue = true
	s.propQueue = append(s.propQueue, r)
}

func (s *Set) enqueueTransition(r *Record) {
	if r.inTransQueue {
		return
	}
	r.inTransQueue = true
	s.transQueue = append(s.transQueue, r)
}

// DrainQueues repeatedly flushes the propagation queue then the transition
// queue to fixpoint. It terminates because propagation
// only ever adds start/stop requests and transitions never re-enter Starting
// without passing through Stopped.
func (s *Set) DrainQueues() {
	for len(s.propQueue) > 0 || len(s.transQueue) > 0 {
		for len(s.propQueue) > 0 {
			r := s.propQueue[0]
			s.propQueue = s.propQueue[1:]
			r.inPropQueue = false
			r.propagate(s)
		}
		for len(s.transQueue) > 0 {
			r := s.transQueue[0]
			s.transQueue = s.transQueue[1:]
			r.inTransQueue = false
			r.executeTransition(s)
		}
	}
}

// --- activation requests ------------------------------------------------

func (s *Set) RequestStart(r *Record) {
	if !r.explicitlyActivated {
		r.explicitlyActivated = true
		r.activationCount++
	}
	r.Target = Started
	r.pendingAcquire = true
	s.enqueuePropagation(r)
	s.enqueueTransition(r)
}

// RequestStop clears explicit activation; if bringDown (or the record is now
// unreferenced), it also sets target=Stopped and enqueues the transition.
func (s *Set) RequestStop(r *Record, bringDown bool) {
	if r.explicitlyActivated {
		r.explicitlyActivated = false
		r.activationCount--
	}
	if bringDown || (r.activationCount <= 0 && r.Pin != PinStarted) {
		r.Target = Stopped
		r.pendingRelease = true
		s.enqueuePropagation(r)
		s.enqueueTransition(r)
	}
}

// ForceStop sets force_stop, which suppresses activation-driven restart
// until the record reaches Stopped (cleared in stopped()).
func (s *Set) ForceStop(r *Record) {
	r.forceStop = true
	r.Target = Stopped
	s.enqueueTransition(r)
}

// StopAll disables restarts, unpins
// everything, request stop on every record, and drain to fixpoint.
func (s *Set) StopAll(kind ShutdownKind) {
	s.restartsEnabled = false
	s.shutdownKind = kind
	for _, r := range s.records {
		r.Pin = PinNone
		s.RequestStop(r, true)
	}
	s.DrainQueues()
}

func (s *Set) ShutdownKind() ShutdownKind { return s.shutdownKind }

// ActiveCount is the number of records not Stopped; callers poll this after
// StopAll to know when it is safe to hand off to the shutdown helper.
func (s *Set) ActiveCount() int {
	n := 0
	for _, r := range s.records {
		if r.Current != Stopped {
			n++
		}
	}
	return n
}

// --- console arbitration -------------------------------------------------

func (s *Set) AcquireConsole(r *Record) bool {
	if s.consoleHolder == nil {
		s.consoleHolder = r
		r.holdsConsole = true
		return true
	}
	if s.consoleHolder == r {
		return true
	}
	if !r.consoleQueued {
		r.consoleQueued = true
		s.consoleQueue = append(s.consoleQueue, r)
	}
	return false
}

func (s *Set) ReleaseConsole(r *Record) {
	if s.consoleHolder != r {
		return
	}
	r.holdsConsole = false
	s.consoleHolder = nil
	for len(s.consoleQueue) > 0 {
		next := s.consoleQueue[0]
		s.consoleQueue = s.consoleQueue[1:]
		next.consoleQueued = false
		if next.Current == Starting {
			s.consoleHolder = next
			next.holdsConsole = true
			s.enqueueTransition(next)
			return
		}
	}
}
