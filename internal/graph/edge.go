package graph

import "fmt"

// EdgeKind is the relationship a dependency edge expresses.
type EdgeKind int

const (
	EdgeRegular EdgeKind = iota
	EdgeWaitsFor
	EdgeSoft
	EdgeMilestone
	EdgeBefore
	EdgeAfter
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeRegular:
		return "regular"
	case EdgeWaitsFor:
		return "waits-for"
	case EdgeSoft:
		return "soft"
	case EdgeMilestone:
		return "milestone"
	case EdgeBefore:
		return "before"
	case EdgeAfter:
		return "after"
	default:
		return "unknown"
	}
}

// acquires reports whether this edge kind holds an acquire on its target
// while the source is active.
func (k EdgeKind) acquires() bool {
	switch k {
	case EdgeRegular, EdgeWaitsFor, EdgeSoft, EdgeMilestone:
		return true
	default:
		return false
	}
}

// cycleRelevant reports whether this edge kind participates in cycle
// detection: only Regular/Milestone/Waits-For edges can form a cycle.
func (k EdgeKind) cycleRelevant() bool {
	switch k {
	case EdgeRegular, EdgeMilestone, EdgeWaitsFor:
		return true
	default:
		return false
	}
}

// Edge is one dependency link, From -> To. holdingAcquire/waitingOn are
// single-sourced here rather than duplicated between the two back-pointer
// lists, to avoid the two copies drifting out of sync.
type Edge struct {
	From, To       *Record
	Kind           EdgeKind
	holdingAcquire bool
	waitingOn      bool // From is blocked in Starting waiting on To
}

func (e *Edge) HoldingAcquire() bool { return e.holdingAcquire }
func (e *Edge) WaitingOn() bool      { return e.waitingOn }

// AddDependency creates a From->To edge of the given kind, rejecting a
// cycle among Regular/Milestone/Waits-For edges and always keeping the
// out-edge and in-edge back-links in sync.
func (s *Set) AddDependency(from, to *Record, kind EdgeKind) (*Edge, error) {
	if from == to {
		return nil, fmt.Errorf("dependency cycle: %s depends on itself", from.Name)
	}
	if kind.cycleRelevant() {
		if pathExists(to, from, map[*Record]bool{}) {
			return nil, fmt.Errorf("dependency cycle: adding %s->%s (%s) would create a cycle", from.Name, to.Name, kind)
		}
	}
	e := &Edge{From: from, To: to, Kind: kind}
	from.dependsOut = append(from.dependsOut, e)
	to.dependsIn = append(to.dependsIn, e)
	return e, nil
}

// RemoveDependency splices out the edge matching (from, to, kind), if any.
func (s *Set) RemoveDependency(from, to *Record, kind EdgeKind) {
	from.dependsOut = removeEdge(from.dependsOut, to, kind, true)
	to.dependsIn = removeEdge(to.dependsIn, from, kind, false)
}

func removeEdge(edges []*Edge, other *Record, kind EdgeKind, matchTo bool) []*Edge {
	out := edges[:0]
	for _, e := range edges {
		o := e.To
		if !matchTo {
			o = e.From
		}
		if o == other && e.Kind == kind {
			continue
		}
		out = append(out, e)
	}
	return out
}

// pathExists performs a DFS from src over out-edges restricted to
// Regular/Milestone/Waits-For looking for target.
func pathExists(src, target *Record, visited map[*Record]bool) bool {
	if src == target {
		return true
	}
	if visited[src] {
		return false
	}
	visited[src] = true
	for _, e := range src.dependsOut {
		if !e.Kind.cycleRelevant() {
			continue
		}
		if pathExists(e.To, target, visited) {
			return true
		}
	}
	return false
}
