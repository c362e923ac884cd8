// Package flow models one pipeline run as a DAG of execution nodes.
//
// A node is a stage, a parallel branch or a step container. Its outgoing
// edges name possible successors by id and type; they are keys into the
// run's node index, never pointers, so a node can be inspected without
// resolving its neighbours. Downstream builds are kept apart from edges
// because they point at other runs entirely.
//
// For the pipeline
//
//	stage 'build'
//	stage 'test'
//	parallel 'unit': {...}, 'integration': {...}
//	stage 'deploy'
//
// the graph is
//
//	                 /---- unit ----------\
//	build--->test--->                      ------> deploy
//	                 \----- integration ---/
package flow

import (
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Known node type tags.
const (
	TypeStage    = "STAGE"
	TypeParallel = "PARALLEL"
	TypeSteps    = "STEPS"
)

// NormalizeType returns the canonical form of a node type tag.
func NormalizeType(t string) string {
	// Casers keep state and can't be shared between goroutines.
	return cases.Upper(language.Und).String(t)
}

// Edge points at a destination node of the same run.
type Edge struct {
	ID   string
	Type string
}

// Link is an opaque, resolvable address of a resource.
type Link struct {
	Href string
}

// DownstreamBuild is a build of another pipeline that a node triggered.
// Two values are equal iff their description and link are equal, so they
// can be compared with == and used as map keys.
type DownstreamBuild struct {
	Description string
	Link        Link
}

// Step is a unit of work inside a node.
type Step struct {
	ID               string
	DisplayName      string
	Type             string
	State            string
	Result           string
	StartTime        *time.Time
	DurationInMillis int64
}

// Node is the record the execution tracker keeps for a node.
type Node struct {
	ID               string
	Type             string
	DisplayName      string
	State            string
	Result           string
	StartTime        *time.Time
	DurationInMillis int64

	// CauseOfBlockage is nil unless the node is blocked.
	CauseOfBlockage *string

	// Edges are in declaration order.
	Edges            []Edge
	DownstreamBuilds []DownstreamBuild
}

// Blocked returns a blockage cause suitable for Node.CauseOfBlockage.
// An empty cause means the node isn't blocked.
func Blocked(cause string) *string {
	if cause == "" {
		return nil
	}

	return &cause
}

// Copy returns a deep copy of n.
func (n Node) Copy() Node {
	cp := n
	cp.CauseOfBlockage = copyCause(n.CauseOfBlockage)
	cp.StartTime = copyTime(n.StartTime)
	cp.Edges = copyEdges(n.Edges)
	cp.DownstreamBuilds = copyBuilds(n.DownstreamBuilds)

	return cp
}

// HasDownstreamBuild reports whether b is already recorded on n.
func (n Node) HasDownstreamBuild(b DownstreamBuild) bool {
	for _, have := range n.DownstreamBuilds {
		if have == b {
			return true
		}
	}

	return false
}

// SameEdges reports whether a and b list the same edges in the same order.
func SameEdges(a, b []Edge) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

func copyCause(c *string) *string {
	if c == nil || *c == "" {
		return nil
	}

	s := *c
	return &s
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	cp := *t
	return &cp
}

func copyEdges(edges []Edge) []Edge {
	cp := make([]Edge, len(edges))
	copy(cp, edges)

	return cp
}

func copyBuilds(builds []DownstreamBuild) []DownstreamBuild {
	cp := make([]DownstreamBuild, len(builds))
	copy(cp, builds)

	return cp
}

// CopySteps returns a copy of steps that is never nil.
func CopySteps(steps []Step) []Step {
	cp := make([]Step, len(steps))
	for i, s := range steps {
		s.StartTime = copyTime(s.StartTime)
		cp[i] = s
	}

	return cp
}
