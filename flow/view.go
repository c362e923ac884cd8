package flow

import (
	"fmt"
	"net/url"
)

// PipelineNode is a read-only view of one vertex of a run's flow graph.
// None of its methods fail: state that can't be determined is reported
// as absent (nil blockage, empty edges, empty builds).
type PipelineNode interface {
	// ID is never empty and never changes.
	ID() string
	// Type is never empty and never changes.
	Type() string
	// CauseOfBlockage is nil unless the node is blocked, in which case
	// it explains why.
	CauseOfBlockage() *string
	// Steps is never nil.
	Steps() StepContainer
	// Edges are the outgoing edges in declaration order. Never nil.
	Edges() []Edge
	// DownstreamBuilds are the builds this node kicked off. Never nil.
	DownstreamBuilds() []DownstreamBuild
}

// StepContainer is a handle on the steps inside a stage or parallel
// branch. The node doesn't own them.
type StepContainer interface {
	Link() Link
	Steps() []Step
}

// Source is the execution tracker that backs live views. It is the sole
// writer of node state; views only read from it.
type Source interface {
	Node(run, id string) (Node, bool)
	NodeSteps(run, id string) []Step
}

// StepsLink returns the address of a node's step container. Run and node
// ids are path escaped, so ids containing "/" stay a single segment.
func StepsLink(run, id string) Link {
	return Link{
		Href: fmt.Sprintf("/runs/%v/nodes/%v/steps", url.PathEscape(run), url.PathEscape(id)),
	}
}

// Snapshot returns a view frozen at the state of n and steps.
func Snapshot(run string, n Node, steps []Step) PipelineNode {
	return &snapshot{
		node: n.Copy(),
		steps: &stepList{
			link:  StepsLink(run, n.ID),
			steps: CopySteps(steps),
		},
	}
}

type snapshot struct {
	node  Node
	steps *stepList
}

func (s *snapshot) ID() string { return s.node.ID }

func (s *snapshot) Type() string { return s.node.Type }

func (s *snapshot) CauseOfBlockage() *string { return copyCause(s.node.CauseOfBlockage) }

func (s *snapshot) Steps() StepContainer { return s.steps }

func (s *snapshot) Edges() []Edge { return copyEdges(s.node.Edges) }

func (s *snapshot) DownstreamBuilds() []DownstreamBuild { return copyBuilds(s.node.DownstreamBuilds) }

type stepList struct {
	link  Link
	steps []Step
}

func (l *stepList) Link() Link { return l.link }

func (l *stepList) Steps() []Step { return CopySteps(l.steps) }

// Live returns a view of n that re-reads src on every call, except for
// ID and Type which can't change once a node exists. Two calls may
// observe different run states.
func Live(src Source, run string, n Node) PipelineNode {
	return &live{
		src:  src,
		run:  run,
		id:   n.ID,
		typ:  n.Type,
		link: StepsLink(run, n.ID),
	}
}

type live struct {
	src  Source
	run  string
	id   string
	typ  string
	link Link
}

func (l *live) ID() string { return l.id }

func (l *live) Type() string { return l.typ }

func (l *live) CauseOfBlockage() *string {
	n, ok := l.src.Node(l.run, l.id)
	if !ok {
		return nil
	}

	return copyCause(n.CauseOfBlockage)
}

func (l *live) Steps() StepContainer { return liveSteps{l} }

func (l *live) Edges() []Edge {
	n, ok := l.src.Node(l.run, l.id)
	if !ok {
		return []Edge{}
	}

	return copyEdges(n.Edges)
}

func (l *live) DownstreamBuilds() []DownstreamBuild {
	n, ok := l.src.Node(l.run, l.id)
	if !ok {
		return []DownstreamBuild{}
	}

	return copyBuilds(n.DownstreamBuilds)
}

type liveSteps struct {
	node *live
}

func (s liveSteps) Link() Link { return s.node.link }

func (s liveSteps) Steps() []Step {
	return CopySteps(s.node.src.NodeSteps(s.node.run, s.node.id))
}
