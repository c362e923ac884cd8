package store

import "github.com/run-ci/flowgraph/flow"

type rootnode struct {
	children map[string]*runnode
}

// runnode indexes a run's nodes by id. Edges stay string keys into this
// index so nodes never hold each other.
type runnode struct {
	children map[string]*flownode
	order    []string
}

type flownode struct {
	data  flow.Node
	steps []flow.Step
}

func newRootnode() *rootnode {
	return &rootnode{
		children: make(map[string]*runnode),
	}
}

func (r *rootnode) run(run string, create bool) *runnode {
	rn, ok := r.children[run]
	if !ok && create {
		rn = &runnode{
			children: make(map[string]*flownode),
		}
		r.children[run] = rn
	}

	return rn
}

func (rn *runnode) nodes() []flow.Node {
	nodes := make([]flow.Node, 0, len(rn.order))
	for _, id := range rn.order {
		nodes = append(nodes, rn.children[id].data.Copy())
	}

	return nodes
}
