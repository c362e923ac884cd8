package flow

import (
	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
)

var (
	// ErrCycle is returned when a run's edges don't form a DAG.
	ErrCycle = errors.New("flow graph contains a cycle")
	// ErrDuplicateNode is returned when two nodes of a run share an id.
	ErrDuplicateNode = errors.New("duplicate node id")
	// ErrInvalidNode is returned for nodes without an id or a type.
	ErrInvalidNode = errors.New("node needs an id and a type")
)

// DanglingEdge is an edge whose destination isn't part of the run's
// node set, typically because the destination hasn't started yet.
type DanglingEdge struct {
	From string
	To   Edge
}

// Graph indexes the nodes of one run by id.
type Graph struct {
	g        graph.Graph[string, Node]
	nodes    []Node
	order    map[string]int
	dangling []DanglingEdge
}

func nodeHash(n Node) string {
	return n.ID
}

// NewGraph builds the flow graph of a run. Dangling edges are kept out
// of the index and reported by Dangling; cycles and duplicate ids are
// errors.
func NewGraph(nodes []Node) (*Graph, error) {
	fg := &Graph{
		g:     graph.New(nodeHash, graph.Directed(), graph.Acyclic(), graph.PreventCycles()),
		nodes: make([]Node, 0, len(nodes)),
		order: make(map[string]int, len(nodes)),
	}

	for _, n := range nodes {
		if n.ID == "" || n.Type == "" {
			return nil, errors.Wrapf(ErrInvalidNode, "node %q", n.ID)
		}

		err := fg.g.AddVertex(n.Copy())
		if errors.Is(err, graph.ErrVertexAlreadyExists) {
			return nil, errors.Wrapf(ErrDuplicateNode, "node %q", n.ID)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "unable to add node %q", n.ID)
		}

		fg.order[n.ID] = len(fg.nodes)
		fg.nodes = append(fg.nodes, n.Copy())
	}

	for _, n := range fg.nodes {
		for _, e := range n.Edges {
			if _, ok := fg.order[e.ID]; !ok {
				fg.dangling = append(fg.dangling, DanglingEdge{From: n.ID, To: e})
				continue
			}

			err := fg.g.AddEdge(n.ID, e.ID)
			switch {
			case err == nil, errors.Is(err, graph.ErrEdgeAlreadyExists):
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				return nil, errors.Wrapf(ErrCycle, "edge %v -> %v", n.ID, e.ID)
			default:
				return nil, errors.Wrapf(err, "unable to add edge %v -> %v", n.ID, e.ID)
			}
		}
	}

	return fg, nil
}

// Len is the number of nodes in the graph.
func (fg *Graph) Len() int {
	return len(fg.nodes)
}

// Node returns a copy of the node with the given id.
func (fg *Graph) Node(id string) (Node, bool) {
	i, ok := fg.order[id]
	if !ok {
		return Node{}, false
	}

	return fg.nodes[i].Copy(), true
}

// Nodes returns the nodes in topological order. Nodes that could run in
// either order keep the order they were given in.
func (fg *Graph) Nodes() []Node {
	less := func(a, b string) bool {
		return fg.order[a] < fg.order[b]
	}

	ids, err := graph.StableTopologicalSort(fg.g, less)
	if err != nil {
		// The graph is acyclic by construction.
		ids = nil
		for _, n := range fg.nodes {
			ids = append(ids, n.ID)
		}
	}

	nodes := make([]Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, fg.nodes[fg.order[id]].Copy())
	}

	return nodes
}

// Roots returns the nodes nothing points at, in insertion order.
func (fg *Graph) Roots() []Node {
	preds, err := fg.g.PredecessorMap()
	if err != nil {
		return []Node{}
	}

	roots := []Node{}
	for _, n := range fg.nodes {
		if len(preds[n.ID]) == 0 {
			roots = append(roots, n.Copy())
		}
	}

	return roots
}

// Terminals returns the nodes without outgoing edges, in insertion order.
func (fg *Graph) Terminals() []Node {
	terms := []Node{}
	for _, n := range fg.nodes {
		if len(n.Edges) == 0 {
			terms = append(terms, n.Copy())
		}
	}

	return terms
}

// Dangling returns the edges whose destination isn't in the graph.
func (fg *Graph) Dangling() []DanglingEdge {
	cp := make([]DanglingEdge, len(fg.dangling))
	copy(cp, fg.dangling)

	return cp
}

// CheckEdges returns the edges of nodes that point outside of nodes.
func CheckEdges(nodes []Node) []DanglingEdge {
	ids := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = struct{}{}
	}

	dangling := []DanglingEdge{}
	for _, n := range nodes {
		for _, e := range n.Edges {
			if _, ok := ids[e.ID]; !ok {
				dangling = append(dangling, DanglingEdge{From: n.ID, To: e})
			}
		}
	}

	return dangling
}
