package store

import (
	"errors"

	"github.com/run-ci/flowgraph/flow"
	log "github.com/sirupsen/logrus"
)

var logger *log.Entry

var (
	// ErrRunNotFound is returned when the tracker knows nothing about
	// a run.
	ErrRunNotFound = errors.New("run not found")
	// ErrNodeNotFound is returned when a run doesn't have a node with
	// the requested id.
	ErrNodeNotFound = errors.New("node not found")
	// ErrNodeImmutable is returned when an update tries to change a
	// node's type or its position in the graph.
	ErrNodeImmutable = errors.New("node type and edges can't change")
	// ErrInvalidNode is returned for nodes without an id or a type.
	ErrInvalidNode = errors.New("node needs an id and a type")
	// ErrNotAuthenticated is returned when a user's credentials don't
	// match.
	ErrNotAuthenticated = errors.New("not authenticated")
)

func init() {
	logger = log.WithFields(log.Fields{
		"package": "store",
	})
}

// Tracker is the source of truth for the flow graphs of pipeline runs.
// Consumers should define their own interfaces with the subset of these
// methods they need.
type Tracker interface {
	flow.Source

	// PutNode creates a node or refreshes its mutable fields. Changing
	// the type or the edges of an existing node returns ErrNodeImmutable.
	PutNode(run string, n flow.Node) error
	// SetBlockage sets or clears (nil) a node's cause of blockage.
	SetBlockage(run, id string, cause *string) error
	// AddDownstreamBuild records a build the node kicked off. Adding the
	// same build twice is a no-op.
	AddDownstreamBuild(run, id string, b flow.DownstreamBuild) error
	// SetSteps replaces the steps of a node.
	SetSteps(run, id string, steps []flow.Step) error

	// GetNodes returns the nodes of a run in the order they were created.
	// If the run isn't known it returns ErrRunNotFound.
	GetNodes(run string) ([]flow.Node, error)
	// GetNode returns ErrRunNotFound or ErrNodeNotFound when the node
	// can't be found.
	GetNode(run, id string) (flow.Node, error)
	// GetSteps returns the steps of a node, never nil.
	GetSteps(run, id string) ([]flow.Step, error)
}

// User is an entity that's authorized to read flow graphs.
type User struct {
	Email    string `json:"email" yaml:"email"`
	Name     string `json:"name" yaml:"name"`
	Password string `json:"password" yaml:"password"`
}

func validate(n flow.Node) error {
	if n.ID == "" || n.Type == "" {
		return ErrInvalidNode
	}

	return nil
}

// normalize returns a copy of n with canonical type tags on the node and
// its edges.
func normalize(n flow.Node) flow.Node {
	cp := n.Copy()
	cp.Type = flow.NormalizeType(cp.Type)
	for i := range cp.Edges {
		cp.Edges[i].Type = flow.NormalizeType(cp.Edges[i].Type)
	}

	return cp
}

// checkImmutable compares an update against the stored node.
func checkImmutable(have, want flow.Node) error {
	if have.Type != want.Type || !flow.SameEdges(have.Edges, want.Edges) {
		return ErrNodeImmutable
	}

	return nil
}

// mergeBuilds returns have plus the builds of add it doesn't contain.
func mergeBuilds(have flow.Node, add []flow.DownstreamBuild) []flow.DownstreamBuild {
	merged := have.Copy()
	for _, b := range add {
		if !merged.HasDownstreamBuild(b) {
			merged.DownstreamBuilds = append(merged.DownstreamBuilds, b)
		}
	}

	return merged.DownstreamBuilds
}
