package flow_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/run-ci/flowgraph/flow"
)

// buildTestDeploy is build -> test -> {unit, integration} -> deploy.
func buildTestDeploy() []flow.Node {
	return []flow.Node{
		{ID: "build", Type: flow.TypeStage, Edges: []flow.Edge{{ID: "test", Type: flow.TypeStage}}},
		{ID: "test", Type: flow.TypeStage, Edges: []flow.Edge{
			{ID: "unit", Type: flow.TypeParallel},
			{ID: "integration", Type: flow.TypeParallel},
		}},
		{ID: "unit", Type: flow.TypeParallel, Edges: []flow.Edge{{ID: "deploy", Type: flow.TypeStage}}},
		{ID: "integration", Type: flow.TypeParallel, Edges: []flow.Edge{{ID: "deploy", Type: flow.TypeStage}}},
		{ID: "deploy", Type: flow.TypeStage},
	}
}

type fakeSource struct {
	mu    sync.RWMutex
	nodes map[string]flow.Node
	steps map[string][]flow.Step
}

func (s *fakeSource) Node(run, id string) (flow.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[run+"/"+id]
	return n.Copy(), ok
}

func (s *fakeSource) NodeSteps(run, id string) []flow.Step {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return flow.CopySteps(s.steps[run+"/"+id])
}

func (s *fakeSource) put(run string, n flow.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[run+"/"+n.ID] = n.Copy()
}

func TestSnapshotAccessors(t *testing.T) {
	n := flow.Node{
		ID:              "test",
		Type:            flow.TypeStage,
		CauseOfBlockage: flow.Blocked("Waiting for input"),
		Edges: []flow.Edge{
			{ID: "unit", Type: flow.TypeParallel},
			{ID: "integration", Type: flow.TypeParallel},
		},
	}

	pn := flow.Snapshot("42", n, nil)

	for i := 0; i < 3; i++ {
		assert.Equal(t, "test", pn.ID())
		assert.Equal(t, flow.TypeStage, pn.Type())
		assert.Equal(t, []flow.Edge{
			{ID: "unit", Type: flow.TypeParallel},
			{ID: "integration", Type: flow.TypeParallel},
		}, pn.Edges())
	}

	require.NotNil(t, pn.CauseOfBlockage())
	assert.Equal(t, "Waiting for input", *pn.CauseOfBlockage())

	assert.NotNil(t, pn.DownstreamBuilds())
	assert.Empty(t, pn.DownstreamBuilds())

	require.NotNil(t, pn.Steps())
	assert.NotNil(t, pn.Steps().Steps())
	assert.Empty(t, pn.Steps().Steps())
	assert.Equal(t, "/runs/42/nodes/test/steps", pn.Steps().Link().Href)
}

func TestSnapshotIsolatedFromCaller(t *testing.T) {
	n := flow.Node{
		ID:    "build",
		Type:  flow.TypeStage,
		Edges: []flow.Edge{{ID: "test", Type: flow.TypeStage}},
	}

	pn := flow.Snapshot("1", n, nil)
	n.Edges[0].ID = "mutated"

	edges := pn.Edges()
	edges[0].ID = "mutated too"

	assert.Equal(t, "test", pn.Edges()[0].ID)
}

func TestBlocked(t *testing.T) {
	assert.Nil(t, flow.Blocked(""))

	cause := flow.Blocked("Waiting for next available executor")
	require.NotNil(t, cause)
	assert.Equal(t, "Waiting for next available executor", *cause)

	empty := ""
	pn := flow.Snapshot("1", flow.Node{ID: "a", Type: flow.TypeStage, CauseOfBlockage: &empty}, nil)
	assert.Nil(t, pn.CauseOfBlockage())
}

func TestDownstreamBuildEquality(t *testing.T) {
	a := flow.DownstreamBuild{Description: "other #3", Link: flow.Link{Href: "/jobs/other/runs/3/"}}
	b := flow.DownstreamBuild{Description: "other #3", Link: flow.Link{Href: "/jobs/other/runs/3/"}}
	c := flow.DownstreamBuild{Description: "other #4", Link: flow.Link{Href: "/jobs/other/runs/3/"}}
	d := flow.DownstreamBuild{Description: "other #3", Link: flow.Link{Href: "/jobs/other/runs/4/"}}

	assert.True(t, a == b)
	assert.False(t, a == c)
	assert.False(t, a == d)

	set := map[flow.DownstreamBuild]int{}
	set[a]++
	set[b]++
	set[c]++

	assert.Equal(t, 2, set[a])
	assert.Len(t, set, 2)
}

func TestLiveReflectsTracker(t *testing.T) {
	src := &fakeSource{
		nodes: map[string]flow.Node{},
		steps: map[string][]flow.Step{},
	}

	n := flow.Node{ID: "deploy", Type: flow.TypeStage}
	src.put("7", n)

	pn := flow.Live(src, "7", n)
	assert.Nil(t, pn.CauseOfBlockage())
	assert.Empty(t, pn.DownstreamBuilds())

	n.CauseOfBlockage = flow.Blocked("Waiting for input")
	n.DownstreamBuilds = []flow.DownstreamBuild{{Description: "release #1", Link: flow.Link{Href: "/release/1/"}}}
	src.put("7", n)

	require.NotNil(t, pn.CauseOfBlockage())
	assert.Equal(t, "Waiting for input", *pn.CauseOfBlockage())
	assert.Len(t, pn.DownstreamBuilds(), 1)

	src.mu.Lock()
	src.steps["7/deploy"] = []flow.Step{{ID: "5", DisplayName: "echo"}}
	src.mu.Unlock()

	assert.Equal(t, []flow.Step{{ID: "5", DisplayName: "echo"}}, pn.Steps().Steps())
}

func TestLiveMissingNodeIsEmpty(t *testing.T) {
	src := &fakeSource{nodes: map[string]flow.Node{}, steps: map[string][]flow.Step{}}

	pn := flow.Live(src, "7", flow.Node{ID: "gone", Type: flow.TypeStage})

	assert.Equal(t, "gone", pn.ID())
	assert.Equal(t, flow.TypeStage, pn.Type())
	assert.Nil(t, pn.CauseOfBlockage())
	assert.NotNil(t, pn.Edges())
	assert.Empty(t, pn.Edges())
	assert.NotNil(t, pn.DownstreamBuilds())
	assert.NotNil(t, pn.Steps().Steps())
}

func TestLiveConcurrentReads(t *testing.T) {
	src := &fakeSource{nodes: map[string]flow.Node{}, steps: map[string][]flow.Step{}}
	n := flow.Node{ID: "test", Type: flow.TypeStage, Edges: []flow.Edge{{ID: "unit", Type: flow.TypeParallel}}}
	src.put("1", n)

	pn := flow.Live(src, "1", n)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				edges := pn.Edges()
				if len(edges) != 1 || edges[0].ID != "unit" {
					t.Errorf("got torn edge list %+v", edges)
					return
				}
				pn.CauseOfBlockage()
			}
		}()
	}

	for j := 0; j < 100; j++ {
		if j%2 == 0 {
			n.CauseOfBlockage = flow.Blocked("busy")
		} else {
			n.CauseOfBlockage = nil
		}
		src.put("1", n)
	}

	wg.Wait()
}

func TestGraphBuildTestDeploy(t *testing.T) {
	g, err := flow.NewGraph(buildTestDeploy())
	require.NoError(t, err)

	assert.Equal(t, 5, g.Len())
	assert.Empty(t, g.Dangling())

	deploy, ok := g.Node("deploy")
	require.True(t, ok)
	assert.Empty(t, flow.Snapshot("1", deploy, nil).Edges())

	build, ok := g.Node("build")
	require.True(t, ok)
	edges := flow.Snapshot("1", build, nil).Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, "test", edges[0].ID)

	var order []string
	for _, n := range g.Nodes() {
		order = append(order, n.ID)
	}
	assert.Equal(t, []string{"build", "test", "unit", "integration", "deploy"}, order)

	roots := g.Roots()
	require.Len(t, roots, 1)
	assert.Equal(t, "build", roots[0].ID)

	terms := g.Terminals()
	require.Len(t, terms, 1)
	assert.Equal(t, "deploy", terms[0].ID)
}

func TestGraphDangling(t *testing.T) {
	nodes := buildTestDeploy()[:3]

	g, err := flow.NewGraph(nodes)
	require.NoError(t, err)

	assert.Equal(t, []flow.DanglingEdge{
		{From: "test", To: flow.Edge{ID: "integration", Type: flow.TypeParallel}},
		{From: "unit", To: flow.Edge{ID: "deploy", Type: flow.TypeStage}},
	}, g.Dangling())
	assert.Equal(t, g.Dangling(), flow.CheckEdges(nodes))
}

func TestGraphRejectsCycle(t *testing.T) {
	nodes := []flow.Node{
		{ID: "a", Type: flow.TypeStage, Edges: []flow.Edge{{ID: "b", Type: flow.TypeStage}}},
		{ID: "b", Type: flow.TypeStage, Edges: []flow.Edge{{ID: "a", Type: flow.TypeStage}}},
	}

	_, err := flow.NewGraph(nodes)
	assert.Equal(t, flow.ErrCycle, errors.Cause(err))
}

func TestGraphRejectsDuplicatesAndEmptyIDs(t *testing.T) {
	_, err := flow.NewGraph([]flow.Node{
		{ID: "a", Type: flow.TypeStage},
		{ID: "a", Type: flow.TypeStage},
	})
	assert.Equal(t, flow.ErrDuplicateNode, errors.Cause(err))

	_, err = flow.NewGraph([]flow.Node{{ID: "", Type: flow.TypeStage}})
	assert.Equal(t, flow.ErrInvalidNode, errors.Cause(err))

	_, err = flow.NewGraph([]flow.Node{{ID: "a"}})
	assert.Equal(t, flow.ErrInvalidNode, errors.Cause(err))
}

func TestEncodeNode(t *testing.T) {
	blocked := flow.Node{
		ID:              "test",
		Type:            flow.TypeStage,
		CauseOfBlockage: flow.Blocked("Waiting for input"),
		Edges:           []flow.Edge{{ID: "unit", Type: flow.TypeParallel}},
		DownstreamBuilds: []flow.DownstreamBuild{
			{Description: "downstream #2", Link: flow.Link{Href: "/downstream/runs/2/"}},
		},
	}

	buf, err := json.Marshal(flow.EncodeNode(flow.Snapshot("1", blocked, nil), flow.DetailsOf(blocked)))
	require.NoError(t, err)

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(buf, &raw))

	assert.Equal(t, "Waiting for input", raw["causeOfBlockage"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{"id": "unit", "type": "PARALLEL"},
	}, raw["edges"])
	assert.Equal(t, []interface{}{
		map[string]interface{}{
			"description": "downstream #2",
			"link":        map[string]interface{}{"href": "/downstream/runs/2/"},
		},
	}, raw["downstreamBuilds"])

	terminal := flow.Node{ID: "deploy", Type: flow.TypeStage}
	buf, err = json.Marshal(flow.EncodeNode(flow.Snapshot("1", terminal, nil), flow.DetailsOf(terminal)))
	require.NoError(t, err)

	raw = nil
	require.NoError(t, json.Unmarshal(buf, &raw))

	v, present := raw["causeOfBlockage"]
	assert.True(t, present)
	assert.Nil(t, v)
	assert.Equal(t, []interface{}{}, raw["edges"])
	assert.Equal(t, []interface{}{}, raw["downstreamBuilds"])
}

func TestDecodeNode(t *testing.T) {
	empty := ""
	w := flow.NodeWire{
		ID:              "unit",
		Type:            "parallel",
		CauseOfBlockage: &empty,
		Edges:           []flow.EdgeWire{{ID: "deploy", Type: "stage"}},
		DownstreamBuilds: []flow.DownstreamBuildWire{
			{Description: "d", Link: flow.LinkWire{Href: "/d/"}},
			{Description: "d", Link: flow.LinkWire{Href: "/d/"}},
		},
	}

	n := flow.DecodeNode(w)

	assert.Equal(t, flow.TypeParallel, n.Type)
	assert.Nil(t, n.CauseOfBlockage)
	assert.Equal(t, []flow.Edge{{ID: "deploy", Type: flow.TypeStage}}, n.Edges)
	assert.Len(t, n.DownstreamBuilds, 1)
}

func TestNormalizeType(t *testing.T) {
	assert.Equal(t, "STAGE", flow.NormalizeType("stage"))
	assert.Equal(t, "PARALLEL", flow.NormalizeType("Parallel"))
}
