package store

import (
	"sync"
	"testing"

	"github.com/run-ci/flowgraph/flow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMemory(t *testing.T) *Memory {
	st := NewMemory()

	nodes := []flow.Node{
		{ID: "build", Type: flow.TypeStage, Edges: []flow.Edge{{ID: "test", Type: flow.TypeStage}}},
		{ID: "test", Type: flow.TypeStage, Edges: []flow.Edge{
			{ID: "unit", Type: flow.TypeParallel},
			{ID: "integration", Type: flow.TypeParallel},
		}},
		{ID: "unit", Type: flow.TypeParallel, Edges: []flow.Edge{{ID: "deploy", Type: flow.TypeStage}}},
		{ID: "integration", Type: flow.TypeParallel, Edges: []flow.Edge{{ID: "deploy", Type: flow.TypeStage}}},
		{ID: "deploy", Type: flow.TypeStage},
	}

	for _, n := range nodes {
		require.NoError(t, st.PutNode("1", n))
	}

	return st
}

func TestMemoryGetNodesKeepsOrder(t *testing.T) {
	st := seedMemory(t)

	nodes, err := st.GetNodes("1")
	require.NoError(t, err)

	var ids []string
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"build", "test", "unit", "integration", "deploy"}, ids)

	_, err = st.GetNodes("2")
	assert.Equal(t, ErrRunNotFound, err)
}

func TestMemoryGetNode(t *testing.T) {
	st := seedMemory(t)

	n, err := st.GetNode("1", "test")
	require.NoError(t, err)
	assert.Equal(t, []flow.Edge{
		{ID: "unit", Type: flow.TypeParallel},
		{ID: "integration", Type: flow.TypeParallel},
	}, n.Edges)

	_, err = st.GetNode("1", "release")
	assert.Equal(t, ErrNodeNotFound, err)

	_, err = st.GetNode("2", "test")
	assert.Equal(t, ErrRunNotFound, err)
}

func TestMemoryPutNodeImmutable(t *testing.T) {
	st := seedMemory(t)

	err := st.PutNode("1", flow.Node{ID: "deploy", Type: flow.TypeParallel})
	assert.Equal(t, ErrNodeImmutable, err)

	err = st.PutNode("1", flow.Node{ID: "deploy", Type: flow.TypeStage, Edges: []flow.Edge{{ID: "x", Type: flow.TypeStage}}})
	assert.Equal(t, ErrNodeImmutable, err)

	err = st.PutNode("1", flow.Node{ID: "deploy", Type: flow.TypeStage, State: "RUNNING"})
	require.NoError(t, err)

	n, err := st.GetNode("1", "deploy")
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", n.State)

	assert.Equal(t, ErrInvalidNode, st.PutNode("1", flow.Node{ID: "x"}))
}

func TestMemoryPutNodeNormalizesTypes(t *testing.T) {
	st := seedMemory(t)

	err := st.PutNode("1", flow.Node{ID: "unit", Type: "parallel", State: "RUNNING",
		Edges: []flow.Edge{{ID: "deploy", Type: "Stage"}}})
	require.NoError(t, err)

	require.NoError(t, st.PutNode("1", flow.Node{ID: "lint", Type: "stage"}))

	unit, err := st.GetNode("1", "unit")
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", unit.State)
	assert.Equal(t, []flow.Edge{{ID: "deploy", Type: flow.TypeStage}}, unit.Edges)

	lint, err := st.GetNode("1", "lint")
	require.NoError(t, err)
	assert.Equal(t, flow.TypeStage, lint.Type)

	assert.NoError(t, st.PutNode("1", flow.Node{ID: "lint", Type: flow.TypeStage}))
}

func TestMemoryBlockage(t *testing.T) {
	st := seedMemory(t)

	require.NoError(t, st.SetBlockage("1", "deploy", flow.Blocked("Waiting for input")))

	n, err := st.GetNode("1", "deploy")
	require.NoError(t, err)
	require.NotNil(t, n.CauseOfBlockage)
	assert.Equal(t, "Waiting for input", *n.CauseOfBlockage)

	empty := ""
	require.NoError(t, st.SetBlockage("1", "deploy", &empty))

	n, err = st.GetNode("1", "deploy")
	require.NoError(t, err)
	assert.Nil(t, n.CauseOfBlockage)

	assert.Equal(t, ErrNodeNotFound, st.SetBlockage("1", "release", nil))
}

func TestMemoryDownstreamBuildsAreASet(t *testing.T) {
	st := seedMemory(t)

	b := flow.DownstreamBuild{Description: "release #9", Link: flow.Link{Href: "/release/9/"}}
	require.NoError(t, st.AddDownstreamBuild("1", "deploy", b))
	require.NoError(t, st.AddDownstreamBuild("1", "deploy", b))

	n, err := st.GetNode("1", "deploy")
	require.NoError(t, err)
	assert.Equal(t, []flow.DownstreamBuild{b}, n.DownstreamBuilds)

	// A refresh without builds keeps the ones already recorded.
	require.NoError(t, st.PutNode("1", flow.Node{ID: "deploy", Type: flow.TypeStage}))

	n, err = st.GetNode("1", "deploy")
	require.NoError(t, err)
	assert.Equal(t, []flow.DownstreamBuild{b}, n.DownstreamBuilds)
}

func TestMemorySteps(t *testing.T) {
	st := seedMemory(t)

	steps, err := st.GetSteps("1", "build")
	require.NoError(t, err)
	assert.NotNil(t, steps)
	assert.Empty(t, steps)

	require.NoError(t, st.SetSteps("1", "build", []flow.Step{{ID: "3", DisplayName: "make"}}))

	steps, err = st.GetSteps("1", "build")
	require.NoError(t, err)
	assert.Equal(t, []flow.Step{{ID: "3", DisplayName: "make"}}, steps)

	assert.Equal(t, []flow.Step{}, st.NodeSteps("1", "release"))
}

func TestMemoryReturnsCopies(t *testing.T) {
	st := seedMemory(t)

	n, err := st.GetNode("1", "test")
	require.NoError(t, err)
	n.Edges[0].ID = "mutated"

	n, err = st.GetNode("1", "test")
	require.NoError(t, err)
	assert.Equal(t, "unit", n.Edges[0].ID)
}

func TestMemoryLiveView(t *testing.T) {
	st := seedMemory(t)

	n, ok := st.Node("1", "unit")
	require.True(t, ok)

	pn := flow.Live(st, "1", n)
	assert.Nil(t, pn.CauseOfBlockage())

	require.NoError(t, st.SetBlockage("1", "unit", flow.Blocked("Waiting for next available executor")))
	require.NotNil(t, pn.CauseOfBlockage())
	assert.Equal(t, "Waiting for next available executor", *pn.CauseOfBlockage())
}

func TestMemoryConcurrentAccess(t *testing.T) {
	st := seedMemory(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				n, err := st.GetNode("1", "test")
				if err != nil || len(n.Edges) != 2 {
					t.Errorf("got inconsistent node %+v: %v", n, err)
					return
				}
			}
		}()
	}

	for j := 0; j < 100; j++ {
		st.SetBlockage("1", "test", flow.Blocked("busy"))
		st.AddDownstreamBuild("1", "test", flow.DownstreamBuild{Description: "d", Link: flow.Link{Href: "/d/"}})
	}

	wg.Wait()
}

func TestMemoryAuthenticate(t *testing.T) {
	st := NewMemory()

	require.NoError(t, st.CreateUser(&User{Email: "user@test", Password: "hunter2"}))

	assert.NoError(t, st.Authenticate("user@test", "hunter2"))
	assert.Equal(t, ErrNotAuthenticated, st.Authenticate("user@test", "wrong"))
	assert.Equal(t, ErrNotAuthenticated, st.Authenticate("nobody@test", "hunter2"))
}
