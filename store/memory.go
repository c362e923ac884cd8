package store

import (
	"sync"

	"github.com/run-ci/flowgraph/flow"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Memory is a Tracker that keeps everything in process memory. It's what
// the API server uses when it's fed by the NATS ingest.
type Memory struct {
	mu    sync.RWMutex
	root  *rootnode
	users map[string][]byte
}

// NewMemory returns an empty in-memory Tracker.
func NewMemory() *Memory {
	return &Memory{
		root:  newRootnode(),
		users: make(map[string][]byte),
	}
}

// PutNode is part of the Tracker interface.
func (st *Memory) PutNode(run string, n flow.Node) error {
	logger := logger.WithFields(log.Fields{
		"run":  run,
		"node": n.ID,
	})

	n = normalize(n)
	if err := validate(n); err != nil {
		logger.WithError(err).Debug("rejecting node")
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	rn := st.root.run(run, true)

	fn, ok := rn.children[n.ID]
	if !ok {
		logger.Debug("creating node")

		rn.children[n.ID] = &flownode{data: n.Copy()}
		rn.order = append(rn.order, n.ID)
		return nil
	}

	if err := checkImmutable(fn.data, n); err != nil {
		logger.WithError(err).Debug("rejecting node update")
		return err
	}

	logger.Debug("refreshing node")

	builds := mergeBuilds(fn.data, n.DownstreamBuilds)
	fn.data = n.Copy()
	fn.data.DownstreamBuilds = builds

	return nil
}

// SetBlockage is part of the Tracker interface.
func (st *Memory) SetBlockage(run, id string, cause *string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	fn, err := st.lookup(run, id)
	if err != nil {
		return err
	}

	if cause == nil {
		fn.data.CauseOfBlockage = nil
		return nil
	}

	fn.data.CauseOfBlockage = flow.Blocked(*cause)
	return nil
}

// AddDownstreamBuild is part of the Tracker interface.
func (st *Memory) AddDownstreamBuild(run, id string, b flow.DownstreamBuild) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	fn, err := st.lookup(run, id)
	if err != nil {
		return err
	}

	fn.data.DownstreamBuilds = mergeBuilds(fn.data, []flow.DownstreamBuild{b})
	return nil
}

// SetSteps is part of the Tracker interface.
func (st *Memory) SetSteps(run, id string, steps []flow.Step) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	fn, err := st.lookup(run, id)
	if err != nil {
		return err
	}

	fn.steps = flow.CopySteps(steps)
	return nil
}

// GetNodes is part of the Tracker interface.
func (st *Memory) GetNodes(run string) ([]flow.Node, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	rn := st.root.run(run, false)
	if rn == nil {
		return nil, ErrRunNotFound
	}

	return rn.nodes(), nil
}

// GetNode is part of the Tracker interface.
func (st *Memory) GetNode(run, id string) (flow.Node, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	fn, err := st.lookup(run, id)
	if err != nil {
		return flow.Node{}, err
	}

	return fn.data.Copy(), nil
}

// GetSteps is part of the Tracker interface.
func (st *Memory) GetSteps(run, id string) ([]flow.Step, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	fn, err := st.lookup(run, id)
	if err != nil {
		return nil, err
	}

	return flow.CopySteps(fn.steps), nil
}

// Node implements flow.Source.
func (st *Memory) Node(run, id string) (flow.Node, bool) {
	n, err := st.GetNode(run, id)
	return n, err == nil
}

// NodeSteps implements flow.Source.
func (st *Memory) NodeSteps(run, id string) []flow.Step {
	steps, err := st.GetSteps(run, id)
	if err != nil {
		return []flow.Step{}
	}

	return steps
}

// lookup must be called with st.mu held.
func (st *Memory) lookup(run, id string) (*flownode, error) {
	rn := st.root.run(run, false)
	if rn == nil {
		return nil, ErrRunNotFound
	}

	fn, ok := rn.children[id]
	if !ok {
		return nil, ErrNodeNotFound
	}

	return fn, nil
}

// CreateUser stores u with its password hashed.
func (st *Memory) CreateUser(u *User) error {
	logger := logger.WithField("email", u.Email)
	logger.Debug("saving user")

	password, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.WithError(err).Debug("unable to encrypt password")
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.users[u.Email] = password
	return nil
}

// Authenticate checks the password for the user with the given email address.
func (st *Memory) Authenticate(email, pass string) error {
	st.mu.RLock()
	cryptpass, ok := st.users[email]
	st.mu.RUnlock()

	if !ok {
		return ErrNotAuthenticated
	}

	if err := bcrypt.CompareHashAndPassword(cryptpass, []byte(pass)); err != nil {
		logger.WithField("email", email).WithError(err).Debug("unable to authenticate")
		return ErrNotAuthenticated
	}

	return nil
}
