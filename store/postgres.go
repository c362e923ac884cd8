package store

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/run-ci/flowgraph/flow"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Postgres is a PostgreSQL database that's also a Tracker. The schema
// lives in dev/schema.sql.
type Postgres struct {
	db *sql.DB
}

// NewPostgres returns a Tracker backed by PostgreSQL. It connects to the
// database using connstr.
func NewPostgres(connstr string) (*Postgres, error) {
	logger := logger.WithField("store", "postgres")

	logger.Debug("connecting to database")

	db, err := sql.Open("postgres", connstr)
	if err != nil {
		logger.WithField("error", err).Debug("unable to connect to database")
		return nil, err
	}

	return &Postgres{
		db: db,
	}, nil
}

// Close closes the database handle.
func (st *Postgres) Close() error {
	return st.db.Close()
}

// PutNode is part of the Tracker interface. A new node is saved along with
// its edges in a single transaction.
func (st *Postgres) PutNode(run string, n flow.Node) error {
	logger := logger.WithFields(log.Fields{
		"run":   run,
		"node":  n.ID,
		"query": "put_node",
	})

	n = normalize(n)
	if err := validate(n); err != nil {
		return err
	}

	tx, err := st.db.Begin()
	if err != nil {
		logger.WithError(err).Debug("unable to begin transaction")
		return err
	}

	have, err := getNode(tx, run, n.ID)
	switch {
	case err == ErrRunNotFound, err == ErrNodeNotFound:
		logger.Debug("creating node")
		err = insertNode(tx, run, n)
	case err != nil:
		logger.WithError(err).Debug("unable to read node")
	default:
		if err = checkImmutable(have, n); err != nil {
			logger.WithError(err).Debug("rejecting node update")
			break
		}

		logger.Debug("refreshing node")
		err = updateNode(tx, run, n)
	}

	if err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func insertNode(tx *sql.Tx, run string, n flow.Node) error {
	sqlinsert := `
	INSERT INTO nodes (run_id, id, type, display_name, state, result,
		start_time, duration_ms, cause_of_blockage)
	VALUES
		($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := tx.Exec(sqlinsert, run, n.ID, n.Type, n.DisplayName, n.State, n.Result,
		nullTime(n), n.DurationInMillis, nullCause(n.CauseOfBlockage))
	if err != nil {
		return errors.Wrap(err, "unable to insert node")
	}

	sqledge := `
	INSERT INTO edges (run_id, source_id, position, target_id, target_type)
	VALUES
		($1, $2, $3, $4, $5)
	`

	for i, e := range n.Edges {
		_, err := tx.Exec(sqledge, run, n.ID, i, e.ID, e.Type)
		if err != nil {
			return errors.Wrapf(err, "unable to insert edge to %v", e.ID)
		}
	}

	return insertBuilds(tx, run, n.ID, n.DownstreamBuilds)
}

func updateNode(tx *sql.Tx, run string, n flow.Node) error {
	sqlupdate := `
	UPDATE nodes
	SET display_name = $3, state = $4, result = $5, start_time = $6,
		duration_ms = $7, cause_of_blockage = $8
	WHERE nodes.run_id = $1 AND nodes.id = $2
	`

	_, err := tx.Exec(sqlupdate, run, n.ID, n.DisplayName, n.State, n.Result,
		nullTime(n), n.DurationInMillis, nullCause(n.CauseOfBlockage))
	if err != nil {
		return errors.Wrap(err, "unable to update node")
	}

	return insertBuilds(tx, run, n.ID, n.DownstreamBuilds)
}

func insertBuilds(tx *sql.Tx, run, id string, builds []flow.DownstreamBuild) error {
	// The unique constraint on (run_id, node_id, description, href) makes
	// the builds a set.
	sqlinsert := `
	INSERT INTO downstream_builds (run_id, node_id, description, href)
	VALUES
		($1, $2, $3, $4)
	ON CONFLICT DO NOTHING
	`

	for _, b := range builds {
		_, err := tx.Exec(sqlinsert, run, id, b.Description, b.Link.Href)
		if err != nil {
			return errors.Wrap(err, "unable to insert downstream build")
		}
	}

	return nil
}

// SetBlockage is part of the Tracker interface.
func (st *Postgres) SetBlockage(run, id string, cause *string) error {
	logger := logger.WithFields(log.Fields{
		"run":   run,
		"node":  id,
		"query": "set_blockage",
	})

	sqlupdate := `
	UPDATE nodes
	SET cause_of_blockage = $3
	WHERE nodes.run_id = $1 AND nodes.id = $2
	`

	logger.Debug("setting cause of blockage")

	res, err := st.db.Exec(sqlupdate, run, id, nullCause(cause))
	if err != nil {
		logger.WithError(err).Debug("unable to update node")
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return st.missing(run)
	}

	return nil
}

// AddDownstreamBuild is part of the Tracker interface.
func (st *Postgres) AddDownstreamBuild(run, id string, b flow.DownstreamBuild) error {
	logger := logger.WithFields(log.Fields{
		"run":   run,
		"node":  id,
		"href":  b.Link.Href,
		"query": "add_downstream_build",
	})

	sqlinsert := `
	INSERT INTO downstream_builds (run_id, node_id, description, href)
	SELECT n.run_id, n.id, $3, $4
	FROM nodes AS n
	WHERE n.run_id = $1 AND n.id = $2
	ON CONFLICT DO NOTHING
	`

	logger.Debug("saving downstream build")

	_, err := st.db.Exec(sqlinsert, run, id, b.Description, b.Link.Href)
	if err != nil {
		logger.WithError(err).Debug("unable to insert downstream build")
		return err
	}

	// A conflict and a missing node both affect no rows.
	if _, err := st.GetNode(run, id); err != nil {
		return err
	}

	return nil
}

// SetSteps is part of the Tracker interface.
func (st *Postgres) SetSteps(run, id string, steps []flow.Step) error {
	logger := logger.WithFields(log.Fields{
		"run":   run,
		"node":  id,
		"query": "set_steps",
	})

	if _, err := st.GetNode(run, id); err != nil {
		return err
	}

	tx, err := st.db.Begin()
	if err != nil {
		logger.WithError(err).Debug("unable to begin transaction")
		return err
	}

	sqldelete := `
	DELETE FROM steps
	WHERE steps.run_id = $1 AND steps.node_id = $2
	`

	if _, err := tx.Exec(sqldelete, run, id); err != nil {
		logger.WithError(err).Debug("unable to clear steps")
		tx.Rollback()
		return err
	}

	sqlinsert := `
	INSERT INTO steps (run_id, node_id, position, id, display_name, type,
		state, result, start_time, duration_ms)
	VALUES
		($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	for i, s := range steps {
		start := pq.NullTime{}
		if s.StartTime != nil {
			start = pq.NullTime{Time: *s.StartTime, Valid: true}
		}

		_, err := tx.Exec(sqlinsert, run, id, i, s.ID, s.DisplayName, s.Type,
			s.State, s.Result, start, s.DurationInMillis)
		if err != nil {
			logger.WithError(err).Debug("unable to insert step")
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// GetNodes is part of the Tracker interface.
func (st *Postgres) GetNodes(run string) ([]flow.Node, error) {
	logger := logger.WithFields(log.Fields{
		"run":   run,
		"query": "get_nodes",
	})

	logger.Debug("getting nodes from postgres")

	tx, err := st.readTx()
	if err != nil {
		logger.WithError(err).Debug("unable to begin transaction")
		return nil, err
	}
	defer tx.Rollback()

	nodes, err := queryNodes(tx, run, "")
	if err != nil {
		logger.WithError(err).Debug("unable to query nodes")
		return nil, err
	}

	if len(nodes) == 0 {
		return nil, ErrRunNotFound
	}

	return nodes, nil
}

// GetNode is part of the Tracker interface.
func (st *Postgres) GetNode(run, id string) (flow.Node, error) {
	logger := logger.WithFields(log.Fields{
		"run":   run,
		"node":  id,
		"query": "get_node",
	})

	tx, err := st.readTx()
	if err != nil {
		logger.WithError(err).Debug("unable to begin transaction")
		return flow.Node{}, err
	}
	defer tx.Rollback()

	return getNode(tx, run, id)
}

// GetSteps is part of the Tracker interface.
func (st *Postgres) GetSteps(run, id string) ([]flow.Step, error) {
	logger := logger.WithFields(log.Fields{
		"run":   run,
		"node":  id,
		"query": "get_steps",
	})

	if _, err := st.GetNode(run, id); err != nil {
		return nil, err
	}

	sqlq := `
	SELECT id, display_name, type, state, result, start_time, duration_ms
	FROM steps
	WHERE steps.run_id = $1 AND steps.node_id = $2
	ORDER BY position
	`

	rows, err := st.db.Query(sqlq, run, id)
	if err != nil {
		logger.WithError(err).Debug("unable to query database")
		return nil, err
	}
	defer rows.Close()

	steps := []flow.Step{}
	for rows.Next() {
		var s flow.Step
		var start pq.NullTime

		err := rows.Scan(&s.ID, &s.DisplayName, &s.Type, &s.State, &s.Result,
			&start, &s.DurationInMillis)
		if err != nil {
			logger.WithError(err).Debug("unable to scan row")
			return steps, err
		}

		if start.Valid {
			t := start.Time
			s.StartTime = &t
		}

		steps = append(steps, s)
	}

	return steps, rows.Err()
}

// Node implements flow.Source. Database errors read as a missing node.
func (st *Postgres) Node(run, id string) (flow.Node, bool) {
	n, err := st.GetNode(run, id)
	if err != nil && err != ErrNodeNotFound && err != ErrRunNotFound {
		logger.WithError(err).WithField("node", id).Warn("unable to read node")
	}

	return n, err == nil
}

// NodeSteps implements flow.Source.
func (st *Postgres) NodeSteps(run, id string) []flow.Step {
	steps, err := st.GetSteps(run, id)
	if err != nil {
		return []flow.Step{}
	}

	return steps
}

// CreateUser creates the passed in user in the database.
func (st *Postgres) CreateUser(u *User) error {
	logger := logger.WithField("email", u.Email)
	logger.Debug("saving user")

	password, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.WithError(err).Debug("unable to encrypt password")
		return err
	}

	sqlq := `
	INSERT INTO users (email, name, password)
	VALUES
		($1, $2, $3)
	`

	_, err = st.db.Exec(sqlq, u.Email, u.Name, password)
	return err
}

// Authenticate checks the password for the user with the given email address.
func (st *Postgres) Authenticate(email, pass string) error {
	logger := logger.WithField("email", email)
	logger.Debug("authenticating user")

	sqlq := `
	SELECT password
	FROM users
	WHERE users.email = $1
	`

	cryptpass := []byte{}
	err := st.db.QueryRow(sqlq, email).Scan(&cryptpass)
	if err != nil {
		logger.WithError(err).Debug("unable to query row")
		if err == sql.ErrNoRows {
			return ErrNotAuthenticated
		}
		return err
	}

	err = bcrypt.CompareHashAndPassword(cryptpass, []byte(pass))
	if err != nil {
		logger.WithError(err).Debug("unable to authenticate")
		return ErrNotAuthenticated
	}

	return nil
}

// readTx starts a read-only transaction that sees a single snapshot of
// the database.
func (st *Postgres) readTx() (*sql.Tx, error) {
	return st.db.BeginTx(context.Background(), &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
}

// missing tells ErrRunNotFound and ErrNodeNotFound apart.
func (st *Postgres) missing(run string) error {
	var count int
	err := st.db.QueryRow(`SELECT COUNT(*) FROM nodes WHERE run_id = $1`, run).Scan(&count)
	if err != nil {
		return err
	}

	if count == 0 {
		return ErrRunNotFound
	}

	return ErrNodeNotFound
}

func getNode(tx *sql.Tx, run, id string) (flow.Node, error) {
	nodes, err := queryNodes(tx, run, id)
	if err != nil {
		return flow.Node{}, err
	}

	if len(nodes) == 0 {
		var count int
		err := tx.QueryRow(`SELECT COUNT(*) FROM nodes WHERE run_id = $1`, run).Scan(&count)
		if err != nil {
			return flow.Node{}, err
		}

		if count == 0 {
			return flow.Node{}, ErrRunNotFound
		}

		return flow.Node{}, ErrNodeNotFound
	}

	return nodes[0], nil
}

// queryNodes loads the nodes of a run, or a single one when id isn't
// empty, with their edges and downstream builds. Reading everything in
// one transaction keeps each node self-consistent.
func queryNodes(tx *sql.Tx, run, id string) ([]flow.Node, error) {
	sqlq := `
	SELECT id, type, display_name, state, result, start_time, duration_ms,
		cause_of_blockage
	FROM nodes
	WHERE nodes.run_id = $1 AND ($2::text = '' OR nodes.id = $2)
	ORDER BY seq
	`

	rows, err := tx.Query(sqlq, run, id)
	if err != nil {
		return nil, err
	}

	nodes := []flow.Node{}
	index := map[string]int{}
	for rows.Next() {
		n := flow.Node{
			Edges:            []flow.Edge{},
			DownstreamBuilds: []flow.DownstreamBuild{},
		}
		var start pq.NullTime
		var cause sql.NullString

		err := rows.Scan(&n.ID, &n.Type, &n.DisplayName, &n.State, &n.Result,
			&start, &n.DurationInMillis, &cause)
		if err != nil {
			rows.Close()
			return nil, err
		}

		if start.Valid {
			t := start.Time
			n.StartTime = &t
		}

		if cause.Valid {
			n.CauseOfBlockage = flow.Blocked(cause.String)
		}

		index[n.ID] = len(nodes)
		nodes = append(nodes, n)
	}
	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	sqledges := `
	SELECT source_id, target_id, target_type
	FROM edges
	WHERE edges.run_id = $1 AND ($2::text = '' OR edges.source_id = $2)
	ORDER BY source_id, position
	`

	rows, err = tx.Query(sqledges, run, id)
	if err != nil {
		return nil, err
	}

	for rows.Next() {
		var src string
		var e flow.Edge

		if err := rows.Scan(&src, &e.ID, &e.Type); err != nil {
			rows.Close()
			return nil, err
		}

		if i, ok := index[src]; ok {
			nodes[i].Edges = append(nodes[i].Edges, e)
		}
	}
	rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	sqlbuilds := `
	SELECT node_id, description, href
	FROM downstream_builds
	WHERE downstream_builds.run_id = $1 AND ($2::text = '' OR downstream_builds.node_id = $2)
	ORDER BY seq
	`

	rows, err = tx.Query(sqlbuilds, run, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var node string
		var b flow.DownstreamBuild

		if err := rows.Scan(&node, &b.Description, &b.Link.Href); err != nil {
			return nil, err
		}

		if i, ok := index[node]; ok {
			nodes[i].DownstreamBuilds = append(nodes[i].DownstreamBuilds, b)
		}
	}

	return nodes, rows.Err()
}

func nullTime(n flow.Node) pq.NullTime {
	if n.StartTime == nil {
		return pq.NullTime{}
	}

	return pq.NullTime{Time: *n.StartTime, Valid: true}
}

func nullCause(cause *string) sql.NullString {
	if cause == nil || *cause == "" {
		return sql.NullString{}
	}

	return sql.NullString{String: *cause, Valid: true}
}
