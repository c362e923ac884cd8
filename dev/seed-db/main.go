package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	"github.com/run-ci/flowgraph/flow"
	"github.com/run-ci/flowgraph/store"
	yaml "gopkg.in/yaml.v2"
)

func usage() {
	fmt.Println("usage: go run dev/seed-db/main.go $POSTGRES_CONNECTION_STRING $DATA_YAML_PATH")
}

func main() {
	// This is 4 because passing arguments to `go run` requires the `--` and
	// that also counts as one of the arguments in `os.Args`.
	if len(os.Args) != 4 {
		usage()
		os.Exit(1)
	}

	args := os.Args[2:]

	connstr := args[0]
	if connstr == "" {
		usage()
		return
	}

	path := args[1]
	if path == "" {
		usage()
		return
	}

	fmt.Printf("seeding %v with data from %v\n", connstr, path)

	buf, err := ioutil.ReadFile(path)
	if err != nil {
		fmt.Printf("got error reading file: %v\n", err)
		os.Exit(1)
	}

	var d data
	err = yaml.Unmarshal(buf, &d)
	if err != nil {
		fmt.Printf("got error loading YAML: %v\n", err)
		os.Exit(1)
	}

	st, err := store.NewPostgres(connstr)
	if err != nil {
		fmt.Printf("got error connecting to postgres: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	for _, u := range d.Users {
		u := u
		if err := st.CreateUser(&u); err != nil {
			fmt.Printf("got error creating user %v: %v\n", u.Email, err)
			os.Exit(1)
		}
	}

	for _, r := range d.Runs {
		for _, n := range r.Nodes {
			if err := st.PutNode(r.ID, n.node()); err != nil {
				fmt.Printf("got error saving node %v of run %v: %v\n", n.ID, r.ID, err)
				os.Exit(1)
			}

			if len(n.Steps) == 0 {
				continue
			}

			if err := st.SetSteps(r.ID, n.ID, n.steps()); err != nil {
				fmt.Printf("got error saving steps of node %v: %v\n", n.ID, err)
				os.Exit(1)
			}
		}
	}

	fmt.Printf("seeded %v users and %v runs\n", len(d.Users), len(d.Runs))
}

type data struct {
	Users []store.User
	Runs  []run
}

type run struct {
	ID    string
	Nodes []node
}

type node struct {
	ID               string
	Type             string
	DisplayName      string `yaml:"display_name"`
	State            string
	Result           string
	CauseOfBlockage  string `yaml:"cause_of_blockage"`
	Edges            []string
	DownstreamBuilds []build `yaml:"downstream_builds"`
	Steps            []step
}

type build struct {
	Description string
	Href        string
}

type step struct {
	ID          string
	DisplayName string `yaml:"display_name"`
	Type        string
	State       string
	Result      string
}

// node converts the fixture format, where edges name their destination as
// "id" or "id:type", to a tracker record.
func (n node) node() flow.Node {
	fn := flow.Node{
		ID:              n.ID,
		Type:            flow.NormalizeType(n.Type),
		DisplayName:     n.DisplayName,
		State:           n.State,
		Result:          n.Result,
		CauseOfBlockage: flow.Blocked(n.CauseOfBlockage),
	}

	for _, e := range n.Edges {
		id, typ, ok := strings.Cut(e, ":")
		if !ok {
			typ = flow.TypeStage
		}
		typ = flow.NormalizeType(typ)

		fn.Edges = append(fn.Edges, flow.Edge{ID: id, Type: typ})
	}

	for _, b := range n.DownstreamBuilds {
		fn.DownstreamBuilds = append(fn.DownstreamBuilds, flow.DownstreamBuild{
			Description: b.Description,
			Link:        flow.Link{Href: b.Href},
		})
	}

	return fn
}

func (n node) steps() []flow.Step {
	steps := make([]flow.Step, 0, len(n.Steps))
	for _, s := range n.Steps {
		steps = append(steps, flow.Step{
			ID:          s.ID,
			DisplayName: s.DisplayName,
			Type:        s.Type,
			State:       s.State,
			Result:      s.Result,
		})
	}

	return steps
}
