package flow

import "time"

// WireVersion is the version of the external shape produced by EncodeNode.
// Bump it when a field is renamed or removed.
const WireVersion = 1

// NodeWire is the external representation of a PipelineNode. Edges and
// downstream builds are inlined, never referenced.
type NodeWire struct {
	ID               string                `json:"id" validate:"required"`
	Type             string                `json:"type" validate:"required"`
	DisplayName      string                `json:"displayName,omitempty"`
	State            string                `json:"state,omitempty"`
	Result           string                `json:"result,omitempty"`
	StartTime        *time.Time            `json:"startTime"`
	DurationInMillis int64                 `json:"durationInMillis"`
	CauseOfBlockage  *string               `json:"causeOfBlockage"`
	Edges            []EdgeWire            `json:"edges" validate:"dive"`
	DownstreamBuilds []DownstreamBuildWire `json:"downstreamBuilds" validate:"dive"`
	Links            map[string]LinkWire   `json:"_links,omitempty"`
}

// EdgeWire is the external representation of an Edge.
type EdgeWire struct {
	ID   string `json:"id" validate:"required"`
	Type string `json:"type" validate:"required"`
}

// LinkWire is the external representation of a Link.
type LinkWire struct {
	Href string `json:"href" validate:"required"`
}

// DownstreamBuildWire is the external representation of a DownstreamBuild.
type DownstreamBuildWire struct {
	Description string   `json:"description" validate:"required"`
	Link        LinkWire `json:"link"`
}

// StepWire is the external representation of a Step.
type StepWire struct {
	ID               string     `json:"id" validate:"required"`
	DisplayName      string     `json:"displayName,omitempty"`
	Type             string     `json:"type,omitempty"`
	State            string     `json:"state,omitempty"`
	Result           string     `json:"result,omitempty"`
	StartTime        *time.Time `json:"startTime"`
	DurationInMillis int64      `json:"durationInMillis"`
}

// Details carries the descriptive fields of a node that aren't part of
// the PipelineNode accessors.
type Details struct {
	DisplayName      string
	State            string
	Result           string
	StartTime        *time.Time
	DurationInMillis int64
}

// DetailsOf extracts the descriptive fields of n.
func DetailsOf(n Node) Details {
	return Details{
		DisplayName:      n.DisplayName,
		State:            n.State,
		Result:           n.Result,
		StartTime:        copyTime(n.StartTime),
		DurationInMillis: n.DurationInMillis,
	}
}

// EncodeNode maps a node view and its details to the external shape.
// Each accessor of pn is called once.
func EncodeNode(pn PipelineNode, d Details) NodeWire {
	w := NodeWire{
		ID:               pn.ID(),
		Type:             pn.Type(),
		DisplayName:      d.DisplayName,
		State:            d.State,
		Result:           d.Result,
		StartTime:        d.StartTime,
		DurationInMillis: d.DurationInMillis,
		CauseOfBlockage:  pn.CauseOfBlockage(),
		Edges:            []EdgeWire{},
		DownstreamBuilds: []DownstreamBuildWire{},
		Links: map[string]LinkWire{
			"steps": {Href: pn.Steps().Link().Href},
		},
	}

	for _, e := range pn.Edges() {
		w.Edges = append(w.Edges, EdgeWire{ID: e.ID, Type: e.Type})
	}

	for _, b := range pn.DownstreamBuilds() {
		w.DownstreamBuilds = append(w.DownstreamBuilds, DownstreamBuildWire{
			Description: b.Description,
			Link:        LinkWire{Href: b.Link.Href},
		})
	}

	return w
}

// DecodeNode maps the external shape back to a tracker record. The type
// tags are normalized and an empty blockage cause reads as unblocked.
func DecodeNode(w NodeWire) Node {
	n := Node{
		ID:               w.ID,
		Type:             NormalizeType(w.Type),
		DisplayName:      w.DisplayName,
		State:            w.State,
		Result:           w.Result,
		StartTime:        copyTime(w.StartTime),
		DurationInMillis: w.DurationInMillis,
		CauseOfBlockage:  copyCause(w.CauseOfBlockage),
		Edges:            make([]Edge, 0, len(w.Edges)),
		DownstreamBuilds: make([]DownstreamBuild, 0, len(w.DownstreamBuilds)),
	}

	for _, e := range w.Edges {
		n.Edges = append(n.Edges, Edge{ID: e.ID, Type: NormalizeType(e.Type)})
	}

	for _, b := range w.DownstreamBuilds {
		db := DownstreamBuild{Description: b.Description, Link: Link{Href: b.Link.Href}}
		if !n.HasDownstreamBuild(db) {
			n.DownstreamBuilds = append(n.DownstreamBuilds, db)
		}
	}

	return n
}

// EncodeSteps maps steps to the external shape. The result is never nil.
func EncodeSteps(steps []Step) []StepWire {
	ws := make([]StepWire, 0, len(steps))
	for _, s := range steps {
		ws = append(ws, StepWire{
			ID:               s.ID,
			DisplayName:      s.DisplayName,
			Type:             s.Type,
			State:            s.State,
			Result:           s.Result,
			StartTime:        copyTime(s.StartTime),
			DurationInMillis: s.DurationInMillis,
		})
	}

	return ws
}

// DecodeSteps maps steps from the external shape.
func DecodeSteps(ws []StepWire) []Step {
	steps := make([]Step, 0, len(ws))
	for _, w := range ws {
		steps = append(steps, Step{
			ID:               w.ID,
			DisplayName:      w.DisplayName,
			Type:             w.Type,
			State:            w.State,
			Result:           w.Result,
			StartTime:        copyTime(w.StartTime),
			DurationInMillis: w.DurationInMillis,
		})
	}

	return steps
}
