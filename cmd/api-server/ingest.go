package main

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/run-ci/flowgraph/flow"
	"github.com/sirupsen/logrus"
)

// nodeEvent is what the execution tracker publishes every time a node is
// created or changes. Steps are only replaced when the event carries them.
type nodeEvent struct {
	Run   string          `json:"run" validate:"required"`
	Node  flow.NodeWire   `json:"node"`
	Steps []flow.StepWire `json:"steps" validate:"dive"`
}

// nodeWriter is the part of the tracker the ingest writes to.
type nodeWriter interface {
	PutNode(run string, n flow.Node) error
	SetSteps(run, id string, steps []flow.Step) error
}

var validate = validator.New()

// consume applies the events from recv to st until recv is closed.
// Events that can't be applied are logged and dropped.
func consume(recv <-chan []byte, st nodeWriter) {
	for msg := range recv {
		ingest(msg, st)
	}

	logger.Info("node event stream closed")
}

func ingest(msg []byte, st nodeWriter) error {
	var ev nodeEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		logger.WithError(err).Error("unable to unmarshal node event")
		return err
	}

	if err := validate.Struct(ev); err != nil {
		logger.WithError(err).Error("dropping invalid node event")
		return err
	}

	n := flow.DecodeNode(ev.Node)
	logger := logger.WithFields(logrus.Fields{
		"run":  ev.Run,
		"node": n.ID,
	})

	if err := st.PutNode(ev.Run, n); err != nil {
		logger.WithError(err).Error("unable to save node")
		return err
	}

	if ev.Steps != nil {
		if err := st.SetSteps(ev.Run, n.ID, flow.DecodeSteps(ev.Steps)); err != nil {
			logger.WithError(err).Error("unable to save steps")
			return err
		}
	}

	logger.Debug("node event applied")

	return nil
}
