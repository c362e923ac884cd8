package http

import (
	"errors"
	"net/http"

	"github.com/run-ci/flowgraph/flow"
	"github.com/sirupsen/logrus"
)

func (srv *Server) handleGetNodes(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	logger.Debug("checking mux vars for run")
	vars, err := pathVars(req)
	if err != nil {
		logger.WithError(err).Error("unable to complete request")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	run := vars["run"]
	if run == "" {
		err := errors.New("missing parameter 'run' from request")
		logger.WithError(err).Error("unable to complete request")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithField("run", run)

	logger.Debug("retrieving nodes from tracker")

	nodes, err := srv.st.GetNodes(run)
	if err != nil {
		logger.WithError(err).Error("unable to retrieve nodes")

		writeErrResp(rw, err, statusFor(err))
		return
	}

	// The run may still be in progress, so a broken graph is reported
	// but never fails the request.
	g, err := flow.NewGraph(nodes)
	if err != nil {
		logger.WithError(err).Error("flow graph is inconsistent, keeping tracker order")
	} else {
		nodes = g.Nodes()

		for _, d := range g.Dangling() {
			logger.WithFields(logrus.Fields{
				"from": d.From,
				"to":   d.To.ID,
			}).Warn("edge points at a node that isn't materialized")
		}
	}

	resp := make([]flow.NodeWire, 0, len(nodes))
	for _, n := range nodes {
		resp = append(resp, flow.EncodeNode(flow.Snapshot(run, n, nil), flow.DetailsOf(n)))
	}

	writeResp(rw, resp, http.StatusOK)
}

func (srv *Server) handleGetNode(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	logger.Debug("checking mux vars for run and id")
	vars, err := pathVars(req)
	if err != nil {
		logger.WithError(err).Error("unable to complete request")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	run, id := vars["run"], vars["id"]
	if run == "" || id == "" {
		err := errors.New("missing parameter 'run' or 'id' from request")
		logger.WithError(err).Error("unable to complete request")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(logrus.Fields{
		"run":  run,
		"node": id,
	})

	logger.Debug("retrieving node from tracker")

	n, err := srv.st.GetNode(run, id)
	if err != nil {
		logger.WithError(err).Error("unable to retrieve node")

		writeErrResp(rw, err, statusFor(err))
		return
	}

	writeResp(rw, flow.EncodeNode(flow.Live(srv.st, run, n), flow.DetailsOf(n)), http.StatusOK)
}
