package http

import (
	"errors"
	"net/http"

	"github.com/run-ci/flowgraph/flow"
	"github.com/sirupsen/logrus"
)

func (srv *Server) handleGetSteps(rw http.ResponseWriter, req *http.Request) {
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

	logger.Debug("retrieving steps from tracker")

	steps, err := srv.st.GetSteps(run, id)
	if err != nil {
		logger.WithError(err).Error("unable to retrieve steps")

		writeErrResp(rw, err, statusFor(err))
		return
	}

	writeResp(rw, flow.EncodeSteps(steps), http.StatusOK)
}
