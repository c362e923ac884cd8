package http

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/run-ci/flowgraph/store"

	jwt "github.com/dgrijalva/jwt-go"
)

func (srv *Server) handleAuth(rw http.ResponseWriter, req *http.Request) {
	reqID := req.Context().Value(keyReqID).(string)
	logger := logger.WithField("request_id", reqID)

	buf, err := ioutil.ReadAll(req.Body)
	if err != nil {
		logger.WithError(err).Error("unable to read request body")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	var auth map[string]string
	err = json.Unmarshal(buf, &auth)
	if err != nil {
		logger.WithError(err).Error("unable to unmarshal request body")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	if auth["email"] == "" || auth["password"] == "" {
		err := errors.New("missing fields in auth request body")
		logger.WithError(err).Error("unable to authenticate")

		writeErrResp(rw, err, http.StatusBadRequest)
		return
	}

	logger = logger.WithField("email", auth["email"])

	err = srv.st.Authenticate(auth["email"], auth["password"])
	if err != nil {
		logger.WithError(err).Error("unable to authenticate")

		status := http.StatusInternalServerError
		if err == store.ErrNotAuthenticated {
			status = http.StatusUnauthorized
		}

		writeErrResp(rw, err, status)
		return
	}

	claims := &jwt.StandardClaims{
		ExpiresAt: time.Now().Add(srv.tokenTTL).Unix(),
		Subject:   auth["email"],
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(srv.jwtsecret)
	if err != nil {
		logger.WithError(err).Error("unable to sign token")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	logger.Debug("issued token")

	writeResp(rw, map[string]string{
		"token": token,
	}, http.StatusOK)
}
