package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/run-ci/flowgraph/flow"
	"github.com/run-ci/flowgraph/store"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

type ctxkey int

const (
	keyReqID ctxkey = iota
	keyReqSub
)

func init() {
	logger = logrus.WithField("package", "http")
}

// apiStore is a grouping of the minimum number of tracker
// methods the API needs to work.
type apiStore interface {
	flow.Source

	GetNodes(run string) ([]flow.Node, error)
	GetNode(run, id string) (flow.Node, error)
	GetSteps(run, id string) ([]flow.Step, error)

	Authenticate(email, pass string) error
}

// Server is a net/http.Server with dependencies like
// the execution tracker.
type Server struct {
	st        apiStore
	jwtsecret []byte
	tokenTTL  time.Duration

	*http.Server
}

// NewServer returns a Server with a reference to `st`, listening
// on `addr`.
func NewServer(addr string, st apiStore, jwtsecret string) *Server {
	srv := &Server{
		Server: &http.Server{
			Addr: addr,
		},

		st:        st,
		jwtsecret: []byte(jwtsecret),
		tokenTTL:  time.Hour,
	}

	// Node ids may contain "/", which links carry as "%2F".
	r := mux.NewRouter().UseEncodedPath()
	srv.Handler = r

	r.Handle("/", chain(getRoot, setRequestID, logRequest)).
		Methods(http.MethodGet)

	r.Handle("/auth", chain(srv.handleAuth, setRequestID, logRequest)).
		Methods(http.MethodPost)

	r.Handle("/runs/{run}/nodes", chain(
		srv.handleGetNodes,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodGet)

	r.Handle("/runs/{run}/nodes/{id}", chain(
		srv.handleGetNode,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodGet)

	r.Handle("/runs/{run}/nodes/{id}/steps", chain(
		srv.handleGetSteps,
		setRequestID,
		logRequest,
		srv.checkAuth,
	)).Methods(http.MethodGet)

	return srv
}

// Middleware is a function that can intercept the handling of an HTTP request
// to do something useful.
type middleware func(http.HandlerFunc) http.HandlerFunc

// Chain builds the final http.Handler from all the middlewares passed to it.
func chain(f http.HandlerFunc, mw ...middleware) http.Handler {
	// Because function calls are placed on a stack, they need to
	// be applied in reverse order from what they are passed in,
	// in order for calls to Chain() to be intuitive.
	for i := len(mw) - 1; i >= 0; i-- {
		f = mw[i](f)
	}

	return f
}

// SetRequestID sets a UUID on the request so that it can be tracked through
// logs, metrics and instrumentation.
func setRequestID(f http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		id := uuid.New().String()

		ctx := context.WithValue(req.Context(), keyReqID, id)
		logger.WithField("request_id", id).
			Debug("setting request ID")

		f(rw, req.WithContext(ctx))
	}
}

// LogRequest logs useful information about the request. It must have a
// "request_id" set on the request context.
func logRequest(f http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		reqid := req.Context().Value(keyReqID).(string)

		logger := logger.WithField("request_id", reqid)

		logger.Infof("%v %v", req.Method, req.URL)

		f(rw, req)
	}
}

func (srv *Server) checkAuth(f http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		hdrline, ok := req.Header["Authorization"]
		if !ok {
			err := errors.New("missing bearer token")

			logger.WithError(err).Error("unable to authorize request")
			writeErrResp(rw, err, http.StatusUnauthorized)
			return
		}

		hdr := strings.Split(hdrline[0], " ")

		if len(hdr) < 2 {
			err := errors.New("missing bearer token")

			logger.WithError(err).Error("unable to authorize request")
			writeErrResp(rw, err, http.StatusUnauthorized)
			return
		}

		// Tokens come in the form of "Bearer $TOKEN"
		bearer := hdr[1]

		keyfn := func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				err := errors.New("invalid signing method for bearer token")

				return nil, err
			}

			return srv.jwtsecret, nil
		}

		token, err := jwt.ParseWithClaims(bearer, &jwt.StandardClaims{}, keyfn)
		if err != nil {
			logger.WithError(err).Error("unable to authorize request")
			writeErrResp(rw, err, http.StatusUnauthorized)
			return
		}

		if claims, ok := token.Claims.(*jwt.StandardClaims); ok && token.Valid {
			ctx := context.WithValue(req.Context(), keyReqSub, claims.Subject)
			logger.WithField("sub", claims.Subject).
				Debug("setting auth subject")

			f(rw, req.WithContext(ctx))
			return
		}

		err = errors.New("invalid bearer token")
		logger.WithError(err).Error("unable to authorize request")
		writeErrResp(rw, err, http.StatusUnauthorized)
	}
}

// pathVars returns the route variables of req, unescaped.
func pathVars(req *http.Request) (map[string]string, error) {
	vars := make(map[string]string)
	for k, v := range mux.Vars(req) {
		uv, err := url.PathUnescape(v)
		if err != nil {
			return nil, err
		}

		vars[k] = uv
	}

	return vars, nil
}

func getRoot(rw http.ResponseWriter, req *http.Request) {
	writeResp(rw, map[string]interface{}{
		"status":      "ok",
		"wireVersion": flow.WireVersion,
	}, http.StatusOK)
}

// statusFor maps tracker errors to response codes.
func statusFor(err error) int {
	switch err {
	case store.ErrRunNotFound, store.ErrNodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeResp(rw http.ResponseWriter, v interface{}, status int) {
	buf, err := json.Marshal(v)
	if err != nil {
		logger.WithError(err).Error("unable to marshal response body")

		writeErrResp(rw, err, http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	rw.Write(buf)
}

func writeErrResp(rw http.ResponseWriter, err error, status int) {
	buf, merr := json.Marshal(map[string]string{
		"error": err.Error(),
	})
	if merr != nil {
		logger.WithError(merr).Error("unable to marshal error response")
		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	rw.Write(buf)
}
