package main

import (
	"fmt"
	"os"

	"github.com/run-ci/flowgraph/cmd/api-server/http"
	"github.com/run-ci/flowgraph/cmd/api-server/queue"
	"github.com/run-ci/flowgraph/store"

	nats "github.com/nats-io/go-nats"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

var storekind, pgconnstr, natsURL, nodesSubject, jwtsecret, addr string

var adminEmail, adminPass string

func init() {
	lvl, err := logrus.ParseLevel(os.Getenv("FLOWGRAPH_LOG_LEVEL"))
	if err != nil {
		lvl = logrus.InfoLevel
	}

	logrus.SetLevel(lvl)

	logger = logrus.WithField("package", "main")
}

// loadConfig reads the configuration from the environment. It exits when
// a required variable is missing.
func loadConfig() {
	storekind = os.Getenv("FLOWGRAPH_STORE")
	if storekind == "" {
		storekind = "postgres"
	}

	switch storekind {
	case "postgres":
		pgconnstr = postgresConnstr()
	case "memory":
		adminEmail = os.Getenv("FLOWGRAPH_ADMIN_EMAIL")
		adminPass = os.Getenv("FLOWGRAPH_ADMIN_PASS")
		if adminEmail == "" || adminPass == "" {
			logger.Warn("FLOWGRAPH_ADMIN_EMAIL or FLOWGRAPH_ADMIN_PASS not set - nobody will be able to log in")
		}
	default:
		logger.Fatalf("unknown FLOWGRAPH_STORE %q, need postgres or memory", storekind)
	}

	natsURL = os.Getenv("FLOWGRAPH_NATS_URL")
	if natsURL == "" {
		logger.Warnf("setting NATS url to %v", nats.DefaultURL)
		natsURL = nats.DefaultURL
	}

	nodesSubject = os.Getenv("FLOWGRAPH_NODES_SUBJECT")
	if nodesSubject == "" {
		nodesSubject = "nodes"
	}

	jwtsecret = os.Getenv("FLOWGRAPH_JWT_SECRET")
	if jwtsecret == "" {
		logger.Warn("FLOWGRAPH_JWT_SECRET not set - defaulting to \"\" (HIGHLY INSECURE!)")
	}

	addr = os.Getenv("FLOWGRAPH_ADDR")
	if addr == "" {
		addr = ":9001"
	}
}

func postgresConnstr() string {
	pguser := os.Getenv("FLOWGRAPH_POSTGRES_USER")
	if pguser == "" {
		logger.Fatal("need FLOWGRAPH_POSTGRES_USER")
	}

	pgpass := os.Getenv("FLOWGRAPH_POSTGRES_PASS")
	if pgpass == "" {
		logger.Fatal("need FLOWGRAPH_POSTGRES_PASS")
	}

	pghref := os.Getenv("FLOWGRAPH_POSTGRES_HREF")
	if pghref == "" {
		logger.Fatal("need FLOWGRAPH_POSTGRES_HREF")
	}

	pgdb := os.Getenv("FLOWGRAPH_POSTGRES_DB")
	if pgdb == "" {
		logger.Fatal("need FLOWGRAPH_POSTGRES_DB")
	}

	pgssl := os.Getenv("FLOWGRAPH_POSTGRES_SSL")
	if pgssl == "" {
		logger.Info("FLOWGRAPH_POSTGRES_SSL not set - defaulting to verify-full")
		pgssl = "verify-full"
	}

	return fmt.Sprintf("postgres://%v:%v@%v/%v?sslmode=%v",
		pguser, pgpass, pghref, pgdb, pgssl)
}

// tracker is everything the server needs from the store.
type tracker interface {
	store.Tracker
	Authenticate(email, pass string) error
}

func main() {
	loadConfig()

	logger.Info("booting server...")

	var st tracker
	switch storekind {
	case "postgres":
		logger.Info("connecting to database")

		pg, err := store.NewPostgres(pgconnstr)
		if err != nil {
			logger.WithField("error", err).Fatal("unable to connect to postgres")
		}
		defer pg.Close()

		st = pg
	case "memory":
		logger.Info("keeping flow graphs in memory")

		mem := store.NewMemory()
		if adminEmail != "" && adminPass != "" {
			err := mem.CreateUser(&store.User{Email: adminEmail, Password: adminPass})
			if err != nil {
				logger.WithError(err).Fatal("unable to create admin user")
			}
		}

		st = mem
	}

	logger.Info("setting up NATS connection")
	bus, err := queue.NewNATS(natsURL)
	if err != nil {
		logger.WithField("error", err).Warn("unable to connect to NATS, node events won't be ingested")
	} else {
		defer bus.Close()

		recv, err := bus.ReceiverOn(nodesSubject)
		if err != nil {
			logger.WithError(err).Fatal("unable to subscribe to node events")
		}

		go consume(recv, st)
	}

	srv := http.NewServer(addr, st, jwtsecret)

	if err := srv.ListenAndServe(); err != nil {
		logger.WithField("error", err).Fatal("shutting down server")
	}
}
