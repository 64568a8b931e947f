package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/ops"
	"mirrordb/pkg/persist"
	"mirrordb/pkg/readers"
	"mirrordb/pkg/state"
	"mirrordb/pkg/transactions"
)

// Server holds the dependencies of every HTTP handler. Handlers are
// methods so tests can construct a server around their own fixtures.
type Server struct {
	Svc          *ops.Service
	Readers      *readers.Registry
	Bus          *dbsync.Bus
	Transactions *transactions.Registry
	Life         *state.Lifecycle
	Markers      *persist.Markers

	// AdminKeys guards destructive table operations. Empty set means
	// open mode.
	AdminKeys map[string]struct{}

	Version string
	EnvInfo string

	// LongPollPark bounds how long GetChanges parks with an empty queue.
	LongPollPark time.Duration
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	s.registerStatus(r)
	s.registerTables(r)
	s.registerRows(r)
	s.registerBulk(r)
	s.registerGC(r)
	s.registerTransactions(r)
	s.registerDataReader(r)
	return r
}

// route registers a handler under the /api prefix and the legacy
// unprefixed path older client libraries still use.
func route(r *mux.Router, method, path string, h http.HandlerFunc) {
	r.HandleFunc("/api"+path, h).Methods(method)
	r.HandleFunc(path, h).Methods(method)
}
