package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/nosql"
)

func (s *Server) registerBulk(r *mux.Router) {
	route(r, http.MethodPost, "/Bulk/InsertOrReplace", s.bulkInsertOrReplace)
	route(r, http.MethodPost, "/Bulk/CleanAndBulkInsert", s.bulkCleanAndInsert)
	route(r, http.MethodPost, "/Bulk/Delete", s.bulkDelete)
}

func (s *Server) bulkInsertOrReplace(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Svc.BulkInsertOrReplace(query(r, "tableName"), body, dbsync.SourceClientRequest, period(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) bulkCleanAndInsert(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	err = s.Svc.CleanAndBulkInsert(query(r, "tableName"), query(r, "partitionKey"), body,
		dbsync.SourceClientRequest, period(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) bulkDelete(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var keys map[string][]string
	if err := json.Unmarshal(body, &keys); err != nil {
		writeError(w, r, nosql.Errf(nosql.KindJsonParseFail, "body must map partition keys to row key arrays"))
		return
	}
	if err := s.Svc.BulkDelete(query(r, "tableName"), keys, dbsync.SourceClientRequest, period(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
