package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"mirrordb/pkg/dbsync"
)

func (s *Server) registerGC(r *mux.Router) {
	route(r, http.MethodPost, "/GarbageCollector/CleanAndKeepMaxPartitions", s.cleanAndKeepMaxPartitions)
	route(r, http.MethodPost, "/GarbageCollector/CleanAndKeepMaxRecords", s.cleanAndKeepMaxRecords)
}

func (s *Server) cleanAndKeepMaxPartitions(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	err := s.Svc.CleanAndKeepMaxPartitions(query(r, "tableName"),
		intQuery(r, "maxAmount", 0), dbsync.SourceClientRequest, period(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) cleanAndKeepMaxRecords(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	err := s.Svc.CleanPartitionKeepMaxRecords(query(r, "tableName"), query(r, "partitionKey"),
		intQuery(r, "amount", 0), dbsync.SourceClientRequest, period(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
