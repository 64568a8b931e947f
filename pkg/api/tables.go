package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"mirrordb/pkg/auth"
	"mirrordb/pkg/backup"
	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/logger"
	"mirrordb/pkg/nosql"
)

func (s *Server) registerTables(r *mux.Router) {
	route(r, http.MethodGet, "/Tables/List", s.listTables)
	route(r, http.MethodPost, "/Tables/Create", s.createTable)
	route(r, http.MethodPost, "/Tables/CreateIfNotExists", s.createTableIfNotExists)
	route(r, http.MethodPut, "/Tables/Clean", s.cleanTable)
	route(r, http.MethodDelete, "/Tables/Delete", s.deleteTable)
	route(r, http.MethodPost, "/Tables/UpdatePersist", s.updatePersist)
	route(r, http.MethodGet, "/Tables/Download", s.downloadTables)
}

type tableDescriptor struct {
	Name                string `json:"name"`
	Persist             bool   `json:"persist"`
	MaxPartitionsAmount *int   `json:"maxPartitionsAmount"`
	MaxRowsPerPartition *int   `json:"maxRowsPerPartition,omitempty"`
}

func describeTable(name string, attrs nosql.Attributes) tableDescriptor {
	d := tableDescriptor{Name: name, Persist: attrs.Persist}
	if attrs.MaxPartitionsAmount > 0 {
		v := attrs.MaxPartitionsAmount
		d.MaxPartitionsAmount = &v
	}
	if attrs.MaxRowsPerPartitionAmount > 0 {
		v := attrs.MaxRowsPerPartitionAmount
		d.MaxRowsPerPartition = &v
	}
	return d
}

func (s *Server) listTables(w http.ResponseWriter, r *http.Request) {
	tables := s.Svc.Store().Tables()
	out := make([]tableDescriptor, 0, len(tables))
	for _, t := range tables {
		out = append(out, describeTable(t.Name, t.Attributes()))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createTable(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	name := query(r, "tableName")
	err := s.Svc.CreateTable(name,
		boolQuery(r, "persist", true),
		intQuery(r, "maxPartitionsAmount", 0),
		intQuery(r, "maxRowsPerPartitionAmount", 0),
		dbsync.SourceClientRequest, period(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) createTableIfNotExists(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	name := query(r, "tableName")
	err := s.Svc.CreateTableIfNotExists(name,
		boolQuery(r, "persist", true),
		intQuery(r, "maxPartitionsAmount", 0),
		intQuery(r, "maxRowsPerPartitionAmount", 0),
		dbsync.SourceClientRequest, period(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := s.Svc.Store().GetTable(name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, describeTable(t.Name, t.Attributes()))
}

func (s *Server) cleanTable(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	if err := s.Svc.CleanTable(query(r, "tableName"), dbsync.SourceClientRequest, period(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// requireTableAdmin guards destructive table operations behind the
// dedicated admin key. Open mode (no keys configured) lets everything
// through.
func (s *Server) requireTableAdmin(w http.ResponseWriter, r *http.Request) bool {
	if len(s.AdminKeys) == 0 || auth.IsAdmin(r) {
		return true
	}
	if _, ok := s.AdminKeys[r.Header.Get("apikey")]; ok {
		return true
	}
	writeError(w, r, nosql.Errf(nosql.KindUnauthorized, "table admin api key required"))
	return false
}

func (s *Server) deleteTable(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	if !s.requireTableAdmin(w, r) {
		return
	}
	if err := s.Svc.DeleteTable(query(r, "tableName"), dbsync.SourceClientRequest, period(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) updatePersist(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	name := query(r, "tableName")
	t, err := s.Svc.Store().GetTable(name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	attrs := t.Attributes()
	err = s.Svc.SetTableAttributes(name,
		boolQuery(r, "persist", attrs.Persist),
		attrs.MaxPartitionsAmount,
		attrs.MaxRowsPerPartitionAmount,
		dbsync.SourceClientRequest, period(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) downloadTables(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		`attachment; filename="mirrordb-`+time.Now().UTC().Format("20060102-150405")+`.zip"`)
	if err := backup.WriteArchive(w, s.Svc.Store()); err != nil {
		// headers are out already; just log
		logger.Error("tables_download_failed", "error", err)
	}
}
