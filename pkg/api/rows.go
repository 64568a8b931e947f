package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/nosql"
)

func (s *Server) registerRows(r *mux.Router) {
	route(r, http.MethodPost, "/Row", s.insertOrReplaceRow)
	route(r, http.MethodPost, "/Row/InsertOrReplace", s.insertOrReplaceRow)
	route(r, http.MethodPost, "/Row/Insert", s.insertRow)
	route(r, http.MethodPut, "/Row", s.replaceRow)
	route(r, http.MethodPut, "/Row/Replace", s.replaceRow)
	route(r, http.MethodGet, "/Row", s.getRow)
	route(r, http.MethodDelete, "/Row", s.deleteRow)
	route(r, http.MethodGet, "/Count", s.countRows)

	route(r, http.MethodGet, "/Rows/HighestRowAndBelow", s.highestRowAndBelow)
	route(r, http.MethodPost, "/Rows/SinglePartitionMultipleRows", s.singlePartitionMultipleRows)
	route(r, http.MethodPost, "/Rows/DeletePartitions", s.deletePartitions)
}

func (s *Server) insertOrReplaceRow(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	row, err := s.Svc.InsertOrReplace(query(r, "tableName"), body, dbsync.SourceClientRequest, period(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRow(w, row)
}

func (s *Server) insertRow(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	row, err := s.Svc.Insert(query(r, "tableName"), body, dbsync.SourceClientRequest, period(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRow(w, row)
}

func (s *Server) replaceRow(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	row, err := s.Svc.Replace(query(r, "tableName"), body, dbsync.SourceClientRequest, period(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRow(w, row)
}

// getRow serves point lookups, partition scans, cross-partition row-key
// scans and whole-table dumps depending on which keys are present.
func (s *Server) getRow(w http.ResponseWriter, r *http.Request) {
	table := query(r, "tableName")
	pk := query(r, "partitionKey")
	rk := query(r, "rowKey")

	switch {
	case pk != "" && rk != "":
		row, err := s.Svc.GetRow(table, pk, rk, readOpts())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeRow(w, row)
	case pk != "":
		rows, err := s.Svc.GetPartition(table, pk, readOpts())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeRows(w, window(rows, r))
	case rk != "":
		rows, err := s.Svc.GetByRowKey(table, rk, readOpts())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeRows(w, window(rows, r))
	default:
		rows, err := s.Svc.GetAll(table)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeRows(w, window(rows, r))
	}
}

// window applies the skip/limit query parameters.
func window(rows []*nosql.Row, r *http.Request) []*nosql.Row {
	if skip := intQuery(r, "skip", 0); skip > 0 {
		if skip >= len(rows) {
			return nil
		}
		rows = rows[skip:]
	}
	if limit := intQuery(r, "limit", 0); limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}

func (s *Server) deleteRow(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	row, err := s.Svc.DeleteRow(query(r, "tableName"), query(r, "partitionKey"), query(r, "rowKey"),
		dbsync.SourceClientRequest, period(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRow(w, row)
}

func (s *Server) countRows(w http.ResponseWriter, r *http.Request) {
	n, err := s.Svc.Count(query(r, "tableName"), query(r, "partitionKey"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(strconv.Itoa(n)))
}

func (s *Server) highestRowAndBelow(w http.ResponseWriter, r *http.Request) {
	rows, err := s.Svc.GetHighestRowAndBelow(query(r, "tableName"),
		query(r, "partitionKey"), query(r, "rowKey"),
		intQuery(r, "maxAmount", 0), readOpts())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRows(w, rows)
}

func (s *Server) singlePartitionMultipleRows(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var rowKeys []string
	if err := json.Unmarshal(body, &rowKeys); err != nil {
		writeError(w, r, nosql.Errf(nosql.KindJsonParseFail, "body must be a JSON array of row keys"))
		return
	}
	rows, err := s.Svc.GetMultiRows(query(r, "tableName"), query(r, "partitionKey"), rowKeys, readOpts())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRows(w, rows)
}

func (s *Server) deletePartitions(w http.ResponseWriter, r *http.Request) {
	if !s.gate(w, r) {
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var pks []string
	if err := json.Unmarshal(body, &pks); err != nil {
		writeError(w, r, nosql.Errf(nosql.KindJsonParseFail, "body must be a JSON array of partition keys"))
		return
	}
	if err := s.Svc.DeletePartitions(query(r, "tableName"), pks, dbsync.SourceClientRequest, period(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
