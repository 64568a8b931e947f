package api

import (
	"io"
	"net"
	"net/http"
	"strconv"

	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/nosql"
)

// maxBodyBytes bounds request bodies; bulk inserts of whole tables are
// the largest legitimate payloads.
const maxBodyBytes = 256 << 20

func query(r *http.Request, name string) string {
	return r.URL.Query().Get(name)
}

func intQuery(r *http.Request, name string, def int) int {
	s := query(r, name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func boolQuery(r *http.Request, name string, def bool) bool {
	s := query(r, name)
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func period(r *http.Request) dbsync.Period {
	return dbsync.ParsePeriod(query(r, "syncPeriod"))
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
}

// readOpts are the defaults for client-facing reads: reads refresh the
// last-read moments that quota GC evicts by.
func readOpts() nosql.ReadOptions {
	return nosql.ReadOptions{
		UpdatePartitionLastRead: true,
		UpdateRowsLastRead:      true,
	}
}

// writeRows renders rows as the canonical JSON array.
func writeRows(w http.ResponseWriter, rows []*nosql.Row) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(nosql.MarshalRows(rows))
}

func writeRow(w http.ResponseWriter, row *nosql.Row) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(row.Data)
}

// gate rejects mutations while the app is loading or shutting down.
func (s *Server) gate(w http.ResponseWriter, r *http.Request) bool {
	if err := s.Life.Check(); err != nil {
		writeError(w, r, err)
		return false
	}
	return true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
