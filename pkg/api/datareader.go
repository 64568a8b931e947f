package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"mirrordb/pkg/dbsync"
	"mirrordb/pkg/nosql"
	"mirrordb/pkg/readers"
)

const defaultLongPollPark = 3 * time.Second

func (s *Server) registerDataReader(r *mux.Router) {
	route(r, http.MethodPost, "/DataReader/Greeting", s.readerGreeting)
	route(r, http.MethodPost, "/DataReader/Subscribe", s.readerSubscribe)
	route(r, http.MethodPost, "/DataReader/GetChanges", s.readerGetChanges)
	route(r, http.MethodPost, "/DataReader/Ping", s.readerPing)
}

func (s *Server) readerGreeting(w http.ResponseWriter, r *http.Request) {
	session := s.Readers.NewSession(readers.TransportHTTP, query(r, "name"), query(r, "version"), false)
	session.RemoteAddr = clientIP(r)
	writeJSON(w, http.StatusOK, map[string]string{"session": strconv.FormatInt(session.ID, 10)})
}

// session resolves the session header to a live HTTP reader session.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *readers.Session {
	raw := r.Header.Get("session")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, r, nosql.Errf(nosql.KindSessionNotFound, "bad session id %q", raw))
		return nil
	}
	session, ok := s.Readers.Get(id)
	if !ok || session.Transport != readers.TransportHTTP {
		writeError(w, r, nosql.Errf(nosql.KindSessionNotFound, "session %d not found", id))
		return nil
	}
	session.Touch()
	return session
}

func (s *Server) readerSubscribe(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	if session == nil {
		return
	}
	table := query(r, "tableName")
	session.Subscribe(table)
	readers.PublishFirstInit(s.Bus, session, table)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) readerPing(w http.ResponseWriter, r *http.Request) {
	if s.session(w, r) == nil {
		return
	}
	w.WriteHeader(http.StatusOK)
}

// getChangesBody is the optional piggybacked expiration update model.
type getChangesBody struct {
	UpdateExpirationTime []struct {
		TableName string `json:"tableName"`
		Items     []struct {
			PartitionKey        string   `json:"pk"`
			RowKeys             []string `json:"rk"`
			RowsExpiration      *string  `json:"ret"`
			PartitionExpiration *string  `json:"pet"`
		} `json:"items"`
	} `json:"uet"`
}

func (s *Server) readerGetChanges(w http.ResponseWriter, r *http.Request) {
	session := s.session(w, r)
	if session == nil {
		return
	}

	if body, err := readBody(r); err == nil && len(body) > 0 {
		var model getChangesBody
		if json.Unmarshal(body, &model) == nil {
			if err := s.applyExpirationUpdates(model); err != nil {
				writeError(w, r, err)
				return
			}
		}
	}

	park := s.LongPollPark
	if park <= 0 {
		park = defaultLongPollPark
	}
	payload := session.AwaitPayload(r.Context(), park)
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (s *Server) applyExpirationUpdates(model getChangesBody) error {
	for _, byTable := range model.UpdateExpirationTime {
		for _, item := range byTable.Items {
			rowKeys := item.RowKeys
			var expires nosql.Micros
			switch {
			case item.RowsExpiration != nil:
				expires, _ = nosql.ParseMicros(*item.RowsExpiration)
			case item.PartitionExpiration != nil:
				// partition-scoped: touch every row it currently holds
				expires, _ = nosql.ParseMicros(*item.PartitionExpiration)
				rows, err := s.Svc.GetPartition(byTable.TableName, item.PartitionKey, nosql.ReadOptions{})
				if err != nil {
					continue
				}
				rowKeys = rowKeys[:0]
				for _, row := range rows {
					rowKeys = append(rowKeys, row.RowKey)
				}
			default:
				continue
			}
			err := s.Svc.UpdateExpirationTime(byTable.TableName, item.PartitionKey, rowKeys,
				expires, dbsync.SourceClientRequest, dbsync.DefaultPeriod)
			if err != nil && nosql.KindOf(err) != nosql.KindTableNotFound {
				return err
			}
		}
	}
	return nil
}
