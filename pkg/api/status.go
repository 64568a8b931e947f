package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
)

func (s *Server) registerStatus(r *mux.Router) {
	route(r, http.MethodGet, "/IsAlive", s.isAlive)
	route(r, http.MethodGet, "/Status", s.status)
}

type isAliveModel struct {
	Name    string `json:"name"`
	Time    string `json:"time"`
	Version string `json:"version"`
	EnvInfo string `json:"envInfo,omitempty"`
}

func (s *Server) isAlive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, isAliveModel{
		Name:    "mirrordb",
		Time:    time.Now().UTC().Format(time.RFC3339),
		Version: s.Version,
		EnvInfo: s.EnvInfo,
	})
}

type statusReaderModel struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Version       string   `json:"version,omitempty"`
	IP            string   `json:"ip"`
	Transport     string   `json:"transport"`
	Tables        []string `json:"tables"`
	LastIncoming  string   `json:"lastIncomingTime"`
	ConnectedTime string   `json:"connectedTime"`
	PendingToSend int      `json:"pendingToSend"`
}

type statusTableModel struct {
	Name                string `json:"name"`
	Persist             bool   `json:"persist"`
	MaxPartitionsAmount int    `json:"maxPartitionsAmount,omitempty"`
	MaxRowsPerPartition int    `json:"maxRowsPerPartition,omitempty"`
	PartitionsCount     int    `json:"partitionsCount"`
	RecordsAmount       int    `json:"recordsAmount"`
	DataSize            int64  `json:"dataSize"`
}

type statusModel struct {
	Initialized  bool                `json:"initialized"`
	ShuttingDown bool                `json:"shuttingDown"`
	Tables       []statusTableModel  `json:"tables"`
	Readers      []statusReaderModel `json:"readers"`
	Queues       struct {
		Persistence int `json:"persistence"`
	} `json:"queues"`
	Process struct {
		MemBytes uint64 `json:"memBytes"`
		Mem      string `json:"mem"`
		UptimeMs int64  `json:"uptimeMs"`
	} `json:"process"`
}

var processStart = time.Now()

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	model := statusModel{
		Initialized:  s.Life.Initialized(),
		ShuttingDown: s.Life.ShuttingDown(),
		Tables:       []statusTableModel{},
		Readers:      []statusReaderModel{},
	}

	for _, t := range s.Svc.Store().Tables() {
		attrs := t.Attributes()
		model.Tables = append(model.Tables, statusTableModel{
			Name:                t.Name,
			Persist:             attrs.Persist,
			MaxPartitionsAmount: attrs.MaxPartitionsAmount,
			MaxRowsPerPartition: attrs.MaxRowsPerPartitionAmount,
			PartitionsCount:     t.PartitionsCount(),
			RecordsAmount:       t.RowsCount(),
			DataSize:            t.Size(),
		})
	}

	for _, session := range s.Readers.List() {
		model.Readers = append(model.Readers, statusReaderModel{
			ID:            session.ID,
			Name:          session.Name,
			Version:       session.Version,
			IP:            session.RemoteAddr,
			Transport:     session.Transport.String(),
			Tables:        session.Tables(),
			LastIncoming:  now.Sub(session.LastIncoming()).String(),
			ConnectedTime: session.Started.UTC().Format(time.RFC3339),
			PendingToSend: session.QueuedBytes(),
		})
	}

	model.Queues.Persistence = s.Markers.PendingCount()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	model.Process.MemBytes = mem.Alloc
	model.Process.Mem = humanize.Bytes(mem.Alloc)
	model.Process.UptimeMs = now.Sub(processStart).Milliseconds()

	writeJSON(w, http.StatusOK, model)
}
