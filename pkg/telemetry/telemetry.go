package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process-wide prometheus metrics. Registered on the default registry and
// served by promhttp from the application router.

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirrordb",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mirrordb",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	syncEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirrordb",
		Subsystem: "sync",
		Name:      "events_total",
		Help:      "Change events published to the sync bus, by kind.",
	}, []string{"kind"})

	persistedFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mirrordb",
		Subsystem: "persist",
		Name:      "files_total",
		Help:      "Partition files written or deleted by the persistence flusher.",
	}, []string{"op"})

	persistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mirrordb",
		Subsystem: "persist",
		Name:      "failures_total",
		Help:      "Flush attempts that returned an error.",
	})

	expiredRows = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "mirrordb",
		Subsystem: "gc",
		Name:      "expired_rows_total",
		Help:      "Rows removed by the expiration sweeper.",
	})
)

// SyncEventPublished counts one bus event of the given kind.
func SyncEventPublished(kind string) {
	syncEvents.WithLabelValues(kind).Inc()
}

// PersistFileWritten counts one partition or metadata file flush.
func PersistFileWritten() { persistedFiles.WithLabelValues("write").Inc() }

// PersistFileDeleted counts one partition file removal.
func PersistFileDeleted() { persistedFiles.WithLabelValues("delete").Inc() }

// PersistFailure counts one failed flush attempt.
func PersistFailure() { persistFailures.Inc() }

// ExpiredRows counts rows removed by the expiration sweeper.
func ExpiredRows(n int) {
	if n > 0 {
		expiredRows.Add(float64(n))
	}
}

// RegisterGauges hooks live gauges onto the default registry. The callbacks
// are sampled at scrape time, so they must be cheap and lock briefly.
func RegisterGauges(readerSessions, tables, syncQueueDepth func() float64) {
	register := func(name, help string, fn func() float64) {
		if fn == nil {
			return
		}
		prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "mirrordb",
			Name:      name,
			Help:      help,
		}, fn))
	}
	register("reader_sessions", "Connected change-feed reader sessions.", readerSessions)
	register("tables", "Tables currently held in memory.", tables)
	register("sync_queue_depth", "Events waiting in the sync bus.", syncQueueDepth)
}

// Middleware records request counts and latency per mux route template.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(srw.status)).Inc()
		httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
