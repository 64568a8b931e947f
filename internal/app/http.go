package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"mirrordb/pkg/api"
	"mirrordb/pkg/auth"
	"mirrordb/pkg/logger"
	"mirrordb/pkg/telemetry"
)

// buildHandler assembles the HTTP surface: the API router plus the
// operational endpoints that bypass authentication.
func (a *App) buildHandler() http.Handler {
	apiSrv := &api.Server{
		Svc:          a.svc,
		Readers:      a.readers,
		Bus:          a.bus,
		Transactions: a.transactions,
		Life:         a.life,
		Markers:      a.markers,
		AdminKeys:    a.cfg.AdminKeys(),
		Version:      a.version,
		EnvInfo:      a.envInfo,
		LongPollPark: a.cfg.Readers.LongPollPark.Duration(),
	}

	mux := http.NewServeMux()

	// Liveness and readiness probes used by deployment systems
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !a.life.Initialized() || a.life.ShuttingDown() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Swagger UI at /docs and the OpenAPI spec at /openapi.yaml
	mux.Handle("/docs/", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	mux.Handle("/openapi.yaml", http.FileServer(http.Dir("./docs")))
	mux.Handle("/metrics", promhttp.Handler())

	// API handler (catch-all under /)
	mux.Handle("/", apiSrv.Router())

	secCfg := auth.FromConfig(a.cfg)
	return auth.AuthenticateRequestMiddleware(secCfg)(telemetry.Middleware(mux))
}

// startHTTP launches the listener and returns the server so Run can
// shut it down gracefully.
func (a *App) startHTTP(ctx context.Context) *http.Server {
	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.buildHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	cert := a.cfg.Server.TLS.CertFile
	key := a.cfg.Server.TLS.KeyFile
	go func() {
		var err error
		if cert != "" && key != "" {
			logger.Info("http_listening", "addr", srv.Addr, "tls", true)
			err = srv.ListenAndServeTLS(cert, key)
		} else {
			logger.Info("http_listening", "addr", srv.Addr, "tls", false)
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			select {
			case <-ctx.Done():
			default:
				logger.Error("http_server_failed", "error", err)
			}
		}
	}()
	return srv
}
