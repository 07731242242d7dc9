package app

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"huddle/cmd/internal/coordapi"
	"huddle/cmd/internal/notify"
)

func registerHTTP(
	mux *http.ServeMux,
	log *slog.Logger,
	cfg Config,
	pool *pgxpool.Pool,
	reg *prometheus.Registry,
	api *coordapi.Handler,
	gateway *notify.Gateway,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB {
			if pool == nil {
				http.Error(w, "database not configured", http.StatusServiceUnavailable)
				return
			}
			if err := PingDB(r.Context(), pool); err != nil {
				log.Warn("readiness: database unreachable", slog.String("error", err.Error()))
				http.Error(w, "database unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	api.Register(mux)
	mux.HandleFunc("/ws", gateway.HandleWS)
}
