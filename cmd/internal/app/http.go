package app

import (
	"context"
	"net/http"

	"parley/cmd/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// readinessCheck reports whether a backing store is reachable.
type readinessCheck func(ctx context.Context) error

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	gatherer prometheus.Gatherer,
	ready readinessCheck,
	chats *chatHandler,
	otp *otpHandler,
	authn Authenticator,
	ws *realtime.WSGateway,
) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireStore && ready == nil {
			http.Error(w, "snapshot store not configured", http.StatusServiceUnavailable)
			return
		}
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				http.Error(w, "snapshot store not ready", http.StatusServiceUnavailable)
				log.Info("readyz.store.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	authed := func(next http.Handler) http.Handler { return next }
	if cfg.RequireAuth && authn != nil {
		authed = func(next http.Handler) http.Handler { return RequireAuth(next, authn, log) }
	}

	if otp != nil {
		otp.register(mux, authed)
	}
	chats.register(mux, authed)

	mux.Handle("GET /ws", ws)
}
