// Package app wires the parley server runtime: config, logging, the
// conversation engine, snapshot persistence, HTTP routes and the stream gateway.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"parley/cmd/internal/auth"
	"parley/cmd/internal/chat"
	"parley/cmd/internal/persist"
	"parley/cmd/internal/realtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App is the parley server runtime: it owns the engine, its persistence and
// the HTTP server wiring.
type App struct {
	cfg Config
	log Logger

	engine    *chat.Engine
	registry  *prometheus.Registry
	snapshots snapshotBackend
	persister *persist.Persister

	auth    *auth.Service
	handler http.Handler
}

// New constructs a fully wired App. A stored snapshot, when present, is
// restored into the engine before New returns.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics, err := chat.NewMetrics(reg)
	if err != nil {
		return nil, err
	}
	engine, err := chat.NewEngine(cfg.Chat, chat.WithLogger(log), chat.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log, engine: engine, registry: reg}
	if err := a.initSnapshots(ctx); err != nil {
		engine.Close()
		return nil, err
	}

	if err := a.initHTTP(); err != nil {
		engine.Close()
		_ = a.snapshots.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) initSnapshots(ctx context.Context) error {
	backend, err := newSnapshotBackend(ctx, a.cfg, a.log)
	if err != nil {
		return err
	}
	a.snapshots = backend
	if !backend.enabled() {
		return nil
	}

	found, err := persist.Hydrate(ctx, backend.store, a.engine)
	if err != nil {
		_ = backend.Close(ctx)
		return err
	}
	a.log.Info("snapshot.hydrate", "backend", backend.name, "found", found, "rooms", len(a.engine.Rooms()))

	a.persister, err = persist.NewPersister(a.engine, backend.store, persist.PersisterConfig{
		Interval:   a.cfg.SnapshotInterval,
		Logger:     a.log,
		Registerer: a.registry,
	})
	if err != nil {
		_ = backend.Close(ctx)
		return err
	}
	return nil
}

func (a *App) initHTTP() error {
	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		return err
	}
	if authCfg.EphemeralKey {
		a.log.Warn("auth.key.ephemeral", "hint", "set PARLEY_PASETO_V4_SECRET_KEY_HEX to keep tokens valid across restarts")
	}
	tokens, err := auth.NewPasetoV4PublicManager(authCfg)
	if err != nil {
		return err
	}
	a.auth, err = auth.NewService(authCfg, tokens, a.log, nil)
	if err != nil {
		return err
	}

	wsCfg := a.cfg.WS
	wsCfg.RequireAuth = a.cfg.RequireAuth
	ws, err := realtime.NewWSGateway(a.log, a.engine, a.auth, wsCfg)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.registry, a.snapshots.ready,
		&chatHandler{log: a.log, engine: a.engine},
		newOTPHandler(a.log, a.auth, a.cfg.OTPRequestLimit, a.cfg.OTPRequestWindow),
		a.auth,
		ws,
	)
	a.handler = WithRequestLogging(WithSecurityHeaders(mux), a.log)
	return nil
}

// Engine returns the conversation engine.
func (a *App) Engine() *chat.Engine { return a.engine }

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and the snapshot persister and blocks until
// context cancellation or a fatal server error. A final snapshot is written
// on the way out.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	persistCtx, stopPersist := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPersist()
	persistDone := make(chan error, 1)
	if a.persister != nil {
		go func() { persistDone <- a.persister.Run(persistCtx) }()
	} else {
		persistDone <- nil
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"snapshot_backend", a.snapshots.name,
		"require_auth", a.cfg.RequireAuth,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	// Stop timers first so the final snapshot is not raced by late replies.
	a.engine.Close()
	stopPersist()
	if err := <-persistDone; err != nil {
		a.log.Error("snapshot.final.fail", "err", err)
	}

	if err := a.snapshots.Close(shutdownCtx); err != nil {
		a.log.Error("snapshot.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can reach.
// Wildcard binds map to the IPv4 loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base URL to its ws(s) counterpart.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
