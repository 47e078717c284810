// Package app wires the store, reaper, token issuer, session manager and
// upload handler behind the HTTP gateway and runs them as one process.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"handoff/internal/config"
	"handoff/internal/httpserver"
	"handoff/internal/metrics"
	"handoff/internal/reaper"
	"handoff/internal/session"
	"handoff/internal/state"
	"handoff/internal/token"
	"handoff/internal/upload"
)

type App struct {
	cfg    config.Config
	log    logrus.FieldLogger
	reaper *reaper.Reaper
	server *httpserver.Server
}

// New builds every component from cfg. The state dir is created if missing.
func New(cfg config.Config, log logrus.FieldLogger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dir, err := filepath.Abs(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	cfg.StateDir = dir

	st, err := state.Open(cfg.StateDir, log.WithField("component", "state"))
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	rp := reaper.New(st, m, log.WithField("component", "reaper"))
	issuer := token.NewIssuer(st, cfg.TokenTTL.Std(), rp.SweepTx, log.WithField("component", "token"))
	sessions := session.NewManager(st, cfg.SessionTTL.Std(), rp.SweepTx, log.WithField("component", "session"))
	uploads := upload.New(st, issuer, cfg.MaxUploadBytes, log.WithField("component", "upload"))

	srv, err := httpserver.New(httpserver.Options{
		Config:   cfg,
		Store:    st,
		Tokens:   issuer,
		Sessions: sessions,
		Uploads:  uploads,
		Reaper:   rp,
		Metrics:  m,
		Log:      log.WithField("component", "http"),
	})
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, log: log, reaper: rp, server: srv}, nil
}

// Handler exposes the routed HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Run listens on the configured address and blocks until ctx is cancelled or
// the server fails.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	rctx, stopReaper := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.reaper.Run(rctx, a.cfg.SweepInterval.Std())
	}()
	defer func() {
		stopReaper()
		wg.Wait()
	}()

	a.log.WithFields(logrus.Fields{
		"addr":     ln.Addr().String(),
		"stateDir": a.cfg.StateDir,
		"adminAPI": a.cfg.AdminAPI,
		"webdav":   a.cfg.WebDAV,
	}).Info("server starting")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server stopping")
	case err := <-errCh:
		a.log.WithError(err).Error("server failed")
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Error("shutdown failed")
		return err
	}
	a.log.Info("server stopped")
	return nil
}
