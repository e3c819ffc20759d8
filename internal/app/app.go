// Package app wires all Voxhall subsystems into a running assistant process.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the assistant until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithArchiver, WithRenderer). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxhall/voxhall/internal/config"
	"github.com/voxhall/voxhall/internal/health"
	"github.com/voxhall/voxhall/internal/observe"
	"github.com/voxhall/voxhall/internal/voice"
	"github.com/voxhall/voxhall/pkg/transcript"
	"github.com/voxhall/voxhall/pkg/transcript/postgres"
)

// Archiver persists the finalized transcript of one session. Satisfied by
// [postgres.Store]; nil disables archival.
type Archiver interface {
	ArchiveSession(ctx context.Context, sessionID string, log []transcript.Segment) error
}

// App owns all subsystem lifetimes around one [voice.Controller].
type App struct {
	cfg  *config.Config
	ctrl *voice.Controller
	log  *slog.Logger

	sessionID string
	archive   Archiver
	store     *postgres.Store // set only when archival was built from config
	httpSrv   *http.Server
	renderer  *Renderer

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithArchiver injects a transcript archiver instead of connecting to the
// configured PostgreSQL database.
func WithArchiver(a Archiver) Option {
	return func(app *App) { app.archive = a }
}

// WithRenderer injects a transcript renderer instead of the default
// stdout renderer.
func WithRenderer(r *Renderer) Option {
	return func(app *App) { app.renderer = r }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring the supporting subsystems around ctrl: the
// transcript archive (when a DSN is configured), the health and metrics
// endpoint (when a listen address is configured), and the console transcript
// renderer. The controller itself comes from main, built via the backend
// registry.
func New(ctx context.Context, cfg *config.Config, ctrl *voice.Controller, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		ctrl:      ctrl,
		log:       slog.Default(),
		sessionID: newSessionID(),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initArchive(ctx); err != nil {
		return nil, fmt.Errorf("app: init archive: %w", err)
	}
	a.initHTTP()
	if a.renderer == nil {
		a.renderer = NewRenderer(ctrl)
	}

	return a, nil
}

// initArchive connects the PostgreSQL transcript store when a DSN is
// configured and no archiver was injected.
func (a *App) initArchive(ctx context.Context) error {
	if a.archive != nil || a.cfg.Transcript.PostgresDSN == "" {
		return nil
	}

	store, err := postgres.NewStore(ctx, a.cfg.Transcript.PostgresDSN)
	if err != nil {
		return err
	}
	a.store = store
	a.archive = store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	slog.Info("transcript archival enabled", "session_id", a.sessionID)
	return nil
}

// initHTTP builds the health and metrics endpoint when a listen address is
// configured. /healthz reports the pipeline state, /readyz probes the
// transcript database when archival is enabled, /metrics serves the
// Prometheus registry fed by the OTel exporter bridge.
func (a *App) initHTTP() {
	if a.cfg.Server.ListenAddr == "" {
		return
	}

	var checkers []health.Checker
	if a.store != nil {
		checkers = append(checkers, health.Checker{
			Name:  "database",
			Check: a.store.Ping,
		})
	}

	mux := http.NewServeMux()
	health.New(checkers...).
		WithPipelineState(func() string { return a.ctrl.State().String() }).
		Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the voice pipeline, the transcript renderer, and the HTTP
// endpoint, then blocks until ctx is cancelled or the HTTP server fails.
// A pipeline that fails mid-session stays down; Run keeps serving the
// operational endpoint so the process remains observable.
func (a *App) Run(ctx context.Context) error {
	if err := a.ctrl.Start(ctx); err != nil {
		return fmt.Errorf("app: start pipeline: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		g.Go(func() error {
			a.log.Info("operational endpoint listening", "addr", a.httpSrv.Addr)
			if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.httpSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		a.renderer.Run(ctx)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the pipeline, archives the finalized transcript, and tears
// down all subsystems in reverse-init order. It respects the context
// deadline and is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.ctrl.Stop()

		if a.archive != nil {
			log := a.ctrl.TranscriptLog()
			if err := a.archive.ArchiveSession(ctx, a.sessionID, log); err != nil {
				a.log.Warn("transcript archival failed", "session_id", a.sessionID, "err", err)
			} else if len(log) > 0 {
				a.log.Info("transcript archived", "session_id", a.sessionID, "segments", len(log))
			}
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// newSessionID derives a unique archive key for this process run.
func newSessionID() string {
	return "voxhall-" + time.Now().UTC().Format("20060102-150405")
}
