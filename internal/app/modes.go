package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/solsticefi/bonddepot/internal/domain"
	"github.com/solsticefi/bonddepot/internal/server"
	"github.com/solsticefi/bonddepot/internal/server/handler"
	"github.com/solsticefi/bonddepot/internal/server/ws"
	"github.com/solsticefi/bonddepot/internal/service"
)

// archiveLockKey guards the archive sweep so only one instance runs it at a
// time when several processes share the same Redis.
const archiveLockKey = "archive:sweep"

// ServerMode runs the HTTP + WebSocket API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// MonitorMode tails the depository event stream into the log and runs the
// cold-storage archive sweep. It serves no HTTP traffic.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startEventLogger(ctx, g, deps)
	a.startArchiveSweep(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the API server, the event logger, and the archive sweep in
// one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	a.startEventLogger(ctx, g, deps)
	a.startArchiveSweep(ctx, g, deps)
	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		Channels:  []string{service.EventChannel},
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Markets:  handler.NewMarketHandler(deps.Service, deps.Engine, deps.Admin, a.logger),
		Deposits: handler.NewDepositHandler(deps.Service, a.logger),
		Notes:    handler.NewNoteHandler(deps.Service, deps.Engine, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      deps.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startEventLogger subscribes to the depository event channel and mirrors
// every event into the structured log.
func (a *App) startEventLogger(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		ch, err := deps.SignalBus.Subscribe(ctx, service.EventChannel)
		if err != nil {
			return fmt.Errorf("monitor: subscribe events: %w", err)
		}
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case data, ok := <-ch:
				if !ok {
					return nil
				}
				var ev domain.Event
				if err := json.Unmarshal(data, &ev); err != nil {
					a.logger.WarnContext(ctx, "monitor: malformed event")
					continue
				}
				a.logger.InfoContext(ctx, "depository event",
					slog.String("event_id", ev.ID),
					slog.String("type", ev.Type),
					slog.Time("at", ev.At),
				)
			}
		}
	})
}

// startArchiveSweep periodically moves settled history from the journal into
// S3. The sweep is skipped when the archiver is not wired or another process
// holds the sweep lock.
func (a *App) startArchiveSweep(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil || !a.cfg.Archive.Enabled {
		a.logger.InfoContext(ctx, "archive sweep disabled")
		return
	}

	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.runArchiveSweep(ctx, deps, retention)
			}
		}
	})
}

// runArchiveSweep executes one guarded archive pass. Failures are logged and
// retried on the next tick.
func (a *App) runArchiveSweep(ctx context.Context, deps *Dependencies, retention time.Duration) {
	unlock, err := deps.LockManager.Acquire(ctx, archiveLockKey, 10*time.Minute)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return
		}
		a.logger.WarnContext(ctx, "archive: lock acquire failed",
			slog.String("error", err.Error()),
		)
		return
	}
	defer unlock()

	cutoff := time.Now().Add(-retention)

	markets, err := deps.Archiver.ArchiveMarkets(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "archive: markets sweep failed",
			slog.String("error", err.Error()),
		)
	}
	notes, err := deps.Archiver.ArchiveNotes(ctx, cutoff)
	if err != nil {
		a.logger.WarnContext(ctx, "archive: notes sweep failed",
			slog.String("error", err.Error()),
		)
	}

	if markets > 0 || notes > 0 {
		a.logger.InfoContext(ctx, "archive: sweep complete",
			slog.Int64("markets", markets),
			slog.Int64("notes", notes),
		)
	}
}
