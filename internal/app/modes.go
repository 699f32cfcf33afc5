package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/optiondesk/paperbot/internal/cache/redis"
	"github.com/optiondesk/paperbot/internal/metrics"
	"github.com/optiondesk/paperbot/internal/server"
	"github.com/optiondesk/paperbot/internal/server/handler"
	"github.com/optiondesk/paperbot/internal/server/ws"
	"github.com/optiondesk/paperbot/internal/service"
)

const shutdownGrace = 10 * time.Second

// ServeMode runs the dashboard core: tick pump, read-model publisher, feed
// lease keeper, metrics sampler, expiry sweeper, websocket hub and the HTTP
// API. It blocks until the context is cancelled or a component fails.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	// Websocket hub. Trade and feed events reach clients through the Redis
	// bus; snapshots are handed over in-process by the publisher.
	hub := ws.NewHub(ws.Config{
		Bus:         deps.Bus,
		BusChannels: []string{redis.ChannelTrades, redis.ChannelFeed},
		Clients:     deps.Metrics.WSClients,
		Logger:      a.logger,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	publisher := service.NewPublisher(service.PublisherConfig{
		Core:            deps.Core,
		Feed:            deps.Feed,
		Hub:             hub,
		Bus:             deps.Bus,
		SnapshotChannel: redis.ChannelSnapshots,
		Interval:        a.cfg.Engine.PublishInterval.Duration,
		Logger:          a.logger,
	})
	deps.Publisher = publisher
	g.Go(func() error {
		return publisher.Run(ctx)
	})

	// Tick pump: feed batches into the valuation core.
	g.Go(func() error {
		return deps.Pump.Run(ctx)
	})

	// Feed leader lease keeper.
	g.Go(func() error {
		return deps.FeedSvc.Run(ctx)
	})

	sampler := metrics.NewSampler(deps.Metrics, deps.Core, deps.Feed, 0)
	g.Go(func() error {
		return sampler.Run(ctx)
	})

	g.Go(func() error {
		return a.runExpirySweeper(ctx, deps)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, hub, publisher)
	}

	if a.cfg.Kite.AutoStartFeed {
		if err := deps.FeedSvc.Start(ctx); err != nil {
			a.logger.WarnContext(ctx, "feed auto-start failed, start it via the API",
				slog.String("error", err.Error()),
			)
		}
	}

	return g.Wait()
}

// runExpirySweeper settles contracts past their expiry date. A sweep on entry
// covers positions that expired while the process was down.
func (a *App) runExpirySweeper(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Engine.SweepInterval.Duration
	if interval <= 0 {
		interval = time.Minute
	}

	sweep := func() {
		results := deps.Ledger.ExpireDue(ctx)
		if len(results) > 0 {
			a.logger.InfoContext(ctx, "expiry sweep settled positions",
				slog.Int("count", len(results)),
			)
		}
	}
	sweep()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sweep()
		}
	}
}

// startHTTPServer assembles the handlers and runs the API server under the
// errgroup, with a companion goroutine for graceful shutdown.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, hub *ws.Hub, publisher *service.Publisher) {
	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.PGClient, deps.RedisClient, a.logger),
		Status:      handler.NewStatusHandler(a.cfg.Mode, deps.FeedSvc, deps.Core),
		Snapshot:    handler.NewSnapshotHandler(publisher),
		Positions:   handler.NewPositionHandler(deps.Ledger, a.logger),
		Payoff:      handler.NewPayoffHandler(deps.Ledger),
		Account:     handler.NewAccountHandler(deps.Core),
		Feed:        handler.NewFeedHandler(deps.FeedSvc, a.logger),
		Archive:     handler.NewArchiveHandler(deps.Archiver, a.logger),
		Strategy:    handler.NewStrategyHandler(deps.Registry, a.logger),
		Audit:       handler.NewAuditHandler(deps.Ledger, a.logger),
		Metrics:     deps.Metrics.Handler(),
		ObserveHTTP: deps.Metrics.ObserveHTTP,
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// ArchiveMode exports one trading day's settled positions to object storage
// and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return errors.New("app: archive mode requires S3 configuration")
	}

	day := time.Now().UTC().AddDate(0, 0, -1)
	if a.cfg.Archive.Date != "" {
		parsed, err := time.Parse("2006-01-02", a.cfg.Archive.Date)
		if err != nil {
			return fmt.Errorf("app: archive date: %w", err)
		}
		day = parsed
	}

	a.logger.InfoContext(ctx, "starting archive mode",
		slog.String("day", day.Format("2006-01-02")),
	)

	count, err := deps.Archiver.ArchiveDay(ctx, day)
	if err != nil {
		return fmt.Errorf("app: archive day: %w", err)
	}

	a.logger.InfoContext(ctx, "archive complete",
		slog.String("day", day.Format("2006-01-02")),
		slog.Int64("positions", count),
	)
	return nil
}
