package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/momentumrace/internal/feed"
	"github.com/alanyoungcy/momentumrace/internal/server"
	"github.com/alanyoungcy/momentumrace/internal/server/handler"
	"github.com/alanyoungcy/momentumrace/internal/server/ws"
	"github.com/alanyoungcy/momentumrace/internal/service"
)

const shutdownTimeout = 10 * time.Second

// services are the business services shared by every mode.
type services struct {
	races  *service.RaceService
	prices *service.PriceService
	bets   *service.BetService
}

func (a *App) buildServices(deps *Dependencies) services {
	return services{
		races: service.NewRaceService(deps.API, deps.RaceCache, deps.RaceStore, deps.Archiver,
			deps.SignalBus, deps.Notifier, a.logger),
		prices: service.NewPriceService(deps.API, deps.PriceCache, deps.SignalBus, a.logger),
		bets: service.NewBetService(deps.API, deps.BetStore, deps.AuditStore, deps.RateLimiter,
			deps.LockManager, deps.SignalBus, deps.Notifier, a.cfg.Player.Pubkey,
			service.BetPolicy{
				MaxPlacesPerWindow: a.cfg.Bets.MaxPlacesPerWindow,
				PlaceWindow:        a.cfg.Bets.PlaceWindow.Duration,
				ClaimLockTTL:       a.cfg.Bets.ClaimLockTTL.Duration,
			}, a.logger),
	}
}

// WatchMode follows the backend through the realtime feed and keeps the
// caches, stores and bus current. No HTTP server is started.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startFeed(ctx, g, deps, a.buildServices(deps))
	return g.Wait()
}

// ServerMode serves the local API from the caches and stores another
// process keeps current.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.buildServices(deps), nil)
	return g.Wait()
}

// FullMode runs the feed and the HTTP server in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	g, ctx := errgroup.WithContext(ctx)
	svcs := a.buildServices(deps)
	a.startFeed(ctx, g, deps, svcs)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs, deps.Realtime)
	}
	return g.Wait()
}

func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs services) {
	raceFeed := feed.NewRaceFeed(deps.Realtime, svcs.races, svcs.prices, svcs.bets, deps.Notifier,
		a.cfg.Realtime.HealthInterval.Duration, a.logger)
	g.Go(func() error {
		return raceFeed.Run(ctx)
	})

	// Seed the bet mirror once; later changes arrive as pushes.
	g.Go(func() error {
		bets, err := svcs.bets.RefreshBets(ctx, true)
		if err != nil {
			a.logger.WarnContext(ctx, "initial bet refresh failed", slog.String("error", err.Error()))
			return nil
		}
		a.logger.InfoContext(ctx, "bets loaded", slog.Int("count", len(bets)))
		return nil
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs services, realtime handler.RealtimeStatus) {
	hub := ws.NewHub(deps.SignalBus, realtime, a.cfg.Mode, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		WriteLimit:  a.cfg.Server.WriteLimitPerMinute,
		WriteWindow: time.Minute,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, a.cfg.Player.Pubkey, realtime),
		Races:   handler.NewRaceHandler(svcs.races, a.logger),
		Prices:  handler.NewPriceHandler(svcs.prices, a.logger),
		Bets:    handler.NewBetHandler(svcs.bets, a.logger),
		Metrics: deps.Metrics.Handler(),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
