package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/momentumrace/internal/domain"
)

// PriceService stores price ticks and fans them out on the bus.
type PriceService struct {
	api    AssetBackend
	cache  domain.PriceCache
	bus    domain.SignalBus
	logger *slog.Logger
	now    func() time.Time
}

// NewPriceService creates a PriceService.
func NewPriceService(api AssetBackend, cache domain.PriceCache, bus domain.SignalBus, logger *slog.Logger) *PriceService {
	return &PriceService{
		api:    api,
		cache:  cache,
		bus:    bus,
		logger: logger.With(slog.String("component", "price_service")),
		now:    time.Now,
	}
}

// HandleTick stores every symbol of a tick and publishes the tick.
func (s *PriceService) HandleTick(ctx context.Context, tick domain.PriceTick) error {
	if len(tick) == 0 {
		return nil
	}

	ts := s.now()
	for sym, price := range tick {
		if err := s.cache.SetPrice(ctx, sym, price, ts); err != nil {
			return fmt.Errorf("price_service: set price %s: %w", sym, err)
		}
	}

	payload, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("price_service: marshal tick: %w", err)
	}
	if err := s.bus.Publish(ctx, domain.ChannelPriceUpdate, payload); err != nil {
		s.logger.WarnContext(ctx, "publish price update failed", slog.String("error", err.Error()))
	}
	return nil
}

// SeedFromAssets loads the asset list and stores the prices it carries, so
// the cache is warm before the first push arrives.
func (s *PriceService) SeedFromAssets(ctx context.Context) ([]domain.Asset, error) {
	env := s.api.ListAssets(ctx)
	if !env.Success {
		return nil, fmt.Errorf("price_service: list assets: %w", env.Err())
	}

	tick := make(domain.PriceTick, len(env.Data))
	for _, a := range env.Data {
		if a.Price > 0 {
			tick[a.Symbol] = a.Price
		}
	}
	if err := s.HandleTick(ctx, tick); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// Latest returns the latest price of every known symbol.
func (s *PriceService) Latest(ctx context.Context) (domain.PriceTick, error) {
	tick, err := s.cache.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("price_service: latest prices: %w", err)
	}
	return tick, nil
}
