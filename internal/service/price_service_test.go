package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/momentumrace/internal/domain"
)

func TestPriceServiceHandleTick(t *testing.T) {
	cache := &memPriceCache{}
	bus := &memBus{}
	svc := NewPriceService(&fakeBackend{}, cache, bus, discardLogger())
	ctx := context.Background()

	require.NoError(t, svc.HandleTick(ctx, domain.PriceTick{"BTC": 65000.5, "SOL": 150}))
	require.NoError(t, svc.HandleTick(ctx, nil))

	latest, err := svc.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.PriceTick{"BTC": 65000.5, "SOL": 150}, latest)
	assert.Equal(t, 1, bus.count(domain.ChannelPriceUpdate))
}

func TestPriceServiceSeedFromAssets(t *testing.T) {
	api := &fakeBackend{assets: domain.OK([]domain.Asset{
		{Index: 0, Symbol: "BTC", Price: 65000},
		{Index: 1, Symbol: "ETH"},
	})}
	cache := &memPriceCache{}
	svc := NewPriceService(api, cache, &memBus{}, discardLogger())

	assets, err := svc.SeedFromAssets(context.Background())
	require.NoError(t, err)
	assert.Len(t, assets, 2)

	latest, err := svc.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PriceTick{"BTC": 65000}, latest)
}

func TestPriceServiceSeedFailure(t *testing.T) {
	api := &fakeBackend{assets: domain.Failure[[]domain.Asset]("down")}
	svc := NewPriceService(api, &memPriceCache{}, &memBus{}, discardLogger())

	_, err := svc.SeedFromAssets(context.Background())
	assert.ErrorIs(t, err, domain.ErrBackend)
}
