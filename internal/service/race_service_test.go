package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/momentumrace/internal/domain"
	"github.com/alanyoungcy/momentumrace/internal/notify"
)

func race(id uint64, state domain.RaceState) domain.Race {
	return domain.Race{
		RaceID:     id,
		State:      state,
		StartTs:    100,
		LockTs:     200,
		SettleTs:   300,
		AssetPools: []uint64{10, 20},
		TotalPool:  30,
	}
}

type raceFixture struct {
	api      *fakeBackend
	cache    *memRaceCache
	store    *memRaceStore
	archiver *memArchiver
	bus      *memBus
	notifier *memNotifier
	svc      *RaceService
}

func newRaceFixture() *raceFixture {
	f := &raceFixture{
		api:      &fakeBackend{races: map[uint64]domain.Race{}},
		cache:    newMemRaceCache(),
		store:    &memRaceStore{},
		archiver: &memArchiver{},
		bus:      &memBus{},
		notifier: &memNotifier{},
	}
	f.svc = NewRaceService(f.api, f.cache, f.store, f.archiver, f.bus, f.notifier, discardLogger())
	return f
}

func TestRaceServiceApplyMovesForward(t *testing.T) {
	f := newRaceFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.Apply(ctx, race(1, domain.RaceStateBetting)))
	require.NoError(t, f.svc.Apply(ctx, race(1, domain.RaceStateRunning)))
	require.NoError(t, f.svc.Apply(ctx, race(1, domain.RaceStateRunning)))

	err := f.svc.Apply(ctx, race(1, domain.RaceStateBetting))
	require.ErrorIs(t, err, domain.ErrStaleRace)

	cur, err := f.svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RaceStateRunning, cur.State)
	assert.Equal(t, 3, f.bus.count(domain.ChannelRaceUpdate))

	stored, err := f.store.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.RaceStateRunning, stored.State)
}

func TestRaceServiceApplyRejectsInvalid(t *testing.T) {
	f := newRaceFixture()
	bad := race(1, "Paused")
	require.Error(t, f.svc.Apply(context.Background(), bad))

	bad = race(1, domain.RaceStateBetting)
	bad.LockTs = 50
	require.Error(t, f.svc.Apply(context.Background(), bad))
	assert.Zero(t, f.bus.count(domain.ChannelRaceUpdate))
}

func TestRaceServiceOlderRaceDoesNotReplaceCurrent(t *testing.T) {
	f := newRaceFixture()
	ctx := context.Background()

	require.NoError(t, f.svc.Apply(ctx, race(5, domain.RaceStateBetting)))
	require.NoError(t, f.svc.Apply(ctx, race(4, domain.RaceStateSettled)))

	cur, err := f.svc.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), cur.RaceID)

	old, err := f.svc.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, domain.RaceStateSettled, old.State)
}

func TestRaceServiceStaleCheckUsesCache(t *testing.T) {
	f := newRaceFixture()
	ctx := context.Background()
	require.NoError(t, f.cache.Set(ctx, race(9, domain.RaceStateSettled)))

	err := f.svc.Apply(ctx, race(9, domain.RaceStateRunning))
	assert.ErrorIs(t, err, domain.ErrStaleRace)
}

func TestRaceServiceSettleArchivesAndNotifiesOnce(t *testing.T) {
	f := newRaceFixture()
	f.api.leaderboard = []domain.LeaderboardEntry{{Player: "p1", AssetIdx: 0, Amount: 5, Payout: 9, IsWinner: true}}
	ctx := context.Background()

	settled := race(2, domain.RaceStateSettled)
	settled.WinningAssets = []int{0}

	require.NoError(t, f.svc.Apply(ctx, race(2, domain.RaceStateSettlementReady)))
	require.NoError(t, f.svc.Apply(ctx, settled))
	require.NoError(t, f.svc.Apply(ctx, settled))

	assert.Equal(t, 1, f.archiver.calls)
	require.Len(t, f.archiver.boards, 1)
	assert.Len(t, f.archiver.boards[0], 1)
	assert.Equal(t, []string{notify.EventRaceSettled}, f.notifier.events())
}

func TestRaceServiceRefreshCurrent(t *testing.T) {
	f := newRaceFixture()
	ctx := context.Background()

	f.api.current = domain.OK(race(3, domain.RaceStateRunning))
	got, err := f.svc.RefreshCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), got.RaceID)

	// A backwards snapshot from the backend keeps the cached view.
	f.api.current = domain.OK(race(3, domain.RaceStateBetting))
	got, err = f.svc.RefreshCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RaceStateRunning, got.State)

	f.api.current = domain.Failure[domain.Race]("boom")
	_, err = f.svc.RefreshCurrent(ctx)
	assert.ErrorIs(t, err, domain.ErrBackend)
}

func TestRaceServiceGetFallsBackToBackend(t *testing.T) {
	f := newRaceFixture()
	f.api.races[7] = race(7, domain.RaceStateSettled)

	got, err := f.svc.Get(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.RaceID)

	_, err = f.svc.Get(context.Background(), 8)
	assert.ErrorIs(t, err, domain.ErrBackend)
}

func TestRaceServiceWithoutOptionalDeps(t *testing.T) {
	bus := &memBus{}
	svc := NewRaceService(&fakeBackend{}, newMemRaceCache(), nil, nil, bus, nil, discardLogger())

	require.NoError(t, svc.Apply(context.Background(), race(1, domain.RaceStateSettled)))
	recent, err := svc.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
	assert.Equal(t, 1, bus.count(domain.ChannelRaceUpdate))
}
