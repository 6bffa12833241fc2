package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/momentumrace/internal/domain"
	"github.com/alanyoungcy/momentumrace/internal/notify"
)

const testPlayer = "Pl4yer111111111111111111111111111111111111"

type betFixture struct {
	api      *fakeBackend
	store    *memBetStore
	audit    *memAudit
	locks    *memLocks
	bus      *memBus
	notifier *memNotifier
	svc      *BetService
}

func newBetFixture(maxPlaces int) *betFixture {
	f := &betFixture{
		api:      &fakeBackend{},
		store:    &memBetStore{},
		audit:    &memAudit{},
		locks:    &memLocks{},
		bus:      &memBus{},
		notifier: &memNotifier{},
	}
	f.svc = NewBetService(f.api, f.store, f.audit, &countingLimiter{}, f.locks, f.bus, f.notifier,
		testPlayer, BetPolicy{
			MaxPlacesPerWindow: maxPlaces,
			PlaceWindow:        time.Minute,
			ClaimLockTTL:       time.Minute,
		}, discardLogger())
	return f
}

func TestBetServicePlaceBetRefetches(t *testing.T) {
	f := newBetFixture(5)
	f.api.place = domain.Envelope[domain.Bet]{
		Success:              true,
		Data:                 domain.Bet{RaceID: 4, AssetIdx: 1, Amount: 100},
		TransactionSignature: "sig-1",
	}
	payout := uint64(250)
	f.api.bet = domain.OK(domain.Bet{RaceID: 4, Player: testPlayer, AssetIdx: 1, Amount: 100, PotentialPayout: &payout})

	rec, err := f.svc.PlaceBet(context.Background(), 4, 1, 100)
	require.NoError(t, err)

	assert.Equal(t, "sig-1", rec.Signature)
	require.NotNil(t, rec.Bet)
	require.NotNil(t, rec.Bet.PotentialPayout)
	assert.Equal(t, payout, *rec.Bet.PotentialPayout)
	assert.Equal(t, 1, f.api.getBets)

	require.Len(t, f.api.placeReq, 1)
	assert.Equal(t, testPlayer, f.api.placeReq[0].PlayerAddress)
	assert.Equal(t, uint64(4), f.api.placeReq[0].RaceID)

	stored, err := f.store.Get(context.Background(), 4, testPlayer)
	require.NoError(t, err)
	assert.Equal(t, testPlayer, stored.Player)
	assert.Equal(t, []string{"bet_placed"}, f.audit.events)
	assert.Equal(t, 1, f.bus.count(domain.ChannelUserBetUpdate))
}

func TestBetServicePlaceBetValidates(t *testing.T) {
	f := newBetFixture(5)
	_, err := f.svc.PlaceBet(context.Background(), 1, 0, 0)
	require.Error(t, err)
	_, err = f.svc.PlaceBet(context.Background(), 1, -1, 10)
	require.Error(t, err)
	assert.Empty(t, f.api.placeReq)
}

func TestBetServicePlaceBetRateLimited(t *testing.T) {
	f := newBetFixture(2)
	f.api.place = domain.OK(domain.Bet{RaceID: 1})
	f.api.bet = domain.OK(domain.Bet{RaceID: 1, Player: testPlayer})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.PlaceBet(ctx, 1, 0, 10)
		require.NoError(t, err)
	}
	_, err := f.svc.PlaceBet(ctx, 1, 0, 10)
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Len(t, f.api.placeReq, 2)
}

func TestBetServicePlaceBetBackendFailure(t *testing.T) {
	f := newBetFixture(5)
	f.api.place = domain.Failure[domain.Bet]("Betting closed")

	_, err := f.svc.PlaceBet(context.Background(), 1, 0, 10)
	require.ErrorIs(t, err, domain.ErrBackend)
	assert.Contains(t, err.Error(), "Betting closed")

	// Failures are audited but nothing is mirrored.
	assert.Equal(t, []string{"bet_placed"}, f.audit.events)
	assert.Zero(t, f.bus.count(domain.ChannelUserBetUpdate))
	assert.Zero(t, f.api.getBets)
}

func TestBetServiceClaimPayout(t *testing.T) {
	f := newBetFixture(5)
	f.api.claim = domain.Envelope[domain.ClaimResult]{
		Success:              true,
		Data:                 domain.ClaimResult{RaceID: 6, Player: testPlayer, Payout: 1_500_000_000},
		TransactionSignature: "claim-sig",
	}
	f.api.bet = domain.OK(domain.Bet{RaceID: 6, Player: testPlayer, Claimed: true, IsWinner: true})

	rec, err := f.svc.ClaimPayout(context.Background(), 6)
	require.NoError(t, err)
	require.NotNil(t, rec.Claim)
	assert.Equal(t, uint64(1_500_000_000), rec.Claim.Payout)
	require.NotNil(t, rec.Bet)
	assert.True(t, rec.Bet.Claimed)
	assert.Equal(t, "claim-sig", rec.Signature)
	assert.Equal(t, []string{notify.EventPayoutClaimed}, f.notifier.events())

	// The lock is released after the claim.
	assert.Empty(t, f.locks.held)
}

func TestBetServiceClaimPayoutRefetchFailureKeepsStoredBet(t *testing.T) {
	f := newBetFixture(5)
	ctx := context.Background()
	payout := uint64(900)
	seeded := domain.Bet{RaceID: 6, Player: testPlayer, AssetIdx: 2, Amount: 500, IsWinner: true, PotentialPayout: &payout}
	require.NoError(t, f.store.Upsert(ctx, seeded))

	f.api.claim = domain.OK(domain.ClaimResult{RaceID: 6, Player: testPlayer, Payout: 900})
	f.api.bet = domain.Failure[domain.Bet]("timeout")

	rec, err := f.svc.ClaimPayout(ctx, 6)
	require.NoError(t, err)
	require.NotNil(t, rec.Claim)
	assert.Equal(t, uint64(900), rec.Claim.Payout)
	assert.Nil(t, rec.Bet)

	stored, err := f.store.Get(ctx, 6, testPlayer)
	require.NoError(t, err)
	assert.Equal(t, seeded, stored)
	assert.Zero(t, f.bus.count(domain.ChannelUserBetUpdate))
	assert.Equal(t, []string{notify.EventPayoutClaimed}, f.notifier.events())
}

func TestBetServicePlaceBetRefetchFailureMirrorsNothing(t *testing.T) {
	f := newBetFixture(5)
	f.api.place = domain.OK(domain.Bet{RaceID: 8, AssetIdx: 1, Amount: 100})
	f.api.bet = domain.Failure[domain.Bet]("timeout")

	rec, err := f.svc.PlaceBet(context.Background(), 8, 1, 100)
	require.NoError(t, err)
	assert.Nil(t, rec.Bet)

	_, err = f.store.Get(context.Background(), 8, testPlayer)
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, f.bus.count(domain.ChannelUserBetUpdate))
}

func TestBetServiceClaimPayoutLockHeld(t *testing.T) {
	f := newBetFixture(5)
	unlock, err := f.locks.Acquire(context.Background(), "claim:6:"+testPlayer, time.Minute)
	require.NoError(t, err)
	defer unlock()

	_, err = f.svc.ClaimPayout(context.Background(), 6)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Empty(t, f.api.claimReq)
}

func TestBetServiceWinNotifiedOnce(t *testing.T) {
	f := newBetFixture(5)
	ctx := context.Background()
	won := domain.Bet{RaceID: 3, Player: testPlayer, AssetIdx: 0, Amount: 10, IsWinner: true}

	require.NoError(t, f.svc.HandleUserBetUpdate(ctx, won))
	require.NoError(t, f.svc.HandleUserBetUpdate(ctx, won))

	f.api.bets = domain.OK([]domain.Bet{won})
	_, err := f.svc.RefreshBets(ctx, true)
	require.NoError(t, err)

	assert.Equal(t, []string{notify.EventBetWon}, f.notifier.events())
}

func TestBetServiceIgnoresOtherPlayers(t *testing.T) {
	f := newBetFixture(5)
	require.NoError(t, f.svc.HandleUserBetUpdate(context.Background(), domain.Bet{RaceID: 1, Player: "someone-else"}))
	assert.Zero(t, f.bus.count(domain.ChannelUserBetUpdate))
}

func TestBetServiceListFallsBackToBackend(t *testing.T) {
	api := &fakeBackend{bets: domain.OK([]domain.Bet{{RaceID: 1}, {RaceID: 2}})}
	svc := NewBetService(api, nil, nil, &countingLimiter{}, &memLocks{}, &memBus{}, nil,
		testPlayer, BetPolicy{MaxPlacesPerWindow: 1}, discardLogger())

	bets, err := svc.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, bets, 2)
}
