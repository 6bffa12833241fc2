// Package feed drives the realtime session for the daemon and routes pushed
// events into the services.
package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/momentumrace/internal/domain"
	"github.com/alanyoungcy/momentumrace/internal/notify"
	"github.com/alanyoungcy/momentumrace/internal/platform/racews"
)

// Realtime is the realtime client surface the feed drives. *racews.Client
// satisfies it.
type Realtime interface {
	Connect(ctx context.Context) error
	Disconnect()
	ForceReconnect(ctx context.Context)
	Status() racews.Status
	SubscribeToRace(raceID uint64) error
	UnsubscribeFromRace(raceID uint64) error
	SubscribeToPrices() error
	OnRaceUpdate(h racews.RaceHandler)
	OnPriceUpdate(h racews.PriceHandler)
	OnUserBetUpdate(h racews.BetHandler)
}

// RaceSink receives race snapshots.
type RaceSink interface {
	Apply(ctx context.Context, race domain.Race) error
	RefreshCurrent(ctx context.Context) (domain.Race, error)
}

// PriceSink receives price ticks.
type PriceSink interface {
	HandleTick(ctx context.Context, tick domain.PriceTick) error
	SeedFromAssets(ctx context.Context) ([]domain.Asset, error)
}

// BetSink receives the player's bet updates.
type BetSink interface {
	HandleUserBetUpdate(ctx context.Context, bet domain.Bet) error
}

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RaceFeed owns the realtime session. It keeps the session subscribed to the
// price feed and to the current race, follows race rollovers, and forces a
// reconnect once the client has given up on its own.
type RaceFeed struct {
	rt       Realtime
	races    RaceSink
	prices   PriceSink
	bets     BetSink  // optional
	notifier Notifier // optional
	interval time.Duration
	logger   *slog.Logger

	mu         sync.Mutex
	ctx        context.Context
	current    uint64
	hasCurrent bool
	subscribed bool
	downSent   bool
}

// NewRaceFeed creates a RaceFeed. interval is the health check and poll
// period.
func NewRaceFeed(rt Realtime, races RaceSink, prices PriceSink, bets BetSink, notifier Notifier, interval time.Duration, logger *slog.Logger) *RaceFeed {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RaceFeed{
		rt:       rt,
		races:    races,
		prices:   prices,
		bets:     bets,
		notifier: notifier,
		interval: interval,
		logger:   logger.With(slog.String("component", "race_feed")),
		ctx:      context.Background(),
	}
}

// Run connects and keeps the session healthy until ctx is cancelled.
func (f *RaceFeed) Run(ctx context.Context) error {
	f.mu.Lock()
	f.ctx = ctx
	f.mu.Unlock()

	f.rt.OnRaceUpdate(f.handleRace)
	f.rt.OnPriceUpdate(f.handlePrice)
	if f.bets != nil {
		f.rt.OnUserBetUpdate(f.handleBet)
	}
	defer f.rt.Disconnect()

	if _, err := f.prices.SeedFromAssets(ctx); err != nil {
		f.logger.WarnContext(ctx, "seed prices failed", slog.String("error", err.Error()))
	}
	f.poll(ctx)

	if err := f.rt.Connect(ctx); err != nil {
		f.logger.WarnContext(ctx, "initial realtime connect failed", slog.String("error", err.Error()))
	} else {
		f.ensureSubscribed()
	}
	f.logger.InfoContext(ctx, "race feed started", slog.Duration("interval", f.interval))

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("race feed stopped")
			return ctx.Err()
		case <-ticker.C:
			f.checkHealth(ctx)
			f.poll(ctx)
		}
	}
}

// Current returns the race id the feed is following.
func (f *RaceFeed) Current() (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, f.hasCurrent
}

func (f *RaceFeed) runCtx() context.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctx
}

func (f *RaceFeed) handleRace(race domain.Race) {
	ctx := f.runCtx()
	if err := f.races.Apply(ctx, race); err != nil {
		if errors.Is(err, domain.ErrStaleRace) {
			return
		}
		f.logger.WarnContext(ctx, "apply race update failed",
			slog.Uint64("race_id", race.RaceID),
			slog.String("error", err.Error()),
		)
		return
	}
	f.follow(race.RaceID)

	// The next race usually opens as the current one settles.
	if race.State == domain.RaceStateSettled {
		if id, ok := f.Current(); ok && id == race.RaceID {
			go f.poll(ctx)
		}
	}
}

func (f *RaceFeed) handlePrice(tick domain.PriceTick) {
	ctx := f.runCtx()
	if err := f.prices.HandleTick(ctx, tick); err != nil {
		f.logger.WarnContext(ctx, "apply price tick failed", slog.String("error", err.Error()))
	}
}

func (f *RaceFeed) handleBet(bet domain.Bet) {
	ctx := f.runCtx()
	if err := f.bets.HandleUserBetUpdate(ctx, bet); err != nil {
		f.logger.WarnContext(ctx, "apply bet update failed",
			slog.Uint64("race_id", bet.RaceID),
			slog.String("error", err.Error()),
		)
	}
}

// poll fetches the current race so rollovers are seen even without pushes.
func (f *RaceFeed) poll(ctx context.Context) {
	race, err := f.races.RefreshCurrent(ctx)
	if err != nil {
		if ctx.Err() == nil {
			f.logger.WarnContext(ctx, "poll current race failed", slog.String("error", err.Error()))
		}
		return
	}
	f.follow(race.RaceID)
}

// follow moves the race subscription to raceID when it is newer than the
// race being followed.
func (f *RaceFeed) follow(raceID uint64) {
	f.mu.Lock()
	if f.hasCurrent && raceID <= f.current {
		f.mu.Unlock()
		return
	}
	prev, hadPrev := f.current, f.hasCurrent
	f.current, f.hasCurrent = raceID, true
	live := f.subscribed
	f.mu.Unlock()

	f.logger.Info("following race", slog.Uint64("race_id", raceID))
	if !live {
		return
	}

	if hadPrev {
		if err := f.rt.UnsubscribeFromRace(prev); err != nil {
			f.logger.Debug("unsubscribe previous race failed",
				slog.Uint64("race_id", prev),
				slog.String("error", err.Error()),
			)
		}
	}
	if err := f.rt.SubscribeToRace(raceID); err != nil {
		f.logger.Warn("subscribe race failed",
			slog.Uint64("race_id", raceID),
			slog.String("error", err.Error()),
		)
		f.mu.Lock()
		f.subscribed = false
		f.mu.Unlock()
	}
}

// ensureSubscribed sends the price and current race subscriptions once per
// live session. The client replays them itself on reconnect.
func (f *RaceFeed) ensureSubscribed() {
	f.mu.Lock()
	if f.subscribed {
		f.mu.Unlock()
		return
	}
	raceID, hasRace := f.current, f.hasCurrent
	f.mu.Unlock()

	if err := f.rt.SubscribeToPrices(); err != nil {
		f.logger.Warn("subscribe prices failed", slog.String("error", err.Error()))
		return
	}
	if hasRace {
		if err := f.rt.SubscribeToRace(raceID); err != nil {
			f.logger.Warn("subscribe race failed",
				slog.Uint64("race_id", raceID),
				slog.String("error", err.Error()),
			)
			return
		}
	}

	f.mu.Lock()
	f.subscribed = true
	f.mu.Unlock()
}

// checkHealth forces a reconnect when the session is down and nothing is
// bringing it back: either the client gave up or it never connected.
func (f *RaceFeed) checkHealth(ctx context.Context) {
	st := f.rt.Status()
	if st.IsConnected {
		f.ensureSubscribed()
		f.mu.Lock()
		f.downSent = false
		f.mu.Unlock()
		return
	}
	if st.IsConnecting || (!st.GaveUp && st.ReconnectAttempt > 0) {
		return
	}

	if st.GaveUp {
		f.mu.Lock()
		send := !f.downSent
		f.downSent = true
		f.mu.Unlock()
		if send && f.notifier != nil {
			title, msg := notify.RealtimeDown(st.ReconnectAttempt)
			if err := f.notifier.Notify(ctx, notify.EventRealtimeDown, title, msg); err != nil {
				f.logger.WarnContext(ctx, "realtime down notification failed", slog.String("error", err.Error()))
			}
		}
	}

	f.logger.WarnContext(ctx, "realtime session down, forcing reconnect",
		slog.Bool("gave_up", st.GaveUp),
		slog.Int("attempts", st.ReconnectAttempt),
	)
	f.rt.ForceReconnect(ctx)

	if f.rt.Status().IsConnected {
		f.ensureSubscribed()
		f.logger.InfoContext(ctx, "realtime session restored")
	}
}

var _ Realtime = (*racews.Client)(nil)
