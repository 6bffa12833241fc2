package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/momentumrace/internal/domain"
	"github.com/alanyoungcy/momentumrace/internal/notify"
)

// knownRaceWindow is how many race ids behind the current one keep their
// last observed state in memory.
const knownRaceWindow = 32

// RaceService keeps the local view of races in step with the backend. Race
// state only moves forward; snapshots that would move a race backwards are
// rejected with domain.ErrStaleRace.
type RaceService struct {
	api      RaceBackend
	cache    domain.RaceCache
	store    domain.RaceStore    // optional
	archiver domain.RaceArchiver // optional
	bus      domain.SignalBus
	notifier Notifier
	logger   *slog.Logger

	mu      sync.Mutex
	known   map[uint64]domain.RaceState
	current uint64
}

// NewRaceService creates a RaceService. store and archiver may be nil.
func NewRaceService(
	api RaceBackend,
	cache domain.RaceCache,
	store domain.RaceStore,
	archiver domain.RaceArchiver,
	bus domain.SignalBus,
	notifier Notifier,
	logger *slog.Logger,
) *RaceService {
	return &RaceService{
		api:      api,
		cache:    cache,
		store:    store,
		archiver: archiver,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "race_service")),
		known:    make(map[uint64]domain.RaceState),
	}
}

// Apply records a race snapshot from a fetch or a push. It caches the
// snapshot, persists it, publishes it on the bus and, on the first
// observation of Settled, archives the race and sends an alert.
func (s *RaceService) Apply(ctx context.Context, race domain.Race) error {
	if err := race.Validate(); err != nil {
		return fmt.Errorf("race_service: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, seen, err := s.lastStateLocked(ctx, race.RaceID)
	if err != nil {
		return err
	}
	if seen && !prev.CanAdvanceTo(race.State) {
		s.logger.DebugContext(ctx, "dropping stale race snapshot",
			slog.Uint64("race_id", race.RaceID),
			slog.String("have", string(prev)),
			slog.String("got", string(race.State)),
		)
		return fmt.Errorf("race_service: race %d %s -> %s: %w", race.RaceID, prev, race.State, domain.ErrStaleRace)
	}

	if race.RaceID >= s.current {
		if err := s.cache.SetCurrent(ctx, race); err != nil {
			return fmt.Errorf("race_service: cache current race %d: %w", race.RaceID, err)
		}
		s.current = race.RaceID
	} else if err := s.cache.Set(ctx, race); err != nil {
		return fmt.Errorf("race_service: cache race %d: %w", race.RaceID, err)
	}
	s.known[race.RaceID] = race.State
	s.pruneLocked()

	if s.store != nil {
		if err := s.store.Upsert(ctx, race); err != nil {
			s.logger.WarnContext(ctx, "persist race failed",
				slog.Uint64("race_id", race.RaceID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.publish(ctx, race)

	if race.State == domain.RaceStateSettled && (!seen || prev != domain.RaceStateSettled) {
		s.settle(ctx, race)
	}
	return nil
}

// RefreshCurrent fetches the current race from the backend and applies it.
// A stale response is not an error; the cached snapshot is returned.
func (s *RaceService) RefreshCurrent(ctx context.Context) (domain.Race, error) {
	env := s.api.GetCurrentRace(ctx)
	if !env.Success {
		return domain.Race{}, fmt.Errorf("race_service: fetch current race: %w", env.Err())
	}
	if err := s.Apply(ctx, env.Data); err != nil {
		if errors.Is(err, domain.ErrStaleRace) {
			return s.cache.Get(ctx, env.Data.RaceID)
		}
		return domain.Race{}, err
	}
	return env.Data, nil
}

// Current returns the cached current race.
func (s *RaceService) Current(ctx context.Context) (domain.Race, error) {
	race, err := s.cache.GetCurrent(ctx)
	if err != nil {
		return domain.Race{}, fmt.Errorf("race_service: current race: %w", err)
	}
	return race, nil
}

// Get returns a race from the cache, then the store, then the backend.
func (s *RaceService) Get(ctx context.Context, raceID uint64) (domain.Race, error) {
	race, err := s.cache.Get(ctx, raceID)
	if err == nil {
		return race, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Race{}, fmt.Errorf("race_service: get race %d: %w", raceID, err)
	}

	if s.store != nil {
		race, err = s.store.GetByID(ctx, raceID)
		if err == nil {
			return race, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.Race{}, fmt.Errorf("race_service: get race %d: %w", raceID, err)
		}
	}

	env := s.api.GetRace(ctx, raceID)
	if !env.Success {
		return domain.Race{}, fmt.Errorf("race_service: fetch race %d: %w", raceID, env.Err())
	}
	return env.Data, nil
}

// Recent lists persisted races, newest first. It returns an empty list when
// no store is configured.
func (s *RaceService) Recent(ctx context.Context, limit int) ([]domain.Race, error) {
	if s.store == nil {
		return nil, nil
	}
	races, err := s.store.ListRecent(ctx, domain.ListOpts{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("race_service: recent races: %w", err)
	}
	return races, nil
}

// lastStateLocked returns the last applied state of a race, consulting the
// cache when this process has not seen it yet. Caller must hold s.mu.
func (s *RaceService) lastStateLocked(ctx context.Context, raceID uint64) (domain.RaceState, bool, error) {
	if st, ok := s.known[raceID]; ok {
		return st, true, nil
	}
	cached, err := s.cache.Get(ctx, raceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("race_service: read cached race %d: %w", raceID, err)
	}
	return cached.State, true, nil
}

func (s *RaceService) pruneLocked() {
	if s.current < knownRaceWindow {
		return
	}
	floor := s.current - knownRaceWindow
	for id := range s.known {
		if id < floor {
			delete(s.known, id)
		}
	}
}

func (s *RaceService) publish(ctx context.Context, race domain.Race) {
	payload, err := json.Marshal(race)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, domain.ChannelRaceUpdate, payload); err != nil {
		s.logger.WarnContext(ctx, "publish race update failed",
			slog.Uint64("race_id", race.RaceID),
			slog.String("error", err.Error()),
		)
	}
}

// settle archives a newly settled race and alerts operators. Failures are
// logged; the snapshot itself has already been applied.
func (s *RaceService) settle(ctx context.Context, race domain.Race) {
	s.logger.InfoContext(ctx, "race settled",
		slog.Uint64("race_id", race.RaceID),
		slog.Any("winning_assets", race.WinningAssets),
	)

	if s.archiver != nil {
		var board []domain.LeaderboardEntry
		if env := s.api.GetRaceLeaderboard(ctx, race.RaceID); env.Success {
			board = env.Data
		} else {
			s.logger.WarnContext(ctx, "fetch leaderboard failed",
				slog.Uint64("race_id", race.RaceID),
				slog.String("error", env.Error),
			)
		}
		path, err := s.archiver.ArchiveRace(ctx, race, board)
		if err != nil {
			s.logger.WarnContext(ctx, "archive race failed",
				slog.Uint64("race_id", race.RaceID),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.InfoContext(ctx, "race archived",
				slog.Uint64("race_id", race.RaceID),
				slog.String("path", path),
			)
		}
	}

	title, msg := notify.RaceSettled(race)
	alert(ctx, s.notifier, s.logger, notify.EventRaceSettled, title, msg)
}
