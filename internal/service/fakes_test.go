package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/momentumrace/internal/domain"
	"github.com/alanyoungcy/momentumrace/internal/platform/raceapi"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memRaceCache struct {
	mu      sync.Mutex
	races   map[uint64]domain.Race
	current uint64
	hasCur  bool
}

func newMemRaceCache() *memRaceCache {
	return &memRaceCache{races: make(map[uint64]domain.Race)}
}

func (c *memRaceCache) Set(_ context.Context, r domain.Race) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.races[r.RaceID] = r
	return nil
}

func (c *memRaceCache) Get(_ context.Context, id uint64) (domain.Race, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.races[id]
	if !ok {
		return domain.Race{}, domain.ErrNotFound
	}
	return r, nil
}

func (c *memRaceCache) SetCurrent(ctx context.Context, r domain.Race) error {
	_ = c.Set(ctx, r)
	c.mu.Lock()
	c.current, c.hasCur = r.RaceID, true
	c.mu.Unlock()
	return nil
}

func (c *memRaceCache) GetCurrent(ctx context.Context) (domain.Race, error) {
	c.mu.Lock()
	id, ok := c.current, c.hasCur
	c.mu.Unlock()
	if !ok {
		return domain.Race{}, domain.ErrNotFound
	}
	return c.Get(ctx, id)
}

type memPriceCache struct {
	mu     sync.Mutex
	prices domain.PriceTick
}

func (c *memPriceCache) SetPrice(_ context.Context, sym string, p float64, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prices == nil {
		c.prices = make(domain.PriceTick)
	}
	c.prices[sym] = p
	return nil
}

func (c *memPriceCache) GetPrice(_ context.Context, sym string) (float64, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.prices[sym]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p, time.Time{}, nil
}

func (c *memPriceCache) GetPrices(ctx context.Context, syms []string) (map[string]float64, error) {
	out := make(map[string]float64, len(syms))
	for _, s := range syms {
		if p, _, err := c.GetPrice(ctx, s); err == nil {
			out[s] = p
		}
	}
	return out, nil
}

func (c *memPriceCache) Snapshot(context.Context) (domain.PriceTick, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(domain.PriceTick, len(c.prices))
	for k, v := range c.prices {
		out[k] = v
	}
	return out, nil
}

type published struct {
	channel string
	payload []byte
}

type memBus struct {
	mu   sync.Mutex
	msgs []published
}

func (b *memBus) Publish(_ context.Context, ch string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, published{ch, payload})
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *memBus) count(ch string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.msgs {
		if m.channel == ch {
			n++
		}
	}
	return n
}

type sentAlert struct {
	event, title, message string
}

type memNotifier struct {
	mu   sync.Mutex
	sent []sentAlert
}

func (n *memNotifier) Notify(_ context.Context, event, title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentAlert{event, title, message})
	return nil
}

func (n *memNotifier) events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.event)
	}
	return out
}

type memArchiver struct {
	calls  int
	boards [][]domain.LeaderboardEntry
}

func (a *memArchiver) ArchiveRace(_ context.Context, r domain.Race, lb []domain.LeaderboardEntry) (string, error) {
	a.calls++
	a.boards = append(a.boards, lb)
	return "races/test.json", nil
}

type memRaceStore struct {
	mu    sync.Mutex
	races map[uint64]domain.Race
}

func (s *memRaceStore) Upsert(_ context.Context, r domain.Race) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.races == nil {
		s.races = make(map[uint64]domain.Race)
	}
	s.races[r.RaceID] = r
	return nil
}

func (s *memRaceStore) GetByID(_ context.Context, id uint64) (domain.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.races[id]
	if !ok {
		return domain.Race{}, domain.ErrNotFound
	}
	return r, nil
}

func (s *memRaceStore) ListRecent(context.Context, domain.ListOpts) ([]domain.Race, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Race, 0, len(s.races))
	for _, r := range s.races {
		out = append(out, r)
	}
	return out, nil
}

type memBetStore struct {
	mu   sync.Mutex
	bets map[uint64]domain.Bet
}

func (s *memBetStore) Upsert(_ context.Context, b domain.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bets == nil {
		s.bets = make(map[uint64]domain.Bet)
	}
	s.bets[b.RaceID] = b
	return nil
}

func (s *memBetStore) UpsertBatch(ctx context.Context, bets []domain.Bet) error {
	for _, b := range bets {
		_ = s.Upsert(ctx, b)
	}
	return nil
}

func (s *memBetStore) Get(_ context.Context, id uint64, _ string) (domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bets[id]
	if !ok {
		return domain.Bet{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *memBetStore) ListByPlayer(context.Context, string, domain.ListOpts) ([]domain.Bet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Bet, 0, len(s.bets))
	for _, b := range s.bets {
		out = append(out, b)
	}
	return out, nil
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// countingLimiter allows the first limit calls per key.
type countingLimiter struct {
	mu   sync.Mutex
	seen map[string]int
}

func (l *countingLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[string]int)
	}
	l.seen[key]++
	return l.seen[key] <= limit, nil
}

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = make(map[string]bool)
	}
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	return func() {
		m.mu.Lock()
		delete(m.held, key)
		m.mu.Unlock()
	}, nil
}

// fakeBackend implements every backend interface the services use.
type fakeBackend struct {
	current     domain.Envelope[domain.Race]
	races       map[uint64]domain.Race
	leaderboard []domain.LeaderboardEntry
	assets      domain.Envelope[[]domain.Asset]

	bets     domain.Envelope[[]domain.Bet]
	bet      domain.Envelope[domain.Bet]
	place    domain.Envelope[domain.Bet]
	claim    domain.Envelope[domain.ClaimResult]
	placeReq []raceapi.PlaceBetRequest
	claimReq []raceapi.ClaimPayoutRequest
	getBets  int
}

func (f *fakeBackend) GetCurrentRace(context.Context) domain.Envelope[domain.Race] {
	return f.current
}

func (f *fakeBackend) GetRace(_ context.Context, id uint64) domain.Envelope[domain.Race] {
	r, ok := f.races[id]
	if !ok {
		return domain.Failure[domain.Race]("race not found")
	}
	return domain.OK(r)
}

func (f *fakeBackend) GetRaceLeaderboard(context.Context, uint64) domain.Envelope[[]domain.LeaderboardEntry] {
	return domain.OK(f.leaderboard)
}

func (f *fakeBackend) ListAssets(context.Context) domain.Envelope[[]domain.Asset] {
	return f.assets
}

func (f *fakeBackend) GetUserBets(context.Context, string, bool) domain.Envelope[[]domain.Bet] {
	return f.bets
}

func (f *fakeBackend) GetBet(context.Context, uint64, string) domain.Envelope[domain.Bet] {
	f.getBets++
	return f.bet
}

func (f *fakeBackend) PlaceBet(_ context.Context, req raceapi.PlaceBetRequest) domain.Envelope[domain.Bet] {
	f.placeReq = append(f.placeReq, req)
	return f.place
}

func (f *fakeBackend) ClaimPayout(_ context.Context, req raceapi.ClaimPayoutRequest) domain.Envelope[domain.ClaimResult] {
	f.claimReq = append(f.claimReq, req)
	return f.claim
}
