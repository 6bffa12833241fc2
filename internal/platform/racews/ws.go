// Package racews is the realtime client for the racing backend. It keeps one
// logical WebSocket session, replays subscriptions after a reconnect and
// delivers race, price and bet events to a single handler per kind.
package racews

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/momentumrace/internal/domain"
	"github.com/alanyoungcy/momentumrace/internal/metrics"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	defaultHandshakeTimeout = 15 * time.Second
	defaultBaseDelay        = 3 * time.Second
	defaultMaxDelay         = 10 * time.Second
	defaultMaxAttempts      = 3
	defaultSettleDelay      = time.Second
)

// Inbound event names.
const (
	eventRaceUpdate    = "race_update"
	eventPriceUpdate   = "price_update"
	eventUserBetUpdate = "user_bet_update"
)

// Outbound command names.
const (
	cmdSubscribeRace   = "subscribe_race"
	cmdUnsubscribeRace = "unsubscribe_race"
	cmdSubscribePrices = "subscribe_prices"
)

// State is the lifecycle state of the logical session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is a point-in-time view of the session.
type Status struct {
	IsConnecting       bool `json:"isConnecting"`
	IsConnected        bool `json:"isConnected"`
	TransportConnected bool `json:"transportConnected"`
	ReconnectAttempt   int  `json:"reconnectAttempt"`
	GaveUp             bool `json:"gaveUp"`
}

// RaceHandler receives race_update events.
type RaceHandler func(domain.Race)

// PriceHandler receives price_update events.
type PriceHandler func(domain.PriceTick)

// BetHandler receives user_bet_update events.
type BetHandler func(domain.Bet)

// frame is the wire shape of every message in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type raceRef struct {
	RaceID uint64 `json:"raceId"`
}

// Client is the realtime client. All methods are safe for concurrent use.
type Client struct {
	wsURL            string
	dialer           *websocket.Dialer
	handshakeTimeout time.Duration
	settleDelay      time.Duration
	pingPeriod       time.Duration
	pongWait         time.Duration
	logger           *slog.Logger
	metrics          *metrics.Metrics

	mu    sync.Mutex
	state State
	conn  *websocket.Conn
	// gen identifies the current session attempt. Any teardown bumps it so
	// in-flight handshakes, read loops and reconnect loops of older sessions
	// can tell they are stale.
	gen uint64
	// done is closed when the current session is torn down.
	done            chan struct{}
	backoff         *Backoff
	reconnectCancel context.CancelFunc

	// Subscriptions to restore on reconnect.
	subPrices bool
	subRaces  []uint64

	handlerMu sync.RWMutex
	onRace    RaceHandler
	onPrice   PriceHandler
	onBet     BetHandler
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records handshakes, reconnects and events on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithHandshakeTimeout bounds each dial.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.handshakeTimeout = d }
}

// WithBackoff sets the reconnection schedule.
func WithBackoff(base, maxDelay time.Duration, maxAttempts int) Option {
	return func(c *Client) { c.backoff = NewBackoff(base, maxDelay, maxAttempts) }
}

// WithSettleDelay sets the pause between teardown and dial in ForceReconnect.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Client) { c.settleDelay = d }
}

// WithKeepalive overrides the ping period and pong wait.
func WithKeepalive(ping, pong time.Duration) Option {
	return func(c *Client) {
		c.pingPeriod = ping
		c.pongWait = pong
	}
}

// NewClient creates a realtime client for the given endpoint.
//
// wsURL is the realtime endpoint, e.g. "wss://api.momentumrace.xyz/ws".
func NewClient(wsURL string, opts ...Option) *Client {
	c := &Client{
		wsURL:            wsURL,
		handshakeTimeout: defaultHandshakeTimeout,
		settleDelay:      defaultSettleDelay,
		pingPeriod:       pingPeriod,
		pongWait:         pongWait,
		logger:           slog.Default(),
		backoff:          NewBackoff(defaultBaseDelay, defaultMaxDelay, defaultMaxAttempts),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.dialer = &websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	c.logger = c.logger.With(slog.String("component", "racews"))
	return c
}

// Connect opens the session. It returns nil at once when a session is
// already connecting or connected; otherwise it blocks until the handshake
// completes or fails. A Disconnect during the handshake makes Connect return
// domain.ErrSessionClosed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	gen, done := c.beginLocked()
	c.mu.Unlock()

	return c.handshake(ctx, gen, done)
}

// Disconnect tears the session down immediately, forgets tracked
// subscriptions and cancels any reconnect in progress. It is idempotent.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.cancelReconnectLocked()
	wasUp := c.teardownLocked()
	c.subPrices = false
	c.subRaces = nil
	c.backoff.Reset()
	c.mu.Unlock()

	if wasUp {
		c.metrics.Disconnected()
		c.logger.Info("realtime session closed")
	}
}

// ForceReconnect tears down any session while keeping subscriptions, waits
// the settle delay and connects again. Failures are logged and visible via
// Status; it never returns an error.
func (c *Client) ForceReconnect(ctx context.Context) {
	c.mu.Lock()
	c.cancelReconnectLocked()
	wasUp := c.teardownLocked()
	c.backoff.Reset()
	c.mu.Unlock()
	if wasUp {
		c.metrics.Disconnected()
	}

	c.logger.Info("forcing realtime reconnect", slog.Duration("settle", c.settleDelay))

	if c.settleDelay > 0 {
		timer := time.NewTimer(c.settleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	if err := c.Connect(ctx); err != nil {
		c.logger.Warn("forced reconnect failed", slog.String("error", err.Error()))
	}
}

// Status returns the current session flags.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		IsConnecting:       c.state == StateConnecting,
		IsConnected:        c.state == StateConnected,
		TransportConnected: c.conn != nil,
		ReconnectAttempt:   c.backoff.Attempt(),
		GaveUp:             c.backoff.GaveUp(),
	}
}

// SubscribeToRace asks for updates on one race. It returns
// domain.ErrNotConnected when no session is live.
func (c *Client) SubscribeToRace(raceID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sendLocked(cmdSubscribeRace, raceRef{RaceID: raceID}); err != nil {
		return fmt.Errorf("racews: subscribe race %d: %w", raceID, err)
	}
	for _, id := range c.subRaces {
		if id == raceID {
			return nil
		}
	}
	c.subRaces = append(c.subRaces, raceID)
	return nil
}

// UnsubscribeFromRace stops updates for one race. The race is no longer
// replayed on reconnect even when the command cannot be sent, in which case
// domain.ErrNotConnected is still returned.
func (c *Client) UnsubscribeFromRace(raceID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	filtered := c.subRaces[:0]
	for _, id := range c.subRaces {
		if id != raceID {
			filtered = append(filtered, id)
		}
	}
	c.subRaces = filtered

	if err := c.sendLocked(cmdUnsubscribeRace, raceRef{RaceID: raceID}); err != nil {
		return fmt.Errorf("racews: unsubscribe race %d: %w", raceID, err)
	}
	return nil
}

// SubscribeToPrices asks for the price feed.
func (c *Client) SubscribeToPrices() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.sendLocked(cmdSubscribePrices, true); err != nil {
		return fmt.Errorf("racews: subscribe prices: %w", err)
	}
	c.subPrices = true
	return nil
}

// OnRaceUpdate sets the race handler, replacing any previous one. nil clears it.
func (c *Client) OnRaceUpdate(h RaceHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onRace = h
}

// OnPriceUpdate sets the price handler, replacing any previous one.
func (c *Client) OnPriceUpdate(h PriceHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onPrice = h
}

// OnUserBetUpdate sets the bet handler, replacing any previous one.
func (c *Client) OnUserBetUpdate(h BetHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onBet = h
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// beginLocked starts a new session attempt. Caller must hold c.mu.
func (c *Client) beginLocked() (uint64, chan struct{}) {
	c.gen++
	c.state = StateConnecting
	c.done = make(chan struct{})
	return c.gen, c.done
}

// teardownLocked ends the current session attempt, whatever its state, and
// reports whether one existed. Caller must hold c.mu.
func (c *Client) teardownLocked() bool {
	wasUp := c.state != StateDisconnected || c.conn != nil
	c.gen++
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
	if c.conn != nil {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	return wasUp
}

func (c *Client) cancelReconnectLocked() {
	if c.reconnectCancel != nil {
		c.reconnectCancel()
		c.reconnectCancel = nil
	}
}

// handshake dials for session gen. The dial is abandoned if the session is
// torn down before it completes.
func (c *Client) handshake(ctx context.Context, gen uint64, done chan struct{}) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
	defer cancel()
	go func() {
		select {
		case <-done:
			cancel()
		case <-dialCtx.Done():
		}
	}()

	conn, _, err := c.dialer.DialContext(dialCtx, c.wsURL, nil)

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return fmt.Errorf("racews: connect: %w", domain.ErrSessionClosed)
	}
	if err != nil {
		c.state = StateDisconnected
		close(c.done)
		c.done = nil
		c.mu.Unlock()
		c.metrics.Handshake(false)
		return fmt.Errorf("racews: connect: %w", err)
	}

	c.conn = conn
	c.state = StateConnected
	c.backoff.Reset()

	pong := c.pongWait
	_ = conn.SetReadDeadline(time.Now().Add(pong))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pong))
	})

	// Restore previous subscriptions. A write failure here surfaces as a
	// read error and goes through the normal drop path.
	c.replayLocked()
	c.mu.Unlock()

	c.metrics.Handshake(true)
	c.logger.Info("realtime session connected", slog.String("url", c.wsURL))

	go c.readLoop(conn, gen)
	go c.pingLoop(conn, done)

	return nil
}

// replayLocked re-sends tracked subscriptions. Caller must hold c.mu.
func (c *Client) replayLocked() {
	if c.subPrices {
		if err := c.sendLocked(cmdSubscribePrices, true); err != nil {
			c.logger.Warn("restore price subscription failed", slog.String("error", err.Error()))
		}
	}
	for _, id := range c.subRaces {
		if err := c.sendLocked(cmdSubscribeRace, raceRef{RaceID: id}); err != nil {
			c.logger.Warn("restore race subscription failed",
				slog.Uint64("race_id", id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sendLocked writes one command frame. Caller must hold c.mu.
func (c *Client) sendLocked(event string, data any) error {
	if c.state != StateConnected || c.conn == nil {
		return domain.ErrNotConnected
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}
	msg, err := json.Marshal(frame{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// readLoop is the single reader of conn. Events are dispatched on this
// goroutine in transport order and only while gen is the live session.
func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(gen, err)
			return
		}
		if !c.isCurrent(gen) {
			return
		}
		c.dispatch(gen, message)
	}
}

// pingLoop sends periodic pings. WriteControl may run concurrently with the
// session's other writes.
func (c *Client) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *Client) isCurrent(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.state == StateConnected
}

// handleDrop reacts to a read failure on session gen. Deliberate teardowns
// have already bumped the generation and are ignored.
func (c *Client) handleDrop(gen uint64, cause error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.cancelReconnectLocked()
	ctx, cancel := context.WithCancel(context.Background())
	c.reconnectCancel = cancel
	loopGen := c.gen
	c.mu.Unlock()

	c.metrics.Disconnected()
	c.logger.Warn("realtime connection lost", slog.String("error", cause.Error()))

	c.reconnectLoop(ctx, cancel, loopGen)
}

// reconnectLoop walks the backoff schedule until a handshake succeeds, the
// schedule is exhausted, or someone else takes over the session.
func (c *Client) reconnectLoop(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer cancel()

	for {
		c.mu.Lock()
		delay, ok := c.backoff.Next()
		attempt := c.backoff.Attempt()
		c.mu.Unlock()

		if !ok {
			c.metrics.Reconnect("gave_up")
			c.logger.Error("realtime reconnect gave up", slog.Int("attempts", attempt))
			return
		}

		c.logger.Info("realtime reconnect scheduled",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		c.mu.Lock()
		if c.gen != gen || c.state != StateDisconnected {
			c.mu.Unlock()
			return
		}
		next, done := c.beginLocked()
		c.mu.Unlock()

		err := c.handshake(ctx, next, done)
		if err == nil {
			c.metrics.Reconnect("recovered")
			return
		}
		if errors.Is(err, domain.ErrSessionClosed) {
			return
		}
		c.logger.Warn("realtime reconnect attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		gen = next
	}
}

// dispatch decodes one inbound frame and hands it to the matching handler.
// Frames that do not decode are dropped. The session is checked again after
// the handler is read, so a teardown that lands while a frame is decoded
// suppresses its delivery; only a call whose check already passed can still
// run concurrently with Disconnect.
func (c *Client) dispatch(gen uint64, raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.logger.Debug("dropping undecodable frame", slog.String("error", err.Error()))
		return
	}

	switch f.Event {
	case eventRaceUpdate:
		var race domain.Race
		if err := json.Unmarshal(f.Data, &race); err != nil {
			c.logger.Debug("dropping bad race_update", slog.String("error", err.Error()))
			return
		}
		c.handlerMu.RLock()
		h := c.onRace
		c.handlerMu.RUnlock()
		if !c.isCurrent(gen) {
			return
		}
		if h != nil {
			h(race)
		}

	case eventPriceUpdate:
		var tick domain.PriceTick
		if err := json.Unmarshal(f.Data, &tick); err != nil {
			c.logger.Debug("dropping bad price_update", slog.String("error", err.Error()))
			return
		}
		c.handlerMu.RLock()
		h := c.onPrice
		c.handlerMu.RUnlock()
		if !c.isCurrent(gen) {
			return
		}
		if h != nil {
			h(tick)
		}

	case eventUserBetUpdate:
		var bet domain.Bet
		if err := json.Unmarshal(f.Data, &bet); err != nil {
			c.logger.Debug("dropping bad user_bet_update", slog.String("error", err.Error()))
			return
		}
		c.handlerMu.RLock()
		h := c.onBet
		c.handlerMu.RUnlock()
		if !c.isCurrent(gen) {
			return
		}
		if h != nil {
			h(bet)
		}

	default:
		c.logger.Debug("ignoring unknown event", slog.String("event", f.Event))
		return
	}

	c.metrics.Event(f.Event)
}
