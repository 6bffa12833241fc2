package racews

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/momentumrace/internal/domain"
	"github.com/alanyoungcy/momentumrace/internal/metrics"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// testServer is a realtime backend double. It records every frame the
// client sends and can push frames or drop connections.
type testServer struct {
	*httptest.Server

	handshakes atomic.Int32
	rejected   atomic.Int32
	reject     atomic.Bool

	gate    chan struct{}
	entered chan struct{}

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []frame
}

// newTestServer starts the double. A non-nil gate holds every upgrade until
// it is closed.
func newTestServer(t *testing.T, gate ...chan struct{}) *testServer {
	t.Helper()
	ts := &testServer{entered: make(chan struct{}, 1)}
	if len(gate) > 0 {
		ts.gate = gate[0]
	}
	upgrader := websocket.Upgrader{}

	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case ts.entered <- struct{}{}:
		default:
		}
		if ts.gate != nil {
			select {
			case <-ts.gate:
			case <-r.Context().Done():
				return
			}
		}
		if ts.reject.Load() {
			ts.rejected.Add(1)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.mu.Lock()
		ts.conns = append(ts.conns, conn)
		ts.mu.Unlock()
		ts.handshakes.Add(1)

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if json.Unmarshal(msg, &f) == nil {
				ts.mu.Lock()
				ts.received = append(ts.received, f)
				ts.mu.Unlock()
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func (ts *testServer) push(t *testing.T, raw string) {
	t.Helper()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	require.NotEmpty(t, ts.conns)
	conn := ts.conns[len(ts.conns)-1]
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (ts *testServer) dropAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.conns {
		_ = c.Close()
	}
}

func (ts *testServer) frames() []frame {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	out := make([]frame, len(ts.received))
	copy(out, ts.received)
	return out
}

func (ts *testServer) clearFrames() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.received = nil
}

func hasFrame(frames []frame, event, data string) bool {
	for _, f := range frames {
		if f.Event == event && string(f.Data) == data {
			return true
		}
	}
	return false
}

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	base := []Option{
		WithBackoff(10*time.Millisecond, 20*time.Millisecond, 3),
		WithSettleDelay(10 * time.Millisecond),
		WithHandshakeTimeout(time.Second),
	}
	c := NewClient(url, append(base, opts...)...)
	t.Cleanup(c.Disconnect)
	return c
}

func TestConnect_IsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Connect(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return c.Status().IsConnected }, waitFor, tick)
	require.NoError(t, c.Connect(context.Background()))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), ts.handshakes.Load())

	st := c.Status()
	assert.True(t, st.IsConnected)
	assert.False(t, st.IsConnecting)
	assert.True(t, st.TransportConnected)
}

func TestConnect_FailureReturnsError(t *testing.T) {
	ts := newTestServer(t)
	ts.reject.Store(true)
	c := newTestClient(t, ts.wsURL())

	err := c.Connect(context.Background())
	require.Error(t, err)

	st := c.Status()
	assert.False(t, st.IsConnected)
	assert.False(t, st.IsConnecting)
	assert.False(t, st.TransportConnected)
}

func TestDisconnect_DuringHandshake(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	ts := newTestServer(t, gate)
	c := newTestClient(t, ts.wsURL())

	result := make(chan error, 1)
	go func() { result <- c.Connect(context.Background()) }()

	select {
	case <-ts.entered:
	case <-time.After(waitFor):
		t.Fatal("handshake never reached the server")
	}
	assert.True(t, c.Status().IsConnecting)

	c.Disconnect()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, domain.ErrSessionClosed)
	case <-time.After(waitFor):
		t.Fatal("Connect did not return after Disconnect")
	}
	assert.Equal(t, Status{}, c.Status())
}

func TestHandlers_LastRegistrationWins(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	var first, second atomic.Int32
	got := make(chan domain.Race, 1)
	c.OnRaceUpdate(func(domain.Race) { first.Add(1) })
	c.OnRaceUpdate(func(r domain.Race) {
		second.Add(1)
		got <- r
	})

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return ts.handshakes.Load() == 1 }, waitFor, tick)

	ts.push(t, `{"event":"race_update","data":{"raceId":5,"state":"Running","startTs":1,"lockTs":2,"settleTs":3,"assetPools":[10,20],"totalPool":30,"feeBps":100}}`)

	select {
	case r := <-got:
		assert.Equal(t, uint64(5), r.RaceID)
		assert.Equal(t, domain.RaceStateRunning, r.State)
	case <-time.After(waitFor):
		t.Fatal("race update not delivered")
	}
	assert.Zero(t, first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestDispatch_PriceAndBetEvents(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	prices := make(chan domain.PriceTick, 1)
	bets := make(chan domain.Bet, 1)
	c.OnPriceUpdate(func(p domain.PriceTick) { prices <- p })
	c.OnUserBetUpdate(func(b domain.Bet) { bets <- b })

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return ts.handshakes.Load() == 1 }, waitFor, tick)

	ts.push(t, `not json at all`)
	ts.push(t, `{"event":"price_update","data":"oops"}`)
	ts.push(t, `{"event":"price_update","data":{"BTC":64000.5,"ETH":3100}}`)
	ts.push(t, `{"event":"user_bet_update","data":{"raceId":9,"player":"PK","assetIdx":2,"amount":100,"claimed":true,"isWinner":true,"potentialPayout":250}}`)

	select {
	case p := <-prices:
		assert.Equal(t, domain.PriceTick{"BTC": 64000.5, "ETH": 3100}, p)
	case <-time.After(waitFor):
		t.Fatal("price update not delivered")
	}
	select {
	case b := <-bets:
		assert.Equal(t, uint64(9), b.RaceID)
		assert.True(t, b.Claimed)
		require.NotNil(t, b.PotentialPayout)
		assert.Equal(t, uint64(250), *b.PotentialPayout)
	case <-time.After(waitFor):
		t.Fatal("bet update not delivered")
	}
	assert.Empty(t, prices)
}

func TestSubscribe_RequiresConnection(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1/ws")

	assert.ErrorIs(t, c.SubscribeToRace(1), domain.ErrNotConnected)
	assert.ErrorIs(t, c.UnsubscribeFromRace(1), domain.ErrNotConnected)
	assert.ErrorIs(t, c.SubscribeToPrices(), domain.ErrNotConnected)
}

func TestSubscribe_SendsCommands(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.SubscribeToPrices())
	require.NoError(t, c.SubscribeToRace(7))
	require.NoError(t, c.UnsubscribeFromRace(7))

	require.Eventually(t, func() bool { return len(ts.frames()) == 3 }, waitFor, tick)
	frames := ts.frames()
	assert.Equal(t, "subscribe_prices", frames[0].Event)
	assert.JSONEq(t, `true`, string(frames[0].Data))
	assert.Equal(t, "subscribe_race", frames[1].Event)
	assert.JSONEq(t, `{"raceId":7}`, string(frames[1].Data))
	assert.Equal(t, "unsubscribe_race", frames[2].Event)
	assert.JSONEq(t, `{"raceId":7}`, string(frames[2].Data))
}

func TestDisconnect_StopsDelivery(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	var calls atomic.Int32
	c.OnRaceUpdate(func(domain.Race) { calls.Add(1) })

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.SubscribeToRace(3))

	c.Disconnect()
	c.Disconnect()

	assert.Equal(t, Status{}, c.Status())
	assert.ErrorIs(t, c.SubscribeToRace(3), domain.ErrNotConnected)

	// The server side is closed by the client; nothing reconnects.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), ts.handshakes.Load())
	assert.Zero(t, calls.Load())

	// Subscriptions were forgotten: a fresh session replays nothing.
	ts.clearFrames()
	require.NoError(t, c.Connect(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, ts.frames())
}

func TestReconnect_ReplaysSubscriptions(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.SubscribeToPrices())
	require.NoError(t, c.SubscribeToRace(11))
	require.Eventually(t, func() bool { return len(ts.frames()) == 2 }, waitFor, tick)

	ts.clearFrames()
	ts.dropAll()

	require.Eventually(t, func() bool { return ts.handshakes.Load() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return c.Status().IsConnected }, waitFor, tick)
	require.Eventually(t, func() bool { return len(ts.frames()) == 2 }, waitFor, tick)

	frames := ts.frames()
	assert.True(t, hasFrame(frames, "subscribe_prices", `true`))
	assert.True(t, hasFrame(frames, "subscribe_race", `{"raceId":11}`))
	assert.Zero(t, c.Status().ReconnectAttempt)
}

func TestUnsubscribe_WhileDownIsNotReplayed(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.SubscribeToRace(11))
	require.NoError(t, c.SubscribeToRace(12))
	require.Eventually(t, func() bool { return len(ts.frames()) == 2 }, waitFor, tick)

	ts.reject.Store(true)
	ts.dropAll()
	require.Eventually(t, func() bool { return c.Status().GaveUp }, waitFor, tick)

	require.ErrorIs(t, c.UnsubscribeFromRace(11), domain.ErrNotConnected)

	ts.clearFrames()
	ts.reject.Store(false)
	c.ForceReconnect(context.Background())
	require.True(t, c.Status().IsConnected)
	require.Eventually(t, func() bool { return len(ts.frames()) == 1 }, waitFor, tick)

	time.Sleep(50 * time.Millisecond)
	frames := ts.frames()
	assert.Len(t, frames, 1)
	assert.True(t, hasFrame(frames, "subscribe_race", `{"raceId":12}`))
	assert.False(t, hasFrame(frames, "subscribe_race", `{"raceId":11}`))
}

func TestDispatch_StaleSessionDeliversNothing(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	var calls atomic.Int32
	c.OnRaceUpdate(func(domain.Race) { calls.Add(1) })

	require.NoError(t, c.Connect(context.Background()))
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	raw := []byte(`{"event":"race_update","data":{"raceId":1,"state":"Betting"}}`)
	c.dispatch(gen, raw)
	assert.Equal(t, int32(1), calls.Load())

	// A frame read just before the teardown must not reach the handler.
	c.Disconnect()
	c.dispatch(gen, raw)
	assert.Equal(t, int32(1), calls.Load())
}

func TestForceReconnect_CountsOnlyRealDisconnects(t *testing.T) {
	ts := newTestServer(t)
	reg := prometheus.NewRegistry()
	c := newTestClient(t, ts.wsURL(), WithMetrics(metrics.New(reg)))

	c.ForceReconnect(context.Background())
	require.True(t, c.Status().IsConnected)
	assert.Equal(t, 0.0, disconnects(t, reg))

	c.ForceReconnect(context.Background())
	assert.Equal(t, 1.0, disconnects(t, reg))

	c.Disconnect()
	c.Disconnect()
	assert.Equal(t, 2.0, disconnects(t, reg))
}

func disconnects(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "racebot_realtime_disconnects_total" {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatal("disconnect counter not registered")
	return 0
}

func TestReconnect_GivesUp(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return ts.handshakes.Load() == 1 }, waitFor, tick)

	ts.reject.Store(true)
	ts.dropAll()

	require.Eventually(t, func() bool { return c.Status().GaveUp }, waitFor, tick)
	assert.Equal(t, int32(3), ts.rejected.Load())

	st := c.Status()
	assert.False(t, st.IsConnected)
	assert.False(t, st.IsConnecting)
	assert.Equal(t, 3, st.ReconnectAttempt)

	// No further attempts after giving up.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(3), ts.rejected.Load())
}

func TestForceReconnect_KeepsSubscriptions(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.SubscribeToRace(21))
	require.Eventually(t, func() bool { return len(ts.frames()) == 1 }, waitFor, tick)
	ts.clearFrames()

	c.ForceReconnect(context.Background())

	assert.True(t, c.Status().IsConnected)
	require.Eventually(t, func() bool { return ts.handshakes.Load() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(ts.frames()) == 1 }, waitFor, tick)
	assert.True(t, hasFrame(ts.frames(), "subscribe_race", `{"raceId":21}`))
}

func TestForceReconnect_AfterGivingUp(t *testing.T) {
	ts := newTestServer(t)
	c := newTestClient(t, ts.wsURL())

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return ts.handshakes.Load() == 1 }, waitFor, tick)

	ts.reject.Store(true)
	ts.dropAll()
	require.Eventually(t, func() bool { return c.Status().GaveUp }, waitFor, tick)

	ts.reject.Store(false)
	c.ForceReconnect(context.Background())

	st := c.Status()
	assert.True(t, st.IsConnected)
	assert.False(t, st.GaveUp)
}

func TestForceReconnect_NeverErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.reject.Store(true)
	c := newTestClient(t, ts.wsURL())

	c.ForceReconnect(context.Background())

	assert.False(t, c.Status().IsConnected)
	assert.Equal(t, int32(1), ts.rejected.Load())
}
