package stream

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"market-aggregator/internal/api"
	"market-aggregator/internal/metrics"
	"market-aggregator/internal/model"
	"market-aggregator/internal/storage"
)

const (
	tickerFrame = `{"action":"snapshot","arg":{"instType":"SPOT","channel":"ticker","instId":"BTCUSDT"},
		"data":[{"instId":"BTCUSDT","lastPr":"65000","open24h":"64000","high24h":"66000","low24h":"63000",
		"baseVolume":"100","change24h":"0.01","ts":"1700000000000"}]}`
	tradeFrame = `{"action":"update","arg":{"instType":"SPOT","channel":"trade","instId":"BTCUSDT"},
		"data":[{"ts":"1700000000000","price":"65000","size":"0.5","side":"buy"},
		{"ts":"1700000060000","price":"65100","size":"0.2","side":"sell"}]}`
	bookFrame = `{"action":"snapshot","arg":{"instType":"SPOT","channel":"books5","instId":"BTCUSDT"},
		"data":[{"bids":[["64999","1"]],"asks":[["65001","2"]],"ts":"1700000000000"}]}`
)

// fakeConn 依次返回预设的帧，之后返回 io.EOF；block 为 true 时阻塞直到 Close
type fakeConn struct {
	mu      sync.Mutex
	frames  []string
	written []string
	block   bool
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn(block bool, frames ...string) *fakeConn {
	return &fakeConn{frames: frames, block: block, closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	c.mu.Lock()
	if len(c.frames) > 0 {
		f := c.frames[0]
		c.frames = c.frames[1:]
		c.mu.Unlock()
		return []byte(f), nil
	}
	c.mu.Unlock()
	if c.block {
		<-c.closed
		return nil, errors.New("use of closed connection")
	}
	return nil, io.EOF
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, string(data))
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer 按顺序返回预设结果，用完后一直失败
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn // nil 表示拨号失败
	dials int
}

func (d *fakeDialer) Dial(_ context.Context, _ string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	if c == nil {
		return nil, errors.New("connection refused")
	}
	return c, nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *recordingAlerter) Alert(_ context.Context, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, text)
}

func (a *recordingAlerter) all() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.alerts...)
}

func testConfig() Config {
	return Config{
		Symbols:        []string{"btc/usdt"},
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		CandleInterval: "1m",
	}
}

func newTestManager(t *testing.T, cfg Config, dialer Dialer, store storage.Store, alerter OperatorAlerter) *Manager {
	t.Helper()
	return newObservedManager(t, cfg, dialer, store, alerter, zap.NewNop())
}

func newObservedManager(t *testing.T, cfg Config, dialer Dialer, store storage.Store, alerter OperatorAlerter, logger *zap.Logger) *Manager {
	t.Helper()
	m, err := NewManager([]api.StreamCodec{api.NewBitgetStream("wss://example")}, cfg, Deps{
		Dialer:   dialer,
		Store:    store,
		Operator: alerter,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestSessionReconnectsWithExponentialBackoff(t *testing.T) {
	conn := newFakeConn(false, tickerFrame, "not json", tradeFrame, bookFrame)
	dialer := &fakeDialer{conns: []*fakeConn{nil, nil, nil, conn}}
	store := storage.NewMemory()
	alerter := &recordingAlerter{}
	core, logs := observer.New(zapcore.WarnLevel)
	m := newObservedManager(t, testConfig(), dialer, store, alerter, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps []time.Duration
	var failures []int
	s := m.sessions[api.BitgetName]
	s.sleep = func(ctx context.Context, d time.Duration) error {
		st := s.snapshot()
		if st.State != model.StateBackoff || st.CurrentDelay != d {
			t.Errorf("unexpected status during backoff: %+v", st)
		}
		sleeps = append(sleeps, d)
		failures = append(failures, st.Failures)
		if len(sleeps) == 4 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	m.Start(ctx)
	m.Wait()

	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, time.Second}
	if len(sleeps) != len(expected) {
		t.Fatalf("unexpected sleeps\nexpected: [%v]\nactual:   [%v]", expected, sleeps)
	}
	for i := range expected {
		if sleeps[i] != expected[i] {
			t.Errorf("unexpected sleep %d\nexpected: [%v]\nactual:   [%v]", i, expected[i], sleeps[i])
		}
	}
	if failures[2] != 3 || failures[3] != 1 {
		t.Errorf("expected failure count to reset after connecting, got %v", failures)
	}

	if st, _ := m.Status(api.BitgetName); st.State != model.StateDisconnected {
		t.Errorf("expected Disconnected after shutdown, got %s", st.State)
	}

	alerts := alerter.all()
	if len(alerts) != 4 {
		t.Fatalf("expected 4 operator alerts, got %d: %v", len(alerts), alerts)
	}
	if !strings.Contains(alerts[0], "bitget") || !strings.Contains(alerts[0], "reconnecting in 1s") {
		t.Errorf("unexpected alert text: %q", alerts[0])
	}

	if n := logs.FilterMessage("Dropping undecodable stream message").Len(); n != 1 {
		t.Errorf("expected one decode warning, got %d", n)
	}
	if n := logs.FilterMessage("Stream connection lost, backing off").Len(); n != 4 {
		t.Errorf("expected 4 backoff warnings, got %d", n)
	}

	if len(conn.written) != 1 || !strings.Contains(conn.written[0], `"op":"subscribe"`) {
		t.Errorf("expected one subscribe message, got %v", conn.written)
	}

	rolling, err := store.Query(ctx, storage.Filter{Kind: storage.KindOHLCV, Timeframe: "24h"})
	if err != nil || len(rolling) != 1 {
		t.Fatalf("expected one rolling candle, got %v %v", rolling, err)
	}
	rc := rolling[0].(model.Candle)
	if rc.OpenTime != 1699999980000 || rc.Open != 64000 || rc.Close != 65000 || rc.Volume != 100 {
		t.Errorf("unexpected rolling candle: %+v", rc)
	}

	minute, err := store.Query(ctx, storage.Filter{Kind: storage.KindOHLCV, Timeframe: "1m"})
	if err != nil || len(minute) != 1 {
		t.Fatalf("expected one completed 1m candle, got %v %v", minute, err)
	}
	if c := minute[0].(model.Candle); c.Close != 65000 || c.Exchange != api.BitgetName || c.Symbol != "BTCUSDT" {
		t.Errorf("unexpected completed candle: %+v", c)
	}

	books, err := store.Query(ctx, storage.Filter{Kind: storage.KindOrderBook})
	if err != nil || len(books) != 1 {
		t.Fatalf("expected one order book, got %v %v", books, err)
	}
}

func TestSessionBackoffIsCapped(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDelay = 3 * time.Second
	m := newTestManager(t, cfg, &fakeDialer{}, storage.NewMemory(), &recordingAlerter{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps []time.Duration
	m.sessions[api.BitgetName].sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		if len(sleeps) == 5 {
			cancel()
			return ctx.Err()
		}
		return nil
	}
	m.Start(ctx)
	m.Wait()

	expected := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second, 3 * time.Second}
	for i := range expected {
		if sleeps[i] != expected[i] {
			t.Errorf("unexpected sleep %d\nexpected: [%v]\nactual:   [%v]", i, expected[i], sleeps[i])
		}
	}
	if st, _ := m.Status(api.BitgetName); st.Failures != 5 {
		t.Errorf("expected 5 consecutive failures, got %d", st.Failures)
	}
}

func TestSessionShutdownWhileConnected(t *testing.T) {
	conn := newFakeConn(true)
	alerter := &recordingAlerter{}
	m := newTestManager(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}}, storage.NewMemory(), alerter)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		st, _ := m.Status(api.BitgetName)
		if st.State == model.StateConnected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never connected, state %s", st.State)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	m.Wait()

	if st, _ := m.Status(api.BitgetName); st.State != model.StateDisconnected {
		t.Errorf("expected Disconnected, got %s", st.State)
	}
	if alerts := alerter.all(); len(alerts) != 0 {
		t.Errorf("expected no operator alert on shutdown, got %v", alerts)
	}
	select {
	case <-conn.closed:
	default:
		t.Error("expected connection to be closed")
	}
}

func TestNewManagerValidation(t *testing.T) {
	codec := api.NewBitgetStream("wss://example")

	cfg := testConfig()
	cfg.CandleInterval = "bogus"
	if _, err := NewManager([]api.StreamCodec{codec}, cfg, Deps{Dialer: &fakeDialer{}}); err == nil {
		t.Error("expected error for invalid candle interval")
	}

	cfg = testConfig()
	cfg.MaxDelay = cfg.BaseDelay / 2
	if _, err := NewManager([]api.StreamCodec{codec}, cfg, Deps{Dialer: &fakeDialer{}}); err == nil {
		t.Error("expected error when max delay is below base delay")
	}

	if _, err := NewManager([]api.StreamCodec{codec, codec}, testConfig(), Deps{Dialer: &fakeDialer{}}); err == nil {
		t.Error("expected error for duplicate exchange")
	}

	m, err := NewManager([]api.StreamCodec{codec}, testConfig(), Deps{Dialer: &fakeDialer{}})
	if err != nil {
		t.Fatal(err)
	}
	st, ok := m.Status(api.BitgetName)
	if !ok || st.State != model.StateDisconnected || len(st.Symbols) != 1 || st.Symbols[0] != "BTCUSDT" {
		t.Errorf("unexpected initial status: %+v", st)
	}
	if _, ok := m.Status("kraken"); ok {
		t.Error("expected unknown exchange to have no status")
	}
}

// failingStore 拒绝所有写入
type failingStore struct {
	saves atomic.Int32
}

func (f *failingStore) Save(context.Context, storage.Kind, any) error {
	f.saves.Add(1)
	return errors.New("disk full")
}

func (f *failingStore) Query(context.Context, storage.Filter) ([]any, error) {
	return nil, storage.ErrQueryUnsupported
}

func TestSessionSurvivesStorageFailures(t *testing.T) {
	conn := newFakeConn(true, tickerFrame, tradeFrame, bookFrame)
	store := &failingStore{}
	alerter := &recordingAlerter{}
	m := metrics.New()
	core, logs := observer.New(zapcore.WarnLevel)

	mgr, err := NewManager([]api.StreamCodec{api.NewBitgetStream("wss://example")}, testConfig(), Deps{
		Dialer:   &fakeDialer{conns: []*fakeConn{conn}},
		Store:    store,
		Operator: alerter,
		Logger:   zap.New(core),
		Metrics:  m,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	mgr.Start(ctx)

	// 行情 1 条滚动 K 线、成交 1 根完成的 K 线、盘口 1 条
	deadline := time.Now().Add(2 * time.Second)
	for logs.FilterMessage("Failed to persist stream record").Len() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 failed saves, got %d attempts", store.saves.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if st, _ := mgr.Status(api.BitgetName); st.State != model.StateConnected || st.Failures != 0 {
		t.Errorf("expected session to stay Connected, got %+v", st)
	}
	if n := logs.FilterMessage("Failed to persist stream record").Len(); n != 3 {
		t.Errorf("unexpected storage warnings\nexpected: [3]\nactual:   [%d]", n)
	}
	if got := testutil.ToFloat64(m.StreamHandlerErrors.WithLabelValues(api.BitgetName, "storage")); got != 3 {
		t.Errorf("unexpected storage error count\nexpected: [3]\nactual:   [%v]", got)
	}
	if got := testutil.ToFloat64(m.StreamState.WithLabelValues(api.BitgetName)); got != float64(model.StateConnected) {
		t.Errorf("unexpected state gauge %v", got)
	}

	cancel()
	mgr.Wait()
	if alerts := alerter.all(); len(alerts) != 0 {
		t.Errorf("storage failures must not trigger reconnect alerts, got %v", alerts)
	}
	if store.saves.Load() != 3 {
		t.Errorf("unexpected save attempts %d", store.saves.Load())
	}
}
