package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"market-aggregator/internal/api"
	"market-aggregator/internal/metrics"
	"market-aggregator/internal/model"
	"market-aggregator/internal/storage"
)

// rollingTimeframe 标记由 24h 行情推送生成的滚动 K 线
const rollingTimeframe = "24h"

// session 是单个交易所的重连状态机：
// Disconnected -> Connecting -> Connected -> Backoff -> Connecting ...
type session struct {
	codec    api.StreamCodec
	dialer   Dialer
	store    storage.Store
	operator OperatorAlerter
	logger   *zap.Logger
	metrics  *metrics.Metrics

	symbols      []string
	interval     string
	widthMs      int64
	pingInterval time.Duration
	backoff      *backoff.Backoff
	sleep        func(ctx context.Context, d time.Duration) error

	aggregators map[string]*model.KlineAggregator // 仅由会话 goroutine 访问

	mu     sync.RWMutex
	status model.SessionStatus
}

func newSession(codec api.StreamCodec, symbols []string, width time.Duration, cfg Config, deps Deps) *session {
	s := &session{
		codec:        codec,
		dialer:       deps.Dialer,
		store:        deps.Store,
		operator:     deps.Operator,
		logger:       deps.Logger.With(zap.String("exchange", codec.Exchange())),
		metrics:      deps.Metrics,
		symbols:      symbols,
		interval:     cfg.CandleInterval,
		widthMs:      width.Milliseconds(),
		pingInterval: cfg.PingInterval,
		backoff: &backoff.Backoff{
			Min:    cfg.BaseDelay,
			Max:    cfg.MaxDelay,
			Factor: 2,
		},
		sleep:       sleepContext,
		aggregators: make(map[string]*model.KlineAggregator),
	}
	s.status = model.SessionStatus{
		Exchange: codec.Exchange(),
		State:    model.StateDisconnected,
		Symbols:  symbols,
		Since:    time.Now(),
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *session) snapshot() model.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Symbols = append([]string(nil), s.status.Symbols...)
	return st
}

// transition 是唯一修改状态的地方
func (s *session) transition(to model.SessionState, delay time.Duration) {
	s.mu.Lock()
	from := s.status.State
	s.status.State = to
	s.status.CurrentDelay = delay
	s.status.Since = time.Now()
	switch to {
	case model.StateConnected:
		s.status.Failures = 0
	case model.StateBackoff:
		s.status.Failures++
	}
	s.mu.Unlock()

	s.metrics.SetStreamState(s.codec.Exchange(), int(to))
	if from != to {
		s.logger.Info("Stream state transition",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
			zap.Duration("delay", delay))
	}
}

func (s *session) run(ctx context.Context) {
	defer s.transition(model.StateDisconnected, 0)

	for ctx.Err() == nil {
		s.transition(model.StateConnecting, 0)
		err := s.connectAndServe(ctx)
		if ctx.Err() != nil {
			return
		}

		delay := s.backoff.Duration()
		s.transition(model.StateBackoff, delay)
		s.metrics.ObserveReconnect(s.codec.Exchange())
		s.logger.Warn("Stream connection lost, backing off", zap.Duration("delay", delay), zap.Error(err))
		if s.operator != nil {
			s.operator.Alert(ctx, fmt.Sprintf("%s stream connection lost (%v), reconnecting in %s",
				s.codec.Exchange(), err, delay))
		}

		if err := s.sleep(ctx, delay); err != nil {
			return
		}
	}
}

// connectAndServe 完成握手 (拨号 + 订阅) 后持续读取，返回导致断线的错误
func (s *session) connectAndServe(ctx context.Context) error {
	conn, err := s.dialer.Dial(ctx, s.codec.URL())
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := s.subscribe(conn); err != nil {
		return err
	}

	s.backoff.Reset()
	s.transition(model.StateConnected, 0)

	done := make(chan struct{})
	defer close(done)
	go func() {
		// ctx 结束时关闭连接以打断阻塞的读
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	if s.pingInterval > 0 {
		go s.keepalive(conn, done)
	}

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		s.handle(ctx, raw)
	}
}

func (s *session) subscribe(conn Conn) error {
	msgs, err := s.codec.SubscribeMessages(s.symbols)
	if err != nil {
		return fmt.Errorf("build subscription: %w", err)
	}
	for _, msg := range msgs {
		if err := conn.WriteMessage(msg); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	s.logger.Info("Subscribed to streams", zap.Strings("symbols", s.symbols))
	return nil
}

func (s *session) keepalive(conn Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(s.codec.PingMessage()); err != nil {
				s.logger.Warn("Keepalive ping failed, closing connection", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

// handle 解析并分发一帧消息，任何失败只记录日志，不影响连接
func (s *session) handle(ctx context.Context, raw []byte) {
	msgs, err := s.codec.Decode(raw)
	if err != nil {
		s.metrics.ObserveHandlerError(s.codec.Exchange(), "decode")
		s.logger.Warn("Dropping undecodable stream message", zap.Error(err))
		return
	}

	for _, msg := range msgs {
		switch m := msg.(type) {
		case api.TickerUpdate:
			s.save(ctx, storage.KindOHLCV, s.rollingCandle(m))
		case api.TradeUpdate:
			for _, c := range s.aggregator(m.Exchange, m.Trade.Symbol).Add(m.Trade) {
				s.save(ctx, storage.KindOHLCV, c)
			}
		case api.BookUpdate:
			s.save(ctx, storage.KindOrderBook, m.Book)
		default:
			s.logger.Error("Unhandled stream message", zap.String("type", fmt.Sprintf("%T", msg)))
		}
	}
}

// rollingCandle 把 24h 行情转成滚动 K 线，同一个聚合周期内反复覆盖同一条记录
func (s *session) rollingCandle(u api.TickerUpdate) model.Candle {
	t := u.Ticker
	openTime := t.Timestamp
	if s.widthMs > 0 {
		openTime -= openTime % s.widthMs
	}
	open := u.Open
	if open == 0 {
		open = t.Last
	}
	return model.Candle{
		Exchange:  t.Exchange,
		Symbol:    t.Symbol,
		Timeframe: rollingTimeframe,
		OpenTime:  openTime,
		Open:      open,
		High:      t.High24h,
		Low:       t.Low24h,
		Close:     t.Last,
		Volume:    t.Volume24h,
	}
}

func (s *session) aggregator(exchange, symbol string) *model.KlineAggregator {
	agg, ok := s.aggregators[symbol]
	if !ok {
		agg = model.NewKlineAggregator(exchange, symbol, s.interval, time.Duration(s.widthMs)*time.Millisecond)
		s.aggregators[symbol] = agg
	}
	return agg
}

func (s *session) save(ctx context.Context, kind storage.Kind, record any) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(ctx, kind, record); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.metrics.ObserveHandlerError(s.codec.Exchange(), "storage")
		s.logger.Warn("Failed to persist stream record", zap.String("kind", string(kind)), zap.Error(err))
	}
}
