// Package stream 为每个交易所维护一条持久的流式连接，断线后按指数退避自动重连。
package stream

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"market-aggregator/internal/api"
	"market-aggregator/internal/metrics"
	"market-aggregator/internal/model"
	"market-aggregator/internal/service"
	"market-aggregator/internal/storage"
)

// OperatorAlerter 接收运维告警，实现方负责吸收发送失败
type OperatorAlerter interface {
	Alert(ctx context.Context, text string)
}

type Config struct {
	Symbols        []string
	BaseDelay      time.Duration // 首次重连延迟
	MaxDelay       time.Duration // 延迟上限
	CandleInterval string        // 成交聚合 K 线的周期
	PingInterval   time.Duration // 0 表示不发送心跳
}

// ConfigFrom 从服务配置构建
func ConfigFrom(cfg *service.Config) Config {
	return Config{
		Symbols:        cfg.Symbols,
		BaseDelay:      cfg.Stream.BaseDelay,
		MaxDelay:       cfg.Stream.MaxDelay,
		CandleInterval: cfg.Stream.CandleInterval,
		PingInterval:   cfg.Stream.PingInterval,
	}
}

// Manager 拥有全部流式会话。外部只能读取状态，重连完全在内部完成。
type Manager struct {
	sessions map[string]*session
	order    []string
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

type Deps struct {
	Dialer   Dialer
	Store    storage.Store
	Operator OperatorAlerter
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

func NewManager(codecs []api.StreamCodec, cfg Config, deps Deps) (*Manager, error) {
	width, err := service.ParseIntervalDuration(cfg.CandleInterval)
	if err != nil {
		return nil, fmt.Errorf("stream candle interval: %w", err)
	}
	if cfg.BaseDelay <= 0 || cfg.MaxDelay < cfg.BaseDelay {
		return nil, fmt.Errorf("invalid stream delays: base %s, max %s", cfg.BaseDelay, cfg.MaxDelay)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Dialer == nil {
		deps.Dialer = WebsocketDialer{}
	}

	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		if c := model.CanonicalSymbol(s); c != "" {
			symbols = append(symbols, c)
		}
	}

	m := &Manager{sessions: make(map[string]*session, len(codecs))}
	for _, codec := range codecs {
		name := codec.Exchange()
		if _, dup := m.sessions[name]; dup {
			return nil, fmt.Errorf("duplicate stream for exchange %s", name)
		}
		m.sessions[name] = newSession(codec, symbols, width, cfg, deps)
		m.order = append(m.order, name)
	}
	return m, nil
}

// Start 为每个交易所启动一个独立的 goroutine，ctx 结束时全部退出
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	for _, name := range m.order {
		s := m.sessions[name]
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			s.run(ctx)
		}()
	}
}

// Wait 阻塞直到所有会话退出
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Status 返回某个交易所会话的状态快照
func (m *Manager) Status(exchange string) (model.SessionStatus, bool) {
	s, ok := m.sessions[exchange]
	if !ok {
		return model.SessionStatus{}, false
	}
	return s.snapshot(), true
}

// Statuses 返回全部会话的状态，按交易所名字排序
func (m *Manager) Statuses() []model.SessionStatus {
	out := make([]model.SessionStatus, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Exchange < out[j].Exchange })
	return out
}
