package alert

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"market-aggregator/internal/metrics"
	"market-aggregator/internal/model"
	"market-aggregator/internal/notify"
	"market-aggregator/internal/service"
)

// PriceSource 提供聚合后的最新价格，Exchanges 列出可用的交易所
type PriceSource interface {
	GetPrice(ctx context.Context, symbol, exchange string) (model.AggregatedResult, error)
	Exchanges() []string
}

// Evaluator 周期性检查全部提醒，触发后通知用户并删除提醒
type Evaluator struct {
	store           Store
	prices          PriceSource
	notifier        notify.Notifier
	interval        time.Duration
	defaultExchange string
	logger          *zap.Logger
	metrics         *metrics.Metrics
}

func NewEvaluator(store Store, prices PriceSource, notifier notify.Notifier, cfg service.AlertsConfig,
	logger *zap.Logger, m *metrics.Metrics) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		store:           store,
		prices:          prices,
		notifier:        notifier,
		interval:        cfg.Interval,
		defaultExchange: cfg.Exchange,
		logger:          logger,
		metrics:         m,
	}
}

// Register 校验并保存一个新提醒，返回带 ID 的提醒
func (e *Evaluator) Register(ctx context.Context, a model.PriceAlert) (model.PriceAlert, error) {
	a.UserID = strings.TrimSpace(a.UserID)
	if a.UserID == "" {
		return model.PriceAlert{}, errors.New("alert requires a user id")
	}
	a.Symbol = model.CanonicalSymbol(a.Symbol)
	if a.Symbol == "" {
		return model.PriceAlert{}, errors.New("alert requires a symbol")
	}
	if a.Threshold <= 0 {
		return model.PriceAlert{}, fmt.Errorf("alert threshold must be positive, got %v", a.Threshold)
	}
	dir, err := model.ParseDirection(string(a.Direction))
	if err != nil {
		return model.PriceAlert{}, err
	}
	a.Direction = dir
	a.Exchange = strings.ToLower(strings.TrimSpace(a.Exchange))
	if a.Exchange == "" {
		a.Exchange = e.defaultExchange
	}
	if !slices.Contains(e.prices.Exchanges(), a.Exchange) {
		return model.PriceAlert{}, fmt.Errorf("%w: %s", model.ErrUnsupportedExchange, a.Exchange)
	}
	a.ID = uuid.NewString()

	if err := e.store.Add(ctx, a); err != nil {
		return model.PriceAlert{}, err
	}
	e.logger.Info("Alert registered",
		zap.String("id", a.ID),
		zap.String("symbol", a.Symbol),
		zap.String("exchange", a.Exchange),
		zap.String("direction", a.Direction.String()),
		zap.Float64("threshold", a.Threshold))
	return a, nil
}

func (e *Evaluator) List(ctx context.Context) ([]model.PriceAlert, error) {
	return e.store.List(ctx)
}

func (e *Evaluator) Remove(ctx context.Context, id string) error {
	return e.store.Remove(ctx, id)
}

// Run 单循环执行检查，本轮耗时超过间隔时下一轮立即开始，不会并发
func (e *Evaluator) Run(ctx context.Context) {
	e.logger.Info("Alert evaluator started", zap.Duration("interval", e.interval))
	for {
		start := time.Now()
		e.RunCycle(ctx)

		wait := e.interval - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.Info("Alert evaluator stopped")
			return
		case <-timer.C:
		}
	}
}

// RunCycle 检查一轮全部提醒，返回本轮触发的数量
func (e *Evaluator) RunCycle(ctx context.Context) int {
	alerts, err := e.store.List(ctx)
	if err != nil {
		e.logger.Error("Failed to list alerts", zap.Error(err))
		return 0
	}

	fired := 0
	for _, a := range alerts {
		if ctx.Err() != nil {
			break
		}
		price, ok := e.currentPrice(ctx, a)
		if !ok || !a.Triggered(price) {
			continue
		}

		text := fmt.Sprintf("🔔 Price alert: %s on %s is %s %s (now %s)",
			a.Symbol, a.Exchange, a.Direction, service.FormatPrice(a.Threshold, 2), service.FormatPrice(price, 2))
		if err := e.notifier.Notify(ctx, a.UserID, text); err != nil {
			e.logger.Error("Failed to deliver alert", zap.String("id", a.ID), zap.Error(err))
		}
		if err := e.store.Remove(ctx, a.ID); err != nil && !errors.Is(err, ErrAlertNotFound) {
			e.logger.Error("Failed to remove triggered alert", zap.String("id", a.ID), zap.Error(err))
		}
		e.metrics.ObserveAlert()
		fired++
	}
	return fired
}

// currentPrice 查询提醒所属交易所的价格，失败时本轮跳过
func (e *Evaluator) currentPrice(ctx context.Context, a model.PriceAlert) (float64, bool) {
	res, err := e.prices.GetPrice(ctx, a.Symbol, a.Exchange)
	if err != nil {
		e.logger.Warn("Skipping alert", zap.String("id", a.ID), zap.Error(err))
		return 0, false
	}
	t, ok := res.Tickers[a.Exchange]
	if !ok {
		e.logger.Debug("No price for alert this cycle",
			zap.String("id", a.ID),
			zap.Any("errors", res.ErrorStrings()))
		return 0, false
	}
	return t.Last, true
}
