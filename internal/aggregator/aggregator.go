// Package aggregator 把一次逻辑行情请求分发到一个或全部交易所，并合并结果。
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"market-aggregator/internal/api"
	"market-aggregator/internal/cache"
	"market-aggregator/internal/metrics"
	"market-aggregator/internal/model"
	"market-aggregator/internal/retry"
)

// ErrEmptySymbol 表示请求没有给出交易对
var ErrEmptySymbol = errors.New("symbol is required")

type Options struct {
	Cache    cache.Cache
	Policy   retry.Policy
	TTL      time.Duration // K 线与交易对列表
	QuoteTTL time.Duration // 行情与盘口
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
}

type Aggregator struct {
	connectors []api.Connector // 配置顺序，也是 K 线回退顺序
	byName     map[string]api.Connector
	cache      cache.Cache
	policy     retry.Policy
	ttl        time.Duration
	quoteTTL   time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func New(connectors []api.Connector, opts Options) *Aggregator {
	if opts.Cache == nil {
		opts.Cache = cache.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	byName := make(map[string]api.Connector, len(connectors))
	for _, c := range connectors {
		byName[strings.ToLower(c.Name())] = c
	}
	return &Aggregator{
		connectors: connectors,
		byName:     byName,
		cache:      opts.Cache,
		policy:     opts.Policy,
		ttl:        opts.TTL,
		quoteTTL:   opts.QuoteTTL,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// Exchanges 按配置顺序返回交易所名字
func (a *Aggregator) Exchanges() []string {
	names := make([]string, 0, len(a.connectors))
	for _, c := range a.connectors {
		names = append(names, c.Name())
	}
	return names
}

// connectorsFor 为空时返回全部连接器
func (a *Aggregator) connectorsFor(exchange string) ([]api.Connector, error) {
	exchange = strings.ToLower(strings.TrimSpace(exchange))
	if exchange == "" {
		return a.connectors, nil
	}
	c, ok := a.byName[exchange]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedExchange, exchange)
	}
	return []api.Connector{c}, nil
}

func canonical(symbol string) (string, error) {
	s := model.CanonicalSymbol(symbol)
	if s == "" {
		return "", ErrEmptySymbol
	}
	return s, nil
}

// fetch 先查缓存，未命中时经过重试策略调用连接器，成功结果写回缓存
func fetch[T any](ctx context.Context, a *Aggregator, c api.Connector, op, symbol, timeframe string, ttl time.Duration,
	call func(context.Context) (T, error)) (T, error) {
	key := cache.Key(op, c.Name(), symbol, timeframe)
	if v, ok := cache.GetJSON[T](ctx, a.cache, key); ok {
		a.metrics.ObserveCache(op, true)
		return v, nil
	}
	a.metrics.ObserveCache(op, false)

	v, err := retry.Do(ctx, a.policy, c.Name(), op, call)
	if err != nil {
		a.metrics.ObserveRequest(c.Name(), op, string(model.KindOf(err)))
		a.logger.Debug("Exchange request failed",
			zap.String("exchange", c.Name()), zap.String("op", op), zap.String("symbol", symbol), zap.Error(err))
		return v, err
	}
	a.metrics.ObserveRequest(c.Name(), op, "ok")
	cache.SetJSON(ctx, a.cache, key, v, ttl)
	return v, nil
}

type reply[T any] struct {
	exchange string
	value    T
	err      error
}

// fanOut 并发请求每个连接器，各自独立完成，任何一个失败都不会取消其他请求。
// ctx 结束时已返回的结果保留，未返回的记为 Unreachable，其结果被丢弃。
func fanOut[T any](ctx context.Context, conns []api.Connector, op string,
	call func(context.Context, api.Connector) (T, error)) (map[string]T, map[string]error) {
	// 带缓冲，放弃等待后 goroutine 也不会阻塞
	replies := make(chan reply[T], len(conns))
	pending := make(map[string]struct{}, len(conns))
	for _, c := range conns {
		pending[c.Name()] = struct{}{}
		go func(c api.Connector) {
			v, err := call(ctx, c)
			replies <- reply[T]{exchange: c.Name(), value: v, err: err}
		}(c)
	}

	return gather(ctx, op, replies, pending)
}

// gather 收集结果直到全部返回或 ctx 结束
func gather[T any](ctx context.Context, op string, replies <-chan reply[T], pending map[string]struct{}) (map[string]T, map[string]error) {
	values := make(map[string]T, len(pending))
	errs := make(map[string]error)
	record := func(r reply[T]) {
		delete(pending, r.exchange)
		if r.err != nil {
			errs[r.exchange] = r.err
			return
		}
		values[r.exchange] = r.value
	}

	for len(pending) > 0 {
		select {
		case r := <-replies:
			record(r)
		case <-ctx.Done():
			// 先收下已经到达的结果，再把仍未返回的记为 Unreachable
			for drained := false; !drained; {
				select {
				case r := <-replies:
					record(r)
				default:
					drained = true
				}
			}
			for name := range pending {
				errs[name] = model.NewFetchError(name, op, model.KindUnreachable, ctx.Err())
			}
			return values, errs
		}
	}
	return values, errs
}

// GetPrice 查询指定交易所或全部交易所的行情。
// 单个交易所失败记录为错误项，只有 exchange 未配置时返回错误。
func (a *Aggregator) GetPrice(ctx context.Context, symbol, exchange string) (model.AggregatedResult, error) {
	symbol, err := canonical(symbol)
	if err != nil {
		return model.AggregatedResult{}, err
	}
	conns, err := a.connectorsFor(exchange)
	if err != nil {
		return model.AggregatedResult{}, err
	}

	tickers, errs := fanOut(ctx, conns, api.OpTicker, func(ctx context.Context, c api.Connector) (model.Ticker, error) {
		return fetch(ctx, a, c, api.OpTicker, symbol, "", a.quoteTTL, func(ctx context.Context) (model.Ticker, error) {
			return c.GetTicker(ctx, symbol)
		})
	})

	result := model.NewAggregatedResult(symbol)
	for name, t := range tickers {
		result.Merge(name, t, nil)
	}
	for name, err := range errs {
		result.Merge(name, model.Ticker{}, err)
	}
	return result, nil
}

// GetCandles 查询 K 线。未指定交易所时按配置顺序取第一个有数据的交易所，
// 不同交易所的 K 线不做合并。
func (a *Aggregator) GetCandles(ctx context.Context, symbol, timeframe string, limit int, exchange string) (model.CandleResult, error) {
	symbol, err := canonical(symbol)
	if err != nil {
		return model.CandleResult{}, err
	}
	conns, err := a.connectorsFor(exchange)
	if err != nil {
		return model.CandleResult{}, err
	}

	result := model.CandleResult{Errors: make(map[string]error)}
	tf := fmt.Sprintf("%s:%d", timeframe, limit)
	for _, c := range conns {
		if ctx.Err() != nil {
			result.Errors[c.Name()] = model.NewFetchError(c.Name(), api.OpCandles, model.KindUnreachable, ctx.Err())
			continue
		}
		candles, err := fetch(ctx, a, c, api.OpCandles, symbol, tf, a.ttl, func(ctx context.Context) ([]model.Candle, error) {
			return c.GetCandles(ctx, symbol, timeframe, limit)
		})
		if err == nil && len(candles) == 0 {
			err = model.NewFetchError(c.Name(), api.OpCandles, model.KindNotFound, fmt.Errorf("no candles for %s", symbol))
		}
		if err != nil {
			result.Errors[c.Name()] = err
			continue
		}
		result.Exchange = c.Name()
		result.Candles = candles
		return result, nil
	}
	return result, nil
}

// GetOrderBook 与 GetCandles 相同：指定交易所或按顺序取第一个有数据的交易所
func (a *Aggregator) GetOrderBook(ctx context.Context, symbol, exchange string) (model.BookResult, error) {
	symbol, err := canonical(symbol)
	if err != nil {
		return model.BookResult{}, err
	}
	conns, err := a.connectorsFor(exchange)
	if err != nil {
		return model.BookResult{}, err
	}

	result := model.BookResult{Errors: make(map[string]error)}
	for _, c := range conns {
		if ctx.Err() != nil {
			result.Errors[c.Name()] = model.NewFetchError(c.Name(), api.OpOrderBook, model.KindUnreachable, ctx.Err())
			continue
		}
		book, err := fetch(ctx, a, c, api.OpOrderBook, symbol, "", a.quoteTTL, func(ctx context.Context) (model.OrderBookSnapshot, error) {
			return c.GetOrderBook(ctx, symbol)
		})
		if err != nil {
			result.Errors[c.Name()] = err
			continue
		}
		result.Exchange = c.Name()
		result.Book = book
		result.Found = true
		return result, nil
	}
	return result, nil
}

// ListSymbols 并发列出各交易所支持的交易对，结果已排序
func (a *Aggregator) ListSymbols(ctx context.Context, exchange string) (map[string][]string, map[string]error, error) {
	conns, err := a.connectorsFor(exchange)
	if err != nil {
		return nil, nil, err
	}

	sets, errs := fanOut(ctx, conns, api.OpSymbols, func(ctx context.Context, c api.Connector) (map[string]struct{}, error) {
		return fetch(ctx, a, c, api.OpSymbols, "", "", a.ttl, func(ctx context.Context) (map[string]struct{}, error) {
			return c.ListSymbols(ctx)
		})
	})

	out := make(map[string][]string, len(sets))
	for name, set := range sets {
		list := make([]string, 0, len(set))
		for s := range set {
			list = append(list, s)
		}
		sort.Strings(list)
		out[name] = list
	}
	return out, errs, nil
}
