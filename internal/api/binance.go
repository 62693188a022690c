package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"

	"market-aggregator/internal/model"
	"market-aggregator/internal/service"
)

const BinanceName = "binance"

// Binance API 错误码
const (
	binanceCodeUnknown      = -1000
	binanceCodeDisconnected = -1001
	binanceCodeTooMany      = -1003
	binanceCodeBadSymbol    = -1121
)

var binanceIntervals = map[string]string{
	"1m": "1m", "5m": "5m", "15m": "15m", "30m": "30m",
	"1h": "1h", "4h": "4h", "1d": "1d", "1w": "1w",
}

// Binance 通过 go-binance 客户端访问现货公共接口
type Binance struct {
	client  *binance.Client
	limiter *rate.Limiter
}

func NewBinance(cfg service.ExchangeConfig) *Binance {
	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.RESTURL != "" {
		client.BaseURL = strings.TrimRight(cfg.RESTURL, "/")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client.HTTPClient = &http.Client{Timeout: timeout}
	return &Binance{client: client, limiter: newLimiter(cfg.RateLimit)}
}

func (b *Binance) Name() string { return BinanceName }

func binanceSymbol(symbol string) string {
	if _, quote := splitSymbol(symbol); quote == "" {
		return symbol + "USDT"
	}
	return symbol
}

func (b *Binance) wait(ctx context.Context, op string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return model.NewFetchError(BinanceName, op, model.KindUnreachable, fmt.Errorf("rate limiter: %w", err))
	}
	return nil
}

// classify 把 go-binance 返回的错误映射到统一的错误类别
func (b *Binance) classify(op string, err error) error {
	var apiErr *common.APIError
	if !errors.As(err, &apiErr) {
		return model.NewFetchError(BinanceName, op, model.KindUnreachable, err)
	}
	kind := model.KindBadResponse
	switch apiErr.Code {
	case binanceCodeBadSymbol:
		kind = model.KindNotFound
	case binanceCodeTooMany:
		kind = model.KindRateLimited
	case 0, binanceCodeUnknown, binanceCodeDisconnected:
		// 0 表示错误响应体无法解析，一般是网关返回的 5xx 页面
		kind = model.KindUnreachable
	}
	return model.NewFetchError(BinanceName, op, kind, apiErr)
}

func (b *Binance) GetTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	sym := binanceSymbol(symbol)
	if err := b.wait(ctx, OpTicker); err != nil {
		return model.Ticker{}, err
	}
	stats, err := b.client.NewListPriceChangeStatsService().Symbol(sym).Do(ctx)
	if err != nil {
		return model.Ticker{}, b.classify(OpTicker, err)
	}
	if len(stats) == 0 || stats[0] == nil {
		return model.Ticker{}, notFound(BinanceName, OpTicker, sym)
	}
	s := stats[0]

	var parseErr error
	parse := func(field, v string) float64 {
		f, err := service.ParseNumber(v)
		if err != nil && parseErr == nil {
			parseErr = fmt.Errorf("%s: %w", field, err)
		}
		return f
	}
	t := model.Ticker{
		Exchange:     BinanceName,
		Symbol:       sym,
		Last:         parse("lastPrice", s.LastPrice),
		High24h:      parse("highPrice", s.HighPrice),
		Low24h:       parse("lowPrice", s.LowPrice),
		Volume24h:    parse("volume", s.Volume),
		ChangePct24h: parse("priceChangePercent", s.PriceChangePercent),
		Timestamp:    s.CloseTime,
	}
	if parseErr != nil {
		return model.Ticker{}, badResponse(BinanceName, OpTicker, parseErr)
	}
	return t, nil
}

func (b *Binance) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	interval, ok := binanceIntervals[timeframe]
	if !ok {
		return nil, badResponse(BinanceName, OpCandles, fmt.Errorf("unsupported timeframe %q", timeframe))
	}
	sym := binanceSymbol(symbol)
	if err := b.wait(ctx, OpCandles); err != nil {
		return nil, err
	}
	svc := b.client.NewKlinesService().Symbol(sym).Interval(interval)
	if limit > 0 {
		svc = svc.Limit(limit)
	}
	klines, err := svc.Do(ctx)
	if err != nil {
		return nil, b.classify(OpCandles, err)
	}
	if len(klines) == 0 {
		return nil, notFound(BinanceName, OpCandles, sym)
	}

	candles := make([]model.Candle, 0, len(klines))
	for _, k := range klines {
		c := model.Candle{Exchange: BinanceName, Symbol: sym, Timeframe: timeframe, OpenTime: k.OpenTime}
		for _, f := range []struct {
			dst *float64
			src string
		}{{&c.Open, k.Open}, {&c.High, k.High}, {&c.Low, k.Low}, {&c.Close, k.Close}, {&c.Volume, k.Volume}} {
			v, err := service.ParseNumber(f.src)
			if err != nil {
				return nil, badResponse(BinanceName, OpCandles, err)
			}
			*f.dst = v
		}
		candles = append(candles, c)
	}
	return normalizeCandles(candles, limit), nil
}

func (b *Binance) GetOrderBook(ctx context.Context, symbol string) (model.OrderBookSnapshot, error) {
	sym := binanceSymbol(symbol)
	if err := b.wait(ctx, OpOrderBook); err != nil {
		return model.OrderBookSnapshot{}, err
	}
	depth, err := b.client.NewDepthService().Symbol(sym).Limit(50).Do(ctx)
	if err != nil {
		return model.OrderBookSnapshot{}, b.classify(OpOrderBook, err)
	}

	book := model.OrderBookSnapshot{Exchange: BinanceName, Symbol: sym, Timestamp: time.Now().UnixMilli()}
	for _, bid := range depth.Bids {
		lvl, err := parseLevel(bid.Price, bid.Quantity)
		if err != nil {
			return model.OrderBookSnapshot{}, badResponse(BinanceName, OpOrderBook, err)
		}
		book.Bids = append(book.Bids, lvl)
	}
	for _, ask := range depth.Asks {
		lvl, err := parseLevel(ask.Price, ask.Quantity)
		if err != nil {
			return model.OrderBookSnapshot{}, badResponse(BinanceName, OpOrderBook, err)
		}
		book.Asks = append(book.Asks, lvl)
	}
	if len(book.Bids) == 0 && len(book.Asks) == 0 {
		return model.OrderBookSnapshot{}, notFound(BinanceName, OpOrderBook, sym)
	}
	sortBook(&book)
	return book, nil
}

func parseLevel(price, size string) (model.PriceLevel, error) {
	p, err := service.ParseNumber(price)
	if err != nil {
		return model.PriceLevel{}, err
	}
	s, err := service.ParseNumber(size)
	if err != nil {
		return model.PriceLevel{}, err
	}
	return model.PriceLevel{Price: p, Size: s}, nil
}

func (b *Binance) ListSymbols(ctx context.Context) (map[string]struct{}, error) {
	if err := b.wait(ctx, OpSymbols); err != nil {
		return nil, err
	}
	info, err := b.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, b.classify(OpSymbols, err)
	}
	symbols := make(map[string]struct{}, len(info.Symbols))
	for _, s := range info.Symbols {
		if s.Status != "" && s.Status != "TRADING" {
			continue
		}
		symbols[s.Symbol] = struct{}{}
	}
	return symbols, nil
}
