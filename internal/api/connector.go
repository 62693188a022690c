package api

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"market-aggregator/internal/model"
	"market-aggregator/internal/service"
)

// 操作名，用于错误、缓存键与监控标签
const (
	OpTicker    = "ticker"
	OpCandles   = "candles"
	OpOrderBook = "orderbook"
	OpSymbols   = "symbols"
)

// Connector 把某个交易所的行情接口翻译成规范化记录。
// 实现不做重试，失败时返回 *model.FetchError。
type Connector interface {
	Name() string
	GetTicker(ctx context.Context, symbol string) (model.Ticker, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error)
	GetOrderBook(ctx context.Context, symbol string) (model.OrderBookSnapshot, error)
	ListSymbols(ctx context.Context) (map[string]struct{}, error)
}

// New 根据交易所名字构建连接器
func New(name string, cfg service.ExchangeConfig) (Connector, error) {
	switch strings.ToLower(name) {
	case BitgetName:
		return NewBitget(cfg), nil
	case IndodaxName:
		return NewIndodax(cfg), nil
	case BinanceName:
		return NewBinance(cfg), nil
	}
	return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedExchange, name)
}

// 常见的计价币，用于从规范化交易对中拆出基础币
var quoteAssets = []string{"USDT", "USDC", "BUSD", "IDR", "USD"}

// splitSymbol 把 "BTCUSDT" 拆成 ("BTC", "USDT")，无法识别计价币时 quote 为空
func splitSymbol(symbol string) (base, quote string) {
	for _, q := range quoteAssets {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) {
			return strings.TrimSuffix(symbol, q), q
		}
	}
	return symbol, ""
}

// normalizeCandles 按开盘时间升序排序、去重，并只保留最近的 limit 根
func normalizeCandles(candles []model.Candle, limit int) []model.Candle {
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].OpenTime < candles[j].OpenTime })
	out := candles[:0]
	for _, c := range candles {
		if n := len(out); n > 0 && out[n-1].OpenTime == c.OpenTime {
			out[n-1] = c // 同一时间戳保留最后一次出现的数据
			continue
		}
		out = append(out, c)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// sortBook 保证买盘降序、卖盘升序
func sortBook(book *model.OrderBookSnapshot) {
	sort.SliceStable(book.Bids, func(i, j int) bool { return book.Bids[i].Price > book.Bids[j].Price })
	sort.SliceStable(book.Asks, func(i, j int) bool { return book.Asks[i].Price < book.Asks[j].Price })
}

func badResponse(exchange, op string, err error) error {
	return model.NewFetchError(exchange, op, model.KindBadResponse, err)
}

func notFound(exchange, op, symbol string) error {
	return model.NewFetchError(exchange, op, model.KindNotFound, fmt.Errorf("no data for %s", symbol))
}
