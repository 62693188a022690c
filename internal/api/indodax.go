package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"market-aggregator/internal/model"
	"market-aggregator/internal/service"
)

const IndodaxName = "indodax"

// Indodax 只提供 IDR 计价行情，K 线需要在客户端由成交记录重采样得到
type Indodax struct {
	rest *restClient
}

func NewIndodax(cfg service.ExchangeConfig) *Indodax {
	return &Indodax{rest: newRESTClient(IndodaxName, cfg, decodeIndodaxError)}
}

func (x *Indodax) Name() string { return IndodaxName }

type indodaxError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

type indodaxTrade struct {
	Date   number `json:"date"` // 秒
	Price  number `json:"price"`
	Amount number `json:"amount"`
}

type indodaxDepth struct {
	Buy  [][]number `json:"buy"`
	Sell [][]number `json:"sell"`
}

type indodaxPair struct {
	Symbol string `json:"symbol"`
}

// indodaxPairOf 把 "BTCUSDT" 或 "BTC" 转成 "btcidr"
func indodaxPairOf(symbol string) (pair, base string) {
	base, _ = splitSymbol(symbol)
	base = strings.ToLower(base)
	return base + "idr", base
}

func decodeIndodaxError(status int, body []byte) (model.ErrorKind, string, bool) {
	if status >= 500 || status == 429 {
		return "", "", false
	}
	var e indodaxError
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		return "", "", false
	}
	return indodaxKind(e.Error), e.Error, true
}

func indodaxKind(code string) model.ErrorKind {
	if strings.Contains(strings.ToLower(code), "invalid_pair") || strings.Contains(strings.ToLower(code), "invalid pair") {
		return model.KindNotFound
	}
	return model.KindBadResponse
}

// checkError 处理 200 状态下以 {"error": ...} 返回的错误
func (x *Indodax) checkError(op string, body []byte) error {
	trimmed := strings.TrimSpace(string(body))
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var e indodaxError
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return model.NewFetchError(IndodaxName, op, indodaxKind(e.Error), fmt.Errorf("%s: %s", e.Error, e.Description))
	}
	return nil
}

func (x *Indodax) fetch(ctx context.Context, op, path string, out any) error {
	body, err := x.rest.get(ctx, op, path, nil)
	if err != nil {
		return err
	}
	if err := x.checkError(op, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return badResponse(IndodaxName, op, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

func (x *Indodax) GetTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	pair, base := indodaxPairOf(symbol)

	// 成交量字段名随基础币变化 (vol_btc)，先解析成 map
	var resp struct {
		Ticker map[string]json.RawMessage `json:"ticker"`
	}
	if err := x.fetch(ctx, OpTicker, "/api/ticker/"+pair, &resp); err != nil {
		return model.Ticker{}, err
	}
	if len(resp.Ticker) == 0 {
		return model.Ticker{}, notFound(IndodaxName, OpTicker, pair)
	}

	field := func(name string, required bool) (float64, error) {
		raw, ok := resp.Ticker[name]
		if !ok {
			if required {
				return 0, fmt.Errorf("missing field %q", name)
			}
			return 0, nil
		}
		var n number
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, fmt.Errorf("field %q: %w", name, err)
		}
		return n.Float(), nil
	}

	var (
		values = make(map[string]float64)
		fields = []struct {
			name     string
			required bool
		}{{"last", true}, {"high", true}, {"low", true}, {"vol_" + base, false}, {"server_time", false}, {"open", false}}
	)
	for _, f := range fields {
		v, err := field(f.name, f.required)
		if err != nil {
			return model.Ticker{}, badResponse(IndodaxName, OpTicker, err)
		}
		values[f.name] = v
	}

	last := values["last"]
	ts := int64(values["server_time"]) * 1000
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	return model.Ticker{
		Exchange:     IndodaxName,
		Symbol:       strings.ToUpper(pair),
		Last:         last,
		High24h:      values["high"],
		Low24h:       values["low"],
		Volume24h:    values["vol_"+base],
		ChangePct24h: changePct(last, values["open"]),
		Timestamp:    ts,
	}, nil
}

func changePct(current, open float64) float64 {
	if open > 0 {
		return (current - open) / open * 100
	}
	return 0
}

// GetCandles 拉取最近成交并重采样，limit 只保留最近的 K 线
func (x *Indodax) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	width, err := service.ParseIntervalDuration(timeframe)
	if err != nil {
		return nil, badResponse(IndodaxName, OpCandles, err)
	}
	pair, _ := indodaxPairOf(symbol)

	var rows []indodaxTrade
	if err := x.fetch(ctx, OpCandles, "/api/trades/"+pair, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound(IndodaxName, OpCandles, pair)
	}

	trades := make([]model.Trade, 0, len(rows))
	for _, r := range rows {
		trades = append(trades, model.Trade{
			Symbol:    strings.ToUpper(pair),
			Timestamp: int64(r.Date) * 1000,
			Price:     r.Price.Float(),
			Volume:    r.Amount.Float(),
		})
	}
	candles := model.Resample(trades, strings.ToUpper(pair), timeframe, width)
	for i := range candles {
		candles[i].Exchange = IndodaxName
	}
	return normalizeCandles(candles, limit), nil
}

func (x *Indodax) GetOrderBook(ctx context.Context, symbol string) (model.OrderBookSnapshot, error) {
	pair, _ := indodaxPairOf(symbol)
	var depth indodaxDepth
	if err := x.fetch(ctx, OpOrderBook, "/api/depth/"+pair, &depth); err != nil {
		return model.OrderBookSnapshot{}, err
	}
	bids, err := levels(depth.Buy)
	if err != nil {
		return model.OrderBookSnapshot{}, badResponse(IndodaxName, OpOrderBook, err)
	}
	asks, err := levels(depth.Sell)
	if err != nil {
		return model.OrderBookSnapshot{}, badResponse(IndodaxName, OpOrderBook, err)
	}
	if len(bids) == 0 && len(asks) == 0 {
		return model.OrderBookSnapshot{}, notFound(IndodaxName, OpOrderBook, pair)
	}

	book := model.OrderBookSnapshot{
		Exchange:  IndodaxName,
		Symbol:    strings.ToUpper(pair),
		Timestamp: time.Now().UnixMilli(),
		Bids:      bids,
		Asks:      asks,
	}
	sortBook(&book)
	return book, nil
}

func (x *Indodax) ListSymbols(ctx context.Context) (map[string]struct{}, error) {
	var pairs []indodaxPair
	if err := x.fetch(ctx, OpSymbols, "/api/pairs", &pairs); err != nil {
		return nil, err
	}
	symbols := make(map[string]struct{}, len(pairs))
	for _, p := range pairs {
		if p.Symbol == "" {
			continue
		}
		symbols[strings.ToUpper(p.Symbol)] = struct{}{}
	}
	return symbols, nil
}
