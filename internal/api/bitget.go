package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"market-aggregator/internal/model"
	"market-aggregator/internal/service"
)

const BitgetName = "bitget"

const (
	bitgetCodeOK          = "00000"
	bitgetCodeNotFound    = "40034" // 参数不存在 (交易对不存在)
	bitgetCodeRateLimited = "429"
)

// K 线周期到 Bitget granularity 的映射
var bitgetGranularity = map[string]string{
	"1m":  "1min",
	"5m":  "5min",
	"15m": "15min",
	"30m": "30min",
	"1h":  "1h",
	"4h":  "4h",
	"1d":  "1day",
	"1w":  "1week",
}

// bitgetEnvelope 适用于 Bitget V2 REST 的通用响应结构
type bitgetEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"` // 延迟解析
}

type bitgetTicker struct {
	Symbol     string `json:"symbol"`
	LastPr     number `json:"lastPr"`
	High24h    number `json:"high24h"`
	Low24h     number `json:"low24h"`
	BaseVolume number `json:"baseVolume"`
	Change24h  number `json:"change24h"` // 小数，0.0154 表示 1.54%
	Ts         number `json:"ts"`
}

type bitgetBook struct {
	Asks [][]number `json:"asks"`
	Bids [][]number `json:"bids"`
	Ts   number     `json:"ts"`
}

type bitgetSymbol struct {
	Symbol string `json:"symbol"`
	Status string `json:"status"`
}

// Bitget 通过 V2 现货公共接口获取 USDT 计价行情
type Bitget struct {
	rest *restClient
}

func NewBitget(cfg service.ExchangeConfig) *Bitget {
	return &Bitget{rest: newRESTClient(BitgetName, cfg, decodeBitgetError)}
}

func (b *Bitget) Name() string { return BitgetName }

// bitgetInstID 没有计价币时默认补 USDT，例如 "BTC" -> "BTCUSDT"
func bitgetInstID(symbol string) string {
	if _, quote := splitSymbol(symbol); quote == "" {
		return symbol + "USDT"
	}
	return symbol
}

func bitgetKind(code string) model.ErrorKind {
	switch code {
	case bitgetCodeNotFound:
		return model.KindNotFound
	case bitgetCodeRateLimited:
		return model.KindRateLimited
	}
	return model.KindBadResponse
}

func decodeBitgetError(status int, body []byte) (model.ErrorKind, string, bool) {
	var env bitgetEnvelope
	if err := json.Unmarshal(body, &env); err != nil || env.Code == "" {
		return "", "", false
	}
	if status >= 500 || status == 429 {
		return "", "", false
	}
	return bitgetKind(env.Code), env.Code + " " + env.Msg, true
}

// call 请求并拆开信封，code 非 00000 时按错误码分类
func (b *Bitget) call(ctx context.Context, op, path string, query map[string]string, out any) error {
	var env bitgetEnvelope
	if err := b.rest.getJSON(ctx, op, path, query, &env); err != nil {
		return err
	}
	if env.Code != bitgetCodeOK {
		return model.NewFetchError(BitgetName, op, bitgetKind(env.Code), fmt.Errorf("code %s: %s", env.Code, env.Msg))
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return badResponse(BitgetName, op, fmt.Errorf("decode data: %w", err))
	}
	return nil
}

func (b *Bitget) GetTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	instID := bitgetInstID(symbol)
	var data []bitgetTicker
	if err := b.call(ctx, OpTicker, "/api/v2/spot/market/tickers", map[string]string{"symbol": instID}, &data); err != nil {
		return model.Ticker{}, err
	}
	if len(data) == 0 {
		return model.Ticker{}, notFound(BitgetName, OpTicker, instID)
	}
	t := data[0]
	return model.Ticker{
		Exchange:     BitgetName,
		Symbol:       instID,
		Last:         t.LastPr.Float(),
		High24h:      t.High24h.Float(),
		Low24h:       t.Low24h.Float(),
		Volume24h:    t.BaseVolume.Float(),
		ChangePct24h: t.Change24h.Float() * 100,
		Timestamp:    int64(t.Ts),
	}, nil
}

func (b *Bitget) GetCandles(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	granularity, ok := bitgetGranularity[timeframe]
	if !ok {
		return nil, badResponse(BitgetName, OpCandles, fmt.Errorf("unsupported timeframe %q", timeframe))
	}
	instID := bitgetInstID(symbol)
	query := map[string]string{"symbol": instID, "granularity": granularity}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}

	// 每行: [ts, open, high, low, close, baseVolume, usdtVolume, quoteVolume]
	var rows [][]number
	if err := b.call(ctx, OpCandles, "/api/v2/spot/market/candles", query, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound(BitgetName, OpCandles, instID)
	}

	candles := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, badResponse(BitgetName, OpCandles, fmt.Errorf("row %d has %d fields", i, len(row)))
		}
		candles = append(candles, model.Candle{
			Exchange:  BitgetName,
			Symbol:    instID,
			Timeframe: timeframe,
			OpenTime:  int64(row[0]),
			Open:      row[1].Float(),
			High:      row[2].Float(),
			Low:       row[3].Float(),
			Close:     row[4].Float(),
			Volume:    row[5].Float(),
		})
	}
	return normalizeCandles(candles, limit), nil
}

func (b *Bitget) GetOrderBook(ctx context.Context, symbol string) (model.OrderBookSnapshot, error) {
	instID := bitgetInstID(symbol)
	var data bitgetBook
	query := map[string]string{"symbol": instID, "type": "step0", "limit": "50"}
	if err := b.call(ctx, OpOrderBook, "/api/v2/spot/market/orderbook", query, &data); err != nil {
		return model.OrderBookSnapshot{}, err
	}
	bids, err := levels(data.Bids)
	if err != nil {
		return model.OrderBookSnapshot{}, badResponse(BitgetName, OpOrderBook, err)
	}
	asks, err := levels(data.Asks)
	if err != nil {
		return model.OrderBookSnapshot{}, badResponse(BitgetName, OpOrderBook, err)
	}
	if len(bids) == 0 && len(asks) == 0 {
		return model.OrderBookSnapshot{}, notFound(BitgetName, OpOrderBook, instID)
	}

	book := model.OrderBookSnapshot{
		Exchange:  BitgetName,
		Symbol:    instID,
		Timestamp: int64(data.Ts),
		Bids:      bids,
		Asks:      asks,
	}
	sortBook(&book)
	return book, nil
}

func (b *Bitget) ListSymbols(ctx context.Context) (map[string]struct{}, error) {
	var data []bitgetSymbol
	if err := b.call(ctx, OpSymbols, "/api/v2/spot/public/symbols", nil, &data); err != nil {
		return nil, err
	}
	symbols := make(map[string]struct{}, len(data))
	for _, s := range data {
		if s.Status != "" && s.Status != "online" {
			continue
		}
		symbols[model.CanonicalSymbol(s.Symbol)] = struct{}{}
	}
	return symbols, nil
}
