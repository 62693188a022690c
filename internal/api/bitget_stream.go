package api

import (
	"encoding/json"
	"fmt"

	"market-aggregator/internal/model"
)

// Bitget V2 公共频道
const (
	bitgetChannelTicker = "ticker"
	bitgetChannelTrade  = "trade"
	bitgetChannelBooks  = "books5"
)

// BitgetWsArg 是订阅参数，也出现在每条推送中
type BitgetWsArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

// BitgetWsData 适用于 Bitget V2 WS 的通用推送结构
type BitgetWsData struct {
	Event  string          `json:"event"` // subscribe / error，数据推送为空
	Code   json.Number     `json:"code"`
	Msg    string          `json:"msg"`
	Action string          `json:"action"` // snapshot / update
	Arg    BitgetWsArg     `json:"arg"`
	Data   json.RawMessage `json:"data"` // 按频道延迟解析
}

type bitgetWsTicker struct {
	InstID     string `json:"instId"`
	LastPr     number `json:"lastPr"`
	Open24h    number `json:"open24h"`
	High24h    number `json:"high24h"`
	Low24h     number `json:"low24h"`
	BaseVolume number `json:"baseVolume"`
	Change24h  number `json:"change24h"`
	Ts         number `json:"ts"`
}

type bitgetWsTrade struct {
	Ts    number `json:"ts"`
	Price number `json:"price"`
	Size  number `json:"size"`
	Side  string `json:"side"`
}

// BitgetStream 是 Bitget 现货公共频道的编解码器
type BitgetStream struct {
	url string
}

func NewBitgetStream(wsURL string) *BitgetStream {
	return &BitgetStream{url: wsURL}
}

func (s *BitgetStream) Exchange() string { return BitgetName }
func (s *BitgetStream) URL() string      { return s.url }

// PingMessage Bitget 要求客户端定期发送字符串 "ping"
func (s *BitgetStream) PingMessage() []byte { return []byte("ping") }

// SubscribeMessages 同时订阅每个交易对的 ticker、trade 与 books5 频道
func (s *BitgetStream) SubscribeMessages(symbols []string) ([][]byte, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	args := make([]BitgetWsArg, 0, len(symbols)*3)
	for _, symbol := range symbols {
		instID := bitgetInstID(model.CanonicalSymbol(symbol))
		for _, channel := range []string{bitgetChannelTicker, bitgetChannelTrade, bitgetChannelBooks} {
			args = append(args, BitgetWsArg{InstType: "SPOT", Channel: channel, InstID: instID})
		}
	}
	msg, err := json.Marshal(map[string]any{"op": "subscribe", "args": args})
	if err != nil {
		return nil, err
	}
	return [][]byte{msg}, nil
}

func (s *BitgetStream) Decode(raw []byte) ([]StreamMessage, error) {
	if string(raw) == "pong" {
		return nil, nil
	}

	var wsResp BitgetWsData
	if err := json.Unmarshal(raw, &wsResp); err != nil {
		return nil, fmt.Errorf("bitget ws: decode envelope: %w", err)
	}
	switch wsResp.Event {
	case "":
	case "error":
		return nil, fmt.Errorf("bitget ws: error event %s: %s", wsResp.Code, wsResp.Msg)
	default:
		return nil, nil // 忽略订阅成功或取消订阅事件
	}
	if len(wsResp.Data) == 0 {
		return nil, nil
	}

	symbol := model.CanonicalSymbol(wsResp.Arg.InstID)
	switch wsResp.Arg.Channel {
	case bitgetChannelTicker:
		return s.decodeTickers(symbol, wsResp.Data)
	case bitgetChannelTrade:
		return s.decodeTrades(symbol, wsResp.Data)
	case bitgetChannelBooks:
		return s.decodeBooks(symbol, wsResp.Data)
	}
	return nil, fmt.Errorf("bitget ws: unknown channel %q", wsResp.Arg.Channel)
}

func (s *BitgetStream) decodeTickers(symbol string, data json.RawMessage) ([]StreamMessage, error) {
	var tickers []bitgetWsTicker
	if err := json.Unmarshal(data, &tickers); err != nil {
		return nil, fmt.Errorf("bitget ws: ticker data: %w", err)
	}
	out := make([]StreamMessage, 0, len(tickers))
	for _, t := range tickers {
		sym := symbol
		if t.InstID != "" {
			sym = model.CanonicalSymbol(t.InstID)
		}
		out = append(out, TickerUpdate{
			Ticker: model.Ticker{
				Exchange:     BitgetName,
				Symbol:       sym,
				Last:         t.LastPr.Float(),
				High24h:      t.High24h.Float(),
				Low24h:       t.Low24h.Float(),
				Volume24h:    t.BaseVolume.Float(),
				ChangePct24h: t.Change24h.Float() * 100,
				Timestamp:    int64(t.Ts),
			},
			Open: t.Open24h.Float(),
		})
	}
	return out, nil
}

func (s *BitgetStream) decodeTrades(symbol string, data json.RawMessage) ([]StreamMessage, error) {
	var trades []bitgetWsTrade
	if err := json.Unmarshal(data, &trades); err != nil {
		return nil, fmt.Errorf("bitget ws: trade data: %w", err)
	}
	out := make([]StreamMessage, 0, len(trades))
	for _, t := range trades {
		out = append(out, TradeUpdate{
			Exchange: BitgetName,
			Trade: model.Trade{
				Symbol:    symbol,
				Timestamp: int64(t.Ts),
				Price:     t.Price.Float(),
				Volume:    t.Size.Float(),
			},
		})
	}
	return out, nil
}

func (s *BitgetStream) decodeBooks(symbol string, data json.RawMessage) ([]StreamMessage, error) {
	var books []bitgetBook
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("bitget ws: book data: %w", err)
	}
	out := make([]StreamMessage, 0, len(books))
	for _, b := range books {
		bids, err := levels(b.Bids)
		if err != nil {
			return nil, fmt.Errorf("bitget ws: bids: %w", err)
		}
		asks, err := levels(b.Asks)
		if err != nil {
			return nil, fmt.Errorf("bitget ws: asks: %w", err)
		}
		book := model.OrderBookSnapshot{
			Exchange:  BitgetName,
			Symbol:    symbol,
			Timestamp: int64(b.Ts),
			Bids:      bids,
			Asks:      asks,
		}
		sortBook(&book)
		out = append(out, BookUpdate{Book: book})
	}
	return out, nil
}
