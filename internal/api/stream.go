package api

import (
	"market-aggregator/internal/model"
	"market-aggregator/internal/service"
)

// StreamCodec 负责某个交易所流式接口的订阅报文与推送解析
type StreamCodec interface {
	Exchange() string
	URL() string
	SubscribeMessages(symbols []string) ([][]byte, error)
	// Decode 把一帧原始消息解析成零到多条行情消息，控制帧 (订阅确认、pong) 返回空
	Decode(raw []byte) ([]StreamMessage, error)
	PingMessage() []byte
}

// StreamMessage 是流式推送的封闭类型集合：TickerUpdate、TradeUpdate、BookUpdate
type StreamMessage interface {
	streamMessage()
}

// TickerUpdate 是 24h 行情快照推送
type TickerUpdate struct {
	Ticker model.Ticker
	Open   float64 // 24h 开盘价，用于生成滚动 24h K 线
}

// TradeUpdate 是逐笔成交推送
type TradeUpdate struct {
	Exchange string
	Trade    model.Trade
}

// BookUpdate 是盘口快照推送
type BookUpdate struct {
	Book model.OrderBookSnapshot
}

func (TickerUpdate) streamMessage() {}
func (TradeUpdate) streamMessage()  {}
func (BookUpdate) streamMessage()   {}

// NewStreamCodec 返回交易所的流式编解码器，ok 为 false 表示该交易所没有流式接口
func NewStreamCodec(name string, cfg service.ExchangeConfig) (StreamCodec, bool) {
	if cfg.WSURL == "" {
		return nil, false
	}
	switch name {
	case BitgetName:
		return NewBitgetStream(cfg.WSURL), true
	}
	return nil, false
}
