package model

import (
	"strings"
	"time"
)

// Ticker 是某个交易所在某一时刻的 24h 行情快照，创建后不再修改
type Ticker struct {
	Exchange     string  `json:"exchange"`
	Symbol       string  `json:"symbol"`       // 规范化交易对，例如 "BTCUSDT"
	Last         float64 `json:"last"`         // 最新成交价
	High24h      float64 `json:"high24h"`      // 24h 最高价
	Low24h       float64 `json:"low24h"`       // 24h 最低价
	Volume24h    float64 `json:"volume24h"`    // 24h 成交量 (基础币)
	ChangePct24h float64 `json:"changePct24h"` // 24h 涨跌幅 (百分比)
	Timestamp    int64   `json:"timestampMs"`  // 毫秒时间戳
}

// Candle 代表一根 OHLCV K 线
type Candle struct {
	Exchange  string  `json:"exchange,omitempty" db:"exchange"`
	Symbol    string  `json:"symbol" db:"symbol"`
	Timeframe string  `json:"timeframe" db:"timeframe"` // 周期，例如 "1m", "1h"
	OpenTime  int64   `json:"openTimeMs" db:"open_time"`
	Open      float64 `json:"open" db:"open"`
	High      float64 `json:"high" db:"high"`
	Low       float64 `json:"low" db:"low"`
	Close     float64 `json:"close" db:"close"`
	Volume    float64 `json:"volume" db:"volume"`
}

// StartTime 返回 K 线开盘时间
func (c Candle) StartTime() time.Time {
	return time.UnixMilli(c.OpenTime)
}

// PriceLevel 是盘口中的一个价位
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBookSnapshot 是某一时刻的盘口快照，Bids 价格降序，Asks 价格升序
type OrderBookSnapshot struct {
	Exchange  string       `json:"exchange,omitempty"`
	Symbol    string       `json:"symbol"`
	Timestamp int64        `json:"timestampMs"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// Trade 代表一笔逐笔成交，用于在客户端重采样 K 线
type Trade struct {
	Symbol    string
	Timestamp int64   // 毫秒时间戳
	Price     float64 // 成交价
	Volume    float64 // 成交量
}

// CanonicalSymbol 把 "btc/usdt"、"BTC-USDT" 之类的写法统一为 "BTCUSDT"
func CanonicalSymbol(symbol string) string {
	replacer := strings.NewReplacer("/", "", "-", "", "_", "", " ", "")
	return strings.ToUpper(replacer.Replace(strings.TrimSpace(symbol)))
}
