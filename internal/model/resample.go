package model

import (
	"math"
	"sort"
	"sync"
	"time"
)

// bucketStart 把毫秒时间戳对齐到所在周期的起始时间 floor(ts / width) * width
func bucketStart(ts, widthMs int64) int64 {
	b := ts / widthMs
	if ts < 0 && ts%widthMs != 0 {
		b--
	}
	return b * widthMs
}

// Resample 把逐笔成交重采样为固定周期的 K 线。
// open 取桶内第一笔，high/low 取极值，close 取最后一笔，volume 求和；
// 没有成交的桶沿用上一根的收盘价，成交量为 0。
func Resample(trades []Trade, symbol, timeframe string, width time.Duration) []Candle {
	w := width.Milliseconds()
	if len(trades) == 0 || w <= 0 {
		return nil
	}

	// 同一时间戳的成交保持原始顺序
	sorted := make([]Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp < sorted[j].Timestamp })

	var out []Candle
	for _, tr := range sorted {
		start := bucketStart(tr.Timestamp, w)
		if n := len(out); n > 0 && out[n-1].OpenTime == start {
			applyTrade(&out[n-1], tr)
			continue
		}
		if n := len(out); n > 0 {
			out = append(out, gapCandles(out[n-1], start, w)...)
		}
		out = append(out, openCandle(symbol, timeframe, start, tr))
	}
	return out
}

func openCandle(symbol, timeframe string, start int64, tr Trade) Candle {
	return Candle{
		Symbol:    symbol,
		Timeframe: timeframe,
		OpenTime:  start,
		Open:      tr.Price,
		High:      tr.Price,
		Low:       tr.Price,
		Close:     tr.Price,
		Volume:    tr.Volume,
	}
}

// applyTrade 更新 OHLCV
func applyTrade(c *Candle, tr Trade) {
	c.Close = tr.Price
	c.High = math.Max(c.High, tr.Price)
	c.Low = math.Min(c.Low, tr.Price)
	c.Volume += tr.Volume
}

// gapCandles 生成 prev 与 next 之间缺失的空桶
func gapCandles(prev Candle, next, widthMs int64) []Candle {
	var gaps []Candle
	for t := prev.OpenTime + widthMs; t < next; t += widthMs {
		gaps = append(gaps, Candle{
			Exchange:  prev.Exchange,
			Symbol:    prev.Symbol,
			Timeframe: prev.Timeframe,
			OpenTime:  t,
			Open:      prev.Close,
			High:      prev.Close,
			Low:       prev.Close,
			Close:     prev.Close,
		})
	}
	return gaps
}

// KlineAggregator 根据实时成交流聚合某个交易对、某个周期的 K 线
type KlineAggregator struct {
	mu        sync.Mutex
	Exchange  string
	Symbol    string // 所属交易对
	Interval  string // 聚合周期，如 "1m", "5m"
	widthMs   int64
	current   Candle // 正在构建的当前 K 线
	started   bool
	lateCount int
}

// NewKlineAggregator 创建一个新的聚合器
func NewKlineAggregator(exchange, symbol, interval string, width time.Duration) *KlineAggregator {
	return &KlineAggregator{
		Exchange: exchange,
		Symbol:   symbol,
		Interval: interval,
		widthMs:  width.Milliseconds(),
	}
}

// Add 把一笔成交并入当前 K 线，返回因此而完成的 K 线 (包括中间的空桶)。
// 早于当前 K 线的迟到成交会被丢弃。
func (agg *KlineAggregator) Add(tr Trade) []Candle {
	agg.mu.Lock()
	defer agg.mu.Unlock()

	if agg.widthMs <= 0 {
		return nil
	}
	start := bucketStart(tr.Timestamp, agg.widthMs)

	if !agg.started {
		agg.current = openCandle(agg.Symbol, agg.Interval, start, tr)
		agg.current.Exchange = agg.Exchange
		agg.started = true
		return nil
	}

	switch {
	case start == agg.current.OpenTime:
		applyTrade(&agg.current, tr)
		return nil
	case start < agg.current.OpenTime:
		agg.lateCount++
		return nil
	}

	// K 线完成，连同空桶一起输出，并以这笔成交开启新 K 线
	completed := append([]Candle{agg.current}, gapCandles(agg.current, start, agg.widthMs)...)
	agg.current = openCandle(agg.Symbol, agg.Interval, start, tr)
	agg.current.Exchange = agg.Exchange
	return completed
}

// Current 返回正在构建的 K 线，ok 为 false 表示还没有收到成交
func (agg *KlineAggregator) Current() (Candle, bool) {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	return agg.current, agg.started
}

// Dropped 返回被丢弃的迟到成交数量
func (agg *KlineAggregator) Dropped() int {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	return agg.lateCount
}
