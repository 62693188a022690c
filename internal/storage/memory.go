package storage

import (
	"context"
	"sort"
	"sync"

	"market-aggregator/internal/model"
)

// Memory 是进程内存储，用于开发与测试
type Memory struct {
	mu      sync.RWMutex
	candles []model.Candle
	index   map[candleKey]int // K 线在 candles 中的位置
	books   []model.OrderBookSnapshot
}

type candleKey struct {
	exchange, symbol, timeframe string
	openTime                    int64
}

func NewMemory() *Memory {
	return &Memory{index: make(map[candleKey]int)}
}

// Save 对同一 (交易所, 交易对, 周期, 开盘时间) 的 K 线做覆盖写
func (m *Memory) Save(_ context.Context, kind Kind, record any) error {
	if err := checkRecord(kind, record); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch r := record.(type) {
	case model.Candle:
		key := candleKey{r.Exchange, r.Symbol, r.Timeframe, r.OpenTime}
		if i, ok := m.index[key]; ok {
			m.candles[i] = r
			return nil
		}
		m.index[key] = len(m.candles)
		m.candles = append(m.candles, r)
	case model.OrderBookSnapshot:
		m.books = append(m.books, r)
	}
	return nil
}

func (m *Memory) Query(_ context.Context, f Filter) ([]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type item struct {
		ts  int64
		rec any
	}
	var items []item
	match := func(exchange, symbol string, ts int64) bool {
		return (f.Exchange == "" || f.Exchange == exchange) &&
			(f.Symbol == "" || f.Symbol == symbol) &&
			(f.Since == 0 || ts >= f.Since) &&
			(f.Until == 0 || ts < f.Until)
	}

	switch f.Kind {
	case KindOHLCV:
		for _, c := range m.candles {
			if match(c.Exchange, c.Symbol, c.OpenTime) && (f.Timeframe == "" || f.Timeframe == c.Timeframe) {
				items = append(items, item{c.OpenTime, c})
			}
		}
	case KindOrderBook:
		for _, b := range m.books {
			if match(b.Exchange, b.Symbol, b.Timestamp) {
				items = append(items, item{b.Timestamp, b})
			}
		}
	default:
		return nil, checkRecord(f.Kind, nil)
	}

	sort.SliceStable(items, func(i, j int) bool { return items[i].ts < items[j].ts })
	if f.Limit > 0 && len(items) > f.Limit {
		items = items[len(items)-f.Limit:]
	}
	out := make([]any, 0, len(items))
	for _, it := range items {
		out = append(out, it.rec)
	}
	return out, nil
}
