package model

import "sort"

// Outcome 是一次聚合请求的整体结果
type Outcome string

const (
	OutcomeOK          Outcome = "ok"          // 所有交易所都返回了数据
	OutcomePartial     Outcome = "partial"     // 部分交易所失败
	OutcomeNoData      Outcome = "no_data"     // 全部失败，且原因都是 NotFound
	OutcomeUnreachable Outcome = "unreachable" // 全部失败，至少一个是非 NotFound 错误
)

// AggregatedResult 是按交易所归并后的行情结果。
// Tickers 只包含返回了数据的交易所，Tickers 为空表示整体失败。
type AggregatedResult struct {
	Symbol  string            `json:"symbol"`
	Tickers map[string]Ticker `json:"tickers"`
	Errors  map[string]error  `json:"-"`
}

// NewAggregatedResult 创建一个空结果
func NewAggregatedResult(symbol string) AggregatedResult {
	return AggregatedResult{
		Symbol:  symbol,
		Tickers: make(map[string]Ticker),
		Errors:  make(map[string]error),
	}
}

// Merge 记录单个交易所的结果，合并顺序无关
func (r AggregatedResult) Merge(exchange string, t Ticker, err error) {
	if err != nil {
		r.Errors[exchange] = err
		return
	}
	r.Tickers[exchange] = t
}

// Outcome 区分 "部分失败"、"没有该交易对的数据" 与 "交易所全部不可达"
func (r AggregatedResult) Outcome() Outcome {
	return outcomeOf(len(r.Tickers) > 0, r.Errors)
}

// Exchanges 返回有数据的交易所，按名字排序
func (r AggregatedResult) Exchanges() []string {
	names := make([]string, 0, len(r.Tickers))
	for name := range r.Tickers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrorStrings 把错误转成字符串，便于序列化
func (r AggregatedResult) ErrorStrings() map[string]string {
	return errorStrings(r.Errors)
}

// CandleResult 是 K 线查询的结果。
// 未指定交易所时取第一个有数据的交易所，不跨交易所合并。
type CandleResult struct {
	Exchange string           `json:"exchange"`
	Candles  []Candle         `json:"candles"`
	Errors   map[string]error `json:"-"`
}

// Outcome 同 AggregatedResult.Outcome
func (r CandleResult) Outcome() Outcome {
	return outcomeOf(len(r.Candles) > 0, r.Errors)
}

// ErrorStrings 把错误转成字符串，便于序列化
func (r CandleResult) ErrorStrings() map[string]string {
	return errorStrings(r.Errors)
}

// BookResult 是盘口查询的结果，回退规则同 CandleResult
type BookResult struct {
	Exchange string            `json:"exchange"`
	Book     OrderBookSnapshot `json:"book"`
	Found    bool              `json:"-"`
	Errors   map[string]error  `json:"-"`
}

// Outcome 同 AggregatedResult.Outcome
func (r BookResult) Outcome() Outcome {
	return outcomeOf(r.Found, r.Errors)
}

// ErrorStrings 把错误转成字符串，便于序列化
func (r BookResult) ErrorStrings() map[string]string {
	return errorStrings(r.Errors)
}

func outcomeOf(hasData bool, errs map[string]error) Outcome {
	if hasData {
		if len(errs) == 0 {
			return OutcomeOK
		}
		return OutcomePartial
	}
	for _, err := range errs {
		if KindOf(err) != KindNotFound {
			return OutcomeUnreachable
		}
	}
	return OutcomeNoData
}

func errorStrings(errs map[string]error) map[string]string {
	out := make(map[string]string, len(errs))
	for name, err := range errs {
		out[name] = err.Error()
	}
	return out
}
