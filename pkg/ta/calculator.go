// Package ta 基于 K 线计算简单的市场情绪指标
package ta

import (
	"errors"
	"math"

	"github.com/markcheno/go-talib"

	"market-aggregator/internal/model"
)

const (
	volatilityPeriod = 6  // 收益率滚动标准差的窗口
	rsiPeriod        = 14 // RSI 周期
	volumeBand       = 20 // 成交量偏离均值超过 ±20% 才计分
	volatilityFactor = 1.5
)

// Mood 是情绪结论
type Mood string

const (
	Bullish Mood = "bullish"
	Bearish Mood = "bearish"
	Neutral Mood = "neutral"
)

var ErrNotEnoughCandles = errors.New("at least 2 candles are required")

// Sentiment 是一组 K 线的情绪分析结果
type Sentiment struct {
	Mood           Mood    `json:"mood"`
	Score          int     `json:"score"`
	PriceChangePct float64 `json:"priceChangePct"`  // 首尾收盘价变化
	VolumeChange   float64 `json:"volumeChangePct"` // 最后一根成交量相对均值
	Volatility     float64 `json:"volatility"`      // 最新的收益率滚动标准差，窗口不足时为 0
	RSI            float64 `json:"rsi,omitempty"`   // K 线不足 15 根时为 0
	Candles        int     `json:"candles"`
}

// Analyze 计算情绪。K 线需按时间升序排列。
// 计分：价格上涨 +1 否则 -1；成交量高于均值 20% +1，低于 20% -1；
// 最新波动率超过平均波动率 1.5 倍 -1。总分 >0 看涨，<0 看跌。
func Analyze(candles []model.Candle) (Sentiment, error) {
	if len(candles) < 2 {
		return Sentiment{}, ErrNotEnoughCandles
	}

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}

	s := Sentiment{Candles: len(candles)}
	first, last := closes[0], closes[len(closes)-1]
	if first != 0 {
		s.PriceChangePct = (last - first) / first * 100
	}
	if s.PriceChangePct > 0 {
		s.Score++
	} else {
		s.Score--
	}

	if mean := average(volumes); mean != 0 {
		s.VolumeChange = (volumes[len(volumes)-1] - mean) / mean * 100
	}
	switch {
	case s.VolumeChange > volumeBand:
		s.Score++
	case s.VolumeChange < -volumeBand:
		s.Score--
	}

	if vol, mean, ok := volatility(closes); ok {
		s.Volatility = vol
		if vol > mean*volatilityFactor {
			s.Score--
		}
	}

	if len(closes) > rsiPeriod {
		rsi := talib.Rsi(closes, rsiPeriod)
		s.RSI = rsi[len(rsi)-1]
	}

	switch {
	case s.Score > 0:
		s.Mood = Bullish
	case s.Score < 0:
		s.Mood = Bearish
	default:
		s.Mood = Neutral
	}
	return s, nil
}

// volatility 返回最新的滚动标准差以及全部有效窗口的均值
func volatility(closes []float64) (latest, mean float64, ok bool) {
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	if len(returns) < volatilityPeriod {
		return 0, 0, false
	}

	// talib 在前 period-1 个位置填 0，只取有效部分
	std := talib.StdDev(returns, volatilityPeriod, 1)[volatilityPeriod-1:]
	latest = std[len(std)-1]
	mean = average(std)
	if math.IsNaN(latest) || math.IsNaN(mean) {
		return 0, 0, false
	}
	return latest, mean, true
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
