// Package storage 持久化流式行情：K 线与盘口快照。
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"market-aggregator/internal/model"
	"market-aggregator/internal/service"
)

type Kind string

const (
	KindOHLCV     Kind = "ohlcv"
	KindOrderBook Kind = "orderbook"
)

var (
	ErrUnsupportedRecord = errors.New("unsupported record for kind")
	ErrQueryUnsupported  = errors.New("query not supported by this store")
)

// Filter 描述查询条件，零值字段表示不过滤
type Filter struct {
	Kind      Kind
	Exchange  string
	Symbol    string
	Timeframe string // 仅 OHLCV
	Since     int64  // 毫秒，包含
	Until     int64  // 毫秒，不包含
	Limit     int    // 只保留最近的 Limit 条
}

// Store 是存储协作者：Save 写入一条记录，Query 按条件读取，结果按时间升序
type Store interface {
	Save(ctx context.Context, kind Kind, record any) error
	Query(ctx context.Context, filter Filter) ([]any, error)
}

// checkRecord 校验 kind 与记录类型匹配
func checkRecord(kind Kind, record any) error {
	switch kind {
	case KindOHLCV:
		if _, ok := record.(model.Candle); ok {
			return nil
		}
	case KindOrderBook:
		if _, ok := record.(model.OrderBookSnapshot); ok {
			return nil
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrUnsupportedRecord, kind)
	}
	return fmt.Errorf("%w: %s got %T", ErrUnsupportedRecord, kind, record)
}

// New 根据 storage.driver 构建存储
func New(ctx context.Context, cfg service.StorageConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DSN, logger)
	case "kafka":
		return NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "memory", "":
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
