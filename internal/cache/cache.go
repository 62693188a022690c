// Package cache 缓存行情查询结果。
// 缓存永远不在失败路径上：后端不可用时读取视为未命中，写入静默忽略。
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"market-aggregator/internal/service"
)

type Cache interface {
	// Get 返回缓存值，ok 为 false 表示未命中 (包括后端故障)
	Get(ctx context.Context, key string) (value []byte, ok bool)
	// Set 写入缓存，失败时只记录日志
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// Key 由 (操作, 交易所, 交易对, 周期) 确定性地组成缓存键
func Key(op, exchange, symbol, timeframe string) string {
	return strings.Join([]string{
		"market",
		op,
		strings.ToLower(exchange),
		strings.ToUpper(symbol),
		timeframe,
	}, ":")
}

// GetJSON 读取并解码 JSON，解码失败视为未命中
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var v T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return v, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false
	}
	return v, true
}

// SetJSON 编码为 JSON 后写入
func SetJSON[T any](ctx context.Context, c Cache, key string, v T, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Set(ctx, key, raw, ttl)
}

// New 根据 cache.driver 构建缓存。Redis 不可用时仍返回 Redis 实现，
// 每次读取都会降级为未命中。
func New(cfg service.CacheConfig, logger *zap.Logger) Cache {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg, logger)
	case "none":
		return Nop{}
	}
	return NewMemory()
}

// Nop 永远未命中
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Nop) Set(context.Context, string, []byte, time.Duration) {}
