// Package retry 为连接器调用提供有上限的线性退避重试
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"market-aggregator/internal/metrics"
	"market-aggregator/internal/model"
	"market-aggregator/internal/service"
)

// Policy 描述重试次数与延迟，第 k 次失败后等待 BaseDelay*k，再加上 [0, Jitter*delay] 的随机抖动
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	Jitter    float64

	Logger  *zap.Logger
	Metrics *metrics.Metrics

	random func() float64 // 测试中替换
}

// NewPolicy 从配置构建重试策略
func NewPolicy(cfg service.RetryConfig, logger *zap.Logger, m *metrics.Metrics) Policy {
	return Policy{
		Attempts:  cfg.Attempts,
		BaseDelay: cfg.BaseDelay,
		Jitter:    cfg.Jitter,
		Logger:    logger,
		Metrics:   m,
	}
}

// linearBackOff 实现 backoff.BackOff，延迟随尝试次数线性增长
type linearBackOff struct {
	base    time.Duration
	jitter  float64
	random  func() float64
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	d := b.base * time.Duration(b.attempt)
	if b.jitter > 0 && d > 0 {
		d += time.Duration(b.random() * b.jitter * float64(d))
	}
	return d
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// Delay 返回第 attempt 次失败后的基础延迟 (不含抖动)
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

// Do 执行 fn，可重试的错误 (Unreachable、RateLimited) 最多尝试 p.Attempts 次，
// 永久错误立即返回。失败时返回带尝试次数的 *model.FetchError。
func Do[T any](ctx context.Context, p Policy, exchange, op string, fn func(context.Context) (T, error)) (T, error) {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	random := p.random
	if random == nil {
		random = rand.Float64
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		tries   int
		lastErr error
	)
	operation := func() (T, error) {
		tries++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !model.IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}
	notify := func(err error, next time.Duration) {
		p.Metrics.ObserveRetry(exchange, op)
		logger.Warn("Retrying exchange call",
			zap.String("exchange", exchange),
			zap.String("op", op),
			zap.Int("attempt", tries),
			zap.Duration("delay", next),
			zap.Error(err))
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(&linearBackOff{base: p.BaseDelay, jitter: p.Jitter, random: random}),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0), // 只由尝试次数限制
		backoff.WithNotify(notify),
	)
	if err == nil {
		return v, nil
	}

	var zero T
	if lastErr == nil {
		// fn 从未执行，ctx 在开始前就已结束
		lastErr = err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && model.IsTransient(lastErr) {
		return zero, &model.FetchError{
			Exchange: exchange,
			Op:       op,
			Kind:     model.KindUnreachable,
			Attempts: tries,
			Err:      fmt.Errorf("%w (last error: %v)", ctxErr, lastErr),
		}
	}
	return zero, tagAttempts(exchange, op, tries, lastErr)
}

// tagAttempts 复制错误链上的 FetchError 并写入尝试次数，不修改连接器返回的原对象
func tagAttempts(exchange, op string, tries int, err error) error {
	var fe *model.FetchError
	if errors.As(err, &fe) {
		tagged := *fe
		tagged.Attempts = tries
		return &tagged
	}
	return &model.FetchError{Exchange: exchange, Op: op, Kind: model.KindOf(err), Attempts: tries, Err: err}
}
