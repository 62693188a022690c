package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"market-aggregator/internal/model"
	"market-aggregator/internal/service"
)

// errorDecoder 让交易所根据 HTTP 状态码和响应体细化错误类别，ok 为 false 时使用通用分类
type errorDecoder func(status int, body []byte) (kind model.ErrorKind, msg string, ok bool)

// restClient 是各交易所共用的 REST 传输层：限频、超时、状态码分类
type restClient struct {
	exchange    string
	http        *resty.Client
	limiter     *rate.Limiter
	decodeError errorDecoder
}

func newRESTClient(exchange string, cfg service.ExchangeConfig, decode errorDecoder) *restClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.RESTURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "market-aggregator/1.0")

	return &restClient{
		exchange:    exchange,
		http:        client,
		limiter:     newLimiter(cfg.RateLimit),
		decodeError: decode,
	}
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), int(math.Max(1, math.Ceil(perSecond))))
}

// get 发送 GET 请求并返回 2xx 响应体，其余情况返回分类后的 *model.FetchError
func (c *restClient) get(ctx context.Context, op, path string, query map[string]string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, model.NewFetchError(c.exchange, op, model.KindUnreachable, fmt.Errorf("rate limiter: %w", err))
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		// 超时、DNS、TLS、连接被拒绝、ctx 取消
		return nil, model.NewFetchError(c.exchange, op, model.KindUnreachable, err)
	}

	status := resp.StatusCode()
	body := resp.Body()
	if status >= 200 && status < 300 {
		return body, nil
	}

	if c.decodeError != nil {
		if kind, msg, ok := c.decodeError(status, body); ok {
			return nil, model.NewFetchError(c.exchange, op, kind, fmt.Errorf("http %d: %s", status, msg))
		}
	}
	return nil, model.NewFetchError(c.exchange, op, classifyStatus(status), fmt.Errorf("http %d: %s", status, truncate(body)))
}

// getJSON 请求并解码 JSON，解码失败视为 BadResponse
func (c *restClient) getJSON(ctx context.Context, op, path string, query map[string]string, out any) error {
	body, err := c.get(ctx, op, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return badResponse(c.exchange, op, fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

func classifyStatus(status int) model.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return model.KindRateLimited
	case status >= 500:
		return model.KindUnreachable
	case status == http.StatusNotFound:
		return model.KindNotFound
	}
	return model.KindBadResponse
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
