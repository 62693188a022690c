package model

import (
	"errors"
	"fmt"
)

// ErrorKind 描述一次行情请求失败的类别
type ErrorKind string

const (
	KindNotFound    ErrorKind = "NotFound"    // 交易对不存在或没有数据
	KindRateLimited ErrorKind = "RateLimited" // 被交易所限频
	KindUnreachable ErrorKind = "Unreachable" // 网络超时、DNS、TLS、连接被拒绝、5xx
	KindBadResponse ErrorKind = "BadResponse" // 响应无法解析，或请求本身非法 (含鉴权失败)
)

// Transient 表示该类错误可以重试
func (k ErrorKind) Transient() bool {
	return k == KindUnreachable || k == KindRateLimited
}

// ErrUnsupportedExchange 表示请求了未配置的交易所
var ErrUnsupportedExchange = errors.New("unsupported exchange")

// FetchError 是连接器与聚合器边界上的统一错误类型
type FetchError struct {
	Exchange string
	Op       string
	Kind     ErrorKind
	Attempts int // 重试策略填写，连接器直接返回时为 0
	Err      error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Exchange, e.Op, e.Kind)
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError 构造一个 FetchError
func NewFetchError(exchange, op string, kind ErrorKind, err error) *FetchError {
	return &FetchError{Exchange: exchange, Op: op, Kind: kind, Err: err}
}

// KindOf 返回错误链上第一个 FetchError 的类别，未分类的错误视为 Unreachable
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnreachable
}

// IsTransient 判断错误是否值得重试
func IsTransient(err error) bool {
	return KindOf(err).Transient()
}
