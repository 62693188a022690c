// Package notify 把提醒与运维告警发送给用户或频道
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier 是消息协作者，失败时返回错误，由调用方记录日志，不做重试
type Notifier interface {
	Notify(ctx context.Context, recipient, text string) error
}

// ErrNoRecipient 表示没有配置接收者
var ErrNoRecipient = errors.New("no recipient")

// Log 只把消息写入日志，在没有配置 Telegram 时使用
type Log struct {
	logger *zap.Logger
}

func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, recipient, text string) error {
	l.logger.Info("Notification", zap.String("recipient", recipient), zap.String("text", text))
	return nil
}

// Telegram 通过 Bot API 发送消息，接收者可以是数字聊天 ID 或 @频道名
type Telegram struct {
	bot *tgbotapi.BotAPI
}

// telegramTimeout 限制单次 Bot API 请求，避免挂起的连接永远占住 goroutine
const telegramTimeout = 10 * time.Second

// operatorTimeout 限制运维告警对调用方 (重连循环) 的阻塞时间
const operatorTimeout = 5 * time.Second

// NewTelegram 创建机器人，endpoint 为空时使用官方地址。创建时会调用一次 getMe 校验 token。
func NewTelegram(token, endpoint string) (*Telegram, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: telegramTimeout})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

func (t *Telegram) Notify(ctx context.Context, recipient, text string) error {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg tgbotapi.MessageConfig
	if chatID, err := strconv.ParseInt(recipient, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(chatID, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(recipient, text)
	}

	// Bot API 不接受 ctx，发送放到 goroutine 中，调用方只等到 ctx 结束
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(msg)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("telegram send to %s: %w", recipient, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telegram send to %s: %w", recipient, ctx.Err())
	}
}

// Operator 把运维告警发往固定的接收者；未配置接收者时退化为日志
type Operator struct {
	notifier  Notifier
	recipient string
	logger    *zap.Logger
}

func NewOperator(n Notifier, recipient string, logger *zap.Logger) *Operator {
	return &Operator{notifier: n, recipient: recipient, logger: logger}
}

// Alert 发送运维告警，失败只记录日志
func (o *Operator) Alert(ctx context.Context, text string) {
	if o.recipient == "" {
		o.logger.Warn("Operator alert", zap.String("text", text))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, operatorTimeout)
	defer cancel()
	if err := o.notifier.Notify(ctx, o.recipient, text); err != nil {
		o.logger.Error("Failed to send operator alert", zap.String("text", text), zap.Error(err))
	}
}
