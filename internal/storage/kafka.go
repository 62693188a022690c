package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"market-aggregator/internal/model"
)

// messageWriter 是 kafka.Writer 中用到的部分
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka 把规范化记录发布到一个 topic，供下游消费，不支持查询
type Kafka struct {
	writer messageWriter
}

// Envelope 是发布到 Kafka 的消息体
type Envelope struct {
	Kind   Kind            `json:"kind"`
	Record json.RawMessage `json:"record"`
	SentAt int64           `json:"sentAt"`
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // 同一交易对落在同一分区，保证顺序
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
	}}
}

func (k *Kafka) Save(ctx context.Context, kind Kind, record any) error {
	if err := checkRecord(kind, record); err != nil {
		return err
	}
	msg, err := encodeMessage(kind, record, time.Now())
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", kind, err)
	}
	return nil
}

func (k *Kafka) Query(context.Context, Filter) ([]any, error) {
	return nil, ErrQueryUnsupported
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

func encodeMessage(kind Kind, record any, now time.Time) (kafka.Message, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal record: %w", err)
	}
	value, err := json.Marshal(Envelope{Kind: kind, Record: raw, SentAt: now.UnixMilli()})
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	var exchange, symbol string
	switch r := record.(type) {
	case model.Candle:
		exchange, symbol = r.Exchange, r.Symbol
	case model.OrderBookSnapshot:
		exchange, symbol = r.Exchange, r.Symbol
	}
	return kafka.Message{
		Key:     []byte(exchange + ":" + symbol),
		Value:   value,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(kind)}},
		Time:    now,
	}, nil
}
