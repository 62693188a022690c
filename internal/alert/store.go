// Package alert 保存用户的价格提醒，并周期性地检查是否触发。
package alert

import (
	"context"
	"errors"
	"sort"
	"sync"

	"market-aggregator/internal/model"
)

var ErrAlertNotFound = errors.New("alert not found")

// Store 是提醒的存储
type Store interface {
	Add(ctx context.Context, a model.PriceAlert) error
	List(ctx context.Context) ([]model.PriceAlert, error)
	Remove(ctx context.Context, id string) error
}

// Memory 是进程内的提醒存储，List 按注册顺序返回
type Memory struct {
	mu     sync.RWMutex
	alerts map[string]model.PriceAlert
	seq    map[string]uint64
	next   uint64
}

func NewMemory() *Memory {
	return &Memory{
		alerts: make(map[string]model.PriceAlert),
		seq:    make(map[string]uint64),
	}
}

func (m *Memory) Add(_ context.Context, a model.PriceAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[a.ID]; !ok {
		m.seq[a.ID] = m.next
		m.next++
	}
	m.alerts[a.ID] = a
	return nil
}

func (m *Memory) List(_ context.Context) ([]model.PriceAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.PriceAlert, 0, len(m.alerts))
	for _, a := range m.alerts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return m.seq[out[i].ID] < m.seq[out[j].ID] })
	return out, nil
}

func (m *Memory) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[id]; !ok {
		return ErrAlertNotFound
	}
	delete(m.alerts, id)
	delete(m.seq, id)
	return nil
}
