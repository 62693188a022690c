package cache

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"market-aggregator/internal/service"
)

func TestKeyIsDeterministic(t *testing.T) {
	a := Key("ticker", "Bitget", "btcusdt", "")
	b := Key("ticker", "bitget", "BTCUSDT", "")
	if a != b || a != "market:ticker:bitget:BTCUSDT:" {
		t.Errorf("unexpected key\nexpected: [market:ticker:bitget:BTCUSDT:]\nactual:   [%s] / [%s]", a, b)
	}
	if Key("candles", "bitget", "BTCUSDT", "1h") == Key("candles", "bitget", "BTCUSDT", "4h") {
		t.Errorf("timeframe must be part of the key")
	}
}

func TestMemoryExpiry(t *testing.T) {
	now := time.Unix(0, 0)
	m := NewMemory()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), time.Minute)
	if v, ok := m.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Fatalf("expected hit, got %q %v", v, ok)
	}

	now = now.Add(time.Minute)
	if _, ok := m.Get(ctx, "k"); ok {
		t.Errorf("expected entry to expire")
	}
	if m.Len() != 0 {
		t.Errorf("expected expired entry to be evicted on read")
	}

	m.Set(ctx, "zero", []byte("v"), 0)
	if _, ok := m.Get(ctx, "zero"); ok {
		t.Errorf("zero ttl must not be stored")
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%4)
			for j := 0; j < 200; j++ {
				m.Set(ctx, key, []byte{byte(j)}, time.Minute)
				m.Get(ctx, key)
			}
		}(i)
	}
	wg.Wait()
	if m.Len() != 4 {
		t.Errorf("unexpected entry count %d", m.Len())
	}
}

func TestJSONHelpers(t *testing.T) {
	type payload struct{ Last float64 }
	c := NewMemory()
	ctx := context.Background()

	SetJSON(ctx, c, "p", payload{Last: 1.5}, time.Minute)
	got, ok := GetJSON[payload](ctx, c, "p")
	if !ok || got.Last != 1.5 {
		t.Errorf("unexpected payload %+v %v", got, ok)
	}

	c.Set(ctx, "bad", []byte("{"), time.Minute)
	if _, ok := GetJSON[payload](ctx, c, "bad"); ok {
		t.Errorf("undecodable values must be treated as a miss")
	}
}

func TestRedisUnavailableDegradesToMiss(t *testing.T) {
	// 占用一个端口后关闭，保证连接被拒绝
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := New(service.CacheConfig{Driver: "redis", RedisAddr: addr}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Errorf("expected miss when redis is down")
	}
}

func TestNewSelectsDriver(t *testing.T) {
	if _, ok := New(service.CacheConfig{Driver: "none"}, zap.NewNop()).(Nop); !ok {
		t.Errorf("expected Nop cache")
	}
	if _, ok := New(service.CacheConfig{Driver: "memory"}, zap.NewNop()).(*Memory); !ok {
		t.Errorf("expected Memory cache")
	}
}
