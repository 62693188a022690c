package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"market-aggregator/internal/aggregator"
	"market-aggregator/internal/alert"
	"market-aggregator/internal/api"
	"market-aggregator/internal/cache"
	"market-aggregator/internal/metrics"
	"market-aggregator/internal/notify"
	"market-aggregator/internal/retry"
	"market-aggregator/internal/server"
	"market-aggregator/internal/service"
	"market-aggregator/internal/storage"
	"market-aggregator/internal/stream"
)

func main() {
	configPath := "config"
	if p := os.Getenv("MARKET_CONFIG_DIR"); p != "" {
		configPath = p
	}
	cfg, err := service.LoadConfig(configPath)
	if err != nil {
		panic(err)
	}

	logger, err := service.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Market aggregator exited with error", zap.Error(err))
	}
	logger.Info("Market aggregator stopped")
}

func run(ctx context.Context, cfg *service.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := metrics.New()

	// 1. 连接器，按配置顺序
	var connectors []api.Connector
	var codecs []api.StreamCodec
	for _, name := range cfg.EnabledExchanges() {
		exCfg := cfg.Exchanges[name]
		c, err := api.New(name, exCfg)
		if err != nil {
			return err
		}
		connectors = append(connectors, c)
		if codec, ok := api.NewStreamCodec(name, exCfg); ok {
			codecs = append(codecs, codec)
		}
		logger.Info("Exchange connector ready", zap.String("exchange", name), zap.String("restURL", exCfg.RESTURL))
	}
	if len(connectors) == 0 {
		return errors.New("no exchange is enabled")
	}

	// 2. 缓存 + 重试 + 聚合器
	c := cache.New(cfg.Cache, logger)
	defer closeQuietly(c, logger, "cache")

	agg := aggregator.New(connectors, aggregator.Options{
		Cache:    c,
		Policy:   retry.NewPolicy(cfg.Retry, logger, m),
		TTL:      cfg.Cache.TTL,
		QuoteTTL: cfg.Cache.QuoteTTL,
		Logger:   logger,
		Metrics:  m,
	})

	// 3. 存储与消息
	store, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeQuietly(store, logger, "storage")

	var notifier notify.Notifier = notify.NewLog(logger)
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.Notify.TelegramToken, "")
		if err != nil {
			return err
		}
		notifier = tg
	}
	operator := notify.NewOperator(notifier, cfg.Notify.OperatorChat, logger)

	var wg sync.WaitGroup

	// 4. 流式会话，每个交易所独立运行
	var streams server.StreamStatus
	if cfg.Stream.Enabled && len(codecs) > 0 {
		manager, err := stream.NewManager(codecs, stream.ConfigFrom(cfg), stream.Deps{
			Dialer:   stream.WebsocketDialer{},
			Store:    store,
			Operator: operator,
			Logger:   logger,
			Metrics:  m,
		})
		if err != nil {
			return err
		}
		manager.Start(ctx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			manager.Wait()
		}()
		streams = manager
	}

	// 5. 价格提醒
	evaluator := alert.NewEvaluator(alert.NewMemory(), agg, notifier, cfg.Alerts, logger, m)
	wg.Add(1)
	go func() {
		defer wg.Done()
		evaluator.Run(ctx)
	}()

	// 6. HTTP
	srv := server.New(cfg.HTTP, server.Deps{
		Market:  agg,
		Streams: streams,
		Alerts:  evaluator,
		Store:   store,
		Metrics: m,
		Logger:  logger,
	})
	err = srv.Run(ctx)

	// HTTP 异常退出时也要停止其余任务
	cancel()
	wg.Wait()
	return err
}

func closeQuietly(v any, logger *zap.Logger, what string) {
	closer, ok := v.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn("Failed to close resource", zap.String("resource", what), zap.Error(err))
	}
}
