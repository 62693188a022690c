// Package server 通过 HTTP 暴露聚合行情、流式会话状态与价格提醒
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"market-aggregator/internal/metrics"
	"market-aggregator/internal/model"
	"market-aggregator/internal/service"
	"market-aggregator/internal/storage"
)

// MarketData 是聚合器对外提供的查询
type MarketData interface {
	GetPrice(ctx context.Context, symbol, exchange string) (model.AggregatedResult, error)
	GetCandles(ctx context.Context, symbol, timeframe string, limit int, exchange string) (model.CandleResult, error)
	GetOrderBook(ctx context.Context, symbol, exchange string) (model.BookResult, error)
	ListSymbols(ctx context.Context, exchange string) (map[string][]string, map[string]error, error)
}

// StreamStatus 只读地暴露流式会话状态
type StreamStatus interface {
	Statuses() []model.SessionStatus
}

// Alerts 管理用户的价格提醒
type Alerts interface {
	Register(ctx context.Context, a model.PriceAlert) (model.PriceAlert, error)
	List(ctx context.Context) ([]model.PriceAlert, error)
	Remove(ctx context.Context, id string) error
}

type Deps struct {
	Market  MarketData
	Streams StreamStatus  // 可为空，流式关闭时
	Alerts  Alerts
	Store   storage.Store // 可为空
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

type Server struct {
	engine *gin.Engine
	deps   Deps
	addr   string
	logger *zap.Logger
}

func New(cfg service.HTTPConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(deps.Logger))

	s := &Server{engine: engine, deps: deps, addr: cfg.Addr, logger: deps.Logger}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
		})
	})
	s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	api := s.engine.Group("/api")
	api.GET("/price/:symbol", s.getPrice)
	api.GET("/candles/:symbol", s.getCandles)
	api.GET("/orderbook/:symbol", s.getOrderBook)
	api.GET("/pairs", s.listPairs)
	api.GET("/sentiment/:symbol", s.getSentiment)
	api.GET("/history/:symbol", s.getHistory)
	api.GET("/streams", s.listStreams)
	api.GET("/alerts", s.listAlerts)
	api.POST("/alerts", s.createAlert)
	api.DELETE("/alerts/:id", s.deleteAlert)
}

// Handler 用于测试或嵌入其他 HTTP 服务
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 阻塞直到 ctx 结束，然后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
