package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"market-aggregator/internal/aggregator"
	"market-aggregator/internal/alert"
	"market-aggregator/internal/model"
	"market-aggregator/internal/storage"
	"market-aggregator/pkg/ta"
)

const (
	defaultTimeframe = "1h"
	defaultLimit     = 100
	maxLimit         = 1000
	sentimentWindow  = 24 // 24 根 1h K 线
)

// statusFor 把聚合结果映射为 HTTP 状态码
func statusFor(o model.Outcome) int {
	switch o {
	case model.OutcomeNoData:
		return http.StatusNotFound
	case model.OutcomeUnreachable:
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// requestError 处理调用级错误，返回 true 表示已经写入响应
func (s *Server) requestError(c *gin.Context, err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, model.ErrUnsupportedExchange), errors.Is(err, aggregator.ErrEmptySymbol):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
	return true
}

func parseLimit(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer between 1 and 1000"})
		return 0, false
	}
	return n, true
}

func (s *Server) getPrice(c *gin.Context) {
	res, err := s.deps.Market.GetPrice(c.Request.Context(), c.Param("symbol"), c.Query("exchange"))
	if s.requestError(c, err) {
		return
	}
	outcome := res.Outcome()
	c.JSON(statusFor(outcome), gin.H{
		"symbol":  res.Symbol,
		"outcome": outcome,
		"tickers": res.Tickers,
		"errors":  res.ErrorStrings(),
	})
}

func (s *Server) getCandles(c *gin.Context) {
	limit, ok := parseLimit(c, defaultLimit)
	if !ok {
		return
	}
	timeframe := c.DefaultQuery("timeframe", defaultTimeframe)
	res, err := s.deps.Market.GetCandles(c.Request.Context(), c.Param("symbol"), timeframe, limit, c.Query("exchange"))
	if s.requestError(c, err) {
		return
	}
	outcome := res.Outcome()
	c.JSON(statusFor(outcome), gin.H{
		"exchange":  res.Exchange,
		"timeframe": timeframe,
		"outcome":   outcome,
		"candles":   res.Candles,
		"errors":    res.ErrorStrings(),
	})
}

func (s *Server) getOrderBook(c *gin.Context) {
	res, err := s.deps.Market.GetOrderBook(c.Request.Context(), c.Param("symbol"), c.Query("exchange"))
	if s.requestError(c, err) {
		return
	}
	outcome := res.Outcome()
	body := gin.H{
		"exchange": res.Exchange,
		"outcome":  outcome,
		"errors":   res.ErrorStrings(),
	}
	if res.Found {
		body["book"] = res.Book
	}
	c.JSON(statusFor(outcome), body)
}

func (s *Server) listPairs(c *gin.Context) {
	pairs, errs, err := s.deps.Market.ListSymbols(c.Request.Context(), c.Query("exchange"))
	if s.requestError(c, err) {
		return
	}
	errStrings := make(map[string]string, len(errs))
	for name, e := range errs {
		errStrings[name] = e.Error()
	}
	status := http.StatusOK
	if len(pairs) == 0 && len(errs) > 0 {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"pairs": pairs, "errors": errStrings})
}

func (s *Server) getSentiment(c *gin.Context) {
	res, err := s.deps.Market.GetCandles(c.Request.Context(), c.Param("symbol"), defaultTimeframe, sentimentWindow, c.Query("exchange"))
	if s.requestError(c, err) {
		return
	}
	if outcome := res.Outcome(); outcome == model.OutcomeNoData || outcome == model.OutcomeUnreachable {
		c.JSON(statusFor(outcome), gin.H{"outcome": outcome, "errors": res.ErrorStrings()})
		return
	}
	sentiment, err := ta.Analyze(res.Candles)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":    model.CanonicalSymbol(c.Param("symbol")),
		"exchange":  res.Exchange,
		"sentiment": sentiment,
	})
}

// getHistory 读取流式会话落库的数据
func (s *Server) getHistory(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "storage is not configured"})
		return
	}
	limit, ok := parseLimit(c, defaultLimit)
	if !ok {
		return
	}
	kind := storage.Kind(c.DefaultQuery("kind", string(storage.KindOHLCV)))
	if kind != storage.KindOHLCV && kind != storage.KindOrderBook {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be ohlcv or orderbook"})
		return
	}
	filter := storage.Filter{
		Kind:      kind,
		Exchange:  c.Query("exchange"),
		Symbol:    model.CanonicalSymbol(c.Param("symbol")),
		Timeframe: c.Query("timeframe"),
		Limit:     limit,
	}
	records, err := s.deps.Store.Query(c.Request.Context(), filter)
	if errors.Is(err, storage.ErrQueryUnsupported) {
		c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
		return
	}
	if s.requestError(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "records": records})
}

func (s *Server) listStreams(c *gin.Context) {
	statuses := []model.SessionStatus{}
	if s.deps.Streams != nil {
		statuses = s.deps.Streams.Statuses()
	}
	c.JSON(http.StatusOK, gin.H{"streams": statuses})
}

func (s *Server) listAlerts(c *gin.Context) {
	alerts, err := s.deps.Alerts.List(c.Request.Context())
	if s.requestError(c, err) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

type createAlertRequest struct {
	UserID    string  `json:"userId" binding:"required"`
	Symbol    string  `json:"symbol" binding:"required"`
	Exchange  string  `json:"exchange"`
	Threshold float64 `json:"threshold" binding:"required,gt=0"`
	Direction string  `json:"direction" binding:"required,oneof=above below Above Below"`
}

func (s *Server) createAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := s.deps.Alerts.Register(c.Request.Context(), model.PriceAlert{
		UserID:    req.UserID,
		Symbol:    req.Symbol,
		Exchange:  req.Exchange,
		Threshold: req.Threshold,
		Direction: model.Direction(req.Direction),
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"alert": a})
}

func (s *Server) deleteAlert(c *gin.Context) {
	err := s.deps.Alerts.Remove(c.Request.Context(), c.Param("id"))
	if errors.Is(err, alert.ErrAlertNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if s.requestError(c, err) {
		return
	}
	c.Status(http.StatusNoContent)
}
