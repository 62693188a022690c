package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"market-aggregator/internal/model"
	"market-aggregator/internal/service"
)

func newFixtureServer(t *testing.T, routes map[string]func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, h := range routes {
		mux.HandleFunc(path, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func respond(status int, body string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func exchangeConfig(url string) service.ExchangeConfig {
	return service.ExchangeConfig{Enabled: true, RESTURL: url, Timeout: 2 * time.Second}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func assertKind(t *testing.T, err error, want model.ErrorKind) {
	t.Helper()
	var fe *model.FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected *model.FetchError, got %T (%v)", err, err)
	}
	if fe.Kind != want {
		t.Errorf("unexpected error kind\nexpected: [%s]\nactual:   [%s] (%v)", want, fe.Kind, err)
	}
}

func TestBitgetGetTicker(t *testing.T) {
	var gotSymbol string
	srv := newFixtureServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/api/v2/spot/market/tickers": func(w http.ResponseWriter, r *http.Request) {
			gotSymbol = r.URL.Query().Get("symbol")
			respond(200, `{"code":"00000","msg":"success","requestTime":1,"data":[
				{"symbol":"BTCUSDT","lastPr":"65000.12","high24h":"66000","low24h":"64000",
				 "baseVolume":"120.5","change24h":"0.0154","ts":"1700000000000","open":"64000"}]}`)(w, r)
		},
	})

	ticker, err := NewBitget(exchangeConfig(srv.URL)).GetTicker(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSymbol != "BTCUSDT" {
		t.Errorf("unexpected symbol sent: %s", gotSymbol)
	}
	if !approx(ticker.ChangePct24h, 1.54) {
		t.Errorf("unexpected change pct\nexpected: [1.54]\nactual:   [%v]", ticker.ChangePct24h)
	}
	ticker.ChangePct24h = 0
	want := model.Ticker{
		Exchange: "bitget", Symbol: "BTCUSDT", Last: 65000.12, High24h: 66000, Low24h: 64000,
		Volume24h: 120.5, Timestamp: 1700000000000,
	}
	if ticker != want {
		t.Errorf("unexpected ticker\nexpected: [%+v]\nactual:   [%+v]", want, ticker)
	}
}

func TestBitgetErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   model.ErrorKind
	}{
		{"unknown symbol", 400, `{"code":"40034","msg":"Parameter does not exist"}`, model.KindNotFound},
		{"empty data", 200, `{"code":"00000","msg":"success","data":[]}`, model.KindNotFound},
		{"rate limited", 429, `{"code":"429","msg":"Too Many Requests"}`, model.KindRateLimited},
		{"server error", 502, `<html>bad gateway</html>`, model.KindUnreachable},
		{"malformed", 200, `{"code":"00000","data":[{"lastPr":"abc"}]}`, model.KindBadResponse},
		{"auth failure", 401, `{"code":"40006","msg":"Invalid ACCESS_KEY"}`, model.KindBadResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newFixtureServer(t, map[string]func(http.ResponseWriter, *http.Request){
				"/api/v2/spot/market/tickers": respond(tc.status, tc.body),
			})
			_, err := NewBitget(exchangeConfig(srv.URL)).GetTicker(context.Background(), "BTCUSDT")
			assertKind(t, err, tc.kind)
		})
	}
}

func TestBitgetUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewBitget(exchangeConfig(url)).GetTicker(context.Background(), "BTCUSDT")
	assertKind(t, err, model.KindUnreachable)
}

func TestBitgetGetCandles(t *testing.T) {
	var granularity string
	srv := newFixtureServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/api/v2/spot/market/candles": func(w http.ResponseWriter, r *http.Request) {
			granularity = r.URL.Query().Get("granularity")
			respond(200, `{"code":"00000","msg":"success","data":[
				["1700003600000","2","3","1","2.5","10","25","25"],
				["1700000000000","1","2","0.5","1.5","5","7","7"],
				["1700003600000","2","3","1","2.6","11","25","25"]]}`)(w, r)
		},
	})

	candles, err := NewBitget(exchangeConfig(srv.URL)).GetCandles(context.Background(), "BTCUSDT", "1h", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if granularity != "1h" {
		t.Errorf("unexpected granularity %q", granularity)
	}
	if len(candles) != 2 {
		t.Fatalf("expected duplicates to be removed, got %d candles", len(candles))
	}
	if candles[0].OpenTime != 1700000000000 || candles[1].Close != 2.6 {
		t.Errorf("unexpected candles: %+v", candles)
	}

	_, err = NewBitget(exchangeConfig(srv.URL)).GetCandles(context.Background(), "BTCUSDT", "7m", 10)
	assertKind(t, err, model.KindBadResponse)
}

func TestBitgetOrderBookAndSymbols(t *testing.T) {
	srv := newFixtureServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/api/v2/spot/market/orderbook": respond(200, `{"code":"00000","data":{
			"asks":[["101","1"],["100.5","2"]],"bids":[["99","1"],["99.5","3"]],"ts":"1700000000000"}}`),
		"/api/v2/spot/public/symbols": respond(200, `{"code":"00000","data":[
			{"symbol":"BTCUSDT","status":"online"},{"symbol":"OLDUSDT","status":"offline"}]}`),
	})
	b := NewBitget(exchangeConfig(srv.URL))

	book, err := b.GetOrderBook(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if book.Bids[0].Price != 99.5 || book.Asks[0].Price != 100.5 {
		t.Errorf("unexpected book ordering: %+v", book)
	}

	symbols, err := b.ListSymbols(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := symbols["BTCUSDT"]; !ok || len(symbols) != 1 {
		t.Errorf("unexpected symbols: %v", symbols)
	}
}
