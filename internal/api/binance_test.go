package api

import (
	"context"
	"net/http"
	"testing"

	"market-aggregator/internal/model"
)

func TestBinanceConnector(t *testing.T) {
	srv := newFixtureServer(t, map[string]func(http.ResponseWriter, *http.Request){
		"/api/v3/ticker/24hr": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("symbol") == "NOPEUSDT" {
				respond(400, `{"code":-1121,"msg":"Invalid symbol."}`)(w, r)
				return
			}
			respond(200, `{"symbol":"BTCUSDT","priceChange":"10","priceChangePercent":"1.5",
				"lastPrice":"65000.12","highPrice":"66000","lowPrice":"64000","volume":"120.5",
				"openTime":1699913600000,"closeTime":1700000000000,"count":10}`)(w, r)
		},
		"/api/v3/klines": respond(200, `[
			[1700000000000,"1","2","0.5","1.5","10",1700000059999,"15",5,"3","4","0"],
			[1700000060000,"1.5","2.5","1","2","11",1700000119999,"15",5,"3","4","0"]]`),
		"/api/v3/depth": respond(200, `{"lastUpdateId":1,"bids":[["99","1"],["100","2"]],"asks":[["102","1"],["101","2"]]}`),
		"/api/v3/exchangeInfo": respond(200, `{"timezone":"UTC","serverTime":1,"rateLimits":[],"exchangeFilters":[],
			"symbols":[{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT"},
			{"symbol":"OLDUSDT","status":"BREAK","baseAsset":"OLD","quoteAsset":"USDT"}]}`),
	})
	b := NewBinance(exchangeConfig(srv.URL))
	ctx := context.Background()

	ticker, err := b.GetTicker(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ticker.Last != 65000.12 || ticker.ChangePct24h != 1.5 || ticker.Timestamp != 1700000000000 {
		t.Errorf("unexpected ticker: %+v", ticker)
	}

	_, err = b.GetTicker(ctx, "NOPEUSDT")
	assertKind(t, err, model.KindNotFound)

	candles, err := b.GetCandles(ctx, "BTCUSDT", "1m", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 2 || candles[1].Close != 2 || candles[0].Volume != 10 {
		t.Errorf("unexpected candles: %+v", candles)
	}

	book, err := b.GetOrderBook(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if book.Bids[0].Price != 100 || book.Asks[0].Price != 101 {
		t.Errorf("unexpected book: %+v", book)
	}

	symbols, err := b.ListSymbols(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := symbols["BTCUSDT"]; !ok || len(symbols) != 1 {
		t.Errorf("unexpected symbols: %v", symbols)
	}
}

func TestNewConnectorUnknownExchange(t *testing.T) {
	if _, err := New("kraken", exchangeConfig("http://localhost")); err == nil {
		t.Errorf("expected error for unsupported exchange")
	}
	c, err := New("Indodax", exchangeConfig("http://localhost"))
	if err != nil || c.Name() != IndodaxName {
		t.Errorf("unexpected connector: %v %v", c, err)
	}
}
