package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestCanonicalSymbol(t *testing.T) {
	cases := map[string]string{
		"btcusdt":    "BTCUSDT",
		"BTC/USDT":   "BTCUSDT",
		" eth-usdt ": "ETHUSDT",
		"sol_usdt":   "SOLUSDT",
	}
	for in, want := range cases {
		if got := CanonicalSymbol(in); got != want {
			t.Errorf("unexpected symbol for %q\nexpected: [%s]\nactual:   [%s]", in, want, got)
		}
	}
}

func TestAggregatedResultOutcome(t *testing.T) {
	notFound := NewFetchError("a", "ticker", KindNotFound, nil)
	unreachable := NewFetchError("b", "ticker", KindUnreachable, errors.New("timeout"))

	r := NewAggregatedResult("BTCUSDT")
	r.Merge("a", Ticker{Last: 1}, nil)
	if r.Outcome() != OutcomeOK {
		t.Errorf("unexpected outcome %s", r.Outcome())
	}
	r.Merge("b", Ticker{}, unreachable)
	if r.Outcome() != OutcomePartial {
		t.Errorf("unexpected outcome %s", r.Outcome())
	}

	empty := NewAggregatedResult("BTCUSDT")
	empty.Merge("a", Ticker{}, notFound)
	if empty.Outcome() != OutcomeNoData {
		t.Errorf("unexpected outcome %s", empty.Outcome())
	}
	empty.Merge("b", Ticker{}, unreachable)
	if empty.Outcome() != OutcomeUnreachable {
		t.Errorf("unexpected outcome %s", empty.Outcome())
	}
	if len(empty.Tickers) != 0 {
		t.Errorf("failed exchanges must not appear in tickers")
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewFetchError("x", "ticker", KindRateLimited, nil))
	if KindOf(wrapped) != KindRateLimited || !IsTransient(wrapped) {
		t.Errorf("expected wrapped rate limit to be transient")
	}
	if IsTransient(NewFetchError("x", "ticker", KindBadResponse, nil)) {
		t.Errorf("bad response must be permanent")
	}
	if KindOf(errors.New("plain")) != KindUnreachable {
		t.Errorf("unclassified errors should be unreachable")
	}
}

func TestPriceAlertTriggered(t *testing.T) {
	above := PriceAlert{Threshold: 50000, Direction: DirAbove}
	if above.Triggered(50000) || !above.Triggered(50000.01) {
		t.Errorf("above must trigger strictly above the threshold")
	}
	below := PriceAlert{Threshold: 50000, Direction: DirBelow}
	if below.Triggered(50000) || !below.Triggered(49999) {
		t.Errorf("below must trigger strictly below the threshold")
	}
	if _, err := ParseDirection("sideways"); err == nil {
		t.Errorf("expected error for invalid direction")
	}
	if d, _ := ParseDirection(" ABOVE "); d != DirAbove {
		t.Errorf("unexpected direction %s", d)
	}
}
