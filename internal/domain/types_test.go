package domain

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestTypesExist(t *testing.T) {
	// Verify Order can be instantiated with zero values.
	order := Order{}
	if order.ID != "" {
		t.Error("expected empty ID for zero-value Order")
	}
	if order.Side != "" {
		t.Error("expected empty Side for zero-value Order")
	}
	if order.Status != "" {
		t.Error("expected empty Status for zero-value Order")
	}
	if order.Qty != 0 || order.FilledQty != 0 || order.FilledAvgPrice != 0 {
		t.Error("expected zero Qty/FilledQty/FilledAvgPrice for zero-value Order")
	}
	if !order.CreatedAt.IsZero() || !order.UpdatedAt.IsZero() {
		t.Error("expected zero timestamps for zero-value Order")
	}

	// Verify enum constants are defined correctly.
	if OrderSideBuy != "buy" {
		t.Errorf("OrderSideBuy = %q, want %q", OrderSideBuy, "buy")
	}
	if OrderSideSell != "sell" {
		t.Errorf("OrderSideSell = %q, want %q", OrderSideSell, "sell")
	}
	if ActionOrderFilled != "order_filled" || ActionOrderRejected != "order_rejected" {
		t.Error("audit action constants have unexpected values")
	}

	now := time.Now()
	dt := DayTrade{TradeID: "t1", Symbol: "AAPL", OpenTime: now, CloseTime: now, SchemaVersion: DayTradeSchemaVersion}
	if dt.SchemaVersion != 1 {
		t.Errorf("dt.SchemaVersion = %d, want 1", dt.SchemaVersion)
	}
}

func TestQuoteMid(t *testing.T) {
	tests := []struct {
		name string
		q    Quote
		want float64
	}{
		{"two sided", Quote{Bid: 1.00, Ask: 1.20, Price: 5}, 1.10},
		{"illiquid falls back to last", Quote{Price: 2.50}, 2.50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.Mid(); got < tt.want-1e-9 || got > tt.want+1e-9 {
				t.Errorf("Mid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrderRequestValidate(t *testing.T) {
	neg, nan, inf := -1.0, math.NaN(), math.Inf(1)
	tests := []struct {
		name    string
		req     OrderRequest
		wantErr bool
	}{
		{"ok", OrderRequest{AccountID: "a", Symbol: "SPY", Side: OrderSideBuy, Qty: 1}, false},
		{"zero qty", OrderRequest{AccountID: "a", Symbol: "SPY", Side: OrderSideBuy, Qty: 0}, true},
		{"negative qty", OrderRequest{AccountID: "a", Symbol: "SPY", Side: OrderSideSell, Qty: -3}, true},
		{"bad side", OrderRequest{AccountID: "a", Symbol: "SPY", Side: "short", Qty: 1}, true},
		{"no symbol", OrderRequest{AccountID: "a", Side: OrderSideBuy, Qty: 1}, true},
		{"no account", OrderRequest{Symbol: "SPY", Side: OrderSideBuy, Qty: 1}, true},
		{"negative limit", OrderRequest{AccountID: "a", Symbol: "SPY", Side: OrderSideBuy, Qty: 1, LimitPrice: &neg}, true},
		{"NaN limit", OrderRequest{AccountID: "a", Symbol: "SPY", Side: OrderSideBuy, Qty: 1, LimitPrice: &nan}, true},
		{"infinite limit", OrderRequest{AccountID: "a", Symbol: "SPY", Side: OrderSideSell, Qty: 1, LimitPrice: &inf}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidOrder) {
				t.Errorf("Validate() error = %v, want ErrInvalidOrder", err)
			}
		})
	}
}

func TestQuoteValidate(t *testing.T) {
	if err := (Quote{Symbol: "X"}).Validate(); !errors.Is(err, ErrInvalidQuote) {
		t.Errorf("all-zero quote: err = %v, want ErrInvalidQuote", err)
	}
	if err := (Quote{Symbol: "X", Bid: -1, Ask: 2}).Validate(); !errors.Is(err, ErrInvalidQuote) {
		t.Errorf("negative bid: err = %v, want ErrInvalidQuote", err)
	}
	if err := (Quote{Symbol: "X", Price: 3}).Validate(); err != nil {
		t.Errorf("last-only quote: unexpected err %v", err)
	}

	nonFinite := []Quote{
		{Symbol: "X", Price: math.Inf(1)},
		{Symbol: "X", Price: math.NaN()},
		{Symbol: "X", Bid: math.NaN(), Ask: 2},
		{Symbol: "X", Bid: 1, Ask: math.Inf(1)},
		{Symbol: "X", Bid: math.Inf(-1), Ask: 2},
	}
	for _, q := range nonFinite {
		if err := q.Validate(); !errors.Is(err, ErrInvalidQuote) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidQuote", q, err)
		}
	}
}

func TestOrderStateTransitions(t *testing.T) {
	s := OrderStateRequested
	s, err := s.Advance(OrderStateRiskChecked)
	if err != nil {
		t.Fatalf("requested -> risk_checked: %v", err)
	}
	s, err = s.Advance(OrderStateFilled)
	if err != nil {
		t.Fatalf("risk_checked -> filled: %v", err)
	}
	if !s.Terminal() {
		t.Error("filled should be terminal")
	}
	if _, err := s.Advance(OrderStateRejected); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("filled -> rejected: err = %v, want ErrIllegalTransition", err)
	}
	if OrderStateRequested.CanTransition(OrderStateFilled) {
		t.Error("requested -> filled must go through risk_checked")
	}
}

func TestNotionalAndAverage(t *testing.T) {
	if got := Notional(5.00, 1, 100); got != 500 {
		t.Errorf("Notional(5,1,100) = %v, want 500", got)
	}
	if got := Notional(0.1, 3, 100); got != 30 {
		t.Errorf("Notional(0.1,3,100) = %v, want 30", got)
	}
	if got := WeightedAverage(1, 10, 1, 20); got != 15 {
		t.Errorf("WeightedAverage = %v, want 15", got)
	}
	if got := AddMoney(0.1, 0.2); got != 0.3 {
		t.Errorf("AddMoney(0.1, 0.2) = %v, want 0.3", got)
	}
}

func TestUnderlyingOf(t *testing.T) {
	tests := map[string]string{
		"AAPL240119C00190000": "AAPL",
		"SPY250620P00500000":  "SPY",
		"msft":                "MSFT",
		"BRK.B":               "BRK.B",
	}
	for in, want := range tests {
		if got := UnderlyingOf(in); got != want {
			t.Errorf("UnderlyingOf(%q) = %q, want %q", in, got, want)
		}
	}
}
