package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"papertrade/internal/domain"
)

func newRisk() *RiskManager {
	return NewRiskManager(RiskConfig{
		ContractMultiplier: 100,
		MaxRiskPerTrade:    1000,
		MaxPositions:       5,
		MaxSingleSymbolPct: 50,
	}, newLimiter(testNow))
}

func buy(symbol string, qty int64, price float64) ProposedOrder {
	return ProposedOrder{Side: domain.OrderSideBuy, Symbol: symbol, Qty: qty, Price: price}
}

func TestRiskBuyingPower(t *testing.T) {
	acct := &domain.Account{ID: "a", Cash: 10, BuyingPower: 10}
	d := newRisk().CheckOrder(acct, buy("SPY", 1, 5.00), nil, false)

	assert.False(t, d.Allowed)
	assert.Equal(t, CodeBuyingPower, d.Code)
	assert.Contains(t, d.Reason, "buying power")
	assert.Contains(t, d.Reason, "$500.00")
	assert.Contains(t, d.Reason, "$10.00")
}

func TestRiskMaxRiskPerTrade(t *testing.T) {
	acct := &domain.Account{ID: "a", Cash: 100000, BuyingPower: 100000}
	d := newRisk().CheckOrder(acct, buy("SPY", 3, 5.00), nil, false)

	assert.False(t, d.Allowed)
	assert.Equal(t, CodeMaxRisk, d.Code)
	assert.Equal(t, "Order cost $1500.00 exceeds max risk per trade $1000.00", d.Reason)
}

func TestRiskMaxPositions(t *testing.T) {
	acct := &domain.Account{ID: "a", Cash: 100000, BuyingPower: 100000}
	var positions []domain.Position
	for _, s := range []string{"A", "B", "C", "D", "E"} {
		positions = append(positions, domain.Position{Symbol: s, Qty: 1, AvgPrice: 1, CurrentPrice: 1, MarketValue: 100})
	}
	d := newRisk().CheckOrder(acct, buy("F", 1, 1), positions, false)
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeMaxPositions, d.Code)

	d = newRisk().CheckOrder(acct, buy("F", 1, 1), positions[:4], false)
	assert.True(t, d.Allowed)
}

func TestRiskConcentration(t *testing.T) {
	acct := &domain.Account{ID: "a", Cash: 2000, BuyingPower: 2000}
	positions := []domain.Position{
		{Symbol: "XYZ", Underlying: "XYZ", Qty: 1, AvgPrice: 9, CurrentPrice: 9, MarketValue: 900},
	}
	rm := newRisk()

	// 900 + 160 = 1060 of 2000 = 53%.
	d := rm.CheckOrder(acct, buy("XYZ", 1, 1.60), positions, false)
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeConcentration, d.Code)
	assert.InDelta(t, 53.0, d.Values["pct"], 1e-9)

	// 900 + 80 = 980 of 2000 = 49%.
	d = rm.CheckOrder(acct, buy("XYZ", 1, 0.80), positions, false)
	assert.True(t, d.Allowed, d.Reason)
}

func TestRiskConcentrationByUnderlying(t *testing.T) {
	acct := &domain.Account{ID: "a", Cash: 2000, BuyingPower: 2000}
	positions := []domain.Position{
		{Symbol: "AAPL260116C00200000", Underlying: "AAPL", Qty: 1, AvgPrice: 9, CurrentPrice: 9, MarketValue: 900},
	}
	d := newRisk().CheckOrder(acct, buy("AAPL260116P00180000", 1, 1.60), positions, false)
	assert.False(t, d.Allowed)
	assert.Equal(t, CodeConcentration, d.Code)
}

func TestRiskConcentrationSkippedWithoutEquity(t *testing.T) {
	// Unrealized losses push equity negative; the concentration gate does not apply.
	acct := &domain.Account{ID: "a", Cash: 500, BuyingPower: 500}
	positions := []domain.Position{
		{Symbol: "XYZ", Qty: 1, AvgPrice: 10, CurrentPrice: 1, MarketValue: 100},
	}
	d := newRisk().CheckOrder(acct, buy("XYZ", 1, 1), positions, false)
	assert.True(t, d.Allowed, d.Reason)
}

func TestRiskSellBypassesBuyChecks(t *testing.T) {
	acct := &domain.Account{ID: "a", Cash: 0, BuyingPower: 0}
	order := ProposedOrder{Side: domain.OrderSideSell, Symbol: "SPY", Qty: 100, Price: 50}
	d := newRisk().CheckOrder(acct, order, nil, false)
	assert.True(t, d.Allowed)
}

func TestRiskPDTGate(t *testing.T) {
	acct := &domain.Account{ID: "a", Cash: 100000, BuyingPower: 100000, DayTrades: daysAgo(testNow, 1, 2, 3)}
	rm := newRisk()

	sell := ProposedOrder{Side: domain.OrderSideSell, Symbol: "SPY", Qty: 1, Price: 1}
	d := rm.CheckOrder(acct, sell, nil, true)
	assert.False(t, d.Allowed)
	assert.Equal(t, CodePDT, d.Code)
	assert.Contains(t, d.Reason, "3 of 3")
	assert.Contains(t, d.Reason, "next slot opens 2026-10-20")

	// Not flagged: no PDT gate.
	d = rm.CheckOrder(acct, sell, nil, false)
	assert.True(t, d.Allowed)

	// Buys are gated too when flagged.
	d = rm.CheckOrder(acct, buy("SPY", 1, 1), nil, true)
	assert.Equal(t, CodePDT, d.Code)
}

func TestRiskCheckOrder(t *testing.T) {
	acct := &domain.Account{ID: "a", Cash: 10, BuyingPower: 10, DayTrades: daysAgo(testNow, 1)}
	positions := []domain.Position{{Symbol: "SPY", Qty: 1, AvgPrice: 1, CurrentPrice: 1, MarketValue: 100}}
	rm := newRisk()

	// Buying power fails first even though other checks would too.
	first := rm.CheckOrder(acct, buy("SPY", 20, 5), positions, true)
	second := rm.CheckOrder(acct, buy("SPY", 20, 5), positions, true)
	assert.Equal(t, first, second)
	assert.Equal(t, CodeBuyingPower, first.Code)
	assert.Equal(t, 10.0, acct.BuyingPower)
	assert.Len(t, acct.DayTrades, 1)
	assert.Len(t, positions, 1)
}
