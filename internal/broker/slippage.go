package broker

import (
	"math"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// SlippageConfig configures simulated execution prices.
type SlippageConfig struct {
	// Pessimistic fills buys at the ask and sells at the bid. Otherwise both
	// sides fill at the mid.
	Pessimistic bool
	// Bps is the base slippage applied against the reference price.
	Bps int
	// MinTick floors every fill price.
	MinTick float64

	// Estimator settings.
	ContractMultiplier   float64
	LargeOrderQty        int64
	LargeOrderMultiplier float64
	ImpactFactor         float64
}

// SlippageResult is a simulated execution price.
type SlippageResult struct {
	FillPrice      float64 `json:"fill_price"`
	SlippageBps    int     `json:"slippage_bps"`
	SlippageAmount float64 `json:"slippage_amount"`
	Reference      float64 `json:"reference_price"`
}

// Estimate is advisory slippage sizing for an order of a given quantity.
type Estimate struct {
	Qty           int64   `json:"quantity"`
	ADV           float64 `json:"adv,omitempty"`
	Participation float64 `json:"participation,omitempty"`
	Bps           float64 `json:"estimated_bps"`
	Method        string  `json:"method"`
}

// Estimate methods.
const (
	EstimateBase          = "base"
	EstimateParticipation = "participation"
	EstimateLargeOrder    = "large_order"
)

// SlippageModel computes fill prices from quotes. It holds no state beyond
// its configuration and is safe for concurrent use.
type SlippageModel struct {
	cfg SlippageConfig
}

// NewSlippageModel returns a model for cfg. A non-positive MinTick defaults
// to one cent and a non-positive ContractMultiplier to the option multiplier.
func NewSlippageModel(cfg SlippageConfig) *SlippageModel {
	if cfg.MinTick <= 0 {
		cfg.MinTick = 0.01
	}
	if cfg.ContractMultiplier <= 0 {
		cfg.ContractMultiplier = domain.DefaultContractMultiplier
	}
	if cfg.LargeOrderMultiplier < 1 {
		cfg.LargeOrderMultiplier = 1
	}
	return &SlippageModel{cfg: cfg}
}

// Config returns the model configuration.
func (m *SlippageModel) Config() SlippageConfig { return m.cfg }

// reference picks the price slippage is applied against. Pessimistic mode
// uses the touch (ask for buys, bid for sells) and falls back to the mid when
// that side is empty.
func (m *SlippageModel) reference(side domain.OrderSide, q domain.Quote) float64 {
	mid := q.Mid()
	if !m.cfg.Pessimistic {
		return mid
	}
	if side == domain.OrderSideBuy {
		if q.Ask > 0 {
			return q.Ask
		}
		return mid
	}
	if q.Bid > 0 {
		return q.Bid
	}
	return mid
}

// Fill returns the simulated execution price for side against q. Buys move
// the reference up by Bps basis points and sells move it down. The result is
// never below MinTick.
func (m *SlippageModel) Fill(side domain.OrderSide, q domain.Quote) SlippageResult {
	ref := decimal.NewFromFloat(m.reference(side, q))
	amount := ref.Mul(decimal.NewFromInt(int64(m.cfg.Bps))).Div(decimal.NewFromInt(10000))

	price := ref.Add(amount)
	if side == domain.OrderSideSell {
		price = ref.Sub(amount)
	}

	// Round away from the trader so a fill never improves on the reference.
	tick := decimal.NewFromFloat(m.cfg.MinTick)
	if side == domain.OrderSideSell {
		price = price.RoundFloor(4)
	} else {
		price = price.RoundCeil(4)
	}
	if price.LessThan(tick) {
		price = tick
	}

	return SlippageResult{
		FillPrice:      price.InexactFloat64(),
		SlippageBps:    m.cfg.Bps,
		SlippageAmount: amount.Round(4).InexactFloat64(),
		Reference:      ref.InexactFloat64(),
	}
}

// Estimate scales the base slippage for order size. With a known average
// daily volume, slippage grows linearly with the participation rate
// (qty × multiplier ÷ adv). Without one, orders above LargeOrderQty get a
// flat multiplier.
func (m *SlippageModel) Estimate(qty int64, adv float64) Estimate {
	base := float64(m.cfg.Bps)
	est := Estimate{Qty: qty, Bps: base, Method: EstimateBase}

	switch {
	case adv > 0:
		participation := float64(qty) * m.cfg.ContractMultiplier / adv
		est.ADV = adv
		est.Participation = roundTo(participation, 6)
		est.Bps = roundTo(base*(1+participation*m.cfg.ImpactFactor), 4)
		est.Method = EstimateParticipation
	case m.cfg.LargeOrderQty > 0 && qty > m.cfg.LargeOrderQty:
		est.Bps = base * m.cfg.LargeOrderMultiplier
		est.Method = EstimateLargeOrder
	}
	return est
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
