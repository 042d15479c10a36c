package broker

import (
	"context"
	"fmt"

	"papertrade/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker fills every order completely and immediately at the
// slippage-adjusted quote price, commission free. It holds no positions or orders; the ledger
// owns all state.
type SimulatorBroker struct {
	model *SlippageModel
}

// NewSimulatorBroker creates a SimulatorBroker that prices fills with model.
func NewSimulatorBroker(model *SlippageModel) *SimulatorBroker {
	return &SimulatorBroker{model: model}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// Model returns the slippage model used for fills.
func (b *SimulatorBroker) Model() *SlippageModel { return b.model }

// Execute computes the fill price for req. A limit price is a hard bound on
// acceptable execution: a buy filling above it, or a sell filling below it,
// comes back with a Reason instead of an error.
func (b *SimulatorBroker) Execute(ctx context.Context, req *domain.OrderRequest, q domain.Quote) (*Execution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	res := b.model.Fill(req.Side, q)
	exec := &Execution{
		Price:       res.FillPrice,
		Slippage:    res.SlippageAmount,
		SlippageBps: res.SlippageBps,
	}

	if req.LimitPrice != nil {
		limit := *req.LimitPrice
		switch {
		case req.Side == domain.OrderSideBuy && exec.Price > limit:
			exec.Reason = fmt.Sprintf("Fill price $%.2f exceeds buy limit $%.2f", exec.Price, limit)
		case req.Side == domain.OrderSideSell && exec.Price < limit:
			exec.Reason = fmt.Sprintf("Fill price $%.2f is below sell limit $%.2f", exec.Price, limit)
		}
	}
	return exec, nil
}
