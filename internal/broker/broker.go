// Package broker defines the Broker interface and the simulated execution
// used by the paper-trading ledger.
package broker

import (
	"context"

	"papertrade/internal/domain"
)

// Execution is the outcome of pricing an order against a quote. A non-empty
// Reason means the order cannot be executed at an acceptable price.
type Execution struct {
	Price       float64
	Slippage    float64
	SlippageBps int
	Fee         float64
	Reason      string
}

// Executable reports whether the order can fill.
func (e *Execution) Executable() bool { return e.Reason == "" }

// Broker abstracts order execution.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// Execute prices req against q. It never mutates account state.
	Execute(ctx context.Context, req *domain.OrderRequest, q domain.Quote) (*Execution, error)
}
