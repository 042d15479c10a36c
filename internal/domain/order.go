package domain

import (
	"fmt"
	"math"
	"strings"
)

// OrderState is the in-flight lifecycle of a single submission:
//
//	requested -> risk_checked -> filled
//	requested -> rejected
//	risk_checked -> rejected
//
// There is no pending, partially-filled or cancelled state.
type OrderState string

const (
	OrderStateRequested   OrderState = "requested"
	OrderStateRiskChecked OrderState = "risk_checked"
	OrderStateFilled      OrderState = "filled"
	OrderStateRejected    OrderState = "rejected"
)

var orderTransitions = map[OrderState][]OrderState{
	OrderStateRequested:   {OrderStateRiskChecked, OrderStateRejected},
	OrderStateRiskChecked: {OrderStateFilled, OrderStateRejected},
}

// CanTransition reports whether moving from s to next is allowed.
func (s OrderState) CanTransition(next OrderState) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a final state.
func (s OrderState) Terminal() bool {
	return s == OrderStateFilled || s == OrderStateRejected
}

// Advance returns next if the transition is legal.
func (s OrderState) Advance(next OrderState) (OrderState, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s, next)
	}
	return next, nil
}

// Validate checks the invariants of an order request. Violations wrap
// ErrInvalidOrder.
func (r *OrderRequest) Validate() error {
	if strings.TrimSpace(r.AccountID) == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidOrder)
	}
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidOrder)
	}
	if !r.Side.Valid() {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, r.Side)
	}
	if r.Qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrInvalidOrder, r.Qty)
	}
	if r.LimitPrice != nil && (!(*r.LimitPrice > 0) || math.IsInf(*r.LimitPrice, 1)) {
		return fmt.Errorf("%w: limit price must be positive and finite, got %v", ErrInvalidOrder, *r.LimitPrice)
	}
	return nil
}

// Type returns limit when a limit price is set, market otherwise.
func (r *OrderRequest) Type() OrderType {
	if r.LimitPrice != nil {
		return OrderTypeLimit
	}
	return OrderTypeMarket
}

// Validate checks that a quote carries a usable, finite, non-negative price.
func (q Quote) Validate() error {
	for _, v := range []float64{q.Bid, q.Ask, q.Price} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite price for %s (bid=%v ask=%v last=%v)", ErrInvalidQuote, q.Symbol, q.Bid, q.Ask, q.Price)
		}
	}
	if q.Bid < 0 || q.Ask < 0 || q.Price < 0 {
		return fmt.Errorf("%w: negative price (bid=%.4f ask=%.4f last=%.4f)", ErrInvalidQuote, q.Bid, q.Ask, q.Price)
	}
	if q.Mid() <= 0 {
		return fmt.Errorf("%w: no usable price for %s", ErrInvalidQuote, q.Symbol)
	}
	return nil
}
