// Package domain defines the core types shared across the paper-trading
// engine: accounts, positions, the trade/order/fill audit trail, quotes,
// day-trade history and order results.
package domain

import "time"

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the persisted status of an order. Orders are only written
// once they have filled, so filled is the only status stored today.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
)

// TradeStatus is the status of a round-trip trade container.
type TradeStatus string

const (
	TradeStatusOpen   TradeStatus = "open"
	TradeStatusClosed TradeStatus = "closed"
)

// ResultStatus is the outcome of an order submission.
type ResultStatus string

const (
	ResultFilled   ResultStatus = "filled"
	ResultRejected ResultStatus = "rejected"
)

// Audit actions.
const (
	ActionOrderFilled   = "order_filled"
	ActionOrderRejected = "order_rejected"
)

// DayTradeSchemaVersion is the version tag written with every day-trade row.
const DayTradeSchemaVersion = 1

// Account is a paper-trading account, one per (user, instance). Cash and
// BuyingPower move together; there is no margin model.
type Account struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Instance    string     `json:"instance"`
	Cash        float64    `json:"cash"`
	BuyingPower float64    `json:"buying_power"`
	DayTrades   []DayTrade `json:"day_trades_history"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Position is an open long holding in a single symbol. Qty is always > 0
// while the position exists.
type Position struct {
	AccountID    string    `json:"account_id"`
	Symbol       string    `json:"symbol"`
	Underlying   string    `json:"underlying"`
	Qty          int64     `json:"quantity"`
	AvgPrice     float64   `json:"avg_price"`
	CurrentPrice float64   `json:"current_price"`
	MarketValue  float64   `json:"market_value"`
	OpenedAt     time.Time `json:"opened_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Trade is the round-trip container created for every filled order.
type Trade struct {
	ID          string      `json:"id"`
	AccountID   string      `json:"account_id"`
	Symbol      string      `json:"symbol"`
	Side        OrderSide   `json:"side"`
	Qty         int64       `json:"quantity"`
	EntryPrice  float64     `json:"entry_price"`
	ExitPrice   float64     `json:"exit_price,omitempty"`
	RealizedPnL float64     `json:"realized_pnl"`
	Status      TradeStatus `json:"status"`
	IsDayTrade  bool        `json:"is_day_trade"`
	OpenedAt    time.Time   `json:"opened_at"`
	ClosedAt    *time.Time  `json:"closed_at,omitempty"`
}

// Order is the instruction that produced a fill. Orders fill completely and
// synchronously, so a persisted order is always filled.
type Order struct {
	ID             string      `json:"id"`
	AccountID      string      `json:"account_id"`
	TradeID        string      `json:"trade_id"`
	Symbol         string      `json:"symbol"`
	Side           OrderSide   `json:"side"`
	Type           OrderType   `json:"type"`
	Qty            int64       `json:"quantity"`
	LimitPrice     *float64    `json:"limit_price,omitempty"`
	Status         OrderStatus `json:"status"`
	FilledQty      int64       `json:"filled_qty"`
	FilledAvgPrice float64     `json:"filled_avg_price"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Fill records the executed quantity, price and modelled slippage.
type Fill struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"order_id"`
	TradeID     string    `json:"trade_id"`
	AccountID   string    `json:"account_id"`
	Symbol      string    `json:"symbol"`
	Side        OrderSide `json:"side"`
	Qty         int64     `json:"quantity"`
	Price       float64   `json:"price"`
	Slippage    float64   `json:"slippage"`
	SlippageBps int       `json:"slippage_bps"`
	Fee         float64   `json:"fee"`
	Timestamp   time.Time `json:"timestamp"`
}

// DayTrade is one closed same-session round trip.
type DayTrade struct {
	TradeID       string    `json:"trade_id"`
	Symbol        string    `json:"symbol"`
	OpenTime      time.Time `json:"open_time"`
	CloseTime     time.Time `json:"close_time"`
	PnL           float64   `json:"pnl"`
	SchemaVersion int       `json:"schema_version"`
}

// Quote is an externally supplied market snapshot. Bid and Ask may both be
// zero for an illiquid instrument, in which case Price is used.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the bid/ask midpoint, or Price when both sides are zero.
func (q Quote) Mid() float64 {
	if q.Bid == 0 && q.Ask == 0 {
		return q.Price
	}
	return (q.Bid + q.Ask) / 2
}

// OrderRequest is the inbound order instruction.
type OrderRequest struct {
	AccountID  string    `json:"account_id"`
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Qty        int64     `json:"quantity"`
	LimitPrice *float64  `json:"limit_price,omitempty"`
	IsDayTrade bool      `json:"is_day_trade,omitempty"`
}

// Result is the outcome of Engine.SubmitOrder: either a fill with its order,
// or a rejection reason.
type Result struct {
	Status ResultStatus `json:"status"`
	Reason string       `json:"reason,omitempty"`
	Order  *Order       `json:"order,omitempty"`
	Fill   *Fill        `json:"fill,omitempty"`
}

// Filled reports whether the result carries a fill.
func (r *Result) Filled() bool { return r.Status == ResultFilled }

// Rejected builds a rejection result.
func Rejected(reason string) *Result {
	return &Result{Status: ResultRejected, Reason: reason}
}

// PDTStatus is the external view of the pattern-day-trader window.
type PDTStatus struct {
	DayTradeCount  int        `json:"day_trade_count"`
	MaxAllowed     int        `json:"max_allowed"`
	TradesInWindow []DayTrade `json:"trades_in_window"`
	CanDayTrade    bool       `json:"can_day_trade"`
	NextExpiry     *time.Time `json:"next_expiry"`
}

// AccountSummary is the read-side view of an account.
type AccountSummary struct {
	Account       Account    `json:"account"`
	Positions     []Position `json:"positions"`
	Equity        float64    `json:"equity"`
	UnrealizedPnL float64    `json:"unrealized_pnl"`
	TotalPnL      float64    `json:"total_pnl"`
	PositionCount int        `json:"position_count"`
}

// AuditEntry is an append-only record of an engine decision.
type AuditEntry struct {
	ID        string             `json:"id"`
	Time      time.Time          `json:"time"`
	Action    string             `json:"action"`
	AccountID string             `json:"account_id"`
	OrderID   string             `json:"order_id,omitempty"`
	TradeID   string             `json:"trade_id,omitempty"`
	Symbol    string             `json:"symbol"`
	Side      OrderSide          `json:"side"`
	Qty       int64              `json:"quantity"`
	Price     float64            `json:"price"`
	Reason    string             `json:"reason,omitempty"`
	Values    map[string]float64 `json:"values,omitempty"`
}
