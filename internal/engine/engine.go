// Package engine is the paper-trading ledger: it gates orders through the
// risk manager and PDT limiter, prices them with the simulated broker and
// applies the resulting fill to the account's cash, positions and day-trade
// history.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"papertrade/internal/audit"
	"papertrade/internal/broker"
	"papertrade/internal/domain"
	"papertrade/internal/store"
	"papertrade/internal/util"
)

// Engine is the account ledger. All mutations of one account are serialized;
// different accounts proceed in parallel.
type Engine struct {
	store  store.Store
	broker broker.Broker
	risk   *RiskManager
	pdt    *PDTLimiter

	feed           *audit.Feed
	metrics        *Metrics
	log            *slog.Logger
	now            func() time.Time
	startingEquity float64
	multiplier     float64

	locks *keyedMutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the decision logger.
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

// WithFeed publishes every audit entry to f after it is persisted.
func WithFeed(f *audit.Feed) Option { return func(e *Engine) { e.feed = f } }

// WithMetrics records order outcomes on m.
func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithStartingEquity sets the cash new accounts are created with.
func WithStartingEquity(v float64) Option { return func(e *Engine) { e.startingEquity = v } }

// NewEngine creates an Engine wired with the given dependencies. The PDT
// limiter is taken from the risk manager.
func NewEngine(st store.Store, b broker.Broker, risk *RiskManager, opts ...Option) *Engine {
	e := &Engine{
		store:          st,
		broker:         b,
		risk:           risk,
		log:            util.Discard(),
		now:            time.Now,
		startingEquity: 100000,
		locks:          newKeyedMutex(),
	}
	if risk != nil {
		e.pdt = risk.pdt
		e.multiplier = risk.cfg.ContractMultiplier
	}
	if e.multiplier <= 0 {
		e.multiplier = domain.DefaultContractMultiplier
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With("component", "ledger")
	return e
}

// Multiplier returns the contract multiplier used for notional values.
func (e *Engine) Multiplier() float64 { return e.multiplier }

// StartingEquity returns the cash new accounts receive.
func (e *Engine) StartingEquity() float64 { return e.startingEquity }

// ---------------------------------------------------------------------------
// Accounts
// ---------------------------------------------------------------------------

// EnsureAccount returns the account for (userID, instance), creating it with
// the starting equity on first access.
func (e *Engine) EnsureAccount(ctx context.Context, userID, instance string) (*domain.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidOrder)
	}
	if instance == "" {
		instance = "default"
	}

	unlock := e.locks.Lock("user:" + userID + "/" + instance)
	defer unlock()

	acct, err := e.store.FindAccount(ctx, userID, instance)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("loading account for %s/%s: %w", userID, instance, err)
	}

	now := e.now()
	acct = &domain.Account{
		ID:          uuid.NewString(),
		UserID:      userID,
		Instance:    instance,
		Cash:        e.startingEquity,
		BuyingPower: e.startingEquity,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.SaveAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("creating account for %s/%s: %w", userID, instance, err)
	}
	e.metrics.accountCreated()
	e.log.Info("account created", "account", acct.ID, "user", userID, "instance", instance, "cash", acct.Cash)
	return acct, nil
}

// Positions returns the open positions of an account.
func (e *Engine) Positions(ctx context.Context, accountID string) ([]domain.Position, error) {
	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return e.store.ListPositions(ctx, accountID)
}

// AccountSummary derives equity and P&L for an account:
//
//	equity    = cash + Σ (current − avg) × qty × multiplier
//	total P&L = equity − starting equity
func (e *Engine) AccountSummary(ctx context.Context, accountID string) (*domain.AccountSummary, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	positions, err := e.store.ListPositions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("loading positions for %s: %w", accountID, err)
	}

	unrealized := UnrealizedPnL(positions, e.multiplier)
	equity := domain.AddMoney(acct.Cash, unrealized)
	return &domain.AccountSummary{
		Account:       *acct,
		Positions:     positions,
		Equity:        equity,
		UnrealizedPnL: unrealized,
		TotalPnL:      domain.AddMoney(equity, -e.startingEquity),
		PositionCount: len(positions),
	}, nil
}

// PDTStatus reports the account's day-trade window.
func (e *Engine) PDTStatus(ctx context.Context, accountID string) (*domain.PDTStatus, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if e.pdt == nil {
		return nil, errors.New("pdt limiter not configured")
	}
	st := e.pdt.Status(acct.DayTrades)
	return &st, nil
}

// MarkToMarket updates current price and market value of the account's
// positions from quotes keyed by symbol. Positions without a usable quote
// are left unchanged. It returns the updated position list.
func (e *Engine) MarkToMarket(ctx context.Context, accountID string, quotes map[string]domain.Quote) ([]domain.Position, error) {
	unlock := e.locks.Lock(accountID)
	defer unlock()

	if _, err := e.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	now := e.now()
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		positions, err := tx.ListPositions(ctx, accountID)
		if err != nil {
			return err
		}
		for i := range positions {
			p := &positions[i]
			q, ok := quotes[p.Symbol]
			if !ok || q.Validate() != nil {
				continue
			}
			p.CurrentPrice = q.Mid()
			p.MarketValue = domain.Notional(p.CurrentPrice, p.Qty, e.multiplier)
			p.UpdatedAt = now
			if err := tx.SavePosition(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("marking %s to market: %w", accountID, err)
	}
	return e.store.ListPositions(ctx, accountID)
}

// ---------------------------------------------------------------------------
// Order submission
// ---------------------------------------------------------------------------

// referencePrice is the price used to cost an order before execution: the
// last price, or the mid when no last price is known.
func referencePrice(q domain.Quote) float64 {
	if q.Price > 0 {
		return q.Price
	}
	return q.Mid()
}

// riskPrice is the price an order is costed at by the risk checks. Buys use
// the ask when it is above the reference so the check sees what a touch fill
// would cost.
func riskPrice(side domain.OrderSide, q domain.Quote) float64 {
	ref := referencePrice(q)
	if side == domain.OrderSideBuy && q.Ask > ref {
		return q.Ask
	}
	return ref
}

// submission carries one order through the ledger.
type submission struct {
	req   domain.OrderRequest
	quote domain.Quote
	state domain.OrderState
	start time.Time
}

// SubmitOrder validates req against the account's limits, simulates a fill
// against q and applies it. A quote that names a symbol must name the order's
// symbol. Business rejections come back as a rejected
// Result with a nil error. Errors are returned for invalid input
// (domain.ErrInvalidOrder, domain.ErrInvalidQuote) and for failed reads,
// which the caller may retry. A failed write is rolled back and reported as
// a rejection.
func (e *Engine) SubmitOrder(ctx context.Context, req *domain.OrderRequest, q domain.Quote) (*domain.Result, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", domain.ErrInvalidOrder)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	sub := &submission{req: *req, quote: q, state: domain.OrderStateRequested, start: time.Now()}
	sub.req.Symbol = strings.ToUpper(strings.TrimSpace(sub.req.Symbol))
	if qs := strings.TrimSpace(q.Symbol); qs != "" && !strings.EqualFold(qs, sub.req.Symbol) {
		return nil, fmt.Errorf("%w: quote for %s cannot price an order in %s", domain.ErrInvalidQuote, qs, sub.req.Symbol)
	}
	defer e.metrics.observeLatency(sub.start)

	unlock := e.locks.Lock(sub.req.AccountID)
	defer unlock()

	// 1. Account.
	acct, err := e.store.GetAccount(ctx, sub.req.AccountID)
	if errors.Is(err, domain.ErrNotFound) {
		return e.reject(ctx, sub, CodeAccountNotFound, "account not found", nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", sub.req.AccountID, err)
	}

	// 2. Positions.
	positions, err := e.store.ListPositions(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("loading positions for %s: %w", acct.ID, err)
	}

	// 3. Risk.
	decision := e.risk.CheckOrder(acct, ProposedOrder{
		Side:   sub.req.Side,
		Symbol: sub.req.Symbol,
		Qty:    sub.req.Qty,
		Price:  riskPrice(sub.req.Side, q),
	}, positions, sub.req.IsDayTrade)
	if !decision.Allowed {
		return e.reject(ctx, sub, decision.Code, decision.Reason, decision.Values), nil
	}
	if err := e.advance(sub, domain.OrderStateRiskChecked); err != nil {
		return nil, err
	}

	var held *domain.Position
	for i := range positions {
		if positions[i].Symbol == sub.req.Symbol {
			held = &positions[i]
			break
		}
	}
	if sub.req.Side == domain.OrderSideSell {
		if held == nil {
			return e.reject(ctx, sub, CodeNoPosition,
				fmt.Sprintf("No open position in %s to sell", sub.req.Symbol), nil), nil
		}
		if sub.req.Qty > held.Qty {
			return e.reject(ctx, sub, CodeNoPosition,
				fmt.Sprintf("Sell quantity %d exceeds position quantity %d in %s", sub.req.Qty, held.Qty, sub.req.Symbol),
				map[string]float64{"quantity": float64(sub.req.Qty), "position_quantity": float64(held.Qty)}), nil
		}
	}

	// 4-5. Fill and limit guard.
	exec, err := e.broker.Execute(ctx, &sub.req, q)
	if err != nil {
		return nil, fmt.Errorf("executing %s %s: %w", sub.req.Side, sub.req.Symbol, err)
	}
	if !exec.Executable() {
		values := map[string]float64{"fill_price": exec.Price}
		if sub.req.LimitPrice != nil {
			values["limit_price"] = *sub.req.LimitPrice
		}
		return e.reject(ctx, sub, CodeLimitPrice, exec.Reason, values), nil
	}
	if sub.req.Side == domain.OrderSideBuy {
		if cost := domain.Notional(exec.Price, sub.req.Qty, e.multiplier); cost > acct.BuyingPower {
			return e.reject(ctx, sub, CodeBuyingPower,
				fmt.Sprintf("Insufficient buying power: fill cost $%.2f exceeds buying power $%.2f", cost, acct.BuyingPower),
				map[string]float64{"cost": cost, "buying_power": acct.BuyingPower, "fill_price": exec.Price}), nil
		}
	}

	// 6-9. Persist.
	res, entry, err := e.apply(ctx, sub, acct, held, exec)
	if err != nil {
		return e.reject(ctx, sub, CodeStorage, "storage failure: "+err.Error(), nil), nil
	}
	if err := e.advance(sub, domain.OrderStateFilled); err != nil {
		return nil, err
	}

	if e.feed != nil {
		e.feed.Publish(*entry)
	}
	e.metrics.observeFill(string(sub.req.Side), exec.SlippageBps, entry.Values["notional"])
	e.log.Info("order decision",
		"account", acct.ID,
		"symbol", sub.req.Symbol,
		"side", sub.req.Side,
		"qty", sub.req.Qty,
		"status", domain.ResultFilled,
		"fill_price", exec.Price,
		"slippage_bps", exec.SlippageBps,
		"order", res.Order.ID,
		"day_trade", sub.req.IsDayTrade,
	)
	return res, nil
}

func (e *Engine) advance(sub *submission, next domain.OrderState) error {
	s, err := sub.state.Advance(next)
	if err != nil {
		return err
	}
	sub.state = s
	return nil
}

// apply writes trade, order, fill, account, position, day trade and audit
// entry in one transaction.
func (e *Engine) apply(ctx context.Context, sub *submission, acct *domain.Account, held *domain.Position, exec *broker.Execution) (*domain.Result, *domain.AuditEntry, error) {
	req := &sub.req
	now := e.now()
	notional := domain.Notional(exec.Price, req.Qty, e.multiplier)

	trade := &domain.Trade{
		ID:         uuid.NewString(),
		AccountID:  acct.ID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Qty:        req.Qty,
		IsDayTrade: req.IsDayTrade,
	}
	var dayTrade *domain.DayTrade
	switch req.Side {
	case domain.OrderSideBuy:
		trade.Status = domain.TradeStatusOpen
		trade.EntryPrice = exec.Price
		trade.OpenedAt = now
	case domain.OrderSideSell:
		closed := now
		trade.Status = domain.TradeStatusClosed
		trade.EntryPrice = held.AvgPrice
		trade.ExitPrice = exec.Price
		trade.RealizedPnL = domain.Notional(exec.Price-held.AvgPrice, req.Qty, e.multiplier)
		trade.OpenedAt = held.OpenedAt
		trade.ClosedAt = &closed
		if req.IsDayTrade {
			dayTrade = &domain.DayTrade{
				TradeID:       trade.ID,
				Symbol:        req.Symbol,
				OpenTime:      held.OpenedAt,
				CloseTime:     now,
				PnL:           trade.RealizedPnL,
				SchemaVersion: domain.DayTradeSchemaVersion,
			}
		}
	}

	order := &domain.Order{
		ID:             uuid.NewString(),
		AccountID:      acct.ID,
		TradeID:        trade.ID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type(),
		Qty:            req.Qty,
		LimitPrice:     req.LimitPrice,
		Status:         domain.OrderStatusFilled,
		FilledQty:      req.Qty,
		FilledAvgPrice: exec.Price,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	fill := &domain.Fill{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		TradeID:     trade.ID,
		AccountID:   acct.ID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Qty:         req.Qty,
		Price:       exec.Price,
		Slippage:    exec.Slippage,
		SlippageBps: exec.SlippageBps,
		Fee:         exec.Fee,
		Timestamp:   now,
	}

	updated := *acct
	if req.Side == domain.OrderSideBuy {
		updated.Cash = domain.AddMoney(acct.Cash, -notional)
		updated.BuyingPower = domain.AddMoney(acct.BuyingPower, -notional)
	} else {
		updated.Cash = domain.AddMoney(acct.Cash, notional)
		updated.BuyingPower = domain.AddMoney(acct.BuyingPower, notional)
	}
	updated.UpdatedAt = now

	entry := audit.NewEntry(domain.ActionOrderFilled, req, now)
	entry.OrderID = order.ID
	entry.TradeID = trade.ID
	entry.Price = exec.Price
	entry.Values = map[string]float64{
		"notional":        notional,
		"slippage":        exec.Slippage,
		"slippage_bps":    float64(exec.SlippageBps),
		"cash_before":     acct.Cash,
		"cash_after":      updated.Cash,
		"reference_price": referencePrice(sub.quote),
	}
	if req.Side == domain.OrderSideSell {
		entry.Values["realized_pnl"] = trade.RealizedPnL
	}

	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.SaveTrade(ctx, trade); err != nil {
			return fmt.Errorf("saving trade: %w", err)
		}
		if err := tx.SaveOrder(ctx, order); err != nil {
			return fmt.Errorf("saving order: %w", err)
		}
		if err := tx.SaveFill(ctx, fill); err != nil {
			return fmt.Errorf("saving fill: %w", err)
		}
		if err := tx.SaveAccount(ctx, &updated); err != nil {
			return fmt.Errorf("updating account: %w", err)
		}
		if err := e.applyPosition(ctx, tx, acct.ID, held, req, exec.Price, now); err != nil {
			return err
		}
		if dayTrade != nil {
			if err := tx.AppendDayTrade(ctx, acct.ID, *dayTrade); err != nil {
				return fmt.Errorf("recording day trade: %w", err)
			}
		}
		if err := tx.AppendAudit(ctx, entry); err != nil {
			return fmt.Errorf("writing audit entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return &domain.Result{Status: domain.ResultFilled, Order: order, Fill: fill}, entry, nil
}

// applyPosition upserts or closes the position touched by a fill. Buys
// re-average the entry price; sells keep it and delete the row once the
// quantity reaches zero.
func (e *Engine) applyPosition(ctx context.Context, tx store.Tx, accountID string, held *domain.Position, req *domain.OrderRequest, price float64, now time.Time) error {
	if req.Side == domain.OrderSideBuy {
		pos := domain.Position{
			AccountID:  accountID,
			Symbol:     req.Symbol,
			Underlying: domain.UnderlyingOf(req.Symbol),
			Qty:        req.Qty,
			AvgPrice:   price,
			OpenedAt:   now,
		}
		if held != nil {
			pos = *held
			pos.AvgPrice = domain.WeightedAverage(held.Qty, held.AvgPrice, req.Qty, price)
			pos.Qty = held.Qty + req.Qty
		}
		pos.CurrentPrice = price
		pos.MarketValue = domain.Notional(price, pos.Qty, e.multiplier)
		pos.UpdatedAt = now
		if err := tx.SavePosition(ctx, &pos); err != nil {
			return fmt.Errorf("saving position: %w", err)
		}
		return nil
	}

	remaining := held.Qty - req.Qty
	if remaining <= 0 {
		if err := tx.DeletePosition(ctx, accountID, req.Symbol); err != nil {
			return fmt.Errorf("closing position: %w", err)
		}
		return nil
	}
	pos := *held
	pos.Qty = remaining
	pos.CurrentPrice = price
	pos.MarketValue = domain.Notional(price, remaining, e.multiplier)
	pos.UpdatedAt = now
	if err := tx.SavePosition(ctx, &pos); err != nil {
		return fmt.Errorf("saving position: %w", err)
	}
	return nil
}

// reject records a rejection outside any transaction and returns the
// rejected result. A failure to write the audit entry is logged, not
// returned.
func (e *Engine) reject(ctx context.Context, sub *submission, code, reason string, values map[string]float64) *domain.Result {
	if s, err := sub.state.Advance(domain.OrderStateRejected); err == nil {
		sub.state = s
	}

	entry := audit.NewEntry(domain.ActionOrderRejected, &sub.req, e.now())
	entry.Price = referencePrice(sub.quote)
	entry.Reason = reason
	entry.Values = values
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		e.log.Error("writing rejection audit entry", "account", sub.req.AccountID, "error", err)
	} else if e.feed != nil {
		e.feed.Publish(*entry)
	}

	e.metrics.observeReject(string(sub.req.Side), code)
	e.log.Info("order decision",
		"account", sub.req.AccountID,
		"symbol", sub.req.Symbol,
		"side", sub.req.Side,
		"qty", sub.req.Qty,
		"status", domain.ResultRejected,
		"code", code,
		"reason", reason,
	)
	return domain.Rejected(reason)
}
