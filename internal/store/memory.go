package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"papertrade/internal/domain"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// memState is the full data set. Transactions work on a copy and swap it in
// on commit.
type memState struct {
	accounts  map[string]domain.Account
	dayTrades map[string][]domain.DayTrade
	positions map[string]map[string]domain.Position
	trades    map[string]domain.Trade
	orders    map[string]domain.Order
	fills     []domain.Fill
	audit     []domain.AuditEntry
}

func newMemState() *memState {
	return &memState{
		accounts:  make(map[string]domain.Account),
		dayTrades: make(map[string][]domain.DayTrade),
		positions: make(map[string]map[string]domain.Position),
		trades:    make(map[string]domain.Trade),
		orders:    make(map[string]domain.Order),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.dayTrades {
		c.dayTrades[k] = append([]domain.DayTrade(nil), v...)
	}
	for k, v := range s.positions {
		m := make(map[string]domain.Position, len(v))
		for sym, p := range v {
			m[sym] = p
		}
		c.positions[k] = m
	}
	for k, v := range s.trades {
		c.trades[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	c.fills = append([]domain.Fill(nil), s.fills...)
	c.audit = append([]domain.AuditEntry(nil), s.audit...)
	return c
}

// MemoryStore is an in-process Store used by tests and by the server when no
// database path is configured. It is meant for development only: every
// transaction copies the whole data set, fills and audit history included,
// and transactions for all accounts are serialized. Use SQLiteStore for
// long-running sessions.
type MemoryStore struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	state *memState
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// WithTx runs fn against a private copy of the data and publishes the copy
// only if fn succeeds. Transactions are serialized across accounts and cost
// time proportional to the total stored history.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	work := m.state.clone()
	m.mu.RUnlock()

	if err := fn(&memTx{state: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = work
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) read(fn func(tx *memTx) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{state: m.state})
}

func (m *MemoryStore) write(fn func(tx *memTx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{state: m.state})
}

func (m *MemoryStore) GetAccount(ctx context.Context, id string) (acct *domain.Account, err error) {
	err = m.read(func(tx *memTx) error {
		acct, err = tx.GetAccount(ctx, id)
		return err
	})
	return acct, err
}

func (m *MemoryStore) FindAccount(ctx context.Context, userID, instance string) (acct *domain.Account, err error) {
	err = m.read(func(tx *memTx) error {
		acct, err = tx.FindAccount(ctx, userID, instance)
		return err
	})
	return acct, err
}

func (m *MemoryStore) SaveAccount(ctx context.Context, acct *domain.Account) error {
	return m.write(func(tx *memTx) error { return tx.SaveAccount(ctx, acct) })
}

func (m *MemoryStore) AppendDayTrade(ctx context.Context, accountID string, dt domain.DayTrade) error {
	return m.write(func(tx *memTx) error { return tx.AppendDayTrade(ctx, accountID, dt) })
}

func (m *MemoryStore) ListPositions(ctx context.Context, accountID string) (out []domain.Position, err error) {
	err = m.read(func(tx *memTx) error {
		out, err = tx.ListPositions(ctx, accountID)
		return err
	})
	return out, err
}

func (m *MemoryStore) SavePosition(ctx context.Context, pos *domain.Position) error {
	return m.write(func(tx *memTx) error { return tx.SavePosition(ctx, pos) })
}

func (m *MemoryStore) DeletePosition(ctx context.Context, accountID, symbol string) error {
	return m.write(func(tx *memTx) error { return tx.DeletePosition(ctx, accountID, symbol) })
}

func (m *MemoryStore) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	return m.write(func(tx *memTx) error { return tx.SaveTrade(ctx, trade) })
}

func (m *MemoryStore) ListTrades(ctx context.Context, accountID string) (out []domain.Trade, err error) {
	err = m.read(func(tx *memTx) error {
		out, err = tx.ListTrades(ctx, accountID)
		return err
	})
	return out, err
}

func (m *MemoryStore) SaveOrder(ctx context.Context, order *domain.Order) error {
	return m.write(func(tx *memTx) error { return tx.SaveOrder(ctx, order) })
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (o *domain.Order, err error) {
	err = m.read(func(tx *memTx) error {
		o, err = tx.GetOrder(ctx, id)
		return err
	})
	return o, err
}

func (m *MemoryStore) ListOrders(ctx context.Context, accountID string) (out []domain.Order, err error) {
	err = m.read(func(tx *memTx) error {
		out, err = tx.ListOrders(ctx, accountID)
		return err
	})
	return out, err
}

func (m *MemoryStore) SaveFill(ctx context.Context, fill *domain.Fill) error {
	return m.write(func(tx *memTx) error { return tx.SaveFill(ctx, fill) })
}

func (m *MemoryStore) ListFills(ctx context.Context, accountID string, start, end time.Time) (out []domain.Fill, err error) {
	err = m.read(func(tx *memTx) error {
		out, err = tx.ListFills(ctx, accountID, start, end)
		return err
	})
	return out, err
}

func (m *MemoryStore) AppendAudit(ctx context.Context, entry *domain.AuditEntry) error {
	return m.write(func(tx *memTx) error { return tx.AppendAudit(ctx, entry) })
}

func (m *MemoryStore) ListAudit(ctx context.Context, accountID string, start, end time.Time) (out []domain.AuditEntry, err error) {
	err = m.read(func(tx *memTx) error {
		out, err = tx.ListAudit(ctx, accountID, start, end)
		return err
	})
	return out, err
}

// ---------------------------------------------------------------------------
// memTx operates on a memState without locking.
// ---------------------------------------------------------------------------

type memTx struct {
	state *memState
}

func (t *memTx) GetAccount(_ context.Context, id string) (*domain.Account, error) {
	a, ok := t.state.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	a.DayTrades = append([]domain.DayTrade(nil), t.state.dayTrades[id]...)
	return &a, nil
}

func (t *memTx) FindAccount(ctx context.Context, userID, instance string) (*domain.Account, error) {
	for id, a := range t.state.accounts {
		if a.UserID == userID && a.Instance == instance {
			return t.GetAccount(ctx, id)
		}
	}
	return nil, fmt.Errorf("account for %s/%s: %w", userID, instance, domain.ErrNotFound)
}

func (t *memTx) SaveAccount(_ context.Context, acct *domain.Account) error {
	a := *acct
	a.DayTrades = nil
	t.state.accounts[a.ID] = a
	return nil
}

func (t *memTx) AppendDayTrade(_ context.Context, accountID string, dt domain.DayTrade) error {
	if _, ok := t.state.accounts[accountID]; !ok {
		return fmt.Errorf("account %s: %w", accountID, domain.ErrNotFound)
	}
	t.state.dayTrades[accountID] = append(t.state.dayTrades[accountID], dt)
	return nil
}

func (t *memTx) ListPositions(_ context.Context, accountID string) ([]domain.Position, error) {
	m := t.state.positions[accountID]
	out := make([]domain.Position, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (t *memTx) SavePosition(_ context.Context, pos *domain.Position) error {
	m, ok := t.state.positions[pos.AccountID]
	if !ok {
		m = make(map[string]domain.Position)
		t.state.positions[pos.AccountID] = m
	}
	m[pos.Symbol] = *pos
	return nil
}

func (t *memTx) DeletePosition(_ context.Context, accountID, symbol string) error {
	delete(t.state.positions[accountID], symbol)
	return nil
}

func (t *memTx) SaveTrade(_ context.Context, trade *domain.Trade) error {
	t.state.trades[trade.ID] = *trade
	return nil
}

func (t *memTx) ListTrades(_ context.Context, accountID string) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, tr := range t.state.trades {
		if tr.AccountID == accountID {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (t *memTx) SaveOrder(_ context.Context, order *domain.Order) error {
	if _, dup := t.state.orders[order.ID]; dup {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	t.state.orders[order.ID] = *order
	return nil
}

func (t *memTx) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return &o, nil
}

func (t *memTx) ListOrders(_ context.Context, accountID string) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range t.state.orders {
		if o.AccountID == accountID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memTx) SaveFill(_ context.Context, fill *domain.Fill) error {
	t.state.fills = append(t.state.fills, *fill)
	return nil
}

func (t *memTx) ListFills(_ context.Context, accountID string, start, end time.Time) ([]domain.Fill, error) {
	var out []domain.Fill
	for _, f := range t.state.fills {
		if (accountID == "" || f.AccountID == accountID) && inRange(f.Timestamp, start, end) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (t *memTx) AppendAudit(_ context.Context, entry *domain.AuditEntry) error {
	t.state.audit = append(t.state.audit, *entry)
	return nil
}

func (t *memTx) ListAudit(_ context.Context, accountID string, start, end time.Time) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range t.state.audit {
		if (accountID == "" || e.AccountID == accountID) && inRange(e.Time, start, end) {
			out = append(out, e)
		}
	}
	return out, nil
}

// inRange reports start <= ts < end. A zero end is unbounded.
func inRange(ts, start, end time.Time) bool {
	if ts.Before(start) {
		return false
	}
	return end.IsZero() || ts.Before(end)
}
