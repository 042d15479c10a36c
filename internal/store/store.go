// Package store defines storage interfaces for persisting and retrieving
// paper-trading state: accounts with their day-trade history, positions, the
// trade/order/fill audit trail and the decision log.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"papertrade/internal/domain"
)

// AccountStore persists accounts and their day-trade history.
type AccountStore interface {
	// GetAccount returns the account with its day-trade history, or
	// domain.ErrNotFound.
	GetAccount(ctx context.Context, id string) (*domain.Account, error)

	// FindAccount looks up the account for a (user, instance) pair, or
	// returns domain.ErrNotFound.
	FindAccount(ctx context.Context, userID, instance string) (*domain.Account, error)

	// SaveAccount inserts or updates an account row. Day trades are written
	// separately with AppendDayTrade.
	SaveAccount(ctx context.Context, acct *domain.Account) error

	// AppendDayTrade adds one entry to an account's day-trade history.
	AppendDayTrade(ctx context.Context, accountID string, dt domain.DayTrade) error
}

// PositionStore persists open positions, one per (account, symbol).
type PositionStore interface {
	// ListPositions returns all open positions for an account ordered by
	// symbol.
	ListPositions(ctx context.Context, accountID string) ([]domain.Position, error)

	// SavePosition inserts or updates the position for (account, symbol).
	SavePosition(ctx context.Context, pos *domain.Position) error

	// DeletePosition removes the position for (account, symbol).
	DeletePosition(ctx context.Context, accountID, symbol string) error
}

// TradeStore persists round-trip trade records.
type TradeStore interface {
	SaveTrade(ctx context.Context, trade *domain.Trade) error
	ListTrades(ctx context.Context, accountID string) ([]domain.Trade, error)
}

// OrderStore persists order records.
type OrderStore interface {
	// SaveOrder inserts a new order into storage.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders returns all orders for an account, oldest first.
	ListOrders(ctx context.Context, accountID string) ([]domain.Order, error)
}

// FillStore persists executions.
type FillStore interface {
	SaveFill(ctx context.Context, fill *domain.Fill) error

	// ListFills returns fills with start <= timestamp < end. An empty
	// accountID matches every account.
	ListFills(ctx context.Context, accountID string, start, end time.Time) ([]domain.Fill, error)
}

// AuditStore is the append-only decision log.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *domain.AuditEntry) error

	// ListAudit returns entries with start <= time < end. An empty accountID
	// matches every account.
	ListAudit(ctx context.Context, accountID string, start, end time.Time) ([]domain.AuditEntry, error)
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	AccountStore
	PositionStore
	TradeStore
	OrderStore
	FillStore
	AuditStore
}

// Store is the persistence port used by the ledger. Reads and single writes
// may be issued directly; multi-record writes go through WithTx so that they
// commit or roll back together.
type Store interface {
	Tx

	// WithTx runs fn inside a transaction. The transaction commits if fn
	// returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
}

// Open returns the store for sqlitePath: an in-memory store when the path is
// empty, otherwise a SQLite database, creating its directory if needed.
func Open(sqlitePath string) (Store, error) {
	if sqlitePath == "" {
		return NewMemoryStore(), nil
	}
	if sqlitePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite directory: %w", err)
		}
	}
	return NewSQLiteStore(sqlitePath)
}
