package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"papertrade/internal/domain"
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// migrations are applied in order; PRAGMA user_version records how many have
// run.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		instance     TEXT NOT NULL,
		cash         REAL NOT NULL,
		buying_power REAL NOT NULL,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL,
		UNIQUE (user_id, instance)
	);
	CREATE TABLE IF NOT EXISTS day_trades (
		account_id     TEXT NOT NULL REFERENCES accounts(id),
		trade_id       TEXT NOT NULL,
		symbol         TEXT NOT NULL,
		open_time      TEXT NOT NULL,
		close_time     TEXT NOT NULL,
		pnl            REAL NOT NULL,
		schema_version INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_day_trades_account ON day_trades(account_id, close_time);
	CREATE TABLE IF NOT EXISTS positions (
		account_id    TEXT NOT NULL,
		symbol        TEXT NOT NULL,
		underlying    TEXT NOT NULL,
		quantity      INTEGER NOT NULL CHECK (quantity > 0),
		avg_price     REAL NOT NULL,
		current_price REAL NOT NULL,
		market_value  REAL NOT NULL,
		opened_at     TEXT NOT NULL,
		updated_at    TEXT NOT NULL,
		PRIMARY KEY (account_id, symbol)
	);
	CREATE TABLE IF NOT EXISTS trades (
		id           TEXT PRIMARY KEY,
		account_id   TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		side         TEXT NOT NULL,
		quantity     INTEGER NOT NULL,
		entry_price  REAL NOT NULL,
		exit_price   REAL NOT NULL,
		realized_pnl REAL NOT NULL,
		status       TEXT NOT NULL,
		is_day_trade INTEGER NOT NULL,
		opened_at    TEXT NOT NULL,
		closed_at    TEXT
	);
	CREATE TABLE IF NOT EXISTS orders (
		id               TEXT PRIMARY KEY,
		account_id       TEXT NOT NULL,
		trade_id         TEXT NOT NULL,
		symbol           TEXT NOT NULL,
		side             TEXT NOT NULL,
		type             TEXT NOT NULL,
		quantity         INTEGER NOT NULL,
		limit_price      REAL,
		status           TEXT NOT NULL,
		filled_qty       INTEGER NOT NULL,
		filled_avg_price REAL NOT NULL,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS fills (
		id           TEXT PRIMARY KEY,
		order_id     TEXT NOT NULL,
		trade_id     TEXT NOT NULL,
		account_id   TEXT NOT NULL,
		symbol       TEXT NOT NULL,
		side         TEXT NOT NULL,
		quantity     INTEGER NOT NULL,
		price        REAL NOT NULL,
		slippage     REAL NOT NULL,
		slippage_bps INTEGER NOT NULL,
		fee          REAL NOT NULL,
		timestamp    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fills_time ON fills(timestamp);
	CREATE TABLE IF NOT EXISTS audit_log (
		id         TEXT PRIMARY KEY,
		time       TEXT NOT NULL,
		action     TEXT NOT NULL,
		account_id TEXT NOT NULL,
		order_id   TEXT NOT NULL,
		trade_id   TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		side       TEXT NOT NULL,
		quantity   INTEGER NOT NULL,
		price      REAL NOT NULL,
		reason     TEXT NOT NULL,
		vals       TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_time ON audit_log(time);`,
}

// timeLayout sorts lexically in UTC.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) { return time.Parse(timeLayout, s) }

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore implements Store backed by a SQLite database.
type SQLiteStore struct {
	sqlOps
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// pending migrations and returns a ready-to-use SQLiteStore. ":memory:" opens
// a private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers and keeps :memory: databases
	// alive for the lifetime of the store.
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStoreFromDB(context.Background(), db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreFromDB wraps an already-open database and migrates it.
func NewSQLiteStoreFromDB(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{sqlOps: sqlOps{q: db}, db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating sqlite schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a database transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&sqlOps{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// sqlOps implements Tx over either the database or an open transaction.
type sqlOps struct {
	q querier
}

// ---------------------------------------------------------------------------
// AccountStore implementation
// ---------------------------------------------------------------------------

const accountColumns = "id, user_id, instance, cash, buying_power, created_at, updated_at"

func (o *sqlOps) scanAccount(ctx context.Context, row *sql.Row) (*domain.Account, error) {
	var (
		a                    domain.Account
		createdAt, updatedAt string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Instance, &a.Cash, &a.BuyingPower, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if a.DayTrades, err = o.listDayTrades(ctx, a.ID); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAccount returns the account and its day-trade history.
func (o *sqlOps) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	row := o.q.QueryRowContext(ctx, "SELECT "+accountColumns+" FROM accounts WHERE id = ?", id)
	a, err := o.scanAccount(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, domain.ErrNotFound)
	}
	return a, err
}

// FindAccount looks up the account for a (user, instance) pair.
func (o *sqlOps) FindAccount(ctx context.Context, userID, instance string) (*domain.Account, error) {
	row := o.q.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE user_id = ? AND instance = ?", userID, instance)
	a, err := o.scanAccount(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account for %s/%s: %w", userID, instance, domain.ErrNotFound)
	}
	return a, err
}

// SaveAccount upserts the account row.
func (o *sqlOps) SaveAccount(ctx context.Context, a *domain.Account) error {
	_, err := o.q.ExecContext(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cash = excluded.cash,
			buying_power = excluded.buying_power,
			updated_at = excluded.updated_at`,
		a.ID, a.UserID, a.Instance, a.Cash, a.BuyingPower, formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	return err
}

// AppendDayTrade inserts one day-trade row.
func (o *sqlOps) AppendDayTrade(ctx context.Context, accountID string, dt domain.DayTrade) error {
	_, err := o.q.ExecContext(ctx, `INSERT INTO day_trades
		(account_id, trade_id, symbol, open_time, close_time, pnl, schema_version)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		accountID, dt.TradeID, dt.Symbol, formatTime(dt.OpenTime), formatTime(dt.CloseTime), dt.PnL, dt.SchemaVersion)
	return err
}

func (o *sqlOps) listDayTrades(ctx context.Context, accountID string) ([]domain.DayTrade, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT trade_id, symbol, open_time, close_time, pnl, schema_version
		FROM day_trades WHERE account_id = ? ORDER BY close_time, rowid`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.DayTrade
	for rows.Next() {
		var (
			dt              domain.DayTrade
			openAt, closeAt string
		)
		if err := rows.Scan(&dt.TradeID, &dt.Symbol, &openAt, &closeAt, &dt.PnL, &dt.SchemaVersion); err != nil {
			return nil, err
		}
		if dt.OpenTime, err = parseTime(openAt); err != nil {
			return nil, err
		}
		if dt.CloseTime, err = parseTime(closeAt); err != nil {
			return nil, err
		}
		out = append(out, dt)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// PositionStore implementation
// ---------------------------------------------------------------------------

// ListPositions returns all open positions for an account.
func (o *sqlOps) ListPositions(ctx context.Context, accountID string) ([]domain.Position, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT account_id, symbol, underlying, quantity, avg_price,
		current_price, market_value, opened_at, updated_at
		FROM positions WHERE account_id = ? ORDER BY symbol`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var (
			p                   domain.Position
			openedAt, updatedAt string
		)
		if err := rows.Scan(&p.AccountID, &p.Symbol, &p.Underlying, &p.Qty, &p.AvgPrice,
			&p.CurrentPrice, &p.MarketValue, &openedAt, &updatedAt); err != nil {
			return nil, err
		}
		if p.OpenedAt, err = parseTime(openedAt); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SavePosition inserts or replaces the position for (account, symbol).
func (o *sqlOps) SavePosition(ctx context.Context, p *domain.Position) error {
	_, err := o.q.ExecContext(ctx, `INSERT INTO positions
		(account_id, symbol, underlying, quantity, avg_price, current_price, market_value, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_price = excluded.avg_price,
			current_price = excluded.current_price,
			market_value = excluded.market_value,
			updated_at = excluded.updated_at`,
		p.AccountID, p.Symbol, p.Underlying, p.Qty, p.AvgPrice, p.CurrentPrice, p.MarketValue,
		formatTime(p.OpenedAt), formatTime(p.UpdatedAt))
	return err
}

// DeletePosition removes the position for (account, symbol).
func (o *sqlOps) DeletePosition(ctx context.Context, accountID, symbol string) error {
	_, err := o.q.ExecContext(ctx, "DELETE FROM positions WHERE account_id = ? AND symbol = ?", accountID, symbol)
	return err
}

// ---------------------------------------------------------------------------
// TradeStore implementation
// ---------------------------------------------------------------------------

// SaveTrade inserts a trade record.
func (o *sqlOps) SaveTrade(ctx context.Context, t *domain.Trade) error {
	var closedAt sql.NullString
	if t.ClosedAt != nil {
		closedAt = sql.NullString{String: formatTime(*t.ClosedAt), Valid: true}
	}
	_, err := o.q.ExecContext(ctx, `INSERT INTO trades
		(id, account_id, symbol, side, quantity, entry_price, exit_price, realized_pnl, status, is_day_trade, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.AccountID, t.Symbol, string(t.Side), t.Qty, t.EntryPrice, t.ExitPrice, t.RealizedPnL,
		string(t.Status), t.IsDayTrade, formatTime(t.OpenedAt), closedAt)
	return err
}

// ListTrades returns all trades for an account, oldest first.
func (o *sqlOps) ListTrades(ctx context.Context, accountID string) ([]domain.Trade, error) {
	rows, err := o.q.QueryContext(ctx, `SELECT id, account_id, symbol, side, quantity, entry_price,
		exit_price, realized_pnl, status, is_day_trade, opened_at, closed_at
		FROM trades WHERE account_id = ? ORDER BY opened_at, rowid`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var (
			t        domain.Trade
			side     string
			status   string
			openedAt string
			closedAt sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Symbol, &side, &t.Qty, &t.EntryPrice,
			&t.ExitPrice, &t.RealizedPnL, &status, &t.IsDayTrade, &openedAt, &closedAt); err != nil {
			return nil, err
		}
		t.Side = domain.OrderSide(side)
		t.Status = domain.TradeStatus(status)
		if t.OpenedAt, err = parseTime(openedAt); err != nil {
			return nil, err
		}
		if closedAt.Valid {
			ct, err := parseTime(closedAt.String)
			if err != nil {
				return nil, err
			}
			t.ClosedAt = &ct
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

const orderColumns = `id, account_id, trade_id, symbol, side, type, quantity, limit_price,
	status, filled_qty, filled_avg_price, created_at, updated_at`

// SaveOrder inserts a new order into the database.
func (o *sqlOps) SaveOrder(ctx context.Context, ord *domain.Order) error {
	var limit sql.NullFloat64
	if ord.LimitPrice != nil {
		limit = sql.NullFloat64{Float64: *ord.LimitPrice, Valid: true}
	}
	_, err := o.q.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ord.ID, ord.AccountID, ord.TradeID, ord.Symbol, string(ord.Side), string(ord.Type), ord.Qty, limit,
		string(ord.Status), ord.FilledQty, ord.FilledAvgPrice, formatTime(ord.CreatedAt), formatTime(ord.UpdatedAt))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(r rowScanner) (*domain.Order, error) {
	var (
		ord                  domain.Order
		side, typ, status    string
		limit                sql.NullFloat64
		createdAt, updatedAt string
	)
	if err := r.Scan(&ord.ID, &ord.AccountID, &ord.TradeID, &ord.Symbol, &side, &typ, &ord.Qty, &limit,
		&status, &ord.FilledQty, &ord.FilledAvgPrice, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	ord.Side = domain.OrderSide(side)
	ord.Type = domain.OrderType(typ)
	ord.Status = domain.OrderStatus(status)
	if limit.Valid {
		v := limit.Float64
		ord.LimitPrice = &v
	}
	var err error
	if ord.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if ord.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &ord, nil
}

// GetOrder retrieves a single order by its ID.
func (o *sqlOps) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	ord, err := scanOrder(o.q.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return ord, err
}

// ListOrders returns all orders for an account, oldest first.
func (o *sqlOps) ListOrders(ctx context.Context, accountID string) ([]domain.Order, error) {
	rows, err := o.q.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE account_id = ? ORDER BY created_at, rowid", accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		ord, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ord)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// FillStore implementation
// ---------------------------------------------------------------------------

// SaveFill inserts an execution record.
func (o *sqlOps) SaveFill(ctx context.Context, f *domain.Fill) error {
	_, err := o.q.ExecContext(ctx, `INSERT INTO fills
		(id, order_id, trade_id, account_id, symbol, side, quantity, price, slippage, slippage_bps, fee, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OrderID, f.TradeID, f.AccountID, f.Symbol, string(f.Side), f.Qty, f.Price,
		f.Slippage, f.SlippageBps, f.Fee, formatTime(f.Timestamp))
	return err
}

// timeFilter builds the WHERE clause shared by the range queries.
func timeFilter(column, accountID string, start, end time.Time) (string, []any) {
	clauses := []string{column + " >= ?"}
	args := []any{formatTime(start)}
	if !end.IsZero() {
		clauses = append(clauses, column+" < ?")
		args = append(args, formatTime(end))
	}
	if accountID != "" {
		clauses = append(clauses, "account_id = ?")
		args = append(args, accountID)
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListFills returns fills in [start, end).
func (o *sqlOps) ListFills(ctx context.Context, accountID string, start, end time.Time) ([]domain.Fill, error) {
	where, args := timeFilter("timestamp", accountID, start, end)
	rows, err := o.q.QueryContext(ctx, `SELECT id, order_id, trade_id, account_id, symbol, side, quantity,
		price, slippage, slippage_bps, fee, timestamp FROM fills`+where+" ORDER BY timestamp, rowid", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var (
			f    domain.Fill
			side string
			ts   string
		)
		if err := rows.Scan(&f.ID, &f.OrderID, &f.TradeID, &f.AccountID, &f.Symbol, &side, &f.Qty,
			&f.Price, &f.Slippage, &f.SlippageBps, &f.Fee, &ts); err != nil {
			return nil, err
		}
		f.Side = domain.OrderSide(side)
		if f.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// AuditStore implementation
// ---------------------------------------------------------------------------

// AppendAudit inserts a decision-log entry.
func (o *sqlOps) AppendAudit(ctx context.Context, e *domain.AuditEntry) error {
	vals, err := json.Marshal(e.Values)
	if err != nil {
		return fmt.Errorf("encoding audit values: %w", err)
	}
	_, err = o.q.ExecContext(ctx, `INSERT INTO audit_log
		(id, time, action, account_id, order_id, trade_id, symbol, side, quantity, price, reason, vals)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.Time), e.Action, e.AccountID, e.OrderID, e.TradeID, e.Symbol, string(e.Side),
		e.Qty, e.Price, e.Reason, string(vals))
	return err
}

// ListAudit returns decision-log entries in [start, end).
func (o *sqlOps) ListAudit(ctx context.Context, accountID string, start, end time.Time) ([]domain.AuditEntry, error) {
	where, args := timeFilter("time", accountID, start, end)
	rows, err := o.q.QueryContext(ctx, `SELECT id, time, action, account_id, order_id, trade_id, symbol,
		side, quantity, price, reason, vals FROM audit_log`+where+" ORDER BY time, rowid", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e        domain.AuditEntry
			ts, side string
			vals     string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Action, &e.AccountID, &e.OrderID, &e.TradeID, &e.Symbol,
			&side, &e.Qty, &e.Price, &e.Reason, &vals); err != nil {
			return nil, err
		}
		e.Side = domain.OrderSide(side)
		if e.Time, err = parseTime(ts); err != nil {
			return nil, err
		}
		if vals != "" && vals != "null" {
			if err := json.Unmarshal([]byte(vals), &e.Values); err != nil {
				return nil, fmt.Errorf("decoding audit values: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
