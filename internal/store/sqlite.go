package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"daybot/internal/domain"
)

// Compile-time interface check.
var _ Journal = (*SQLiteJournal)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	client_order_id TEXT PRIMARY KEY,
	broker_id       TEXT NOT NULL DEFAULT '',
	strategy_id     TEXT NOT NULL,
	symbol          TEXT NOT NULL,
	side            TEXT NOT NULL,
	type            TEXT NOT NULL,
	quantity        INTEGER NOT NULL,
	limit_price     REAL NOT NULL DEFAULT 0,
	status          TEXT NOT NULL,
	filled_qty      INTEGER NOT NULL DEFAULT 0,
	submitted_at    TIMESTAMP NOT NULL,
	updated_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS fills (
	id        TEXT PRIMARY KEY,
	order_id  TEXT NOT NULL,
	symbol    TEXT NOT NULL,
	side      TEXT NOT NULL,
	quantity  INTEGER NOT NULL,
	price     REAL NOT NULL,
	filled_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_filled_at ON fills(filled_at);

CREATE TABLE IF NOT EXISTS closed_trades (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id TEXT NOT NULL,
	symbol      TEXT NOT NULL,
	quantity    INTEGER NOT NULL,
	entry_price REAL NOT NULL,
	exit_price  REAL NOT NULL,
	pnl         REAL NOT NULL,
	closed_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_closed_trades_strategy ON closed_trades(strategy_id, closed_at);
`

// SQLiteJournal implements Journal backed by a SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) a SQLite database at dbPath, applies
// the schema, and returns a ready-to-use journal.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal db: %w", err)
	}
	// A single writer keeps SQLite happy under the engine's goroutines.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying journal schema: %w", err)
	}
	return &SQLiteJournal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// RecordOrder inserts a newly submitted order.
func (j *SQLiteJournal) RecordOrder(ctx context.Context, o *domain.Order) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO orders
			(client_order_id, broker_id, strategy_id, symbol, side, type,
			 quantity, limit_price, status, filled_qty, submitted_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_order_id) DO UPDATE SET
			broker_id = excluded.broker_id,
			status = excluded.status,
			updated_at = excluded.updated_at`,
		o.ClientOrderID, o.BrokerID, o.StrategyID, o.Symbol, string(o.Side),
		string(o.Type), o.Quantity, o.LimitPrice, string(o.Status),
		o.FilledQty, o.SubmittedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording order %s: %w", o.ClientOrderID, err)
	}
	return nil
}

// UpdateOrder persists a status or filled-quantity change.
func (j *SQLiteJournal) UpdateOrder(ctx context.Context, clientOrderID string, status domain.OrderStatus, filledQty int64) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE orders SET status = ?, filled_qty = ?, updated_at = ?
		WHERE client_order_id = ?`,
		string(status), filledQty, time.Now().UTC(), clientOrderID,
	)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", clientOrderID, err)
	}
	return nil
}

// RecordFill inserts a fill; duplicates by fill id are ignored.
func (j *SQLiteJournal) RecordFill(ctx context.Context, f domain.Fill) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO fills (id, order_id, symbol, side, quantity, price, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.OrderID, f.Symbol, string(f.Side), f.Quantity, f.Price, f.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("recording fill %s: %w", f.ID, err)
	}
	return nil
}

// RecordClosedTrade inserts a completed round trip.
func (j *SQLiteJournal) RecordClosedTrade(ctx context.Context, t ClosedTrade) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO closed_trades (strategy_id, symbol, quantity, entry_price, exit_price, pnl, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.StrategyID, t.Symbol, t.Quantity, t.EntryPrice, t.ExitPrice, t.PnL, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("recording closed trade %s/%s: %w", t.StrategyID, t.Symbol, err)
	}
	return nil
}

// ClosedTrades returns the most recent closed trades, newest first.
func (j *SQLiteJournal) ClosedTrades(ctx context.Context, strategyID string, limit int) ([]ClosedTrade, error) {
	query := `
		SELECT strategy_id, symbol, quantity, entry_price, exit_price, pnl, closed_at
		FROM closed_trades`
	args := []any{}
	if strategyID != "" {
		query += ` WHERE strategy_id = ?`
		args = append(args, strategyID)
	}
	query += ` ORDER BY closed_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing closed trades: %w", err)
	}
	defer rows.Close()

	var trades []ClosedTrade
	for rows.Next() {
		var t ClosedTrade
		if err := rows.Scan(&t.StrategyID, &t.Symbol, &t.Quantity, &t.EntryPrice, &t.ExitPrice, &t.PnL, &t.ClosedAt); err != nil {
			return nil, fmt.Errorf("scanning closed trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// FillsForDay returns the fills recorded on the given calendar day.
func (j *SQLiteJournal) FillsForDay(ctx context.Context, day time.Time) ([]domain.Fill, error) {
	start, end := dayBounds(day)
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, order_id, symbol, side, quantity, price, filled_at
		FROM fills
		WHERE filled_at >= ? AND filled_at < ?
		ORDER BY filled_at`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("listing fills: %w", err)
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var (
			f    domain.Fill
			side string
		)
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Symbol, &side, &f.Quantity, &f.Price, &f.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning fill: %w", err)
		}
		f.Side = domain.Side(side)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// DaySummary aggregates one calendar day's journal activity.
func (j *SQLiteJournal) DaySummary(ctx context.Context, day time.Time) (DaySummary, error) {
	start, end := dayBounds(day)
	s := DaySummary{Day: start}

	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE submitted_at >= ? AND submitted_at < ?`,
		start, end,
	).Scan(&s.Orders)
	if err != nil {
		return DaySummary{}, fmt.Errorf("counting orders: %w", err)
	}

	err = j.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(quantity * price), 0)
		 FROM fills WHERE filled_at >= ? AND filled_at < ?`,
		start, end,
	).Scan(&s.Fills, &s.Notional)
	if err != nil {
		return DaySummary{}, fmt.Errorf("aggregating fills: %w", err)
	}

	err = j.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN pnl > 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN pnl < 0 THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(pnl), 0)
		 FROM closed_trades WHERE closed_at >= ? AND closed_at < ?`,
		start, end,
	).Scan(&s.Trades, &s.Wins, &s.Losses, &s.RealizedPnL)
	if err != nil {
		return DaySummary{}, fmt.Errorf("aggregating closed trades: %w", err)
	}

	return s, nil
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	return start, start.AddDate(0, 0, 1)
}
