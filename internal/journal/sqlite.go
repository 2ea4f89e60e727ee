package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

var schema = []string{
	`PRAGMA journal_mode=WAL;`,
	`
CREATE TABLE IF NOT EXISTS signals (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  reference_price REAL NOT NULL,
  accepted INTEGER NOT NULL,
  at TEXT NOT NULL
);`,
	`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  qty INTEGER NOT NULL,
  reference_price REAL NOT NULL,
  take_profit TEXT NOT NULL,
  stop_loss TEXT NOT NULL,
  client_order_id TEXT NOT NULL,
  order_id TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  attempts INTEGER NOT NULL,
  error TEXT NOT NULL DEFAULT '',
  at TEXT NOT NULL
);`,
	`CREATE INDEX IF NOT EXISTS idx_orders_symbol ON orders(symbol);`,
	`
CREATE TABLE IF NOT EXISTS position_events (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  order_id TEXT NOT NULL DEFAULT '',
  event TEXT NOT NULL,
  at TEXT NOT NULL
);`,
}

// SQLiteJournal 基于 SQLite 的交易日志
type SQLiteJournal struct {
	db *sql.DB
}

var _ Journal = (*SQLiteJournal)(nil)

// OpenSQLite 打开（或创建）日志库并执行建表
func OpenSQLite(ctx context.Context, path string) (*SQLiteJournal, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return ulid.Make().String()
}

func ts(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func (j *SQLiteJournal) RecordSignal(ctx context.Context, r SignalRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO signals (id, symbol, reference_price, accepted, at)
		VALUES (?, ?, ?, ?, ?)`,
		newID(r.ID), r.Symbol, r.ReferencePrice, r.Accepted, ts(r.At),
	)
	return err
}

func (j *SQLiteJournal) RecordOrder(ctx context.Context, r OrderRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO orders
		(id, symbol, qty, reference_price, take_profit, stop_loss, client_order_id, order_id, status, attempts, error, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		newID(r.ID), r.Symbol, r.Qty, r.ReferencePrice, r.TakeProfitPrice, r.StopLossPrice,
		r.ClientOrderID, r.OrderID, r.Status, r.Attempts, r.Error, ts(r.At),
	)
	return err
}

func (j *SQLiteJournal) RecordPositionEvent(ctx context.Context, e PositionEvent) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO position_events (id, symbol, order_id, event, at)
		VALUES (?, ?, ?, ?, ?)`,
		newID(e.ID), e.Symbol, e.OrderID, e.Event, ts(e.At),
	)
	return err
}

// RecentOrders 最近的下单记录（按时间倒序）
func (j *SQLiteJournal) RecentOrders(ctx context.Context, limit int) ([]OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, symbol, qty, reference_price, take_profit, stop_loss, client_order_id, order_id, status, attempts, error, at
		FROM orders ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		var r OrderRecord
		var at string
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Qty, &r.ReferencePrice, &r.TakeProfitPrice, &r.StopLossPrice,
			&r.ClientOrderID, &r.OrderID, &r.Status, &r.Attempts, &r.Error, &at); err != nil {
			return nil, err
		}
		r.At, _ = time.Parse(time.RFC3339Nano, at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountPositionEvents 按事件类型统计（用于对账报表）
func (j *SQLiteJournal) CountPositionEvents(ctx context.Context, event string) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM position_events WHERE event = ?`, event).Scan(&n)
	return n, err
}
