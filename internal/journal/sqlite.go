package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"montrix/internal/types"

	_ "modernc.org/sqlite"
)

// FillStore 将成交记录落到 SQLite，供查询接口按 symbol/时间段检索。
type FillStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// FillQuery 用于筛选历史成交。
type FillQuery struct {
	Symbol string
	Side   string
	Limit  int
	Offset int
}

// NewFillStore 初始化 SQLite 存储。
func NewFillStore(path string) (*FillStore, error) {
	if path == "" {
		return nil, fmt.Errorf("fill store path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureFillSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &FillStore{db: db, path: path}, nil
}

func ensureFillSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fills (
			id TEXT PRIMARY KEY,
			ts INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity REAL NOT NULL DEFAULT 0,
			price REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			pnl_cash REAL DEFAULT 0,
			pnl_pct REAL DEFAULT 0,
			close_reason TEXT,
			hold_seconds REAL DEFAULT 0,
			created_at INTEGER NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_fills_symbol_ts ON fills(symbol, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_fills_ts ON fills(ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("fill schema init failed: %w", err)
		}
	}
	return nil
}

// Append 写入一条成交记录。ID 为空时自动补一个 uuid。
func (s *FillStore) Append(fill types.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("fill store closed")
	}
	if fill.ID == "" {
		fill.ID = uuid.NewString()
	}
	ts := fill.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO fills
			(id, ts, symbol, side, quantity, price, status, pnl_cash, pnl_pct, close_reason, hold_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.ID, ts.UnixMilli(), fill.Symbol, fill.Side, fill.Quantity, fill.Price,
		fill.Status, fill.PnLCash, fill.PnLPct, string(fill.Reason), fill.HoldSeconds,
		time.Now().UnixMilli(),
	)
	return err
}

// Query 按条件检索成交，按时间倒序返回。
func (s *FillStore) Query(q FillQuery) ([]types.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, fmt.Errorf("fill store closed")
	}
	where := "1=1"
	args := []any{}
	if q.Symbol != "" {
		where += " AND symbol = ?"
		args = append(args, types.NormalizeSymbol(q.Symbol))
	}
	if q.Side != "" {
		where += " AND side = ?"
		args = append(args, q.Side)
	}
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	args = append(args, limit, q.Offset)

	rows, err := s.db.Query(
		`SELECT id, ts, symbol, side, quantity, price, status, pnl_cash, pnl_pct, close_reason, hold_seconds
		 FROM fills WHERE `+where+` ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []types.Fill
	for rows.Next() {
		var fill types.Fill
		var ts int64
		var reason sql.NullString
		if err := rows.Scan(&fill.ID, &ts, &fill.Symbol, &fill.Side, &fill.Quantity,
			&fill.Price, &fill.Status, &fill.PnLCash, &fill.PnLPct, &reason, &fill.HoldSeconds); err != nil {
			return nil, err
		}
		fill.Timestamp = time.UnixMilli(ts).UTC()
		if reason.Valid {
			fill.Reason = types.CloseReason(reason.String)
		}
		fills = append(fills, fill)
	}
	return fills, rows.Err()
}

// Close 关闭底层 DB。
func (s *FillStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
