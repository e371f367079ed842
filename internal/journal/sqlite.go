package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	session        TEXT NOT NULL,
	seq            INTEGER NOT NULL,
	ts             DATETIME NOT NULL,
	strategy       TEXT NOT NULL,
	signal         TEXT NOT NULL,
	close          REAL NOT NULL,
	balance_a      REAL NOT NULL,
	balance_b      REAL NOT NULL,
	total_b        REAL NOT NULL,
	fees_paid      REAL NOT NULL,
	partial_window INTEGER NOT NULL,
	rejection      TEXT,
	created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_events_session ON events(session, seq);
`

// SQLiteSink appends events to a SQLite audit table. It is write-only; a new
// session never resumes from it.
type SQLiteSink struct {
	mu      sync.Mutex
	db      *sql.DB
	session string
}

// NewSQLiteSink opens (or creates) the database at path. Rows are tagged
// with session so several runs can share one file.
func NewSQLiteSink(path, session string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite journal: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite journal: %w", err)
	}
	return &SQLiteSink{db: db, session: session}, nil
}

func (s *SQLiteSink) Record(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session, seq, ts, strategy, signal, close, balance_a, balance_b, total_b, fees_paid, partial_window, rejection)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.session,
		e.Seq,
		e.Timestamp.UTC().Format(time.RFC3339),
		e.Strategy,
		e.Signal.String(),
		e.Candle.Close,
		e.Market.BalanceA,
		e.Market.BalanceB,
		e.Market.TotalInB(),
		e.Market.FeesPaid,
		e.PartialWindow,
		e.Rejection,
	)
	if err != nil {
		return fmt.Errorf("record event %d: %w", e.Seq, err)
	}
	return nil
}

// Count returns the number of rows recorded for the sink's session.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE session = ?`, s.session).Scan(&n)
	return n, err
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
