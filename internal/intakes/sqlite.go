package intakes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists intakes in a single-file SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer keeps ON CONFLICT handling serialized.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS intakes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		client_name TEXT NOT NULL DEFAULT 'Client',
		conversation TEXT NOT NULL DEFAULT '[]',
		markdown TEXT NOT NULL DEFAULT '',
		turn_count INTEGER NOT NULL DEFAULT 0,
		confidence TEXT NOT NULL DEFAULT '{}',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, in Intake) (Intake, bool, error) {
	in = normalize(in)
	conversation, confidence, err := encodeJSONColumns(in)
	if err != nil {
		return Intake{}, false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO intakes (session_id, client_name, conversation, markdown, turn_count, confidence, duration_ms, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id) DO NOTHING`,
		in.SessionID,
		in.ClientName,
		string(conversation),
		in.Markdown,
		in.TurnCount,
		string(confidence),
		in.DurationMS,
		in.CreatedAt.UnixMilli(),
		in.CompletedAt.UnixMilli(),
	)
	if err != nil {
		return Intake{}, false, fmt.Errorf("save intake: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := s.GetBySessionID(ctx, in.SessionID)
		if err != nil {
			return Intake{}, false, err
		}
		return existing, false, nil
	}
	in.ID, err = res.LastInsertId()
	if err != nil {
		return Intake{}, false, fmt.Errorf("read intake id: %w", err)
	}
	return in, true, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Intake, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM intakes ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query intakes: %w", err)
	}
	defer rows.Close()

	var items []Intake
	for rows.Next() {
		in, err := scanSQLiteIntake(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, in)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) GetBySessionID(ctx context.Context, sessionID string) (Intake, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM intakes WHERE session_id = ?`, sessionID)
	return scanSQLiteIntake(row)
}

func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (Intake, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM intakes WHERE id = ?`, id)
	return scanSQLiteIntake(row)
}

func (s *SQLiteStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM intakes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete intake: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteIntake(row rowScanner) (Intake, error) {
	var (
		in                     Intake
		conversation           string
		confidence             string
		createdAt, completedAt int64
	)
	err := row.Scan(&in.ID, &in.SessionID, &in.ClientName, &conversation, &in.Markdown,
		&in.TurnCount, &confidence, &in.DurationMS, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Intake{}, ErrNotFound
	}
	if err != nil {
		return Intake{}, fmt.Errorf("scan intake: %w", err)
	}
	in.CreatedAt = time.UnixMilli(createdAt).UTC()
	in.CompletedAt = time.UnixMilli(completedAt).UTC()
	if err := decodeJSONColumns(&in, []byte(conversation), []byte(confidence)); err != nil {
		return Intake{}, err
	}
	return in, nil
}
