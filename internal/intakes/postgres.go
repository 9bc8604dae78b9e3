package intakes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists intakes in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS intakes (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL UNIQUE,
			client_name TEXT NOT NULL DEFAULT 'Client',
			conversation JSONB NOT NULL DEFAULT '[]'::jsonb,
			markdown TEXT NOT NULL DEFAULT '',
			turn_count INTEGER NOT NULL DEFAULT 0,
			confidence JSONB NOT NULL DEFAULT '{}'::jsonb,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			completed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_intakes_created ON intakes (created_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const selectColumns = `id, session_id, client_name, conversation, markdown, turn_count, confidence, duration_ms, created_at, completed_at`

func (s *PostgresStore) Save(ctx context.Context, in Intake) (Intake, bool, error) {
	in = normalize(in)
	conversation, confidence, err := encodeJSONColumns(in)
	if err != nil {
		return Intake{}, false, err
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO intakes (session_id, client_name, conversation, markdown, turn_count, confidence, duration_ms, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (session_id) DO NOTHING
		 RETURNING id`,
		in.SessionID,
		in.ClientName,
		conversation,
		in.Markdown,
		in.TurnCount,
		confidence,
		in.DurationMS,
		in.CreatedAt,
		in.CompletedAt,
	).Scan(&in.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := s.GetBySessionID(ctx, in.SessionID)
		if getErr != nil {
			return Intake{}, false, getErr
		}
		return existing, false, nil
	}
	if err != nil {
		return Intake{}, false, fmt.Errorf("save intake: %w", err)
	}
	return in, true, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Intake, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM intakes ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query intakes: %w", err)
	}
	defer rows.Close()

	items := make([]Intake, 0, 16)
	for rows.Next() {
		in, err := scanIntake(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate intake rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetBySessionID(ctx context.Context, sessionID string) (Intake, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM intakes WHERE session_id=$1`, sessionID)
	return scanOne(row)
}

func (s *PostgresStore) GetByID(ctx context.Context, id int64) (Intake, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM intakes WHERE id=$1`, id)
	return scanOne(row)
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM intakes WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete intake: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanOne(row pgx.Row) (Intake, error) {
	in, err := scanIntake(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Intake{}, ErrNotFound
	}
	return in, err
}

func scanIntake(row pgx.Row) (Intake, error) {
	var (
		in           Intake
		conversation []byte
		confidence   []byte
	)
	err := row.Scan(&in.ID, &in.SessionID, &in.ClientName, &conversation, &in.Markdown,
		&in.TurnCount, &confidence, &in.DurationMS, &in.CreatedAt, &in.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Intake{}, err
		}
		return Intake{}, fmt.Errorf("scan intake row: %w", err)
	}
	if err := decodeJSONColumns(&in, conversation, confidence); err != nil {
		return Intake{}, err
	}
	return in, nil
}

func encodeJSONColumns(in Intake) ([]byte, []byte, error) {
	conversation, err := json.Marshal(in.Conversation)
	if err != nil {
		return nil, nil, fmt.Errorf("encode conversation: %w", err)
	}
	confidence, err := json.Marshal(in.Confidence)
	if err != nil {
		return nil, nil, fmt.Errorf("encode confidence: %w", err)
	}
	return conversation, confidence, nil
}

func decodeJSONColumns(in *Intake, conversation, confidence []byte) error {
	if len(conversation) > 0 {
		if err := json.Unmarshal(conversation, &in.Conversation); err != nil {
			return fmt.Errorf("decode conversation: %w", err)
		}
	}
	if len(confidence) > 0 {
		if err := json.Unmarshal(confidence, &in.Confidence); err != nil {
			return fmt.Errorf("decode confidence: %w", err)
		}
	}
	if in.Conversation == nil {
		in.Conversation = []Message{}
	}
	if in.Confidence == nil {
		in.Confidence = map[string]float64{}
	}
	return nil
}
