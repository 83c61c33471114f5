package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avoncourt/voxform/internal/forms"
	"github.com/avoncourt/voxform/internal/submit"
)

// PostgresStore keeps forms and submissions as JSONB documents and
// transcripts as one row per turn.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS forms (
			id TEXT PRIMARY KEY,
			doc JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS transcript_turns (
			session_id TEXT NOT NULL,
			seq INT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (session_id, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS submissions (
			id TEXT PRIMARY KEY,
			form_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			doc JSONB NOT NULL,
			at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_submissions_session ON submissions (session_id, at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) CreateForm(ctx context.Context, cfg *forms.FormConfig) error {
	doc, err := sonic.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode form: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO forms (id, doc, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		cfg.ID, doc, cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create form: %w", err)
	}
	return nil
}

func (s *PostgresStore) Form(ctx context.Context, id string) (*forms.FormConfig, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM forms WHERE id=$1`, id).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, forms.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query form: %w", err)
	}
	var cfg forms.FormConfig
	if err := sonic.Unmarshal(doc, &cfg); err != nil {
		return nil, fmt.Errorf("decode form %s: %w", id, err)
	}
	return &cfg, nil
}

func (s *PostgresStore) Forms(ctx context.Context) ([]*forms.FormConfig, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM forms ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("query forms: %w", err)
	}
	defer rows.Close()

	var out []*forms.FormConfig
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan form row: %w", err)
		}
		var cfg forms.FormConfig
		if err := sonic.Unmarshal(doc, &cfg); err != nil {
			return nil, fmt.Errorf("decode form row: %w", err)
		}
		out = append(out, &cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate form rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateForm(ctx context.Context, cfg *forms.FormConfig) error {
	doc, err := sonic.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode form: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE forms SET doc=$2, updated_at=$3 WHERE id=$1`,
		cfg.ID, doc, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update form: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return forms.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteForm(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM forms WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete form: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return forms.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendTurns(ctx context.Context, turns []TranscriptTurn) error {
	for _, t := range turns {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO transcript_turns (session_id, seq, role, content, at)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (session_id, seq) DO NOTHING`,
			t.SessionID, t.Seq, t.Role, t.Content, t.At,
		)
		if err != nil {
			return fmt.Errorf("append turn %d: %w", t.Seq, err)
		}
	}
	return nil
}

func (s *PostgresStore) Transcript(ctx context.Context, sessionID string) ([]TranscriptTurn, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, seq, role, content, at
		 FROM transcript_turns WHERE session_id=$1 ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var out []TranscriptTurn
	for rows.Next() {
		var t TranscriptTurn
		if err := rows.Scan(&t.SessionID, &t.Seq, &t.Role, &t.Content, &t.At); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) AppendSubmission(ctx context.Context, sub submit.Submission) error {
	doc, err := sonic.Marshal(sub.Record)
	if err != nil {
		return fmt.Errorf("encode submission record: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO submissions (id, form_id, session_id, doc, at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		sub.ID, sub.FormID, sub.SessionID, doc, sub.At,
	)
	if err != nil {
		return fmt.Errorf("append submission: %w", err)
	}
	return nil
}

func (s *PostgresStore) SubmissionsBySession(ctx context.Context, sessionID string) ([]submit.Submission, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, form_id, session_id, doc, at
		 FROM submissions WHERE session_id=$1 ORDER BY at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []submit.Submission
	for rows.Next() {
		var (
			sub submit.Submission
			doc []byte
		)
		if err := rows.Scan(&sub.ID, &sub.FormID, &sub.SessionID, &doc, &sub.At); err != nil {
			return nil, fmt.Errorf("scan submission row: %w", err)
		}
		if err := sonic.Unmarshal(doc, &sub.Record); err != nil {
			return nil, fmt.Errorf("decode submission %s: %w", sub.ID, err)
		}
		out = append(out, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submission rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
