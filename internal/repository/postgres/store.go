// Package postgres stores transactions and feedback in PostgreSQL through a
// pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"auditai/internal/domain"
	"auditai/internal/repository"
)

var (
	_ repository.TransactionRepository = (*TransactionRepository)(nil)
	_ repository.FeedbackRepository    = (*FeedbackRepository)(nil)
)

const uniqueViolation = "23505"

type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id BIGSERIAL PRIMARY KEY,
		client TEXT NOT NULL,
		amount NUMERIC(20, 2) NOT NULL,
		occurred_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		justification TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_occurred ON transactions(occurred_at);

	CREATE TABLE IF NOT EXISTS audit_feedback (
		id BIGSERIAL PRIMARY KEY,
		transaction_id BIGINT NOT NULL REFERENCES transactions(id),
		label TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_transaction ON audit_feedback(transaction_id);
	`

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (s *Store) Transactions() *TransactionRepository {
	return &TransactionRepository{pool: s.pool}
}

func (s *Store) Feedback() *FeedbackRepository {
	return &FeedbackRepository{pool: s.pool}
}

type TransactionRepository struct {
	pool *pgxpool.Pool
}

const transactionColumns = "id, client, amount::text, occurred_at, status, justification"

func (r *TransactionRepository) Save(ctx context.Context, tx *domain.Transaction) error {
	var (
		row pgx.Row
		id  int64
	)
	if tx.ID != 0 {
		row = r.pool.QueryRow(ctx,
			`INSERT INTO transactions (id, client, amount, occurred_at, status, justification)
			 VALUES ($1, $2, $3::numeric, $4, $5, $6) RETURNING id`,
			tx.ID, tx.Client, tx.Amount.String(), tx.Timestamp, string(tx.Status), tx.Justification)
	} else {
		row = r.pool.QueryRow(ctx,
			`INSERT INTO transactions (client, amount, occurred_at, status, justification)
			 VALUES ($1, $2::numeric, $3, $4, $5) RETURNING id`,
			tx.Client, tx.Amount.String(), tx.Timestamp, string(tx.Status), tx.Justification)
	}

	if err := row.Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%w: transaction %d", repository.ErrDuplicate, tx.ID)
		}
		return fmt.Errorf("inserting transaction: %w", err)
	}
	tx.ID = id
	return nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)

	tx, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %d", repository.ErrNotFound, id)
	}
	return tx, err
}

func (r *TransactionRepository) GetSince(ctx context.Context, since time.Time) ([]*domain.Transaction, error) {
	return r.query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE occurred_at >= $1 ORDER BY occurred_at, id`,
		since)
}

func (r *TransactionRepository) GetAll(ctx context.Context) ([]*domain.Transaction, error) {
	return r.query(ctx, `SELECT `+transactionColumns+` FROM transactions ORDER BY occurred_at DESC, id DESC`)
}

func (r *TransactionRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var result []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transactions: %w", err)
	}
	return result, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		tx     domain.Transaction
		amount string
		status string
	)
	if err := row.Scan(&tx.ID, &tx.Client, &amount, &tx.Timestamp, &status, &tx.Justification); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %d has invalid amount %q: %w", tx.ID, amount, err)
	}
	tx.Amount = parsed
	tx.Status = domain.TransactionStatus(status)
	return &tx, nil
}

type FeedbackRepository struct {
	pool *pgxpool.Pool
}

func (r *FeedbackRepository) Save(ctx context.Context, fb *domain.Feedback) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO audit_feedback (transaction_id, label, note, recorded_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		fb.TransactionID, string(fb.Label), fb.Note, fb.RecordedAt).Scan(&fb.ID)
	if err != nil {
		return fmt.Errorf("inserting feedback: %w", err)
	}
	return nil
}

func (r *FeedbackRepository) GetAll(ctx context.Context) ([]*domain.Feedback, error) {
	return r.query(ctx, `SELECT id, transaction_id, label, note, recorded_at FROM audit_feedback ORDER BY id`)
}

func (r *FeedbackRepository) GetByTransactionID(ctx context.Context, transactionID int64) ([]*domain.Feedback, error) {
	return r.query(ctx,
		`SELECT id, transaction_id, label, note, recorded_at FROM audit_feedback WHERE transaction_id = $1 ORDER BY id`,
		transactionID)
}

func (r *FeedbackRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Feedback, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying feedback: %w", err)
	}
	defer rows.Close()

	var result []*domain.Feedback
	for rows.Next() {
		var (
			fb    domain.Feedback
			label string
		)
		if err := rows.Scan(&fb.ID, &fb.TransactionID, &label, &fb.Note, &fb.RecordedAt); err != nil {
			return nil, fmt.Errorf("scanning feedback: %w", err)
		}
		fb.Label = domain.FeedbackLabel(label)
		result = append(result, &fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating feedback: %w", err)
	}
	return result, nil
}
