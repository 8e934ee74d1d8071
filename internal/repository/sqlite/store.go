// Package sqlite stores transactions and feedback in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"auditai/internal/domain"
	"auditai/internal/repository"
)

var (
	_ repository.TransactionRepository = (*TransactionRepository)(nil)
	_ repository.FeedbackRepository    = (*FeedbackRepository)(nil)
)

// Store owns the database handle shared by both repositories.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the database at path. ":memory:" gives a private in-memory
// database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema creates the tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client TEXT NOT NULL,
		amount TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		status TEXT NOT NULL,
		justification TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_occurred ON transactions(occurred_at);

	CREATE TABLE IF NOT EXISTS audit_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		transaction_id INTEGER NOT NULL REFERENCES transactions(id),
		label TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_transaction ON audit_feedback(transaction_id);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

func (s *Store) Transactions() *TransactionRepository {
	return &TransactionRepository{db: s.db}
}

func (s *Store) Feedback() *FeedbackRepository {
	return &FeedbackRepository{db: s.db}
}

// Timestamps are stored as Unix microseconds in UTC so ordering and range
// queries compare integers.
func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

type TransactionRepository struct {
	db *sql.DB
}

const transactionColumns = "id, client, amount, occurred_at, status, justification"

func (r *TransactionRepository) Save(ctx context.Context, tx *domain.Transaction) error {
	var justification sql.NullString
	if tx.Justification != nil {
		justification = sql.NullString{String: *tx.Justification, Valid: true}
	}

	var (
		res sql.Result
		err error
	)
	if tx.ID != 0 {
		res, err = r.db.ExecContext(ctx,
			`INSERT INTO transactions (id, client, amount, occurred_at, status, justification) VALUES (?, ?, ?, ?, ?, ?)`,
			tx.ID, tx.Client, tx.Amount.String(), toMicros(tx.Timestamp), string(tx.Status), justification)
	} else {
		res, err = r.db.ExecContext(ctx,
			`INSERT INTO transactions (client, amount, occurred_at, status, justification) VALUES (?, ?, ?, ?, ?)`,
			tx.Client, tx.Amount.String(), toMicros(tx.Timestamp), string(tx.Status), justification)
	}
	if err != nil {
		if tx.ID != 0 && r.exists(ctx, tx.ID) {
			return fmt.Errorf("%w: transaction %d", repository.ErrDuplicate, tx.ID)
		}
		return fmt.Errorf("inserting transaction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading transaction id: %w", err)
	}
	tx.ID = id
	return nil
}

func (r *TransactionRepository) exists(ctx context.Context, id int64) bool {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM transactions WHERE id = ?`, id).Scan(&one)
	return err == nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: transaction %d", repository.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (r *TransactionRepository) GetSince(ctx context.Context, since time.Time) ([]*domain.Transaction, error) {
	return r.query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE occurred_at >= ? ORDER BY occurred_at, id`,
		toMicros(since))
}

func (r *TransactionRepository) GetAll(ctx context.Context) ([]*domain.Transaction, error) {
	return r.query(ctx, `SELECT `+transactionColumns+` FROM transactions ORDER BY occurred_at DESC, id DESC`)
}

func (r *TransactionRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var (
		tx            domain.Transaction
		amount        string
		occurredAt    int64
		status        string
		justification sql.NullString
	)
	if err := s.Scan(&tx.ID, &tx.Client, &amount, &occurredAt, &status, &justification); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("transaction %d has invalid amount %q: %w", tx.ID, amount, err)
	}
	tx.Amount = parsed
	tx.Timestamp = fromMicros(occurredAt)
	tx.Status = domain.TransactionStatus(status)
	if justification.Valid {
		j := justification.String
		tx.Justification = &j
	}
	return &tx, nil
}

type FeedbackRepository struct {
	db *sql.DB
}

func (r *FeedbackRepository) Save(ctx context.Context, fb *domain.Feedback) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_feedback (transaction_id, label, note, recorded_at) VALUES (?, ?, ?, ?)`,
		fb.TransactionID, string(fb.Label), fb.Note, toMicros(fb.RecordedAt))
	if err != nil {
		return fmt.Errorf("inserting feedback: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading feedback id: %w", err)
	}
	fb.ID = id
	return nil
}

func (r *FeedbackRepository) GetAll(ctx context.Context) ([]*domain.Feedback, error) {
	return r.query(ctx, `SELECT id, transaction_id, label, note, recorded_at FROM audit_feedback ORDER BY id`)
}

func (r *FeedbackRepository) GetByTransactionID(ctx context.Context, transactionID int64) ([]*domain.Feedback, error) {
	return r.query(ctx,
		`SELECT id, transaction_id, label, note, recorded_at FROM audit_feedback WHERE transaction_id = ? ORDER BY id`,
		transactionID)
}

func (r *FeedbackRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Feedback, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying feedback: %w", err)
	}
	defer rows.Close()

	var result []*domain.Feedback
	for rows.Next() {
		var (
			fb         domain.Feedback
			label      string
			recordedAt int64
		)
		if err := rows.Scan(&fb.ID, &fb.TransactionID, &label, &fb.Note, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning feedback: %w", err)
		}
		fb.Label = domain.FeedbackLabel(label)
		fb.RecordedAt = fromMicros(recordedAt)
		result = append(result, &fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating feedback: %w", err)
	}
	return result, nil
}
