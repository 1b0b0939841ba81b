package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no attempt.
var ErrNotFound = errors.New("attempt not found")

// Store provides database operations for the bootstrap attempt ledger.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Schema is the attempt ledger's table definition. Applied by Migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS bootstrap_attempts (
	id             BIGSERIAL PRIMARY KEY,
	program_id     TEXT NOT NULL,
	state_account  TEXT NOT NULL,
	payer          TEXT NOT NULL,
	network        TEXT NOT NULL,
	signature      TEXT,
	state          TEXT NOT NULL,
	failure_reason TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_bootstrap_attempts_program
	ON bootstrap_attempts (program_id, network);
CREATE UNIQUE INDEX IF NOT EXISTS idx_bootstrap_attempts_signature
	ON bootstrap_attempts (signature) WHERE signature IS NOT NULL;
`

// Migrate applies the schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Attempt is one recorded bootstrap run against a program.
type Attempt struct {
	ID            int64
	ProgramID     string
	StateAccount  string
	Payer         string
	Network       string
	Signature     *string // nil until the transaction is submitted
	State         string
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateAttemptParams contains the parameters for recording a new attempt.
type CreateAttemptParams struct {
	ProgramID    string
	StateAccount string
	Payer        string
	Network      string
	State        string
}

// CreateAttempt inserts a new bootstrap attempt and returns it with its
// assigned id.
func (s *Store) CreateAttempt(ctx context.Context, params CreateAttemptParams) (*Attempt, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO bootstrap_attempts (program_id, state_account, payer, network, state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, program_id, state_account, payer, network, signature, state, failure_reason, created_at, updated_at`,
		params.ProgramID, params.StateAccount, params.Payer, params.Network, params.State,
	)
	return scanAttempt(row)
}

// UpdateAttemptStateParams carries a state transition for a recorded attempt.
// Signature and FailureReason are optional: nil leaves the stored value.
type UpdateAttemptStateParams struct {
	ID            int64
	State         string
	Signature     *string
	FailureReason *string
}

// UpdateAttemptState advances a recorded attempt's state, optionally
// attaching the transaction signature and failure reason.
func (s *Store) UpdateAttemptState(ctx context.Context, params UpdateAttemptStateParams) (*Attempt, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE bootstrap_attempts
		SET state = $2,
		    signature = COALESCE($3, signature),
		    failure_reason = COALESCE($4, failure_reason),
		    updated_at = now()
		WHERE id = $1
		RETURNING id, program_id, state_account, payer, network, signature, state, failure_reason, created_at, updated_at`,
		params.ID, params.State, textFromStringPtr(params.Signature), textFromStringPtr(params.FailureReason),
	)
	return scanAttempt(row)
}

// GetAttempt retrieves an attempt by id.
func (s *Store) GetAttempt(ctx context.Context, id int64) (*Attempt, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, program_id, state_account, payer, network, signature, state, failure_reason, created_at, updated_at
		FROM bootstrap_attempts WHERE id = $1`, id,
	)
	return scanAttempt(row)
}

// GetAttemptBySignature retrieves an attempt by its transaction signature.
func (s *Store) GetAttemptBySignature(ctx context.Context, signature string) (*Attempt, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, program_id, state_account, payer, network, signature, state, failure_reason, created_at, updated_at
		FROM bootstrap_attempts WHERE signature = $1`, signature,
	)
	return scanAttempt(row)
}

// ListAttemptsParams contains pagination parameters.
type ListAttemptsParams struct {
	Limit  int32
	Offset int32
}

// ListAttempts retrieves attempts across all programs, newest first.
func (s *Store) ListAttempts(ctx context.Context, params ListAttemptsParams) ([]*Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, program_id, state_account, payer, network, signature, state, failure_reason, created_at, updated_at
		FROM bootstrap_attempts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`,
		params.Limit, params.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// ListAttemptsByProgram retrieves attempts for one program on one network,
// newest first.
func (s *Store) ListAttemptsByProgram(ctx context.Context, programID, network string, limit int32) ([]*Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, program_id, state_account, payer, network, signature, state, failure_reason, created_at, updated_at
		FROM bootstrap_attempts
		WHERE program_id = $1 AND network = $2
		ORDER BY created_at DESC
		LIMIT $3`,
		programID, network, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAttempts(rows)
}

// CountAttemptsByProgram counts recorded attempts for a program on a network.
func (s *Store) CountAttemptsByProgram(ctx context.Context, programID, network string) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM bootstrap_attempts WHERE program_id = $1 AND network = $2`,
		programID, network,
	).Scan(&count)
	return count, err
}

// DeleteAttemptsOlderThan prunes attempts created before the given time.
func (s *Store) DeleteAttemptsOlderThan(ctx context.Context, before time.Time) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM bootstrap_attempts WHERE created_at < $1`,
		pgtype.Timestamptz{Time: before, Valid: true},
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttempt(row rowScanner) (*Attempt, error) {
	var a Attempt
	var signature, failureReason pgtype.Text
	var createdAt, updatedAt pgtype.Timestamptz

	err := row.Scan(
		&a.ID, &a.ProgramID, &a.StateAccount, &a.Payer, &a.Network,
		&signature, &a.State, &failureReason, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	a.Signature = stringPtrFromText(signature)
	a.FailureReason = stringPtrFromText(failureReason)
	a.CreatedAt = createdAt.Time
	a.UpdatedAt = updatedAt.Time
	return &a, nil
}

func scanAttempts(rows pgx.Rows) ([]*Attempt, error) {
	var attempts []*Attempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func textFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromText(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}
