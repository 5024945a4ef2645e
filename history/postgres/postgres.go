// Package postgres reads subject profiles and transaction history from
// Postgres through database/sql and the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	sca "github.com/saidulIslam1602/BNPL-Checkout-Debt-Management-Platform-sub002"
)

// ErrSubjectNotFound is returned when no profile row exists.
var ErrSubjectNotFound = errors.New("postgres: subject not found")

// StatusAuthorized marks transactions counted by the policy checks.
const StatusAuthorized = "authorized"

//go:embed schema.sql
var schema string

// Open opens a Postgres connection using the given DSN. Caller must call Close when done.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres: empty DSN")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the tables read by [Repository] when they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

// Repository implements [sca.SubjectProvider] and [sca.TransactionHistory].
type Repository struct {
	db *sql.DB
}

// NewRepository returns a repository over db.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const profileQuery = `
SELECT account_created_at, risk_score, corporate,
       array_to_string(registered_methods, ','), biometric_enabled, contact_destination
FROM sca_subjects
WHERE subject_id = $1`

const trustedQuery = `
SELECT counterparty_id FROM sca_trusted_counterparties WHERE subject_id = $1 ORDER BY counterparty_id`

// Profile implements [sca.SubjectProvider].
func (r *Repository) Profile(ctx context.Context, subjectID string) (sca.SubjectProfile, error) {
	p := sca.SubjectProfile{SubjectID: subjectID}
	var methods string
	err := r.db.QueryRowContext(ctx, profileQuery, subjectID).Scan(
		&p.AccountCreatedAt,
		&p.RiskScore,
		&p.Corporate,
		&methods,
		&p.BiometricEnabled,
		&p.ContactDestination,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sca.SubjectProfile{}, ErrSubjectNotFound
		}
		return sca.SubjectProfile{}, fmt.Errorf("postgres: load profile: %w", err)
	}
	p.AccountCreatedAt = p.AccountCreatedAt.UTC()
	p.RegisteredMethods = parseMethods(methods)

	rows, err := r.db.QueryContext(ctx, trustedQuery, subjectID)
	if err != nil {
		return sca.SubjectProfile{}, fmt.Errorf("postgres: load counterparties: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return sca.SubjectProfile{}, fmt.Errorf("postgres: scan counterparty: %w", err)
		}
		p.TrustedCounterparties = append(p.TrustedCounterparties, id)
	}
	if err := rows.Err(); err != nil {
		return sca.SubjectProfile{}, fmt.Errorf("postgres: load counterparties: %w", err)
	}
	return p, nil
}

func parseMethods(list string) []sca.Method {
	var out []sca.Method
	for _, name := range strings.Split(list, ",") {
		if m := sca.ParseMethod(name); m != sca.MethodNone {
			out = append(out, m)
		}
	}
	return out
}

const historyQuery = `
SELECT amount, counterparty_id, authorized_at
FROM sca_transactions
WHERE subject_id = $1 AND status = $2 AND authorized_at >= $3
ORDER BY authorized_at`

// AuthorizedSince implements [sca.TransactionHistory].
func (r *Repository) AuthorizedSince(ctx context.Context, subjectID string, since time.Time) ([]sca.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, historyQuery, subjectID, StatusAuthorized, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("postgres: load history: %w", err)
	}
	defer rows.Close()

	var out []sca.Transaction
	for rows.Next() {
		var (
			tx     sca.Transaction
			amount decimal.Decimal
		)
		if err := rows.Scan(&amount, &tx.CounterpartyID, &tx.AuthorizedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		tx.Amount = amount
		tx.AuthorizedAt = tx.AuthorizedAt.UTC()
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: load history: %w", err)
	}
	return out, nil
}

const successfulQuery = `
SELECT count(*) FROM sca_transactions
WHERE subject_id = $1 AND counterparty_id = $2 AND status = $3`

// SuccessfulCount implements [sca.TransactionHistory].
func (r *Repository) SuccessfulCount(ctx context.Context, subjectID, counterpartyID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, successfulQuery, subjectID, counterpartyID, StatusAuthorized).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count successful: %w", err)
	}
	return n, nil
}

// RecordTransaction stores one transaction. Hosts call it after a payment
// settles so later policy checks see it.
func (r *Repository) RecordTransaction(ctx context.Context, subjectID, status string, tx sca.Transaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sca_transactions (subject_id, counterparty_id, amount, status, authorized_at) VALUES ($1, $2, $3, $4, $5)`,
		subjectID, tx.CounterpartyID, tx.Amount.StringFixed(2), status, tx.AuthorizedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: record transaction: %w", err)
	}
	return nil
}
