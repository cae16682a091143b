package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"genesis/internal/money"
)

// ErrUserNotFound is returned when a user_id has no row in the users table.
var ErrUserNotFound = errors.New("ledger: user not found")

// ErrInvalidAmount is returned when a charge or adjustment amount is invalid.
var ErrInvalidAmount = errors.New("ledger: amount must be positive")

// DefaultMinimumBalanceForRequest is the balance threshold above which a user may
// start a new paid request (spec: "allow requests while balance > minimum,
// user can go negative after one request, but next request is blocked").
const DefaultMinimumBalanceForRequest = 0

// Cache is the narrow interface the Ledger uses for its balance cache-aside
// layer (implemented by ledger.RedisCache). Charges update the cache with the
// freshly computed balance rather than invalidating it, keeping it warm.
type Cache interface {
	GetBalance(ctx context.Context, userID int64) (decimal.Decimal, bool)
	SetBalance(ctx context.Context, userID int64, balance decimal.Decimal)
	Invalidate(ctx context.Context, userID int64)
}

// Ledger is the C1 component contract from spec §4.1.
type Ledger struct {
	pool                     *pgxpool.Pool
	cache                    Cache
	minimumBalanceForRequest decimal.Decimal
}

// New builds a Ledger backed by pool, with an optional cache (may be nil).
func New(pool *pgxpool.Pool, cache Cache, minimumBalance decimal.Decimal) *Ledger {
	return &Ledger{pool: pool, cache: cache, minimumBalanceForRequest: minimumBalance}
}

// Init creates the ledger's tables if they do not already exist.
func (l *Ledger) Init(ctx context.Context) error {
	_, err := l.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT PRIMARY KEY,
    username TEXT NOT NULL DEFAULT '',
    balance NUMERIC(18,4) NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS balance_operations (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    operation_type TEXT NOT NULL,
    amount NUMERIC(18,4) NOT NULL,
    balance_before NUMERIC(18,4) NOT NULL,
    balance_after NUMERIC(18,4) NOT NULL,
    related_message_id BIGINT,
    related_payment_id BIGINT,
    admin_user_id BIGINT,
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS balance_operations_user_created_idx
    ON balance_operations(user_id, created_at DESC);
`)
	return err
}

// GetBalance returns the user's current balance, preferring the cache.
func (l *Ledger) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	if l.cache != nil {
		if bal, ok := l.cache.GetBalance(ctx, userID); ok {
			return bal, nil
		}
	}

	var bal decimal.Decimal
	err := l.pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, ErrUserNotFound
	}
	if err != nil {
		return decimal.Decimal{}, err
	}

	if l.cache != nil {
		l.cache.SetBalance(ctx, userID, bal)
	}
	return bal, nil
}

// CanRequest reports whether userID may start a new paid request: the user
// must exist and have a balance strictly greater than the configured
// minimum. A user may go negative after a single request but is blocked on
// the next one until they top up.
func (l *Ledger) CanRequest(ctx context.Context, userID int64) (canRequest, userExists bool, err error) {
	bal, err := l.GetBalance(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return bal.GreaterThan(l.minimumBalanceForRequest), true, nil
}

// Charge deducts amount (positive) from userID's balance in one transaction,
// recording a BalanceOperation audit row, and updates (never invalidates) the
// cache with the new balance. Returns the balance after the charge.
func (l *Ledger) Charge(ctx context.Context, userID int64, amount decimal.Decimal, description string, relatedMessageID *int64) (decimal.Decimal, error) {
	if amount.Sign() <= 0 {
		return decimal.Decimal{}, ErrInvalidAmount
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var before decimal.Decimal
	err = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&before)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, ErrUserNotFound
	}
	if err != nil {
		return decimal.Decimal{}, err
	}

	after := money.Round(before.Sub(amount))

	if _, err := tx.Exec(ctx, `UPDATE users SET balance = $2 WHERE id = $1`, userID, after); err != nil {
		return decimal.Decimal{}, err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO balance_operations
    (user_id, operation_type, amount, balance_before, balance_after, related_message_id, description)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		userID, OperationUsage, amount.Neg(), before, after, relatedMessageID, description,
	); err != nil {
		return decimal.Decimal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Decimal{}, err
	}

	if l.cache != nil {
		l.cache.SetBalance(ctx, userID, after)
	}

	slog.Info("ledger.user_charged", "user_id", userID, "amount", amount.String(), "balance_before", before.String(), "balance_after", after.String(), "description", description)
	if after.Sign() < 0 {
		slog.Info("ledger.negative_after_charge", "user_id", userID, "balance_after", after.String())
	}

	return after, nil
}

// AdminAdjust adds (or, for a negative amount, subtracts) amount from
// targetUserID's balance as a privileged operation, recording adminUserID in
// the audit row.
func (l *Ledger) AdminAdjust(ctx context.Context, adminUserID, targetUserID int64, amount decimal.Decimal, description string) (before, after decimal.Decimal, err error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, targetUserID).Scan(&before)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, decimal.Decimal{}, ErrUserNotFound
	}
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	after = money.Round(before.Add(amount))

	if _, err := tx.Exec(ctx, `UPDATE users SET balance = $2 WHERE id = $1`, targetUserID, after); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	if description == "" {
		action := "added"
		if amount.Sign() < 0 {
			action = "deducted"
		}
		description = fmt.Sprintf("Admin balance adjustment: $%s %s by admin %d", amount.Abs().String(), action, adminUserID)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO balance_operations
    (user_id, operation_type, amount, balance_before, balance_after, admin_user_id, description)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		targetUserID, OperationAdminTopup, amount, before, after, adminUserID, description,
	); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	if l.cache != nil {
		l.cache.SetBalance(ctx, targetUserID, after)
	}

	slog.Info("ledger.admin_adjusted", "admin_user_id", adminUserID, "target_user_id", targetUserID, "amount", amount.String(), "balance_after", after.String())
	return before, after, nil
}

// CreditPayment is like AdminAdjust but records operationType=payment and an
// associated payment ID; used by the payments package after a successful
// Telegram Stars purchase.
func (l *Ledger) CreditPayment(ctx context.Context, userID int64, amount decimal.Decimal, paymentID int64, description string) (before, after decimal.Decimal, err error) {
	return l.adjustWithPayment(ctx, userID, amount, paymentID, OperationPayment, description)
}

// DebitRefund mirrors CreditPayment for the refund path (negative amount).
func (l *Ledger) DebitRefund(ctx context.Context, userID int64, amount decimal.Decimal, paymentID int64, description string) (before, after decimal.Decimal, err error) {
	return l.adjustWithPayment(ctx, userID, amount.Neg(), paymentID, OperationRefund, description)
}

func (l *Ledger) adjustWithPayment(ctx context.Context, userID int64, amount decimal.Decimal, paymentID int64, opType OperationType, description string) (before, after decimal.Decimal, err error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := l.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&before)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, decimal.Decimal{}, ErrUserNotFound
	}
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	after = money.Round(before.Add(amount))

	if _, err := tx.Exec(ctx, `UPDATE users SET balance = $2 WHERE id = $1`, userID, after); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO balance_operations
    (user_id, operation_type, amount, balance_before, balance_after, related_payment_id, description)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		userID, opType, amount, before, after, paymentID, description,
	); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}

	if l.cache != nil {
		l.cache.SetBalance(ctx, userID, after)
	}
	return before, after, nil
}

// BalanceHistory returns the most recent balance operations for userID,
// newest first.
func (l *Ledger) BalanceHistory(ctx context.Context, userID int64, limit int) ([]BalanceOperation, error) {
	rows, err := l.pool.Query(ctx, `
SELECT id, user_id, operation_type, amount, balance_before, balance_after,
       related_message_id, related_payment_id, admin_user_id, description, created_at
FROM balance_operations
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceOperation
	for rows.Next() {
		var op BalanceOperation
		if err := rows.Scan(&op.ID, &op.UserID, &op.OperationType, &op.Amount, &op.BalanceBefore,
			&op.BalanceAfter, &op.RelatedMessageID, &op.RelatedPaymentID, &op.AdminUserID,
			&op.Description, &op.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// Period names the window total_charged sums over.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodAll   Period = "all"
)

// periodStart returns the lower bound (inclusive) for period, or the zero
// time for PeriodAll/unknown periods, meaning no lower bound is applied.
func periodStart(period Period, now time.Time) (start time.Time, bounded bool) {
	now = now.UTC()
	switch period {
	case PeriodToday:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), true
	case PeriodWeek:
		return now.AddDate(0, 0, -7), true
	case PeriodMonth:
		return now.AddDate(0, 0, -30), true
	default:
		return time.Time{}, false
	}
}

// TotalCharged sums all usage-type deductions for userID (absolute value)
// within period, one of today/week/month/all.
func (l *Ledger) TotalCharged(ctx context.Context, userID int64, period Period) (decimal.Decimal, error) {
	start, bounded := periodStart(period, time.Now())

	var total decimal.Decimal
	var err error
	if bounded {
		err = l.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(-amount), 0) FROM balance_operations
WHERE user_id = $1 AND operation_type = $2 AND created_at >= $3`,
			userID, OperationUsage, start).Scan(&total)
	} else {
		err = l.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(-amount), 0) FROM balance_operations
WHERE user_id = $1 AND operation_type = $2`, userID, OperationUsage).Scan(&total)
	}
	if err != nil {
		return decimal.Decimal{}, err
	}
	return total, nil
}

// VerifyIntegrity recomputes a user's balance by replaying balance_operations
// from zero and compares it against the stored balance, returning the
// discrepancy (stored - computed). A zero discrepancy means the ledger is
// consistent.
func (l *Ledger) VerifyIntegrity(ctx context.Context, userID int64) (discrepancy decimal.Decimal, err error) {
	var stored decimal.Decimal
	err = l.pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Decimal{}, ErrUserNotFound
	}
	if err != nil {
		return decimal.Decimal{}, err
	}

	var computed decimal.Decimal
	err = l.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0) FROM balance_operations WHERE user_id = $1`, userID).Scan(&computed)
	if err != nil {
		return decimal.Decimal{}, err
	}

	return money.Round(stored.Sub(computed)), nil
}

// EnsureUser creates userID with a zero balance if it does not already
// exist, using the same get-or-create-via-UNION-ALL pattern used for thread
// rows, avoiding a race between concurrent first-touch inserts.
func (l *Ledger) EnsureUser(ctx context.Context, userID int64, username string) (User, error) {
	row := l.pool.QueryRow(ctx, `
WITH ins AS (
  INSERT INTO users (id, username) VALUES ($1, $2)
  ON CONFLICT (id) DO NOTHING
  RETURNING id, username, balance, created_at
)
SELECT id, username, balance, created_at FROM ins
UNION ALL
SELECT id, username, balance, created_at FROM users WHERE id = $1
LIMIT 1`, userID, username)

	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Balance, &u.CreatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}
