package ledger

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// These tests exercise the Ledger against a real Postgres instance, the way
// manifold's internal/auth store tests do: skip entirely when no database is
// configured rather than mocking pgxpool.Pool.
func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)

	l := New(pool, nil, decimal.Zero)
	if err := l.Init(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	return l
}

func TestChargeDeductsAndRecordsAudit(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	u, err := l.EnsureUser(ctx, 1001, "alice")
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if !u.Balance.IsZero() {
		t.Fatalf("expected new user to start at zero balance, got %s", u.Balance)
	}

	if _, _, err := l.AdminAdjust(ctx, 0, 1001, decimal.NewFromInt(10), "test topup"); err != nil {
		t.Fatalf("admin adjust: %v", err)
	}

	after, err := l.Charge(ctx, 1001, decimal.NewFromFloat(2.5), "test charge", nil)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if !after.Equal(decimal.NewFromFloat(7.5)) {
		t.Errorf("balance after charge = %s, want 7.5", after)
	}

	history, err := l.BalanceHistory(ctx, 1001, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 audit rows (topup + charge), got %d", len(history))
	}
}

func TestCanRequestReflectsMinimumBalance(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.EnsureUser(ctx, 1002, "bob"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}

	can, exists, err := l.CanRequest(ctx, 1002)
	if err != nil {
		t.Fatalf("can request: %v", err)
	}
	if !exists {
		t.Fatal("expected user to exist")
	}
	if can {
		t.Error("expected a zero-balance user to be blocked at the default minimum")
	}
}

func TestVerifyIntegrityIsZeroAfterConsistentOperations(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.EnsureUser(ctx, 1003, "carol"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if _, _, err := l.AdminAdjust(ctx, 0, 1003, decimal.NewFromInt(5), "seed"); err != nil {
		t.Fatalf("admin adjust: %v", err)
	}

	discrepancy, err := l.VerifyIntegrity(ctx, 1003)
	if err != nil {
		t.Fatalf("verify integrity: %v", err)
	}
	if !discrepancy.IsZero() {
		t.Errorf("expected zero discrepancy, got %s", discrepancy)
	}
}

func TestTotalChargedSumsUsageOnlyWithinPeriod(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.EnsureUser(ctx, 1005, "erin"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if _, _, err := l.AdminAdjust(ctx, 0, 1005, decimal.NewFromInt(10), "seed"); err != nil {
		t.Fatalf("admin adjust: %v", err)
	}
	if _, err := l.Charge(ctx, 1005, decimal.NewFromFloat(0.003), "usage 1", nil); err != nil {
		t.Fatalf("charge: %v", err)
	}
	if _, err := l.Charge(ctx, 1005, decimal.NewFromFloat(0.002), "usage 2", nil); err != nil {
		t.Fatalf("charge: %v", err)
	}

	total, err := l.TotalCharged(ctx, 1005, PeriodAll)
	if err != nil {
		t.Fatalf("total charged: %v", err)
	}
	if !total.Equal(decimal.NewFromFloat(0.005)) {
		t.Errorf("total charged (all) = %s, want 0.005", total)
	}

	// A fresh charge always falls within today's window too.
	todayTotal, err := l.TotalCharged(ctx, 1005, PeriodToday)
	if err != nil {
		t.Fatalf("total charged today: %v", err)
	}
	if !todayTotal.Equal(total) {
		t.Errorf("total charged (today) = %s, want %s", todayTotal, total)
	}
}

func TestChargeRejectsNonPositiveAmount(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.EnsureUser(ctx, 1004, "dave"); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if _, err := l.Charge(ctx, 1004, decimal.Zero, "no-op", nil); err != ErrInvalidAmount {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}
