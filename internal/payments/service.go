package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"genesis/internal/ledger"
	"genesis/internal/money"
)

var (
	// ErrInvalidCommission is returned when k1+k2+k3 falls outside [0,1].
	ErrInvalidCommission = errors.New("payments: total commission exceeds 1.0")
	// ErrDuplicatePayment is returned when a charge ID has already been processed.
	ErrDuplicatePayment = errors.New("payments: duplicate payment charge id")
	// ErrPaymentNotFound is returned when a charge ID has no matching record.
	ErrPaymentNotFound = errors.New("payments: payment not found")
	// ErrNotOwner is returned when a refund is requested by someone other than the payer.
	ErrNotOwner = errors.New("payments: payment does not belong to requesting user")
	// ErrNotRefundable is returned for a non-completed or expired payment.
	ErrNotRefundable = errors.New("payments: payment is not refundable")
	// ErrInsufficientBalance is returned when the user's balance can't cover a refund.
	ErrInsufficientBalance = errors.New("payments: insufficient balance for refund")
)

// Commission holds the three commission rates applied to a Stars purchase.
type Commission struct {
	K1, K2, K3 decimal.Decimal // Telegram withdrawal fee, topics fee, owner margin
}

// Service implements the commission formula and payment lifecycle described
// in spec §4.10, grounded 1:1 on the original payment_service.py.
type Service struct {
	pool          *pgxpool.Pool
	ledger        *ledger.Ledger
	starsToUSD    decimal.Decimal
	k1, k2        decimal.Decimal // fixed Telegram fees
	refundDays    int
}

// NewService builds a payments Service.
func NewService(pool *pgxpool.Pool, ldg *ledger.Ledger, starsToUSDRate, telegramWithdrawalFee, telegramTopicsFee float64, refundDays int) *Service {
	return &Service{
		pool:       pool,
		ledger:     ldg,
		starsToUSD: money.FromFloat(starsToUSDRate),
		k1:         money.FromFloat(telegramWithdrawalFee),
		k2:         money.FromFloat(telegramTopicsFee),
		refundDays: refundDays,
	}
}

// Init creates the payments table if it does not already exist.
func (s *Service) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS payments (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    telegram_payment_charge_id TEXT NOT NULL UNIQUE,
    stars_amount BIGINT NOT NULL,
    nominal_usd_amount NUMERIC(18,4) NOT NULL,
    credited_usd_amount NUMERIC(18,4) NOT NULL,
    commission_k1 NUMERIC(6,4) NOT NULL,
    commission_k2 NUMERIC(6,4) NOT NULL,
    commission_k3 NUMERIC(6,4) NOT NULL,
    status TEXT NOT NULL,
    invoice_payload TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    refunded_at TIMESTAMPTZ
);
`)
	return err
}

// CalculateUSDAmount applies the commission formula
//
//	x = stars_amount * STARS_TO_USD_RATE
//	y = x * (1 - k1 - k2 - k3)
//
// returning (nominal, credited, commission), both rounded to 4 decimals.
func (s *Service) CalculateUSDAmount(starsAmount int64, ownerMargin float64) (nominal, credited decimal.Decimal, c Commission, err error) {
	k3 := money.FromFloat(ownerMargin)
	if k3.Sign() < 0 || k3.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Decimal{}, decimal.Decimal{}, Commission{}, fmt.Errorf("%w: k3=%s must be in [0,1]", ErrInvalidCommission, k3)
	}

	total := s.k1.Add(s.k2).Add(k3)
	if total.GreaterThan(decimal.NewFromFloat(1.0001)) {
		return decimal.Decimal{}, decimal.Decimal{}, Commission{}, fmt.Errorf("%w: k1+k2+k3=%s", ErrInvalidCommission, total)
	}

	nominal = money.Round(decimal.NewFromInt(starsAmount).Mul(s.starsToUSD))
	credited = money.Round(nominal.Mul(decimal.NewFromInt(1).Sub(total)))

	return nominal, credited, Commission{K1: s.k1, K2: s.k2, K3: k3}, nil
}

// InvoicePayload builds the unique invoice payload string, matching the
// original's topup_{user_id}_{timestamp}_{stars} format.
func InvoicePayload(userID, starsAmount int64, now time.Time) string {
	return fmt.Sprintf("topup_%d_%d_%d", userID, now.Unix(), starsAmount)
}

// ProcessSuccessfulPayment credits userID's balance after a confirmed
// Telegram SuccessfulPayment update: creates the Payment row, computes
// commissions, and credits the ledger, all keyed off the unique charge ID to
// reject duplicate webhook deliveries.
func (s *Service) ProcessSuccessfulPayment(ctx context.Context, userID int64, telegramChargeID string, starsAmount int64, invoicePayload string, ownerMargin float64) (Payment, error) {
	var existingID int64
	err := s.pool.QueryRow(ctx, `SELECT id FROM payments WHERE telegram_payment_charge_id = $1`, telegramChargeID).Scan(&existingID)
	if err == nil {
		slog.Error("payments.duplicate_detected", "user_id", userID, "charge_id", telegramChargeID, "existing_payment_id", existingID)
		return Payment{}, ErrDuplicatePayment
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, err
	}

	nominal, credited, c, err := s.CalculateUSDAmount(starsAmount, ownerMargin)
	if err != nil {
		return Payment{}, err
	}

	var p Payment
	err = s.pool.QueryRow(ctx, `
INSERT INTO payments
    (user_id, telegram_payment_charge_id, stars_amount, nominal_usd_amount,
     credited_usd_amount, commission_k1, commission_k2, commission_k3, status, invoice_payload)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING id, user_id, telegram_payment_charge_id, stars_amount, nominal_usd_amount,
          credited_usd_amount, commission_k1, commission_k2, commission_k3, status,
          invoice_payload, created_at, refunded_at`,
		userID, telegramChargeID, starsAmount, nominal, credited, c.K1, c.K2, c.K3, StatusCompleted, invoicePayload,
	).Scan(&p.ID, &p.UserID, &p.TelegramPaymentChargeID, &p.StarsAmount, &p.NominalUSDAmount,
		&p.CreditedUSDAmount, &p.CommissionK1, &p.CommissionK2, &p.CommissionK3, &p.Status,
		&p.InvoicePayload, &p.CreatedAt, &p.RefundedAt)
	if err != nil {
		return Payment{}, err
	}

	description := fmt.Sprintf("Balance top-up: %d Stars -> $%s (nominal $%s, k1=%s, k2=%s, k3=%s)",
		starsAmount, credited, nominal, c.K1, c.K2, c.K3)
	before, after, err := s.ledger.CreditPayment(ctx, userID, credited, p.ID, description)
	if err != nil {
		return Payment{}, err
	}

	slog.Info("payments.processed_successfully", "payment_id", p.ID, "user_id", userID,
		"stars_amount", starsAmount, "credited_usd", credited.String(),
		"balance_before", before.String(), "balance_after", after.String())

	return p, nil
}

// ProcessRefund validates and executes a refund for telegramChargeID
// requested by userID. The caller is responsible for invoking the
// messaging-platform's refund API separately; this only updates ledger state
// and the payment record.
func (s *Service) ProcessRefund(ctx context.Context, userID int64, telegramChargeID string) (Payment, error) {
	p, err := s.getByChargeID(ctx, telegramChargeID)
	if err != nil {
		return Payment{}, err
	}

	if p.UserID != userID {
		return Payment{}, ErrNotOwner
	}
	if p.Status != StatusCompleted {
		return Payment{}, fmt.Errorf("%w: status=%s", ErrNotRefundable, p.Status)
	}
	if !p.CanRefund(s.refundDays) {
		return Payment{}, fmt.Errorf("%w: older than %d days", ErrNotRefundable, s.refundDays)
	}

	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		return Payment{}, err
	}
	if balance.LessThan(p.CreditedUSDAmount) {
		return Payment{}, ErrInsufficientBalance
	}

	description := fmt.Sprintf("Refund: %d Stars payment refunded, $%s deducted", p.StarsAmount, p.CreditedUSDAmount)
	before, after, err := s.ledger.DebitRefund(ctx, userID, p.CreditedUSDAmount, p.ID, description)
	if err != nil {
		return Payment{}, err
	}

	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx, `UPDATE payments SET status = $2, refunded_at = $3 WHERE id = $1`, p.ID, StatusRefunded, now)
	if err != nil {
		return Payment{}, err
	}
	p.Status = StatusRefunded
	p.RefundedAt = &now

	slog.Info("payments.refund_processed", "payment_id", p.ID, "user_id", userID,
		"refunded_usd", p.CreditedUSDAmount.String(), "balance_before", before.String(), "balance_after", after.String())

	return p, nil
}

func (s *Service) getByChargeID(ctx context.Context, telegramChargeID string) (Payment, error) {
	var p Payment
	err := s.pool.QueryRow(ctx, `
SELECT id, user_id, telegram_payment_charge_id, stars_amount, nominal_usd_amount,
       credited_usd_amount, commission_k1, commission_k2, commission_k3, status,
       invoice_payload, created_at, refunded_at
FROM payments WHERE telegram_payment_charge_id = $1`, telegramChargeID,
	).Scan(&p.ID, &p.UserID, &p.TelegramPaymentChargeID, &p.StarsAmount, &p.NominalUSDAmount,
		&p.CreditedUSDAmount, &p.CommissionK1, &p.CommissionK2, &p.CommissionK3, &p.Status,
		&p.InvoicePayload, &p.CreatedAt, &p.RefundedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound
	}
	return p, err
}
