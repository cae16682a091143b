// Package payments implements the C10 Payments component (spec §4.10):
// Telegram Stars commission calculation, invoice construction, successful
// payment crediting and refund handling, grounded directly on the original
// bot's payment_service.py.
package payments

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus mirrors the original PaymentStatus enum.
type PaymentStatus string

const (
	StatusCompleted PaymentStatus = "completed"
	StatusRefunded  PaymentStatus = "refunded"
)

// Payment is a persisted Telegram Stars transaction record.
type Payment struct {
	ID                        int64
	UserID                    int64
	TelegramPaymentChargeID   string
	StarsAmount               int64
	NominalUSDAmount          decimal.Decimal
	CreditedUSDAmount         decimal.Decimal
	CommissionK1              decimal.Decimal
	CommissionK2              decimal.Decimal
	CommissionK3              decimal.Decimal
	Status                    PaymentStatus
	InvoicePayload            string
	CreatedAt                 time.Time
	RefundedAt                *time.Time
}

// CanRefund reports whether p is still within the refund window.
func (p Payment) CanRefund(refundPeriodDays int) bool {
	return time.Since(p.CreatedAt) < time.Duration(refundPeriodDays)*24*time.Hour
}
