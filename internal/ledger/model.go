// Package ledger implements the transactional balance and audit-log contract
// (spec §4.1): get_balance, can_request, charge, admin_adjust, balance_history,
// total_charged and verify_integrity, with one database transaction plus at
// most one cache update per operation, never twice.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperationType classifies a BalanceOperation audit row.
type OperationType string

const (
	OperationUsage      OperationType = "usage"
	OperationPayment    OperationType = "payment"
	OperationRefund     OperationType = "refund"
	OperationAdminTopup OperationType = "admin_topup"
)

// BalanceOperation is an immutable audit-trail row recorded for every
// balance mutation.
type BalanceOperation struct {
	ID                int64
	UserID            int64
	OperationType     OperationType
	Amount            decimal.Decimal // signed: negative = deduction
	BalanceBefore     decimal.Decimal
	BalanceAfter      decimal.Decimal
	RelatedMessageID  *int64
	RelatedPaymentID  *int64
	AdminUserID       *int64
	Description       string
	CreatedAt         time.Time
}

// User is the minimal user record the ledger owns balance for. The full User
// entity (profile, locale, etc.) lives outside this package's concern.
type User struct {
	ID        int64
	Username  string
	Balance   decimal.Decimal
	CreatedAt time.Time
}
