package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// FineStatus represents the settlement status of a fine.
type FineStatus string

const (
	FineStatusPending FineStatus = "PENDING"
	FineStatusPaid    FineStatus = "PAID"
	FineStatusWaived  FineStatus = "WAIVED"
)

// Fine represents a monetary penalty tied to a borrowing. At most one
// non-WAIVED fine exists per borrowing; the amount never exceeds the policy
// cap.
type Fine struct {
	ID          string          `json:"id"`
	BorrowingID string          `json:"borrowing_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      FineStatus      `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// IsValidFineTransition checks a fine settlement edge. Fines settle exactly
// once: PENDING -> PAID or PENDING -> WAIVED.
func IsValidFineTransition(from, to FineStatus) bool {
	if from != FineStatusPending {
		return false
	}
	return to == FineStatusPaid || to == FineStatusWaived
}
