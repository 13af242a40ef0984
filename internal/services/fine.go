package services

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ngenohkevin/circulation/internal/config"
)

// CalculateFine computes the penalty for a late return. The amount is
// daysLate * FinePerDay, capped at MaxFine, where daysLate counts whole
// 24-hour days elapsed past the due date; a partial day is not charged.
// Returns on or before the due date cost nothing. Pure function, no side
// effects; the ledger persists the result.
func CalculateFine(dueDate, returnDate time.Time, policy config.Policy) decimal.Decimal {
	if !returnDate.After(dueDate) {
		return decimal.Zero
	}

	daysLate := int64(returnDate.Sub(dueDate).Hours() / 24)
	if daysLate <= 0 {
		return decimal.Zero
	}

	amount := policy.FinePerDay.Mul(decimal.NewFromInt(daysLate))
	if amount.GreaterThan(policy.MaxFine) {
		return policy.MaxFine
	}
	return amount
}
