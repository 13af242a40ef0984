package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BorrowingStatus represents the lifecycle status of a loan.
type BorrowingStatus string

const (
	BorrowingStatusActive   BorrowingStatus = "ACTIVE"
	BorrowingStatusReturned BorrowingStatus = "RETURNED"
	BorrowingStatusOverdue  BorrowingStatus = "OVERDUE"
	BorrowingStatusLost     BorrowingStatus = "LOST"
)

// Borrowing represents a single loan of one copy to one member.
type Borrowing struct {
	ID           string          `json:"id"`
	CopyID       string          `json:"copy_id"`
	MemberID     string          `json:"member_id"`
	BorrowDate   time.Time       `json:"borrow_date"`
	DueDate      time.Time       `json:"due_date"`
	ReturnDate   *time.Time      `json:"return_date,omitempty"`
	Status       BorrowingStatus `json:"status"`
	RenewalCount int32           `json:"renewal_count"`
	FineAmount   decimal.Decimal `json:"fine_amount"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// IsOpen reports whether the loan still holds the copy.
func (b *Borrowing) IsOpen() bool {
	return b.Status == BorrowingStatusActive || b.Status == BorrowingStatusOverdue
}

// IsValidBorrowingTransition checks a loan status edge. Loan status advances
// monotonically: ACTIVE -> {RETURNED, OVERDUE, LOST}, OVERDUE -> {RETURNED, LOST}.
func IsValidBorrowingTransition(from, to BorrowingStatus) bool {
	validTransitions := map[BorrowingStatus][]BorrowingStatus{
		BorrowingStatusActive:   {BorrowingStatusReturned, BorrowingStatusOverdue, BorrowingStatusLost},
		BorrowingStatusOverdue:  {BorrowingStatusReturned, BorrowingStatusLost},
		BorrowingStatusReturned: {},
		BorrowingStatusLost:     {},
	}

	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// BorrowRequest represents a request to borrow a specific copy.
type BorrowRequest struct {
	CopyID   string     `json:"copy_id"`
	MemberID string     `json:"member_id"`
	DueDate  *time.Time `json:"due_date,omitempty"`
}

// ReturnRequest represents a request to return a borrowed copy.
type ReturnRequest struct {
	BorrowingID     string `json:"borrowing_id"`
	ConditionReport string `json:"condition_report,omitempty"`
	Damaged         bool   `json:"damaged"`
}

// ReturnResult pairs the closed borrowing with the fine assessed at return
// time, if any.
type ReturnResult struct {
	Borrowing *Borrowing `json:"borrowing"`
	Fine      *Fine      `json:"fine,omitempty"`
}
