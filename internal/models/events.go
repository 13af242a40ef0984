package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types published to the audit/notification pipeline. Events are
// emitted at-least-once after the triggering state change is committed;
// consumers are expected to be idempotent.
const (
	EventCopyStatusChanged         = "CopyStatusChanged"
	EventBorrowingCreated          = "BorrowingCreated"
	EventBorrowingReturned         = "BorrowingReturned"
	EventReservationReadyForPickup = "ReservationReadyForPickup"
	EventReservationExpired        = "ReservationExpired"
)

// DomainEvent is the envelope for outbound circulation events.
type DomainEvent struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// CopyStatusChangedPayload records a copy state machine transition.
type CopyStatusChangedPayload struct {
	CopyID string     `json:"copy_id"`
	From   CopyStatus `json:"from"`
	To     CopyStatus `json:"to"`
}

// BorrowingCreatedPayload records a new loan.
type BorrowingCreatedPayload struct {
	BorrowingID string    `json:"borrowing_id"`
	CopyID      string    `json:"copy_id"`
	MemberID    string    `json:"member_id"`
	DueDate     time.Time `json:"due_date"`
}

// BorrowingReturnedPayload records a closed loan and any fine assessed.
type BorrowingReturnedPayload struct {
	BorrowingID string           `json:"borrowing_id"`
	CopyID      string           `json:"copy_id"`
	MemberID    string           `json:"member_id"`
	FineAmount  *decimal.Decimal `json:"fine_amount,omitempty"`
}

// ReservationReadyForPickupPayload records a promoted reservation.
type ReservationReadyForPickupPayload struct {
	ReservationID    string    `json:"reservation_id"`
	BookID           string    `json:"book_id"`
	MemberID         string    `json:"member_id"`
	CopyID           string    `json:"copy_id"`
	PickupExpiryDate time.Time `json:"pickup_expiry_date"`
}

// ReservationExpiredPayload records a reservation that lapsed unclaimed.
type ReservationExpiredPayload struct {
	ReservationID string `json:"reservation_id"`
	BookID        string `json:"book_id"`
	MemberID      string `json:"member_id"`
}
