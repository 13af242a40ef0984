package models

import (
	"time"
)

// ReservationStatus represents the lifecycle status of a reservation.
type ReservationStatus string

const (
	ReservationStatusPending        ReservationStatus = "PENDING"
	ReservationStatusReadyForPickup ReservationStatus = "READY_FOR_PICKUP"
	ReservationStatusFulfilled      ReservationStatus = "FULFILLED"
	ReservationStatusExpired        ReservationStatus = "EXPIRED"
	ReservationStatusCancelled      ReservationStatus = "CANCELLED"
)

// Reservation represents queued demand for a book title (not a specific
// copy). QueuePosition is a dense 1..N rank among PENDING reservations for
// the same book, ordered by reservation time (ties broken by ID).
type Reservation struct {
	ID               string            `json:"id"`
	BookID           string            `json:"book_id"`
	MemberID         string            `json:"member_id"`
	ReservationDate  time.Time         `json:"reservation_date"`
	Status           ReservationStatus `json:"status"`
	QueuePosition    int32             `json:"queue_position"`
	CopyID           string            `json:"copy_id,omitempty"`
	PickupExpiryDate *time.Time        `json:"pickup_expiry_date,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// IsOpen reports whether the reservation still represents live demand.
func (r *Reservation) IsOpen() bool {
	return r.Status == ReservationStatusPending || r.Status == ReservationStatusReadyForPickup
}

// IsValidReservationTransition checks a reservation status edge.
func IsValidReservationTransition(from, to ReservationStatus) bool {
	validTransitions := map[ReservationStatus][]ReservationStatus{
		ReservationStatusPending:        {ReservationStatusReadyForPickup, ReservationStatusCancelled},
		ReservationStatusReadyForPickup: {ReservationStatusFulfilled, ReservationStatusExpired, ReservationStatusCancelled},
		ReservationStatusFulfilled:      {},
		ReservationStatusExpired:        {},
		ReservationStatusCancelled:      {},
	}

	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ReserveRequest represents a request to join a book's reservation queue.
type ReserveRequest struct {
	BookID   string `json:"book_id"`
	MemberID string `json:"member_id"`
}

// QueueSnapshot represents the current reservation queue for a book.
type QueueSnapshot struct {
	BookID       string        `json:"book_id"`
	QueueLength  int           `json:"queue_length"`
	Reservations []Reservation `json:"reservations"`
}
