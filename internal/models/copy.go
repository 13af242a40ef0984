package models

import (
	"time"
)

// CopyStatus represents the lifecycle status of a physical book copy.
type CopyStatus string

const (
	CopyStatusAvailable   CopyStatus = "AVAILABLE"
	CopyStatusBorrowed    CopyStatus = "BORROWED"
	CopyStatusReserved    CopyStatus = "RESERVED"
	CopyStatusMaintenance CopyStatus = "MAINTENANCE"
	CopyStatusLost        CopyStatus = "LOST"
	CopyStatusDamaged     CopyStatus = "DAMAGED"
)

// BookCopy represents one physical instance of a book title.
// Version is a monotonic counter bumped on every status write; all status
// changes go through the copy registry's compare-and-set.
type BookCopy struct {
	ID         string     `json:"id"`
	BookID     string     `json:"book_id"`
	CopyNumber int32      `json:"copy_number"`
	Status     CopyStatus `json:"status"`
	Condition  string     `json:"condition,omitempty"`
	Location   string     `json:"location,omitempty"`
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// validCopyTransitions is the authoritative copy state machine. Any edge not
// listed here is illegal. LOST has no outgoing edges; BORROWED may not go to
// LOST directly (a loss report routes through DAMAGED first).
var validCopyTransitions = map[CopyStatus][]CopyStatus{
	CopyStatusAvailable:   {CopyStatusBorrowed, CopyStatusReserved, CopyStatusMaintenance},
	CopyStatusBorrowed:    {CopyStatusAvailable, CopyStatusReserved, CopyStatusDamaged},
	CopyStatusReserved:    {CopyStatusBorrowed, CopyStatusAvailable},
	CopyStatusMaintenance: {CopyStatusAvailable},
	CopyStatusDamaged:     {CopyStatusMaintenance, CopyStatusLost},
	CopyStatusLost:        {},
}

// IsValidCopyStatus validates a copy status value.
func IsValidCopyStatus(status CopyStatus) bool {
	_, ok := validCopyTransitions[status]
	return ok
}

// IsValidCopyTransition checks whether the state machine permits the edge
// from one copy status to another.
func IsValidCopyTransition(from, to CopyStatus) bool {
	for _, allowed := range validCopyTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
