package models

import (
	"time"
)

// Member is the minimal eligibility snapshot the circulation core reads.
// Member lifecycle (registration, profile, auth) is owned elsewhere; the
// core only checks the active flag before lending. Unpaid fine totals are
// derived from the member's fine records.
type Member struct {
	ID        string    `json:"id"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
