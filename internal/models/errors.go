package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a domain error so callers can decide how to react
// without matching on message text.
type ErrorKind string

const (
	ErrKindNotFound          ErrorKind = "NOT_FOUND"
	ErrKindConflict          ErrorKind = "CONFLICT"
	ErrKindInvalidTransition ErrorKind = "INVALID_TRANSITION"
	ErrKindRuleViolation     ErrorKind = "BUSINESS_RULE_VIOLATION"
	ErrKindInvalidInput      ErrorKind = "INVALID_INPUT"
	ErrKindUnavailable       ErrorKind = "UNAVAILABLE"
)

// Rule codes carried by BUSINESS_RULE_VIOLATION errors.
const (
	RuleBookNotAvailable       = "BOOK_NOT_AVAILABLE"
	RuleBorrowingLimitExceeded = "BORROWING_LIMIT_EXCEEDED"
	RuleOutstandingFines       = "OUTSTANDING_FINES"
	RuleUserNotEligible        = "USER_NOT_ELIGIBLE"
	RuleAlreadyBorrowed        = "ALREADY_BORROWED"
	RuleAlreadyReturned        = "ALREADY_RETURNED"
	RuleInvalidStatus          = "INVALID_STATUS"
	RuleCannotRenewOverdue     = "CANNOT_RENEW_OVERDUE"
	RuleRenewalLimitExceeded   = "RENEWAL_LIMIT_EXCEEDED"
	RuleInvalidDueDate         = "INVALID_DUE_DATE"
	RuleAlreadyReserved        = "ALREADY_RESERVED"
	RulePendingFine            = "PENDING_FINE"
)

// DomainError is the single error type surfaced by the circulation core.
// Kind selects the taxonomy bucket; Rule carries the specific business rule
// for BUSINESS_RULE_VIOLATION errors.
type DomainError struct {
	Kind    ErrorKind `json:"kind"`
	Rule    string    `json:"rule,omitempty"`
	Message string    `json:"message"`
}

func (e *DomainError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Rule, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches on Kind (and Rule, when the target specifies one) so that
// errors.Is works for wrapped domain errors.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	if t.Rule != "" && t.Rule != e.Rule {
		return false
	}
	return true
}

func NewNotFound(format string, args ...any) *DomainError {
	return &DomainError{Kind: ErrKindNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewConflict(format string, args ...any) *DomainError {
	return &DomainError{Kind: ErrKindConflict, Message: fmt.Sprintf(format, args...)}
}

func NewInvalidTransition(format string, args ...any) *DomainError {
	return &DomainError{Kind: ErrKindInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

func NewRuleViolation(rule, format string, args ...any) *DomainError {
	return &DomainError{Kind: ErrKindRuleViolation, Rule: rule, Message: fmt.Sprintf(format, args...)}
}

func NewInvalidInput(format string, args ...any) *DomainError {
	return &DomainError{Kind: ErrKindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

func NewUnavailable(format string, args ...any) *DomainError {
	return &DomainError{Kind: ErrKindUnavailable, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is (or wraps) a DomainError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Kind == kind
}

// IsRule reports whether err is (or wraps) a rule violation with the given
// rule code.
func IsRule(err error, rule string) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Kind == ErrKindRuleViolation && de.Rule == rule
}
