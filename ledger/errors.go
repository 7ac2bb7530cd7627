/*
errors.go - Centralized error taxonomy for the ledger engine

PURPOSE:
  All error categories in one place so every layer classifies failures the
  same way. The API layer maps these onto HTTP statuses; nothing below it
  ever leaks a raw database error to a caller.

ERROR CATEGORIES:
  1. Validation     - malformed input, rejected before any transaction
  2. Precondition   - business rule failed (insufficient credit, hold too long)
  3. NotFound       - referenced member/catalog/contract absent
  4. Conflict       - concurrent writers collided; retry the whole operation
  5. Persistence    - the transaction itself failed and was rolled back

USAGE:
  Wrap with context, classify with errors.Is:

    if errors.Is(err, ledger.ErrInsufficientCredit) { ... }

SEE ALSO:
  - contract/workflow.go: converts these at the workflow boundary
  - api/handlers.go: HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks malformed or missing input. No transaction is
	// opened for these.
	ErrValidation = errors.New("validation failed")

	// ErrInsufficientCredit is returned when a credit payment exceeds the
	// member's balance.
	ErrInsufficientCredit = errors.New("insufficient credit balance")

	// ErrPrecondition marks any other business-rule failure that carries
	// contextual data for the caller.
	ErrPrecondition = errors.New("precondition failed")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when concurrent writers collided on a balance
	// chain or a business key. The operation is safe to retry once.
	ErrConflict = errors.New("concurrent modification detected")

	// ErrPersistence wraps database failures after the transaction was
	// rolled back.
	ErrPersistence = errors.New("persistence failure")

	// ErrChainBroken is reported by chain verification when before/after
	// balances do not link. Monitoring only, never raised during writes.
	ErrChainBroken = errors.New("ledger chain broken")

	// ErrUnauthorized is returned when a privileged-password check fails.
	ErrUnauthorized = errors.New("unauthorized")
)

// =============================================================================
// STRUCTURED ERRORS - Carry context for the caller
// =============================================================================

// InsufficientCreditError carries the data the UI needs to display a
// shortage: what the member has and what the purchase costs.
type InsufficientCreditError struct {
	MemberID       MemberID
	CurrentBalance Amount
	RequiredAmount Amount
}

func (e *InsufficientCreditError) Error() string {
	return fmt.Sprintf("insufficient credit: balance %s, required %s",
		e.CurrentBalance, e.RequiredAmount)
}

func (e *InsufficientCreditError) Unwrap() error { return ErrInsufficientCredit }

// ChainError describes a broken balance chain found during verification.
type ChainError struct {
	MemberID MemberID
	EntryID  string // bill id or lesson business key
	Expected string
	Actual   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("chain broken at entry %s for member %d: expected before=%s, got %s",
		e.EntryID, e.MemberID, e.Expected, e.Actual)
}

func (e *ChainError) Unwrap() error { return ErrChainBroken }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable reports whether a single bounded retry of the whole
// transaction may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError reports whether the failure was caused by the request
// rather than the system.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientCredit) ||
		errors.Is(err, ErrPrecondition) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnauthorized)
}
