/*
Package pros tracks which instructor is responsible for a member or for a
member's dependent.

PURPOSE:
  A relation links (member, dependent?) to an instructor nickname with a
  status. The invariant for the simple case is single-active: at most one
  active relation per (member, dependent) pair. The explicit "add" path is
  the only way to hold several active relations at once.

TWO WRITE PATHS:
  1. Apply: the purchase flow's directed change. "change" expires every
     active relation for the pair and inserts the new one; "add" inserts
     without expiring.
  2. SetAssignments: the standalone edit flow. Full-set reconciliation:
     expire actives missing from the desired set, insert desired
     instructors without an active row, leave matches untouched. Running
     it twice with the same set is a no-op the second time.

CONCURRENCY:
  Both paths run inside the caller's transaction, and the store serializes
  write transactions, so two concurrent "change" requests cannot interleave
  between the expire and the insert. A unique index is not an option here:
  the "add" path legitimately keeps several active rows per pair.

SEE ALSO:
  - contract/workflow.go: calls Apply from the registration flow
*/
package pros

import (
	"context"
	"fmt"
	"time"

	"github.com/fairway/academy-ledger/ledger"
)

// =============================================================================
// RELATION
// =============================================================================

type AssignmentStatus string

const (
	StatusActive  AssignmentStatus = "active"
	StatusExpired AssignmentStatus = "expired"
)

type ChangeMode string

const (
	ModeChange ChangeMode = "change" // expire existing actives, then insert
	ModeAdd    ChangeMode = "add"    // insert an additional active relation
)

// Relation is one member(or dependent)-to-instructor link.
type Relation struct {
	ID           int64
	MemberID     ledger.MemberID
	DependentID  *ledger.DependentID
	ProNickname  string
	RegisteredAt time.Time
	Status       AssignmentStatus
}

// =============================================================================
// STORE
// =============================================================================

// Store persists relations. Writes are expected to run inside the caller's
// transaction (see contract.Store.WithTx).
type Store interface {
	// ActiveRelations returns active rows for the (member, dependent) pair.
	ActiveRelations(ctx context.Context, member ledger.MemberID, dependent *ledger.DependentID) ([]Relation, error)

	// InsertRelation creates an active row and returns its id.
	InsertRelation(ctx context.Context, r Relation) (int64, error)

	// ExpireRelation flips one row to expired.
	ExpireRelation(ctx context.Context, id int64) error

	// ExpireRelations flips every active row for the pair to expired and
	// returns how many were affected.
	ExpireRelations(ctx context.Context, member ledger.MemberID, dependent *ledger.DependentID) (int, error)
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry implements both write paths over a Store.
type Registry struct{}

// Apply performs the purchase flow's directed change for one instructor.
// With no existing active relation the mode is irrelevant: it inserts.
func (Registry) Apply(ctx context.Context, store Store, member ledger.MemberID, dependent *ledger.DependentID, nickname string, mode ChangeMode) error {
	if nickname == "" {
		return fmt.Errorf("%w: instructor nickname required", ledger.ErrValidation)
	}

	active, err := store.ActiveRelations(ctx, member, dependent)
	if err != nil {
		return err
	}

	if len(active) > 0 && mode == ModeChange {
		if _, err := store.ExpireRelations(ctx, member, dependent); err != nil {
			return err
		}
	}

	// Skip the insert only when the same instructor is already active and
	// nothing was expired.
	if mode != ModeChange {
		for _, r := range active {
			if r.ProNickname == nickname {
				return nil
			}
		}
	}

	_, err = store.InsertRelation(ctx, Relation{
		MemberID:     member,
		DependentID:  dependent,
		ProNickname:  nickname,
		RegisteredAt: time.Now().UTC(),
		Status:       StatusActive,
	})
	return err
}

// SetAssignments reconciles the pair's active set against desired.
// Idempotent: a second call with the same set changes nothing.
func (Registry) SetAssignments(ctx context.Context, store Store, member ledger.MemberID, dependent *ledger.DependentID, desired []string) error {
	if member == 0 {
		return fmt.Errorf("%w: member id required", ledger.ErrValidation)
	}

	active, err := store.ActiveRelations(ctx, member, dependent)
	if err != nil {
		return err
	}

	wanted := make(map[string]bool, len(desired))
	for _, n := range desired {
		wanted[n] = true
	}

	have := make(map[string]bool, len(active))
	for _, r := range active {
		have[r.ProNickname] = true
		if !wanted[r.ProNickname] {
			if err := store.ExpireRelation(ctx, r.ID); err != nil {
				return err
			}
		}
	}

	for _, n := range desired {
		if have[n] {
			continue
		}
		_, err := store.InsertRelation(ctx, Relation{
			MemberID:     member,
			DependentID:  dependent,
			ProNickname:  n,
			RegisteredAt: time.Now().UTC(),
			Status:       StatusActive,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Active returns the current active relations for the pair.
func (Registry) Active(ctx context.Context, store Store, member ledger.MemberID, dependent *ledger.DependentID) ([]Relation, error) {
	return store.ActiveRelations(ctx, member, dependent)
}
