/*
term.go - Hold registration for date-ranged passes

PURPOSE:
  A hold suspends a term pass for a contiguous window and pushes the
  pass's expiry forward by exactly the held day count. Expiry never moves
  backward; holds are the only mechanism that moves it at all.

BOUNDS:
  The day count is inclusive of both endpoints and capped at 30. The cap
  and the date-order check run before the transaction opens.
*/
package contract

import (
	"context"
	"fmt"
	"time"

	"github.com/fairway/academy-ledger/ledger"
)

// HoldInput describes one hold registration.
type HoldInput struct {
	TermID  int64
	Start   time.Time
	End     time.Time
	Reason  string
	ActorID string
}

// HoldDays returns the inclusive day count of the window.
func (in HoldInput) HoldDays() int {
	return int(in.End.Sub(in.Start).Hours()/24) + 1
}

// RegisterHold inserts the hold and advances the pass expiry in one
// transaction.
func (w *Workflow) RegisterHold(ctx context.Context, in HoldInput) (TermHold, error) {
	if in.TermID == 0 || in.Reason == "" || in.Start.IsZero() || in.End.IsZero() {
		return TermHold{}, fmt.Errorf("%w: term id, dates and reason required", ledger.ErrValidation)
	}
	if in.End.Before(in.Start) {
		return TermHold{}, fmt.Errorf("%w: hold start must precede end", ledger.ErrValidation)
	}
	days := in.HoldDays()
	if days > MaxHoldDays {
		return TermHold{}, fmt.Errorf("%w: hold limited to %d days, got %d",
			ledger.ErrPrecondition, MaxHoldDays, days)
	}

	hold := TermHold{
		TermID:       in.TermID,
		Start:        in.Start,
		End:          in.End,
		Days:         days,
		Reason:       in.Reason,
		StaffID:      in.ActorID,
		RegisteredAt: time.Now().UTC(),
	}

	err := w.Store.WithTx(ctx, func(tx Store) error {
		pass, err := tx.GetTermPass(ctx, in.TermID)
		if err != nil {
			return err
		}
		if pass == nil {
			return fmt.Errorf("%w: term pass %d", ledger.ErrNotFound, in.TermID)
		}

		id, err := tx.InsertTermHold(ctx, hold)
		if err != nil {
			return err
		}
		hold.ID = id

		if err := tx.AdvanceTermExpiry(ctx, in.TermID, days); err != nil {
			return err
		}

		return tx.AppendAudit(ctx, ledger.AuditEntry{
			Action:      ledger.AuditHoldRegistered,
			Description: fmt.Sprintf("term %d held %d days", in.TermID, days),
			Table:       "term_hold",
			RecordID:    id,
			MemberID:    pass.MemberID,
			ActorID:     in.ActorID,
			Timestamp:   time.Now().UTC(),
		})
	})
	if err != nil {
		return TermHold{}, err
	}
	return hold, nil
}

// Holds lists a pass's registered holds, newest first.
func (w *Workflow) Holds(ctx context.Context, termID int64) ([]TermHold, error) {
	return w.Store.TermHolds(ctx, termID)
}

// ClearHold removes the displayed hold window from the pass. Hold history
// and the already-advanced expiry are untouched.
func (w *Workflow) ClearHold(ctx context.Context, termID int64) error {
	if termID == 0 {
		return fmt.Errorf("%w: term id required", ledger.ErrValidation)
	}
	return w.Store.ClearHoldMarker(ctx, termID)
}
