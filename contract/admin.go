/*
admin.go - Lesson-contract administration and read-only aggregation

Extension of expiry dates moves every one of the member's lesson bundles
together; there is no per-bundle path. The stats and history reads back the
overview tabs in the admin UI.
*/
package contract

import (
	"context"
	"fmt"
	"time"

	"github.com/fairway/academy-ledger/ledger"
)

// ExtendLessonExpiry shifts the expiry of all of a member's lesson
// contracts to the given date and returns how many were updated.
func (w *Workflow) ExtendLessonExpiry(ctx context.Context, member ledger.MemberID, expiry time.Time, actor string) (int, error) {
	if member == 0 {
		return 0, fmt.Errorf("%w: member id required", ledger.ErrValidation)
	}
	if expiry.IsZero() {
		return 0, fmt.Errorf("%w: expiry date required", ledger.ErrValidation)
	}

	var updated int
	err := w.Store.WithTx(ctx, func(tx Store) error {
		n, err := tx.ExtendLessonExpiry(ctx, member, expiry)
		if err != nil {
			return err
		}
		updated = n
		if n == 0 {
			return nil // nothing to audit
		}
		return tx.AppendAudit(ctx, ledger.AuditEntry{
			Action:      ledger.AuditExpiryExtended,
			Description: fmt.Sprintf("lesson expiry moved to %s for %d contracts", expiry.Format("2006-01-02"), n),
			Table:       "ls_contracts",
			MemberID:    member,
			ActorID:     actor,
			Timestamp:   time.Now().UTC(),
		})
	})
	return updated, err
}

// Stats aggregates a member's purchase history.
func (w *Workflow) Stats(ctx context.Context, member ledger.MemberID) (Stats, error) {
	if member == 0 {
		return Stats{}, fmt.Errorf("%w: member id required", ledger.ErrValidation)
	}
	return w.Store.ContractStats(ctx, member)
}

// LessonHistoryItem is one lesson ledger row decorated with the date
// decoded from its business key.
type LessonHistoryItem struct {
	Entry ledger.LessonEntry
	Date  time.Time
}

// LessonHistory returns a member's lesson entries newest first.
func (w *Workflow) LessonHistory(ctx context.Context, member ledger.MemberID) ([]LessonHistoryItem, error) {
	entries, err := w.Store.Lessons(ctx, member)
	if err != nil {
		return nil, err
	}
	items := make([]LessonHistoryItem, len(entries))
	for i, e := range entries {
		items[i] = LessonHistoryItem{Entry: e, Date: ledger.DateFromKey(e.ID)}
	}
	return items, nil
}

// LessonBalance reports a partition's remaining count next to its
// reconciliation totals.
func (w *Workflow) LessonBalance(ctx context.Context, p ledger.Partition) (ledger.Reconciliation, error) {
	return w.Lessons.Reconcile(ctx, w.Store, p)
}
