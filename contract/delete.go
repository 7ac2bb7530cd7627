/*
delete.go - Password-guarded soft deletion of a purchase record

PURPOSE:
  Deleting a contract never removes the row and never reverses the ledger
  entries it produced. It flips the history status, records who did it,
  and appends an audit-log row - all inside one transaction.

THE LEDGER GAP:
  The balance and lesson entries written at registration stay untouched.
  That reproduces the source system's behavior on purpose: whether a
  delete should compensate the ledgers is a product decision. When it is
  made, the compensation is a single BalanceLedger.Append /
  LessonLedger.Append with opposite sign inside this same transaction.
*/
package contract

import (
	"context"
	"fmt"
	"time"

	"github.com/fairway/academy-ledger/ledger"
)

// Delete verifies the privileged password, soft-deletes the history row,
// and appends the audit entry. Returns the affected member id.
func (w *Workflow) Delete(ctx context.Context, historyID int64, password string) (ledger.MemberID, error) {
	if historyID == 0 {
		return 0, fmt.Errorf("%w: contract id required", ledger.ErrValidation)
	}
	if password == "" {
		return 0, fmt.Errorf("%w: privileged password required", ledger.ErrValidation)
	}

	var member ledger.MemberID
	err := w.Store.WithTx(ctx, func(tx Store) error {
		staffID, err := tx.VerifyDeleteCredential(ctx, password)
		if err != nil {
			return err
		}

		h, err := tx.GetHistory(ctx, historyID)
		if err != nil {
			return err
		}
		if h == nil {
			return fmt.Errorf("%w: contract history %d", ledger.ErrNotFound, historyID)
		}
		member = h.MemberID

		if err := tx.MarkHistoryDeleted(ctx, historyID, staffID); err != nil {
			return err
		}

		return tx.AppendAudit(ctx, ledger.AuditEntry{
			Action:      ledger.AuditContractDeleted,
			Description: fmt.Sprintf("contract %d deleted", historyID),
			Table:       "contract_history",
			RecordID:    historyID,
			MemberID:    h.MemberID,
			ActorID:     staffID,
			Timestamp:   time.Now().UTC(),
		})
	})
	return member, err
}
