/*
bills.go - Balance ledger operations

PURPOSE:
  Appends monetary entries to a member's balance chain and answers balance
  queries. The chain rule lives here and nowhere else:

    BalanceAfter = BalanceBefore + Net
    BalanceBefore[n] = BalanceAfter[n-1]

WHY READ-THEN-APPEND INSIDE ONE TRANSACTION:
  Two concurrent purchases for the same member must not both chain off the
  same "latest" row, or one update is lost and the chain breaks. Append
  therefore takes the caller's transaction-scoped store; the sufficiency
  check a workflow performs must re-read through the same store.

CORRECTIONS:
  There is no update or delete. A mistake is corrected by appending a
  compensating entry with the opposite sign; the status field only marks a
  row as reversed for display.

SEE ALSO:
  - contract/workflow.go: the registration fan-out that drives Append
  - store.go: BillStore contract
*/
package ledger

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// BALANCE LEDGER
// =============================================================================

// BalanceLedger appends to and reads the monetary chain. It is stateless;
// all persistence goes through the store passed per call so the caller
// controls transaction scope.
type BalanceLedger struct{}

// BillInput describes one entry to append. Net is signed.
type BillInput struct {
	MemberID   MemberID
	Date       time.Time
	Type       BillType
	Text       string
	Gross      Amount
	Discount   Amount
	Net        Amount
	ContractID *int64
}

// Append chains a new entry off the member's latest balance and inserts it.
// MUST be called on a transaction-scoped store when sibling writes exist.
func (BalanceLedger) Append(ctx context.Context, store BillStore, in BillInput) (BillEntry, error) {
	if in.MemberID == 0 {
		return BillEntry{}, fmt.Errorf("%w: member id required", ErrValidation)
	}

	before := NewAmount(0)
	latest, err := store.LatestBill(ctx, in.MemberID)
	if err != nil {
		return BillEntry{}, fmt.Errorf("read latest bill: %w", err)
	}
	if latest != nil {
		before = latest.BalanceAfter
	}

	entry := BillEntry{
		MemberID:      in.MemberID,
		Date:          in.Date,
		Type:          in.Type,
		Text:          in.Text,
		Gross:         in.Gross,
		Discount:      in.Discount,
		Net:           in.Net,
		BalanceBefore: before,
		BalanceAfter:  before.Add(in.Net),
		ContractID:    in.ContractID,
		Status:        BillActive,
		CreatedAt:     time.Now().UTC(),
	}

	id, err := store.AppendBill(ctx, entry)
	if err != nil {
		return BillEntry{}, err
	}
	entry.ID = id
	return entry, nil
}

// CurrentBalance returns the latest BalanceAfter, or zero for a member with
// no entries.
func (BalanceLedger) CurrentBalance(ctx context.Context, store BillStore, member MemberID) (Amount, error) {
	latest, err := store.LatestBill(ctx, member)
	if err != nil {
		return Amount{}, err
	}
	if latest == nil {
		return NewAmount(0), nil
	}
	return latest.BalanceAfter, nil
}

// History returns a member's entries ordered by id.
func (BalanceLedger) History(ctx context.Context, store BillStore, member MemberID) ([]BillEntry, error) {
	return store.Bills(ctx, member)
}

// =============================================================================
// CHAIN VERIFICATION - Monitoring, never a write-path precondition
// =============================================================================

// VerifyBillChain walks entries ordered by id and reports the first break.
func VerifyBillChain(member MemberID, entries []BillEntry) error {
	for i, e := range entries {
		if !e.BalanceAfter.Equal(e.BalanceBefore.Add(e.Net)) {
			return &ChainError{
				MemberID: member,
				EntryID:  fmt.Sprintf("%d", e.ID),
				Expected: e.BalanceBefore.Add(e.Net).String(),
				Actual:   e.BalanceAfter.String(),
			}
		}
		if i > 0 && !e.BalanceBefore.Equal(entries[i-1].BalanceAfter) {
			return &ChainError{
				MemberID: member,
				EntryID:  fmt.Sprintf("%d", e.ID),
				Expected: entries[i-1].BalanceAfter.String(),
				Actual:   e.BalanceBefore.String(),
			}
		}
	}
	return nil
}
