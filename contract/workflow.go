/*
workflow.go - Contract registration and the other purchase-side writes

PURPOSE:
  Register is the one multi-step consistency point of the system. A single
  purchase touches up to five tables: contract_history, ls_contracts, the
  lesson ledger, the term passes, the pro assignments, and the balance
  ledger. All of it is one transaction - any step failing rolls back every
  row of the attempt.

ORDERING INSIDE THE TRANSACTION:
  1. Catalog lookup (NotFound before any write)
  2. Credit sufficiency re-read (the pre-transaction check the UI did is
     advisory; this read is the one that counts, because it sees the same
     snapshot the debit will chain off)
  3. Contract history insert/update
  4. Lesson contract + lesson ledger grant (lesson-bearing types)
  5. Term pass (term type)
  6. Pro assignment change/add (when a nickname was supplied)
  7. Balance ledger fan-out (debit then layered grant for credit payment,
     grant only otherwise)

RETRY:
  A conflict (chain or business-key race) aborts the transaction; Register
  retries the whole thing exactly once before surfacing ErrConflict.

SEE ALSO:
  - ledger/bills.go, ledger/lessons.go: the chain appends steps 4 and 7 use
  - delete.go, term.go, admin.go: the narrower workflows
*/
package contract

import (
	"context"
	"fmt"
	"time"

	"github.com/fairway/academy-ledger/catalog"
	"github.com/fairway/academy-ledger/ledger"
	"github.com/fairway/academy-ledger/pros"
)

// =============================================================================
// WORKFLOW
// =============================================================================

// Workflow owns every write path of the purchase side. It is stateless
// beyond its store; all methods are safe for concurrent use.
type Workflow struct {
	Store    Store
	Bills    ledger.BalanceLedger
	Lessons  ledger.LessonLedger
	Registry pros.Registry
}

func NewWorkflow(store Store) *Workflow {
	return &Workflow{Store: store}
}

// =============================================================================
// REGISTER - The contract purchase transaction
// =============================================================================

// RegisterInput carries everything a purchase needs. HistoryID selects the
// update path used when editing an existing purchase.
type RegisterInput struct {
	MemberID     ledger.MemberID
	CatalogID    string
	Date         time.Time
	Payment      PaymentMethod
	ManualCredit *ledger.Amount // open-deposit entry only
	DependentID  *ledger.DependentID
	ProNickname  string
	ProChange    pros.ChangeMode
	ActorID      string
	HistoryID    *int64
}

// RegisterResult reports the outcome the API returns to the UI.
type RegisterResult struct {
	MemberID   ledger.MemberID
	HistoryID  int64
	NewBalance ledger.Amount
}

// Register runs the whole purchase as one transaction, retrying once on a
// write conflict.
func (w *Workflow) Register(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	if err := w.validateRegister(in); err != nil {
		return RegisterResult{}, err
	}

	res, err := w.registerTx(ctx, in)
	if err != nil && ledger.IsRetryable(err) {
		res, err = w.registerTx(ctx, in)
	}
	return res, err
}

// validateRegister rejects bad input before any transaction is opened.
func (w *Workflow) validateRegister(in RegisterInput) error {
	if in.MemberID == 0 {
		return fmt.Errorf("%w: member id required", ledger.ErrValidation)
	}
	if in.CatalogID == "" {
		return fmt.Errorf("%w: catalog id required", ledger.ErrValidation)
	}
	if in.Date.IsZero() {
		return fmt.Errorf("%w: contract date required", ledger.ErrValidation)
	}
	if in.CatalogID == catalog.OpenDepositID && in.ManualCredit != nil {
		if in.ManualCredit.LessThan(ledger.NewAmount(catalog.OpenDepositMinimum)) {
			return fmt.Errorf("%w: open deposit requires at least %d credit",
				ledger.ErrPrecondition, catalog.OpenDepositMinimum)
		}
	}
	return nil
}

func (w *Workflow) registerTx(ctx context.Context, in RegisterInput) (RegisterResult, error) {
	var res RegisterResult

	err := w.Store.WithTx(ctx, func(tx Store) error {
		entry, err := tx.GetEntry(ctx, in.CatalogID)
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("%w: catalog entry %q", ledger.ErrNotFound, in.CatalogID)
		}

		// Credit payment: the sufficiency check that counts happens here,
		// against the same snapshot the debit will chain off.
		if in.Payment == PayCredit {
			balance, err := w.Bills.CurrentBalance(ctx, tx, in.MemberID)
			if err != nil {
				return err
			}
			if balance.LessThan(entry.CreditPrice) {
				return &ledger.InsufficientCreditError{
					MemberID:       in.MemberID,
					CurrentBalance: balance,
					RequiredAmount: entry.CreditPrice,
				}
			}
		}

		price, grant := w.grantedAmounts(*entry, in)

		historyID, err := w.writeHistory(ctx, tx, in, price, grant)
		if err != nil {
			return err
		}

		if entry.Type.IsLessonBearing() {
			if err := w.grantLessons(ctx, tx, in, *entry, historyID); err != nil {
				return err
			}
		}

		if entry.Type == catalog.TypeTermPass {
			if err := w.createTermPass(ctx, tx, in, *entry); err != nil {
				return err
			}
		}

		if (entry.Type.IsLessonBearing() || entry.IsDependentProduct()) && in.ProNickname != "" {
			mode := in.ProChange
			if mode == "" {
				mode = pros.ModeChange
			}
			if err := w.Registry.Apply(ctx, tx, in.MemberID, in.DependentID, in.ProNickname, mode); err != nil {
				return err
			}
		}

		last, err := w.appendBills(ctx, tx, in, *entry, grant, historyID)
		if err != nil {
			return err
		}

		res = RegisterResult{MemberID: in.MemberID, HistoryID: historyID, NewBalance: last}
		return nil
	})

	return res, err
}

// grantedAmounts resolves the price paid and credit granted. The manual
// amount overrides catalog defaults only for the open-deposit entry, where
// price and credit are the same figure.
func (w *Workflow) grantedAmounts(entry catalog.Entry, in RegisterInput) (price, grant ledger.Amount) {
	if entry.ID == catalog.OpenDepositID && in.ManualCredit != nil {
		return *in.ManualCredit, *in.ManualCredit
	}
	return entry.Price, entry.CreditGrant
}

func (w *Workflow) writeHistory(ctx context.Context, tx Store, in RegisterInput, price, grant ledger.Amount) (int64, error) {
	if in.HistoryID != nil {
		existing, err := tx.GetHistory(ctx, *in.HistoryID)
		if err != nil {
			return 0, err
		}
		if existing == nil {
			return 0, fmt.Errorf("%w: contract history %d", ledger.ErrNotFound, *in.HistoryID)
		}
		existing.CatalogID = in.CatalogID
		existing.Date = in.Date
		existing.Payment = in.Payment
		existing.ActualPrice = price
		existing.UpdatedBy = in.ActorID
		if err := tx.UpdateHistory(ctx, *existing); err != nil {
			return 0, err
		}
		return existing.ID, nil
	}

	return tx.InsertHistory(ctx, History{
		MemberID:     in.MemberID,
		CatalogID:    in.CatalogID,
		Date:         in.Date,
		Payment:      in.Payment,
		ActualPrice:  price,
		ActualCredit: grant,
		DependentID:  in.DependentID,
		Status:       HistoryActive,
		RegisteredAt: endOfDay(in.Date),
		UpdatedBy:    in.ActorID,
	})
}

// grantLessons creates the lesson bundle and the matching ledger grant.
// End and expiry start equal, at purchase date plus the effective months.
func (w *Workflow) grantLessons(ctx context.Context, tx Store, in RegisterInput, entry catalog.Entry, historyID int64) error {
	qty := entry.GrantedLessons()
	end := in.Date.AddDate(0, entry.EffectMonths, 0)

	pool := ledger.PoolGeneral
	if entry.Type == catalog.TypeDependentLesson {
		pool = ledger.PoolDependent
	}

	member, err := tx.GetMember(ctx, in.MemberID)
	if err != nil {
		return err
	}
	if member == nil {
		return fmt.Errorf("%w: member %d", ledger.ErrNotFound, in.MemberID)
	}

	lcID, err := tx.InsertLessonContract(ctx, LessonContract{
		MemberID:    in.MemberID,
		MemberName:  member.Name,
		Qty:         qty,
		Source:      string(ledger.SourceLessonContract),
		Date:        in.Date,
		EndDate:     end,
		ExpiryDate:  end,
		Pool:        pool,
		DependentID: in.DependentID,
		HistoryID:   historyID,
		StaffID:     in.ActorID,
		UpdatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	_, err = w.Lessons.Append(ctx, tx, ledger.LessonInput{
		MemberID:    in.MemberID,
		DependentID: in.DependentID,
		ContractID:  &lcID,
		Source:      ledger.SourceLessonContract,
		Qty:         qty,
		Pool:        pool,
		Day:         in.Date,
	})
	return err
}

func (w *Workflow) createTermPass(ctx context.Context, tx Store, in RegisterInput, entry catalog.Entry) error {
	termType, err := catalog.TermTypeForID(entry.ID)
	if err != nil {
		return err
	}
	end := in.Date.AddDate(0, entry.EffectMonths, 0)
	_, err = tx.InsertTermPass(ctx, TermPass{
		Type:         termType,
		PeriodMonths: entry.EffectMonths,
		Start:        in.Date,
		End:          end,
		Expiry:       end,
		MemberID:     in.MemberID,
		CatalogID:    entry.ID,
		RegisteredAt: time.Now().UTC(),
	})
	return err
}

// appendBills writes the balance fan-out: credit payment debits the credit
// price, then any grant is layered on the post-debit balance; other
// payment methods append the grant only. Returns the final balance.
func (w *Workflow) appendBills(ctx context.Context, tx Store, in RegisterInput, entry catalog.Entry, grant ledger.Amount, historyID int64) (ledger.Amount, error) {
	last, err := w.Bills.CurrentBalance(ctx, tx, in.MemberID)
	if err != nil {
		return ledger.Amount{}, err
	}

	if in.Payment == PayCredit {
		debit, err := w.Bills.Append(ctx, tx, ledger.BillInput{
			MemberID:   in.MemberID,
			Date:       in.Date,
			Type:       ledger.BillMembershipPurchase,
			Text:       entry.Name,
			Gross:      entry.CreditPrice,
			Net:        entry.CreditPrice.Neg(),
			ContractID: &historyID,
		})
		if err != nil {
			return ledger.Amount{}, err
		}
		last = debit.BalanceAfter
	}

	if grant.IsPositive() {
		credit, err := w.Bills.Append(ctx, tx, ledger.BillInput{
			MemberID:   in.MemberID,
			Date:       in.Date,
			Type:       ledger.BillMembershipDeposit,
			Text:       entry.Name,
			Gross:      grant,
			Net:        grant,
			ContractID: &historyID,
		})
		if err != nil {
			return ledger.Amount{}, err
		}
		last = credit.BalanceAfter
	}

	return last, nil
}

// =============================================================================
// MANUAL CREDIT ADJUSTMENT
// =============================================================================

// ManualAdjust appends one signed entry with an operator-chosen label.
func (w *Workflow) ManualAdjust(ctx context.Context, member ledger.MemberID, amount ledger.Amount, label, text, actor string) (ledger.Amount, error) {
	if member == 0 || label == "" || text == "" {
		return ledger.Amount{}, fmt.Errorf("%w: member id, label and text required", ledger.ErrValidation)
	}
	if amount.IsZero() {
		return ledger.Amount{}, fmt.Errorf("%w: amount must be non-zero", ledger.ErrValidation)
	}

	var newBalance ledger.Amount
	err := w.Store.WithTx(ctx, func(tx Store) error {
		entry, err := w.Bills.Append(ctx, tx, ledger.BillInput{
			MemberID: member,
			Date:     time.Now().UTC(),
			Type:     ledger.BillType(label),
			Text:     text,
			Gross:    amount.Abs(),
			Net:      amount,
		})
		if err != nil {
			return err
		}
		newBalance = entry.BalanceAfter

		return tx.AppendAudit(ctx, ledger.AuditEntry{
			Action:      ledger.AuditManualAdjust,
			Description: fmt.Sprintf("manual credit %s: %s", amount, text),
			Table:       "bills",
			RecordID:    entry.ID,
			MemberID:    member,
			ActorID:     actor,
			Timestamp:   time.Now().UTC(),
		})
	})
	return newBalance, err
}

// =============================================================================
// PRODUCT PURCHASE
// =============================================================================

// ProductInput is a product/beverage sale. Quantity multiplies the catalog
// prices.
type ProductInput struct {
	MemberID  ledger.MemberID
	CatalogID string
	Quantity  int
	Payment   PaymentMethod
	Date      time.Time
	ActorID   string
}

// PurchaseProduct appends a single bill entry. Credit payment debits the
// credit price after a sufficiency check; cash and card record a zero-net
// entry so the sale shows in the history without moving the balance.
func (w *Workflow) PurchaseProduct(ctx context.Context, in ProductInput) (ledger.Amount, error) {
	if in.MemberID == 0 || in.CatalogID == "" {
		return ledger.Amount{}, fmt.Errorf("%w: member id and product id required", ledger.ErrValidation)
	}
	if in.Quantity <= 0 {
		in.Quantity = 1
	}
	if in.Date.IsZero() {
		in.Date = time.Now().UTC()
	}

	var newBalance ledger.Amount
	err := w.Store.WithTx(ctx, func(tx Store) error {
		entry, err := tx.GetEntry(ctx, in.CatalogID)
		if err != nil {
			return err
		}
		if entry == nil || (entry.Type != catalog.TypeProduct && entry.Type != catalog.TypeBeverage) {
			return fmt.Errorf("%w: product %q", ledger.ErrNotFound, in.CatalogID)
		}

		qty := ledger.NewAmount(int64(in.Quantity))
		text := fmt.Sprintf("%s x %d", entry.Name, in.Quantity)

		var gross, net ledger.Amount
		if in.Payment == PayCredit {
			cost := ledger.AmountFromDecimal(entry.CreditPrice.Value.Mul(qty.Value))
			balance, err := w.Bills.CurrentBalance(ctx, tx, in.MemberID)
			if err != nil {
				return err
			}
			if balance.LessThan(cost) {
				return &ledger.InsufficientCreditError{
					MemberID:       in.MemberID,
					CurrentBalance: balance,
					RequiredAmount: cost,
				}
			}
			gross, net = cost, cost.Neg()
		} else {
			gross, net = ledger.AmountFromDecimal(entry.Price.Value.Mul(qty.Value)), ledger.NewAmount(0)
		}

		billed, err := w.Bills.Append(ctx, tx, ledger.BillInput{
			MemberID: in.MemberID,
			Date:     in.Date,
			Type:     ledger.BillProductPurchase,
			Text:     text,
			Gross:    gross,
			Net:      net,
		})
		if err != nil {
			return err
		}
		newBalance = billed.BalanceAfter
		return nil
	})
	return newBalance, err
}

// endOfDay pins the registration timestamp to 23:59:59 of the contract
// date, matching how same-day purchases are ordered in reports.
func endOfDay(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 23, 59, 59, 0, d.Location())
}
