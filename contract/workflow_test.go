package contract_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairway/academy-ledger/catalog"
	"github.com/fairway/academy-ledger/contract"
	"github.com/fairway/academy-ledger/ledger"
	"github.com/fairway/academy-ledger/pros"
	"github.com/fairway/academy-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var contractDate = time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)

func newTestWorkflow(t *testing.T) (*contract.Workflow, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()

	_, err = store.SaveMember(ctx, contract.Member{ID: 1, Name: "Hana Seo"})
	require.NoError(t, err)
	require.NoError(t, store.SaveStaff(ctx, "mgr-1", "Manager", "open-sesame", true))
	require.NoError(t, store.SaveStaff(ctx, "desk-1", "Front Desk", "plain", false))

	seed := []catalog.Entry{
		{
			ID: "m01", Name: "credit package", Type: catalog.TypeCredit,
			Price:       ledger.NewAmount(300_000),
			CreditPrice: ledger.NewAmount(0),
			CreditGrant: ledger.NewAmount(330_000),
		},
		{
			ID: "l01", Name: "lesson pass 10", Type: catalog.TypeLessonPass,
			Price:        ledger.NewAmount(500_000),
			CreditPrice:  ledger.NewAmount(50_000),
			CreditGrant:  ledger.NewAmount(0),
			LessonQty:    10,
			EffectMonths: 3,
		},
		{
			ID: "j01", Name: "junior lessons 4", Type: catalog.TypeDependentLesson,
			Price:              ledger.NewAmount(200_000),
			CreditPrice:        ledger.NewAmount(0),
			CreditGrant:        ledger.NewAmount(0),
			LessonQty:          10,
			DependentLessonQty: 4,
			EffectMonths:       2,
		},
		{
			ID: "c01", Name: "open deposit", Type: catalog.TypeCredit,
			Price:       ledger.NewAmount(0),
			CreditPrice: ledger.NewAmount(0),
			CreditGrant: ledger.NewAmount(0),
		},
		{
			ID: "t04", Name: "weekday pass 3mo", Type: catalog.TypeTermPass,
			Price:        ledger.NewAmount(900_000),
			CreditPrice:  ledger.NewAmount(0),
			CreditGrant:  ledger.NewAmount(0),
			EffectMonths: 3,
		},
		{
			ID: "p01", Name: "glove", Type: catalog.TypeProduct,
			Price:       ledger.NewAmount(35_000),
			CreditPrice: ledger.NewAmount(30_000),
		},
	}
	for _, e := range seed {
		require.NoError(t, store.SaveEntry(ctx, e))
	}

	return contract.NewWorkflow(store), store
}

func register(in contract.RegisterInput) contract.RegisterInput {
	if in.MemberID == 0 {
		in.MemberID = 1
	}
	if in.Date.IsZero() {
		in.Date = contractDate
	}
	if in.Payment == "" {
		in.Payment = contract.PayCard
	}
	return in
}

func deposit(t *testing.T, w *contract.Workflow, amount int64) {
	t.Helper()
	_, err := w.ManualAdjust(context.Background(), 1,
		ledger.NewAmount(amount), "manual-adjustment", "test seed", "desk-1")
	require.NoError(t, err)
}

// =============================================================================
// REGISTRATION - happy paths
// =============================================================================

func TestRegister_CreditPackage_GrantsCredit(t *testing.T) {
	// GIVEN: A member with no balance buys the credit package by card
	// WHEN: Registering
	// THEN: History is written and the grant lands on the balance chain

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	res, err := w.Register(ctx, register(contract.RegisterInput{CatalogID: "m01", ActorID: "desk-1"}))
	require.NoError(t, err)

	assert.Equal(t, ledger.MemberID(1), res.MemberID)
	assert.True(t, res.NewBalance.Equal(ledger.NewAmount(330_000)))

	h, err := store.GetHistory(ctx, res.HistoryID)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "m01", h.CatalogID)
	assert.Equal(t, contract.HistoryActive, h.Status)
	assert.True(t, h.ActualCredit.Equal(ledger.NewAmount(330_000)))

	bills, err := store.Bills(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bills, 1)
	assert.Equal(t, ledger.BillMembershipDeposit, bills[0].Type)
	assert.NoError(t, ledger.VerifyBillChain(1, bills))
}

func TestRegister_LessonPass_GrantsBundleAndLedger(t *testing.T) {
	// GIVEN: A lesson pass of 10 lessons over 3 months
	// WHEN: Registering by card on June 2
	// THEN: The bundle runs to September 2 and the ledger holds 10

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	res, err := w.Register(ctx, register(contract.RegisterInput{CatalogID: "l01", ActorID: "desk-1"}))
	require.NoError(t, err)

	bundles, err := store.LessonContracts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bundles, 1)

	wantEnd := contractDate.AddDate(0, 3, 0)
	assert.Equal(t, 10, bundles[0].Qty)
	assert.Equal(t, wantEnd, bundles[0].EndDate)
	assert.Equal(t, wantEnd, bundles[0].ExpiryDate)
	assert.Equal(t, res.HistoryID, bundles[0].HistoryID)

	remaining, err := w.Lessons.Remaining(ctx, store,
		ledger.Partition{MemberID: 1, Pool: ledger.PoolGeneral})
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)
}

func TestRegister_CreditPayment_DebitsThenGrants(t *testing.T) {
	// GIVEN: A member holding 100,000 credit
	// WHEN: Buying the 50,000-credit lesson pass with credit
	// THEN: The debit chains first and the balance ends at 50,000

	w, store := newTestWorkflow(t)
	ctx := context.Background()
	deposit(t, w, 100_000)

	res, err := w.Register(ctx, register(contract.RegisterInput{
		CatalogID: "l01",
		Payment:   contract.PayCredit,
	}))
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(ledger.NewAmount(50_000)))

	bills, err := store.Bills(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bills, 2) // seed deposit + debit

	debit := bills[1]
	assert.Equal(t, ledger.BillMembershipPurchase, debit.Type)
	assert.True(t, debit.Net.Equal(ledger.NewAmount(-50_000)))
	assert.NoError(t, ledger.VerifyBillChain(1, bills))
}

func TestRegister_DependentLesson_UsesDependentPoolAndQty(t *testing.T) {
	// GIVEN: A dependent product granting 4 dependent lessons
	// WHEN: Registering for dependent 7
	// THEN: The grant lands in the dependent partition with qty 4

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	dep := ledger.DependentID(7)
	_, err := w.Register(ctx, register(contract.RegisterInput{
		CatalogID:   "j01",
		DependentID: &dep,
	}))
	require.NoError(t, err)

	remaining, err := w.Lessons.Remaining(ctx, store,
		ledger.Partition{MemberID: 1, DependentID: &dep, Pool: ledger.PoolDependent})
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)

	general, err := w.Lessons.Remaining(ctx, store,
		ledger.Partition{MemberID: 1, Pool: ledger.PoolGeneral})
	require.NoError(t, err)
	assert.Equal(t, 0, general, "member's own pool is untouched")
}

func TestRegister_TermPass_DerivesSubtype(t *testing.T) {
	// GIVEN: Term catalog id t04 (weekday range)
	// WHEN: Registering
	// THEN: A weekday pass runs for its effect months

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	_, err := w.Register(ctx, register(contract.RegisterInput{CatalogID: "t04"}))
	require.NoError(t, err)

	passes, err := store.TermPassesByMember(ctx, 1)
	require.NoError(t, err)
	require.Len(t, passes, 1)

	assert.Equal(t, catalog.TermWeekdayPass, passes[0].Type)
	assert.Equal(t, contractDate, passes[0].Start)
	assert.Equal(t, contractDate.AddDate(0, 3, 0), passes[0].End)
	assert.Equal(t, passes[0].End, passes[0].Expiry)
}

func TestRegister_WithPro_ChangeMode(t *testing.T) {
	// GIVEN: A member assigned to instructor kim
	// WHEN: Buying a lesson pass naming instructor lee in change mode
	// THEN: lee replaces kim

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	require.NoError(t, w.Registry.Apply(ctx, store, 1, nil, "kim", pros.ModeChange))

	_, err := w.Register(ctx, register(contract.RegisterInput{
		CatalogID:   "l01",
		ProNickname: "lee",
		ProChange:   pros.ModeChange,
	}))
	require.NoError(t, err)

	active, err := w.Registry.Active(ctx, store, 1, nil)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "lee", active[0].ProNickname)
}

func TestRegister_WithPro_AddMode(t *testing.T) {
	w, store := newTestWorkflow(t)
	ctx := context.Background()

	require.NoError(t, w.Registry.Apply(ctx, store, 1, nil, "kim", pros.ModeChange))

	_, err := w.Register(ctx, register(contract.RegisterInput{
		CatalogID:   "l01",
		ProNickname: "lee",
		ProChange:   pros.ModeAdd,
	}))
	require.NoError(t, err)

	active, err := w.Registry.Active(ctx, store, 1, nil)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestRegister_UpdatePath_EditsExistingHistory(t *testing.T) {
	// GIVEN: A registered credit package
	// WHEN: Re-registering with the history id and a different payment
	// THEN: The same row is updated, no second row appears

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	res, err := w.Register(ctx, register(contract.RegisterInput{CatalogID: "m01"}))
	require.NoError(t, err)

	_, err = w.Register(ctx, register(contract.RegisterInput{
		CatalogID: "m01",
		Payment:   contract.PayCash,
		HistoryID: &res.HistoryID,
		ActorID:   "desk-1",
	}))
	require.NoError(t, err)

	histories, err := store.HistoryByMember(ctx, 1)
	require.NoError(t, err)
	require.Len(t, histories, 1)
	assert.Equal(t, contract.PayCash, histories[0].Payment)
	assert.Equal(t, "desk-1", histories[0].UpdatedBy)
}

// =============================================================================
// REGISTRATION - rejections
// =============================================================================

func TestRegister_CreditPayment_InsufficientBalance(t *testing.T) {
	// GIVEN: A member with zero balance
	// WHEN: Paying a 50,000-credit pass with credit
	// THEN: Rejected with the shortfall; nothing is written

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	_, err := w.Register(ctx, register(contract.RegisterInput{
		CatalogID: "l01",
		Payment:   contract.PayCredit,
	}))
	require.Error(t, err)

	var insufficient *ledger.InsufficientCreditError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.CurrentBalance.IsZero())
	assert.True(t, insufficient.RequiredAmount.Equal(ledger.NewAmount(50_000)))

	histories, err := store.HistoryByMember(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, histories, "rejected purchase leaves no history")

	bills, err := store.Bills(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, bills)
}

func TestRegister_OpenDeposit_BelowMinimum_Rejected(t *testing.T) {
	// GIVEN: The open-deposit entry and a manual amount below the floor
	// WHEN: Registering 150,000
	// THEN: Rejected before any write

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	low := ledger.NewAmount(150_000)
	_, err := w.Register(ctx, register(contract.RegisterInput{
		CatalogID:    catalog.OpenDepositID,
		ManualCredit: &low,
	}))
	assert.ErrorIs(t, err, ledger.ErrPrecondition)

	histories, err := store.HistoryByMember(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, histories)
}

func TestRegister_OpenDeposit_ManualAmount_Granted(t *testing.T) {
	// GIVEN: A valid 250,000 open deposit
	// WHEN: Registering
	// THEN: The typed amount is both price and grant

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	amount := ledger.NewAmount(250_000)
	res, err := w.Register(ctx, register(contract.RegisterInput{
		CatalogID:    catalog.OpenDepositID,
		ManualCredit: &amount,
	}))
	require.NoError(t, err)
	assert.True(t, res.NewBalance.Equal(amount))

	h, err := store.GetHistory(ctx, res.HistoryID)
	require.NoError(t, err)
	assert.True(t, h.ActualPrice.Equal(amount))
	assert.True(t, h.ActualCredit.Equal(amount))
}

func TestRegister_UnknownCatalogEntry_NotFound(t *testing.T) {
	w, _ := newTestWorkflow(t)

	_, err := w.Register(context.Background(), register(contract.RegisterInput{CatalogID: "zzz"}))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestRegister_Atomicity_FailedStepLeavesNothing(t *testing.T) {
	// GIVEN: A lesson pass purchase for a member that does not exist
	// WHEN: The lesson-grant step fails mid-transaction
	// THEN: The already-written history row is rolled back too

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	_, err := w.Register(ctx, register(contract.RegisterInput{
		MemberID:  99, // not seeded
		CatalogID: "l01",
	}))
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	histories, err := store.HistoryByMember(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, histories, "history insert must roll back with the failed grant")

	bundles, err := store.LessonContracts(ctx, 99)
	require.NoError(t, err)
	assert.Empty(t, bundles)
}

// =============================================================================
// REGISTRATION - write-conflict retry
// =============================================================================

// conflictingStore fails the first failFirst lesson inserts with a write
// conflict, then delegates to the real store. Shared across the outer store
// and its transactions via the appendCalls pointer.
type conflictingStore struct {
	contract.Store
	appendCalls *int
	failFirst   int
}

func (s conflictingStore) AppendLesson(ctx context.Context, e ledger.LessonEntry) error {
	*s.appendCalls++
	if *s.appendCalls <= s.failFirst {
		return fmt.Errorf("%w: lesson key %s", ledger.ErrConflict, e.ID)
	}
	return s.Store.AppendLesson(ctx, e)
}

func (s conflictingStore) WithTx(ctx context.Context, fn func(contract.Store) error) error {
	return s.Store.WithTx(ctx, func(tx contract.Store) error {
		return fn(conflictingStore{Store: tx, appendCalls: s.appendCalls, failFirst: s.failFirst})
	})
}

func TestRegister_RetriesOnceOnWriteConflict(t *testing.T) {
	// GIVEN: A store whose lesson insert conflicts through the whole first
	//        transaction (the ledger's own key retry included)
	// WHEN: Registering a lesson pass
	// THEN: The second transaction succeeds with exactly one history row

	_, store := newTestWorkflow(t)
	ctx := context.Background()

	calls := 0
	w := contract.NewWorkflow(conflictingStore{Store: store, appendCalls: &calls, failFirst: 2})

	res, err := w.Register(ctx, register(contract.RegisterInput{CatalogID: "l01", ActorID: "desk-1"}))
	require.NoError(t, err)
	assert.Equal(t, 3, calls, "two conflicted inserts, then one clean one")

	histories, err := store.HistoryByMember(ctx, 1)
	require.NoError(t, err)
	require.Len(t, histories, 1, "the rolled-back first attempt must leave nothing behind")
	assert.Equal(t, histories[0].ID, res.HistoryID)

	remaining, err := ledger.LessonLedger{}.Remaining(ctx, store,
		ledger.Partition{MemberID: 1, Pool: ledger.PoolGeneral})
	require.NoError(t, err)
	assert.Equal(t, 10, remaining)
}

func TestRegister_GivesUpAfterSecondConflictedTransaction(t *testing.T) {
	// GIVEN: A store that conflicts through both transaction attempts
	// WHEN: Registering a lesson pass
	// THEN: The conflict surfaces and no purchase is recorded

	_, store := newTestWorkflow(t)
	ctx := context.Background()

	calls := 0
	w := contract.NewWorkflow(conflictingStore{Store: store, appendCalls: &calls, failFirst: 4})

	_, err := w.Register(ctx, register(contract.RegisterInput{CatalogID: "l01", ActorID: "desk-1"}))
	assert.ErrorIs(t, err, ledger.ErrConflict)
	assert.Equal(t, 4, calls)

	histories, err := store.HistoryByMember(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, histories)
}

// =============================================================================
// MANUAL ADJUSTMENT
// =============================================================================

func TestManualAdjust_AppendsAndAudits(t *testing.T) {
	// GIVEN: A member with a balance
	// WHEN: Adjusting by -30,000 with a reason
	// THEN: The chain moves and an audit row names the actor

	w, store := newTestWorkflow(t)
	ctx := context.Background()
	deposit(t, w, 100_000)

	balance, err := w.ManualAdjust(ctx, 1, ledger.NewAmount(-30_000),
		"manual-adjustment", "front desk correction", "mgr-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(ledger.NewAmount(70_000)))

	audits, err := store.AuditByMember(ctx, 1)
	require.NoError(t, err)
	require.NotEmpty(t, audits)
	assert.Equal(t, ledger.AuditManualAdjust, audits[0].Action)
	assert.Equal(t, "mgr-1", audits[0].ActorID)
}

func TestAuditLog_SameSecondWritesReadNewestFirst(t *testing.T) {
	// GIVEN: Two audit rows carrying the exact same timestamp
	// WHEN: Reading the member's audit trail
	// THEN: The later write comes back first

	_, store := newTestWorkflow(t)
	ctx := context.Background()

	stamp := time.Date(2025, time.June, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendAudit(ctx, ledger.AuditEntry{
		Action: ledger.AuditManualAdjust, Description: "first write",
		MemberID: 1, ActorID: "desk-1", Timestamp: stamp,
	}))
	require.NoError(t, store.AppendAudit(ctx, ledger.AuditEntry{
		Action: ledger.AuditContractDeleted, Description: "second write",
		MemberID: 1, ActorID: "mgr-1", Timestamp: stamp,
	}))

	audits, err := store.AuditByMember(ctx, 1)
	require.NoError(t, err)
	require.Len(t, audits, 2)
	assert.Equal(t, "second write", audits[0].Description)
	assert.Equal(t, "first write", audits[1].Description)
}

func TestManualAdjust_RejectsZeroAmount(t *testing.T) {
	w, _ := newTestWorkflow(t)

	_, err := w.ManualAdjust(context.Background(), 1, ledger.NewAmount(0),
		"manual-adjustment", "noop", "mgr-1")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// PRODUCT PURCHASE
// =============================================================================

func TestPurchaseProduct_Cash_LeavesBalanceUnchanged(t *testing.T) {
	// GIVEN: A member with 100,000 credit
	// WHEN: Buying two gloves for cash
	// THEN: The sale is on the chain with zero net

	w, store := newTestWorkflow(t)
	ctx := context.Background()
	deposit(t, w, 100_000)

	balance, err := w.PurchaseProduct(ctx, contract.ProductInput{
		MemberID:  1,
		CatalogID: "p01",
		Quantity:  2,
		Payment:   contract.PayCash,
		Date:      contractDate,
	})
	require.NoError(t, err)
	assert.True(t, balance.Equal(ledger.NewAmount(100_000)))

	bills, err := store.Bills(ctx, 1)
	require.NoError(t, err)
	sale := bills[len(bills)-1]
	assert.Equal(t, ledger.BillProductPurchase, sale.Type)
	assert.True(t, sale.Net.IsZero())
	assert.True(t, sale.Gross.Equal(ledger.NewAmount(70_000)))
}

func TestPurchaseProduct_Credit_DebitsCreditPrice(t *testing.T) {
	w, _ := newTestWorkflow(t)
	ctx := context.Background()
	deposit(t, w, 100_000)

	balance, err := w.PurchaseProduct(ctx, contract.ProductInput{
		MemberID:  1,
		CatalogID: "p01",
		Quantity:  2,
		Payment:   contract.PayCredit,
		Date:      contractDate,
	})
	require.NoError(t, err)
	assert.True(t, balance.Equal(ledger.NewAmount(40_000)))
}

func TestPurchaseProduct_Credit_Insufficient(t *testing.T) {
	w, _ := newTestWorkflow(t)

	_, err := w.PurchaseProduct(context.Background(), contract.ProductInput{
		MemberID:  1,
		CatalogID: "p01",
		Payment:   contract.PayCredit,
		Date:      contractDate,
	})

	var insufficient *ledger.InsufficientCreditError
	assert.ErrorAs(t, err, &insufficient)
}

func TestPurchaseProduct_NonProductEntry_Rejected(t *testing.T) {
	w, _ := newTestWorkflow(t)

	_, err := w.PurchaseProduct(context.Background(), contract.ProductInput{
		MemberID:  1,
		CatalogID: "l01", // lesson pass, not a product
		Payment:   contract.PayCash,
		Date:      contractDate,
	})
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

// =============================================================================
// SOFT DELETE
// =============================================================================

func TestDelete_FlipsStatusAndAudits_LedgerUntouched(t *testing.T) {
	// GIVEN: A registered credit package
	// WHEN: Deleting with the privileged password
	// THEN: History is soft-deleted, the audit names the staff, and the
	//       balance chain keeps every entry

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	res, err := w.Register(ctx, register(contract.RegisterInput{CatalogID: "m01"}))
	require.NoError(t, err)

	member, err := w.Delete(ctx, res.HistoryID, "open-sesame")
	require.NoError(t, err)
	assert.Equal(t, ledger.MemberID(1), member)

	h, err := store.GetHistory(ctx, res.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, contract.HistoryDeleted, h.Status)
	assert.Equal(t, "mgr-1", h.UpdatedBy)

	bills, err := store.Bills(ctx, 1)
	require.NoError(t, err)
	require.Len(t, bills, 1)
	assert.Equal(t, ledger.BillActive, bills[0].Status, "ledger is never reversed by delete")

	audits, err := store.AuditByMember(ctx, 1)
	require.NoError(t, err)
	require.NotEmpty(t, audits)
	assert.Equal(t, ledger.AuditContractDeleted, audits[0].Action)
}

func TestDelete_WrongPassword_Unauthorized(t *testing.T) {
	w, store := newTestWorkflow(t)
	ctx := context.Background()

	res, err := w.Register(ctx, register(contract.RegisterInput{CatalogID: "m01"}))
	require.NoError(t, err)

	_, err = w.Delete(ctx, res.HistoryID, "guess")
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)

	h, err := store.GetHistory(ctx, res.HistoryID)
	require.NoError(t, err)
	assert.Equal(t, contract.HistoryActive, h.Status)
}

func TestDelete_UnprivilegedPassword_Unauthorized(t *testing.T) {
	// GIVEN: A valid password belonging to unprivileged staff
	// WHEN: Deleting
	// THEN: Rejected; only privileged credentials count

	w, _ := newTestWorkflow(t)
	ctx := context.Background()

	res, err := w.Register(ctx, register(contract.RegisterInput{CatalogID: "m01"}))
	require.NoError(t, err)

	_, err = w.Delete(ctx, res.HistoryID, "plain")
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestExtendLessonExpiry_MovesAllBundles(t *testing.T) {
	// GIVEN: Two lesson bundles with different expiries
	// WHEN: Extending to next year
	// THEN: Both move and the change is audited

	w, store := newTestWorkflow(t)
	ctx := context.Background()

	_, err := w.Register(ctx, register(contract.RegisterInput{CatalogID: "l01"}))
	require.NoError(t, err)
	dep := ledger.DependentID(7)
	_, err = w.Register(ctx, register(contract.RegisterInput{CatalogID: "j01", DependentID: &dep}))
	require.NoError(t, err)

	newExpiry := time.Date(2026, time.June, 2, 0, 0, 0, 0, time.UTC)
	n, err := w.ExtendLessonExpiry(ctx, 1, newExpiry, "mgr-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	bundles, err := store.LessonContracts(ctx, 1)
	require.NoError(t, err)
	for _, b := range bundles {
		assert.Equal(t, newExpiry, b.ExpiryDate)
	}

	audits, err := store.AuditByMember(ctx, 1)
	require.NoError(t, err)
	require.NotEmpty(t, audits)
	assert.Equal(t, ledger.AuditExpiryExtended, audits[0].Action)
}

func TestExtendLessonExpiry_NoBundles_NoAudit(t *testing.T) {
	w, store := newTestWorkflow(t)
	ctx := context.Background()

	n, err := w.ExtendLessonExpiry(ctx, 1, contractDate.AddDate(1, 0, 0), "mgr-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	audits, err := store.AuditByMember(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, audits)
}

func TestStats_CountsActiveOnly(t *testing.T) {
	// GIVEN: Two purchases, one soft-deleted
	// WHEN: Aggregating stats
	// THEN: Only the active purchase counts

	w, _ := newTestWorkflow(t)
	ctx := context.Background()

	first, err := w.Register(ctx, register(contract.RegisterInput{CatalogID: "m01"}))
	require.NoError(t, err)
	_, err = w.Register(ctx, register(contract.RegisterInput{CatalogID: "l01"}))
	require.NoError(t, err)

	_, err = w.Delete(ctx, first.HistoryID, "open-sesame")
	require.NoError(t, err)

	stats, err := w.Stats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ContractCount)
	assert.Equal(t, 10, stats.TotalLessons)
}

func TestLessonHistory_DecodesDates(t *testing.T) {
	w, _ := newTestWorkflow(t)
	ctx := context.Background()

	_, err := w.Register(ctx, register(contract.RegisterInput{CatalogID: "l01"}))
	require.NoError(t, err)

	items, err := w.LessonHistory(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, contractDate, items[0].Date)
}

func TestLessonBalance_ReportsReconciliation(t *testing.T) {
	w, store := newTestWorkflow(t)
	ctx := context.Background()

	_, err := w.Register(ctx, register(contract.RegisterInput{CatalogID: "l01"}))
	require.NoError(t, err)

	_, err = w.Lessons.Append(ctx, store, ledger.LessonInput{
		MemberID: 1,
		Source:   ledger.SourceLessonOrder,
		Qty:      -2,
		Pool:     ledger.PoolGeneral,
		Day:      contractDate,
	})
	require.NoError(t, err)

	rec, err := w.LessonBalance(ctx, ledger.Partition{MemberID: 1, Pool: ledger.PoolGeneral})
	require.NoError(t, err)
	assert.Equal(t, 10, rec.Purchased)
	assert.Equal(t, 2, rec.Consumed)
	assert.Equal(t, 8, rec.Remaining)
	assert.Equal(t, 0, rec.Drift())
}
