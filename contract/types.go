/*
Package contract orchestrates the purchase side of the academy CRM: the
registration workflow, contract soft deletion, term passes with holds, and
lesson-contract administration.

KEY CONCEPTS IN THIS FILE (types.go):
  - Member: the identity anchor every ledger row references
  - History: one membership/product purchase (contract_history)
  - LessonContract: a purchased lesson bundle with end and expiry dates
  - TermPass / TermHold: a date-ranged pass and its suspensions
  - PaymentMethod: closed enum converted from/to persisted strings
  - Store: the transactional persistence surface the workflow runs on

TRANSACTION MODEL:
  One request, one transaction. Store.WithTx hands the workflow a store
  whose reads and writes all belong to a single database transaction; any
  step failure rolls back everything (contract row, ledger rows, pro
  assignment changes alike).

SEE ALSO:
  - workflow.go: the registration fan-out
  - term.go: hold registration
  - delete.go: password-guarded soft delete
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
// MEMBER
// =============================================================================

// Member is the identity anchor. Immutable once created; ledger rows
// reference it by id.
type Member struct {
	ID        ledger.MemberID
	Name      string
	CreatedAt time.Time
}

// =============================================================================
// PAYMENT METHOD
// =============================================================================

type PaymentMethod string

const (
	PayCard        PaymentMethod = "card"
	PayCash        PaymentMethod = "cash"
	PayCredit      PaymentMethod = "credit"
	PayStoreCoupon PaymentMethod = "store-coupon"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case PayCard, PayCash, PayCredit, PayStoreCoupon:
		return m, nil
	}
	return "", fmt.Errorf("%w: unknown payment method %q", ledger.ErrValidation, s)
}

// =============================================================================
// CONTRACT HISTORY - One purchase record
// =============================================================================

type HistoryStatus string

const (
	HistoryActive  HistoryStatus = "active"
	HistoryDeleted HistoryStatus = "deleted" // soft delete only
)

// History records a membership/product purchase. Deletion is a status
// flip; the ledger entries it produced are never reversed by it.
type History struct {
	ID           int64
	MemberID     ledger.MemberID
	CatalogID    string
	Date         time.Time
	Payment      PaymentMethod
	ActualPrice  ledger.Amount
	ActualCredit ledger.Amount
	DependentID  *ledger.DependentID
	Status       HistoryStatus
	RegisteredAt time.Time
	UpdatedBy    string
}

// =============================================================================
// LESSON CONTRACT - A purchased lesson bundle
// =============================================================================

// LessonContract is created once at purchase time. EndDate and ExpiryDate
// start equal; administration may later shift expiry for all of a member's
// bundles together.
type LessonContract struct {
	ID          int64
	MemberID    ledger.MemberID
	MemberName  string
	Qty         int
	Source      string
	Date        time.Time
	EndDate     time.Time
	ExpiryDate  time.Time // lessons unusable after this date
	Pool        ledger.LessonPool
	DependentID *ledger.DependentID
	HistoryID   int64 // originating contract_history row
	StaffID     string
	UpdatedAt   time.Time
}

// =============================================================================
// TERM PASS & HOLD
// =============================================================================

// TermPass is a date-ranged pass. Expiry only ever moves forward, via hold
// registration.
type TermPass struct {
	ID           int64
	Type         catalog.TermType
	PeriodMonths int
	Start        time.Time
	End          time.Time
	Expiry       time.Time
	MemberID     ledger.MemberID
	CatalogID    string
	RegisteredAt time.Time
	// Display-only marker of the currently shown hold window; cleared by
	// ClearHoldMarker without touching hold history.
	HoldStart *time.Time
	HoldEnd   *time.Time
}

// TermHold is one registered suspension. Days is the inclusive day count
// the pass expiry was advanced by.
type TermHold struct {
	ID           int64
	TermID       int64
	Start        time.Time
	End          time.Time
	Days         int
	Reason       string
	StaffID      string
	RegisteredAt time.Time
}

// MaxHoldDays bounds one contiguous hold.
const MaxHoldDays = 30

// =============================================================================
// STATS
// =============================================================================

// Stats aggregates a member's purchases for the overview endpoints.
type Stats struct {
	ContractCount int
	TotalCredit   ledger.Amount
	TotalLessons  int
}

// =============================================================================
// STORE - Transactional persistence surface
// =============================================================================

// Store is everything the workflows persist through. WithTx scopes a
// closure to one database transaction; the store it passes in satisfies
// the same interface, so workflow code is written once and runs either
// standalone or transactional.
type Store interface {
	ledger.BillStore
	ledger.LessonStore
	ledger.AuditLog
	catalog.Store
	pros.Store

	// Members
	GetMember(ctx context.Context, id ledger.MemberID) (*Member, error)
	SaveMember(ctx context.Context, m Member) (ledger.MemberID, error)
	ListMembers(ctx context.Context) ([]Member, error)

	// Contract history
	InsertHistory(ctx context.Context, h History) (int64, error)
	UpdateHistory(ctx context.Context, h History) error
	GetHistory(ctx context.Context, id int64) (*History, error)
	HistoryByMember(ctx context.Context, member ledger.MemberID) ([]History, error)
	MarkHistoryDeleted(ctx context.Context, id int64, actor string) error
	ContractStats(ctx context.Context, member ledger.MemberID) (Stats, error)

	// Lesson contracts
	InsertLessonContract(ctx context.Context, lc LessonContract) (int64, error)
	LessonContracts(ctx context.Context, member ledger.MemberID) ([]LessonContract, error)
	ExtendLessonExpiry(ctx context.Context, member ledger.MemberID, expiry time.Time) (int, error)

	// Term passes
	InsertTermPass(ctx context.Context, tp TermPass) (int64, error)
	GetTermPass(ctx context.Context, id int64) (*TermPass, error)
	TermPassesByMember(ctx context.Context, member ledger.MemberID) ([]TermPass, error)
	AdvanceTermExpiry(ctx context.Context, termID int64, days int) error
	InsertTermHold(ctx context.Context, h TermHold) (int64, error)
	TermHolds(ctx context.Context, termID int64) ([]TermHold, error)
	ClearHoldMarker(ctx context.Context, termID int64) error

	// Privileged credential check for destructive actions. Returns the
	// matched staff id or ledger.ErrUnauthorized.
	VerifyDeleteCredential(ctx context.Context, password string) (string, error)

	// WithTx executes fn within one database transaction. fn returning an
	// error rolls everything back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
