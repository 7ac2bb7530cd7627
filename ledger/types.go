/*
Package ledger provides the append-only ledgers at the heart of the academy CRM.

PURPOSE:
  Two ledgers live here, and they are the source of truth for what a member
  owns:
  - The balance ledger (bills): every credit movement in won, with the
    balance before and after each entry.
  - The lesson ledger (countings): every lesson-count movement, scoped by
    an optional dependent and a lesson pool, with the same before/after
    chaining.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: a monetary quantity backed by decimal.Decimal
  - BillEntry: one immutable row of the balance ledger
  - LessonEntry: one immutable row of the lesson ledger
  - Partition: the chain scope of the lesson ledger (member, dependent, pool)

DESIGN PRINCIPLES:
  1. Immutability: ledger rows are never updated, only appended; a status
     field marks reversals without destroying history
  2. Precision: decimal.Decimal for money, never float64
  3. Chaining: BalanceAfter of entry n equals BalanceBefore of entry n+1
     within a chain - this is THE correctness property of the system

SEE ALSO:
  - bills.go: balance ledger operations
  - lessons.go: lesson ledger operations and business-key generation
  - store.go: persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Monetary quantity (credits, won)
// =============================================================================

type Amount struct {
	Value decimal.Decimal
}

func NewAmount(value int64) Amount {
	return Amount{Value: decimal.NewFromInt(value)}
}

func AmountFromDecimal(d decimal.Decimal) Amount {
	return Amount{Value: d}
}

// ParseAmount parses a stored decimal string. Invalid input yields zero.
func ParseAmount(s string) Amount {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{Value: decimal.Zero}
	}
	return Amount{Value: d}
}

func (a Amount) Add(b Amount) Amount       { return Amount{Value: a.Value.Add(b.Value)} }
func (a Amount) Sub(b Amount) Amount      { return Amount{Value: a.Value.Sub(b.Value)} }
func (a Amount) Neg() Amount              { return Amount{Value: a.Value.Neg()} }
func (a Amount) Abs() Amount              { return Amount{Value: a.Value.Abs()} }
func (a Amount) IsZero() bool             { return a.Value.IsZero() }
func (a Amount) IsNegative() bool         { return a.Value.IsNegative() }
func (a Amount) IsPositive() bool         { return a.Value.IsPositive() }
func (a Amount) LessThan(b Amount) bool   { return a.Value.LessThan(b.Value) }
func (a Amount) GreaterThan(b Amount) bool { return a.Value.GreaterThan(b.Value) }
func (a Amount) Equal(b Amount) bool      { return a.Value.Equal(b.Value) }
func (a Amount) String() string           { return a.Value.String() }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MemberID int64

// DependentID identifies a junior linked to a member. Ledger partitions
// treat a nil dependent as the member's own pool.
type DependentID int64

// =============================================================================
// BILL ENTRY - One row of the balance ledger
// =============================================================================

// BillType categorizes a balance movement. Stored as its string value.
// Manual adjustments carry a free-form operator-chosen label instead.
type BillType string

const (
	BillMembershipPurchase BillType = "membership-purchase" // debit: paid with credits
	BillMembershipDeposit  BillType = "membership-deposit"  // credit: granted by a contract
	BillProductPurchase    BillType = "product-purchase"    // debit or zero-net product sale
	BillManualAdjustment   BillType = "manual-adjustment"
)

// BillStatus marks reversal without deleting history.
type BillStatus string

const (
	BillActive  BillStatus = "active"
	BillDeleted BillStatus = "deleted"
)

// BillEntry is immutable once written.
//
// INVARIANT: BalanceAfter = BalanceBefore + Net. Ordering a member's entries
// by ID, each BalanceBefore equals the previous entry's BalanceAfter.
type BillEntry struct {
	ID            int64
	MemberID      MemberID
	Date          time.Time
	Type          BillType
	Text          string
	Gross         Amount // always non-negative, the headline amount
	Discount      Amount
	Net           Amount // signed: positive = credit, negative = debit
	BalanceBefore Amount
	BalanceAfter  Amount
	ContractID    *int64 // originating contract_history row, if any
	Status        BillStatus
	CreatedAt     time.Time
}

// =============================================================================
// LESSON ENTRY - One row of the lesson-count ledger
// =============================================================================

// LessonPool partitions lesson chains: a member's own lessons and a
// dependent's lessons never share a balance.
type LessonPool string

const (
	PoolGeneral   LessonPool = "general"
	PoolDependent LessonPool = "dependent"
)

// LessonSource tags which subsystem produced an entry.
type LessonSource string

const (
	SourceLessonContract LessonSource = "lesson-contract" // purchase grants
	SourceLessonOrder    LessonSource = "lesson-order"    // usage/consumption
	SourceManual         LessonSource = "manual"
)

// LessonEntry mirrors BillEntry for lesson quantities.
//
// The ID is a business key: YYMMDD + zero-padded member id (4 digits) +
// zero-padded same-day sequence (2 digits). See lessons.go for generation.
type LessonEntry struct {
	ID            string
	MemberID      MemberID
	DependentID   *DependentID
	ContractID    *int64 // originating LS contract, if any
	Source        LessonSource
	Qty           int // signed delta
	BalanceBefore int
	BalanceAfter  int
	Pool          LessonPool
	UpdatedAt     time.Time
}

// Partition is the chain scope of the lesson ledger.
type Partition struct {
	MemberID    MemberID
	DependentID *DependentID
	Pool        LessonPool
}

func (p Partition) Matches(e LessonEntry) bool {
	if e.MemberID != p.MemberID || e.Pool != p.Pool {
		return false
	}
	if p.DependentID == nil {
		return e.DependentID == nil
	}
	return e.DependentID != nil && *e.DependentID == *p.DependentID
}
