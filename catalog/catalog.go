/*
Package catalog holds the static table of purchasable contract and product
definitions.

PURPOSE:
  The catalog is reference data: each entry describes what a purchase
  grants (credit, lessons, a date-ranged pass) and what it costs in cash
  and in credits. The registration workflow reads an entry and fans out
  into the ledgers accordingly.

ENTRY IDS:
  Ids carry meaning inherited from the source data:
  - "c01" is the open-deposit entry: the operator types the credit amount
    at purchase time, subject to a fixed minimum.
  - Term-pass ids encode their subtype in the numeric part: 1-3 day pass,
    4-6 weekday pass, 7-9 early pass.
  - Dependent products are prefixed "j".

TYPE ENUMS:
  CatalogType and the related enums are closed variants converted to/from
  persisted strings at the store boundary, never raw strings in logic.

SEE ALSO:
  - contract/workflow.go: the only writer that consumes catalog entries
*/
package catalog

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fairway/academy-ledger/ledger"
)

// =============================================================================
// CATALOG TYPE - What a purchase grants
// =============================================================================

type CatalogType string

const (
	TypeCredit          CatalogType = "credit"
	TypeLessonPass      CatalogType = "lesson-pass"
	TypePackage         CatalogType = "package"
	TypeDependentLesson CatalogType = "dependent-lesson"
	TypeTermPass        CatalogType = "term-pass"
	TypeBeverage        CatalogType = "beverage"
	TypeProduct         CatalogType = "product"
)

// ParseType converts a persisted string, rejecting unknown values.
func ParseType(s string) (CatalogType, error) {
	switch t := CatalogType(s); t {
	case TypeCredit, TypeLessonPass, TypePackage, TypeDependentLesson,
		TypeTermPass, TypeBeverage, TypeProduct:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown catalog type %q", ledger.ErrValidation, s)
}

// IsLessonBearing reports whether a purchase of this type creates a lesson
// contract and a lesson ledger grant.
func (t CatalogType) IsLessonBearing() bool {
	return t == TypeLessonPass || t == TypePackage || t == TypeDependentLesson
}

// =============================================================================
// OPEN DEPOSIT - The manually-priced catalog entry
// =============================================================================

const (
	// OpenDepositID is the only entry whose credit amount is typed in by
	// the operator instead of taken from the catalog.
	OpenDepositID = "c01"

	// OpenDepositMinimum is the least credit the open-deposit entry
	// accepts. Checked before any transaction is opened.
	OpenDepositMinimum = 200_000
)

// =============================================================================
// ENTRY
// =============================================================================

type EntryStatus string

const (
	EntryActive  EntryStatus = "active"
	EntryRetired EntryStatus = "retired"
)

// Entry is one purchasable definition.
type Entry struct {
	ID       string
	Name     string
	Type     CatalogType
	Category string // membership vs product grouping, display only

	Price       ledger.Amount // cash price
	CreditPrice ledger.Amount // cost when paid with credits
	CreditGrant ledger.Amount // credit granted by the purchase

	LessonQty          int // lessons granted (lesson-bearing types)
	DependentLessonQty int // lessons granted when the type is dependent-lesson
	EffectMonths       int // contract/pass duration in months

	Status EntryStatus
}

// GrantedLessons returns the lesson quantity the entry grants, sourcing the
// dependent-specific field for dependent products.
func (e Entry) GrantedLessons() int {
	if e.Type == TypeDependentLesson {
		return e.DependentLessonQty
	}
	return e.LessonQty
}

// IsDependentProduct reports whether the entry targets a dependent, either
// by type or by the legacy "j" id prefix.
func (e Entry) IsDependentProduct() bool {
	return e.Type == TypeDependentLesson || strings.HasPrefix(e.ID, "j")
}

// =============================================================================
// TERM SUBTYPE - Derived from the numeric part of the entry id
// =============================================================================

type TermType string

const (
	TermDayPass     TermType = "day-pass"
	TermWeekdayPass TermType = "weekday-pass"
	TermEarlyPass   TermType = "early-pass"
)

// TermTypeForID derives the pass subtype from the entry id's numeric part:
// 1-3 day pass, 4-6 weekday pass, 7-9 early pass.
func TermTypeForID(id string) (TermType, error) {
	digits := strings.TrimLeftFunc(id, func(r rune) bool { return r < '0' || r > '9' })
	n, err := strconv.Atoi(digits)
	if err != nil {
		return "", fmt.Errorf("%w: catalog id %q has no numeric part", ledger.ErrValidation, id)
	}
	switch {
	case n >= 1 && n <= 3:
		return TermDayPass, nil
	case n >= 4 && n <= 6:
		return TermWeekdayPass, nil
	case n >= 7 && n <= 9:
		return TermEarlyPass, nil
	}
	return "", fmt.Errorf("%w: catalog id %q outside term ranges", ledger.ErrValidation, id)
}

// =============================================================================
// STORE
// =============================================================================

// Store reads and seeds catalog entries. Entries change rarely and only
// through administration, so there is no transactional surface here.
type Store interface {
	GetEntry(ctx context.Context, id string) (*Entry, error)
	ListEntries(ctx context.Context) ([]Entry, error)
	SaveEntry(ctx context.Context, e Entry) error
}
