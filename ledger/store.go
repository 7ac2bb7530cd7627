/*
store.go - Persistence interfaces for the two ledgers and the audit log

PURPOSE:
  Defines the boundary between ledger logic and the database. The chain
  computation (read latest entry, derive before/after, insert) must happen
  against a transaction-scoped store so concurrent purchases for the same
  member cannot interleave between the read and the write.

APPEND-ONLY CONTRACT:
  Neither ledger exposes Update or Delete. The only mutation beyond Append
  is the status flip used to mark a reversal, and that never rewrites
  amounts or balances.

TRANSACTIONS:
  Higher layers receive a store whose writes all land in one database
  transaction (see contract.Store.WithTx). The interfaces here are written
  against that contract: Append and the latest-entry read are only safe
  when called on the same transactional store.

SEE ALSO:
  - bills.go, lessons.go: the logic that drives these interfaces
  - store/sqlite: the concrete implementation
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// BILL STORE - Balance ledger persistence
// =============================================================================

// BillStore persists balance ledger rows. Append-only.
type BillStore interface {
	// AppendBill inserts a row and returns its assigned id.
	AppendBill(ctx context.Context, e BillEntry) (int64, error)

	// LatestBill returns the member's highest-id entry, or nil if none.
	// Within a transaction the returned row is stable for the duration.
	LatestBill(ctx context.Context, member MemberID) (*BillEntry, error)

	// Bills returns all of a member's entries ordered by id, deleted
	// status included so histories stay complete.
	Bills(ctx context.Context, member MemberID) ([]BillEntry, error)

	// MarkBillDeleted flips an entry's status. Amounts are never touched.
	MarkBillDeleted(ctx context.Context, id int64) error
}

// =============================================================================
// LESSON STORE - Lesson ledger persistence
// =============================================================================

// LessonStore persists lesson ledger rows. Append-only.
type LessonStore interface {
	// AppendLesson inserts a row. Returns ErrConflict if the business key
	// already exists (same-day sequence raced with another writer).
	AppendLesson(ctx context.Context, e LessonEntry) error

	// LatestLesson returns the partition's newest entry by business key,
	// or nil if the chain is empty.
	LatestLesson(ctx context.Context, p Partition) (*LessonEntry, error)

	// CountLessonsOn counts a member's entries written on a given day,
	// across partitions. Feeds business-key sequence generation.
	CountLessonsOn(ctx context.Context, member MemberID, day time.Time) (int, error)

	// Lessons returns all entries for a member, newest first.
	Lessons(ctx context.Context, member MemberID) ([]LessonEntry, error)

	// LessonTotals sums the partition's positive deltas sourced from
	// lesson contracts (purchased) and negative deltas (consumed).
	LessonTotals(ctx context.Context, p Partition) (purchased, consumed int, err error)
}

// =============================================================================
// AUDIT LOG - Who did what, when. Also append-only.
// =============================================================================

type AuditAction string

const (
	AuditContractDeleted AuditAction = "contract-deleted"
	AuditManualAdjust    AuditAction = "manual-adjustment"
	AuditHoldRegistered  AuditAction = "hold-registered"
	AuditExpiryExtended  AuditAction = "expiry-extended"
)

// AuditEntry records a privileged or destructive action.
type AuditEntry struct {
	ID          string // uuid
	Action      AuditAction
	Description string
	Table       string
	RecordID    int64
	MemberID    MemberID
	ActorID     string
	Timestamp   time.Time
}

type AuditLog interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	AuditByMember(ctx context.Context, member MemberID) ([]AuditEntry, error)
}
