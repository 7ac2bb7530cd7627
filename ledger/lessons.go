/*
lessons.go - Lesson-count ledger operations

PURPOSE:
  Same shape as the balance ledger, for lesson quantities. Chains are
  scoped to a partition of (member, dependent, pool): a member's own
  lessons and each dependent's lessons are independent chains.

BUSINESS KEY:
  Entry ids are business-generated: YYMMDD + member id zero-padded to four
  digits + same-day sequence zero-padded to two digits. The sequence is the
  count of the member's same-day rows plus one. Counting then inserting
  races under concurrency, so the store enforces a primary key on the id
  and Append retries the generation once on conflict. The write must still
  run inside the caller's transaction.

RECONCILIATION:
  purchased - consumed == remaining is a monitoring invariant only. The
  source data drifts legitimately (expiry, manual overrides), so Reconcile
  reports drift and callers log it; nothing blocks.

SEE ALSO:
  - bills.go: the monetary twin of this file
  - api/monitor.go: scheduled drift check
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// LESSON LEDGER
// =============================================================================

type LessonLedger struct{}

// LessonInput describes one entry to append. Qty is signed.
type LessonInput struct {
	MemberID    MemberID
	DependentID *DependentID
	ContractID  *int64
	Source      LessonSource
	Qty         int
	Pool        LessonPool
	Day         time.Time // business-key date; zero means today
}

// Append chains a new entry off the partition's latest balance and inserts
// it under a freshly generated business key. One bounded retry absorbs a
// same-second key collision.
func (LessonLedger) Append(ctx context.Context, store LessonStore, in LessonInput) (LessonEntry, error) {
	if in.MemberID == 0 {
		return LessonEntry{}, fmt.Errorf("%w: member id required", ErrValidation)
	}
	if in.Pool == "" {
		in.Pool = PoolGeneral
	}
	day := in.Day
	if day.IsZero() {
		day = time.Now().UTC()
	}

	p := Partition{MemberID: in.MemberID, DependentID: in.DependentID, Pool: in.Pool}

	for attempt := 0; ; attempt++ {
		before := 0
		latest, err := store.LatestLesson(ctx, p)
		if err != nil {
			return LessonEntry{}, fmt.Errorf("read latest lesson entry: %w", err)
		}
		if latest != nil {
			before = latest.BalanceAfter
		}

		sameDay, err := store.CountLessonsOn(ctx, in.MemberID, day)
		if err != nil {
			return LessonEntry{}, fmt.Errorf("count same-day entries: %w", err)
		}

		entry := LessonEntry{
			ID:            BusinessKey(day, in.MemberID, sameDay+1),
			MemberID:      in.MemberID,
			DependentID:   in.DependentID,
			ContractID:    in.ContractID,
			Source:        in.Source,
			Qty:           in.Qty,
			BalanceBefore: before,
			BalanceAfter:  before + in.Qty,
			Pool:          in.Pool,
			UpdatedAt:     time.Now().UTC(),
		}

		err = store.AppendLesson(ctx, entry)
		if err == nil {
			return entry, nil
		}
		if errors.Is(err, ErrConflict) && attempt == 0 {
			continue // key raced; recount and regenerate once
		}
		return LessonEntry{}, err
	}
}

// Remaining returns the partition's latest chain balance, or zero.
func (LessonLedger) Remaining(ctx context.Context, store LessonStore, p Partition) (int, error) {
	latest, err := store.LatestLesson(ctx, p)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, nil
	}
	return latest.BalanceAfter, nil
}

// =============================================================================
// BUSINESS KEY
// =============================================================================

// BusinessKey formats the lesson-entry id: YYMMDD + member (4 digits) +
// same-day sequence (2 digits).
func BusinessKey(day time.Time, member MemberID, seq int) string {
	return fmt.Sprintf("%s%04d%02d", day.Format("060102"), member, seq)
}

// DateFromKey decodes the YYMMDD prefix of a business key. Returns the
// zero time for malformed keys.
func DateFromKey(key string) time.Time {
	if len(key) < 6 {
		return time.Time{}
	}
	t, err := time.Parse("060102", key[:6])
	if err != nil {
		return time.Time{}
	}
	return t
}

// =============================================================================
// RECONCILIATION - purchased - consumed vs remaining
// =============================================================================

// Reconciliation is the drift report for one partition.
type Reconciliation struct {
	Partition Partition
	Purchased int
	Consumed  int
	Remaining int
}

// Drift returns purchased - consumed - remaining. Zero means the chain and
// the totals agree.
func (r Reconciliation) Drift() int {
	return r.Purchased - r.Consumed - r.Remaining
}

// Reconcile computes the partition's totals against its chain balance.
// Callers log non-zero drift as a warning; it never blocks an operation.
func (l LessonLedger) Reconcile(ctx context.Context, store LessonStore, p Partition) (Reconciliation, error) {
	purchased, consumed, err := store.LessonTotals(ctx, p)
	if err != nil {
		return Reconciliation{}, err
	}
	remaining, err := l.Remaining(ctx, store, p)
	if err != nil {
		return Reconciliation{}, err
	}
	return Reconciliation{Partition: p, Purchased: purchased, Consumed: consumed, Remaining: remaining}, nil
}

// VerifyLessonChain walks a partition's entries ordered by business key and
// reports the first break.
func VerifyLessonChain(p Partition, entries []LessonEntry) error {
	var prev *LessonEntry
	for i := range entries {
		e := entries[i]
		if !p.Matches(e) {
			continue
		}
		if e.BalanceAfter != e.BalanceBefore+e.Qty {
			return &ChainError{
				MemberID: p.MemberID,
				EntryID:  e.ID,
				Expected: fmt.Sprintf("%d", e.BalanceBefore+e.Qty),
				Actual:   fmt.Sprintf("%d", e.BalanceAfter),
			}
		}
		if prev != nil && e.BalanceBefore != prev.BalanceAfter {
			return &ChainError{
				MemberID: p.MemberID,
				EntryID:  e.ID,
				Expected: fmt.Sprintf("%d", prev.BalanceAfter),
				Actual:   fmt.Sprintf("%d", e.BalanceBefore),
			}
		}
		prev = &entries[i]
	}
	return nil
}
