package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairway/academy-ledger/ledger"
	"github.com/fairway/academy-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newLessonStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var june2 = time.Date(2025, time.June, 2, 0, 0, 0, 0, time.UTC)

func grantInput(member int64, qty int) ledger.LessonInput {
	return ledger.LessonInput{
		MemberID: ledger.MemberID(member),
		Source:   ledger.SourceLessonContract,
		Qty:      qty,
		Pool:     ledger.PoolGeneral,
		Day:      june2,
	}
}

func consumeInput(member int64, qty int) ledger.LessonInput {
	return ledger.LessonInput{
		MemberID: ledger.MemberID(member),
		Source:   ledger.SourceLessonOrder,
		Qty:      -qty,
		Pool:     ledger.PoolGeneral,
		Day:      june2,
	}
}

// =============================================================================
// BUSINESS KEY TESTS
// =============================================================================

func TestLessonLedger_BusinessKey_Format(t *testing.T) {
	// GIVEN: Member 42's first entry on June 2, 2025
	// WHEN: Appending
	// THEN: The key is date + zero-padded member + sequence 01

	store := newLessonStore(t)
	var lessons ledger.LessonLedger

	entry, err := lessons.Append(context.Background(), store, grantInput(42, 10))
	require.NoError(t, err)

	assert.Equal(t, "250602004201", entry.ID)
}

func TestLessonLedger_BusinessKey_SameDaySequence(t *testing.T) {
	// GIVEN: A member with two entries already written today
	// WHEN: Appending a third
	// THEN: The sequence counts all of today's entries, not per partition

	store := newLessonStore(t)
	ctx := context.Background()
	var lessons ledger.LessonLedger

	_, err := lessons.Append(ctx, store, grantInput(7, 10))
	require.NoError(t, err)
	_, err = lessons.Append(ctx, store, consumeInput(7, 1))
	require.NoError(t, err)

	dep := ledger.DependentID(3)
	third, err := lessons.Append(ctx, store, ledger.LessonInput{
		MemberID:    7,
		DependentID: &dep,
		Source:      ledger.SourceLessonContract,
		Qty:         5,
		Pool:        ledger.PoolDependent,
		Day:         june2,
	})
	require.NoError(t, err)

	assert.Equal(t, fmt.Sprintf("%s%04d%02d", "250602", 7, 3), third.ID)
}

func TestDateFromKey_RoundTrips(t *testing.T) {
	key := ledger.BusinessKey(june2, 42, 1)
	assert.Equal(t, june2, ledger.DateFromKey(key))
	assert.True(t, ledger.DateFromKey("bad").IsZero())
}

// =============================================================================
// PARTITION CHAIN TESTS
// =============================================================================

func TestLessonLedger_Partitions_ChainIndependently(t *testing.T) {
	// GIVEN: A member with a general grant and a dependent grant
	// WHEN: Consuming from the general pool
	// THEN: The dependent partition's balance is untouched

	store := newLessonStore(t)
	ctx := context.Background()
	var lessons ledger.LessonLedger

	_, err := lessons.Append(ctx, store, grantInput(1, 10))
	require.NoError(t, err)

	dep := ledger.DependentID(2)
	_, err = lessons.Append(ctx, store, ledger.LessonInput{
		MemberID:    1,
		DependentID: &dep,
		Source:      ledger.SourceLessonContract,
		Qty:         5,
		Pool:        ledger.PoolDependent,
		Day:         june2,
	})
	require.NoError(t, err)

	_, err = lessons.Append(ctx, store, consumeInput(1, 3))
	require.NoError(t, err)

	general := ledger.Partition{MemberID: 1, Pool: ledger.PoolGeneral}
	dependent := ledger.Partition{MemberID: 1, DependentID: &dep, Pool: ledger.PoolDependent}

	remGeneral, err := lessons.Remaining(ctx, store, general)
	require.NoError(t, err)
	remDependent, err := lessons.Remaining(ctx, store, dependent)
	require.NoError(t, err)

	assert.Equal(t, 7, remGeneral)
	assert.Equal(t, 5, remDependent)
}

func TestLessonLedger_Append_ChainsBeforeAfter(t *testing.T) {
	store := newLessonStore(t)
	ctx := context.Background()
	var lessons ledger.LessonLedger

	grant, err := lessons.Append(ctx, store, grantInput(1, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, grant.BalanceBefore)
	assert.Equal(t, 10, grant.BalanceAfter)

	consume, err := lessons.Append(ctx, store, consumeInput(1, 1))
	require.NoError(t, err)
	assert.Equal(t, 10, consume.BalanceBefore)
	assert.Equal(t, 9, consume.BalanceAfter)
}

func TestVerifyLessonChain_DetectsBreak(t *testing.T) {
	store := newLessonStore(t)
	ctx := context.Background()
	var lessons ledger.LessonLedger

	_, err := lessons.Append(ctx, store, grantInput(1, 10))
	require.NoError(t, err)
	_, err = lessons.Append(ctx, store, consumeInput(1, 2))
	require.NoError(t, err)

	entries, err := store.Lessons(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Oldest first for verification.
	entries[0], entries[1] = entries[1], entries[0]

	p := ledger.Partition{MemberID: 1, Pool: ledger.PoolGeneral}
	assert.NoError(t, ledger.VerifyLessonChain(p, entries))

	entries[1].BalanceBefore = 99
	var chainErr *ledger.ChainError
	assert.ErrorAs(t, ledger.VerifyLessonChain(p, entries), &chainErr)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestLessonLedger_Reconcile_NoDrift(t *testing.T) {
	// GIVEN: 10 purchased, 3 consumed through the ledger
	// WHEN: Reconciling the partition
	// THEN: purchased - consumed equals remaining; drift is zero

	store := newLessonStore(t)
	ctx := context.Background()
	var lessons ledger.LessonLedger

	_, err := lessons.Append(ctx, store, grantInput(1, 10))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = lessons.Append(ctx, store, consumeInput(1, 1))
		require.NoError(t, err)
	}

	rec, err := lessons.Reconcile(ctx, store, ledger.Partition{MemberID: 1, Pool: ledger.PoolGeneral})
	require.NoError(t, err)

	assert.Equal(t, 10, rec.Purchased)
	assert.Equal(t, 3, rec.Consumed)
	assert.Equal(t, 7, rec.Remaining)
	assert.Equal(t, 0, rec.Drift())
}

// =============================================================================
// CONFLICT HANDLING
// =============================================================================

func TestLessonStore_DuplicateKey_Conflict(t *testing.T) {
	// GIVEN: An entry already written under a business key
	// WHEN: Inserting the same key directly
	// THEN: The store reports ErrConflict

	store := newLessonStore(t)
	ctx := context.Background()

	entry := ledger.LessonEntry{
		ID:           ledger.BusinessKey(june2, 1, 1),
		MemberID:     1,
		Source:       ledger.SourceLessonContract,
		Qty:          10,
		BalanceAfter: 10,
		Pool:         ledger.PoolGeneral,
		UpdatedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.AppendLesson(ctx, entry))

	err := store.AppendLesson(ctx, entry)
	assert.ErrorIs(t, err, ledger.ErrConflict)
}
