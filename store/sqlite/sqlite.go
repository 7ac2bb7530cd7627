/*
Package sqlite implements every persistence interface of the ledger engine
over database/sql.

PURPOSE:
  One Store satisfies contract.Store: both ledgers, the audit log, the
  catalog, contract history, lesson contracts, term passes, pro relations,
  members and staff. The same SQL patterns carry to MySQL/PostgreSQL with
  dialect changes only.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE ever touches the bills or ls_countings tables beyond
  the status flip on bills. Balance chains are immutable history.

CONCURRENCY:
  A mutex serializes WithTx, and SQLite runs in WAL mode with one writer.
  The lesson-ledger business key is additionally guarded by its primary
  key: a raced insert surfaces ledger.ErrConflict, which the ledger layer
  absorbs with one regeneration. The single-active pro-assignment
  invariant is serialized by the write transaction rather than a unique
  index, because the explicit "add" path legitimately holds several
  active rows per partition.

KEY TABLES:
  bills:             balance ledger (append-only)
  ls_countings:      lesson ledger (append-only, business-key PK)
  ls_contracts:      purchased lesson bundles
  contract_history:  purchase records (soft delete via status)
  term_member/hold:  date-ranged passes and their suspensions
  member_pro_match:  member-to-instructor relations
  activity_logs:     audit trail

MIGRATION:
  Schema is auto-migrated on New(). A production MySQL deployment would
  use versioned migrations instead.

SEE ALSO:
  - ledger/store.go, contract/types.go: the interfaces implemented here
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fairway/academy-ledger/catalog"
	"github.com/fairway/academy-ledger/contract"
	"github.com/fairway/academy-ledger/ledger"
	"github.com/fairway/academy-ledger/pros"
	"github.com/google/uuid"
)

// dbtx is the subset of *sql.DB and *sql.Tx the queries run on.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements contract.Store over SQLite.
type Store struct {
	queries
	db *sql.DB
	mu sync.Mutex
}

// queries holds every method that is identical inside and outside a
// transaction; the handle decides which it is.
type queries struct {
	h dbtx
}

// New opens (or creates) the database at path. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, queries: queries{h: db}}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS staff (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		password TEXT NOT NULL,
		privileged BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS catalog_entries (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL,
		credit_price TEXT NOT NULL,
		credit_grant TEXT NOT NULL,
		lesson_qty INTEGER NOT NULL DEFAULT 0,
		dependent_lesson_qty INTEGER NOT NULL DEFAULT 0,
		effect_months INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active'
	);

	CREATE TABLE IF NOT EXISTS contract_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		member_id INTEGER NOT NULL,
		catalog_id TEXT NOT NULL,
		date TEXT NOT NULL,
		payment TEXT NOT NULL,
		actual_price TEXT NOT NULL,
		actual_credit TEXT NOT NULL,
		dependent_id INTEGER,
		status TEXT NOT NULL DEFAULT 'active',
		registered_at TEXT NOT NULL,
		updated_at TEXT,
		updated_by TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_history_member
		ON contract_history(member_id, id DESC);

	-- Balance ledger (append-only)
	CREATE TABLE IF NOT EXISTS bills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		member_id INTEGER NOT NULL,
		date TEXT NOT NULL,
		type TEXT NOT NULL,
		text TEXT NOT NULL,
		gross TEXT NOT NULL,
		discount TEXT NOT NULL,
		net TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		contract_id INTEGER,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TEXT NOT NULL
	);

	-- Hot path: latest entry per member
	CREATE INDEX IF NOT EXISTS idx_bills_member
		ON bills(member_id, id DESC);
	CREATE INDEX IF NOT EXISTS idx_bills_contract
		ON bills(contract_id) WHERE contract_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS ls_contracts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		member_id INTEGER NOT NULL,
		member_name TEXT NOT NULL,
		qty INTEGER NOT NULL,
		source TEXT NOT NULL,
		date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		pool TEXT NOT NULL,
		dependent_id INTEGER,
		history_id INTEGER NOT NULL,
		staff_id TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ls_contracts_member
		ON ls_contracts(member_id);

	-- Lesson ledger (append-only). The business-key primary key doubles
	-- as the same-day sequence guard.
	CREATE TABLE IF NOT EXISTS ls_countings (
		id TEXT PRIMARY KEY,
		member_id INTEGER NOT NULL,
		dependent_id INTEGER,
		contract_id INTEGER,
		source TEXT NOT NULL,
		qty INTEGER NOT NULL,
		balance_before INTEGER NOT NULL,
		balance_after INTEGER NOT NULL,
		pool TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_countings_partition
		ON ls_countings(member_id, pool, dependent_id, id DESC);

	CREATE TABLE IF NOT EXISTS term_member (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		type TEXT NOT NULL,
		period_months INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		expiry_date TEXT NOT NULL,
		member_id INTEGER NOT NULL,
		catalog_id TEXT NOT NULL,
		registered_at TEXT NOT NULL,
		hold_start TEXT,
		hold_end TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_term_member
		ON term_member(member_id);

	CREATE TABLE IF NOT EXISTS term_hold (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		term_id INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		days INTEGER NOT NULL,
		reason TEXT NOT NULL,
		staff_id TEXT NOT NULL DEFAULT '',
		registered_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_term_hold
		ON term_hold(term_id, start_date DESC);

	CREATE TABLE IF NOT EXISTS member_pro_match (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		member_id INTEGER NOT NULL,
		dependent_id INTEGER,
		nickname TEXT NOT NULL,
		registered_at TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active'
	);

	CREATE INDEX IF NOT EXISTS idx_pro_match_active
		ON member_pro_match(member_id, dependent_id, status);

	CREATE TABLE IF NOT EXISTS activity_logs (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		description TEXT NOT NULL,
		table_name TEXT NOT NULL,
		record_id INTEGER NOT NULL DEFAULT 0,
		member_id INTEGER NOT NULL DEFAULT 0,
		actor_id TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (contract.Store.WithTx)
// =============================================================================

// WithTx serializes writers and runs fn in one database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(contract.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ledger.ErrPersistence, err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{queries{h: tx}}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return translateErr(err)
	}
	return nil
}

// txStore is the transaction-scoped view. Nesting WithTx joins the open
// transaction instead of starting another.
type txStore struct {
	queries
}

func (ts *txStore) WithTx(ctx context.Context, fn func(contract.Store) error) error {
	return fn(ts)
}

// =============================================================================
// BILL STORE (ledger.BillStore)
// =============================================================================

func (q queries) AppendBill(ctx context.Context, e ledger.BillEntry) (int64, error) {
	res, err := q.h.ExecContext(ctx, `
		INSERT INTO bills
		(member_id, date, type, text, gross, discount, net,
		 balance_before, balance_after, contract_id, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.MemberID,
		e.Date.UTC().Format(time.RFC3339),
		e.Type,
		e.Text,
		e.Gross.String(),
		e.Discount.String(),
		e.Net.String(),
		e.BalanceBefore.String(),
		e.BalanceAfter.String(),
		nullInt64(e.ContractID),
		e.Status,
		e.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, translateErr(err)
	}
	return res.LastInsertId()
}

const billColumns = `id, member_id, date, type, text, gross, discount, net,
	balance_before, balance_after, contract_id, status, created_at`

func (q queries) LatestBill(ctx context.Context, member ledger.MemberID) (*ledger.BillEntry, error) {
	row := q.h.QueryRowContext(ctx, `
		SELECT `+billColumns+` FROM bills
		WHERE member_id = ?
		ORDER BY id DESC LIMIT 1`, member)

	e, err := scanBill(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return &e, nil
}

func (q queries) Bills(ctx context.Context, member ledger.MemberID) ([]ledger.BillEntry, error) {
	rows, err := q.h.QueryContext(ctx, `
		SELECT `+billColumns+` FROM bills
		WHERE member_id = ?
		ORDER BY id ASC`, member)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var entries []ledger.BillEntry
	for rows.Next() {
		e, err := scanBill(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q queries) MarkBillDeleted(ctx context.Context, id int64) error {
	_, err := q.h.ExecContext(ctx,
		`UPDATE bills SET status = ? WHERE id = ?`, ledger.BillDeleted, id)
	return translateErr(err)
}

func scanBill(scan func(dest ...any) error) (ledger.BillEntry, error) {
	var (
		e                                   ledger.BillEntry
		date, createdAt                     string
		gross, discount, net, before, after string
		contractID                          sql.NullInt64
	)
	err := scan(&e.ID, &e.MemberID, &date, &e.Type, &e.Text,
		&gross, &discount, &net, &before, &after, &contractID, &e.Status, &createdAt)
	if err != nil {
		return e, err
	}
	e.Date, _ = time.Parse(time.RFC3339, date)
	e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	e.Gross = ledger.ParseAmount(gross)
	e.Discount = ledger.ParseAmount(discount)
	e.Net = ledger.ParseAmount(net)
	e.BalanceBefore = ledger.ParseAmount(before)
	e.BalanceAfter = ledger.ParseAmount(after)
	if contractID.Valid {
		e.ContractID = &contractID.Int64
	}
	return e, nil
}

// =============================================================================
// LESSON STORE (ledger.LessonStore)
// =============================================================================

func (q queries) AppendLesson(ctx context.Context, e ledger.LessonEntry) error {
	_, err := q.h.ExecContext(ctx, `
		INSERT INTO ls_countings
		(id, member_id, dependent_id, contract_id, source, qty,
		 balance_before, balance_after, pool, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.MemberID,
		nullDependent(e.DependentID),
		nullInt64(e.ContractID),
		e.Source,
		e.Qty,
		e.BalanceBefore,
		e.BalanceAfter,
		e.Pool,
		e.UpdatedAt.Format(time.RFC3339),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: lesson key %s", ledger.ErrConflict, e.ID)
	}
	return translateErr(err)
}

const lessonColumns = `id, member_id, dependent_id, contract_id, source, qty,
	balance_before, balance_after, pool, updated_at`

func (q queries) LatestLesson(ctx context.Context, p ledger.Partition) (*ledger.LessonEntry, error) {
	query := `SELECT ` + lessonColumns + ` FROM ls_countings
		WHERE member_id = ? AND pool = ? AND ` + dependentClause(p.DependentID) + `
		ORDER BY id DESC LIMIT 1`

	row := q.h.QueryRowContext(ctx, query, dependentArgs(p)...)
	e, err := scanLesson(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return &e, nil
}

func (q queries) CountLessonsOn(ctx context.Context, member ledger.MemberID, day time.Time) (int, error) {
	// The business-key prefix is the authoritative same-day marker.
	prefix := day.Format("060102") + "%"
	var n int
	err := q.h.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ls_countings
		WHERE member_id = ? AND id LIKE ?`, member, prefix).Scan(&n)
	return n, translateErr(err)
}

func (q queries) Lessons(ctx context.Context, member ledger.MemberID) ([]ledger.LessonEntry, error) {
	rows, err := q.h.QueryContext(ctx, `
		SELECT `+lessonColumns+` FROM ls_countings
		WHERE member_id = ?
		ORDER BY id DESC`, member)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var entries []ledger.LessonEntry
	for rows.Next() {
		e, err := scanLesson(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q queries) LessonTotals(ctx context.Context, p ledger.Partition) (int, int, error) {
	query := `
		SELECT
			COALESCE(SUM(CASE WHEN qty > 0 AND source = ? THEN qty ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN qty < 0 THEN -qty ELSE 0 END), 0)
		FROM ls_countings
		WHERE member_id = ? AND pool = ? AND ` + dependentClause(p.DependentID)

	args := append([]any{string(ledger.SourceLessonContract)}, dependentArgs(p)...)
	var purchased, consumed int
	err := q.h.QueryRowContext(ctx, query, args...).Scan(&purchased, &consumed)
	return purchased, consumed, translateErr(err)
}

func scanLesson(scan func(dest ...any) error) (ledger.LessonEntry, error) {
	var (
		e                     ledger.LessonEntry
		dependent, contractID sql.NullInt64
		updatedAt             string
	)
	err := scan(&e.ID, &e.MemberID, &dependent, &contractID, &e.Source,
		&e.Qty, &e.BalanceBefore, &e.BalanceAfter, &e.Pool, &updatedAt)
	if err != nil {
		return e, err
	}
	if dependent.Valid {
		d := ledger.DependentID(dependent.Int64)
		e.DependentID = &d
	}
	if contractID.Valid {
		e.ContractID = &contractID.Int64
	}
	e.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return e, nil
}

// dependentClause and dependentArgs express "this partition's dependent";
// NULL and 0 both mean the member's own pool.
func dependentClause(d *ledger.DependentID) string {
	if d == nil {
		return `(dependent_id IS NULL OR dependent_id = 0)`
	}
	return `dependent_id = ?`
}

func dependentArgs(p ledger.Partition) []any {
	args := []any{p.MemberID, p.Pool}
	if p.DependentID != nil {
		args = append(args, int64(*p.DependentID))
	}
	return args
}

// =============================================================================
// AUDIT LOG (ledger.AuditLog)
// =============================================================================

// auditTimeLayout keeps a fixed-width fractional second so the TEXT column
// sorts chronologically.
const auditTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (q queries) AppendAudit(ctx context.Context, e ledger.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := q.h.ExecContext(ctx, `
		INSERT INTO activity_logs
		(id, action, description, table_name, record_id, member_id, actor_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Action, e.Description, e.Table, e.RecordID, e.MemberID, e.ActorID,
		e.Timestamp.Format(auditTimeLayout),
	)
	return translateErr(err)
}

func (q queries) AuditByMember(ctx context.Context, member ledger.MemberID) ([]ledger.AuditEntry, error) {
	// rowid breaks timestamp ties so same-second writes still come back
	// newest first.
	rows, err := q.h.QueryContext(ctx, `
		SELECT id, action, description, table_name, record_id, member_id, actor_id, timestamp
		FROM activity_logs WHERE member_id = ? ORDER BY timestamp DESC, rowid DESC`, member)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		var e ledger.AuditEntry
		var ts string
		if err := rows.Scan(&e.ID, &e.Action, &e.Description, &e.Table,
			&e.RecordID, &e.MemberID, &e.ActorID, &ts); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// CATALOG STORE (catalog.Store)
// =============================================================================

const catalogColumns = `id, name, type, category, price, credit_price, credit_grant,
	lesson_qty, dependent_lesson_qty, effect_months, status`

func (q queries) GetEntry(ctx context.Context, id string) (*catalog.Entry, error) {
	row := q.h.QueryRowContext(ctx,
		`SELECT `+catalogColumns+` FROM catalog_entries WHERE id = ?`, id)
	e, err := scanCatalog(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return &e, nil
}

func (q queries) ListEntries(ctx context.Context) ([]catalog.Entry, error) {
	rows, err := q.h.QueryContext(ctx,
		`SELECT `+catalogColumns+` FROM catalog_entries ORDER BY id`)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var entries []catalog.Entry
	for rows.Next() {
		e, err := scanCatalog(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q queries) SaveEntry(ctx context.Context, e catalog.Entry) error {
	if e.Status == "" {
		e.Status = catalog.EntryActive
	}
	_, err := q.h.ExecContext(ctx, `
		INSERT INTO catalog_entries
		(id, name, type, category, price, credit_price, credit_grant,
		 lesson_qty, dependent_lesson_qty, effect_months, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			category = excluded.category,
			price = excluded.price,
			credit_price = excluded.credit_price,
			credit_grant = excluded.credit_grant,
			lesson_qty = excluded.lesson_qty,
			dependent_lesson_qty = excluded.dependent_lesson_qty,
			effect_months = excluded.effect_months,
			status = excluded.status`,
		e.ID, e.Name, e.Type, e.Category,
		e.Price.String(), e.CreditPrice.String(), e.CreditGrant.String(),
		e.LessonQty, e.DependentLessonQty, e.EffectMonths, e.Status,
	)
	return translateErr(err)
}

func scanCatalog(scan func(dest ...any) error) (catalog.Entry, error) {
	var (
		e                         catalog.Entry
		typ, price, credit, grant string
	)
	err := scan(&e.ID, &e.Name, &typ, &e.Category, &price, &credit, &grant,
		&e.LessonQty, &e.DependentLessonQty, &e.EffectMonths, &e.Status)
	if err != nil {
		return e, err
	}
	e.Type = catalog.CatalogType(typ)
	e.Price = ledger.ParseAmount(price)
	e.CreditPrice = ledger.ParseAmount(credit)
	e.CreditGrant = ledger.ParseAmount(grant)
	return e, nil
}

// =============================================================================
// MEMBERS
// =============================================================================

func (q queries) GetMember(ctx context.Context, id ledger.MemberID) (*contract.Member, error) {
	var m contract.Member
	var createdAt string
	err := q.h.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM members WHERE id = ?`, id).
		Scan(&m.ID, &m.Name, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

func (q queries) SaveMember(ctx context.Context, m contract.Member) (ledger.MemberID, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.ID != 0 {
		_, err := q.h.ExecContext(ctx,
			`INSERT INTO members (id, name, created_at) VALUES (?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
			m.ID, m.Name, m.CreatedAt.Format(time.RFC3339))
		return m.ID, translateErr(err)
	}
	res, err := q.h.ExecContext(ctx,
		`INSERT INTO members (name, created_at) VALUES (?, ?)`,
		m.Name, m.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return 0, translateErr(err)
	}
	id, err := res.LastInsertId()
	return ledger.MemberID(id), err
}

func (q queries) ListMembers(ctx context.Context) ([]contract.Member, error) {
	rows, err := q.h.QueryContext(ctx,
		`SELECT id, name, created_at FROM members ORDER BY name`)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var members []contract.Member
	for rows.Next() {
		var m contract.Member
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Name, &createdAt); err != nil {
			return nil, err
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

// =============================================================================
// CONTRACT HISTORY
// =============================================================================

const historyColumns = `id, member_id, catalog_id, date, payment, actual_price,
	actual_credit, dependent_id, status, registered_at, updated_by`

func (q queries) InsertHistory(ctx context.Context, h contract.History) (int64, error) {
	res, err := q.h.ExecContext(ctx, `
		INSERT INTO contract_history
		(member_id, catalog_id, date, payment, actual_price, actual_credit,
		 dependent_id, status, registered_at, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.MemberID, h.CatalogID,
		h.Date.Format(time.RFC3339),
		h.Payment,
		h.ActualPrice.String(),
		h.ActualCredit.String(),
		nullDependent(h.DependentID),
		h.Status,
		h.RegisteredAt.Format(time.RFC3339),
		h.UpdatedBy,
	)
	if err != nil {
		return 0, translateErr(err)
	}
	return res.LastInsertId()
}

func (q queries) UpdateHistory(ctx context.Context, h contract.History) error {
	_, err := q.h.ExecContext(ctx, `
		UPDATE contract_history
		SET catalog_id = ?, date = ?, payment = ?, actual_price = ?,
		    updated_at = ?, updated_by = ?
		WHERE id = ?`,
		h.CatalogID,
		h.Date.Format(time.RFC3339),
		h.Payment,
		h.ActualPrice.String(),
		time.Now().UTC().Format(time.RFC3339),
		h.UpdatedBy,
		h.ID,
	)
	return translateErr(err)
}

func (q queries) GetHistory(ctx context.Context, id int64) (*contract.History, error) {
	row := q.h.QueryRowContext(ctx,
		`SELECT `+historyColumns+` FROM contract_history WHERE id = ?`, id)
	h, err := scanHistory(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return &h, nil
}

func (q queries) HistoryByMember(ctx context.Context, member ledger.MemberID) ([]contract.History, error) {
	rows, err := q.h.QueryContext(ctx, `
		SELECT `+historyColumns+` FROM contract_history
		WHERE member_id = ? ORDER BY id DESC`, member)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var histories []contract.History
	for rows.Next() {
		h, err := scanHistory(rows.Scan)
		if err != nil {
			return nil, err
		}
		histories = append(histories, h)
	}
	return histories, rows.Err()
}

func (q queries) MarkHistoryDeleted(ctx context.Context, id int64, actor string) error {
	res, err := q.h.ExecContext(ctx, `
		UPDATE contract_history
		SET status = ?, updated_at = ?, updated_by = ?
		WHERE id = ?`,
		contract.HistoryDeleted,
		time.Now().UTC().Format(time.RFC3339),
		actor, id,
	)
	if err != nil {
		return translateErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: contract history %d", ledger.ErrNotFound, id)
	}
	return nil
}

func (q queries) ContractStats(ctx context.Context, member ledger.MemberID) (contract.Stats, error) {
	var s contract.Stats
	var totalCredit sql.NullString
	err := q.h.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CAST(c.credit_grant AS REAL)), 0),
			COALESCE(SUM(CASE WHEN c.type = 'dependent-lesson'
				THEN c.dependent_lesson_qty ELSE c.lesson_qty END), 0)
		FROM contract_history ch
		JOIN catalog_entries c ON ch.catalog_id = c.id
		WHERE ch.member_id = ? AND ch.status = 'active'`, member).
		Scan(&s.ContractCount, &totalCredit, &s.TotalLessons)
	if err != nil {
		return s, translateErr(err)
	}
	if totalCredit.Valid {
		s.TotalCredit = ledger.ParseAmount(totalCredit.String)
	}
	return s, nil
}

func scanHistory(scan func(dest ...any) error) (contract.History, error) {
	var (
		h                  contract.History
		date, registeredAt string
		price, credit      string
		dependent          sql.NullInt64
	)
	err := scan(&h.ID, &h.MemberID, &h.CatalogID, &date, &h.Payment,
		&price, &credit, &dependent, &h.Status, &registeredAt, &h.UpdatedBy)
	if err != nil {
		return h, err
	}
	h.Date, _ = time.Parse(time.RFC3339, date)
	h.RegisteredAt, _ = time.Parse(time.RFC3339, registeredAt)
	h.ActualPrice = ledger.ParseAmount(price)
	h.ActualCredit = ledger.ParseAmount(credit)
	if dependent.Valid {
		d := ledger.DependentID(dependent.Int64)
		h.DependentID = &d
	}
	return h, nil
}

// =============================================================================
// LESSON CONTRACTS
// =============================================================================

func (q queries) InsertLessonContract(ctx context.Context, lc contract.LessonContract) (int64, error) {
	res, err := q.h.ExecContext(ctx, `
		INSERT INTO ls_contracts
		(member_id, member_name, qty, source, date, end_date, expiry_date,
		 pool, dependent_id, history_id, staff_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lc.MemberID, lc.MemberName, lc.Qty, lc.Source,
		lc.Date.Format(time.RFC3339),
		lc.EndDate.Format(time.RFC3339),
		lc.ExpiryDate.Format(time.RFC3339),
		lc.Pool,
		nullDependent(lc.DependentID),
		lc.HistoryID, lc.StaffID,
		lc.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, translateErr(err)
	}
	return res.LastInsertId()
}

func (q queries) LessonContracts(ctx context.Context, member ledger.MemberID) ([]contract.LessonContract, error) {
	rows, err := q.h.QueryContext(ctx, `
		SELECT id, member_id, member_name, qty, source, date, end_date,
		       expiry_date, pool, dependent_id, history_id, staff_id, updated_at
		FROM ls_contracts
		WHERE member_id = ? ORDER BY id DESC`, member)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var contracts []contract.LessonContract
	for rows.Next() {
		var (
			lc                                 contract.LessonContract
			date, endDate, expiryDate, updated string
			dependent                          sql.NullInt64
		)
		if err := rows.Scan(&lc.ID, &lc.MemberID, &lc.MemberName, &lc.Qty,
			&lc.Source, &date, &endDate, &expiryDate, &lc.Pool,
			&dependent, &lc.HistoryID, &lc.StaffID, &updated); err != nil {
			return nil, err
		}
		lc.Date, _ = time.Parse(time.RFC3339, date)
		lc.EndDate, _ = time.Parse(time.RFC3339, endDate)
		lc.ExpiryDate, _ = time.Parse(time.RFC3339, expiryDate)
		lc.UpdatedAt, _ = time.Parse(time.RFC3339, updated)
		if dependent.Valid {
			d := ledger.DependentID(dependent.Int64)
			lc.DependentID = &d
		}
		contracts = append(contracts, lc)
	}
	return contracts, rows.Err()
}

func (q queries) ExtendLessonExpiry(ctx context.Context, member ledger.MemberID, expiry time.Time) (int, error) {
	res, err := q.h.ExecContext(ctx, `
		UPDATE ls_contracts
		SET expiry_date = ?, updated_at = ?
		WHERE member_id = ?`,
		expiry.Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		member,
	)
	if err != nil {
		return 0, translateErr(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// TERM PASSES & HOLDS
// =============================================================================

func (q queries) InsertTermPass(ctx context.Context, tp contract.TermPass) (int64, error) {
	res, err := q.h.ExecContext(ctx, `
		INSERT INTO term_member
		(type, period_months, start_date, end_date, expiry_date,
		 member_id, catalog_id, registered_at, hold_start, hold_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`,
		tp.Type, tp.PeriodMonths,
		tp.Start.Format(time.RFC3339),
		tp.End.Format(time.RFC3339),
		tp.Expiry.Format(time.RFC3339),
		tp.MemberID, tp.CatalogID,
		tp.RegisteredAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, translateErr(err)
	}
	return res.LastInsertId()
}

func (q queries) GetTermPass(ctx context.Context, id int64) (*contract.TermPass, error) {
	row := q.h.QueryRowContext(ctx, `
		SELECT id, type, period_months, start_date, end_date, expiry_date,
		       member_id, catalog_id, registered_at, hold_start, hold_end
		FROM term_member WHERE id = ?`, id)
	tp, err := scanTermPass(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return &tp, nil
}

func (q queries) TermPassesByMember(ctx context.Context, member ledger.MemberID) ([]contract.TermPass, error) {
	rows, err := q.h.QueryContext(ctx, `
		SELECT id, type, period_months, start_date, end_date, expiry_date,
		       member_id, catalog_id, registered_at, hold_start, hold_end
		FROM term_member WHERE member_id = ? ORDER BY id DESC`, member)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var passes []contract.TermPass
	for rows.Next() {
		tp, err := scanTermPass(rows.Scan)
		if err != nil {
			return nil, err
		}
		passes = append(passes, tp)
	}
	return passes, rows.Err()
}

// AdvanceTermExpiry moves expiry forward only; days is always positive.
func (q queries) AdvanceTermExpiry(ctx context.Context, termID int64, days int) error {
	tp, err := q.GetTermPass(ctx, termID)
	if err != nil {
		return err
	}
	if tp == nil {
		return fmt.Errorf("%w: term pass %d", ledger.ErrNotFound, termID)
	}
	_, err = q.h.ExecContext(ctx,
		`UPDATE term_member SET expiry_date = ? WHERE id = ?`,
		tp.Expiry.AddDate(0, 0, days).Format(time.RFC3339), termID)
	return translateErr(err)
}

func (q queries) InsertTermHold(ctx context.Context, h contract.TermHold) (int64, error) {
	res, err := q.h.ExecContext(ctx, `
		INSERT INTO term_hold
		(term_id, start_date, end_date, days, reason, staff_id, registered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.TermID,
		h.Start.Format(time.RFC3339),
		h.End.Format(time.RFC3339),
		h.Days, h.Reason, h.StaffID,
		h.RegisteredAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, translateErr(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	// Keep the pass's displayed hold window on the newest hold.
	_, err = q.h.ExecContext(ctx,
		`UPDATE term_member SET hold_start = ?, hold_end = ? WHERE id = ?`,
		h.Start.Format(time.RFC3339), h.End.Format(time.RFC3339), h.TermID)
	return id, translateErr(err)
}

func (q queries) TermHolds(ctx context.Context, termID int64) ([]contract.TermHold, error) {
	rows, err := q.h.QueryContext(ctx, `
		SELECT id, term_id, start_date, end_date, days, reason, staff_id, registered_at
		FROM term_hold WHERE term_id = ? ORDER BY start_date DESC`, termID)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var holds []contract.TermHold
	for rows.Next() {
		var (
			h                        contract.TermHold
			start, end, registeredAt string
		)
		if err := rows.Scan(&h.ID, &h.TermID, &start, &end, &h.Days,
			&h.Reason, &h.StaffID, &registeredAt); err != nil {
			return nil, err
		}
		h.Start, _ = time.Parse(time.RFC3339, start)
		h.End, _ = time.Parse(time.RFC3339, end)
		h.RegisteredAt, _ = time.Parse(time.RFC3339, registeredAt)
		holds = append(holds, h)
	}
	return holds, rows.Err()
}

func (q queries) ClearHoldMarker(ctx context.Context, termID int64) error {
	_, err := q.h.ExecContext(ctx,
		`UPDATE term_member SET hold_start = NULL, hold_end = NULL WHERE id = ?`, termID)
	return translateErr(err)
}

func scanTermPass(scan func(dest ...any) error) (contract.TermPass, error) {
	var (
		tp                        contract.TermPass
		typ                       string
		start, end, expiry, regAt string
		holdStart, holdEnd        sql.NullString
	)
	err := scan(&tp.ID, &typ, &tp.PeriodMonths, &start, &end, &expiry,
		&tp.MemberID, &tp.CatalogID, &regAt, &holdStart, &holdEnd)
	if err != nil {
		return tp, err
	}
	tp.Type = catalog.TermType(typ)
	tp.Start, _ = time.Parse(time.RFC3339, start)
	tp.End, _ = time.Parse(time.RFC3339, end)
	tp.Expiry, _ = time.Parse(time.RFC3339, expiry)
	tp.RegisteredAt, _ = time.Parse(time.RFC3339, regAt)
	if holdStart.Valid {
		t, _ := time.Parse(time.RFC3339, holdStart.String)
		tp.HoldStart = &t
	}
	if holdEnd.Valid {
		t, _ := time.Parse(time.RFC3339, holdEnd.String)
		tp.HoldEnd = &t
	}
	return tp, nil
}

// =============================================================================
// PRO RELATIONS (pros.Store)
// =============================================================================

func (q queries) ActiveRelations(ctx context.Context, member ledger.MemberID, dependent *ledger.DependentID) ([]pros.Relation, error) {
	query := `SELECT id, member_id, dependent_id, nickname, registered_at, status
		FROM member_pro_match
		WHERE member_id = ? AND status = ? AND `
	args := []any{member, pros.StatusActive}
	if dependent == nil {
		query += `(dependent_id IS NULL OR dependent_id = 0)`
	} else {
		query += `dependent_id = ?`
		args = append(args, int64(*dependent))
	}

	rows, err := q.h.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var relations []pros.Relation
	for rows.Next() {
		var (
			r     pros.Relation
			dep   sql.NullInt64
			regAt string
		)
		if err := rows.Scan(&r.ID, &r.MemberID, &dep, &r.ProNickname, &regAt, &r.Status); err != nil {
			return nil, err
		}
		if dep.Valid {
			d := ledger.DependentID(dep.Int64)
			r.DependentID = &d
		}
		r.RegisteredAt, _ = time.Parse(time.RFC3339, regAt)
		relations = append(relations, r)
	}
	return relations, rows.Err()
}

func (q queries) InsertRelation(ctx context.Context, r pros.Relation) (int64, error) {
	if r.Status == "" {
		r.Status = pros.StatusActive
	}
	res, err := q.h.ExecContext(ctx, `
		INSERT INTO member_pro_match
		(member_id, dependent_id, nickname, registered_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		r.MemberID,
		nullDependent(r.DependentID),
		r.ProNickname,
		r.RegisteredAt.Format(time.RFC3339),
		r.Status,
	)
	if err != nil {
		return 0, translateErr(err)
	}
	return res.LastInsertId()
}

func (q queries) ExpireRelation(ctx context.Context, id int64) error {
	_, err := q.h.ExecContext(ctx,
		`UPDATE member_pro_match SET status = ? WHERE id = ?`, pros.StatusExpired, id)
	return translateErr(err)
}

func (q queries) ExpireRelations(ctx context.Context, member ledger.MemberID, dependent *ledger.DependentID) (int, error) {
	query := `UPDATE member_pro_match SET status = ?
		WHERE member_id = ? AND status = ? AND `
	args := []any{pros.StatusExpired, member, pros.StatusActive}
	if dependent == nil {
		query += `(dependent_id IS NULL OR dependent_id = 0)`
	} else {
		query += `dependent_id = ?`
		args = append(args, int64(*dependent))
	}

	res, err := q.h.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, translateErr(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// STAFF
// =============================================================================

// SaveStaff seeds a staff credential row.
func (q queries) SaveStaff(ctx context.Context, id, name, password string, privileged bool) error {
	_, err := q.h.ExecContext(ctx, `
		INSERT INTO staff (id, name, password, privileged)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			password = excluded.password,
			privileged = excluded.privileged`,
		id, name, password, privileged)
	return translateErr(err)
}

func (q queries) VerifyDeleteCredential(ctx context.Context, password string) (string, error) {
	var id string
	err := q.h.QueryRowContext(ctx,
		`SELECT id FROM staff WHERE privileged = TRUE AND password = ? LIMIT 1`, password).
		Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: delete password rejected", ledger.ErrUnauthorized)
	}
	if err != nil {
		return "", translateErr(err)
	}
	return id, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullDependent(d *ledger.DependentID) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*d), Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}

func isBusyError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "database table is locked"))
}

// translateErr folds driver errors into the ledger taxonomy. Business-rule
// errors pass through untouched.
func translateErr(err error) error {
	switch {
	case err == nil:
		return nil
	case ledger.IsClientError(err), ledger.IsRetryable(err):
		return err
	case isBusyError(err):
		return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
	case isUniqueConstraintError(err):
		return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
	default:
		return fmt.Errorf("%w: %v", ledger.ErrPersistence, err)
	}
}
