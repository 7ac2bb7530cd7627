/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request types carry validator/v10 struct tags; handlers run the shared
  validator before touching domain logic, so the workflow never sees a
  structurally broken request.

MONEY:
  Amounts travel as JSON numbers (won, no fractional part in practice).
  Internally they are decimals; the DTO layer converts at the boundary.

SEE ALSO:
  - handlers.go: Uses these types
  - contract/workflow.go: the domain inputs these map onto
*/
package api

import (
	"time"

	"github.com/fairway/academy-ledger/catalog"
	"github.com/fairway/academy-ledger/contract"
	"github.com/fairway/academy-ledger/ledger"
	"github.com/fairway/academy-ledger/pros"
	"github.com/shopspring/decimal"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// RegisterContractRequest is the purchase form. ManualCredit is honored only
// for the open-deposit catalog entry.
type RegisterContractRequest struct {
	CatalogID    string   `json:"catalog_id" validate:"required"`
	Date         string   `json:"date" validate:"required,datetime=2006-01-02"`
	Payment      string   `json:"payment" validate:"required,oneof=card cash credit store-coupon"`
	ManualCredit *float64 `json:"manual_credit,omitempty" validate:"omitempty,gt=0"`
	DependentID  *int64   `json:"dependent_id,omitempty" validate:"omitempty,gt=0"`
	ProNickname  string   `json:"pro_nickname,omitempty"`
	ProChange    string   `json:"pro_change,omitempty" validate:"omitempty,oneof=change add"`
	ActorID      string   `json:"actor_id,omitempty"`
	HistoryID    *int64   `json:"history_id,omitempty" validate:"omitempty,gt=0"`
}

// PurchaseProductRequest is a product or beverage sale.
type PurchaseProductRequest struct {
	CatalogID string `json:"catalog_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
	Payment   string `json:"payment" validate:"required,oneof=card cash credit store-coupon"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	ActorID   string `json:"actor_id,omitempty"`
}

// ManualCreditRequest adjusts a member's balance by a signed amount.
type ManualCreditRequest struct {
	Amount  float64 `json:"amount" validate:"required"`
	Label   string  `json:"label" validate:"required"`
	Text    string  `json:"text,omitempty"`
	ActorID string  `json:"actor_id,omitempty"`
}

// DeleteContractRequest soft-deletes a purchase record. The password is the
// shared delete credential, not a member password.
type DeleteContractRequest struct {
	Password string `json:"password" validate:"required"`
}

// ExtendExpiryRequest moves every lesson bundle of a member to a new expiry.
type ExtendExpiryRequest struct {
	Expiry  string `json:"expiry" validate:"required,datetime=2006-01-02"`
	ActorID string `json:"actor_id,omitempty"`
}

// SetProsRequest replaces the active instructor set for a partition.
type SetProsRequest struct {
	DependentID *int64   `json:"dependent_id,omitempty" validate:"omitempty,gt=0"`
	Nicknames   []string `json:"nicknames" validate:"required"`
}

// RegisterHoldRequest suspends a term pass for an inclusive date range.
type RegisterHoldRequest struct {
	Start   string `json:"start" validate:"required,datetime=2006-01-02"`
	End     string `json:"end" validate:"required,datetime=2006-01-02"`
	Reason  string `json:"reason" validate:"required"`
	ActorID string `json:"actor_id,omitempty"`
}

// CreateMemberRequest registers a member record.
type CreateMemberRequest struct {
	Name string `json:"name" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ErrorResponse is the uniform failure envelope. CurrentBalance and
// RequiredAmount are set only on insufficient-credit rejections so the UI
// can show the shortfall.
type ErrorResponse struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	Details        string   `json:"details,omitempty"`
	CurrentBalance *float64 `json:"currentBalance,omitempty"`
	RequiredAmount *float64 `json:"requiredAmount,omitempty"`
}

// RegisterContractResponse reports a successful purchase.
type RegisterContractResponse struct {
	Success    bool    `json:"success"`
	MemberID   int64   `json:"member_id"`
	HistoryID  int64   `json:"history_id"`
	NewBalance float64 `json:"new_balance"`
}

// BalanceResponse is the member's current credit balance.
type BalanceResponse struct {
	MemberID int64   `json:"member_id"`
	Balance  float64 `json:"balance"`
}

// NewBalanceResponse follows a mutation that moved the balance.
type NewBalanceResponse struct {
	Success    bool    `json:"success"`
	NewBalance float64 `json:"new_balance"`
}

// BillDTO is one balance-ledger row.
type BillDTO struct {
	ID            int64   `json:"id"`
	MemberID      int64   `json:"member_id"`
	Date          string  `json:"date"`
	Type          string  `json:"type"`
	Text          string  `json:"text"`
	Gross         float64 `json:"gross"`
	Discount      float64 `json:"discount"`
	Net           float64 `json:"net"`
	BalanceBefore float64 `json:"balance_before"`
	BalanceAfter  float64 `json:"balance_after"`
	ContractID    *int64  `json:"contract_id,omitempty"`
	Status        string  `json:"status"`
}

// LessonDTO is one lesson-ledger row, date derived from the business key.
type LessonDTO struct {
	ID            string `json:"id"`
	Date          string `json:"date"`
	MemberID      int64  `json:"member_id"`
	DependentID   *int64 `json:"dependent_id,omitempty"`
	Source        string `json:"source"`
	Qty           int    `json:"qty"`
	BalanceBefore int    `json:"balance_before"`
	BalanceAfter  int    `json:"balance_after"`
	Pool          string `json:"pool"`
}

// LessonBalanceDTO is the partition reconciliation view shown on the
// lesson tab: purchased minus consumed should equal remaining.
type LessonBalanceDTO struct {
	MemberID  int64  `json:"member_id"`
	Pool      string `json:"pool"`
	Purchased int    `json:"purchased"`
	Consumed  int    `json:"consumed"`
	Remaining int    `json:"remaining"`
	Drift     int    `json:"drift"`
}

// StatsDTO summarizes a member's active purchases.
type StatsDTO struct {
	ContractCount int     `json:"contract_count"`
	TotalCredit   float64 `json:"total_credit"`
	TotalLessons  int     `json:"total_lessons"`
}

// ProDTO is one active instructor relation.
type ProDTO struct {
	ID           int64  `json:"id"`
	Nickname     string `json:"nickname"`
	DependentID  *int64 `json:"dependent_id,omitempty"`
	RegisteredAt string `json:"registered_at"`
	Status       string `json:"status"`
}

// HoldDTO is one term-pass suspension.
type HoldDTO struct {
	ID     int64  `json:"id"`
	TermID int64  `json:"term_id"`
	Start  string `json:"start"`
	End    string `json:"end"`
	Days   int    `json:"days"`
	Reason string `json:"reason,omitempty"`
}

// MemberDTO is a member record.
type MemberDTO struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
}

// HistoryDTO is one purchase record.
type HistoryDTO struct {
	ID           int64   `json:"id"`
	MemberID     int64   `json:"member_id"`
	CatalogID    string  `json:"catalog_id"`
	Date         string  `json:"date"`
	Payment      string  `json:"payment"`
	ActualPrice  float64 `json:"actual_price"`
	ActualCredit float64 `json:"actual_credit"`
	DependentID  *int64  `json:"dependent_id,omitempty"`
	Status       string  `json:"status"`
}

// CatalogEntryDTO is one sellable entry.
type CatalogEntryDTO struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Price        float64 `json:"price"`
	CreditPrice  float64 `json:"credit_price"`
	CreditGrant  float64 `json:"credit_grant"`
	LessonQty    int     `json:"lesson_qty"`
	EffectMonths int     `json:"effect_months"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

const dateLayout = "2006-01-02"

func amountFloat(a ledger.Amount) float64 {
	f, _ := a.Value.Float64()
	return f
}

func floatAmount(f float64) ledger.Amount {
	return ledger.AmountFromDecimal(decimal.NewFromFloat(f))
}

func int64Ptr(v *int64) *ledger.DependentID {
	if v == nil {
		return nil
	}
	d := ledger.DependentID(*v)
	return &d
}

func dependentPtr(d *ledger.DependentID) *int64 {
	if d == nil {
		return nil
	}
	v := int64(*d)
	return &v
}

func toBillDTO(e ledger.BillEntry) BillDTO {
	return BillDTO{
		ID:            e.ID,
		MemberID:      int64(e.MemberID),
		Date:          e.Date.Format(dateLayout),
		Type:          string(e.Type),
		Text:          e.Text,
		Gross:         amountFloat(e.Gross),
		Discount:      amountFloat(e.Discount),
		Net:           amountFloat(e.Net),
		BalanceBefore: amountFloat(e.BalanceBefore),
		BalanceAfter:  amountFloat(e.BalanceAfter),
		ContractID:    e.ContractID,
		Status:        string(e.Status),
	}
}

func toLessonDTO(item contract.LessonHistoryItem) LessonDTO {
	e := item.Entry
	return LessonDTO{
		ID:            e.ID,
		Date:          item.Date.Format(dateLayout),
		MemberID:      int64(e.MemberID),
		DependentID:   dependentPtr(e.DependentID),
		Source:        string(e.Source),
		Qty:           e.Qty,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		Pool:          string(e.Pool),
	}
}

func toProDTO(r pros.Relation) ProDTO {
	return ProDTO{
		ID:           r.ID,
		Nickname:     r.ProNickname,
		DependentID:  dependentPtr(r.DependentID),
		RegisteredAt: r.RegisteredAt.Format(time.RFC3339),
		Status:       string(r.Status),
	}
}

func toHoldDTO(h contract.TermHold) HoldDTO {
	return HoldDTO{
		ID:     h.ID,
		TermID: h.TermID,
		Start:  h.Start.Format(dateLayout),
		End:    h.End.Format(dateLayout),
		Days:   h.Days,
		Reason: h.Reason,
	}
}

func toMemberDTO(m contract.Member) MemberDTO {
	return MemberDTO{
		ID:        int64(m.ID),
		Name:      m.Name,
		CreatedAt: m.CreatedAt.Format(time.RFC3339),
	}
}

func toHistoryDTO(h contract.History) HistoryDTO {
	return HistoryDTO{
		ID:           h.ID,
		MemberID:     int64(h.MemberID),
		CatalogID:    h.CatalogID,
		Date:         h.Date.Format(dateLayout),
		Payment:      string(h.Payment),
		ActualPrice:  amountFloat(h.ActualPrice),
		ActualCredit: amountFloat(h.ActualCredit),
		DependentID:  dependentPtr(h.DependentID),
		Status:       string(h.Status),
	}
}

func toCatalogDTO(e catalog.Entry) CatalogEntryDTO {
	return CatalogEntryDTO{
		ID:           e.ID,
		Name:         e.Name,
		Type:         string(e.Type),
		Price:        amountFloat(e.Price),
		CreditPrice:  amountFloat(e.CreditPrice),
		CreditGrant:  amountFloat(e.CreditGrant),
		LessonQty:    e.GrantedLessons(),
		EffectMonths: e.EffectMonths,
	}
}
