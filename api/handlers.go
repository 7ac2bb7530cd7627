/*
handlers.go - HTTP API handlers for the academy ledger

PURPOSE:
  Exposes the credit and lesson ledgers via REST. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Members:
    GET    /api/members                    List members
    POST   /api/members                    Create member
    GET    /api/members/{id}               Get member
    GET    /api/members/{id}/balance       Current credit balance
    GET    /api/members/{id}/bills         Balance ledger history

  Purchases:
    POST   /api/members/{id}/contracts       Register a contract
    GET    /api/members/{id}/contracts       Purchase history
    GET    /api/members/{id}/contracts/stats Active purchase summary
    POST   /api/members/{id}/products        Product/beverage sale
    POST   /api/members/{id}/credits         Manual balance adjustment
    DELETE /api/contracts/{id}               Soft delete (password-guarded)

  Lessons:
    GET    /api/members/{id}/lessons         Lesson ledger history
    GET    /api/members/{id}/lessons/balance Partition reconciliation
    PUT    /api/members/{id}/lessons/expiry  Extend bundle expiry

  Pros:
    GET    /api/members/{id}/pros          Active instructor relations
    POST   /api/members/{id}/pros          Replace instructor set

  Terms:
    POST   /api/terms/{id}/holds           Register a hold
    GET    /api/terms/{id}/holds           Hold history
    DELETE /api/terms/{id}/hold            Clear hold marker

  Catalog:
    GET    /api/catalog                    List sellable entries

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate DTO (validator/v10 struct tags)
  3. Call domain logic (workflow, ledgers, registry)
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 401: Rejected delete credential
  - 404: Member/entry/pass not found
  - 409: Write conflict after retry
  - 422: Business precondition (insufficient credit, hold too long)
  - 500: Persistence errors (generic message, never raw SQL)

SECURITY NOTE:
  No session auth; actor ids and the delete password travel in request
  bodies. Front it with the gateway that owns staff sessions.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairway/academy-ledger/contract"
	"github.com/fairway/academy-ledger/ledger"
	"github.com/fairway/academy-ledger/pros"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds the API's dependencies. One instance serves all requests.
type Handler struct {
	store    contract.Store
	workflow *contract.Workflow
	validate *validator.Validate
}

func NewHandler(store contract.Store) *Handler {
	return &Handler{
		store:    store,
		workflow: contract.NewWorkflow(store),
		validate: validator.New(),
	}
}

// =============================================================================
// MEMBERS
// =============================================================================

// ListMembers returns all members.
// GET /api/members
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.store.ListMembers(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]MemberDTO, 0, len(members))
	for _, m := range members {
		dtos = append(dtos, toMemberDTO(m))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateMember registers a member record.
// POST /api/members
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.store.SaveMember(r.Context(), contract.Member{Name: req.Name})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MemberDTO{ID: int64(id), Name: req.Name})
}

// GetMember returns one member.
// GET /api/members/{id}
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	member, ok := h.memberID(w, r)
	if !ok {
		return
	}

	m, err := h.store.GetMember(r.Context(), member)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "member not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toMemberDTO(*m))
}

// =============================================================================
// BALANCE & BILLS
// =============================================================================

// GetBalance returns the member's current credit balance.
// GET /api/members/{id}/balance
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	member, ok := h.memberID(w, r)
	if !ok {
		return
	}

	balance, err := h.workflow.Bills.CurrentBalance(r.Context(), h.store, member)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{
		MemberID: int64(member),
		Balance:  amountFloat(balance),
	})
}

// GetBills returns the member's balance ledger, oldest first.
// GET /api/members/{id}/bills
func (h *Handler) GetBills(w http.ResponseWriter, r *http.Request) {
	member, ok := h.memberID(w, r)
	if !ok {
		return
	}

	entries, err := h.workflow.Bills.History(r.Context(), h.store, member)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]BillDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toBillDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CONTRACT REGISTRATION
// =============================================================================

// RegisterContract runs the purchase workflow.
// POST /api/members/{id}/contracts
func (h *Handler) RegisterContract(w http.ResponseWriter, r *http.Request) {
	member, ok := h.memberID(w, r)
	if !ok {
		return
	}

	var req RegisterContractRequest
	if !h.decode(w, r, &req) {
		return
	}

	date, _ := time.Parse(dateLayout, req.Date)
	payment, err := contract.ParsePaymentMethod(req.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment method", err)
		return
	}

	in := contract.RegisterInput{
		MemberID:    member,
		CatalogID:   req.CatalogID,
		Date:        date,
		Payment:     payment,
		DependentID: int64Ptr(req.DependentID),
		ProNickname: req.ProNickname,
		ProChange:   pros.ChangeMode(req.ProChange),
		ActorID:     req.ActorID,
		HistoryID:   req.HistoryID,
	}
	if req.ManualCredit != nil {
		a := floatAmount(*req.ManualCredit)
		in.ManualCredit = &a
	}

	res, err := h.workflow.Register(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterContractResponse{
		Success:    true,
		MemberID:   int64(res.MemberID),
		HistoryID:  res.HistoryID,
		NewBalance: amountFloat(res.NewBalance),
	})
}

// GetContracts returns the member's purchase history, newest first.
// GET /api/members/{id}/contracts
func (h *Handler) GetContracts(w http.ResponseWriter, r *http.Request) {
	member, ok := h.memberID(w, r)
	if !ok {
		return
	}

	histories, err := h.store.HistoryByMember(r.Context(), member)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]HistoryDTO, 0, len(histories))
	for _, hist := range histories {
		dtos = append(dtos, toHistoryDTO(hist))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetContractStats summarizes the member's active purchases.
// GET /api/members/{id}/contracts/stats
func (h *Handler) GetContractStats(w http.ResponseWriter, r *http.Request) {
	member, ok := h.memberID(w, r)
	if !ok {
		return
	}

	stats, err := h.workflow.Stats(r.Context(), member)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsDTO{
		ContractCount: stats.ContractCount,
		TotalCredit:   amountFloat(stats.TotalCredit),
		TotalLessons:  stats.TotalLessons,
	})
}

// DeleteContract soft-deletes a purchase record after verifying the shared
// delete credential. Ledger entries are never reversed by this path.
// DELETE /api/contracts/{id}
func (h *Handler) DeleteContract(w http.ResponseWriter, r *http.Request) {
	historyID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contract id", err)
		return
	}

	var req DeleteContractRequest
	if !h.decode(w, r, &req) {
		return
	}

	member, err := h.workflow.Delete(r.Context(), historyID, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"member_id": int64(member),
	})
}

// =============================================================================
// PRODUCTS & MANUAL CREDITS
// =============================================================================

// PurchaseProduct records a product or beverage sale.
// POST /api/members/{id}/products
func (h *Handler) PurchaseProduct(w http.ResponseWriter, r *http.Request) {
	member, ok := h.memberID(w, r)
	if !ok {
		return
	}

	var req PurchaseProductRequest
	if !h.decode(w, r, &req) {
		return
	}

	date, _ := time.Parse(dateLayout, req.Date)
	payment, err := contract.ParsePaymentMethod(req.Payment)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment method", err)
		return
	}

	balance, err := h.workflow.PurchaseProduct(r.Context(), contract.ProductInput{
		MemberID:  member,
		CatalogID: req.CatalogID,
		Quantity:  req.Quantity,
		Payment:   payment,
		Date:      date,
		ActorID:   req.ActorID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, NewBalanceResponse{
		Success:    true,
		NewBalance: amountFloat(balance),
	})
}

// ManualCredit adjusts the member's balance by a signed amount.
// POST /api/members/{id}/credits
func (h *Handler) ManualCredit(w http.ResponseWriter, r *http.Request) {
	member, ok := h.memberID(w, r)
	if !ok {
		return
	}

	var req ManualCreditRequest
	if !h.decode(w, r, &req) {
		return
	}

	balance, err := h.workflow.ManualAdjust(r.Context(), member,
		floatAmount(req.Amount), req.Label, req.Text, req.ActorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewBalanceResponse{
		Success:    true,
		NewBalance: amountFloat(balance),
	})
}

// =============================================================================
// LESSONS
// =============================================================================

// GetLessons returns the member's lesson ledger, newest first.
// GET /api/members/{id}/lessons
func (h *Handler) GetLessons(w http.ResponseWriter, r *http.Request) {
	member, ok := h.memberID(w, r)
	if !ok {
		return
	}

	items, err := h.workflow.LessonHistory(r.Context(), member)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]LessonDTO, 0, len(items))
	for _, item := range items {
		dtos = append(dtos, toLessonDTO(item))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLessonBalance reconciles a partition: purchased, consumed, remaining.
// Pool and dependent_id come from query params; default is the member's
// own general pool.
// GET /api/members/{id}/lessons/balance
func (h *Handler) GetLessonBalance(w http.ResponseWriter, r *http.Request) {
	member, ok := h.memberID(w, r)
	if !ok {
		return
	}

	p := ledger.Partition{MemberID: member, Pool: ledger.PoolGeneral}
	if v := r.URL.Query().Get("dependent_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid dependent_id", err)
			return
		}
		d := ledger.DependentID(id)
		p.DependentID = &d
		p.Pool = ledger.PoolDependent
	}

	rec, err := h.workflow.LessonBalance(r.Context(), p)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LessonBalanceDTO{
		MemberID:  int64(member),
		Pool:      string(p.Pool),
		Purchased: rec.Purchased,
		Consumed:  rec.Consumed,
		Remaining: rec.Remaining,
		Drift:     rec.Drift(),
	})
}

// ExtendLessonExpiry moves every lesson bundle of the member to a new
// expiry date.
// PUT /api/members/{id}/lessons/expiry
func (h *Handler) ExtendLessonExpiry(w http.ResponseWriter, r *http.Request) {
	member, ok := h.memberID(w, r)
	if !ok {
		return
	}

	var req ExtendExpiryRequest
	if !h.decode(w, r, &req) {
		return
	}

	expiry, _ := time.Parse(dateLayout, req.Expiry)
	n, err := h.workflow.ExtendLessonExpiry(r.Context(), member, expiry, req.ActorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"updated": n,
	})
}

// =============================================================================
// PROS
// =============================================================================

// GetPros returns the active instructor relations for a partition.
// GET /api/members/{id}/pros
func (h *Handler) GetPros(w http.ResponseWriter, r *http.Request) {
	member, ok := h.memberID(w, r)
	if !ok {
		return
	}

	var dependent *ledger.DependentID
	if v := r.URL.Query().Get("dependent_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid dependent_id", err)
			return
		}
		d := ledger.DependentID(id)
		dependent = &d
	}

	relations, err := h.workflow.Registry.Active(r.Context(), h.store, member, dependent)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]ProDTO, 0, len(relations))
	for _, rel := range relations {
		dtos = append(dtos, toProDTO(rel))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SetPros replaces the active instructor set for a partition. Idempotent:
// posting the same set twice changes nothing the second time.
// POST /api/members/{id}/pros
func (h *Handler) SetPros(w http.ResponseWriter, r *http.Request) {
	member, ok := h.memberID(w, r)
	if !ok {
		return
	}

	var req SetProsRequest
	if !h.decode(w, r, &req) {
		return
	}

	err := h.store.WithTx(r.Context(), func(tx contract.Store) error {
		return h.workflow.Registry.SetAssignments(r.Context(), tx,
			member, int64Ptr(req.DependentID), req.Nicknames)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// =============================================================================
// TERM HOLDS
// =============================================================================

// RegisterHold suspends a term pass and pushes its expiry out by the hold
// length.
// POST /api/terms/{id}/holds
func (h *Handler) RegisterHold(w http.ResponseWriter, r *http.Request) {
	termID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid term id", err)
		return
	}

	var req RegisterHoldRequest
	if !h.decode(w, r, &req) {
		return
	}

	start, _ := time.Parse(dateLayout, req.Start)
	end, _ := time.Parse(dateLayout, req.End)

	hold, err := h.workflow.RegisterHold(r.Context(), contract.HoldInput{
		TermID:  termID,
		Start:   start,
		End:     end,
		Reason:  req.Reason,
		ActorID: req.ActorID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toHoldDTO(hold))
}

// GetHolds returns a term pass's hold history, newest first.
// GET /api/terms/{id}/holds
func (h *Handler) GetHolds(w http.ResponseWriter, r *http.Request) {
	termID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid term id", err)
		return
	}

	holds, err := h.workflow.Holds(r.Context(), termID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]HoldDTO, 0, len(holds))
	for _, hold := range holds {
		dtos = append(dtos, toHoldDTO(hold))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ClearHold removes the displayed hold window from a term pass. The hold
// history and the advanced expiry stay.
// DELETE /api/terms/{id}/hold
func (h *Handler) ClearHold(w http.ResponseWriter, r *http.Request) {
	termID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid term id", err)
		return
	}

	if err := h.workflow.ClearHold(r.Context(), termID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// =============================================================================
// CATALOG
// =============================================================================

// ListCatalog returns all sellable entries.
// GET /api/catalog
func (h *Handler) ListCatalog(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ListEntries(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]CatalogEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toCatalogDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) memberID(w http.ResponseWriter, r *http.Request) (ledger.MemberID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid member id", err)
		return 0, false
	}
	return ledger.MemberID(id), true
}

// decode parses the JSON body and runs struct validation. Writes the 400
// itself and returns false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Success: false, Message: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the ledger error taxonomy onto HTTP. Insufficient
// credit carries the shortfall so the UI can show it next to the price.
func writeDomainError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientCreditError
	if errors.As(err, &insufficient) {
		balance := amountFloat(insufficient.CurrentBalance)
		required := amountFloat(insufficient.RequiredAmount)
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Success:        false,
			Message:        insufficient.Error(),
			CurrentBalance: &balance,
			RequiredAmount: &required,
		})
		return
	}

	switch {
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, ledger.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error(), nil)
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, ledger.ErrPrecondition):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), nil)
	case errors.Is(err, ledger.ErrConflict):
		writeError(w, http.StatusConflict, err.Error(), nil)
	default:
		// Never leak SQL to clients.
		writeError(w, http.StatusInternalServerError, "internal error",
			fmt.Errorf("request failed"))
	}
}
