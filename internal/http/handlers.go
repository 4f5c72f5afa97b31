package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ticketvault/hold-purchase-links/internal/adapters/crdb"
	"github.com/ticketvault/hold-purchase-links/internal/app"
	"github.com/ticketvault/hold-purchase-links/internal/domain"
	"github.com/ticketvault/hold-purchase-links/internal/idempotency"
)

type HoldService interface {
	CreateHold(ctx context.Context, in app.CreateHoldInput) (domain.Hold, error)
	GetHold(ctx context.Context, holdID uuid.UUID) (domain.Hold, error)
	UpdateHoldExpiry(ctx context.Context, holdID uuid.UUID, expiresAt *time.Time) error
	AddAllocation(ctx context.Context, holdID uuid.UUID, in app.AllocationInput) (domain.Allocation, error)
	ChangeAllocationQuantity(ctx context.Context, holdID, allocationID uuid.UUID, quantity int) error
	Release(ctx context.Context, holdID, actor uuid.UUID) error
	DeleteHold(ctx context.Context, holdID uuid.UUID) error
}

type LinkService interface {
	Create(ctx context.Context, in app.CreateLinkInput) (domain.PurchaseLink, error)
	Update(ctx context.Context, linkID uuid.UUID, in app.UpdateLinkInput) error
	Revoke(ctx context.Context, linkID, actor uuid.UUID) error
	RecordAccess(ctx context.Context, in app.RecordAccessInput) (domain.LinkAccess, error)
	ValidateForUser(ctx context.Context, code string, userID *uuid.UUID) (app.LinkValidation, error)
	DeleteLink(ctx context.Context, linkID uuid.UUID) error
}

type PurchaseService interface {
	CalculateOrderTotal(ctx context.Context, code string, userID *uuid.UUID, items []app.PurchaseItem) (app.OrderTotal, error)
	ProcessPurchase(ctx context.Context, in app.ProcessPurchaseInput) (app.PurchaseResult, error)
}

// ReadModels serves the derived aggregates the API exposes read-only.
type ReadModels interface {
	GetHoldSummary(ctx context.Context, holdID uuid.UUID) (crdb.HoldSummary, error)
	GetLinkConversion(ctx context.Context, linkID uuid.UUID) (crdb.LinkConversion, error)
}

// IdempotencyStore replays stored responses for repeated purchase attempts.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*idempotency.Response, error)
	Set(ctx context.Context, key string, resp idempotency.Response) error
}

type Handlers struct {
	holds     HoldService
	links     LinkService
	purchases PurchaseService
	reads     ReadModels
	idemp     IdempotencyStore
}

func NewHandlers(holds HoldService, links LinkService, purchases PurchaseService, reads ReadModels, idemp IdempotencyStore) *Handlers {
	return &Handlers{
		holds:     holds,
		links:     links,
		purchases: purchases,
		reads:     reads,
		idemp:     idemp,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) []byte {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrLinkNotUsable):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrUserNotAuthorizedForLink):
		http.Error(w, "not authorized for this link", http.StatusForbidden)
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrInvalidPricing):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrHoldNotActive):
		http.Error(w, "hold is not active", http.StatusConflict)
	case errors.Is(err, domain.ErrInsufficientInventory),
		errors.Is(err, domain.ErrInsufficientHoldInventory):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, "conflict, try again", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func urlUUID(r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	return id, err == nil
}

type allocationPayload struct {
	TicketTypeID    uuid.UUID `json:"ticket_type_id"`
	Quantity        int       `json:"quantity"`
	PricingMode     string    `json:"pricing_mode"`
	CustomPrice     *int64    `json:"custom_price,omitempty"`
	DiscountPercent *float64  `json:"discount_percent,omitempty"`
}

func (p allocationPayload) toInput() app.AllocationInput {
	return app.AllocationInput{
		TicketTypeID:    p.TicketTypeID,
		Quantity:        p.Quantity,
		PricingMode:     domain.PricingMode(p.PricingMode),
		CustomPrice:     p.CustomPrice,
		DiscountPercent: p.DiscountPercent,
	}
}

type allocationView struct {
	ID                uuid.UUID `json:"id"`
	TicketTypeID      uuid.UUID `json:"ticket_type_id"`
	AllocatedQuantity int       `json:"allocated_quantity"`
	PurchasedQuantity int       `json:"purchased_quantity"`
	Remaining         int       `json:"remaining"`
	PricingMode       string    `json:"pricing_mode"`
	CustomPrice       *int64    `json:"custom_price,omitempty"`
	DiscountPercent   *float64  `json:"discount_percent,omitempty"`
}

type holdView struct {
	ID           uuid.UUID        `json:"id"`
	OccurrenceID uuid.UUID        `json:"occurrence_id"`
	OrganizerID  uuid.UUID        `json:"organizer_id"`
	Status       string           `json:"status"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
	Allocations  []allocationView `json:"allocations"`
	CreatedAt    time.Time        `json:"created_at"`
}

func holdToView(h domain.Hold) holdView {
	v := holdView{
		ID:           h.ID,
		OccurrenceID: h.OccurrenceID,
		OrganizerID:  h.OrganizerID,
		Status:       string(h.Status),
		ExpiresAt:    h.ExpiresAt,
		CreatedAt:    h.CreatedAt,
		Allocations:  make([]allocationView, 0, len(h.Allocations)),
	}
	for _, a := range h.Allocations {
		v.Allocations = append(v.Allocations, allocationView{
			ID:                a.ID,
			TicketTypeID:      a.TicketTypeID,
			AllocatedQuantity: a.AllocatedQuantity,
			PurchasedQuantity: a.PurchasedQuantity,
			Remaining:         a.Remaining(),
			PricingMode:       string(a.PricingMode),
			CustomPrice:       a.CustomPrice,
			DiscountPercent:   a.DiscountPercent,
		})
	}
	return v
}

type linkView struct {
	ID                uuid.UUID  `json:"id"`
	Code              string     `json:"code"`
	HoldID            uuid.UUID  `json:"hold_id"`
	AssignedUserID    *uuid.UUID `json:"assigned_user_id,omitempty"`
	QuantityMode      string     `json:"quantity_mode"`
	QuantityLimit     *int       `json:"quantity_limit,omitempty"`
	QuantityPurchased int        `json:"quantity_purchased"`
	Status            string     `json:"status"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func linkToView(l domain.PurchaseLink) linkView {
	return linkView{
		ID:                l.ID,
		Code:              l.Code,
		HoldID:            l.HoldID,
		AssignedUserID:    l.AssignedUserID,
		QuantityMode:      string(l.QuantityMode),
		QuantityLimit:     l.QuantityLimit,
		QuantityPurchased: l.QuantityPurchased,
		Status:            string(l.Status),
		ExpiresAt:         l.ExpiresAt,
		CreatedAt:         l.CreatedAt,
	}
}

func (h *Handlers) CreateHold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OccurrenceID uuid.UUID           `json:"occurrence_id"`
		OrganizerID  uuid.UUID           `json:"organizer_id"`
		ExpiresAt    *time.Time          `json:"expires_at"`
		Allocations  []allocationPayload `json:"allocations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	in := app.CreateHoldInput{
		OccurrenceID: req.OccurrenceID,
		OrganizerID:  req.OrganizerID,
		ExpiresAt:    req.ExpiresAt,
	}
	for _, a := range req.Allocations {
		in.Allocations = append(in.Allocations, a.toInput())
	}

	hold, err := h.holds.CreateHold(r.Context(), in)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, holdToView(hold))
}

func (h *Handlers) GetHold(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	hold, err := h.holds.GetHold(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holdToView(hold))
}

func (h *Handlers) UpdateHold(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.holds.UpdateHoldExpiry(r.Context(), id, req.ExpiresAt); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ReleaseHold(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		ActorID uuid.UUID `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.holds.Release(r.Context(), id, req.ActorID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) DeleteHold(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.holds.DeleteHold(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AddAllocation(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req allocationPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	alloc, err := h.holds.AddAllocation(r.Context(), id, req.toInput())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, allocationView{
		ID:                alloc.ID,
		TicketTypeID:      alloc.TicketTypeID,
		AllocatedQuantity: alloc.AllocatedQuantity,
		PurchasedQuantity: alloc.PurchasedQuantity,
		Remaining:         alloc.Remaining(),
		PricingMode:       string(alloc.PricingMode),
		CustomPrice:       alloc.CustomPrice,
		DiscountPercent:   alloc.DiscountPercent,
	})
}

func (h *Handlers) UpdateAllocation(w http.ResponseWriter, r *http.Request) {
	holdID, ok := urlUUID(r, "id")
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	allocID, ok := urlUUID(r, "allocationID")
	if !ok {
		http.Error(w, "invalid allocation id", http.StatusBadRequest)
		return
	}
	var req struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.holds.ChangeAllocationQuantity(r.Context(), holdID, allocID, req.Quantity); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetHoldSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	summary, err := h.reads.GetHoldSummary(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hold_id":         summary.HoldID,
		"total_allocated": summary.TotalAllocated,
		"total_purchased": summary.TotalPurchased,
		"total_remaining": summary.TotalRemaining,
	})
}

func (h *Handlers) CreateLink(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HoldID         uuid.UUID  `json:"hold_id"`
		QuantityMode   string     `json:"quantity_mode"`
		QuantityLimit  *int       `json:"quantity_limit"`
		AssignedUserID *uuid.UUID `json:"assigned_user_id"`
		ExpiresAt      *time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	link, err := h.links.Create(r.Context(), app.CreateLinkInput{
		HoldID:         req.HoldID,
		QuantityMode:   domain.QuantityMode(req.QuantityMode),
		QuantityLimit:  req.QuantityLimit,
		AssignedUserID: req.AssignedUserID,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, linkToView(link))
}

func (h *Handlers) UpdateLink(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		QuantityLimit *int       `json:"quantity_limit"`
		ExpiresAt     *time.Time `json:"expires_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.links.Update(r.Context(), id, app.UpdateLinkInput{
		QuantityLimit: req.QuantityLimit,
		ExpiresAt:     req.ExpiresAt,
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) RevokeLink(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		ActorID uuid.UUID `json:"actor_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.links.Revoke(r.Context(), id, req.ActorID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) DeleteLink(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := h.links.DeleteLink(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) GetLinkConversion(w http.ResponseWriter, r *http.Request) {
	id, ok := urlUUID(r, "id")
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	conv, err := h.reads.GetLinkConversion(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"link_id":   conv.LinkID,
		"visits":    conv.Visits,
		"purchases": conv.Purchases,
	})
}

// userIDParam pulls the optional acting-user identity from the query string.
// The storefront forwards it for links bound to a specific user.
func userIDParam(r *http.Request) (*uuid.UUID, error) {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// VisitLink validates the code for the visiting user and records the access.
// The returned access id is echoed back so a later purchase can flag the
// visit as converted.
func (h *Handlers) VisitLink(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	userID, err := userIDParam(r)
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}

	accessInput := app.RecordAccessInput{
		LinkCode:  code,
		UserID:    userID,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
		SessionID: r.Header.Get("X-Session-ID"),
	}

	validation, err := h.links.ValidateForUser(r.Context(), code, userID)
	if err != nil {
		// Failed visits still count toward conversion stats.
		if _, recordErr := h.links.RecordAccess(r.Context(), accessInput); recordErr != nil {
			requestLogger(r.Context()).WithError(recordErr).Warn("failed to record link access")
		}
		writeDomainError(w, err)
		return
	}

	access, err := h.links.RecordAccess(r.Context(), accessInput)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_id": access.ID,
		"link":      linkToView(validation.Link),
		"hold":      holdToView(validation.Hold),
	})
}

type purchaseItemPayload struct {
	AllocationID uuid.UUID `json:"allocation_id"`
	Quantity     int       `json:"quantity"`
}

func toPurchaseItems(payload []purchaseItemPayload) []app.PurchaseItem {
	items := make([]app.PurchaseItem, 0, len(payload))
	for _, p := range payload {
		items = append(items, app.PurchaseItem{AllocationID: p.AllocationID, Quantity: p.Quantity})
	}
	return items
}

func (h *Handlers) QuoteLink(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req struct {
		UserID *uuid.UUID            `json:"user_id"`
		Items  []purchaseItemPayload `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	total, err := h.purchases.CalculateOrderTotal(r.Context(), code, req.UserID, toPurchaseItems(req.Items))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	lines := make([]map[string]interface{}, 0, len(total.Lines))
	for _, line := range total.Lines {
		lines = append(lines, map[string]interface{}{
			"allocation_id":  line.AllocationID,
			"ticket_type_id": line.TicketTypeID,
			"quantity":       line.Quantity,
			"unit_price":     line.UnitPrice,
			"original_price": line.OriginalPrice,
			"line_total":     line.LineTotal,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lines":    lines,
		"total":    total.Total,
		"currency": total.Currency,
	})
}

func (h *Handlers) PurchaseLink(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	code := chi.URLParam(r, "code")
	var req struct {
		UserID   *uuid.UUID            `json:"user_id"`
		AccessID *uuid.UUID            `json:"access_id"`
		Items    []purchaseItemPayload `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.purchases.ProcessPurchase(r.Context(), app.ProcessPurchaseInput{
		LinkCode: code,
		UserID:   req.UserID,
		AccessID: req.AccessID,
		Items:    toPurchaseItems(req.Items),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	data := writeJSON(w, http.StatusCreated, map[string]interface{}{
		"booking_id":     result.BookingID,
		"transaction_id": result.TransactionID,
		"total":          result.Total,
		"currency":       result.Currency,
	})
	if err := h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data}); err != nil {
		requestLogger(r.Context()).WithError(err).Warn("failed to store idempotent response")
	}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
