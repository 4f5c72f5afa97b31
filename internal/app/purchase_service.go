package app

import (
	"bytes"
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketvault/hold-purchase-links/internal/adapters/crdb"
	"github.com/ticketvault/hold-purchase-links/internal/booking"
	"github.com/ticketvault/hold-purchase-links/internal/clock"
	"github.com/ticketvault/hold-purchase-links/internal/domain"
	"github.com/ticketvault/hold-purchase-links/internal/observability"
)

type PurchaseRepository interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	GetLinkByCode(ctx context.Context, code string) (domain.PurchaseLink, error)
	GetHold(ctx context.Context, holdID uuid.UUID) (domain.Hold, error)
	RecordAllocationPurchase(ctx context.Context, tx pgx.Tx, allocationID uuid.UUID, quantity int) error
	RecordLinkPurchase(ctx context.Context, tx pgx.Tx, linkID uuid.UUID, quantity int) error
	InsertPurchase(ctx context.Context, tx pgx.Tx, p domain.Purchase) error
	MarkAccessResultedInPurchase(ctx context.Context, tx pgx.Tx, accessID uuid.UUID) error
	InsertOutbox(ctx context.Context, tx pgx.Tx, record crdb.OutboxRecord) error
}

// PurchaseService orchestrates the purchase transaction: validate, price,
// create the external booking, and commit both counters, the purchase record,
// and the conversion flag in a single database transaction. No observable
// state change without a fully committed booking.
type PurchaseService struct {
	repo     PurchaseRepository
	catalog  InventoryCatalog
	bookings booking.Creator
	audit    AuditTrail
	clock    clock.Clock
	logger   observability.Logger
	currency string
}

func NewPurchaseService(repo PurchaseRepository, catalog InventoryCatalog, bookings booking.Creator, audit AuditTrail, clk clock.Clock, logger observability.Logger, currency string) *PurchaseService {
	return &PurchaseService{
		repo:     repo,
		catalog:  catalog,
		bookings: bookings,
		audit:    audit,
		clock:    clk,
		logger:   logger,
		currency: currency,
	}
}

type PurchaseItem struct {
	AllocationID uuid.UUID
	Quantity     int
}

type ProcessPurchaseInput struct {
	LinkCode string
	UserID   *uuid.UUID
	AccessID *uuid.UUID
	Items    []PurchaseItem
}

type OrderLine struct {
	AllocationID  uuid.UUID
	TicketTypeID  uuid.UUID
	Quantity      int
	UnitPrice     int64
	OriginalPrice int64
	LineTotal     int64
}

type OrderTotal struct {
	Lines    []OrderLine
	Total    int64
	Currency string
}

type PurchaseResult struct {
	BookingID     uuid.UUID
	TransactionID uuid.UUID
	Purchases     []domain.Purchase
	Total         int64
	Currency      string
}

func (s *PurchaseService) resolveUsableLink(ctx context.Context, code string, userID *uuid.UUID) (domain.PurchaseLink, domain.Hold, error) {
	now := s.clock.Now()

	link, err := s.repo.GetLinkByCode(ctx, code)
	if err == domain.ErrNotFound {
		return domain.PurchaseLink{}, domain.Hold{}, domain.ErrLinkNotUsable
	}
	if err != nil {
		return domain.PurchaseLink{}, domain.Hold{}, err
	}
	hold, err := s.repo.GetHold(ctx, link.HoldID)
	if err == domain.ErrNotFound {
		return domain.PurchaseLink{}, domain.Hold{}, domain.ErrLinkNotUsable
	}
	if err != nil {
		return domain.PurchaseLink{}, domain.Hold{}, err
	}
	if !link.IsUsable(now, hold) {
		return domain.PurchaseLink{}, domain.Hold{}, domain.ErrLinkNotUsable
	}
	if !link.CanBeUsedByUser(userID) {
		return domain.PurchaseLink{}, domain.Hold{}, domain.ErrUserNotAuthorizedForLink
	}
	return link, hold, nil
}

func (s *PurchaseService) priceItems(ctx context.Context, hold domain.Hold, items []PurchaseItem) (OrderTotal, error) {
	byID := make(map[uuid.UUID]domain.Allocation, len(hold.Allocations))
	for _, a := range hold.Allocations {
		byID[a.ID] = a
	}

	total := OrderTotal{Currency: s.currency}
	for _, item := range items {
		alloc, ok := byID[item.AllocationID]
		if !ok {
			return OrderTotal{}, domain.ErrNotFound
		}
		tt, err := s.catalog.GetTicketType(ctx, alloc.TicketTypeID)
		if err != nil {
			return OrderTotal{}, errors.Wrap(err, "lookup ticket type")
		}
		if tt.Currency != "" {
			total.Currency = tt.Currency
		}
		unit := alloc.EffectivePrice(tt.BasePrice)
		line := OrderLine{
			AllocationID:  alloc.ID,
			TicketTypeID:  alloc.TicketTypeID,
			Quantity:      item.Quantity,
			UnitPrice:     unit,
			OriginalPrice: tt.BasePrice,
			LineTotal:     unit * int64(item.Quantity),
		}
		total.Lines = append(total.Lines, line)
		total.Total += line.LineTotal
	}
	return total, nil
}

// CalculateOrderTotal prices the requested items through each allocation's
// pricing mode without committing anything.
func (s *PurchaseService) CalculateOrderTotal(ctx context.Context, code string, userID *uuid.UUID, items []PurchaseItem) (OrderTotal, error) {
	if err := validateItems(items); err != nil {
		return OrderTotal{}, err
	}
	_, hold, err := s.resolveUsableLink(ctx, code, userID)
	if err != nil {
		return OrderTotal{}, err
	}
	return s.priceItems(ctx, hold, items)
}

func validateItems(items []PurchaseItem) error {
	if len(items) == 0 {
		return domain.ErrInvalidQuantity
	}
	for _, item := range items {
		if item.Quantity <= 0 {
			return domain.ErrInvalidQuantity
		}
	}
	return nil
}

// ProcessPurchase runs the full purchase transaction. Pre-checks outside the
// transaction give fast user-facing rejections; the authoritative capacity
// checks repeat inside RecordAllocationPurchase and RecordLinkPurchase under
// row locks. Allocation locks are taken in ascending-ID order so concurrent
// multi-item purchases cannot deadlock each other.
func (s *PurchaseService) ProcessPurchase(ctx context.Context, in ProcessPurchaseInput) (PurchaseResult, error) {
	result, err := s.processPurchase(ctx, in)
	if err != nil {
		if err == domain.ErrInsufficientHoldInventory {
			observability.OversellRejections.Inc()
		}
		observability.PurchasesTotal.WithLabelValues("rejected").Inc()
		return PurchaseResult{}, err
	}
	observability.PurchasesTotal.WithLabelValues("completed").Inc()
	return result, nil
}

func (s *PurchaseService) processPurchase(ctx context.Context, in ProcessPurchaseInput) (PurchaseResult, error) {
	if err := validateItems(in.Items); err != nil {
		return PurchaseResult{}, err
	}
	totalQuantity := 0
	for _, item := range in.Items {
		totalQuantity += item.Quantity
	}

	link, hold, err := s.resolveUsableLink(ctx, in.LinkCode, in.UserID)
	if err != nil {
		return PurchaseResult{}, err
	}
	if !link.CanPurchaseQuantity(totalQuantity) {
		return PurchaseResult{}, domain.ErrLinkNotUsable
	}

	byID := make(map[uuid.UUID]domain.Allocation, len(hold.Allocations))
	for _, a := range hold.Allocations {
		byID[a.ID] = a
	}
	for _, item := range in.Items {
		alloc, ok := byID[item.AllocationID]
		if !ok {
			return PurchaseResult{}, domain.ErrNotFound
		}
		if alloc.Remaining() < item.Quantity {
			return PurchaseResult{}, domain.ErrInsufficientHoldInventory
		}
	}

	total, err := s.priceItems(ctx, hold, in.Items)
	if err != nil {
		return PurchaseResult{}, err
	}

	items := make([]PurchaseItem, len(in.Items))
	copy(items, in.Items)
	sort.Slice(items, func(i, j int) bool {
		return bytes.Compare(items[i].AllocationID[:], items[j].AllocationID[:]) < 0
	})

	lineByAllocation := make(map[uuid.UUID]OrderLine, len(total.Lines))
	for _, line := range total.Lines {
		lineByAllocation[line.AllocationID] = line
	}

	var result PurchaseResult
	err = s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		bookingLines := make([]booking.Line, 0, len(items))
		for _, item := range items {
			line := lineByAllocation[item.AllocationID]
			bookingLines = append(bookingLines, booking.Line{
				TicketTypeID: line.TicketTypeID,
				Quantity:     item.Quantity,
				UnitPrice:    line.UnitPrice,
			})
		}
		booked, err := s.bookings.CreateBooking(ctx, booking.Request{
			LinkID:   link.ID,
			UserID:   in.UserID,
			Items:    bookingLines,
			Total:    total.Total,
			Currency: total.Currency,
		})
		if err != nil {
			return errors.Wrap(err, "create booking")
		}

		for _, item := range items {
			if err := s.repo.RecordAllocationPurchase(ctx, tx, item.AllocationID, item.Quantity); err != nil {
				return err
			}
		}
		if err := s.repo.RecordLinkPurchase(ctx, tx, link.ID, totalQuantity); err != nil {
			return err
		}

		now := s.clock.Now()
		purchases := make([]domain.Purchase, 0, len(items))
		for _, item := range items {
			line := lineByAllocation[item.AllocationID]
			p := domain.Purchase{
				ID:            uuid.New(),
				LinkID:        link.ID,
				AllocationID:  item.AllocationID,
				TicketTypeID:  line.TicketTypeID,
				BookingID:     booked.BookingID,
				TransactionID: booked.TransactionID,
				UserID:        in.UserID,
				AccessID:      in.AccessID,
				Quantity:      item.Quantity,
				UnitPrice:     line.UnitPrice,
				OriginalPrice: line.OriginalPrice,
				Currency:      total.Currency,
				CreatedAt:     now,
			}
			if err := s.repo.InsertPurchase(ctx, tx, p); err != nil {
				return err
			}
			purchases = append(purchases, p)
		}

		if in.AccessID != nil {
			if err := s.repo.MarkAccessResultedInPurchase(ctx, tx, *in.AccessID); err != nil {
				return err
			}
		}

		if err := s.repo.InsertOutbox(ctx, tx, crdb.NewOutboxRecord("purchase", booked.BookingID, "purchase.completed", map[string]interface{}{
			"link_id":    link.ID,
			"booking_id": booked.BookingID,
			"quantity":   totalQuantity,
			"total":      total.Total,
		})); err != nil {
			return err
		}

		result = PurchaseResult{
			BookingID:     booked.BookingID,
			TransactionID: booked.TransactionID,
			Purchases:     purchases,
			Total:         total.Total,
			Currency:      total.Currency,
		}
		return nil
	})
	if err != nil {
		return PurchaseResult{}, err
	}

	s.audit.LogPurchase(ctx, link.ID, in.UserID, totalQuantity, total.Total)
	return result, nil
}
