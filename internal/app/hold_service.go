package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketvault/hold-purchase-links/internal/adapters/crdb"
	"github.com/ticketvault/hold-purchase-links/internal/clock"
	"github.com/ticketvault/hold-purchase-links/internal/domain"
	"github.com/ticketvault/hold-purchase-links/internal/observability"
)

// InventoryCatalog is the external ticket-definition collaborator: base
// prices and sellable inventory live there, not in this core.
type InventoryCatalog interface {
	GetTicketType(ctx context.Context, id uuid.UUID) (domain.TicketType, error)
	ReserveSellable(ctx context.Context, id uuid.UUID, qty int) error
	ReleaseSellable(ctx context.Context, id uuid.UUID, qty int) error
}

// AuditTrail records admin-facing actions. Best effort, never a source of
// truth.
type AuditTrail interface {
	LogHoldCreated(ctx context.Context, hold domain.Hold)
	LogHoldReleased(ctx context.Context, holdID, actorID uuid.UUID, revokedLinks int)
	LogLinkCreated(ctx context.Context, link domain.PurchaseLink)
	LogLinkRevoked(ctx context.Context, linkID, actorID uuid.UUID)
	LogPurchase(ctx context.Context, linkID uuid.UUID, userID *uuid.UUID, quantity int, total int64)
}

type HoldRepository interface {
	WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error
	CreateHold(ctx context.Context, tx pgx.Tx, hold domain.Hold) error
	GetHold(ctx context.Context, holdID uuid.UUID) (domain.Hold, error)
	GetHoldForUpdate(ctx context.Context, tx pgx.Tx, holdID uuid.UUID) (domain.Hold, error)
	InsertAllocation(ctx context.Context, tx pgx.Tx, a domain.Allocation) error
	UpdateAllocationQuantity(ctx context.Context, tx pgx.Tx, allocationID uuid.UUID, quantity int) error
	UpdateHoldExpiresAt(ctx context.Context, tx pgx.Tx, holdID uuid.UUID, expiresAt *time.Time) error
	ReleaseHold(ctx context.Context, tx pgx.Tx, holdID, releasedBy uuid.UUID, now time.Time) error
	RevokeActiveLinksForHold(ctx context.Context, tx pgx.Tx, holdID, revokedBy uuid.UUID, now time.Time) ([]uuid.UUID, error)
	MarkHoldExpired(ctx context.Context, holdID uuid.UUID, now time.Time) (bool, error)
	MarkHoldsExpired(ctx context.Context, tx pgx.Tx, now time.Time) ([]uuid.UUID, error)
	SoftDeleteHold(ctx context.Context, holdID uuid.UUID, now time.Time) error
	InsertOutbox(ctx context.Context, tx pgx.Tx, record crdb.OutboxRecord) error
}

type HoldService struct {
	repo    HoldRepository
	catalog InventoryCatalog
	audit   AuditTrail
	clock   clock.Clock
	logger  observability.Logger
}

func NewHoldService(repo HoldRepository, catalog InventoryCatalog, audit AuditTrail, clk clock.Clock, logger observability.Logger) *HoldService {
	return &HoldService{repo: repo, catalog: catalog, audit: audit, clock: clk, logger: logger}
}

type AllocationInput struct {
	TicketTypeID    uuid.UUID
	Quantity        int
	PricingMode     domain.PricingMode
	CustomPrice     *int64
	DiscountPercent *float64
}

type CreateHoldInput struct {
	OccurrenceID uuid.UUID
	OrganizerID  uuid.UUID
	ExpiresAt    *time.Time
	Allocations  []AllocationInput
}

// CreateHold reserves sellable inventory for every allocation and persists
// the hold. Inventory is reserved at the catalog first; if persisting fails,
// the reservations are handed back.
func (s *HoldService) CreateHold(ctx context.Context, in CreateHoldInput) (domain.Hold, error) {
	if len(in.Allocations) == 0 {
		return domain.Hold{}, domain.ErrInvalidQuantity
	}

	now := s.clock.Now()
	hold := domain.NewHold(in.OccurrenceID, in.OrganizerID, in.ExpiresAt, now)

	for _, a := range in.Allocations {
		alloc, err := domain.NewAllocation(hold.ID, a.TicketTypeID, a.Quantity, a.PricingMode, a.CustomPrice, a.DiscountPercent, now)
		if err != nil {
			return domain.Hold{}, err
		}
		hold.Allocations = append(hold.Allocations, alloc)
	}

	reserved := make([]domain.Allocation, 0, len(hold.Allocations))
	for _, alloc := range hold.Allocations {
		if err := s.catalog.ReserveSellable(ctx, alloc.TicketTypeID, alloc.AllocatedQuantity); err != nil {
			s.releaseReserved(ctx, reserved)
			return domain.Hold{}, err
		}
		reserved = append(reserved, alloc)
	}

	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		if err := s.repo.CreateHold(ctx, tx, hold); err != nil {
			return err
		}
		return s.repo.InsertOutbox(ctx, tx, crdb.NewOutboxRecord("hold", hold.ID, "hold.created", map[string]interface{}{
			"hold_id":       hold.ID,
			"occurrence_id": hold.OccurrenceID,
		}))
	})
	if err != nil {
		s.releaseReserved(ctx, reserved)
		return domain.Hold{}, err
	}

	s.audit.LogHoldCreated(ctx, hold)
	return hold, nil
}

func (s *HoldService) releaseReserved(ctx context.Context, allocations []domain.Allocation) {
	for _, alloc := range allocations {
		if err := s.catalog.ReleaseSellable(ctx, alloc.TicketTypeID, alloc.AllocatedQuantity); err != nil {
			s.logger.WithError(err).WithField("ticket_type_id", alloc.TicketTypeID).
				Error("failed to return reserved inventory")
		}
	}
}

func (s *HoldService) GetHold(ctx context.Context, holdID uuid.UUID) (domain.Hold, error) {
	return s.repo.GetHold(ctx, holdID)
}

// UpdateHoldExpiry changes the hold's deadline. Only usable holds can be
// updated.
func (s *HoldService) UpdateHoldExpiry(ctx context.Context, holdID uuid.UUID, expiresAt *time.Time) error {
	now := s.clock.Now()
	return s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		hold, err := s.repo.GetHoldForUpdate(ctx, tx, holdID)
		if err != nil {
			return err
		}
		if !hold.IsUsable(now) {
			return domain.ErrHoldNotActive
		}
		return s.repo.UpdateHoldExpiresAt(ctx, tx, holdID, expiresAt)
	})
}

// AddAllocation reserves additional inventory for a new ticket-type line item
// on an existing hold.
func (s *HoldService) AddAllocation(ctx context.Context, holdID uuid.UUID, in AllocationInput) (domain.Allocation, error) {
	now := s.clock.Now()
	alloc, err := domain.NewAllocation(holdID, in.TicketTypeID, in.Quantity, in.PricingMode, in.CustomPrice, in.DiscountPercent, now)
	if err != nil {
		return domain.Allocation{}, err
	}

	if err := s.catalog.ReserveSellable(ctx, in.TicketTypeID, in.Quantity); err != nil {
		return domain.Allocation{}, err
	}

	err = s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		hold, err := s.repo.GetHoldForUpdate(ctx, tx, holdID)
		if err != nil {
			return err
		}
		if !hold.IsUsable(now) {
			return domain.ErrHoldNotActive
		}
		return s.repo.InsertAllocation(ctx, tx, alloc)
	})
	if err != nil {
		s.releaseReserved(ctx, []domain.Allocation{alloc})
		return domain.Allocation{}, err
	}
	return alloc, nil
}

// ChangeAllocationQuantity grows or shrinks an allocation, moving the
// difference through the catalog's sellable inventory. Shrinking below what
// has already been purchased fails.
func (s *HoldService) ChangeAllocationQuantity(ctx context.Context, holdID, allocationID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return domain.ErrInvalidQuantity
	}
	now := s.clock.Now()

	hold, err := s.repo.GetHold(ctx, holdID)
	if err != nil {
		return err
	}
	var current *domain.Allocation
	for i := range hold.Allocations {
		if hold.Allocations[i].ID == allocationID {
			current = &hold.Allocations[i]
			break
		}
	}
	if current == nil {
		return domain.ErrNotFound
	}

	delta := quantity - current.AllocatedQuantity
	if delta > 0 {
		if err := s.catalog.ReserveSellable(ctx, current.TicketTypeID, delta); err != nil {
			return err
		}
	}

	err = s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		h, err := s.repo.GetHoldForUpdate(ctx, tx, holdID)
		if err != nil {
			return err
		}
		if !h.IsUsable(now) {
			return domain.ErrHoldNotActive
		}
		return s.repo.UpdateAllocationQuantity(ctx, tx, allocationID, quantity)
	})
	if err != nil {
		if delta > 0 {
			s.releaseReserved(ctx, []domain.Allocation{{TicketTypeID: current.TicketTypeID, AllocatedQuantity: delta}})
		}
		return err
	}
	if delta < 0 {
		if err := s.catalog.ReleaseSellable(ctx, current.TicketTypeID, -delta); err != nil {
			s.logger.WithError(err).Warn("failed to return shrunk allocation inventory")
		}
	}
	return nil
}

// Release transitions a hold to RELEASED and force-revokes every ACTIVE link
// in the same transaction. Already-released holds are a successful no-op.
// Unsold inventory goes back to the catalog after commit.
func (s *HoldService) Release(ctx context.Context, holdID, actor uuid.UUID) error {
	now := s.clock.Now()

	var hold domain.Hold
	var revoked []uuid.UUID
	alreadyReleased := false

	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		hold, err = s.repo.GetHoldForUpdate(ctx, tx, holdID)
		if err != nil {
			return err
		}
		if hold.Status == domain.HoldStatusReleased {
			alreadyReleased = true
			return nil
		}
		if hold.Status != domain.HoldStatusActive {
			return domain.ErrHoldNotActive
		}
		if err := s.repo.ReleaseHold(ctx, tx, holdID, actor, now); err != nil {
			return err
		}
		revoked, err = s.repo.RevokeActiveLinksForHold(ctx, tx, holdID, actor, now)
		if err != nil {
			return err
		}
		// Re-read the allocations now that no link can admit another
		// purchase; a purchase that serialized ahead of the revocation has
		// already bumped the counters the inventory return depends on.
		hold, err = s.repo.GetHoldForUpdate(ctx, tx, holdID)
		if err != nil {
			return err
		}
		if err := s.repo.InsertOutbox(ctx, tx, crdb.NewOutboxRecord("hold", holdID, "hold.released", map[string]interface{}{
			"hold_id":       holdID,
			"revoked_links": len(revoked),
		})); err != nil {
			return err
		}
		for _, linkID := range revoked {
			if err := s.repo.InsertOutbox(ctx, tx, crdb.NewOutboxRecord("link", linkID, "link.revoked", map[string]interface{}{
				"link_id": linkID,
				"hold_id": holdID,
			})); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || alreadyReleased {
		return err
	}

	for _, alloc := range hold.Allocations {
		if remaining := alloc.Remaining(); remaining > 0 {
			if err := s.catalog.ReleaseSellable(ctx, alloc.TicketTypeID, remaining); err != nil {
				s.logger.WithError(err).WithField("hold_id", holdID).Warn("failed to return released inventory")
			}
		}
	}
	s.audit.LogHoldReleased(ctx, holdID, actor, len(revoked))
	return nil
}

// CheckAndUpdateExpiration persists the lazy ACTIVE -> EXPIRED transition for
// one hold. IsUsable does not depend on this having run.
func (s *HoldService) CheckAndUpdateExpiration(ctx context.Context, holdID uuid.UUID) (bool, error) {
	return s.repo.MarkHoldExpired(ctx, holdID, s.clock.Now())
}

// UpdateExpiredHolds is the bulk sweep the external scheduler invokes.
func (s *HoldService) UpdateExpiredHolds(ctx context.Context) (int, error) {
	now := s.clock.Now()
	var expired []uuid.UUID
	err := s.repo.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		expired, err = s.repo.MarkHoldsExpired(ctx, tx, now)
		if err != nil {
			return err
		}
		for _, id := range expired {
			if err := s.repo.InsertOutbox(ctx, tx, crdb.NewOutboxRecord("hold", id, "hold.expired", map[string]interface{}{
				"hold_id": id,
			})); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(expired), nil
}

func (s *HoldService) DeleteHold(ctx context.Context, holdID uuid.UUID) error {
	return s.repo.SoftDeleteHold(ctx, holdID, s.clock.Now())
}
