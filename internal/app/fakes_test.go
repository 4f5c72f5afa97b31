package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/ticketvault/hold-purchase-links/internal/adapters/crdb"
	"github.com/ticketvault/hold-purchase-links/internal/booking"
	"github.com/ticketvault/hold-purchase-links/internal/domain"
)

// fakeStore is an in-memory stand-in for the postgres repository. WithTx
// holds the store mutex for the whole callback, which gives the same
// serialization the row locks provide, and restores a snapshot when the
// callback fails so partial writes roll back.
type fakeStore struct {
	mu          sync.Mutex
	holds       map[uuid.UUID]domain.Hold
	links       map[uuid.UUID]domain.PurchaseLink
	linksByCode map[string]uuid.UUID
	accesses    map[uuid.UUID]domain.LinkAccess
	purchases   []domain.Purchase
	outbox      []crdb.OutboxRecord

	conflictsLeft int // CreateLink returns ErrConflict this many times
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		holds:       make(map[uuid.UUID]domain.Hold),
		links:       make(map[uuid.UUID]domain.PurchaseLink),
		linksByCode: make(map[string]uuid.UUID),
		accesses:    make(map[uuid.UUID]domain.LinkAccess),
	}
}

func cloneHold(h domain.Hold) domain.Hold {
	out := h
	out.Allocations = make([]domain.Allocation, len(h.Allocations))
	copy(out.Allocations, h.Allocations)
	return out
}

func (s *fakeStore) snapshot() *fakeStore {
	snap := newFakeStore()
	for id, h := range s.holds {
		snap.holds[id] = cloneHold(h)
	}
	for id, l := range s.links {
		snap.links[id] = l
	}
	for code, id := range s.linksByCode {
		snap.linksByCode[code] = id
	}
	for id, a := range s.accesses {
		snap.accesses[id] = a
	}
	snap.purchases = append([]domain.Purchase(nil), s.purchases...)
	snap.outbox = append([]crdb.OutboxRecord(nil), s.outbox...)
	return snap
}

func (s *fakeStore) restore(snap *fakeStore) {
	s.holds = snap.holds
	s.links = snap.links
	s.linksByCode = snap.linksByCode
	s.accesses = snap.accesses
	s.purchases = snap.purchases
	s.outbox = snap.outbox
}

func (s *fakeStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if err := fn(nil); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *fakeStore) CreateHold(ctx context.Context, tx pgx.Tx, hold domain.Hold) error {
	s.holds[hold.ID] = cloneHold(hold)
	return nil
}

func (s *fakeStore) getHoldLocked(holdID uuid.UUID) (domain.Hold, error) {
	h, ok := s.holds[holdID]
	if !ok || h.DeletedAt != nil {
		return domain.Hold{}, domain.ErrNotFound
	}
	return cloneHold(h), nil
}

func (s *fakeStore) GetHold(ctx context.Context, holdID uuid.UUID) (domain.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getHoldLocked(holdID)
}

func (s *fakeStore) GetHoldForUpdate(ctx context.Context, tx pgx.Tx, holdID uuid.UUID) (domain.Hold, error) {
	return s.getHoldLocked(holdID)
}

func (s *fakeStore) InsertAllocation(ctx context.Context, tx pgx.Tx, a domain.Allocation) error {
	h, ok := s.holds[a.HoldID]
	if !ok {
		return domain.ErrNotFound
	}
	h.Allocations = append(h.Allocations, a)
	s.holds[a.HoldID] = h
	return nil
}

func (s *fakeStore) UpdateAllocationQuantity(ctx context.Context, tx pgx.Tx, allocationID uuid.UUID, quantity int) error {
	for holdID, h := range s.holds {
		for i, a := range h.Allocations {
			if a.ID != allocationID {
				continue
			}
			if quantity < a.PurchasedQuantity {
				return domain.ErrInvalidQuantity
			}
			h.Allocations[i].AllocatedQuantity = quantity
			s.holds[holdID] = h
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *fakeStore) UpdateHoldExpiresAt(ctx context.Context, tx pgx.Tx, holdID uuid.UUID, expiresAt *time.Time) error {
	h, ok := s.holds[holdID]
	if !ok {
		return domain.ErrNotFound
	}
	h.ExpiresAt = expiresAt
	s.holds[holdID] = h
	return nil
}

func (s *fakeStore) ReleaseHold(ctx context.Context, tx pgx.Tx, holdID, releasedBy uuid.UUID, now time.Time) error {
	h, ok := s.holds[holdID]
	if !ok || h.DeletedAt != nil {
		return domain.ErrNotFound
	}
	switch h.Status {
	case domain.HoldStatusActive:
		h.Status = domain.HoldStatusReleased
		h.ReleasedAt = &now
		h.ReleasedBy = &releasedBy
		s.holds[holdID] = h
		return nil
	case domain.HoldStatusReleased:
		return nil
	default:
		return domain.ErrHoldNotActive
	}
}

func (s *fakeStore) RevokeActiveLinksForHold(ctx context.Context, tx pgx.Tx, holdID, revokedBy uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	var revoked []uuid.UUID
	for id, l := range s.links {
		if l.HoldID == holdID && l.Status == domain.LinkStatusActive {
			l.Status = domain.LinkStatusRevoked
			l.RevokedAt = &now
			l.RevokedBy = &revokedBy
			s.links[id] = l
			revoked = append(revoked, id)
		}
	}
	return revoked, nil
}

func (s *fakeStore) MarkHoldExpired(ctx context.Context, holdID uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if h.Status == domain.HoldStatusActive && h.Expired(now) {
		h.Status = domain.HoldStatusExpired
		s.holds[holdID] = h
		return true, nil
	}
	return false, nil
}

func (s *fakeStore) MarkHoldsExpired(ctx context.Context, tx pgx.Tx, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, h := range s.holds {
		if h.Status == domain.HoldStatusActive && h.Expired(now) {
			h.Status = domain.HoldStatusExpired
			s.holds[id] = h
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeStore) SoftDeleteHold(ctx context.Context, holdID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return domain.ErrNotFound
	}
	h.DeletedAt = &now
	s.holds[holdID] = h
	return nil
}

func (s *fakeStore) InsertOutbox(ctx context.Context, tx pgx.Tx, record crdb.OutboxRecord) error {
	s.outbox = append(s.outbox, record)
	return nil
}

func (s *fakeStore) CreateLink(ctx context.Context, tx pgx.Tx, link domain.PurchaseLink) error {
	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		return domain.ErrConflict
	}
	if _, exists := s.linksByCode[link.Code]; exists {
		return domain.ErrConflict
	}
	s.links[link.ID] = link
	s.linksByCode[link.Code] = link.ID
	return nil
}

func (s *fakeStore) getLinkLocked(linkID uuid.UUID) (domain.PurchaseLink, error) {
	l, ok := s.links[linkID]
	if !ok || l.DeletedAt != nil {
		return domain.PurchaseLink{}, domain.ErrNotFound
	}
	return l, nil
}

func (s *fakeStore) GetLink(ctx context.Context, linkID uuid.UUID) (domain.PurchaseLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLinkLocked(linkID)
}

func (s *fakeStore) GetLinkForUpdate(ctx context.Context, tx pgx.Tx, linkID uuid.UUID) (domain.PurchaseLink, error) {
	return s.getLinkLocked(linkID)
}

func (s *fakeStore) GetLinkByCode(ctx context.Context, code string) (domain.PurchaseLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.linksByCode[code]
	if !ok {
		return domain.PurchaseLink{}, domain.ErrNotFound
	}
	return s.getLinkLocked(id)
}

func (s *fakeStore) RevokeLink(ctx context.Context, tx pgx.Tx, linkID, revokedBy uuid.UUID, now time.Time) error {
	l, ok := s.links[linkID]
	if !ok || l.DeletedAt != nil {
		return domain.ErrNotFound
	}
	switch l.Status {
	case domain.LinkStatusActive:
		l.Status = domain.LinkStatusRevoked
		l.RevokedAt = &now
		l.RevokedBy = &revokedBy
		s.links[linkID] = l
		return nil
	case domain.LinkStatusRevoked:
		return nil
	default:
		return domain.ErrLinkNotUsable
	}
}

func (s *fakeStore) UpdateLink(ctx context.Context, tx pgx.Tx, linkID uuid.UUID, quantityLimit *int, expiresAt *time.Time) error {
	l, ok := s.links[linkID]
	if !ok || l.DeletedAt != nil {
		return domain.ErrNotFound
	}
	l.QuantityLimit = quantityLimit
	l.ExpiresAt = expiresAt
	s.links[linkID] = l
	return nil
}

func (s *fakeStore) MarkLinkExpired(ctx context.Context, linkID uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[linkID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if l.Status == domain.LinkStatusActive && l.Expired(now) {
		l.Status = domain.LinkStatusExpired
		s.links[linkID] = l
		return true, nil
	}
	return false, nil
}

func (s *fakeStore) MarkLinksExpired(ctx context.Context, tx pgx.Tx, now time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, l := range s.links {
		if l.Status == domain.LinkStatusActive && l.Expired(now) {
			l.Status = domain.LinkStatusExpired
			s.links[id] = l
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *fakeStore) SoftDeleteLink(ctx context.Context, linkID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[linkID]
	if !ok {
		return domain.ErrNotFound
	}
	l.DeletedAt = &now
	s.links[linkID] = l
	return nil
}

func (s *fakeStore) InsertLinkAccess(ctx context.Context, access domain.LinkAccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accesses[access.ID] = access
	return nil
}

func (s *fakeStore) RecordAllocationPurchase(ctx context.Context, tx pgx.Tx, allocationID uuid.UUID, quantity int) error {
	for holdID, h := range s.holds {
		for i, a := range h.Allocations {
			if a.ID != allocationID {
				continue
			}
			if a.PurchasedQuantity+quantity > a.AllocatedQuantity {
				return domain.ErrInsufficientHoldInventory
			}
			h.Allocations[i].PurchasedQuantity += quantity
			remaining := 0
			for _, alloc := range h.Allocations {
				remaining += alloc.AllocatedQuantity - alloc.PurchasedQuantity
			}
			if remaining == 0 && h.Status == domain.HoldStatusActive {
				h.Status = domain.HoldStatusExhausted
			}
			s.holds[holdID] = h
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *fakeStore) RecordLinkPurchase(ctx context.Context, tx pgx.Tx, linkID uuid.UUID, quantity int) error {
	l, ok := s.links[linkID]
	if !ok || l.DeletedAt != nil {
		return domain.ErrNotFound
	}
	if l.Status != domain.LinkStatusActive || !l.CanPurchaseQuantity(quantity) {
		return domain.ErrLinkNotUsable
	}
	l.QuantityPurchased += quantity
	if l.QuantityMode != domain.QuantityUnlimited && l.QuantityLimit != nil &&
		*l.QuantityLimit-l.QuantityPurchased <= 0 {
		l.Status = domain.LinkStatusExhausted
	}
	s.links[linkID] = l
	return nil
}

func (s *fakeStore) InsertPurchase(ctx context.Context, tx pgx.Tx, p domain.Purchase) error {
	s.purchases = append(s.purchases, p)
	return nil
}

func (s *fakeStore) MarkAccessResultedInPurchase(ctx context.Context, tx pgx.Tx, accessID uuid.UUID) error {
	a, ok := s.accesses[accessID]
	if !ok {
		return nil
	}
	a.ResultedInPurchase = true
	s.accesses[accessID] = a
	return nil
}

func (s *fakeStore) outboxEventTypes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.outbox))
	for _, rec := range s.outbox {
		types = append(types, rec.EventType)
	}
	return types
}

// fakeCatalog holds ticket definitions and a sellable counter per type.
type fakeCatalog struct {
	mu          sync.Mutex
	ticketTypes map[uuid.UUID]domain.TicketType
	reserveErr  error
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{ticketTypes: make(map[uuid.UUID]domain.TicketType)}
}

func (c *fakeCatalog) add(tt domain.TicketType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticketTypes[tt.ID] = tt
}

func (c *fakeCatalog) GetTicketType(ctx context.Context, id uuid.UUID) (domain.TicketType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tt, ok := c.ticketTypes[id]
	if !ok {
		return domain.TicketType{}, domain.ErrNotFound
	}
	return tt, nil
}

func (c *fakeCatalog) ReserveSellable(ctx context.Context, id uuid.UUID, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reserveErr != nil {
		return c.reserveErr
	}
	tt, ok := c.ticketTypes[id]
	if !ok {
		return domain.ErrNotFound
	}
	if tt.Available < qty {
		return domain.ErrInsufficientInventory
	}
	tt.Available -= qty
	c.ticketTypes[id] = tt
	return nil
}

func (c *fakeCatalog) ReleaseSellable(ctx context.Context, id uuid.UUID, qty int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	tt, ok := c.ticketTypes[id]
	if !ok {
		return domain.ErrNotFound
	}
	tt.Available += qty
	c.ticketTypes[id] = tt
	return nil
}

func (c *fakeCatalog) available(id uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticketTypes[id].Available
}

type fakeAudit struct{}

func (fakeAudit) LogHoldCreated(ctx context.Context, hold domain.Hold)                         {}
func (fakeAudit) LogHoldReleased(ctx context.Context, holdID, actorID uuid.UUID, revoked int)  {}
func (fakeAudit) LogLinkCreated(ctx context.Context, link domain.PurchaseLink)                 {}
func (fakeAudit) LogLinkRevoked(ctx context.Context, linkID, actorID uuid.UUID)                {}
func (fakeAudit) LogPurchase(ctx context.Context, linkID uuid.UUID, u *uuid.UUID, q int, t int64) {
}

// fakeBookings hands out fresh booking ids, or fails every call when err is
// set.
type fakeBookings struct {
	mu       sync.Mutex
	err      error
	requests []booking.Request
}

func (b *fakeBookings) CreateBooking(ctx context.Context, req booking.Request) (booking.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return booking.Result{}, b.err
	}
	b.requests = append(b.requests, req)
	return booking.Result{BookingID: uuid.New(), TransactionID: uuid.New()}, nil
}
