package domain

import (
	"time"

	"github.com/google/uuid"
)

type HoldStatus string

const (
	HoldStatusActive    HoldStatus = "ACTIVE"
	HoldStatusExpired   HoldStatus = "EXPIRED"
	HoldStatusReleased  HoldStatus = "RELEASED"
	HoldStatusExhausted HoldStatus = "EXHAUSTED"
)

// Hold reserves ticket inventory for an event occurrence so it can be sold
// through purchase links instead of the public storefront.
type Hold struct {
	ID           uuid.UUID
	OccurrenceID uuid.UUID
	OrganizerID  uuid.UUID
	Status       HoldStatus
	ExpiresAt    *time.Time
	ReleasedAt   *time.Time
	ReleasedBy   *uuid.UUID
	Allocations  []Allocation
	CreatedAt    time.Time
	DeletedAt    *time.Time
}

func NewHold(occurrenceID, organizerID uuid.UUID, expiresAt *time.Time, now time.Time) Hold {
	return Hold{
		ID:           uuid.New(),
		OccurrenceID: occurrenceID,
		OrganizerID:  organizerID,
		Status:       HoldStatusActive,
		ExpiresAt:    expiresAt,
		CreatedAt:    now,
	}
}

// Expired reports whether the hold's deadline has passed, regardless of
// whether the lazy ACTIVE->EXPIRED transition has been persisted yet.
func (h Hold) Expired(now time.Time) bool {
	return h.ExpiresAt != nil && !h.ExpiresAt.After(now)
}

// IsUsable is the authoritative real-time check: the persisted status may
// still read ACTIVE after expires_at has passed.
func (h Hold) IsUsable(now time.Time) bool {
	return h.Status == HoldStatusActive && !h.Expired(now)
}

func (h Hold) TotalAllocated() int {
	total := 0
	for _, a := range h.Allocations {
		total += a.AllocatedQuantity
	}
	return total
}

func (h Hold) TotalPurchased() int {
	total := 0
	for _, a := range h.Allocations {
		total += a.PurchasedQuantity
	}
	return total
}

func (h Hold) TotalRemaining() int {
	total := 0
	for _, a := range h.Allocations {
		total += a.Remaining()
	}
	return total
}

// Exhausted reports whether every allocation is fully purchased.
func (h Hold) Exhausted() bool {
	if len(h.Allocations) == 0 {
		return false
	}
	return h.TotalRemaining() == 0
}
