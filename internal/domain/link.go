package domain

import (
	"time"

	"github.com/google/uuid"
)

type QuantityMode string

const (
	QuantityUnlimited QuantityMode = "UNLIMITED"
	QuantityFixed     QuantityMode = "FIXED"
	QuantityMaximum   QuantityMode = "MAXIMUM"
)

type LinkStatus string

const (
	LinkStatusActive    LinkStatus = "ACTIVE"
	LinkStatusRevoked   LinkStatus = "REVOKED"
	LinkStatusExpired   LinkStatus = "EXPIRED"
	LinkStatusExhausted LinkStatus = "EXHAUSTED"
)

// PurchaseLink is a shareable access token bound to a hold. The code appears
// in public URLs (/purchase-link/{code}); QuantityPurchased only moves through
// the repository's locked increment.
type PurchaseLink struct {
	ID                uuid.UUID
	Code              string
	HoldID            uuid.UUID
	AssignedUserID    *uuid.UUID
	QuantityMode      QuantityMode
	QuantityLimit     *int
	QuantityPurchased int
	Status            LinkStatus
	ExpiresAt         *time.Time
	RevokedAt         *time.Time
	RevokedBy         *uuid.UUID
	CreatedAt         time.Time
	DeletedAt         *time.Time
}

func NewPurchaseLink(holdID uuid.UUID, code string, mode QuantityMode, limit *int, assignedUserID *uuid.UUID, expiresAt *time.Time, now time.Time) (PurchaseLink, error) {
	if mode != QuantityUnlimited {
		if limit == nil || *limit <= 0 {
			return PurchaseLink{}, ErrInvalidQuantity
		}
	}
	return PurchaseLink{
		ID:             uuid.New(),
		Code:           code,
		HoldID:         holdID,
		AssignedUserID: assignedUserID,
		QuantityMode:   mode,
		QuantityLimit:  limit,
		Status:         LinkStatusActive,
		ExpiresAt:      expiresAt,
		CreatedAt:      now,
	}, nil
}

func (l PurchaseLink) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// Remaining returns the quantity still purchasable on a quota-bound link.
// Meaningless for UNLIMITED links; callers go through CanPurchaseQuantity.
func (l PurchaseLink) Remaining() int {
	if l.QuantityLimit == nil {
		return 0
	}
	return *l.QuantityLimit - l.QuantityPurchased
}

// CanBeUsedByUser allows anyone on an open link and only the exact assigned
// user on a bound one. Admin overrides belong to the authorization layer, not
// here.
func (l PurchaseLink) CanBeUsedByUser(userID *uuid.UUID) bool {
	if l.AssignedUserID == nil {
		return true
	}
	return userID != nil && *userID == *l.AssignedUserID
}

// CanPurchaseQuantity checks the requested quantity against the link's quota
// mode. FIXED is all-or-nothing: the purchase must drain the remaining quota
// in a single transaction.
func (l PurchaseLink) CanPurchaseQuantity(n int) bool {
	if n <= 0 {
		return false
	}
	switch l.QuantityMode {
	case QuantityUnlimited:
		return true
	case QuantityFixed:
		return n == l.Remaining()
	case QuantityMaximum:
		return n <= l.Remaining()
	default:
		return false
	}
}

// IsUsable requires an ACTIVE unexpired link, a usable parent hold, and quota
// headroom.
func (l PurchaseLink) IsUsable(now time.Time, hold Hold) bool {
	if l.Status != LinkStatusActive || l.Expired(now) {
		return false
	}
	if !hold.IsUsable(now) {
		return false
	}
	return l.QuantityMode == QuantityUnlimited || l.Remaining() > 0
}
