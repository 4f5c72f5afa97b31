package domain

import (
	"time"

	"github.com/google/uuid"
)

// LinkAccess is one row in the append-only visit log for a purchase link.
// ResultedInPurchase flips to true at most once, when the visit ends in a
// committed purchase.
type LinkAccess struct {
	ID                 uuid.UUID
	LinkID             uuid.UUID
	UserID             *uuid.UUID
	IPAddress          string
	UserAgent          string
	Referrer           string
	SessionID          string
	ResultedInPurchase bool
	AccessedAt         time.Time
}

func NewLinkAccess(linkID uuid.UUID, userID *uuid.UUID, ip, userAgent, referrer, sessionID string, now time.Time) LinkAccess {
	return LinkAccess{
		ID:         uuid.New(),
		LinkID:     linkID,
		UserID:     userID,
		IPAddress:  ip,
		UserAgent:  userAgent,
		Referrer:   referrer,
		SessionID:  sessionID,
		AccessedAt: now,
	}
}
