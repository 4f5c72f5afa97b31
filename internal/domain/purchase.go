package domain

import (
	"time"

	"github.com/google/uuid"
)

// Purchase is the immutable record of one allocation line item bought through
// a purchase link. Used for reconciliation and conversion analytics, never
// mutated after creation.
type Purchase struct {
	ID            uuid.UUID
	LinkID        uuid.UUID
	AllocationID  uuid.UUID
	TicketTypeID  uuid.UUID
	BookingID     uuid.UUID
	TransactionID uuid.UUID
	UserID        *uuid.UUID
	AccessID      *uuid.UUID
	Quantity      int
	UnitPrice     int64
	OriginalPrice int64
	Currency      string
	CreatedAt     time.Time
}
