package domain

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type PricingMode string

const (
	PricingOriginal           PricingMode = "ORIGINAL"
	PricingFixed              PricingMode = "FIXED"
	PricingPercentageDiscount PricingMode = "PERCENTAGE_DISCOUNT"
	PricingFree               PricingMode = "FREE"
)

// Allocation is one ticket-type line item within a hold. PurchasedQuantity
// only moves through the repository's locked increment; mutating it anywhere
// else breaks the oversell guarantee.
type Allocation struct {
	ID                uuid.UUID
	HoldID            uuid.UUID
	TicketTypeID      uuid.UUID
	AllocatedQuantity int
	PurchasedQuantity int
	PricingMode       PricingMode
	CustomPrice       *int64
	DiscountPercent   *float64
	CreatedAt         time.Time
}

func NewAllocation(holdID, ticketTypeID uuid.UUID, quantity int, mode PricingMode, customPrice *int64, discountPercent *float64, now time.Time) (Allocation, error) {
	if quantity <= 0 {
		return Allocation{}, ErrInvalidQuantity
	}
	switch mode {
	case PricingOriginal, PricingFree:
	case PricingFixed:
		if customPrice == nil || *customPrice < 0 {
			return Allocation{}, ErrInvalidPricing
		}
	case PricingPercentageDiscount:
		if discountPercent == nil || *discountPercent < 0 || *discountPercent > 100 {
			return Allocation{}, ErrInvalidPricing
		}
	default:
		return Allocation{}, ErrInvalidPricing
	}
	return Allocation{
		ID:                uuid.New(),
		HoldID:            holdID,
		TicketTypeID:      ticketTypeID,
		AllocatedQuantity: quantity,
		PricingMode:       mode,
		CustomPrice:       customPrice,
		DiscountPercent:   discountPercent,
		CreatedAt:         now,
	}, nil
}

func (a Allocation) Remaining() int {
	return a.AllocatedQuantity - a.PurchasedQuantity
}

// EffectivePrice computes the per-unit price in minor currency units from the
// ticket type's base price.
func (a Allocation) EffectivePrice(basePrice int64) int64 {
	switch a.PricingMode {
	case PricingFixed:
		if a.CustomPrice != nil {
			return *a.CustomPrice
		}
		return basePrice
	case PricingPercentageDiscount:
		if a.DiscountPercent != nil {
			return int64(math.Round(float64(basePrice) * (1 - *a.DiscountPercent/100)))
		}
		return basePrice
	case PricingFree:
		return 0
	default:
		return basePrice
	}
}
