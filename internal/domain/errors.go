package domain

import "errors"

var (
	ErrInsufficientInventory     = errors.New("insufficient sellable inventory")
	ErrInsufficientHoldInventory = errors.New("insufficient hold inventory")
	ErrHoldNotActive             = errors.New("hold not active")
	ErrLinkNotUsable             = errors.New("purchase link not usable")
	ErrUserNotAuthorizedForLink  = errors.New("user not authorized for link")
	ErrLinkCodeSpaceExhausted    = errors.New("link code space exhausted")
	ErrInvalidQuantity           = errors.New("invalid quantity")
	ErrInvalidPricing            = errors.New("invalid pricing parameters")
	ErrSerializationFailure      = errors.New("serialization failure")
	ErrNotFound                  = errors.New("not found")
	ErrConflict                  = errors.New("conflict")
)
