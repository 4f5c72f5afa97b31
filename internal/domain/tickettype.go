package domain

import "github.com/google/uuid"

// TicketType is the core's view of the external ticket definition: the base
// price the pricing modes derive from and the sellable inventory holds draw
// against. Owned by the catalog collaborator, read-only here.
type TicketType struct {
	ID        uuid.UUID
	Name      string
	BasePrice int64
	Currency  string
	Available int
}
