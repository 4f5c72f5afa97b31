package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ticketvault/hold-purchase-links/internal/domain"
	"github.com/ticketvault/hold-purchase-links/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// TicketCatalog is the inventory side of ticket types. Holds reserve sellable
// units here at creation time and hand them back on release; pricing reads
// the base price from the same document.
type TicketCatalog struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewTicketCatalog(db *mongo.Database, logger observability.Logger) *TicketCatalog {
	return &TicketCatalog{
		coll:   db.Collection("ticket_types"),
		logger: logger,
	}
}

type TicketTypeDoc struct {
	ID        uuid.UUID `bson:"_id"`
	Name      string    `bson:"name"`
	BasePrice int64     `bson:"base_price"`
	Currency  string    `bson:"currency"`
	Sellable  int       `bson:"sellable_quantity"`
	Available int       `bson:"available_quantity"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (c *TicketCatalog) GetTicketType(ctx context.Context, id uuid.UUID) (domain.TicketType, error) {
	var doc TicketTypeDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return domain.TicketType{}, domain.ErrNotFound
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to get ticket type")
		return domain.TicketType{}, err
	}
	return domain.TicketType{
		ID:        doc.ID,
		Name:      doc.Name,
		BasePrice: doc.BasePrice,
		Currency:  doc.Currency,
		Available: doc.Available,
	}, nil
}

func (c *TicketCatalog) CreateTicketType(ctx context.Context, doc TicketTypeDoc) error {
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		c.logger.WithError(err).Error("failed to create ticket type")
		return err
	}
	return nil
}

// ReserveSellable decrements a ticket type's available quantity, failing with
// ErrInsufficientInventory when fewer than qty units are left. The conditional
// update makes the check-and-decrement a single atomic document operation.
func (c *TicketCatalog) ReserveSellable(ctx context.Context, id uuid.UUID, qty int) error {
	res, err := c.coll.UpdateOne(
		ctx,
		bson.M{"_id": id, "available_quantity": bson.M{"$gte": qty}},
		bson.M{"$inc": bson.M{"available_quantity": -qty}, "$set": bson.M{"updated_at": time.Now()}},
	)
	if err != nil {
		c.logger.WithError(err).Error("failed to reserve sellable inventory")
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := c.GetTicketType(ctx, id); err != nil {
			return err
		}
		return domain.ErrInsufficientInventory
	}
	return nil
}

// ReleaseSellable hands reserved units back, e.g. when a hold is released
// with unsold inventory or hold creation fails partway.
func (c *TicketCatalog) ReleaseSellable(ctx context.Context, id uuid.UUID, qty int) error {
	_, err := c.coll.UpdateOne(
		ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"available_quantity": qty}, "$set": bson.M{"updated_at": time.Now()}},
	)
	if err != nil {
		c.logger.WithError(err).Error("failed to release sellable inventory")
		return err
	}
	return nil
}
