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

// AuditLogger keeps an admin-facing trail of hold and link actions. It is not
// a source of truth; failures are logged and swallowed.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID  `bson:"_id"`
	Action    string     `bson:"action"`
	ActorID   *uuid.UUID `bson:"actor_id,omitempty"`
	Timestamp time.Time  `bson:"timestamp"`
	Data      bson.M     `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, actorID *uuid.UUID, data map[string]interface{}) {
	log := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		ActorID:   actorID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	if _, err := a.coll.InsertOne(ctx, log); err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
	}
}

func (a *AuditLogger) LogHoldCreated(ctx context.Context, hold domain.Hold) {
	a.LogEvent(ctx, "hold.created", &hold.OrganizerID, map[string]interface{}{
		"hold_id":         hold.ID,
		"occurrence_id":   hold.OccurrenceID,
		"total_allocated": hold.TotalAllocated(),
	})
}

func (a *AuditLogger) LogHoldReleased(ctx context.Context, holdID, actorID uuid.UUID, revokedLinks int) {
	a.LogEvent(ctx, "hold.released", &actorID, map[string]interface{}{
		"hold_id":       holdID,
		"revoked_links": revokedLinks,
	})
}

func (a *AuditLogger) LogLinkCreated(ctx context.Context, link domain.PurchaseLink) {
	a.LogEvent(ctx, "link.created", nil, map[string]interface{}{
		"link_id":       link.ID,
		"hold_id":       link.HoldID,
		"quantity_mode": link.QuantityMode,
	})
}

func (a *AuditLogger) LogLinkRevoked(ctx context.Context, linkID, actorID uuid.UUID) {
	a.LogEvent(ctx, "link.revoked", &actorID, map[string]interface{}{
		"link_id": linkID,
	})
}

func (a *AuditLogger) LogPurchase(ctx context.Context, linkID uuid.UUID, userID *uuid.UUID, quantity int, total int64) {
	a.LogEvent(ctx, "link.purchase", userID, map[string]interface{}{
		"link_id":  linkID,
		"quantity": quantity,
		"total":    total,
	})
}
