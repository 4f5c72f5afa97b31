package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/ticketvault/hold-purchase-links/internal/adapters/crdb"
	"github.com/ticketvault/hold-purchase-links/internal/adapters/rabbit"
	"github.com/ticketvault/hold-purchase-links/internal/clock"
	"github.com/ticketvault/hold-purchase-links/internal/observability"
)

const defaultBatchSize = 50

// Publisher drains NEW outbox rows and publishes them to the event exchange.
// Delivery is at-least-once; consumers dedupe on the record's dedupe key.
type Publisher struct {
	repo      *crdb.Repository
	rabbitPub *rabbit.Publisher
	clock     clock.Clock
	logger    observability.Logger
	batchSize int
}

func NewPublisher(repo *crdb.Repository, rabbitPub *rabbit.Publisher, clk clock.Clock, logger observability.Logger) *Publisher {
	return &Publisher{
		repo:      repo,
		rabbitPub: rabbitPub,
		clock:     clk,
		logger:    logger,
		batchSize: defaultBatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Drain(ctx); err != nil {
				p.logger.WithError(err).Error("outbox drain failed")
			}
		}
	}
}

// Drain publishes one batch of unpublished records. A publish failure skips
// the record; it stays NEW and is retried next tick.
func (p *Publisher) Drain(ctx context.Context) error {
	records, err := p.repo.GetUnpublishedOutbox(ctx, p.batchSize)
	if err != nil {
		return err
	}

	now := p.clock.Now()
	for _, rec := range records {
		observability.OutboxLag.Set(now.Sub(rec.CreatedAt).Seconds())

		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			p.logger.WithError(err).WithField("event_type", rec.EventType).Warn("publish failed, will retry")
			continue
		}
		if err := p.repo.MarkPublished(ctx, rec.ID, p.clock.Now()); err != nil {
			p.logger.WithError(err).Error("mark published failed")
		}
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
	}
	return nil
}
