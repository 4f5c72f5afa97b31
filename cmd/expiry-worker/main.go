package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ticketvault/hold-purchase-links/internal/adapters/crdb"
	mongoadapter "github.com/ticketvault/hold-purchase-links/internal/adapters/mongo"
	"github.com/ticketvault/hold-purchase-links/internal/app"
	"github.com/ticketvault/hold-purchase-links/internal/clock"
	"github.com/ticketvault/hold-purchase-links/internal/config"
	"github.com/ticketvault/hold-purchase-links/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()
	clk := clock.NewSystem()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("hpl")
	catalog := mongoadapter.NewTicketCatalog(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	holds := app.NewHoldService(repo, catalog, audit, clk, logger)
	links := app.NewLinkService(repo, audit, clk, logger, cfg.LinkCodeLength, cfg.LinkCodeRetries)

	worker := NewExpiryWorker(holds, links, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go worker.Run(ctx, cfg.ExpirySweep)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown expiry worker")
}

// ExpiryWorker periodically flips holds and links whose deadline has passed.
// Reads see expiry in real time regardless; the sweep persists the status so
// listings and events catch up.
type ExpiryWorker struct {
	holds  *app.HoldService
	links  *app.LinkService
	logger observability.Logger
}

func NewExpiryWorker(holds *app.HoldService, links *app.LinkService, logger observability.Logger) *ExpiryWorker {
	return &ExpiryWorker{holds: holds, links: links, logger: logger}
}

func (w *ExpiryWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ExpiryWorker) sweep(ctx context.Context) {
	expiredHolds, err := w.holds.UpdateExpiredHolds(ctx)
	if err != nil {
		w.logger.WithError(err).Error("expire holds sweep failed")
	} else if expiredHolds > 0 {
		w.logger.WithField("count", expiredHolds).Info("expired holds")
	}

	expiredLinks, err := w.links.UpdateExpiredLinks(ctx)
	if err != nil {
		w.logger.WithError(err).Error("expire links sweep failed")
	} else if expiredLinks > 0 {
		w.logger.WithField("count", expiredLinks).Info("expired links")
	}
}
