package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/ticketvault/hold-purchase-links/internal/adapters/crdb"
	mongoadapter "github.com/ticketvault/hold-purchase-links/internal/adapters/mongo"
	redisadapter "github.com/ticketvault/hold-purchase-links/internal/adapters/redis"
	"github.com/ticketvault/hold-purchase-links/internal/app"
	"github.com/ticketvault/hold-purchase-links/internal/booking"
	"github.com/ticketvault/hold-purchase-links/internal/clock"
	"github.com/ticketvault/hold-purchase-links/internal/config"
	httphandler "github.com/ticketvault/hold-purchase-links/internal/http"
	"github.com/ticketvault/hold-purchase-links/internal/idempotency"
	"github.com/ticketvault/hold-purchase-links/internal/migrations"
	"github.com/ticketvault/hold-purchase-links/internal/observability"
	"github.com/ticketvault/hold-purchase-links/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()
	clk := clock.NewSystem()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	if err := migrations.Apply(context.Background(), pool); err != nil {
		log.Fatalf("failed to apply migrations: %v", err)
	}
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("hpl")
	catalog := mongoadapter.NewTicketCatalog(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	redisCache := redisadapter.NewCache(redisClient)
	redisIdemp := redisadapter.NewIdempotency(redisClient)
	idemp := idempotency.NewIdempotency(redisIdemp, cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache)

	bookings := booking.NewClient(cfg.BookingAPIURL)

	holds := app.NewHoldService(repo, catalog, audit, clk, logger)
	links := app.NewLinkService(repo, audit, clk, logger, cfg.LinkCodeLength, cfg.LinkCodeRetries)
	purchases := app.NewPurchaseService(repo, catalog, bookings, audit, clk, logger, cfg.DefaultCurrency)

	handlers := httphandler.NewHandlers(holds, links, purchases, repo, idemp)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
