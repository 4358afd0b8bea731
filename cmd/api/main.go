package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/farm-ledger/internal/api"
	"github.com/example/farm-ledger/internal/auth"
	"github.com/example/farm-ledger/internal/command"
	"github.com/example/farm-ledger/internal/config"
	"github.com/example/farm-ledger/internal/domain/inventory"
	"github.com/example/farm-ledger/internal/idgen"
	"github.com/example/farm-ledger/internal/infrastructure/cache"
	"github.com/example/farm-ledger/internal/infrastructure/kafka"
	"github.com/example/farm-ledger/internal/infrastructure/store"
	"github.com/example/farm-ledger/internal/logger"
	"github.com/example/farm-ledger/internal/query"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.Logger)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	if !cfg.Server.IsDevelopment() && len(cfg.JWT.SecretKey) < 32 {
		log.Fatal("JWT_SECRET_KEY must be at least 32 characters long")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("starting inventory ledger API",
		zap.String("env", cfg.Server.AppEnv),
		zap.Strings("kafka_brokers", cfg.Kafka.Brokers),
		zap.Bool("redis", cfg.Redis.Addr != ""),
	)

	// PostgreSQL is the system of record
	db, err := store.ConnectPostgres(ctx, cfg.Postgres.DSN(), store.PoolConfig{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal("connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()
	if cfg.Postgres.AutoMigrate {
		if err := store.Migrate(ctx, db); err != nil {
			log.Fatal("migrate schema", zap.Error(err))
		}
	}

	ids, err := idgen.New(cfg.Inventory.SnowflakeNode)
	if err != nil {
		log.Fatal("init id generator", zap.Error(err))
	}

	// Kafka is optional; without brokers events are dropped
	var publisher inventory.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, log)
		defer producer.Close()
		publisher = producer
	}

	// Redis backs the view cache; a process-local cache stands in without it
	var views cache.ViewCache
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		views = cache.NewRedisViewCache(rdb)
	} else {
		views = cache.NewMemoryViewCache()
	}

	svc := inventory.NewService(store.NewPostgresStore(db), ids, publisher, log, inventory.Options{
		MaxBatchItems:         cfg.Inventory.MaxBatchItems,
		DefaultReservationTTL: cfg.Inventory.DefaultReservationTTL,
		ConflictRetries:       cfg.Inventory.ConflictRetries,
		SweepBatchSize:        cfg.Inventory.SweepBatchSize,
	})

	cmdHandler := command.NewHandler(svc, views, log)
	queryHandler := query.NewHandler(svc, views, cfg.Inventory.ViewCacheTTL, log)

	// Inbound commands from the operational modules
	var wg sync.WaitGroup
	if len(cfg.Kafka.Brokers) > 0 {
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.CommandsTopic, cfg.Kafka.GroupID, log)
		defer consumer.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("consuming commands", zap.String("topic", cfg.Kafka.CommandsTopic))
			if err := consumer.Consume(ctx, cmdHandler.HandleMessage); err != nil && ctx.Err() == nil {
				log.Error("command consumer stopped", zap.Error(err))
			}
		}()
	}

	if !cfg.Server.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	jwtService := auth.NewJWTService(cfg.JWT.SecretKey, 0)
	handlers := api.NewHandlers(cmdHandler, queryHandler, log)
	router := api.NewRouter(handlers, jwtService, cfg.Server, log)

	server := &http.Server{
		Addr:              ":" + cfg.Server.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown", zap.Error(err))
	}

	wg.Wait()
}
