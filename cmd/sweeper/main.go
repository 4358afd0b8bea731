package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/example/farm-ledger/internal/command"
	"github.com/example/farm-ledger/internal/config"
	"github.com/example/farm-ledger/internal/domain/inventory"
	"github.com/example/farm-ledger/internal/idgen"
	"github.com/example/farm-ledger/internal/infrastructure/cache"
	"github.com/example/farm-ledger/internal/infrastructure/kafka"
	"github.com/example/farm-ledger/internal/infrastructure/store"
	"github.com/example/farm-ledger/internal/logger"
	"github.com/example/farm-ledger/internal/maintenance"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting reservation sweeper",
		zap.Duration("interval", cfg.Inventory.SweepInterval),
		zap.Int("batch_size", cfg.Inventory.SweepBatchSize),
	)

	db, err := store.ConnectPostgres(ctx, cfg.Postgres.DSN(), store.PoolConfig{
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal("connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()

	ids, err := idgen.New(cfg.Inventory.SnowflakeNode)
	if err != nil {
		log.Fatal("init id generator", zap.Error(err))
	}

	var publisher inventory.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, log)
		defer producer.Close()
		publisher = producer
	}

	// Without Redis there is no shared lock, so run a single sweeper
	var (
		views  cache.ViewCache
		locker cache.Locker
	)
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal("connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		views = cache.NewRedisViewCache(rdb)
		locker = cache.NewRedisLocker(rdb)
	} else {
		log.Warn("REDIS_ADDR not set, using a process-local sweep lock")
		locker = cache.NewLocalLocker()
	}

	svc := inventory.NewService(store.NewPostgresStore(db), ids, publisher, log, inventory.Options{
		ConflictRetries: cfg.Inventory.ConflictRetries,
		SweepBatchSize:  cfg.Inventory.SweepBatchSize,
	})
	cmdHandler := command.NewHandler(svc, views, log)

	sweeper := maintenance.NewSweeper(cmdHandler, locker, cfg.Inventory.SweepInterval, log)
	if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("sweeper stopped", zap.Error(err))
	}
	log.Info("sweeper stopped")
}
