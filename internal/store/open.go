package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/zhouzirui/heartline/backend/internal/config"
)

// CloseFunc releases the connections behind a store.
type CloseFunc func(ctx context.Context) error

// Open connects the backend selected by cfg.Driver and verifies it is reachable.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (HistoryStore, CloseFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func(context.Context) error { return nil }

	switch cfg.Driver {
	case "", config.DriverMemory:
		logger.Info("using in-memory history store")
		return NewMemoryStore(), noop, nil

	case config.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("store: redis ping %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("using redis history store", zap.String("addr", cfg.RedisAddr), zap.Int("db", cfg.RedisDB))
		return NewRedisStore(client, nil), func(context.Context) error { return client.Close() }, nil

	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("store: open postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("store: postgres ping: %w", err)
		}
		logger.Info("using postgres history store")
		return NewPostgresStore(pool, nil), func(context.Context) error { pool.Close(); return nil }, nil

	case config.DriverMongo:
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("store: connect mongo: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, fmt.Errorf("store: mongo ping: %w", err)
		}
		s, err := NewMongoStore(ctx, client.Database(cfg.MongoDatabase), nil)
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, err
		}
		logger.Info("using mongo history store", zap.String("database", cfg.MongoDatabase))
		return s, client.Disconnect, nil

	default:
		return nil, nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
