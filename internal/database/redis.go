// Package database holds the process-wide Redis bootstrap used by
// cmd/server/main.go. The equivalent Postgres bootstrap moved into
// internal/store/postgres.go's NewPostgres, since the store package
// already owns the *sql.DB lifecycle end to end.
package database

import (
	"context"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/lpinkhard/advanced-ledger-challenge/internal/config"
)

// InitRedis connects to the Redis instance named by cfg. A connection
// failure is not fatal: it returns nil, and callers run with Redis-backed
// fast paths (idempotency cache, cron mutual exclusion) disabled rather
// than refuse to start.
func InitRedis(cfg *config.Config) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("Redis connection failed, continuing without Redis: %v", err)
		return nil
	}

	log.Println("Redis connection established")
	return rdb
}
