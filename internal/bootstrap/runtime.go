// Package bootstrap wires the process-wide runtime: database, Redis and the
// optional schema migration and demo data.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"devpress/internal/cache"
	"devpress/internal/config"
	"devpress/internal/database"
	"devpress/internal/middleware"
	"devpress/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// Migrate runs AutoMigrate for every persistent model after connecting.
	Migrate bool
	// SeedDemo layers the built-in demo scenario on top of the database.
	SeedDemo bool
}

// InitRuntime connects to the database and Redis. Redis is required: the
// session store lives there, so an unreachable server is an error.
func InitRuntime(cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	if opts.Migrate {
		if err := database.Migrate(db); err != nil {
			return nil, nil, err
		}
	}

	rdb, err := cache.InitRedis(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if opts.SeedDemo {
		if err := seedDemo(db); err != nil {
			return nil, nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return db, rdb, nil
}

func seedDemo(db *gorm.DB) error {
	sc, err := seed.DemoScenario()
	if err != nil {
		return err
	}
	sum, err := seed.ApplyScenario(context.Background(), db, sc, seed.Options{})
	if err != nil {
		return err
	}
	middleware.Logger.Info("demo scenario applied",
		slog.Int("users", sum.Users),
		slog.Int("posts", sum.Posts),
	)
	return nil
}
