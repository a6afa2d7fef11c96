package main

import (
	"context"
	"fmt"

	"github.com/mtr002/docjobs/internal/api"
	"github.com/mtr002/docjobs/internal/config"
	"github.com/mtr002/docjobs/internal/db"
	"github.com/mtr002/docjobs/internal/interfaces"
	"github.com/mtr002/docjobs/internal/memstore"
	"github.com/mtr002/docjobs/internal/redisstore"
)

// openStore builds the configured store and a readiness probe for it. The
// store is initialised before it is returned.
func openStore(ctx context.Context, c *config.Config) (interfaces.Store, api.ReadinessCheck, error) {
	var (
		store interfaces.Store
		ready api.ReadinessCheck
	)

	switch c.StoreDriver {
	case config.StorePostgres:
		database, err := db.Connect(c.Database)
		if err != nil {
			return nil, nil, err
		}
		store = db.NewStore(database)
		ready = database.PingContext
	case config.StoreRedis:
		rs, err := redisstore.Open(c.RedisURL, c.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		store = rs
		ready = rs.Ping
	case config.StoreMemory:
		store = memstore.New()
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}

	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to initialise %s store: %w", c.StoreDriver, err)
	}
	return store, ready, nil
}
