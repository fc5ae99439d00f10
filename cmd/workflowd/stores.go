package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/meikuraledutech/workflow"
	"github.com/meikuraledutech/workflow/config"
	"github.com/meikuraledutech/workflow/memory"
	"github.com/meikuraledutech/workflow/postgres"
	"github.com/meikuraledutech/workflow/redisstore"
)

type stores struct {
	versions workflow.VersionStore
	runs     workflow.RunStore
	idem     workflow.IdempotencyStore
	closers  []func()
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openPostgres(ctx context.Context, cfg *config.Config) (*postgres.PGStore, func(), error) {
	pool, err := postgres.Connect(ctx, cfg.DB.URL, postgres.PoolOptions{
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, err
	}
	return postgres.New(pool), pool.Close, nil
}

// openStores builds the stores selected by store.driver and idempotency.driver.
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	s := &stores{}
	switch cfg.Store.Driver {
	case "postgres":
		pg, closePool, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, closePool)
		s.versions, s.runs, s.idem = pg, pg, pg
	default:
		mem := memory.New()
		s.versions, s.runs, s.idem = mem, mem, memory.NewIdempotencyStore()
	}

	if cfg.Idempotency.Driver == "redis" {
		rdb, err := redisstore.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		s.closers = append(s.closers, func() { _ = rdb.Close() })
		s.idem = redisstore.New(rdb, cfg.Redis.TTL)
	}

	log.Info().Str("store", cfg.Store.Driver).Str("idempotency", cfg.Idempotency.Driver).Msg("stores opened")
	return s, nil
}
