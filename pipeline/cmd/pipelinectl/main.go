package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"storefront-pipeline/pipeline/internal/cli"
	"storefront-pipeline/pipeline/internal/repos"
	"storefront-pipeline/shared/config"
	"storefront-pipeline/shared/dbx"
	"storefront-pipeline/shared/logx"
	"storefront-pipeline/shared/mqx"
	"storefront-pipeline/shared/queuex"
)

func main() {
	// Problems are informational here: each command opens only what it needs.
	cfg, _ := config.Load("pipelinectl", 8092)
	logger := logx.New(cfg.ServiceName, cfg.Env, strings.TrimSpace(os.Getenv("VERSION")), cfg.LogLevel)

	var (
		store    *queuex.RedisStore
		producer *mqx.Producer
		pool     *pgxpool.Pool
	)
	deps := &cli.Deps{
		Config: cfg,
		Logger: logger,
		In:     os.Stdin,
		Out:    os.Stdout,
		Store: func(ctx context.Context) (queuex.Store, error) {
			if store == nil {
				s, err := queuex.NewRedisStore(cfg)
				if err != nil {
					return nil, err
				}
				store = s
			}
			return store, nil
		},
		Publisher: func(ctx context.Context) (mqx.Publisher, error) {
			if producer == nil {
				p, err := mqx.NewProducer(cfg)
				if err != nil {
					return nil, err
				}
				producer = p
			}
			return producer, nil
		},
		DB: func(ctx context.Context) (repos.DBTX, error) {
			if pool == nil {
				p, err := dbx.NewPool(ctx, cfg)
				if err != nil {
					return nil, err
				}
				pool = p
			}
			return pool, nil
		},
	}

	err := cli.NewRootCmd(deps).ExecuteContext(context.Background())
	if producer != nil {
		_ = producer.Close()
	}
	if store != nil {
		_ = store.Close()
	}
	if pool != nil {
		pool.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
