// Command auditctl is the operator CLI for the admin audit trail.
package main

import (
	"context"
	"fmt"
	"os"

	"racing-admin/internal/audit"
	"racing-admin/internal/config"
	"racing-admin/pkg/logger"
	"racing-admin/pkg/utils"
)

func main() {
	root := newRootCmd(openBackend)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// openBackend connects to the same Postgres and Redis the API uses.
func openBackend(ctx context.Context) (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(cfg.App.Env)

	db, err := utils.OpenPostgres(ctx, cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2})
	if err != nil {
		return nil, err
	}
	rdb, err := utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	repo := audit.NewPostgresRepo(db)
	policy := audit.PolicyFromConfig(cfg.Audit)
	return &backend{
		Store:    repo,
		Mutating: policy.MutatingMethods,
		Retention: audit.NewRetention(repo, policy, audit.RetentionOptions{
			Days:             cfg.Audit.RetentionDays,
			PurgeNonMutating: cfg.Audit.PurgeNonMutating,
			Locker:           audit.NewRedisLocker(rdb),
			Logger:           log,
		}),
		close: func() {
			_ = rdb.Close()
			_ = db.Close()
		},
	}, nil
}
