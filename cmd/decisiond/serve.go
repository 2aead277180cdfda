package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"decisiond/internal/agent"
	"decisiond/internal/audit"
	"decisiond/internal/auth"
	"decisiond/internal/casework"
	"decisiond/internal/config"
	"decisiond/internal/evidence"
	"decisiond/internal/objstore"
	"decisiond/internal/policy"
	"decisiond/internal/reaper"
	"decisiond/internal/server"
	"decisiond/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := config.FromEnv()
	logger := slog.Default()

	db, err := store.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	var objects objstore.Storage
	if cfg.S3Bucket != "" {
		s3Store, err := objstore.NewS3(ctx, objstore.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
		})
		if err != nil {
			return fmt.Errorf("object store: %w", err)
		}
		if err := s3Store.EnsureBucket(ctx); err != nil {
			return err
		}
		objects = s3Store
	} else {
		logger.Warn("no object store bucket configured, documents held in memory")
		objects = objstore.NewMemory()
	}

	authSvc, err := auth.NewService(db, cfg.SecretKey, cfg.Environment, cfg.TokenTTL)
	if err != nil {
		return err
	}

	log := audit.NewLog(db)
	policies := policy.NewStore(db, rdb, logger)
	engine := policy.NewEngine(log, logger)
	orch := agent.NewOrchestrator(agent.DefaultRegistry(), db, logger)
	evd := evidence.NewService(db, evidence.SyntheticCollector{})
	cases := casework.NewManager(db, log, policies, engine, orch, evd, logger)

	jobs := reaper.New(db, cases, logger)
	if err := jobs.Start(ctx); err != nil {
		return fmt.Errorf("start scheduled jobs: %w", err)
	}
	defer jobs.Stop()

	srv := server.New(db, cases, policies, engine, log, authSvc, objects, cfg.CORSOrigins, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(cfg.Addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
