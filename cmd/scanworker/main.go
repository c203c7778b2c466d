// Command scanworker runs the accessibility scan worker: it consumes scan
// jobs from RabbitMQ, drives a pooled headless browser through each page,
// persists findings to Postgres and mirrors status into Redis, alongside a
// small ops HTTP surface for enqueueing, status and metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tcthien/ada-wacg-compliance-sub012/internal/auditor"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/browser"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/cache"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/config"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/logging"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/queue"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/scanner"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/server"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/store"
	"github.com/tcthien/ada-wacg-compliance-sub012/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "scanworker:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	zlog, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer zlog.Sync()
	log := zlog.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, cfg.Postgres.DSN, log)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	defer rdb.Close()
	statuses := cache.New(rdb, cfg.Redis.StatusTTL)

	chrome := browser.NewChrome(cfg.Browser.Headless, log)
	defer chrome.Close()
	pool := browser.NewPool(cfg.Browser.PoolSize, chrome.NewHandle, log)
	defer pool.Close()

	axe, err := auditor.NewAxe(cfg.Browser.AuditScriptPath, log)
	if err != nil {
		return fmt.Errorf("loading audit script: %w", err)
	}

	scan := scanner.New(pool, axe, log)
	processor := worker.NewProcessor(scan, db, statuses, worker.Defaults{
		Timeout:   cfg.Browser.NavigationTimeout,
		WaitUntil: cfg.Browser.WaitStrategy,
	}, log)

	consumer, err := queue.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue,
		cfg.Worker.Count, cfg.Worker.JobsPerSecond, log)
	if err != nil {
		return fmt.Errorf("connecting consumer: %w", err)
	}
	defer consumer.Close()

	publisher, err := queue.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, log)
	if err != nil {
		return fmt.Errorf("connecting publisher: %w", err)
	}
	defer publisher.Close()

	ops := server.New(db, statuses, publisher, log)
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      ops.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Infow("ops server listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("ops server: %w", err)
		}
	}()
	go func() {
		if err := consumer.Run(ctx, processor.Process); err != nil {
			errCh <- fmt.Errorf("consumer: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Infow("shutting down")
	case err := <-errCh:
		log.Errorw("fatal error", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("shutting down ops server", "error", err)
	}

	log.Infow("scan worker stopped")
	return nil
}
