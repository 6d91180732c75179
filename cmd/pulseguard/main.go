package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/pulseguard/pulseguard/internal/api"
	"github.com/pulseguard/pulseguard/internal/config"
	"github.com/pulseguard/pulseguard/internal/db"
	"github.com/pulseguard/pulseguard/internal/events"
	"github.com/pulseguard/pulseguard/internal/logging"
	"github.com/pulseguard/pulseguard/internal/probe"
	"github.com/pulseguard/pulseguard/internal/runner"
	"github.com/pulseguard/pulseguard/internal/scheduler"
)

func main() {
	logger := logging.New("pulseguard")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *db.Store
	if cfg.DBDriver == "postgres" {
		store, err = db.NewPostgresStore(cfg.DBURL)
	} else {
		store, err = db.NewStore(cfg.DBPath)
	}
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer func() { _ = store.Close() }()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opts)
	defer func() { _ = rdb.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		logger.Fatalf("redis unreachable at %s: %v", cfg.RedisURL, err)
	}
	cancel()

	queue := scheduler.NewQueue(rdb)
	lock := scheduler.NewLock(rdb)
	sched := scheduler.New(queue, lock, store, cfg.Workers(), cfg.ForceMaster && cfg.DevMode)

	hostname, _ := os.Hostname()
	emitter := events.NewEmitter(rdb, eventUser())
	emitter.Start(ctx)
	defer emitter.Stop()

	run := runner.New(store, probe.NewResolver(), emitter, sched)
	sched.SetRunner(run)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Start(gctx) })
	g.Go(func() error {
		// Relay events published by other processes to local subscribers.
		if err := emitter.Forward(gctx); err != nil && gctx.Err() == nil {
			logger.Printf("event forwarder: %v", err)
		}
		return nil
	})
	g.Go(func() error { return retentionLoop(gctx, store, sched) })

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(store, sched, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Printf("node %s listening on %s (workers=%d)", hostname, cfg.ListenAddr, cfg.Workers())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("server shutdown: %v", err)
	}

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Printf("scheduler exit: %v", err)
	}

	// Let in-flight verification probes write their results.
	run.Wait()
	logger.Println("exited")
}

// eventUser scopes pub/sub envelopes. Single-tenant deployments share one
// routing key; EVENT_USER overrides it.
func eventUser() string {
	if u := os.Getenv("EVENT_USER"); u != "" {
		return u
	}
	return "default"
}

// retentionLoop prunes old checks once an hour. Only the master sweeps so a
// fleet does not hammer the database with identical deletes.
func retentionLoop(ctx context.Context, store *db.Store, sched *scheduler.Scheduler) error {
	logger := logging.New("retention")
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !sched.IsMaster() {
				continue
			}
			deleted, err := store.PruneChecks(store.RetentionDays())
			if err != nil {
				logger.Printf("prune checks: %v", err)
				continue
			}
			if deleted > 0 {
				logger.Printf("pruned %d checks past %d day retention", deleted, store.RetentionDays())
			}
		}
	}
}
