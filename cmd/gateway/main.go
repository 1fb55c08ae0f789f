package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/cloak-gateway/internal/api"
	"github.com/ignite/cloak-gateway/internal/blacklist"
	"github.com/ignite/cloak-gateway/internal/classify"
	"github.com/ignite/cloak-gateway/internal/config"
	"github.com/ignite/cloak-gateway/internal/engine"
	"github.com/ignite/cloak-gateway/internal/intel"
	"github.com/ignite/cloak-gateway/internal/ipcache"
	"github.com/ignite/cloak-gateway/internal/pkg/distlock"
	"github.com/ignite/cloak-gateway/internal/pkg/logger"
	"github.com/ignite/cloak-gateway/internal/redirect"
	"github.com/ignite/cloak-gateway/internal/repository/postgres"
	"github.com/ignite/cloak-gateway/internal/rewrite"
	"github.com/ignite/cloak-gateway/internal/rules"
	"github.com/ignite/cloak-gateway/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use
// before any slow initialization happens.
func checkPortAvailable(port int) error {
	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use: %v", port, err)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("Cloak Gateway starting (cmd/gateway/main.go)")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}

	if err := checkPortAvailable(cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", cfg.Server.Port)

	// Postgres pool
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.PoolSize)
	db.SetMaxIdleConns(cfg.Database.PoolSize / 2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("Database unreachable at %s: %v", extractHost(cfg.Database.URL), err)
	}
	cancel()
	log.Printf("Database connected (%s, pool=%d)", extractHost(cfg.Database.URL), cfg.Database.PoolSize)

	schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := postgres.EnsureSchema(schemaCtx, db); err != nil {
		cancel()
		log.Fatalf("Schema setup failed: %v", err)
	}
	cancel()

	// Optional Redis for the shared IP cache and the maintenance lock
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Printf("Redis unreachable, continuing without shared cache: %v", err)
			rdb = nil
		} else {
			log.Println("Redis connected")
		}
	}

	// Repositories
	redirectRepo := postgres.NewRedirectRepo(db)
	ipCacheRepo := postgres.NewIPCacheRepo(db)
	logRepo := postgres.NewLogRepo(db)
	ruleRepo := postgres.NewRuleRepo(db)
	rangeRepo := postgres.NewRangeRepo(db)

	// CIDR blacklist from the on-disk snapshot
	bl, err := blacklist.Load(cfg.Blacklist.File())
	if err != nil {
		log.Fatalf("Failed to load blacklist: %v", err)
	}
	log.Printf("Blacklist loaded: %d ranges", bl.Len())

	// BOT-IP cache, warmed from Postgres
	cache := ipcache.New(ipCacheRepo, rdb)
	warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if entries, err := ipCacheRepo.WarmLoad(warmCtx, 10000); err != nil {
		log.Printf("IP cache warm load failed: %v", err)
	} else {
		cache.Warm(entries)
		log.Printf("IP cache warmed: %d entries", len(entries))
	}
	cancel()

	// Stage-1 classifier and rule refresher
	classifier := classify.New()
	refresher := rules.New(ruleRepo, classifier)
	loadCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := refresher.Refresh(loadCtx); err != nil {
		log.Printf("Initial rule load failed, starting with built-ins only: %v", err)
	}
	cancel()

	// Stage-2 client
	intelOpts := []intel.Option{intel.WithTimeout(cfg.Intel.Timeout())}
	if strings.EqualFold(cfg.Intel.Region, "eu") {
		intelOpts = append(intelOpts, intel.WithEURegion())
	}
	intelClient := intel.New(cfg.Intel.APIKey, intelOpts...)

	// Decision engine
	eng := engine.New(bl, classifier, cache, intelClient, refresher, rangeRepo)

	// Hot redirect cache
	resolver := redirect.NewResolver(redirectRepo)
	resolver.Start()

	// Write-behind logger and retention sweep
	writer := worker.NewLogWriter(logRepo, redirectRepo, cfg.Logger.BatchInterval())
	writer.Start()

	retentionLock := distlock.NewLock(rdb, db, "gateway:retention", 10*time.Minute)
	retention := worker.NewRetentionWorker(logRepo, retentionLock, cfg.Logger.Retention())

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); retention.Start(workerCtx) }()
	go func() { defer wg.Done(); refresher.Start(workerCtx) }()

	// HTTP server
	rewriter := rewrite.New(cfg.Rewrite.DecodeBase64)
	handlers := api.NewHandlers(eng, resolver, rewriter, writer, bl, cache, cfg.Server.FallbackURL)
	handlers.SetRangeDeleter(rangeRepo)
	server := api.NewServer(handlers, cfg.Server.AdminOrigins)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on :%d", cfg.Server.Port)
		errCh <- server.ListenAndServe(fmt.Sprintf(":%d", cfg.Server.Port))
	}()

	// Graceful shutdown: stop intake first, then flush queues and
	// snapshot the blacklist.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %s, shutting down", sig)
	case err := <-errCh:
		log.Printf("Server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	stopWorkers()
	wg.Wait()
	resolver.Stop()
	writer.Stop()
	bl.Close()

	if rdb != nil {
		rdb.Close()
	}
	db.Close()
	log.Println("Shutdown complete")
}
