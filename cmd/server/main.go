package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/relaycrm/orchestrator/internal/api"
	"github.com/relaycrm/orchestrator/internal/campaign"
	"github.com/relaycrm/orchestrator/internal/config"
	"github.com/relaycrm/orchestrator/internal/contacts"
	"github.com/relaycrm/orchestrator/internal/hours"
	"github.com/relaycrm/orchestrator/internal/rules"
	"github.com/relaycrm/orchestrator/internal/scheduler"
	"github.com/relaycrm/orchestrator/internal/sender"
	"github.com/relaycrm/orchestrator/internal/sendtime"
	"github.com/relaycrm/orchestrator/internal/trigger"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("RelayCRM orchestrator API server starting")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifeMins) * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to PostgreSQL")

	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Printf("Redis unreachable, falling back to PG advisory locks: %v", err)
			redisClient = nil
		} else {
			log.Println("Connected to Redis")
		}
	}

	ruleStore := rules.NewStore(db)
	if redisClient != nil {
		ruleStore.SetRedisClient(redisClient)
	}
	hourStore := hours.NewStore(db)
	contactStore := contacts.NewStore(db)
	campaignStore := campaign.NewStore(db)
	messageStore := scheduler.NewMessageStore(db)

	optimizer := sendtime.NewOptimizer(db, redisClient, cfg.SendTime.ClickWeight)
	optimizer.SetCacheTTL(cfg.SendTime.CacheTTL())

	renderer := sender.NewRenderer()
	evaluator := trigger.NewEvaluator(ruleStore, hourStore, contactStore, optimizer, renderer,
		cfg.SendTime.Horizon(), cfg.Sender.DefaultMaxRetries, cfg.Scheduler.DependencyTTLHours)

	handlers := &api.Handlers{
		Rules:     api.NewRulesAPI(ruleStore, evaluator),
		Campaigns: api.NewCampaignsAPI(campaignStore, cfg.Sender.DefaultMaxRetries),
		Hours:     api.NewHoursAPI(hourStore, optimizer, campaignStore, cfg.SendTime.DefaultTopN),
		Messages:  api.NewMessagesAPI(messageStore, contactStore, cfg.Sender.DefaultMaxRetries),
		DB:        db,
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      api.SetupRoutes(handlers),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}
