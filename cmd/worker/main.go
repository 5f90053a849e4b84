package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

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

func main() {
	log.Println("RelayCRM orchestrator worker starting")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
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

	var channelSenders []sender.ChannelSender
	if cfg.Email.Enabled {
		sesSender, err := sender.NewSESSender(context.Background(), cfg.Email)
		if err != nil {
			log.Fatalf("Failed to build SES sender: %v", err)
		}
		channelSenders = append(channelSenders, sesSender)
		log.Printf("Email channel enabled (SES, region=%s)", cfg.Email.Region)
	}
	if cfg.WhatsApp.Enabled {
		channelSenders = append(channelSenders, sender.NewWhatsAppSender(cfg.WhatsApp))
		log.Println("WhatsApp channel enabled")
	}
	if len(channelSenders) == 0 {
		log.Fatal("No delivery channels enabled; set AWS_SES_* or WHATSAPP_* credentials")
	}

	registry := sender.NewRegistry(channelSenders...)
	executor := sender.NewExecutor(registry, renderer, contactStore,
		ruleStore, campaignStore, messageStore,
		cfg.Sender.BackoffBase(), cfg.Sender.BackoffCap())
	executor.OnExecutionSent = evaluator.OnRuleSent

	pool := sender.NewPool(cfg.Sender.NumWorkers)

	sweeper := scheduler.NewSweeper(ruleStore, campaignStore, messageStore,
		evaluator, executor, pool,
		cfg.Scheduler.SweepInterval(), cfg.Scheduler.ClaimBatchSize, cfg.Scheduler.DependencyTTLHours)
	sweeper.Start()

	recovery := scheduler.NewRecoveryWorker(ruleStore, campaignStore, messageStore, cfg.Scheduler.StaleClaimAge())
	recovery.Start()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.Println("Shutting down")

	sweeper.Stop()
	recovery.Stop()
	pool.Stop()
	log.Println("Worker stopped")
}
