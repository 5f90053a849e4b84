// Package scheduler runs the periodic sweep that moves due work through the
// system: claiming due executions, campaigns, recipients and one-off
// messages, promoting pending executions, and enforcing dependency TTLs.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/relaycrm/orchestrator/internal/campaign"
	"github.com/relaycrm/orchestrator/internal/rules"
	"github.com/relaycrm/orchestrator/internal/sender"
	"github.com/relaycrm/orchestrator/internal/trigger"
)

// Sweeper is the orchestrator's main loop. One tick claims every category of
// due work and hands the claimed jobs to the sender pool.
type Sweeper struct {
	rules     *rules.Store
	campaigns *campaign.Store
	messages  *MessageStore
	evaluator *trigger.Evaluator
	executor  *sender.Executor
	pool      *sender.Pool

	workerID  string
	interval  time.Duration
	batchSize int
	ttlHours  int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	sweepsRun      int64
	jobsDispatched int64
}

// NewSweeper creates a sweeper.
func NewSweeper(ruleStore *rules.Store, campaignStore *campaign.Store, messageStore *MessageStore,
	evaluator *trigger.Evaluator, executor *sender.Executor, pool *sender.Pool,
	interval time.Duration, batchSize, ttlHours int) *Sweeper {
	hostname, _ := os.Hostname()
	return &Sweeper{
		rules:     ruleStore,
		campaigns: campaignStore,
		messages:  messageStore,
		evaluator: evaluator,
		executor:  executor,
		pool:      pool,
		workerID:  fmt.Sprintf("%s-%d-%s", hostname, os.Getpid(), uuid.New().String()[:8]),
		interval:  interval,
		batchSize: batchSize,
		ttlHours:  ttlHours,
	}
}

// Start launches the sweep loop in the background. An immediate first sweep
// runs before the ticker takes over.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go s.run()
	log.Printf("[Sweeper] Started (worker_id=%s, interval=%s, batch=%d)", s.workerID, s.interval, s.batchSize)
}

// Stop cancels the loop and waits for the in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Printf("[Sweeper] Stopped (sweeps=%d, dispatched=%d)",
		atomic.LoadInt64(&s.sweepsRun), atomic.LoadInt64(&s.jobsDispatched))
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	s.sweep()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep runs one full pass. Order matters: expiries and promotions first so
// newly eligible work can be claimed in the same tick.
func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Minute)
	defer cancel()
	atomic.AddInt64(&s.sweepsRun, 1)

	if expired, err := s.rules.ExpirePendingExecutions(ctx, s.ttlHours); err != nil {
		log.Printf("[Sweeper] Expire pending: %v", err)
	} else if expired > 0 {
		log.Printf("[Sweeper] Expired %d pending executions past dependency TTL", expired)
	}

	if promoted, err := s.evaluator.PromotePending(ctx, s.batchSize); err != nil {
		log.Printf("[Sweeper] Promote pending: %v", err)
	} else if promoted > 0 {
		log.Printf("[Sweeper] Promoted %d pending executions", promoted)
	}

	if started, err := s.campaigns.ClaimDueCampaigns(ctx, s.batchSize); err != nil {
		log.Printf("[Sweeper] Claim campaigns: %v", err)
	} else if len(started) > 0 {
		log.Printf("[Sweeper] Started %d due campaigns", len(started))
	}

	s.dispatchExecutions(ctx)
	s.dispatchRecipients(ctx)
	s.dispatchMessages(ctx)
}

func (s *Sweeper) dispatchExecutions(ctx context.Context) {
	jobs, err := s.rules.ClaimDueExecutions(ctx, s.workerID, s.batchSize)
	if err != nil {
		log.Printf("[Sweeper] Claim executions: %v", err)
		return
	}
	for _, job := range jobs {
		job := job
		if !s.pool.SubmitContext(ctx, func(ctx context.Context) {
			s.executor.AttemptExecution(ctx, job)
		}) {
			log.Printf("[Sweeper] Execution dispatch aborted: %v", ctx.Err())
			return
		}
		atomic.AddInt64(&s.jobsDispatched, 1)
	}
	if len(jobs) > 0 {
		log.Printf("[Sweeper] Dispatched %d executions", len(jobs))
	}
}

func (s *Sweeper) dispatchRecipients(ctx context.Context) {
	jobs, err := s.campaigns.ClaimDueRecipients(ctx, s.workerID, s.batchSize)
	if err != nil {
		log.Printf("[Sweeper] Claim recipients: %v", err)
		return
	}
	for _, job := range jobs {
		job := job
		if !s.pool.SubmitContext(ctx, func(ctx context.Context) {
			s.executor.AttemptRecipient(ctx, job)
		}) {
			log.Printf("[Sweeper] Recipient dispatch aborted: %v", ctx.Err())
			return
		}
		atomic.AddInt64(&s.jobsDispatched, 1)
	}
	if len(jobs) > 0 {
		log.Printf("[Sweeper] Dispatched %d campaign recipients", len(jobs))
	}
}

func (s *Sweeper) dispatchMessages(ctx context.Context) {
	msgs, err := s.messages.ClaimDueMessages(ctx, s.workerID, s.batchSize)
	if err != nil {
		log.Printf("[Sweeper] Claim scheduled messages: %v", err)
		return
	}
	for _, m := range msgs {
		m := m
		if !s.pool.SubmitContext(ctx, func(ctx context.Context) {
			s.executor.AttemptScheduledMessage(ctx, m)
		}) {
			log.Printf("[Sweeper] Message dispatch aborted: %v", ctx.Err())
			return
		}
		atomic.AddInt64(&s.jobsDispatched, 1)
	}
	if len(msgs) > 0 {
		log.Printf("[Sweeper] Dispatched %d scheduled messages", len(msgs))
	}
}
