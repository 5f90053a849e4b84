package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/relaycrm/orchestrator/internal/campaign"
	"github.com/relaycrm/orchestrator/internal/rules"
)

const defaultRecoveryInterval = 2 * time.Minute

// RecoveryWorker reclaims work stuck in the sending state after a worker
// crash: items under the retry limit go back to the queue, exhausted items
// fail terminally.
type RecoveryWorker struct {
	rules     *rules.Store
	campaigns *campaign.Store
	messages  *MessageStore

	interval time.Duration
	staleAge time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewRecoveryWorker creates a recovery worker.
func NewRecoveryWorker(ruleStore *rules.Store, campaignStore *campaign.Store, messageStore *MessageStore,
	staleAge time.Duration) *RecoveryWorker {
	return &RecoveryWorker{
		rules:     ruleStore,
		campaigns: campaignStore,
		messages:  messageStore,
		interval:  defaultRecoveryInterval,
		staleAge:  staleAge,
	}
}

// Start launches the recovery loop in the background.
func (r *RecoveryWorker) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.run()
	log.Printf("[Recovery] Started (interval=%s, stale_age=%s)", r.interval, r.staleAge)
}

// Stop cancels the loop and waits for the in-flight pass to finish.
func (r *RecoveryWorker) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	log.Println("[Recovery] Stopped")
}

func (r *RecoveryWorker) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.recover()
		}
	}
}

func (r *RecoveryWorker) recover() {
	ctx, cancel := context.WithTimeout(r.ctx, 30*time.Second)
	defer cancel()

	if requeued, failed, err := r.rules.RecoverStaleExecutions(ctx, r.staleAge); err != nil {
		log.Printf("[Recovery] Executions: %v", err)
	} else if requeued > 0 || failed > 0 {
		log.Printf("[Recovery] Executions: requeued=%d failed=%d", requeued, failed)
	}

	if requeued, failed, err := r.campaigns.RecoverStaleRecipients(ctx, r.staleAge); err != nil {
		log.Printf("[Recovery] Recipients: %v", err)
	} else if requeued > 0 || failed > 0 {
		log.Printf("[Recovery] Recipients: requeued=%d failed=%d", requeued, failed)
	}

	if requeued, failed, err := r.messages.RecoverStaleMessages(ctx, r.staleAge); err != nil {
		log.Printf("[Recovery] Messages: %v", err)
	} else if requeued > 0 || failed > 0 {
		log.Printf("[Recovery] Messages: requeued=%d failed=%d", requeued, failed)
	}
}
