package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"campaign_mailer/internal/config"
	"campaign_mailer/internal/mailer"
	"campaign_mailer/internal/store"
)

// SendDetail records the outcome for one queue item in a processing run
type SendDetail struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ProcessStats summarizes one queue processing run
type ProcessStats struct {
	Processed       int          `json:"processed"`
	Sent            int          `json:"sent"`
	Failed          int          `json:"failed"`
	RateLimited     int          `json:"rate_limited"`
	Details         []SendDetail `json:"details,omitempty"`
	LastProcessedAt time.Time    `json:"last_processed_at"`
}

// QueueProcessor drains the generic outbound queue with a bounded item
// count per run and owns the periodic retry and cleanup sweeps. Those
// sweeps are gated on persisted last-run timestamps, not wall-clock minute
// matching, so a late tick delays them instead of skipping them.
type QueueProcessor struct {
	queue    store.QueueStore
	jobState store.JobStateStore
	mailer   mailer.Mailer
	limiter  *RateLimiter
	cfg      config.WorkerConfig

	mu         sync.Mutex
	running    bool
	processing bool
	lastRun    time.Time
	stats      ProcessStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

func NewQueueProcessor(
	q store.QueueStore,
	jobState store.JobStateStore,
	m mailer.Mailer,
	cfg config.WorkerConfig,
) *QueueProcessor {
	return &QueueProcessor{
		queue:    q,
		jobState: jobState,
		mailer:   m,
		limiter:  NewRateLimiter(cfg.DailySendLimit),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (p *QueueProcessor) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("queue processor already running")
	}
	p.running = true
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.mu.Unlock()

	log.Printf("Queue processor starting with interval %v", p.cfg.QueueInterval)

	p.wg.Add(1)
	go p.loop()
	return nil
}

func (p *QueueProcessor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	log.Println("Queue processor stopped")
}

func (p *QueueProcessor) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.QueueInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.Process(); err != nil {
				log.Printf("Queue processing error: %v", err)
			}
		}
	}
}

// Process runs one full pass: drain up to the configured item count, then
// run the retry and cleanup sweeps if they are due.
func (p *QueueProcessor) Process() error {
	p.mu.Lock()
	if p.processing {
		p.mu.Unlock()
		return fmt.Errorf("queue processing already in progress")
	}
	p.processing = true
	p.lastRun = p.now()
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.processing = false
		p.mu.Unlock()
	}()

	// Items stuck in sending past the claim timeout belong to a processor
	// that never finished. Return them to pending before claiming.
	if n, err := p.queue.ReleaseStale(p.now().Add(-p.cfg.ClaimTimeout)); err != nil {
		log.Printf("Stale claim sweep error: %v", err)
	} else if n > 0 {
		log.Printf("Released %d stale queue items", n)
	}

	stats, err := p.ProcessQueue(p.cfg.QueueMaxItems)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.stats = stats
	p.mu.Unlock()

	if stats.Processed > 0 {
		log.Printf("Queue processing completed: %d processed, %d sent, %d failed, %d rate limited",
			stats.Processed, stats.Sent, stats.Failed, stats.RateLimited)
	}

	if n, err := p.RetryFailed(); err != nil {
		log.Printf("Retry sweep error: %v", err)
	} else if n > 0 {
		log.Printf("Requeued %d failed emails for retry", n)
	}

	if n, err := p.CleanupSent(); err != nil {
		log.Printf("Cleanup sweep error: %v", err)
	} else if n > 0 {
		log.Printf("Purged %d old sent emails", n)
	}

	return nil
}

// ProcessQueue claims and sends at most maxItems pending items.
func (p *QueueProcessor) ProcessQueue(maxItems int) (ProcessStats, error) {
	stats := ProcessStats{LastProcessedAt: p.now()}

	items, err := p.queue.Claim(maxItems)
	if err != nil {
		return stats, fmt.Errorf("failed to claim queue items: %w", err)
	}

	for _, item := range items {
		stats.Processed++

		if !p.limiter.Allow() {
			stats.RateLimited++
			if err := p.queue.Release(item.ID); err != nil {
				log.Printf("Error releasing rate-limited item %s: %v", item.ID, err)
			}
			stats.Details = append(stats.Details, SendDetail{
				ID: item.ID, Email: item.RecipientEmail, Status: "deferred", Error: "daily send limit reached",
			})
			continue
		}

		sendErr := p.mailer.Send(&mailer.OutboundEmail{
			To:       item.RecipientEmail,
			Subject:  item.Subject,
			HTMLBody: item.HTMLBody,
			TextBody: item.TextBody,
		})

		switch {
		case sendErr == nil:
			if err := p.queue.MarkSent(item.ID, p.now()); err != nil {
				log.Printf("Error marking item %s sent: %v", item.ID, err)
			}
			stats.Sent++
			stats.Details = append(stats.Details, SendDetail{
				ID: item.ID, Email: item.RecipientEmail, Status: "sent",
			})
		case errors.Is(sendErr, mailer.ErrDisabled):
			// Not an attempt; put it back untouched.
			if err := p.queue.Release(item.ID); err != nil {
				log.Printf("Error releasing item %s: %v", item.ID, err)
			}
			stats.Details = append(stats.Details, SendDetail{
				ID: item.ID, Email: item.RecipientEmail, Status: "deferred", Error: sendErr.Error(),
			})
		default:
			log.Printf("Error sending queued email %s to %s: %v", item.ID, item.RecipientEmail, sendErr)
			if err := p.queue.MarkFailed(item.ID, sendErr.Error(), mailer.IsTransient(sendErr)); err != nil {
				log.Printf("Error marking item %s failed: %v", item.ID, err)
			}
			stats.Failed++
			stats.Details = append(stats.Details, SendDetail{
				ID: item.ID, Email: item.RecipientEmail, Status: "failed", Error: sendErr.Error(),
			})
		}
	}

	return stats, nil
}

// RetryFailed moves eligible failed items back to pending, at most once
// per configured retry interval.
func (p *QueueProcessor) RetryFailed() (int64, error) {
	due, err := p.jobDue(store.JobRetryFailed, p.cfg.RetryInterval)
	if err != nil || !due {
		return 0, err
	}

	n, err := p.queue.RetryFailed(p.cfg.MaxAttempts)
	if err != nil {
		return 0, err
	}
	return n, p.jobState.SetLastRun(store.JobRetryFailed, p.now())
}

// CleanupSent purges sent items older than the retention window, at most
// once per configured cleanup interval.
func (p *QueueProcessor) CleanupSent() (int64, error) {
	due, err := p.jobDue(store.JobCleanupSent, p.cfg.CleanupInterval)
	if err != nil || !due {
		return 0, err
	}

	cutoff := p.now().AddDate(0, 0, -p.cfg.CleanupRetentionDays)
	n, err := p.queue.DeleteSentBefore(cutoff)
	if err != nil {
		return 0, err
	}
	return n, p.jobState.SetLastRun(store.JobCleanupSent, p.now())
}

func (p *QueueProcessor) jobDue(job string, interval time.Duration) (bool, error) {
	lastRun, err := p.jobState.LastRun(job)
	if err != nil {
		return false, err
	}
	return p.now().Sub(lastRun) >= interval, nil
}

// GetStatus reports whether a run is in flight, when the last run started,
// and its stats.
func (p *QueueProcessor) GetStatus() (bool, time.Time, ProcessStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processing, p.lastRun, p.stats
}

// GetRateLimitStatus exposes the daily limiter state for the stats API.
func (p *QueueProcessor) GetRateLimitStatus() (sent int, remaining int, resetTime time.Time) {
	return p.limiter.GetStatus()
}
