package worker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"campaign_mailer/internal/store"
)

// SchedulerStats summarizes the most recent scheduler pass
type SchedulerStats struct {
	Promoted        int64
	ActiveCampaigns int
	Sent            int
	Failed          int
	LastRunAt       time.Time
}

// Scheduler promotes due campaigns to active and drains every active
// campaign through the BatchDrainer on a fixed interval.
type Scheduler struct {
	campaigns store.CampaignStore
	drainer   *BatchDrainer
	interval  time.Duration

	mu         sync.Mutex
	running    bool
	processing bool
	stats      SchedulerStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(campaigns store.CampaignStore, drainer *BatchDrainer, interval time.Duration) *Scheduler {
	return &Scheduler{
		campaigns: campaigns,
		drainer:   drainer,
		interval:  interval,
	}
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	log.Printf("Campaign scheduler starting with interval %v", s.interval)

	s.wg.Add(1)
	go s.loop()
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	log.Println("Campaign scheduler stopped")
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.RunOnce(s.ctx); err != nil {
				log.Printf("Scheduler run error: %v", err)
			}
		}
	}
}

// RunOnce performs one scheduler pass: promote everything due, then drain
// each active campaign. A failure in one campaign never blocks the others.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.mu.Lock()
	if s.processing {
		s.mu.Unlock()
		return fmt.Errorf("scheduler pass already in progress")
	}
	s.processing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()
	}()

	stats := SchedulerStats{LastRunAt: time.Now()}

	promoted, err := s.campaigns.PromoteDue(time.Now())
	if err != nil {
		return fmt.Errorf("failed to promote due campaigns: %w", err)
	}
	stats.Promoted = promoted
	if promoted > 0 {
		log.Printf("Promoted %d scheduled campaigns to active", promoted)
	}

	active, err := s.campaigns.ListActive()
	if err != nil {
		return fmt.Errorf("failed to list active campaigns: %w", err)
	}
	if len(active) == 0 {
		log.Println("No active campaigns")
		s.setStats(stats)
		return nil
	}
	stats.ActiveCampaigns = len(active)

	for _, campaign := range active {
		drained, err := s.drainer.Drain(ctx, campaign.ID)
		stats.Sent += drained.Sent
		stats.Failed += drained.Failed
		if err != nil {
			if ctx.Err() != nil {
				s.setStats(stats)
				return ctx.Err()
			}
			log.Printf("Error draining campaign %s: %v", campaign.ID, err)
			continue
		}
	}

	s.setStats(stats)
	return nil
}

func (s *Scheduler) setStats(stats SchedulerStats) {
	s.mu.Lock()
	s.stats = stats
	s.mu.Unlock()
}

// GetStatus reports whether a pass is in flight and the last pass stats.
func (s *Scheduler) GetStatus() (bool, SchedulerStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing, s.stats
}
