package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"campaign_mailer/internal/mailer"
	"campaign_mailer/internal/store"
	"campaign_mailer/pkg/models"
)

// DrainStats summarizes one drain pass over a campaign
type DrainStats struct {
	Batches   int
	Sent      int
	Failed    int
	Deferred  int
	Completed bool
}

// BatchDrainer processes a campaign batch by batch: claim the next pending
// batch, send to its pending recipients, record outcomes, pause, repeat
// until no batch remains.
type BatchDrainer struct {
	campaigns  store.CampaignStore
	recipients store.RecipientStore
	batches    store.BatchStore
	mailer     mailer.Mailer

	batchSize    int
	batchDelay   time.Duration
	claimTimeout time.Duration
}

func NewBatchDrainer(
	campaigns store.CampaignStore,
	recipients store.RecipientStore,
	batches store.BatchStore,
	m mailer.Mailer,
	batchSize int,
	batchDelay time.Duration,
	claimTimeout time.Duration,
) *BatchDrainer {
	return &BatchDrainer{
		campaigns:    campaigns,
		recipients:   recipients,
		batches:      batches,
		mailer:       m,
		batchSize:    batchSize,
		batchDelay:   batchDelay,
		claimTimeout: claimTimeout,
	}
}

// Drain runs until the campaign has no claimable batch left or the context
// is cancelled. Recipients that could not be attempted stay pending and
// their batch is released for a later run.
func (d *BatchDrainer) Drain(ctx context.Context, campaignID string) (DrainStats, error) {
	stats := DrainStats{}

	// Partition picks up any recipients not yet assigned to a batch. It is
	// a no-op when everything is already partitioned.
	if _, err := d.batches.Partition(campaignID, d.batchSize); err != nil {
		return stats, fmt.Errorf("failed to partition campaign %s: %w", campaignID, err)
	}

	// A batch still processing past the claim timeout was abandoned by a
	// worker that died. Put it back in play before claiming.
	released, err := d.batches.ReleaseStale(campaignID, time.Now().Add(-d.claimTimeout))
	if err != nil {
		return stats, fmt.Errorf("failed to release stale batches: %w", err)
	}
	if released > 0 {
		log.Printf("Campaign %s: released %d stale batches", campaignID, released)
	}

	for {
		campaign, err := d.campaigns.Get(campaignID)
		if errors.Is(err, store.ErrNotFound) {
			log.Printf("Campaign %s disappeared mid-run, skipping", campaignID)
			return stats, nil
		}
		if err != nil {
			return stats, err
		}
		if campaign.Status != models.CampaignStatusActive {
			log.Printf("Campaign %s is %s, stopping drain", campaignID, campaign.Status)
			return stats, nil
		}

		batch, err := d.batches.ClaimNext(campaignID)
		if err != nil {
			return stats, fmt.Errorf("failed to claim next batch: %w", err)
		}
		if batch == nil {
			break
		}
		stats.Batches++

		sent, failed, deferred, err := d.processBatch(campaign, batch)
		stats.Sent += sent
		stats.Failed += failed
		stats.Deferred += deferred
		if err != nil {
			if failErr := d.batches.Fail(batch.ID); failErr != nil {
				log.Printf("Error failing batch %d: %v", batch.ID, failErr)
			}
			return stats, err
		}

		log.Printf("Campaign %s batch %d: %d sent, %d failed, %d deferred",
			campaignID, batch.BatchNumber, sent, failed, deferred)

		if deferred > 0 {
			// Sending is off or the provider is struggling; the released
			// batch would just be reclaimed. Leave the campaign for the
			// next run.
			return stats, nil
		}

		// Throttle between batches so the SMTP provider is not hammered.
		select {
		case <-ctx.Done():
			return stats, ctx.Err()
		case <-time.After(d.batchDelay):
		}
	}

	unfinished, err := d.batches.CountUnfinished(campaignID)
	if err != nil {
		return stats, err
	}
	if unfinished == 0 {
		if err := d.campaigns.MarkSent(campaignID, time.Now()); err != nil {
			return stats, err
		}
		stats.Completed = true
		log.Printf("Campaign %s fully sent (%d sent, %d failed)", campaignID, stats.Sent, stats.Failed)
	}

	return stats, nil
}

func (d *BatchDrainer) processBatch(campaign *models.Campaign, batch *models.Batch) (sent, failed, deferred int, err error) {
	pending, err := d.recipients.ListPendingByBatch(batch.ID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to list batch %d recipients: %w", batch.ID, err)
	}

	for _, r := range pending {
		sendErr := d.mailer.Send(&mailer.OutboundEmail{
			To:         r.Email,
			Subject:    campaign.Subject,
			HTMLBody:   campaign.HTMLBody,
			TextBody:   campaign.TextBody,
			TrackingID: r.TrackingID,
		})

		switch {
		case sendErr == nil:
			if err := d.recipients.MarkSent(r.ID, time.Now()); err != nil {
				log.Printf("Error marking recipient %d sent: %v", r.ID, err)
			}
			sent++
		case errors.Is(sendErr, mailer.ErrDisabled), mailer.IsTransient(sendErr):
			// Nothing useful can happen right now: sending is off or the
			// provider is telling us to back off. Leave the rest of the
			// batch pending for the next run rather than burning attempts.
			log.Printf("Deferring batch %d after error sending to %s: %v", batch.ID, r.Email, sendErr)
			deferred += len(pending) - sent - failed
			if err := d.batches.Release(batch.ID); err != nil {
				log.Printf("Error releasing batch %d: %v", batch.ID, err)
			}
			if sent > 0 || failed > 0 {
				if err := d.campaigns.IncrementCounters(campaign.ID, sent, failed); err != nil {
					log.Printf("Error updating campaign counters: %v", err)
				}
			}
			return sent, failed, deferred, nil
		default:
			log.Printf("Error sending to %s: %v", r.Email, sendErr)
			if err := d.recipients.MarkFailed(r.ID, sendErr.Error()); err != nil {
				log.Printf("Error marking recipient %d failed: %v", r.ID, err)
			}
			failed++
		}
	}

	if err := d.campaigns.IncrementCounters(campaign.ID, sent, failed); err != nil {
		log.Printf("Error updating campaign counters: %v", err)
	}
	if err := d.batches.Complete(batch.ID); err != nil {
		return sent, failed, deferred, fmt.Errorf("failed to complete batch %d: %w", batch.ID, err)
	}
	return sent, failed, deferred, nil
}
