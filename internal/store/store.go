package store

import (
	"errors"
	"time"

	"campaign_mailer/pkg/models"
)

// ErrNotFound is returned when a looked-up row does not exist. Workers log
// and skip on it rather than aborting the run.
var ErrNotFound = errors.New("not found")

// CampaignStore persists campaign metadata and aggregate counters
type CampaignStore interface {
	Create(c *models.Campaign) error
	Get(id string) (*models.Campaign, error)
	List(status string, limit, offset int) ([]*models.Campaign, error)

	// Schedule stamps the send time on a draft or scheduled campaign and
	// marks it scheduled. ErrNotFound once the campaign is past scheduling.
	Schedule(id string, at time.Time) error
	// UpdateStatus is the guarded lifecycle flip for operator actions:
	// active sends a draft or scheduled campaign now; scheduled requires a
	// send time already set. Workers own the sent transition via MarkSent.
	UpdateStatus(id string, status models.CampaignStatus) error

	// PromoteDue atomically flips every scheduled campaign whose
	// scheduled_at has passed to active and returns how many it promoted.
	// Running it twice in a row promotes each campaign exactly once.
	PromoteDue(now time.Time) (int64, error)
	ListActive() ([]*models.Campaign, error)

	// MarkSent finalizes an active campaign. A no-op for any other status.
	MarkSent(id string, at time.Time) error
	Cancel(id string) error
	Delete(id string) error

	SetTotalRecipients(id string, total int) error
	IncrementCounters(id string, sent, failed int) error
	IncrementOpened(id string) error
	IncrementClicked(id string) error
	Stats(id string) (*models.CampaignStats, error)
}

// RecipientStore persists per-recipient delivery state
type RecipientStore interface {
	// AddForCampaign inserts pending recipients with fresh tracking IDs,
	// skipping syntactically invalid addresses. Returns how many it added.
	AddForCampaign(campaignID string, emails []string) (int, error)
	ListPendingByBatch(batchID int64) ([]*models.Recipient, error)
	CountByStatus(campaignID string) (map[models.RecipientStatus]int, error)

	MarkSent(id int64, at time.Time) error
	MarkFailed(id int64, sendErr string) error
	// MarkBounced flags the recipient behind a tracking ID as bounced,
	// fed by provider bounce notifications after the send.
	MarkBounced(trackingID string) error

	// RecordOpen stamps opened_at for the recipient with this tracking ID.
	// first is true only the first time, so campaign counters are bumped
	// exactly once per recipient.
	RecordOpen(trackingID string, at time.Time) (campaignID string, first bool, err error)
	RecordClick(trackingID string, at time.Time) (campaignID string, first bool, err error)
}

// BatchStore partitions a campaign's recipients and hands out batches
type BatchStore interface {
	// Partition splits every unassigned recipient of the campaign into
	// consecutively numbered pending batches of at most batchSize. Every
	// recipient lands in exactly one batch. Returns the batch count.
	Partition(campaignID string, batchSize int) (int, error)

	// ClaimNext atomically claims the lowest-numbered pending batch for
	// processing. Exactly one caller wins a given batch; (nil, nil) when
	// no pending batch remains.
	ClaimNext(campaignID string) (*models.Batch, error)

	Complete(id int64) error
	Fail(id int64) error
	// Release puts a processing batch back to pending so a later run can
	// finish recipients that could not be attempted.
	Release(id int64) error
	// ReleaseStale returns processing batches claimed before olderThan to
	// pending, recovering claims an interrupted worker never finished.
	ReleaseStale(campaignID string, olderThan time.Time) (int64, error)

	// CountUnfinished counts batches still pending or processing.
	CountUnfinished(campaignID string) (int, error)
}

// QueueStore persists the generic outbound queue, independent of campaigns
type QueueStore interface {
	Enqueue(item *models.QueueItem) error
	Get(id string) (*models.QueueItem, error)

	// Claim atomically moves up to max pending items to sending and
	// returns them, oldest first.
	Claim(max int) ([]*models.QueueItem, error)

	MarkSent(id string, at time.Time) error
	// MarkFailed records the error and increments the attempt counter.
	// Items failed with retryable=false are permanent rejections and stay
	// out of retry sweeps.
	MarkFailed(id string, sendErr string, retryable bool) error
	// Release puts a claimed item back to pending without counting an
	// attempt, for items that could not be tried at all.
	Release(id string) error
	// ReleaseStale returns sending items claimed before olderThan to
	// pending, recovering claims an interrupted worker never finished.
	ReleaseStale(olderThan time.Time) (int64, error)

	// RetryFailed moves retryable failed items with attempts below the
	// cap back to pending. Returns how many became eligible again.
	RetryFailed(maxAttempts int) (int64, error)
	// DeleteSentBefore purges sent items older than the cutoff.
	DeleteSentBefore(cutoff time.Time) (int64, error)

	Stats() (*models.QueueStats, error)
}

// SettingsStore holds the singleton outbound-mail configuration
type SettingsStore interface {
	GetAll() (map[string]string, error)
	Update(key, value string) error
	SMTPConfig() (*models.SMTPConfig, error)
}

// JobStateStore persists last-run timestamps for periodic jobs, replacing
// wall-clock minute matching for the hourly/daily sweeps.
type JobStateStore interface {
	// LastRun returns the zero time when the job has never run.
	LastRun(job string) (time.Time, error)
	SetLastRun(job string, at time.Time) error
}
