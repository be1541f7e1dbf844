package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"campaign_mailer/pkg/models"

	"github.com/google/uuid"
)

// memoryData is the shared backing state of the in-memory stores. One
// mutex guards all tables so multi-table operations stay consistent.
type memoryData struct {
	mu sync.RWMutex

	campaigns  map[string]*models.Campaign
	recipients map[int64]*models.Recipient
	byTracking map[string]int64
	batches    map[int64]*models.Batch
	queue      map[string]*models.QueueItem
	queueOrder []string
	claimedAt  map[string]time.Time
	settings   map[string]string
	jobRuns    map[string]time.Time

	nextRecipientID int64
	nextBatchID     int64
}

// NewMemoryStores builds a full set of in-memory stores over shared state.
// Used in tests and as the fallback when MySQL is unreachable.
func NewMemoryStores() *Stores {
	d := &memoryData{
		campaigns:  make(map[string]*models.Campaign),
		recipients: make(map[int64]*models.Recipient),
		byTracking: make(map[string]int64),
		batches:    make(map[int64]*models.Batch),
		queue:      make(map[string]*models.QueueItem),
		claimedAt:  make(map[string]time.Time),
		settings:   make(map[string]string),
		jobRuns:    make(map[string]time.Time),
	}
	return &Stores{
		Campaigns:  &memoryCampaignStore{d: d},
		Recipients: &memoryRecipientStore{d: d},
		Batches:    &memoryBatchStore{d: d},
		Queue:      &memoryQueueStore{d: d},
		Settings:   &memorySettingsStore{d: d},
		JobState:   &memoryJobStateStore{d: d},
	}
}

// Reads hand out copies so callers never share a pointer with store
// internals. Mutation goes through store methods only.

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneCampaign(c *models.Campaign) *models.Campaign {
	cp := *c
	cp.ScheduledAt = cloneTime(c.ScheduledAt)
	cp.SentAt = cloneTime(c.SentAt)
	return &cp
}

func cloneRecipient(r *models.Recipient) *models.Recipient {
	cp := *r
	if r.BatchID != nil {
		id := *r.BatchID
		cp.BatchID = &id
	}
	cp.SentAt = cloneTime(r.SentAt)
	cp.OpenedAt = cloneTime(r.OpenedAt)
	cp.ClickedAt = cloneTime(r.ClickedAt)
	cp.LastError = cloneString(r.LastError)
	return &cp
}

func cloneBatch(b *models.Batch) *models.Batch {
	cp := *b
	cp.StartedAt = cloneTime(b.StartedAt)
	cp.CompletedAt = cloneTime(b.CompletedAt)
	return &cp
}

func cloneQueueItem(item *models.QueueItem) *models.QueueItem {
	cp := *item
	cp.LastError = cloneString(item.LastError)
	cp.SentAt = cloneTime(item.SentAt)
	return &cp
}

// --- campaigns ---

type memoryCampaignStore struct {
	d *memoryData
}

func (s *memoryCampaignStore) Create(c *models.Campaign) error {
	if err := c.Validate(); err != nil {
		return err
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.CampaignStatusDraft
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	s.d.campaigns[c.ID] = cloneCampaign(c)
	return nil
}

func (s *memoryCampaignStore) Get(id string) (*models.Campaign, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	c, ok := s.d.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCampaign(c), nil
}

func (s *memoryCampaignStore) List(status string, limit, offset int) ([]*models.Campaign, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	var all []*models.Campaign
	for _, c := range s.d.campaigns {
		if status == "" || status == "all" || c.Status.String() == status {
			all = append(all, cloneCampaign(c))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset > len(all) {
		return []*models.Campaign{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *memoryCampaignStore) Schedule(id string, at time.Time) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	c, ok := s.d.campaigns[id]
	if !ok || (c.Status != models.CampaignStatusDraft && c.Status != models.CampaignStatusScheduled) {
		return ErrNotFound
	}
	c.Status = models.CampaignStatusScheduled
	c.ScheduledAt = &at
	c.UpdatedAt = time.Now()
	return nil
}

func (s *memoryCampaignStore) UpdateStatus(id string, status models.CampaignStatus) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	c, ok := s.d.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	switch status {
	case models.CampaignStatusActive:
		if c.Status != models.CampaignStatusDraft && c.Status != models.CampaignStatusScheduled {
			return ErrNotFound
		}
	case models.CampaignStatusScheduled:
		if c.Status != models.CampaignStatusDraft || c.ScheduledAt == nil {
			return ErrNotFound
		}
	default:
		return fmt.Errorf("cannot update campaign to status %s", status)
	}
	c.Status = status
	c.UpdatedAt = time.Now()
	return nil
}

func (s *memoryCampaignStore) PromoteDue(now time.Time) (int64, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	var promoted int64
	for _, c := range s.d.campaigns {
		if c.Status == models.CampaignStatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			c.Status = models.CampaignStatusActive
			c.UpdatedAt = now
			promoted++
		}
	}
	return promoted, nil
}

func (s *memoryCampaignStore) ListActive() ([]*models.Campaign, error) {
	return s.List(models.CampaignStatusActive.String(), 1000, 0)
}

func (s *memoryCampaignStore) MarkSent(id string, at time.Time) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	c, ok := s.d.campaigns[id]
	if !ok || c.Status != models.CampaignStatusActive {
		return nil
	}
	c.Status = models.CampaignStatusSent
	c.SentAt = &at
	c.UpdatedAt = at
	return nil
}

func (s *memoryCampaignStore) Cancel(id string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	c, ok := s.d.campaigns[id]
	if !ok || c.Status.Terminal() {
		return ErrNotFound
	}
	c.Status = models.CampaignStatusCancelled
	c.UpdatedAt = time.Now()
	return nil
}

func (s *memoryCampaignStore) Delete(id string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	delete(s.d.campaigns, id)
	for rid, r := range s.d.recipients {
		if r.CampaignID == id {
			delete(s.d.byTracking, r.TrackingID)
			delete(s.d.recipients, rid)
		}
	}
	for bid, b := range s.d.batches {
		if b.CampaignID == id {
			delete(s.d.batches, bid)
		}
	}
	return nil
}

func (s *memoryCampaignStore) SetTotalRecipients(id string, total int) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	c, ok := s.d.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	c.TotalRecipients = total
	return nil
}

func (s *memoryCampaignStore) IncrementCounters(id string, sent, failed int) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	c, ok := s.d.campaigns[id]
	if !ok {
		return ErrNotFound
	}
	c.SentCount += sent
	c.FailedCount += failed
	return nil
}

func (s *memoryCampaignStore) IncrementOpened(id string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	if c, ok := s.d.campaigns[id]; ok {
		c.OpenedCount++
	}
	return nil
}

func (s *memoryCampaignStore) IncrementClicked(id string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	if c, ok := s.d.campaigns[id]; ok {
		c.ClickedCount++
	}
	return nil
}

func (s *memoryCampaignStore) Stats(id string) (*models.CampaignStats, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	c, ok := s.d.campaigns[id]
	if !ok {
		return nil, ErrNotFound
	}

	stats := &models.CampaignStats{
		CampaignID:      id,
		TotalRecipients: c.TotalRecipients,
		Opened:          c.OpenedCount,
		Clicked:         c.ClickedCount,
	}
	for _, r := range s.d.recipients {
		if r.CampaignID != id {
			continue
		}
		switch r.Status {
		case models.RecipientStatusPending:
			stats.Pending++
		case models.RecipientStatusSent:
			stats.Sent++
		case models.RecipientStatusFailed:
			stats.Failed++
		case models.RecipientStatusBounced:
			stats.Bounced++
		}
	}
	stats.ComputeRates()
	return stats, nil
}

// --- recipients ---

type memoryRecipientStore struct {
	d *memoryData
}

func (s *memoryRecipientStore) AddForCampaign(campaignID string, emails []string) (int, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	added := 0
	for _, email := range emails {
		if !models.ValidEmail(email) {
			continue
		}
		s.d.nextRecipientID++
		r := &models.Recipient{
			ID:         s.d.nextRecipientID,
			CampaignID: campaignID,
			Email:      email,
			Status:     models.RecipientStatusPending,
			TrackingID: uuid.New().String(),
			CreatedAt:  time.Now(),
		}
		s.d.recipients[r.ID] = r
		s.d.byTracking[r.TrackingID] = r.ID
		added++
	}
	return added, nil
}

func (s *memoryRecipientStore) ListPendingByBatch(batchID int64) ([]*models.Recipient, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	var result []*models.Recipient
	for _, r := range s.d.recipients {
		if r.BatchID != nil && *r.BatchID == batchID && r.Status == models.RecipientStatusPending {
			result = append(result, cloneRecipient(r))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *memoryRecipientStore) CountByStatus(campaignID string) (map[models.RecipientStatus]int, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	counts := make(map[models.RecipientStatus]int)
	for _, r := range s.d.recipients {
		if r.CampaignID == campaignID {
			counts[r.Status]++
		}
	}
	return counts, nil
}

func (s *memoryRecipientStore) MarkSent(id int64, at time.Time) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	r, ok := s.d.recipients[id]
	if !ok {
		return fmt.Errorf("recipient %d %w", id, ErrNotFound)
	}
	if r.Status != models.RecipientStatusPending {
		return nil
	}
	r.Status = models.RecipientStatusSent
	r.SentAt = &at
	r.LastError = nil
	return nil
}

func (s *memoryRecipientStore) MarkFailed(id int64, sendErr string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	r, ok := s.d.recipients[id]
	if !ok {
		return fmt.Errorf("recipient %d %w", id, ErrNotFound)
	}
	if r.Status != models.RecipientStatusPending {
		return nil
	}
	r.Status = models.RecipientStatusFailed
	r.LastError = &sendErr
	return nil
}

func (s *memoryRecipientStore) MarkBounced(trackingID string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	r, err := s.byTrackingLocked(trackingID)
	if err != nil {
		return err
	}
	r.Status = models.RecipientStatusBounced
	return nil
}

func (s *memoryRecipientStore) RecordOpen(trackingID string, at time.Time) (string, bool, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	r, err := s.byTrackingLocked(trackingID)
	if err != nil {
		return "", false, err
	}
	if r.OpenedAt != nil {
		return r.CampaignID, false, nil
	}
	r.OpenedAt = &at
	return r.CampaignID, true, nil
}

func (s *memoryRecipientStore) RecordClick(trackingID string, at time.Time) (string, bool, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	r, err := s.byTrackingLocked(trackingID)
	if err != nil {
		return "", false, err
	}
	if r.ClickedAt != nil {
		return r.CampaignID, false, nil
	}
	r.ClickedAt = &at
	return r.CampaignID, true, nil
}

func (s *memoryRecipientStore) byTrackingLocked(trackingID string) (*models.Recipient, error) {
	id, ok := s.d.byTracking[trackingID]
	if !ok {
		return nil, ErrNotFound
	}
	r, ok := s.d.recipients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// --- batches ---

type memoryBatchStore struct {
	d *memoryData
}

func (s *memoryBatchStore) Partition(campaignID string, batchSize int) (int, error) {
	if batchSize < 1 {
		return 0, fmt.Errorf("invalid batch size: %d", batchSize)
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	var unassigned []*models.Recipient
	for _, r := range s.d.recipients {
		if r.CampaignID == campaignID && r.BatchID == nil {
			unassigned = append(unassigned, r)
		}
	}
	sort.Slice(unassigned, func(i, j int) bool { return unassigned[i].ID < unassigned[j].ID })

	nextNumber := 0
	for _, b := range s.d.batches {
		if b.CampaignID == campaignID && b.BatchNumber > nextNumber {
			nextNumber = b.BatchNumber
		}
	}

	created := 0
	for start := 0; start < len(unassigned); start += batchSize {
		end := start + batchSize
		if end > len(unassigned) {
			end = len(unassigned)
		}
		nextNumber++
		s.d.nextBatchID++
		b := &models.Batch{
			ID:          s.d.nextBatchID,
			CampaignID:  campaignID,
			BatchNumber: nextNumber,
			Status:      models.BatchStatusPending,
			CreatedAt:   time.Now(),
		}
		s.d.batches[b.ID] = b
		for _, r := range unassigned[start:end] {
			id := b.ID
			r.BatchID = &id
		}
		created++
	}
	return created, nil
}

func (s *memoryBatchStore) ClaimNext(campaignID string) (*models.Batch, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	var next *models.Batch
	for _, b := range s.d.batches {
		if b.CampaignID != campaignID || b.Status != models.BatchStatusPending {
			continue
		}
		if next == nil || b.BatchNumber < next.BatchNumber {
			next = b
		}
	}
	if next == nil {
		return nil, nil
	}
	now := time.Now()
	next.Status = models.BatchStatusProcessing
	next.StartedAt = &now
	return cloneBatch(next), nil
}

func (s *memoryBatchStore) Complete(id int64) error {
	return s.setStatus(id, models.BatchStatusCompleted)
}

func (s *memoryBatchStore) Fail(id int64) error {
	return s.setStatus(id, models.BatchStatusFailed)
}

func (s *memoryBatchStore) Release(id int64) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	b, ok := s.d.batches[id]
	if !ok {
		return fmt.Errorf("batch %d %w", id, ErrNotFound)
	}
	if b.Status == models.BatchStatusProcessing {
		b.Status = models.BatchStatusPending
		b.StartedAt = nil
	}
	return nil
}

func (s *memoryBatchStore) ReleaseStale(campaignID string, olderThan time.Time) (int64, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	var released int64
	for _, b := range s.d.batches {
		if b.CampaignID != campaignID || b.Status != models.BatchStatusProcessing {
			continue
		}
		if b.StartedAt != nil && b.StartedAt.Before(olderThan) {
			b.Status = models.BatchStatusPending
			b.StartedAt = nil
			released++
		}
	}
	return released, nil
}

func (s *memoryBatchStore) setStatus(id int64, status models.BatchStatus) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	b, ok := s.d.batches[id]
	if !ok {
		return fmt.Errorf("batch %d %w", id, ErrNotFound)
	}
	now := time.Now()
	b.Status = status
	b.CompletedAt = &now
	return nil
}

func (s *memoryBatchStore) CountUnfinished(campaignID string) (int, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	count := 0
	for _, b := range s.d.batches {
		if b.CampaignID == campaignID &&
			(b.Status == models.BatchStatusPending || b.Status == models.BatchStatusProcessing) {
			count++
		}
	}
	return count, nil
}

// --- queue ---

type memoryQueueStore struct {
	d *memoryData
}

func (s *memoryQueueStore) Enqueue(item *models.QueueItem) error {
	if !models.ValidEmail(item.RecipientEmail) {
		return fmt.Errorf("invalid recipient email: %s", item.RecipientEmail)
	}
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = models.QueueStatusPending
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	item.Retryable = true
	s.d.queue[item.ID] = cloneQueueItem(item)
	s.d.queueOrder = append(s.d.queueOrder, item.ID)
	return nil
}

func (s *memoryQueueStore) Get(id string) (*models.QueueItem, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	item, ok := s.d.queue[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneQueueItem(item), nil
}

func (s *memoryQueueStore) Claim(max int) ([]*models.QueueItem, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	var claimed []*models.QueueItem
	for _, id := range s.d.queueOrder {
		if len(claimed) >= max {
			break
		}
		item, ok := s.d.queue[id]
		if !ok || item.Status != models.QueueStatusPending {
			continue
		}
		item.Status = models.QueueStatusSending
		s.d.claimedAt[id] = time.Now()
		claimed = append(claimed, cloneQueueItem(item))
	}
	return claimed, nil
}

func (s *memoryQueueStore) MarkSent(id string, at time.Time) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	item, ok := s.d.queue[id]
	if !ok {
		return fmt.Errorf("queue item %s %w", id, ErrNotFound)
	}
	item.Status = models.QueueStatusSent
	item.SentAt = &at
	item.Attempts++
	item.LastError = nil
	delete(s.d.claimedAt, id)
	return nil
}

func (s *memoryQueueStore) MarkFailed(id string, sendErr string, retryable bool) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	item, ok := s.d.queue[id]
	if !ok {
		return fmt.Errorf("queue item %s %w", id, ErrNotFound)
	}
	item.Status = models.QueueStatusFailed
	item.Attempts++
	item.LastError = &sendErr
	item.Retryable = retryable
	delete(s.d.claimedAt, id)
	return nil
}

func (s *memoryQueueStore) Release(id string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	item, ok := s.d.queue[id]
	if !ok {
		return fmt.Errorf("queue item %s %w", id, ErrNotFound)
	}
	if item.Status == models.QueueStatusSending {
		item.Status = models.QueueStatusPending
		delete(s.d.claimedAt, id)
	}
	return nil
}

func (s *memoryQueueStore) ReleaseStale(olderThan time.Time) (int64, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	var released int64
	for id, item := range s.d.queue {
		if item.Status != models.QueueStatusSending {
			continue
		}
		if claimed, ok := s.d.claimedAt[id]; ok && claimed.Before(olderThan) {
			item.Status = models.QueueStatusPending
			delete(s.d.claimedAt, id)
			released++
		}
	}
	return released, nil
}

func (s *memoryQueueStore) RetryFailed(maxAttempts int) (int64, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	var retried int64
	for _, item := range s.d.queue {
		if item.Status == models.QueueStatusFailed && item.Retryable && item.Attempts < maxAttempts {
			item.Status = models.QueueStatusPending
			retried++
		}
	}
	return retried, nil
}

func (s *memoryQueueStore) DeleteSentBefore(cutoff time.Time) (int64, error) {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	var deleted int64
	var keep []string
	for _, id := range s.d.queueOrder {
		item, ok := s.d.queue[id]
		if !ok {
			continue
		}
		if item.Status == models.QueueStatusSent && item.SentAt != nil && item.SentAt.Before(cutoff) {
			delete(s.d.queue, id)
			deleted++
			continue
		}
		keep = append(keep, id)
	}
	s.d.queueOrder = keep
	return deleted, nil
}

func (s *memoryQueueStore) Stats() (*models.QueueStats, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	stats := &models.QueueStats{}
	for _, item := range s.d.queue {
		switch item.Status {
		case models.QueueStatusPending:
			stats.Pending++
		case models.QueueStatusSending:
			stats.Sending++
		case models.QueueStatusSent:
			stats.Sent++
		case models.QueueStatusFailed:
			stats.Failed++
		}
		stats.Total++
	}
	return stats, nil
}

// --- settings ---

type memorySettingsStore struct {
	d *memoryData
}

func (s *memorySettingsStore) GetAll() (map[string]string, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	settings := make(map[string]string, len(s.d.settings))
	for k, v := range s.d.settings {
		settings[k] = v
	}
	return settings, nil
}

func (s *memorySettingsStore) Update(key, value string) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	s.d.settings[key] = value
	return nil
}

func (s *memorySettingsStore) SMTPConfig() (*models.SMTPConfig, error) {
	settings, err := s.GetAll()
	if err != nil {
		return nil, err
	}
	return models.SMTPConfigFromSettings(settings), nil
}

// --- job state ---

type memoryJobStateStore struct {
	d *memoryData
}

func (s *memoryJobStateStore) LastRun(job string) (time.Time, error) {
	s.d.mu.RLock()
	defer s.d.mu.RUnlock()

	return s.d.jobRuns[job], nil
}

func (s *memoryJobStateStore) SetLastRun(job string, at time.Time) error {
	s.d.mu.Lock()
	defer s.d.mu.Unlock()

	s.d.jobRuns[job] = at
	return nil
}
