package store

import (
	"database/sql"
	"fmt"
	"time"

	"campaign_mailer/pkg/models"

	"github.com/google/uuid"
)

type MySQLCampaignStore struct {
	db *sql.DB
}

func NewMySQLCampaignStore(db *sql.DB) *MySQLCampaignStore {
	return &MySQLCampaignStore{db: db}
}

func (s *MySQLCampaignStore) Create(c *models.Campaign) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = models.CampaignStatusDraft
	}

	query := `
		INSERT INTO email_campaigns (
			id, name, subject, html_body, text_body, status,
			scheduled_at, total_recipients, created_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		c.ID,
		c.Name,
		c.Subject,
		c.HTMLBody,
		c.TextBody,
		c.Status,
		c.ScheduledAt,
		c.TotalRecipients,
		c.CreatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

const campaignColumns = `
	id, name, subject, html_body, text_body, status,
	scheduled_at, sent_at, total_recipients, sent_count, failed_count,
	opened_count, clicked_count, created_by, created_at, updated_at
`

func (s *MySQLCampaignStore) scanCampaign(row interface{ Scan(...interface{}) error }) (*models.Campaign, error) {
	c := &models.Campaign{}
	var scheduledAt, sentAt sql.NullTime
	var createdBy sql.NullString

	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.Subject,
		&c.HTMLBody,
		&c.TextBody,
		&c.Status,
		&scheduledAt,
		&sentAt,
		&c.TotalRecipients,
		&c.SentCount,
		&c.FailedCount,
		&c.OpenedCount,
		&c.ClickedCount,
		&createdBy,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if scheduledAt.Valid {
		c.ScheduledAt = &scheduledAt.Time
	}
	if sentAt.Valid {
		c.SentAt = &sentAt.Time
	}
	if createdBy.Valid {
		c.CreatedBy = createdBy.String
	}
	return c, nil
}

func (s *MySQLCampaignStore) Get(id string) (*models.Campaign, error) {
	row := s.db.QueryRow("SELECT "+campaignColumns+" FROM email_campaigns WHERE id = ?", id)
	c, err := s.scanCampaign(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign %s: %w", id, err)
	}
	return c, nil
}

func (s *MySQLCampaignStore) List(status string, limit, offset int) ([]*models.Campaign, error) {
	query := "SELECT " + campaignColumns + " FROM email_campaigns"
	args := []interface{}{}

	if status != "" && status != "all" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		c, err := s.scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

func (s *MySQLCampaignStore) Schedule(id string, at time.Time) error {
	result, err := s.db.Exec(`
		UPDATE email_campaigns
		SET status = ?, scheduled_at = ?, updated_at = NOW()
		WHERE id = ? AND status IN (?, ?)
	`, models.CampaignStatusScheduled, at, id,
		models.CampaignStatusDraft, models.CampaignStatusScheduled)
	if err != nil {
		return fmt.Errorf("failed to schedule campaign %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MySQLCampaignStore) UpdateStatus(id string, status models.CampaignStatus) error {
	var result sql.Result
	var err error

	switch status {
	case models.CampaignStatusActive:
		result, err = s.db.Exec(`
			UPDATE email_campaigns
			SET status = ?, updated_at = NOW()
			WHERE id = ? AND status IN (?, ?)
		`, status, id, models.CampaignStatusDraft, models.CampaignStatusScheduled)
	case models.CampaignStatusScheduled:
		result, err = s.db.Exec(`
			UPDATE email_campaigns
			SET status = ?, updated_at = NOW()
			WHERE id = ? AND status = ? AND scheduled_at IS NOT NULL
		`, status, id, models.CampaignStatusDraft)
	default:
		return fmt.Errorf("cannot update campaign to status %s", status)
	}
	if err != nil {
		return fmt.Errorf("failed to update campaign %s status: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MySQLCampaignStore) PromoteDue(now time.Time) (int64, error) {
	result, err := s.db.Exec(`
		UPDATE email_campaigns
		SET status = ?, updated_at = NOW()
		WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
	`, models.CampaignStatusActive, models.CampaignStatusScheduled, now)
	if err != nil {
		return 0, fmt.Errorf("failed to promote due campaigns: %w", err)
	}
	return result.RowsAffected()
}

func (s *MySQLCampaignStore) ListActive() ([]*models.Campaign, error) {
	return s.List(models.CampaignStatusActive.String(), 1000, 0)
}

func (s *MySQLCampaignStore) MarkSent(id string, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE email_campaigns
		SET status = ?, sent_at = ?, updated_at = NOW()
		WHERE id = ? AND status = ?
	`, models.CampaignStatusSent, at, id, models.CampaignStatusActive)
	if err != nil {
		return fmt.Errorf("failed to mark campaign %s sent: %w", id, err)
	}
	return nil
}

func (s *MySQLCampaignStore) Cancel(id string) error {
	result, err := s.db.Exec(`
		UPDATE email_campaigns
		SET status = ?, updated_at = NOW()
		WHERE id = ? AND status IN (?, ?, ?)
	`, models.CampaignStatusCancelled, id,
		models.CampaignStatusDraft, models.CampaignStatusScheduled, models.CampaignStatusActive)
	if err != nil {
		return fmt.Errorf("failed to cancel campaign %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the campaign; recipients and batches go with it via
// ON DELETE CASCADE.
func (s *MySQLCampaignStore) Delete(id string) error {
	_, err := s.db.Exec("DELETE FROM email_campaigns WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign %s: %w", id, err)
	}
	return nil
}

func (s *MySQLCampaignStore) SetTotalRecipients(id string, total int) error {
	_, err := s.db.Exec(
		"UPDATE email_campaigns SET total_recipients = ?, updated_at = NOW() WHERE id = ?",
		total, id)
	return err
}

func (s *MySQLCampaignStore) IncrementCounters(id string, sent, failed int) error {
	_, err := s.db.Exec(`
		UPDATE email_campaigns
		SET sent_count = sent_count + ?, failed_count = failed_count + ?, updated_at = NOW()
		WHERE id = ?
	`, sent, failed, id)
	return err
}

func (s *MySQLCampaignStore) IncrementOpened(id string) error {
	_, err := s.db.Exec(
		"UPDATE email_campaigns SET opened_count = opened_count + 1 WHERE id = ?", id)
	return err
}

func (s *MySQLCampaignStore) IncrementClicked(id string) error {
	_, err := s.db.Exec(
		"UPDATE email_campaigns SET clicked_count = clicked_count + 1 WHERE id = ?", id)
	return err
}

func (s *MySQLCampaignStore) Stats(id string) (*models.CampaignStats, error) {
	query := `
		SELECT
			c.total_recipients,
			c.opened_count,
			c.clicked_count,
			COALESCE(SUM(CASE WHEN r.status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN r.status = 'sent' THEN 1 ELSE 0 END), 0) AS sent,
			COALESCE(SUM(CASE WHEN r.status = 'failed' THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN r.status = 'bounced' THEN 1 ELSE 0 END), 0) AS bounced
		FROM email_campaigns c
		LEFT JOIN email_recipients r ON r.campaign_id = c.id
		WHERE c.id = ?
		GROUP BY c.id
	`

	stats := &models.CampaignStats{CampaignID: id}
	err := s.db.QueryRow(query, id).Scan(
		&stats.TotalRecipients,
		&stats.Opened,
		&stats.Clicked,
		&stats.Pending,
		&stats.Sent,
		&stats.Failed,
		&stats.Bounced,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	stats.ComputeRates()
	return stats, nil
}
