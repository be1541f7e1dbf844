package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"campaign_mailer/pkg/models"

	"github.com/google/uuid"
)

type MySQLQueueStore struct {
	db *sql.DB
}

func NewMySQLQueueStore(db *sql.DB) *MySQLQueueStore {
	return &MySQLQueueStore{db: db}
}

func (s *MySQLQueueStore) Enqueue(item *models.QueueItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.Status == "" {
		item.Status = models.QueueStatusPending
	}
	if !models.ValidEmail(item.RecipientEmail) {
		return fmt.Errorf("invalid recipient email: %s", item.RecipientEmail)
	}
	item.Retryable = true

	query := `
		INSERT INTO email_queue (id, recipient_email, subject, html_body, text_body, status, attempts, retryable)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		item.ID,
		item.RecipientEmail,
		item.Subject,
		item.HTMLBody,
		item.TextBody,
		item.Status,
		item.Attempts,
		item.Retryable,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue email: %w", err)
	}
	return nil
}

const queueColumns = `
	id, recipient_email, subject, html_body, text_body, status, attempts,
	retryable, last_error, created_at, sent_at
`

func (s *MySQLQueueStore) scanItem(row interface{ Scan(...interface{}) error }) (*models.QueueItem, error) {
	item := &models.QueueItem{}
	var lastError sql.NullString
	var sentAt sql.NullTime

	err := row.Scan(
		&item.ID,
		&item.RecipientEmail,
		&item.Subject,
		&item.HTMLBody,
		&item.TextBody,
		&item.Status,
		&item.Attempts,
		&item.Retryable,
		&lastError,
		&item.CreatedAt,
		&sentAt,
	)
	if err != nil {
		return nil, err
	}

	if lastError.Valid {
		item.LastError = &lastError.String
	}
	if sentAt.Valid {
		item.SentAt = &sentAt.Time
	}
	return item, nil
}

func (s *MySQLQueueStore) Get(id string) (*models.QueueItem, error) {
	row := s.db.QueryRow("SELECT "+queueColumns+" FROM email_queue WHERE id = ?", id)
	item, err := s.scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item %s: %w", id, err)
	}
	return item, nil
}

// Claim locks up to max pending items, flips them to sending, and returns
// them oldest first. Two concurrent processors never see the same item.
func (s *MySQLQueueStore) Claim(max int) ([]*models.QueueItem, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT `+queueColumns+`
		FROM email_queue
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED
	`, models.QueueStatusPending, max)
	if err != nil {
		return nil, fmt.Errorf("failed to select pending items: %w", err)
	}

	var items []*models.QueueItem
	var ids []string
	for rows.Next() {
		item, err := s.scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, item)
		ids = append(ids, item.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		placeholders := make([]string, len(ids))
		args := make([]interface{}, 0, len(ids)+1)
		args = append(args, models.QueueStatusSending)
		for i, id := range ids {
			placeholders[i] = "?"
			args = append(args, id)
		}

		_, err = tx.Exec(
			"UPDATE email_queue SET status = ?, claimed_at = NOW() WHERE id IN ("+strings.Join(placeholders, ",")+")",
			args...)
		if err != nil {
			return nil, fmt.Errorf("failed to claim queue items: %w", err)
		}
		for _, item := range items {
			item.Status = models.QueueStatusSending
		}
	}

	return items, tx.Commit()
}

func (s *MySQLQueueStore) MarkSent(id string, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE email_queue
		SET status = ?, sent_at = ?, attempts = attempts + 1, last_error = NULL, claimed_at = NULL
		WHERE id = ?
	`, models.QueueStatusSent, at, id)
	return err
}

func (s *MySQLQueueStore) MarkFailed(id string, sendErr string, retryable bool) error {
	_, err := s.db.Exec(`
		UPDATE email_queue
		SET status = ?, attempts = attempts + 1, last_error = ?, retryable = ?, claimed_at = NULL
		WHERE id = ?
	`, models.QueueStatusFailed, sendErr, retryable, id)
	return err
}

func (s *MySQLQueueStore) Release(id string) error {
	_, err := s.db.Exec(`
		UPDATE email_queue SET status = ?, claimed_at = NULL
		WHERE id = ? AND status = ?
	`, models.QueueStatusPending, id, models.QueueStatusSending)
	return err
}

// ReleaseStale returns items abandoned mid-send to pending. A row still
// sending past the claim cutoff belongs to a worker that is gone.
func (s *MySQLQueueStore) ReleaseStale(olderThan time.Time) (int64, error) {
	result, err := s.db.Exec(`
		UPDATE email_queue SET status = ?, claimed_at = NULL
		WHERE status = ? AND claimed_at < ?
	`, models.QueueStatusPending, models.QueueStatusSending, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale queue items: %w", err)
	}
	return result.RowsAffected()
}

func (s *MySQLQueueStore) RetryFailed(maxAttempts int) (int64, error) {
	result, err := s.db.Exec(`
		UPDATE email_queue
		SET status = ?
		WHERE status = ? AND retryable = TRUE AND attempts < ?
	`, models.QueueStatusPending, models.QueueStatusFailed, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed items: %w", err)
	}
	return result.RowsAffected()
}

func (s *MySQLQueueStore) DeleteSentBefore(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM email_queue WHERE status = ? AND sent_at < ?
	`, models.QueueStatusSent, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sent items: %w", err)
	}
	return result.RowsAffected()
}

func (s *MySQLQueueStore) Stats() (*models.QueueStats, error) {
	rows, err := s.db.Query(`
		SELECT status, COUNT(*) FROM email_queue GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue stats: %w", err)
	}
	defer rows.Close()

	stats := &models.QueueStats{}
	for rows.Next() {
		var status models.QueueStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch status {
		case models.QueueStatusPending:
			stats.Pending = count
		case models.QueueStatusSending:
			stats.Sending = count
		case models.QueueStatusSent:
			stats.Sent = count
		case models.QueueStatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	return stats, rows.Err()
}
