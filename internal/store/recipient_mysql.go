package store

import (
	"database/sql"
	"fmt"
	"time"

	"campaign_mailer/pkg/models"

	"github.com/google/uuid"
)

type MySQLRecipientStore struct {
	db *sql.DB
}

func NewMySQLRecipientStore(db *sql.DB) *MySQLRecipientStore {
	return &MySQLRecipientStore{db: db}
}

func (s *MySQLRecipientStore) AddForCampaign(campaignID string, emails []string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO email_recipients (campaign_id, email, status, tracking_id)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare recipient insert: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, email := range emails {
		if !models.ValidEmail(email) {
			continue
		}
		if _, err := stmt.Exec(campaignID, email, models.RecipientStatusPending, uuid.New().String()); err != nil {
			return 0, fmt.Errorf("failed to add recipient %s: %w", email, err)
		}
		added++
	}

	return added, tx.Commit()
}

func (s *MySQLRecipientStore) ListPendingByBatch(batchID int64) ([]*models.Recipient, error) {
	query := `
		SELECT id, campaign_id, contact_id, batch_id, email, status,
			sent_at, opened_at, clicked_at, tracking_id, last_error, created_at
		FROM email_recipients
		WHERE batch_id = ? AND status = ?
		ORDER BY id ASC
	`

	rows, err := s.db.Query(query, batchID, models.RecipientStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list batch recipients: %w", err)
	}
	defer rows.Close()

	var recipients []*models.Recipient
	for rows.Next() {
		r := &models.Recipient{}
		var contactID, batchIDCol sql.NullInt64
		var sentAt, openedAt, clickedAt sql.NullTime
		var lastError sql.NullString

		err := rows.Scan(
			&r.ID,
			&r.CampaignID,
			&contactID,
			&batchIDCol,
			&r.Email,
			&r.Status,
			&sentAt,
			&openedAt,
			&clickedAt,
			&r.TrackingID,
			&lastError,
			&r.CreatedAt,
		)
		if err != nil {
			return nil, err
		}

		if contactID.Valid {
			r.ContactID = &contactID.Int64
		}
		if batchIDCol.Valid {
			r.BatchID = &batchIDCol.Int64
		}
		if sentAt.Valid {
			r.SentAt = &sentAt.Time
		}
		if openedAt.Valid {
			r.OpenedAt = &openedAt.Time
		}
		if clickedAt.Valid {
			r.ClickedAt = &clickedAt.Time
		}
		if lastError.Valid {
			r.LastError = &lastError.String
		}
		recipients = append(recipients, r)
	}
	return recipients, rows.Err()
}

func (s *MySQLRecipientStore) CountByStatus(campaignID string) (map[models.RecipientStatus]int, error) {
	rows, err := s.db.Query(`
		SELECT status, COUNT(*) FROM email_recipients
		WHERE campaign_id = ?
		GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to count recipients: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.RecipientStatus]int)
	for rows.Next() {
		var status models.RecipientStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// MarkSent stamps a pending recipient sent. Recipients already in a
// terminal state stay put.
func (s *MySQLRecipientStore) MarkSent(id int64, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE email_recipients
		SET status = ?, sent_at = ?, last_error = NULL
		WHERE id = ? AND status = ?
	`, models.RecipientStatusSent, at, id, models.RecipientStatusPending)
	return err
}

func (s *MySQLRecipientStore) MarkFailed(id int64, sendErr string) error {
	_, err := s.db.Exec(`
		UPDATE email_recipients
		SET status = ?, last_error = ?
		WHERE id = ? AND status = ?
	`, models.RecipientStatusFailed, sendErr, id, models.RecipientStatusPending)
	return err
}

func (s *MySQLRecipientStore) MarkBounced(trackingID string) error {
	result, err := s.db.Exec(`
		UPDATE email_recipients SET status = ? WHERE tracking_id = ?
	`, models.RecipientStatusBounced, trackingID)
	if err != nil {
		return fmt.Errorf("failed to mark recipient bounced: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MySQLRecipientStore) RecordOpen(trackingID string, at time.Time) (string, bool, error) {
	return s.recordEvent(trackingID, "opened_at", at)
}

func (s *MySQLRecipientStore) RecordClick(trackingID string, at time.Time) (string, bool, error) {
	return s.recordEvent(trackingID, "clicked_at", at)
}

// recordEvent stamps opened_at or clicked_at once; later hits on the same
// tracking ID report first=false so counters do not double count.
func (s *MySQLRecipientStore) recordEvent(trackingID, column string, at time.Time) (string, bool, error) {
	var campaignID string
	err := s.db.QueryRow(
		"SELECT campaign_id FROM email_recipients WHERE tracking_id = ?",
		trackingID).Scan(&campaignID)
	if err == sql.ErrNoRows {
		return "", false, ErrNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up tracking id: %w", err)
	}

	// column is one of two fixed identifiers, never user input
	result, err := s.db.Exec(
		"UPDATE email_recipients SET "+column+" = ? WHERE tracking_id = ? AND "+column+" IS NULL",
		at, trackingID)
	if err != nil {
		return "", false, fmt.Errorf("failed to record %s: %w", column, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return "", false, err
	}
	return campaignID, n > 0, nil
}
