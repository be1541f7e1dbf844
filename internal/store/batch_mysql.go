package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"campaign_mailer/pkg/models"
)

type MySQLBatchStore struct {
	db *sql.DB
}

func NewMySQLBatchStore(db *sql.DB) *MySQLBatchStore {
	return &MySQLBatchStore{db: db}
}

func (s *MySQLBatchStore) Partition(campaignID string, batchSize int) (int, error) {
	if batchSize < 1 {
		return 0, fmt.Errorf("invalid batch size: %d", batchSize)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`
		SELECT id FROM email_recipients
		WHERE campaign_id = ? AND batch_id IS NULL
		ORDER BY id ASC
		FOR UPDATE
	`, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to load unassigned recipients: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, tx.Commit()
	}

	var nextNumber int
	err = tx.QueryRow(
		"SELECT COALESCE(MAX(batch_number), 0) FROM email_batches WHERE campaign_id = ?",
		campaignID).Scan(&nextNumber)
	if err != nil {
		return 0, fmt.Errorf("failed to find last batch number: %w", err)
	}

	created := 0
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		nextNumber++

		result, err := tx.Exec(`
			INSERT INTO email_batches (campaign_id, batch_number, status)
			VALUES (?, ?, ?)
		`, campaignID, nextNumber, models.BatchStatusPending)
		if err != nil {
			return 0, fmt.Errorf("failed to create batch %d: %w", nextNumber, err)
		}
		batchID, err := result.LastInsertId()
		if err != nil {
			return 0, err
		}

		placeholders := make([]string, len(chunk))
		args := make([]interface{}, 0, len(chunk)+1)
		args = append(args, batchID)
		for i, id := range chunk {
			placeholders[i] = "?"
			args = append(args, id)
		}
		_, err = tx.Exec(
			"UPDATE email_recipients SET batch_id = ? WHERE id IN ("+strings.Join(placeholders, ",")+")",
			args...)
		if err != nil {
			return 0, fmt.Errorf("failed to assign recipients to batch %d: %w", nextNumber, err)
		}
		created++
	}

	return created, tx.Commit()
}

// ClaimNext flips the lowest-numbered pending batch to processing in a
// single conditional UPDATE, so two concurrent drainers can never grab the
// same batch.
func (s *MySQLBatchStore) ClaimNext(campaignID string) (*models.Batch, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRow(`
		SELECT id FROM email_batches
		WHERE campaign_id = ? AND status = ?
		ORDER BY batch_number ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, campaignID, models.BatchStatusPending).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select next batch: %w", err)
	}

	result, err := tx.Exec(`
		UPDATE email_batches
		SET status = ?, started_at = NOW()
		WHERE id = ? AND status = ?
	`, models.BatchStatusProcessing, id, models.BatchStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to claim batch %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Lost the race to another claimer.
		return nil, tx.Commit()
	}

	batch := &models.Batch{}
	var startedAt, completedAt sql.NullTime
	err = tx.QueryRow(`
		SELECT id, campaign_id, batch_number, status, created_at, started_at, completed_at
		FROM email_batches WHERE id = ?
	`, id).Scan(
		&batch.ID,
		&batch.CampaignID,
		&batch.BatchNumber,
		&batch.Status,
		&batch.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read claimed batch: %w", err)
	}
	if startedAt.Valid {
		batch.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		batch.CompletedAt = &completedAt.Time
	}

	return batch, tx.Commit()
}

func (s *MySQLBatchStore) Complete(id int64) error {
	return s.setStatus(id, models.BatchStatusCompleted, true)
}

func (s *MySQLBatchStore) Fail(id int64) error {
	return s.setStatus(id, models.BatchStatusFailed, true)
}

func (s *MySQLBatchStore) Release(id int64) error {
	_, err := s.db.Exec(`
		UPDATE email_batches SET status = ?, started_at = NULL
		WHERE id = ? AND status = ?
	`, models.BatchStatusPending, id, models.BatchStatusProcessing)
	return err
}

func (s *MySQLBatchStore) ReleaseStale(campaignID string, olderThan time.Time) (int64, error) {
	result, err := s.db.Exec(`
		UPDATE email_batches SET status = ?, started_at = NULL
		WHERE campaign_id = ? AND status = ? AND started_at < ?
	`, models.BatchStatusPending, campaignID, models.BatchStatusProcessing, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to release stale batches for campaign %s: %w", campaignID, err)
	}
	return result.RowsAffected()
}

func (s *MySQLBatchStore) setStatus(id int64, status models.BatchStatus, stampCompleted bool) error {
	query := "UPDATE email_batches SET status = ?"
	if stampCompleted {
		query += ", completed_at = NOW()"
	}
	query += " WHERE id = ?"

	_, err := s.db.Exec(query, status, id)
	if err != nil {
		return fmt.Errorf("failed to set batch %d to %s: %w", id, status, err)
	}
	return nil
}

func (s *MySQLBatchStore) CountUnfinished(campaignID string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM email_batches
		WHERE campaign_id = ? AND status IN (?, ?)
	`, campaignID, models.BatchStatusPending, models.BatchStatusProcessing).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unfinished batches: %w", err)
	}
	return count, nil
}
