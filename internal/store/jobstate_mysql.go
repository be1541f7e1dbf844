package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Job names tracked in job_state.
const (
	JobRetryFailed = "queue_retry_failed"
	JobCleanupSent = "queue_cleanup_sent"
)

type MySQLJobStateStore struct {
	db *sql.DB
}

func NewMySQLJobStateStore(db *sql.DB) *MySQLJobStateStore {
	return &MySQLJobStateStore{db: db}
}

func (s *MySQLJobStateStore) LastRun(job string) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRow(
		"SELECT last_run_at FROM job_state WHERE job_name = ?", job).Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last run of %s: %w", job, err)
	}
	return at, nil
}

func (s *MySQLJobStateStore) SetLastRun(job string, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO job_state (job_name, last_run_at)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE last_run_at = VALUES(last_run_at)
	`, job, at)
	if err != nil {
		return fmt.Errorf("failed to record last run of %s: %w", job, err)
	}
	return nil
}
