package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// BatchStatus represents the processing state of a recipient batch
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusProcessing BatchStatus = "processing"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

func (bs BatchStatus) String() string {
	return string(bs)
}

func (bs *BatchStatus) Scan(value interface{}) error {
	if value == nil {
		*bs = BatchStatusPending
		return nil
	}
	switch s := value.(type) {
	case string:
		*bs = BatchStatus(s)
	case []byte:
		*bs = BatchStatus(s)
	default:
		return fmt.Errorf("cannot scan %T into BatchStatus", value)
	}
	return nil
}

func (bs BatchStatus) Value() (driver.Value, error) {
	return string(bs), nil
}

// Batch is a fixed-size partition of a campaign's recipients, processed as
// a unit per drain iteration. Batches are numbered consecutively from 1
// within their campaign and drained in that order.
type Batch struct {
	ID          int64       `json:"id" db:"id"`
	CampaignID  string      `json:"campaign_id" db:"campaign_id"`
	BatchNumber int         `json:"batch_number" db:"batch_number"`
	Status      BatchStatus `json:"status" db:"status"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}
