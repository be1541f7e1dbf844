package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// QueueStatus represents the delivery status of a generic queue item
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusSending QueueStatus = "sending"
	QueueStatusSent    QueueStatus = "sent"
	QueueStatusFailed  QueueStatus = "failed"
)

func (qs QueueStatus) String() string {
	return string(qs)
}

func (qs *QueueStatus) Scan(value interface{}) error {
	if value == nil {
		*qs = QueueStatusPending
		return nil
	}
	switch s := value.(type) {
	case string:
		*qs = QueueStatus(s)
	case []byte:
		*qs = QueueStatus(s)
	default:
		return fmt.Errorf("cannot scan %T into QueueStatus", value)
	}
	return nil
}

func (qs QueueStatus) Value() (driver.Value, error) {
	return string(qs), nil
}

// QueueItem is an independent, campaign-less outbound email awaiting
// delivery. Attempts increments only when a send is actually attempted.
type QueueItem struct {
	ID             string      `json:"id" db:"id"`
	RecipientEmail string      `json:"recipient_email" db:"recipient_email"`
	Subject        string      `json:"subject" db:"subject"`
	HTMLBody       string      `json:"html_body,omitempty" db:"html_body"`
	TextBody       string      `json:"text_body,omitempty" db:"text_body"`
	Status         QueueStatus `json:"status" db:"status"`
	Attempts       int         `json:"attempts" db:"attempts"`
	Retryable      bool        `json:"retryable" db:"retryable"`
	LastError      *string     `json:"last_error,omitempty" db:"last_error"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	SentAt         *time.Time  `json:"sent_at,omitempty" db:"sent_at"`
}

// QueueStats is the per-status rollup of the generic queue
type QueueStats struct {
	Pending int `json:"pending"`
	Sending int `json:"sending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Total   int `json:"total"`
}
