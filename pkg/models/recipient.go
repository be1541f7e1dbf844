package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// RecipientStatus represents the delivery status of a campaign recipient
type RecipientStatus string

const (
	RecipientStatusPending RecipientStatus = "pending"
	RecipientStatusSent    RecipientStatus = "sent"
	RecipientStatusFailed  RecipientStatus = "failed"
	RecipientStatusBounced RecipientStatus = "bounced"
)

func (rs RecipientStatus) String() string {
	return string(rs)
}

// Terminal reports whether the recipient needs no further send attempt.
// Opens and clicks are tracked as timestamps on a sent recipient, not as
// statuses of their own.
func (rs RecipientStatus) Terminal() bool {
	return rs == RecipientStatusSent || rs == RecipientStatusFailed || rs == RecipientStatusBounced
}

func (rs *RecipientStatus) Scan(value interface{}) error {
	if value == nil {
		*rs = RecipientStatusPending
		return nil
	}
	switch s := value.(type) {
	case string:
		*rs = RecipientStatus(s)
	case []byte:
		*rs = RecipientStatus(s)
	default:
		return fmt.Errorf("cannot scan %T into RecipientStatus", value)
	}
	return nil
}

func (rs RecipientStatus) Value() (driver.Value, error) {
	return string(rs), nil
}

// Recipient is one target address of a campaign. Owned by its campaign and
// deleted with it.
type Recipient struct {
	ID         int64           `json:"id" db:"id"`
	CampaignID string          `json:"campaign_id" db:"campaign_id"`
	ContactID  *int64          `json:"contact_id,omitempty" db:"contact_id"`
	BatchID    *int64          `json:"batch_id,omitempty" db:"batch_id"`
	Email      string          `json:"email" db:"email"`
	Status     RecipientStatus `json:"status" db:"status"`
	SentAt     *time.Time      `json:"sent_at,omitempty" db:"sent_at"`
	OpenedAt   *time.Time      `json:"opened_at,omitempty" db:"opened_at"`
	ClickedAt  *time.Time      `json:"clicked_at,omitempty" db:"clicked_at"`
	TrackingID string          `json:"tracking_id" db:"tracking_id"`
	LastError  *string         `json:"last_error,omitempty" db:"last_error"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// ValidEmail performs the same lightweight syntax check the intake forms
// use: one @, non-empty local part, dotted domain.
func ValidEmail(email string) bool {
	if email == "" || strings.Count(email, "@") != 1 {
		return false
	}
	parts := strings.Split(email, "@")
	if len(parts[0]) == 0 || len(parts[1]) == 0 {
		return false
	}
	return strings.Contains(parts[1], ".")
}
