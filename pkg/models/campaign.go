package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// CampaignStatus represents the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusSent      CampaignStatus = "sent"
	CampaignStatusCancelled CampaignStatus = "cancelled"
)

func (cs CampaignStatus) String() string {
	return string(cs)
}

// Terminal reports whether the campaign can no longer be processed or cancelled.
func (cs CampaignStatus) Terminal() bool {
	return cs == CampaignStatusSent || cs == CampaignStatusCancelled
}

func (cs *CampaignStatus) Scan(value interface{}) error {
	if value == nil {
		*cs = CampaignStatusDraft
		return nil
	}
	switch s := value.(type) {
	case string:
		*cs = CampaignStatus(s)
	case []byte:
		*cs = CampaignStatus(s)
	default:
		return fmt.Errorf("cannot scan %T into CampaignStatus", value)
	}
	return nil
}

func (cs CampaignStatus) Value() (driver.Value, error) {
	return string(cs), nil
}

// Campaign is a single email blast with its recipient list and lifecycle status
type Campaign struct {
	ID              string         `json:"id" db:"id"`
	Name            string         `json:"name" db:"name"`
	Subject         string         `json:"subject" db:"subject"`
	HTMLBody        string         `json:"html_body,omitempty" db:"html_body"`
	TextBody        string         `json:"text_body,omitempty" db:"text_body"`
	Status          CampaignStatus `json:"status" db:"status"`
	ScheduledAt     *time.Time     `json:"scheduled_at,omitempty" db:"scheduled_at"`
	SentAt          *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	TotalRecipients int            `json:"total_recipients" db:"total_recipients"`
	SentCount       int            `json:"sent_count" db:"sent_count"`
	FailedCount     int            `json:"failed_count" db:"failed_count"`
	OpenedCount     int            `json:"opened_count" db:"opened_count"`
	ClickedCount    int            `json:"clicked_count" db:"clicked_count"`
	CreatedBy       string         `json:"created_by,omitempty" db:"created_by"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" db:"updated_at"`
}

// Validate checks the fields required before a campaign can be created
func (c *Campaign) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("campaign name is required")
	}
	if c.Subject == "" {
		return fmt.Errorf("campaign subject is required")
	}
	if c.HTMLBody == "" && c.TextBody == "" {
		return fmt.Errorf("campaign needs an HTML or text body")
	}
	return nil
}

// CampaignStats is the per-campaign rollup shown on the dashboard
type CampaignStats struct {
	CampaignID      string  `json:"campaign_id"`
	TotalRecipients int     `json:"total_recipients"`
	Pending         int     `json:"pending"`
	Sent            int     `json:"sent"`
	Failed          int     `json:"failed"`
	Bounced         int     `json:"bounced"`
	Opened          int     `json:"opened"`
	Clicked         int     `json:"clicked"`
	OpenRate        float64 `json:"open_rate"`
	ClickRate       float64 `json:"click_rate"`
}

// ComputeRates fills OpenRate and ClickRate as percentages of total
// recipients. Both stay zero when the campaign has no recipients.
func (s *CampaignStats) ComputeRates() {
	if s.TotalRecipients == 0 {
		s.OpenRate = 0
		s.ClickRate = 0
		return
	}
	s.OpenRate = float64(s.Opened) / float64(s.TotalRecipients) * 100
	s.ClickRate = float64(s.Clicked) / float64(s.TotalRecipients) * 100
}
