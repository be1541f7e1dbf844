package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"campaign_mailer/pkg/models"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func campaignRows(c *models.Campaign) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "subject", "html_body", "text_body", "status",
		"scheduled_at", "sent_at", "total_recipients", "sent_count", "failed_count",
		"opened_count", "clicked_count", "created_by", "created_at", "updated_at",
	}).AddRow(
		c.ID, c.Name, c.Subject, c.HTMLBody, c.TextBody, string(c.Status),
		c.ScheduledAt, c.SentAt, c.TotalRecipients, c.SentCount, c.FailedCount,
		c.OpenedCount, c.ClickedCount, c.CreatedBy, c.CreatedAt, c.UpdatedAt,
	)
}

func TestMySQLCampaignStore_Create(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMySQLCampaignStore(db)

	mock.ExpectExec("INSERT INTO email_campaigns").
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := &models.Campaign{
		Name:     "Launch",
		Subject:  "Hello",
		HTMLBody: "<p>Hi</p>",
	}
	if err := store.Create(c); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if c.ID == "" {
		t.Error("Create() should assign an ID")
	}
	if c.Status != models.CampaignStatusDraft {
		t.Errorf("Create() should default status to draft, got: %s", c.Status)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestMySQLCampaignStore_CreateInvalid(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMySQLCampaignStore(db)

	err := store.Create(&models.Campaign{Subject: "no name"})
	if err == nil {
		t.Error("Create() should reject a campaign without a name")
	}
}

func TestMySQLCampaignStore_Get(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMySQLCampaignStore(db)
	now := time.Now()

	want := &models.Campaign{
		ID:        "abc-123",
		Name:      "Launch",
		Subject:   "Hello",
		HTMLBody:  "<p>Hi</p>",
		Status:    models.CampaignStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectQuery("SELECT (.+) FROM email_campaigns WHERE id = ?").
		WithArgs("abc-123").
		WillReturnRows(campaignRows(want))

	got, err := store.Get("abc-123")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != want.ID || got.Status != want.Status {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM email_campaigns WHERE id = ?").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := store.Get("missing")
		if err != ErrNotFound {
			t.Errorf("Get() on missing row = %v, want ErrNotFound", err)
		}
	})
}

func TestMySQLCampaignStore_PromoteDue(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMySQLCampaignStore(db)

	mock.ExpectExec("UPDATE email_campaigns").
		WillReturnResult(sqlmock.NewResult(0, 2))

	promoted, err := store.PromoteDue(time.Now())
	if err != nil {
		t.Fatalf("PromoteDue() error: %v", err)
	}
	if promoted != 2 {
		t.Errorf("PromoteDue() = %d, want 2", promoted)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestMySQLCampaignStore_Schedule(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMySQLCampaignStore(db)
	at := time.Now().Add(time.Hour)

	t.Run("Schedulable", func(t *testing.T) {
		mock.ExpectExec("UPDATE email_campaigns").
			WithArgs(string(models.CampaignStatusScheduled), at, "abc-123",
				string(models.CampaignStatusDraft), string(models.CampaignStatusScheduled)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := store.Schedule("abc-123", at); err != nil {
			t.Errorf("Schedule() error: %v", err)
		}
	})

	t.Run("PastScheduling", func(t *testing.T) {
		mock.ExpectExec("UPDATE email_campaigns").
			WillReturnResult(sqlmock.NewResult(0, 0))

		if err := store.Schedule("abc-123", at); err != ErrNotFound {
			t.Errorf("Schedule() on active campaign = %v, want ErrNotFound", err)
		}
	})
}

func TestMySQLCampaignStore_UpdateStatus(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMySQLCampaignStore(db)

	t.Run("Activate", func(t *testing.T) {
		mock.ExpectExec("UPDATE email_campaigns").
			WithArgs(string(models.CampaignStatusActive), "abc-123",
				string(models.CampaignStatusDraft), string(models.CampaignStatusScheduled)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := store.UpdateStatus("abc-123", models.CampaignStatusActive); err != nil {
			t.Errorf("UpdateStatus() error: %v", err)
		}
	})

	t.Run("AlreadySending", func(t *testing.T) {
		mock.ExpectExec("UPDATE email_campaigns").
			WillReturnResult(sqlmock.NewResult(0, 0))

		if err := store.UpdateStatus("abc-123", models.CampaignStatusActive); err != ErrNotFound {
			t.Errorf("UpdateStatus() on active campaign = %v, want ErrNotFound", err)
		}
	})

	t.Run("WorkerOwnedState", func(t *testing.T) {
		if err := store.UpdateStatus("abc-123", models.CampaignStatusSent); err == nil {
			t.Error("UpdateStatus() to sent should be rejected")
		}
	})
}

func TestMySQLCampaignStore_Cancel(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMySQLCampaignStore(db)

	t.Run("Cancellable", func(t *testing.T) {
		mock.ExpectExec("UPDATE email_campaigns").
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := store.Cancel("abc-123"); err != nil {
			t.Errorf("Cancel() error: %v", err)
		}
	})

	t.Run("AlreadyTerminal", func(t *testing.T) {
		mock.ExpectExec("UPDATE email_campaigns").
			WillReturnResult(sqlmock.NewResult(0, 0))

		if err := store.Cancel("abc-123"); err != ErrNotFound {
			t.Errorf("Cancel() on terminal campaign = %v, want ErrNotFound", err)
		}
	})
}

func TestMySQLCampaignStore_Stats(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewMySQLCampaignStore(db)

	rows := sqlmock.NewRows([]string{
		"total_recipients", "opened_count", "clicked_count",
		"pending", "sent", "failed", "bounced",
	}).AddRow(100, 40, 10, 0, 95, 3, 2)

	mock.ExpectQuery("SELECT (.+) FROM email_campaigns c").
		WithArgs("abc-123").
		WillReturnRows(rows)

	stats, err := store.Stats("abc-123")
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.Sent != 95 || stats.Failed != 3 || stats.Bounced != 2 {
		t.Errorf("Unexpected rollup: %+v", stats)
	}
	if stats.OpenRate != 40.0 {
		t.Errorf("OpenRate = %.2f, want 40.0", stats.OpenRate)
	}
	if stats.ClickRate != 10.0 {
		t.Errorf("ClickRate = %.2f, want 10.0", stats.ClickRate)
	}
}
