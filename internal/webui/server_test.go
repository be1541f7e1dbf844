package webui

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"campaign_mailer/internal/mailer"
	"campaign_mailer/internal/store"
	"campaign_mailer/pkg/models"
)

type fakeMailer struct {
	err error
}

func (m *fakeMailer) Send(msg *mailer.OutboundEmail) error { return m.err }

func (m *fakeMailer) TestConnection() (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return "Connected to mail.example.com:587", nil
}

func newTestServer() (*Server, *store.Stores) {
	stores := store.NewMemoryStores()
	srv := NewServer(stores, &fakeMailer{}, nil, nil, 10)
	return srv, stores
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateCampaign(t *testing.T) {
	srv, stores := newTestServer()

	rec := doJSON(t, srv.Handler(), "POST", "/api/campaigns", map[string]interface{}{
		"name":       "Launch",
		"subject":    "Hello",
		"html_body":  "<p>Hi</p>",
		"recipients": []string{"a@example.com", "b@example.com", "bad-address"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created models.Campaign
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if created.ID == "" {
		t.Error("Expected an assigned ID")
	}
	if created.Status != models.CampaignStatusDraft {
		t.Errorf("Unscheduled campaign should be draft, got: %s", created.Status)
	}
	if created.TotalRecipients != 2 {
		t.Errorf("Expected 2 valid recipients, got: %d", created.TotalRecipients)
	}

	// Recipients are partitioned at creation time.
	unfinished, _ := stores.Batches.CountUnfinished(created.ID)
	if unfinished != 1 {
		t.Errorf("Expected 1 pending batch, got: %d", unfinished)
	}
}

func TestCreateScheduledCampaign(t *testing.T) {
	srv, _ := newTestServer()

	at := time.Now().Add(time.Hour).UTC()
	rec := doJSON(t, srv.Handler(), "POST", "/api/campaigns", map[string]interface{}{
		"name":         "Later",
		"subject":      "Hello",
		"text_body":    "Hi",
		"scheduled_at": at,
		"recipients":   []string{"a@example.com"},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created models.Campaign
	json.NewDecoder(rec.Body).Decode(&created)
	if created.Status != models.CampaignStatusScheduled {
		t.Errorf("Expected scheduled status, got: %s", created.Status)
	}
}

func TestCreateCampaignValidation(t *testing.T) {
	srv, _ := newTestServer()

	rec := doJSON(t, srv.Handler(), "POST", "/api/campaigns", map[string]interface{}{
		"subject": "no name",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got: %d", rec.Code)
	}
}

func TestGetCampaign(t *testing.T) {
	srv, stores := newTestServer()

	c := &models.Campaign{Name: "n", Subject: "s", TextBody: "b"}
	stores.Campaigns.Create(c)

	rec := doJSON(t, srv.Handler(), "GET", "/api/campaigns/"+c.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got: %d", rec.Code)
	}

	rec = doJSON(t, srv.Handler(), "GET", "/api/campaigns/missing-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown campaign, got: %d", rec.Code)
	}
}

func TestCancelCampaign(t *testing.T) {
	srv, stores := newTestServer()

	c := &models.Campaign{Name: "n", Subject: "s", TextBody: "b"}
	stores.Campaigns.Create(c)

	rec := doJSON(t, srv.Handler(), "POST", "/api/campaigns/"+c.ID+"/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got: %d", rec.Code)
	}

	got, _ := stores.Campaigns.Get(c.ID)
	if got.Status != models.CampaignStatusCancelled {
		t.Errorf("Expected cancelled, got: %s", got.Status)
	}

	// Cancelling again conflicts.
	rec = doJSON(t, srv.Handler(), "POST", "/api/campaigns/"+c.ID+"/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 on repeat cancel, got: %d", rec.Code)
	}
}

func TestScheduleCampaignEndpoint(t *testing.T) {
	srv, stores := newTestServer()

	c := &models.Campaign{Name: "n", Subject: "s", TextBody: "b"}
	stores.Campaigns.Create(c)

	at := time.Now().Add(time.Hour).UTC()
	rec := doJSON(t, srv.Handler(), "POST", "/api/campaigns/"+c.ID+"/schedule", map[string]interface{}{
		"scheduled_at": at,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	got, _ := stores.Campaigns.Get(c.ID)
	if got.Status != models.CampaignStatusScheduled {
		t.Errorf("Expected scheduled, got: %s", got.Status)
	}
	if got.ScheduledAt == nil || !got.ScheduledAt.Equal(at) {
		t.Errorf("Expected scheduled_at %v, got: %v", at, got.ScheduledAt)
	}

	t.Run("MissingTime", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), "POST", "/api/campaigns/"+c.ID+"/schedule", map[string]string{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 without scheduled_at, got: %d", rec.Code)
		}
	})

	t.Run("PastScheduling", func(t *testing.T) {
		if err := stores.Campaigns.Cancel(c.ID); err != nil {
			t.Fatalf("Failed to cancel: %v", err)
		}
		rec := doJSON(t, srv.Handler(), "POST", "/api/campaigns/"+c.ID+"/schedule", map[string]interface{}{
			"scheduled_at": at,
		})
		if rec.Code != http.StatusConflict {
			t.Errorf("Expected 409 scheduling a cancelled campaign, got: %d", rec.Code)
		}
	})
}

func TestSendCampaignEndpoint(t *testing.T) {
	srv, stores := newTestServer()

	c := &models.Campaign{Name: "n", Subject: "s", TextBody: "b"}
	stores.Campaigns.Create(c)

	rec := doJSON(t, srv.Handler(), "POST", "/api/campaigns/"+c.ID+"/send", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	got, _ := stores.Campaigns.Get(c.ID)
	if got.Status != models.CampaignStatusActive {
		t.Errorf("Expected active, got: %s", got.Status)
	}

	// Already active: sending again conflicts.
	rec = doJSON(t, srv.Handler(), "POST", "/api/campaigns/"+c.ID+"/send", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 on repeat send, got: %d", rec.Code)
	}

	rec = doJSON(t, srv.Handler(), "POST", "/api/campaigns/missing-id/send", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected 409 for unknown campaign, got: %d", rec.Code)
	}
}

func TestBounceEndpoint(t *testing.T) {
	srv, stores := newTestServer()
	c, trackingID := setupTrackedRecipient(t, stores)

	rec := doJSON(t, srv.Handler(), "POST", "/api/bounces", map[string]string{
		"tracking_id": trackingID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	counts, _ := stores.Recipients.CountByStatus(c.ID)
	if counts[models.RecipientStatusBounced] != 1 {
		t.Errorf("Expected 1 bounced recipient, got: %v", counts)
	}

	t.Run("UnknownTrackingID", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), "POST", "/api/bounces", map[string]string{
			"tracking_id": "no-such-id",
		})
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected 404, got: %d", rec.Code)
		}
	})

	t.Run("MissingTrackingID", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), "POST", "/api/bounces", map[string]string{})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400, got: %d", rec.Code)
		}
	})
}

func TestEnqueue(t *testing.T) {
	srv, stores := newTestServer()

	rec := doJSON(t, srv.Handler(), "POST", "/api/queue", map[string]string{
		"to":        "user@example.com",
		"subject":   "Hello",
		"text_body": "Hi",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	stats, _ := stores.Queue.Stats()
	if stats.Pending != 1 {
		t.Errorf("Expected 1 pending item, got: %d", stats.Pending)
	}

	rec = doJSON(t, srv.Handler(), "POST", "/api/queue", map[string]string{
		"to": "bad-address",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid address, got: %d", rec.Code)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, _ := newTestServer()

	rec := doJSON(t, srv.Handler(), "PUT", "/api/settings", map[string]string{
		models.SettingSMTPHost:     "mail.example.com",
		models.SettingSMTPPassword: "hunter2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got: %d", rec.Code)
	}

	rec = doJSON(t, srv.Handler(), "GET", "/api/settings", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got: %d", rec.Code)
	}

	var settings map[string]string
	json.NewDecoder(rec.Body).Decode(&settings)
	if settings[models.SettingSMTPHost] != "mail.example.com" {
		t.Errorf("Expected host persisted, got: %q", settings[models.SettingSMTPHost])
	}
	if _, ok := settings[models.SettingSMTPPassword]; ok {
		t.Error("Password must never appear in settings responses")
	}
}

func TestTestConnectionEndpoint(t *testing.T) {
	stores := store.NewMemoryStores()

	t.Run("Success", func(t *testing.T) {
		srv := NewServer(stores, &fakeMailer{}, nil, nil, 10)
		rec := doJSON(t, srv.Handler(), "POST", "/api/settings/test", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got: %d", rec.Code)
		}
		var resp map[string]interface{}
		json.NewDecoder(rec.Body).Decode(&resp)
		if resp["success"] != true {
			t.Errorf("Expected success, got: %v", resp)
		}
	})

	t.Run("Failure", func(t *testing.T) {
		srv := NewServer(stores, &fakeMailer{err: errors.New("connection refused")}, nil, nil, 10)
		rec := doJSON(t, srv.Handler(), "POST", "/api/settings/test", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got: %d", rec.Code)
		}
		var resp map[string]interface{}
		json.NewDecoder(rec.Body).Decode(&resp)
		if resp["success"] != false {
			t.Errorf("Expected failure reported in body, got: %v", resp)
		}
	})
}

func setupTrackedRecipient(t *testing.T, stores *store.Stores) (*models.Campaign, string) {
	t.Helper()

	c := &models.Campaign{Name: "n", Subject: "s", TextBody: "b"}
	if err := stores.Campaigns.Create(c); err != nil {
		t.Fatalf("Failed to create campaign: %v", err)
	}
	if _, err := stores.Recipients.AddForCampaign(c.ID, []string{"user@example.com"}); err != nil {
		t.Fatalf("Failed to add recipient: %v", err)
	}
	if _, err := stores.Batches.Partition(c.ID, 10); err != nil {
		t.Fatalf("Failed to partition: %v", err)
	}
	batch, _ := stores.Batches.ClaimNext(c.ID)
	pending, _ := stores.Recipients.ListPendingByBatch(batch.ID)
	return c, pending[0].TrackingID
}

func TestTrackOpen(t *testing.T) {
	srv, stores := newTestServer()
	c, trackingID := setupTrackedRecipient(t, stores)

	rec := doJSON(t, srv.Handler(), "GET", "/track/open/"+trackingID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got: %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/gif" {
		t.Errorf("Expected gif content type, got: %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("Expected pixel bytes in body")
	}

	got, _ := stores.Campaigns.Get(c.ID)
	if got.OpenedCount != 1 {
		t.Errorf("Expected opened_count 1, got: %d", got.OpenedCount)
	}

	// Repeat opens serve the pixel but count once.
	doJSON(t, srv.Handler(), "GET", "/track/open/"+trackingID, nil)
	got, _ = stores.Campaigns.Get(c.ID)
	if got.OpenedCount != 1 {
		t.Errorf("Expected opened_count to stay 1, got: %d", got.OpenedCount)
	}

	// Unknown tracking IDs still get the pixel.
	rec = doJSON(t, srv.Handler(), "GET", "/track/open/unknown-id", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for unknown tracking ID, got: %d", rec.Code)
	}
}

func TestTrackClick(t *testing.T) {
	srv, stores := newTestServer()
	c, trackingID := setupTrackedRecipient(t, stores)

	rec := doJSON(t, srv.Handler(), "GET", "/track/click/"+trackingID+"?url=https%3A%2F%2Fexample.com%2Fsale", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("Expected 302, got: %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://example.com/sale" {
		t.Errorf("Expected redirect to target, got: %q", loc)
	}

	got, _ := stores.Campaigns.Get(c.ID)
	if got.ClickedCount != 1 {
		t.Errorf("Expected clicked_count 1, got: %d", got.ClickedCount)
	}

	t.Run("MissingURL", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), "GET", "/track/click/"+trackingID, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 without url param, got: %d", rec.Code)
		}
	})

	t.Run("NonHTTPScheme", func(t *testing.T) {
		rec := doJSON(t, srv.Handler(), "GET", "/track/click/"+trackingID+"?url=javascript%3Aalert(1)", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("Expected 400 for javascript scheme, got: %d", rec.Code)
		}
	})
}

func TestStatsEndpoint(t *testing.T) {
	srv, stores := newTestServer()

	stores.Queue.Enqueue(&models.QueueItem{
		RecipientEmail: "user@example.com", Subject: "s", TextBody: "b",
	})

	rec := doJSON(t, srv.Handler(), "GET", "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got: %d", rec.Code)
	}

	var resp map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&resp)
	queue, ok := resp["queue"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected queue stats in response, got: %v", resp)
	}
	if queue["pending"] != float64(1) {
		t.Errorf("Expected 1 pending, got: %v", queue["pending"])
	}
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer()

	rec := doJSON(t, srv.Handler(), "GET", "/healthCheck", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got: %d", rec.Code)
	}

	var health map[string]interface{}
	json.NewDecoder(rec.Body).Decode(&health)
	if health["status"] != "healthy" {
		t.Errorf("Expected healthy, got: %v", health["status"])
	}
}
