package webui

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"campaign_mailer/internal/mailer"
	"campaign_mailer/internal/store"
	"campaign_mailer/internal/worker"
	"campaign_mailer/pkg/models"

	"github.com/gorilla/mux"
)

// trackingPixel is a 1x1 transparent GIF served by the open tracker.
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type Server struct {
	stores    *store.Stores
	mailer    mailer.Mailer
	scheduler *worker.Scheduler
	processor *worker.QueueProcessor
	router    *mux.Router
	batchSize int
}

func NewServer(
	stores *store.Stores,
	m mailer.Mailer,
	scheduler *worker.Scheduler,
	processor *worker.QueueProcessor,
	batchSize int,
) *Server {
	s := &Server{
		stores:    stores,
		mailer:    m,
		scheduler: scheduler,
		processor: processor,
		router:    mux.NewRouter(),
		batchSize: batchSize,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthCheck", s.handleHealthCheck).Methods("GET")

	s.router.HandleFunc("/api/stats", s.handleGetStats).Methods("GET")

	s.router.HandleFunc("/api/campaigns", s.handleListCampaigns).Methods("GET")
	s.router.HandleFunc("/api/campaigns", s.handleCreateCampaign).Methods("POST")
	s.router.HandleFunc("/api/campaigns/{id}", s.handleGetCampaign).Methods("GET")
	s.router.HandleFunc("/api/campaigns/{id}", s.handleDeleteCampaign).Methods("DELETE")
	s.router.HandleFunc("/api/campaigns/{id}/stats", s.handleCampaignStats).Methods("GET")
	s.router.HandleFunc("/api/campaigns/{id}/cancel", s.handleCancelCampaign).Methods("POST")
	s.router.HandleFunc("/api/campaigns/{id}/schedule", s.handleScheduleCampaign).Methods("POST")
	s.router.HandleFunc("/api/campaigns/{id}/send", s.handleSendCampaign).Methods("POST")

	s.router.HandleFunc("/api/bounces", s.handleBounce).Methods("POST")

	s.router.HandleFunc("/api/queue", s.handleEnqueue).Methods("POST")
	s.router.HandleFunc("/api/queue/{id}", s.handleGetQueueItem).Methods("GET")

	s.router.HandleFunc("/api/settings", s.handleGetSettings).Methods("GET")
	s.router.HandleFunc("/api/settings", s.handleUpdateSettings).Methods("PUT")
	s.router.HandleFunc("/api/settings/test", s.handleTestConnection).Methods("POST")

	s.router.HandleFunc("/track/open/{trackingID}", s.handleTrackOpen).Methods("GET")
	s.router.HandleFunc("/track/click/{trackingID}", s.handleTrackClick).Methods("GET")
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	log.Printf("Starting API server on http://localhost%s", addr)
	return http.ListenAndServe(addr, s.router)
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"service":   "campaign-mailer",
	}

	if _, err := s.stores.Queue.Stats(); err != nil {
		health["status"] = "degraded"
		health["queue_error"] = err.Error()
	}

	if s.processor != nil {
		running, lastRun, _ := s.processor.GetStatus()
		health["processor"] = map[string]interface{}{
			"running":  running,
			"last_run": lastRun.Unix(),
		}
	}

	statusCode := http.StatusOK
	if health["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, statusCode, health)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	queueStats, err := s.stores.Queue.Stats()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"queue": queueStats,
	}
	if s.processor != nil {
		processing, lastRun, runStats := s.processor.GetStatus()
		sent, remaining, resetTime := s.processor.GetRateLimitStatus()
		response["processor"] = map[string]interface{}{
			"processing": processing,
			"last_run":   lastRun,
			"stats":      runStats,
		}
		response["rate_limit"] = map[string]interface{}{
			"sent_24h":   sent,
			"remaining":  remaining,
			"reset_time": resetTime,
		}
	}
	if s.scheduler != nil {
		processing, schedStats := s.scheduler.GetStatus()
		response["scheduler"] = map[string]interface{}{
			"processing": processing,
			"stats":      schedStats,
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	status := r.URL.Query().Get("status")

	campaigns, err := s.stores.Campaigns.List(status, limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if campaigns == nil {
		campaigns = []*models.Campaign{}
	}
	s.writeJSON(w, http.StatusOK, campaigns)
}

type createCampaignRequest struct {
	Name        string     `json:"name"`
	Subject     string     `json:"subject"`
	HTMLBody    string     `json:"html_body"`
	TextBody    string     `json:"text_body"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	Recipients  []string   `json:"recipients"`
	CreatedBy   string     `json:"created_by"`
}

func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	campaign := &models.Campaign{
		Name:        req.Name,
		Subject:     req.Subject,
		HTMLBody:    req.HTMLBody,
		TextBody:    req.TextBody,
		ScheduledAt: req.ScheduledAt,
		CreatedBy:   req.CreatedBy,
		Status:      models.CampaignStatusDraft,
	}
	if req.ScheduledAt != nil {
		campaign.Status = models.CampaignStatusScheduled
	}

	if err := s.stores.Campaigns.Create(campaign); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	added, err := s.stores.Recipients.AddForCampaign(campaign.ID, req.Recipients)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.stores.Campaigns.SetTotalRecipients(campaign.ID, added); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if _, err := s.stores.Batches.Partition(campaign.ID, s.batchSize); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	campaign.TotalRecipients = added

	s.writeJSON(w, http.StatusCreated, campaign)
}

func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	campaign, err := s.stores.Campaigns.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "campaign not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, campaign)
}

func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.stores.Campaigns.Delete(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	stats, err := s.stores.Campaigns.Stats(id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "campaign not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := s.stores.Campaigns.Cancel(id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "campaign not found or already sent", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type scheduleCampaignRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

func (s *Server) handleScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req scheduleCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ScheduledAt.IsZero() {
		http.Error(w, "scheduled_at is required", http.StatusBadRequest)
		return
	}

	err := s.stores.Campaigns.Schedule(id, req.ScheduledAt)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "campaign not found or past scheduling", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "scheduled"})
}

// handleSendCampaign activates a draft or scheduled campaign immediately;
// the next scheduler pass drains it.
func (s *Server) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := s.stores.Campaigns.UpdateStatus(id, models.CampaignStatusActive)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "campaign not found or already sending", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

type bounceRequest struct {
	TrackingID string `json:"tracking_id"`
}

// handleBounce ingests a provider bounce notification keyed by the
// tracking ID stamped into the outbound message.
func (s *Server) handleBounce(w http.ResponseWriter, r *http.Request) {
	var req bounceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackingID == "" {
		http.Error(w, "tracking_id is required", http.StatusBadRequest)
		return
	}

	err := s.stores.Recipients.MarkBounced(req.TrackingID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "unknown tracking id", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "bounced"})
}

type enqueueRequest struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	HTMLBody string `json:"html_body"`
	TextBody string `json:"text_body"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !models.ValidEmail(req.To) {
		http.Error(w, "invalid recipient email", http.StatusBadRequest)
		return
	}

	item := &models.QueueItem{
		RecipientEmail: req.To,
		Subject:        req.Subject,
		HTMLBody:       req.HTMLBody,
		TextBody:       req.TextBody,
	}
	if err := s.stores.Queue.Enqueue(item); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleGetQueueItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	item, err := s.stores.Queue.Get(id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "queue item not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.stores.Settings.GetAll()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// Never echo the password back to the page.
	delete(settings, models.SettingSMTPPassword)
	s.writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	for key, value := range updates {
		if err := s.stores.Settings.Update(key, value); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	message, err := s.mailer.TestConnection()
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"message": err.Error(),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": message,
	})
}

func (s *Server) handleTrackOpen(w http.ResponseWriter, r *http.Request) {
	trackingID := mux.Vars(r)["trackingID"]

	campaignID, first, err := s.stores.Recipients.RecordOpen(trackingID, time.Now())
	if err == nil && first {
		if err := s.stores.Campaigns.IncrementOpened(campaignID); err != nil {
			log.Printf("Error bumping opened count for campaign %s: %v", campaignID, err)
		}
	}

	// Always serve the pixel, even for unknown tracking IDs.
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(trackingPixel)
}

func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	trackingID := mux.Vars(r)["trackingID"]
	target := r.URL.Query().Get("url")

	campaignID, first, err := s.stores.Recipients.RecordClick(trackingID, time.Now())
	if err == nil && first {
		if err := s.stores.Campaigns.IncrementClicked(campaignID); err != nil {
			log.Printf("Error bumping clicked count for campaign %s: %v", campaignID, err)
		}
	}

	if target == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	if u, err := url.Parse(target); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		http.Error(w, "invalid url parameter", http.StatusBadRequest)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
