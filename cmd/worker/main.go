package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"campaign_mailer/internal/config"
	"campaign_mailer/internal/mailer"
	"campaign_mailer/internal/store"
	"campaign_mailer/internal/webui"
	"campaign_mailer/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Try MySQL first, fall back to memory stores
	var stores *store.Stores
	db, err := store.Open(&cfg.MySQL)
	if err != nil {
		log.Printf("Failed to connect to MySQL: %v", err)
		log.Println("Using in-memory stores instead (state will not survive restarts)")
		stores = store.NewMemoryStores()
	} else {
		stores = store.NewMySQLStores(db)
		defer db.Close()
	}

	smtpMailer := mailer.NewSMTPMailer(stores.Settings)

	drainer := worker.NewBatchDrainer(
		stores.Campaigns,
		stores.Recipients,
		stores.Batches,
		smtpMailer,
		cfg.Worker.CampaignBatchSize,
		cfg.Worker.BatchDelay,
		cfg.Worker.ClaimTimeout,
	)

	scheduler := worker.NewScheduler(stores.Campaigns, drainer, cfg.Worker.SchedulerInterval)
	processor := worker.NewQueueProcessor(stores.Queue, stores.JobState, smtpMailer, cfg.Worker)

	webServer := webui.NewServer(stores, smtpMailer, scheduler, processor, cfg.Worker.CampaignBatchSize)

	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	if err := processor.Start(); err != nil {
		log.Fatalf("Failed to start queue processor: %v", err)
	}

	go func() {
		if err := webServer.Start(cfg.Server.HTTPPort); err != nil {
			log.Printf("API server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	scheduler.Stop()
	processor.Stop()
	log.Println("Workers stopped")
}
