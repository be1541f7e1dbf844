package store

import (
	"database/sql"
	"fmt"
	"time"

	"campaign_mailer/internal/config"

	_ "github.com/go-sql-driver/mysql"
)

// Open connects to MySQL with the pool settings the workers expect.
func Open(cfg *config.MySQLConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// Stores bundles one implementation of every repository.
type Stores struct {
	Campaigns  CampaignStore
	Recipients RecipientStore
	Batches    BatchStore
	Queue      QueueStore
	Settings   SettingsStore
	JobState   JobStateStore
}

// NewMySQLStores wires every store onto a shared connection pool.
func NewMySQLStores(db *sql.DB) *Stores {
	return &Stores{
		Campaigns:  NewMySQLCampaignStore(db),
		Recipients: NewMySQLRecipientStore(db),
		Batches:    NewMySQLBatchStore(db),
		Queue:      NewMySQLQueueStore(db),
		Settings:   NewMySQLSettingsStore(db),
		JobState:   NewMySQLJobStateStore(db),
	}
}
