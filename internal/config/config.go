package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MySQL  MySQLConfig
	Worker WorkerConfig
	Server ServerConfig
}

type MySQLConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// GetDSN returns the MySQL Data Source Name for database connections
func (m *MySQLConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&collation=utf8mb4_unicode_ci",
		m.User, m.Password, m.Host, m.Port, m.Database)
}

type WorkerConfig struct {
	// SchedulerInterval is how often due campaigns are promoted and active
	// campaigns drained.
	SchedulerInterval time.Duration
	// QueueInterval is how often the generic queue is processed.
	QueueInterval time.Duration
	// QueueMaxItems bounds the number of queue items handled per run.
	QueueMaxItems int
	// CampaignBatchSize is how many recipients go into one batch.
	CampaignBatchSize int
	// BatchDelay is the pause between batches, throttling outbound rate.
	BatchDelay time.Duration
	// MaxAttempts caps send attempts per queue item before retry gives up.
	MaxAttempts int
	// RetryInterval is the minimum gap between failed-item retry sweeps.
	RetryInterval time.Duration
	// CleanupInterval is the minimum gap between sent-item purges.
	CleanupInterval time.Duration
	// CleanupRetentionDays keeps sent queue items this long before purging.
	CleanupRetentionDays int
	// DailySendLimit caps sends per from-address per day. Zero disables it.
	DailySendLimit int
	// ClaimTimeout is how long a batch or queue item may sit claimed before
	// it is released back to pending for another worker.
	ClaimTimeout time.Duration
}

type ServerConfig struct {
	HTTPPort int
	// BaseURL is the public origin used to build tracking links.
	BaseURL  string
	LogLevel string
}

func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{
		MySQL: MySQLConfig{
			Host:     getEnvString("MYSQL_HOST", "localhost"),
			Port:     getEnvInt("MYSQL_PORT", 3306),
			User:     getEnvString("MYSQL_USER", "root"),
			Password: getEnvString("MYSQL_PASSWORD", ""),
			Database: getEnvString("MYSQL_DATABASE", "crm_mailer"),
		},
		Worker: WorkerConfig{
			SchedulerInterval:    getEnvDuration("SCHEDULER_INTERVAL", time.Minute),
			QueueInterval:        getEnvDuration("QUEUE_PROCESS_INTERVAL", time.Minute),
			QueueMaxItems:        getEnvInt("QUEUE_MAX_ITEMS", 50),
			CampaignBatchSize:    getEnvInt("CAMPAIGN_BATCH_SIZE", 50),
			BatchDelay:           getEnvDuration("BATCH_DELAY", 2*time.Second),
			MaxAttempts:          getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
			RetryInterval:        getEnvDuration("QUEUE_RETRY_INTERVAL", time.Hour),
			CleanupInterval:      getEnvDuration("QUEUE_CLEANUP_INTERVAL", 24*time.Hour),
			CleanupRetentionDays: getEnvInt("QUEUE_CLEANUP_RETENTION_DAYS", 7),
			DailySendLimit:       getEnvInt("DAILY_SEND_LIMIT", 0),
			ClaimTimeout:         getEnvDuration("CLAIM_TIMEOUT", 15*time.Minute),
		},
		Server: ServerConfig{
			HTTPPort: getEnvInt("HTTP_PORT", 8080),
			BaseURL:  getEnvString("BASE_URL", "http://localhost:8080"),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
	}

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var i int
		if err := json.Unmarshal([]byte(value), &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
