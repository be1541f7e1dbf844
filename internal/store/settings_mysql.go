package store

import (
	"database/sql"
	"fmt"

	"campaign_mailer/pkg/models"
)

type MySQLSettingsStore struct {
	db *sql.DB
}

func NewMySQLSettingsStore(db *sql.DB) *MySQLSettingsStore {
	return &MySQLSettingsStore{db: db}
}

func (s *MySQLSettingsStore) GetAll() (map[string]string, error) {
	rows, err := s.db.Query("SELECT setting_key, setting_value FROM smtp_settings")
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

func (s *MySQLSettingsStore) Update(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO smtp_settings (setting_key, setting_value)
		VALUES (?, ?)
		ON DUPLICATE KEY UPDATE setting_value = VALUES(setting_value), updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to update setting %s: %w", key, err)
	}
	return nil
}

func (s *MySQLSettingsStore) SMTPConfig() (*models.SMTPConfig, error) {
	settings, err := s.GetAll()
	if err != nil {
		return nil, err
	}
	return models.SMTPConfigFromSettings(settings), nil
}
