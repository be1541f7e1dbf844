package models

import (
	"fmt"
	"strconv"
)

// Setting keys persisted in the smtp_settings table. Mutated through the
// settings API, read on every send attempt.
const (
	SettingSMTPHost       = "smtp_host"
	SettingSMTPPort       = "smtp_port"
	SettingSMTPUsername   = "smtp_username"
	SettingSMTPPassword   = "smtp_password"
	SettingSMTPEncryption = "smtp_encryption"
	SettingSMTPFromEmail  = "smtp_from_email"
	SettingSMTPFromName   = "smtp_from_name"
	SettingSMTPEnabled    = "smtp_enabled"
)

// SMTPEncryption selects the transport security for outbound SMTP
type SMTPEncryption string

const (
	EncryptionNone SMTPEncryption = "none"
	EncryptionTLS  SMTPEncryption = "tls" // STARTTLS upgrade
	EncryptionSSL  SMTPEncryption = "ssl" // implicit TLS
)

// SMTPConfig is the typed view of the smtp_settings rows
type SMTPConfig struct {
	Host       string         `json:"smtp_host"`
	Port       int            `json:"smtp_port"`
	Username   string         `json:"smtp_username"`
	Password   string         `json:"-"`
	Encryption SMTPEncryption `json:"smtp_encryption"`
	FromEmail  string         `json:"smtp_from_email"`
	FromName   string         `json:"smtp_from_name"`
	Enabled    bool           `json:"smtp_enabled"`
}

// SMTPConfigFromSettings builds an SMTPConfig from the raw key/value rows
func SMTPConfigFromSettings(settings map[string]string) *SMTPConfig {
	port := 587
	if p, err := strconv.Atoi(settings[SettingSMTPPort]); err == nil && p > 0 {
		port = p
	}
	enc := SMTPEncryption(settings[SettingSMTPEncryption])
	switch enc {
	case EncryptionNone, EncryptionTLS, EncryptionSSL:
	default:
		enc = EncryptionTLS
	}
	return &SMTPConfig{
		Host:       settings[SettingSMTPHost],
		Port:       port,
		Username:   settings[SettingSMTPUsername],
		Password:   settings[SettingSMTPPassword],
		Encryption: enc,
		FromEmail:  settings[SettingSMTPFromEmail],
		FromName:   settings[SettingSMTPFromName],
		Enabled:    settings[SettingSMTPEnabled] == "1" || settings[SettingSMTPEnabled] == "true",
	}
}

// Validate checks that the configuration is complete enough to dial
func (c *SMTPConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("smtp host is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid smtp port: %d", c.Port)
	}
	if c.FromEmail == "" {
		return fmt.Errorf("from email is required")
	}
	if !ValidEmail(c.FromEmail) {
		return fmt.Errorf("invalid from email: %s", c.FromEmail)
	}
	return nil
}

// Addr returns the host:port dial address
func (c *SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FromHeader returns the RFC 5322 From value
func (c *SMTPConfig) FromHeader() string {
	if c.FromName != "" {
		return fmt.Sprintf("%s <%s>", c.FromName, c.FromEmail)
	}
	return c.FromEmail
}
