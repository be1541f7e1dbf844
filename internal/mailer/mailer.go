package mailer

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net/smtp"
	"strings"
	"time"

	"campaign_mailer/pkg/models"

	"github.com/google/uuid"
)

// ErrDisabled is returned when outbound mail is switched off in settings.
// Workers leave the work pending rather than failing it.
var ErrDisabled = errors.New("smtp sending is disabled")

// OutboundEmail is one message handed to the mailer
type OutboundEmail struct {
	To         string
	Subject    string
	HTMLBody   string
	TextBody   string
	TrackingID string
	Headers    map[string]string
}

// Mailer transmits a single message per call. Implementations report
// success or failure per attempt; retry policy lives with the callers.
type Mailer interface {
	Send(msg *OutboundEmail) error
	// TestConnection dials and handshakes with the configured server
	// without sending anything. Used by the settings page check.
	TestConnection() (string, error)
}

// ConfigSource yields the current SMTP configuration. Reads go through
// this on every attempt so settings changes apply without a restart.
type ConfigSource interface {
	SMTPConfig() (*models.SMTPConfig, error)
}

type SMTPMailer struct {
	settings ConfigSource
}

func NewSMTPMailer(settings ConfigSource) *SMTPMailer {
	return &SMTPMailer{settings: settings}
}

func (m *SMTPMailer) Send(msg *OutboundEmail) error {
	cfg, err := m.settings.SMTPConfig()
	if err != nil {
		return fmt.Errorf("failed to load smtp settings: %w", err)
	}
	if !cfg.Enabled {
		return ErrDisabled
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("smtp not configured: %w", err)
	}
	if !models.ValidEmail(msg.To) {
		return fmt.Errorf("invalid recipient address: %s", msg.To)
	}

	message, err := buildMessage(cfg, msg)
	if err != nil {
		return err
	}

	client, err := m.dial(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(cfg.FromEmail); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(msg.To); err != nil {
		return fmt.Errorf("failed to set recipient %s: %w", msg.To, err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data transmission: %w", err)
	}
	if _, err := writer.Write(message); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write message data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish data transmission: %w", err)
	}

	// The server accepted the message once DATA closed cleanly. A failed
	// QUIT after that must not turn a delivered message into a failure.
	if err := client.Quit(); err != nil {
		log.Printf("Error closing SMTP session after delivery to %s: %v", msg.To, err)
	}
	return nil
}

func (m *SMTPMailer) TestConnection() (string, error) {
	cfg, err := m.settings.SMTPConfig()
	if err != nil {
		return "", fmt.Errorf("failed to load smtp settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	client, err := m.dial(cfg)
	if err != nil {
		return "", err
	}
	defer client.Close()

	if err := client.Quit(); err != nil {
		return "", fmt.Errorf("handshake succeeded but quit failed: %w", err)
	}
	return fmt.Sprintf("Connected to %s", cfg.Addr()), nil
}

// dial connects and authenticates according to the configured encryption
// mode: implicit TLS for ssl, STARTTLS upgrade for tls, cleartext for none.
func (m *SMTPMailer) dial(cfg *models.SMTPConfig) (*smtp.Client, error) {
	var client *smtp.Client

	if cfg.Encryption == models.EncryptionSSL {
		conn, err := tls.Dial("tcp", cfg.Addr(), &tls.Config{ServerName: cfg.Host})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create SMTP client: %w", err)
		}
	} else {
		var err error
		client, err = smtp.Dial(cfg.Addr())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to SMTP server: %w", err)
		}
		if cfg.Encryption == models.EncryptionTLS {
			if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
				client.Close()
				return nil, fmt.Errorf("failed to start TLS: %w", err)
			}
		}
	}

	if cfg.Username != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	return client, nil
}

// buildMessage assembles the RFC 5322 message, multipart/alternative when
// both bodies are present.
func buildMessage(cfg *models.SMTPConfig, msg *OutboundEmail) ([]byte, error) {
	if msg.HTMLBody == "" && msg.TextBody == "" {
		return nil, fmt.Errorf("either HTML or text body must be provided")
	}

	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("From: %s\r\n", cfg.FromHeader()))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", msg.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", msg.Subject))
	buf.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	buf.WriteString(fmt.Sprintf("Message-ID: <%s@%s>\r\n", uuid.New().String(), cfg.Host))
	buf.WriteString("MIME-Version: 1.0\r\n")
	for k, v := range msg.Headers {
		buf.WriteString(fmt.Sprintf("%s: %s\r\n", k, v))
	}

	switch {
	case msg.HTMLBody != "" && msg.TextBody != "":
		boundary := fmt.Sprintf("=_%s", uuid.New().String()[:16])
		buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary))

		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		buf.WriteString(msg.TextBody)
		buf.WriteString("\r\n\r\n")

		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		buf.WriteString(msg.HTMLBody)
		buf.WriteString("\r\n\r\n")

		buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	case msg.HTMLBody != "":
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		buf.WriteString(msg.HTMLBody)
		buf.WriteString("\r\n")
	default:
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
		buf.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		buf.WriteString(msg.TextBody)
		buf.WriteString("\r\n")
	}

	return buf.Bytes(), nil
}

// IsTransient reports whether a send failure is worth retrying: network
// trouble or an SMTP 4xx reply. Permanent 5xx rejections are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())

	transient := []string{
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"no such host",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"too many connections",
	}
	for _, marker := range transient {
		if strings.Contains(errStr, marker) {
			return true
		}
	}

	for _, code := range []string{"421 ", "450 ", "451 ", "452 "} {
		if strings.Contains(errStr, code) {
			return true
		}
	}
	return false
}
