package worker

import (
	"errors"
	"fmt"
	"sync"

	"campaign_mailer/internal/mailer"
)

// stubMailer records sends and fails addresses on its reject list.
type stubMailer struct {
	mu       sync.Mutex
	sent     []string
	reject   map[string]error
	disabled bool
}

func newStubMailer() *stubMailer {
	return &stubMailer{reject: make(map[string]error)}
}

func (m *stubMailer) Send(msg *mailer.OutboundEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disabled {
		return mailer.ErrDisabled
	}
	if err, ok := m.reject[msg.To]; ok {
		return err
	}
	m.sent = append(m.sent, msg.To)
	return nil
}

func (m *stubMailer) TestConnection() (string, error) {
	if m.disabled {
		return "", errors.New("disabled")
	}
	return "ok", nil
}

func (m *stubMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *stubMailer) setDisabled(disabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = disabled
}

func testEmails(n int) []string {
	emails := make([]string, n)
	for i := range emails {
		emails[i] = fmt.Sprintf("user%03d@example.com", i)
	}
	return emails
}
