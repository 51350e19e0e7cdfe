package email

import (
	"context"
	"fmt"
	"sync"

	"github.com/tutorlink/tutorbilling/ports"
)

// MockSender stores sent emails in memory instead of sending them.
type MockSender struct {
	mu     sync.Mutex
	emails []SentEmail
	sent   chan struct{}

	ShouldFail bool
	FailError  error
}

// SentEmail is an email captured by MockSender.
type SentEmail struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	Tag      string
}

// NewMockSender creates a new mock email sender.
func NewMockSender() *MockSender {
	return &MockSender{sent: make(chan struct{}, 64)}
}

// Send stores the email in memory.
func (m *MockSender) Send(ctx context.Context, msg ports.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldFail {
		if m.FailError != nil {
			return m.FailError
		}
		return fmt.Errorf("mock email send failure")
	}

	m.emails = append(m.emails, SentEmail{
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
		Tag:      msg.Tag,
	})
	select {
	case m.sent <- struct{}{}:
	default:
	}
	return nil
}

// Sent returns a channel that receives after every stored email. Useful when
// sends happen on detached goroutines.
func (m *MockSender) Sent() <-chan struct{} {
	return m.sent
}

// GetEmails returns all stored emails.
func (m *MockSender) GetEmails() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]SentEmail, len(m.emails))
	copy(result, m.emails)
	return result
}

// GetLastEmail returns the most recently stored email.
func (m *MockSender) GetLastEmail() (SentEmail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.emails) == 0 {
		return SentEmail{}, false
	}
	return m.emails[len(m.emails)-1], true
}

// FindByTo finds all emails sent to a specific address.
func (m *MockSender) FindByTo(to string) []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []SentEmail
	for _, e := range m.emails {
		if e.To == to {
			result = append(result, e)
		}
	}
	return result
}

// FindByTag finds all emails of a notification kind.
func (m *MockSender) FindByTag(tag string) []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []SentEmail
	for _, e := range m.emails {
		if e.Tag == tag {
			result = append(result, e)
		}
	}
	return result
}

// Count returns the number of emails sent.
func (m *MockSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.emails)
}

// Clear removes all stored emails.
func (m *MockSender) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails = nil
}

// SetShouldFail configures the mock to fail on all send attempts.
func (m *MockSender) SetShouldFail(fail bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldFail = fail
	m.FailError = err
}

// Ensure interface compliance.
var _ ports.EmailSender = (*MockSender)(nil)
