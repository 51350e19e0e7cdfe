package email

import (
	"errors"
	"fmt"

	"github.com/tutorlink/tutorbilling/ports"
)

var (
	// ErrInvalidConfig is returned when a sender is misconfigured.
	ErrInvalidConfig = errors.New("invalid email configuration")
	// ErrSendFailed wraps delivery failures from remote APIs.
	ErrSendFailed = errors.New("failed to send email")
)

// Config selects and configures an email sender.
type Config struct {
	Provider string // smtp, postmark, mock, none
	SMTP     SMTPConfig
	Postmark PostmarkConfig
}

// NewSender creates an email sender from configuration.
func NewSender(cfg Config) (ports.EmailSender, error) {
	switch cfg.Provider {
	case "smtp":
		return NewSMTPSender(cfg.SMTP)

	case "postmark":
		return NewPostmarkSender(cfg.Postmark)

	case "mock":
		return NewMockSender(), nil

	case "none", "":
		return NewNoopSender(), nil

	default:
		return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
	}
}
