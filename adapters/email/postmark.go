package email

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
	"github.com/tutorlink/tutorbilling/ports"
)

// PostmarkConfig holds Postmark API credentials.
type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	From         string
	ReplyTo      string
	BaseURL      string // overrides the API endpoint, tests only
}

// PostmarkSender sends email through Postmark's transactional API.
type PostmarkSender struct {
	client *postmark.Client
	config PostmarkConfig
}

// NewPostmarkSender creates a Postmark-backed sender.
func NewPostmarkSender(cfg PostmarkConfig) (*PostmarkSender, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: postmark server token is required", ErrInvalidConfig)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("%w: from address is required", ErrInvalidConfig)
	}
	client := postmark.NewClient(cfg.ServerToken, cfg.AccountToken)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	return &PostmarkSender{client: client, config: cfg}, nil
}

// Send delivers msg. The notification kind is passed as the Postmark tag.
func (s *PostmarkSender) Send(ctx context.Context, msg ports.EmailMessage) error {
	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:       s.config.From,
		ReplyTo:    s.config.ReplyTo,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTMLBody,
		TextBody:   msg.TextBody,
		TrackOpens: false,
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendFailed, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}
	return nil
}

var _ ports.EmailSender = (*PostmarkSender)(nil)
