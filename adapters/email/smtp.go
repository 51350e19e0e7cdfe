// Package email provides email sending adapters.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/tutorlink/tutorbilling/ports"
)

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string // sender email address
	FromName string // sender display name

	UseTLS      bool // STARTTLS
	SkipVerify  bool
	UseImplicit bool // implicit TLS (port 465)

	Timeout time.Duration
}

// DefaultSMTPConfig returns a configuration with sensible defaults.
func DefaultSMTPConfig() SMTPConfig {
	return SMTPConfig{
		Host:     "localhost",
		Port:     25,
		From:     "billing@localhost",
		FromName: "TutorLink Billing",
		UseTLS:   true,
		Timeout:  30 * time.Second,
	}
}

// SMTPSender implements ports.EmailSender using SMTP.
type SMTPSender struct {
	config SMTPConfig
	now    func() time.Time
}

// NewSMTPSender creates a new SMTP email sender.
func NewSMTPSender(config SMTPConfig) (*SMTPSender, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("%w: SMTP host is required", ErrInvalidConfig)
	}
	if config.From == "" {
		return nil, fmt.Errorf("%w: from address is required", ErrInvalidConfig)
	}
	if config.Port == 0 {
		config.Port = 587
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &SMTPSender{config: config, now: time.Now}, nil
}

// Send sends an email via SMTP.
func (s *SMTPSender) Send(ctx context.Context, msg ports.EmailMessage) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	body := s.buildMessage(msg)

	if s.config.UseImplicit {
		return s.sendImplicitTLS(ctx, addr, msg.To, body)
	}
	return s.sendSTARTTLS(ctx, addr, msg.To, body)
}

// buildMessage renders the RFC 5322 message, multipart when both bodies are set.
func (s *SMTPSender) buildMessage(msg ports.EmailMessage) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s <%s>\r\n", s.config.FromName, s.config.From)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	if msg.Tag != "" {
		fmt.Fprintf(&buf, "X-Notification-Kind: %s\r\n", msg.Tag)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")

	switch {
	case msg.HTMLBody != "" && msg.TextBody != "":
		boundary := fmt.Sprintf("boundary-%d", s.now().UnixNano())
		fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", boundary)
		fmt.Fprintf(&buf, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, msg.TextBody)
		fmt.Fprintf(&buf, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", boundary, msg.HTMLBody)
		fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	case msg.HTMLBody != "":
		buf.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		buf.WriteString(msg.HTMLBody)
	default:
		buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		buf.WriteString(msg.TextBody)
	}
	return buf.Bytes()
}

func (s *SMTPSender) tlsConfig() *tls.Config {
	return &tls.Config{
		ServerName:         s.config.Host,
		InsecureSkipVerify: s.config.SkipVerify,
	}
}

// sendSTARTTLS sends email using STARTTLS (port 587/25).
func (s *SMTPSender) sendSTARTTLS(ctx context.Context, addr, to string, message []byte) error {
	dialer := &net.Dialer{Timeout: s.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	if s.config.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(s.tlsConfig()); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	return s.deliver(client, to, message)
}

// sendImplicitTLS sends email using implicit TLS (port 465).
func (s *SMTPSender) sendImplicitTLS(ctx context.Context, addr, to string, message []byte) error {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: s.config.Timeout},
		Config:    s.tlsConfig(),
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial tls: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer client.Close()

	return s.deliver(client, to, message)
}

func (s *SMTPSender) deliver(client *smtp.Client, to string, message []byte) error {
	if s.config.Username != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(s.config.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}
	return client.Quit()
}

// Ensure interface compliance.
var _ ports.EmailSender = (*SMTPSender)(nil)
