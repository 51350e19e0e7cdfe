package app

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/rs/zerolog"
	"github.com/tutorlink/tutorbilling/adapters/metrics"
	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/purchase"
	"github.com/tutorlink/tutorbilling/ports"
)

// NotificationKind names a billing email.
type NotificationKind string

const (
	NotifyPremiumActivated     NotificationKind = "premium_activated"
	NotifyPaymentReceipt       NotificationKind = "payment_receipt"
	NotifyPaymentFailed        NotificationKind = "payment_failed"
	NotifySubscriptionCanceled NotificationKind = "subscription_canceled"
	NotifyPurchaseReceipt      NotificationKind = "purchase_receipt"
)

// Notification is the structured payload handed to the email collaborator.
type Notification struct {
	Kind  NotificationKind
	To    string
	Class billing.AccountClass

	Amount         int64
	Currency       string
	NextChargeDate *time.Time
	ExpiresAt      *time.Time

	InvoiceRef string
	InvoiceURL string

	PurchaseKind purchase.Kind
	Reference    string // request id or target tutor id for one-time purchases
}

// NotifierConfig configures rendering and delivery.
type NotifierConfig struct {
	AppName string
	BaseURL string
	Timeout time.Duration
}

// Notifier renders notifications and sends them on detached goroutines.
// Failures are logged and counted, never retried.
type Notifier struct {
	sender  ports.EmailSender
	config  NotifierConfig
	metrics *metrics.Collector
	logger  zerolog.Logger

	subjects *template.Template
	texts    *template.Template
	htmls    *htmltemplate.Template

	wg sync.WaitGroup
}

// NewNotifier parses the notification templates.
func NewNotifier(sender ports.EmailSender, cfg NotifierConfig, m *metrics.Collector, logger zerolog.Logger) (*Notifier, error) {
	if cfg.AppName == "" {
		cfg.AppName = "TutorLink"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	funcs := template.FuncMap{"amount": FormatAmount, "date": formatDate}

	subjects, err := template.New("subjects").Funcs(funcs).Parse(subjectTemplates)
	if err != nil {
		return nil, fmt.Errorf("parse subject templates: %w", err)
	}
	texts, err := template.New("texts").Funcs(funcs).Parse(textTemplates)
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	htmls, err := htmltemplate.New("htmls").Funcs(htmltemplate.FuncMap(funcs)).Parse(htmlLayout + htmlTemplates)
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}

	return &Notifier{
		sender:   sender,
		config:   cfg,
		metrics:  m,
		logger:   logger.With().Str("component", "notifier").Logger(),
		subjects: subjects,
		texts:    texts,
		htmls:    htmls,
	}, nil
}

type notificationData struct {
	Notification
	AppName string
	BaseURL string
}

// Render builds the email for a notification.
func (n *Notifier) Render(note Notification) (ports.EmailMessage, error) {
	data := notificationData{Notification: note, AppName: n.config.AppName, BaseURL: n.config.BaseURL}
	name := string(note.Kind)

	var subject, text, html bytes.Buffer
	if err := n.subjects.ExecuteTemplate(&subject, name, data); err != nil {
		return ports.EmailMessage{}, fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := n.texts.ExecuteTemplate(&text, name, data); err != nil {
		return ports.EmailMessage{}, fmt.Errorf("render %s text: %w", name, err)
	}
	if err := n.htmls.ExecuteTemplate(&html, name, data); err != nil {
		return ports.EmailMessage{}, fmt.Errorf("render %s html: %w", name, err)
	}

	return ports.EmailMessage{
		To:       note.To,
		Subject:  strings.TrimSpace(subject.String()),
		TextBody: strings.TrimSpace(text.String()),
		HTMLBody: html.String(),
		Tag:      name,
	}, nil
}

// Notify sends note in the background. It never blocks on delivery.
func (n *Notifier) Notify(note Notification) {
	if n == nil || n.sender == nil {
		return
	}
	if note.To == "" {
		n.logger.Warn().Str("kind", string(note.Kind)).Msg("notification has no recipient, skipped")
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				n.logger.Error().Interface("panic", r).Str("kind", string(note.Kind)).Msg("notification panicked")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), n.config.Timeout)
		defer cancel()

		err := n.send(ctx, note)
		n.metrics.Notification(string(note.Kind), err)
		if err != nil {
			n.logger.Error().Err(err).
				Str("kind", string(note.Kind)).
				Str("to", note.To).
				Msg("notification failed")
			return
		}
		n.logger.Debug().Str("kind", string(note.Kind)).Str("to", note.To).Msg("notification sent")
	}()
}

func (n *Notifier) send(ctx context.Context, note Notification) error {
	msg, err := n.Render(note)
	if err != nil {
		return err
	}
	return n.sender.Send(ctx, msg)
}

// Wait blocks until in-flight notifications finish or ctx ends.
func (n *Notifier) Wait(ctx context.Context) error {
	if n == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FormatAmount renders minor units as "19.99 USD".
func FormatAmount(amount int64, currency string) string {
	cur := strings.ToUpper(currency)
	if zeroDecimal[cur] {
		return fmt.Sprintf("%d %s", amount, cur)
	}
	sign := ""
	if amount < 0 {
		sign, amount = "-", -amount
	}
	return strings.TrimSpace(fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, cur))
}

var zeroDecimal = map[string]bool{"JPY": true, "KRW": true, "VND": true, "CLP": true}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("January 2, 2006")
}
