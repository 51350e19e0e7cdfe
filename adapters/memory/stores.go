package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/purchase"
	"github.com/tutorlink/tutorbilling/domain/webhook"
	"github.com/tutorlink/tutorbilling/ports"
)

// CustomerStore is an in-memory implementation of ports.CustomerStore.
type CustomerStore struct {
	mu        sync.RWMutex
	customers map[string]string // email -> customer id
}

// NewCustomerStore creates a new in-memory customer store.
func NewCustomerStore() *CustomerStore {
	return &CustomerStore{customers: make(map[string]string)}
}

func (s *CustomerStore) GetByEmail(ctx context.Context, email string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.customers[billing.NormalizeEmail(email)]
	if !ok {
		return "", billing.ErrNotFound
	}
	return id, nil
}

func (s *CustomerStore) Save(ctx context.Context, email, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[billing.NormalizeEmail(email)] = customerID
	return nil
}

// PurchaseStore is an in-memory implementation of ports.PurchaseStore.
type PurchaseStore struct {
	mu        sync.RWMutex
	bySession map[string]purchase.Receipt
}

// NewPurchaseStore creates a new in-memory purchase store.
func NewPurchaseStore() *PurchaseStore {
	return &PurchaseStore{bySession: make(map[string]purchase.Receipt)}
}

func (s *PurchaseStore) Create(ctx context.Context, r purchase.Receipt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySession[r.SessionID]; exists {
		return false, nil
	}
	r.BuyerEmail = billing.NormalizeEmail(r.BuyerEmail)
	s.bySession[r.SessionID] = r
	return true, nil
}

func (s *PurchaseStore) GetBySession(ctx context.Context, sessionID string) (purchase.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.bySession[sessionID]
	if !ok {
		return purchase.Receipt{}, purchase.ErrNotFound
	}
	return r, nil
}

func (s *PurchaseStore) ListByBuyer(ctx context.Context, email string, limit int) ([]purchase.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = billing.NormalizeEmail(email)
	var out []purchase.Receipt
	for _, r := range s.bySession {
		if r.BuyerEmail == email {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EventLog is an in-memory implementation of ports.EventLog.
type EventLog struct {
	mu      sync.Mutex
	entries map[string]webhook.Entry
}

// NewEventLog creates a new in-memory event ledger.
func NewEventLog() *EventLog {
	return &EventLog{entries: make(map[string]webhook.Entry)}
}

func (l *EventLog) Begin(ctx context.Context, eventID, eventType string, now time.Time) (webhook.Entry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prior, seen := l.entries[eventID]
	if !seen {
		l.entries[eventID] = webhook.Entry{
			EventID:    eventID,
			EventType:  eventType,
			Status:     webhook.StatusReceived,
			Attempts:   1,
			ReceivedAt: now.UTC(),
		}
		return webhook.Entry{}, false, nil
	}

	next := prior
	next.Attempts++
	if webhook.ShouldDispatch(prior, true) {
		next.Status = webhook.StatusReceived
	}
	l.entries[eventID] = next
	return prior, true, nil
}

func (l *EventLog) Finish(ctx context.Context, eventID string, status webhook.Status, errText string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[eventID]
	if !ok {
		return webhook.ErrNotFound
	}
	at := now.UTC()
	e.Status = status
	e.Error = errText
	e.ProcessedAt = &at
	l.entries[eventID] = e
	return nil
}

func (l *EventLog) Get(ctx context.Context, eventID string) (webhook.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[eventID]
	if !ok {
		return webhook.Entry{}, webhook.ErrNotFound
	}
	return e, nil
}

func (l *EventLog) ListFailed(ctx context.Context, limit int) ([]webhook.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []webhook.Entry
	for _, e := range l.entries {
		if e.Status == webhook.StatusFailed {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ensure interface compliance.
var (
	_ ports.CustomerStore = (*CustomerStore)(nil)
	_ ports.PurchaseStore = (*PurchaseStore)(nil)
	_ ports.EventLog      = (*EventLog)(nil)
)
