// Package memory provides in-memory implementations of storage ports.
// They back tests and single-process deployments without a database file.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/ports"
)

// BillingStore is an in-memory implementation of ports.BillingStore.
// A single mutex gives Upsert the same atomicity as the SQLite transaction.
type BillingStore struct {
	mu    sync.RWMutex
	ids   ports.IDGenerator
	clock ports.Clock

	records map[billing.AccountClass]map[string]billing.Record // class -> id -> record
	byEmail map[billing.AccountClass]map[string]string         // class -> email -> id
	bySub   map[billing.AccountClass]map[string]string         // class -> subscription -> id
}

// NewBillingStore creates a new in-memory billing store.
func NewBillingStore(ids ports.IDGenerator, clk ports.Clock) *BillingStore {
	s := &BillingStore{
		ids:     ids,
		clock:   clk,
		records: make(map[billing.AccountClass]map[string]billing.Record),
		byEmail: make(map[billing.AccountClass]map[string]string),
		bySub:   make(map[billing.AccountClass]map[string]string),
	}
	for _, c := range billing.Classes {
		s.records[c] = make(map[string]billing.Record)
		s.byEmail[c] = make(map[string]string)
		s.bySub[c] = make(map[string]string)
	}
	return s
}

func (s *BillingStore) checkClass(class billing.AccountClass) error {
	if _, ok := s.records[class]; !ok {
		return fmt.Errorf("unknown account class %q", class)
	}
	return nil
}

// Upsert creates or merges the record for u.AccountEmail.
func (s *BillingStore) Upsert(ctx context.Context, class billing.AccountClass, u billing.Update) (billing.Record, bool, error) {
	if err := u.Validate(); err != nil {
		return billing.Record{}, false, err
	}
	if err := s.checkClass(class); err != nil {
		return billing.Record{}, false, err
	}
	u.AccountEmail = billing.NormalizeEmail(u.AccountEmail)
	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	id, found := "", false
	if u.SubscriptionID != nil && *u.SubscriptionID != "" {
		id, found = s.bySub[class][*u.SubscriptionID]
	}
	if !found {
		id, found = s.byEmail[class][u.AccountEmail]
	}

	var rec billing.Record
	if found {
		rec = s.records[class][id].Apply(u, now)
	} else {
		rec = billing.NewRecord(s.ids.New(), class, u, now)
	}

	if rec.SubscriptionID != "" {
		if owner, taken := s.bySub[class][rec.SubscriptionID]; taken && owner != rec.ID {
			return billing.Record{}, false, fmt.Errorf("subscription %s already belongs to another record", rec.SubscriptionID)
		}
		s.bySub[class][rec.SubscriptionID] = rec.ID
	}
	s.records[class][rec.ID] = rec
	s.byEmail[class][rec.AccountEmail] = rec.ID
	return clone(rec), !found, nil
}

// Get retrieves a record by ID.
func (s *BillingStore) Get(ctx context.Context, class billing.AccountClass, id string) (billing.Record, error) {
	if err := s.checkClass(class); err != nil {
		return billing.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[class][id]
	if !ok {
		return billing.Record{}, billing.ErrNotFound
	}
	return clone(rec), nil
}

// GetByEmail retrieves a record by account email.
func (s *BillingStore) GetByEmail(ctx context.Context, class billing.AccountClass, email string) (billing.Record, error) {
	if err := s.checkClass(class); err != nil {
		return billing.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[class][billing.NormalizeEmail(email)]
	if !ok {
		return billing.Record{}, billing.ErrNotFound
	}
	return clone(s.records[class][id]), nil
}

// GetBySubscriptionID retrieves a record by provider subscription id.
func (s *BillingStore) GetBySubscriptionID(ctx context.Context, class billing.AccountClass, subscriptionID string) (billing.Record, error) {
	if err := s.checkClass(class); err != nil {
		return billing.Record{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySub[class][subscriptionID]
	if !ok {
		return billing.Record{}, billing.ErrNotFound
	}
	return clone(s.records[class][id]), nil
}

// UpdateContent replaces the premium content payload.
func (s *BillingStore) UpdateContent(ctx context.Context, class billing.AccountClass, email string, payload []byte, now time.Time) error {
	if err := s.checkClass(class); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[class][billing.NormalizeEmail(email)]
	if !ok {
		return billing.ErrNotFound
	}
	rec := s.records[class][id]
	rec.ContentPayload = append([]byte(nil), payload...)
	rec.UpdatedAt = now.UTC()
	s.records[class][id] = rec
	return nil
}

// ListActive returns records whose stored status grants access, by period end.
func (s *BillingStore) ListActive(ctx context.Context, class billing.AccountClass) ([]billing.Record, error) {
	if err := s.checkClass(class); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []billing.Record
	for _, rec := range s.records[class] {
		if rec.HasSubscription() && rec.Status.IsPaid() {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return periodEnd(out[i]).Before(periodEnd(out[j]))
	})
	return out, nil
}

// Count returns the number of records for a class.
func (s *BillingStore) Count(ctx context.Context, class billing.AccountClass) (int, error) {
	if err := s.checkClass(class); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[class]), nil
}

func periodEnd(r billing.Record) time.Time {
	if r.CurrentPeriodEnd == nil {
		return time.Time{}
	}
	return *r.CurrentPeriodEnd
}

func clone(r billing.Record) billing.Record {
	if r.ContentPayload != nil {
		r.ContentPayload = append([]byte(nil), r.ContentPayload...)
	}
	return r
}

// Ensure interface compliance.
var _ ports.BillingStore = (*BillingStore)(nil)
