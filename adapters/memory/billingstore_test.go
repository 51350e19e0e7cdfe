package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tutorlink/tutorbilling/adapters/clock"
	"github.com/tutorlink/tutorbilling/adapters/idgen"
	"github.com/tutorlink/tutorbilling/adapters/memory"
	"github.com/tutorlink/tutorbilling/domain/billing"
	"github.com/tutorlink/tutorbilling/domain/purchase"
	"github.com/tutorlink/tutorbilling/domain/webhook"
)

var now = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func TestBillingStore_Upsert(t *testing.T) {
	store := memory.NewBillingStore(idgen.NewSequential("m_"), clock.NewFake(now))
	ctx := context.Background()

	rec, inserted, err := store.Upsert(ctx, billing.ClassTutor, billing.Update{
		AccountEmail:   "T@x.com",
		SubscriptionID: billing.String("sub_1"),
		Status:         billing.StatusPtr(billing.StatusActive),
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if !inserted || rec.ID != "m_1" || rec.AccountEmail != "t@x.com" {
		t.Errorf("first upsert = %+v inserted=%v", rec, inserted)
	}

	rec, inserted, err = store.Upsert(ctx, billing.ClassTutor, billing.Update{
		AccountEmail:   "other@x.com",
		SubscriptionID: billing.String("sub_1"),
		Status:         billing.StatusPtr(billing.StatusPastDue),
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if inserted || rec.ID != "m_1" {
		t.Errorf("subscription id should target the existing record, got %+v", rec)
	}
	if rec.Status != billing.StatusPastDue {
		t.Errorf("Status = %s, want past_due", rec.Status)
	}

	if n, _ := store.Count(ctx, billing.ClassTutor); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	if n, _ := store.Count(ctx, billing.ClassStudent); n != 0 {
		t.Errorf("student Count = %d, want 0", n)
	}
}

func TestBillingStore_ConcurrentUpserts(t *testing.T) {
	store := memory.NewBillingStore(idgen.NewSequential("m_"), clock.NewFake(now))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := billing.Update{AccountEmail: "race@x.com"}
			if i%3 == 0 {
				u.SubscriptionID = billing.String("sub_r")
				u.Status = billing.StatusPtr(billing.StatusActive)
			}
			if _, _, err := store.Upsert(ctx, billing.ClassStudent, u); err != nil {
				t.Errorf("Upsert failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	rec, err := store.GetByEmail(ctx, billing.ClassStudent, "race@x.com")
	if err != nil {
		t.Fatalf("GetByEmail failed: %v", err)
	}
	if rec.SubscriptionID != "sub_r" {
		t.Errorf("SubscriptionID = %q, want sub_r", rec.SubscriptionID)
	}
	if n, _ := store.Count(ctx, billing.ClassStudent); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestBillingStore_ContentAndListActive(t *testing.T) {
	store := memory.NewBillingStore(idgen.NewSequential("m_"), clock.NewFake(now))
	ctx := context.Background()

	if err := store.UpdateContent(ctx, billing.ClassTutor, "x@x.com", []byte("{}"), now); err != billing.ErrNotFound {
		t.Errorf("UpdateContent on missing = %v, want ErrNotFound", err)
	}

	end := now.Add(billing.Day)
	_, _, _ = store.Upsert(ctx, billing.ClassTutor, billing.Update{
		AccountEmail:     "a@x.com",
		SubscriptionID:   billing.String("sub_a"),
		Status:           billing.StatusPtr(billing.StatusActive),
		CurrentPeriodEnd: &end,
	})
	_, _, _ = store.Upsert(ctx, billing.ClassTutor, billing.Update{AccountEmail: "b@x.com", LegacyPaid: billing.Bool(true)})

	payload := []byte(`{"bio":"x"}`)
	if err := store.UpdateContent(ctx, billing.ClassTutor, "a@x.com", payload, now); err != nil {
		t.Fatalf("UpdateContent failed: %v", err)
	}
	payload[0] = 'X'
	rec, _ := store.GetByEmail(ctx, billing.ClassTutor, "a@x.com")
	if string(rec.ContentPayload) != `{"bio":"x"}` {
		t.Errorf("stored payload aliased caller slice: %s", rec.ContentPayload)
	}

	active, _ := store.ListActive(ctx, billing.ClassTutor)
	if len(active) != 1 || active[0].SubscriptionID != "sub_a" {
		t.Errorf("ListActive = %+v", active)
	}
}

func TestPurchaseStore(t *testing.T) {
	store := memory.NewPurchaseStore()
	ctx := context.Background()
	r := purchase.Receipt{ID: "p1", SessionID: "cs_1", Kind: purchase.KindTeacherPurchase, BuyerEmail: "B@x.com", CreatedAt: now}

	if ok, _ := store.Create(ctx, r); !ok {
		t.Error("first Create should record")
	}
	if ok, _ := store.Create(ctx, r); ok {
		t.Error("second Create should be a no-op")
	}
	list, _ := store.ListByBuyer(ctx, "b@x.com", 5)
	if len(list) != 1 {
		t.Errorf("ListByBuyer len = %d, want 1", len(list))
	}
}

func TestEventLog(t *testing.T) {
	log := memory.NewEventLog()
	ctx := context.Background()

	if _, seen, _ := log.Begin(ctx, "evt_1", "invoice.paid", now); seen {
		t.Error("first delivery reported as seen")
	}
	_ = log.Finish(ctx, "evt_1", webhook.StatusProcessed, "", now)

	prior, seen, _ := log.Begin(ctx, "evt_1", "invoice.paid", now)
	if !seen || webhook.ShouldDispatch(prior, seen) {
		t.Errorf("processed event should be a duplicate, got %+v", prior)
	}
	e, _ := log.Get(ctx, "evt_1")
	if e.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", e.Attempts)
	}
}
