package sqlite_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tutorlink/tutorbilling/domain/billing"
)

func subscriptionCreated(email, subID string, periodEnd time.Time) billing.Update {
	start := periodEnd.Add(-30 * billing.Day)
	return billing.Update{
		AccountEmail:       email,
		CustomerID:         billing.String("cus_1"),
		SubscriptionID:     billing.String(subID),
		Status:             billing.StatusPtr(billing.StatusActive),
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &periodEnd,
		SessionID:          billing.String("cs_123"),
		PaymentAmount:      billing.Int64(1999),
	}
}

func TestBillingStore_UpsertCreatesThenMerges(t *testing.T) {
	db := setupTestDB(t)
	store, clk := newBillingStore(t, db)
	ctx := context.Background()

	end := testNow.Add(30 * billing.Day)
	rec, inserted, err := store.Upsert(ctx, billing.ClassTutor, subscriptionCreated("T@x.com", "sub_1", end))
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, "rec_1", rec.ID)
	assert.Equal(t, "t@x.com", rec.AccountEmail)
	assert.Equal(t, billing.StatusActive, rec.Status)
	assert.True(t, rec.LegacyPaid)
	require.NotNil(t, rec.CurrentPeriodEnd)
	assert.True(t, rec.CurrentPeriodEnd.Equal(end))

	clk.Advance(time.Hour)
	rec, inserted, err = store.Upsert(ctx, billing.ClassTutor, billing.Update{
		AccountEmail:   "t@x.com",
		SubscriptionID: billing.String("sub_1"),
		Status:         billing.StatusPtr(billing.StatusPastDue),
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "rec_1", rec.ID)
	assert.Equal(t, billing.StatusPastDue, rec.Status)
	assert.False(t, rec.LegacyPaid)
	assert.Equal(t, "cus_1", rec.CustomerID, "absent fields are preserved")
	assert.Equal(t, int64(1999), rec.PaymentAmount)

	stored, err := store.GetBySubscriptionID(ctx, billing.ClassTutor, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, rec.Status, stored.Status)
	assert.Equal(t, "cs_123", stored.SessionID)
	assert.True(t, stored.UpdatedAt.After(stored.CreatedAt))
}

func TestBillingStore_IdempotentCreation(t *testing.T) {
	db := setupTestDB(t)
	store, _ := newBillingStore(t, db)
	ctx := context.Background()

	u := subscriptionCreated("t@x.com", "sub_1", testNow.Add(30*billing.Day))
	_, _, err := store.Upsert(ctx, billing.ClassTutor, u)
	require.NoError(t, err)
	_, inserted, err := store.Upsert(ctx, billing.ClassTutor, u)
	require.NoError(t, err)
	assert.False(t, inserted)

	n, err := store.Count(ctx, billing.ClassTutor)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBillingStore_SubscriptionIDWinsOverEmail(t *testing.T) {
	db := setupTestDB(t)
	store, _ := newBillingStore(t, db)
	ctx := context.Background()

	orig, _, err := store.Upsert(ctx, billing.ClassStudent, subscriptionCreated("old@x.com", "sub_9", testNow.Add(billing.Day)))
	require.NoError(t, err)

	rec, inserted, err := store.Upsert(ctx, billing.ClassStudent, billing.Update{
		AccountEmail:   "new@x.com",
		SubscriptionID: billing.String("sub_9"),
		Status:         billing.StatusPtr(billing.StatusCanceled),
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, orig.ID, rec.ID)
	assert.Equal(t, "old@x.com", rec.AccountEmail)

	_, err = store.GetByEmail(ctx, billing.ClassStudent, "new@x.com")
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestBillingStore_ClassesAreSeparate(t *testing.T) {
	db := setupTestDB(t)
	store, _ := newBillingStore(t, db)
	ctx := context.Background()

	_, _, err := store.Upsert(ctx, billing.ClassTutor, billing.Update{AccountEmail: "a@x.com", LegacyPaid: billing.Bool(true)})
	require.NoError(t, err)
	_, _, err = store.Upsert(ctx, billing.ClassStudent, billing.Update{AccountEmail: "a@x.com", LegacyPaid: billing.Bool(true)})
	require.NoError(t, err)

	tutor, err := store.GetByEmail(ctx, billing.ClassTutor, "a@x.com")
	require.NoError(t, err)
	student, err := store.GetByEmail(ctx, billing.ClassStudent, "a@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, tutor.ID, student.ID)
	assert.True(t, student.LegacyPaid, "student table uses its own legacy column")
	assert.Equal(t, billing.ClassStudent, student.Class)
}

func TestBillingStore_LegacyPaymentWithoutStatus(t *testing.T) {
	db := setupTestDB(t)
	store, _ := newBillingStore(t, db)
	ctx := context.Background()

	paid := testNow.Add(-10 * billing.Day)
	rec, inserted, err := store.Upsert(ctx, billing.ClassTutor, billing.Update{
		AccountEmail:    "legacy@x.com",
		LegacyPaid:      billing.Bool(true),
		PaymentDate:     &paid,
		PaymentAmount:   billing.Int64(4900),
		PaymentCurrency: billing.String("usd"),
		SessionID:       billing.String("cs_legacy"),
	})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, billing.StatusNone, rec.Status)
	assert.Empty(t, rec.SubscriptionID)

	st := billing.ComputeStatus(rec, testNow, billing.DefaultPolicy())
	assert.True(t, st.IsActive)
	assert.Equal(t, billing.SourceLegacy, st.Source)
}

func TestBillingStore_ConcurrentUpsertsConverge(t *testing.T) {
	db := setupTestDB(t)
	store, _ := newBillingStore(t, db)
	ctx := context.Background()
	end := testNow.Add(30 * billing.Day)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var u billing.Update
			if i%2 == 0 {
				u = subscriptionCreated("race@x.com", "sub_race", end)
			} else {
				u = billing.Update{
					AccountEmail: "race@x.com",
					SessionID:    billing.String(fmt.Sprintf("cs_%d", i)),
				}
			}
			_, _, err := store.Upsert(ctx, billing.ClassTutor, u)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := store.Count(ctx, billing.ClassTutor)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "one row per email")

	rec, err := store.GetByEmail(ctx, billing.ClassTutor, "race@x.com")
	require.NoError(t, err)
	assert.Equal(t, "sub_race", rec.SubscriptionID)
}

func TestBillingStore_UpdateContent(t *testing.T) {
	db := setupTestDB(t)
	store, _ := newBillingStore(t, db)
	ctx := context.Background()

	err := store.UpdateContent(ctx, billing.ClassTutor, "none@x.com", []byte(`{}`), testNow)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	_, _, err = store.Upsert(ctx, billing.ClassTutor, billing.Update{AccountEmail: "c@x.com"})
	require.NoError(t, err)
	require.NoError(t, store.UpdateContent(ctx, billing.ClassTutor, "C@x.com", []byte(`{"headline":"hi"}`), testNow))

	rec, err := store.GetByEmail(ctx, billing.ClassTutor, "c@x.com")
	require.NoError(t, err)
	assert.JSONEq(t, `{"headline":"hi"}`, string(rec.ContentPayload))

	rec, _, err = store.Upsert(ctx, billing.ClassTutor, billing.Update{AccountEmail: "c@x.com", SessionID: billing.String("cs_9")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"headline":"hi"}`, string(rec.ContentPayload), "upsert keeps content")
}

func TestBillingStore_ListActive(t *testing.T) {
	db := setupTestDB(t)
	store, _ := newBillingStore(t, db)
	ctx := context.Background()

	_, _, err := store.Upsert(ctx, billing.ClassTutor, subscriptionCreated("a@x.com", "sub_a", testNow.Add(-billing.Day)))
	require.NoError(t, err)
	_, _, err = store.Upsert(ctx, billing.ClassTutor, subscriptionCreated("b@x.com", "sub_b", testNow.Add(billing.Day)))
	require.NoError(t, err)
	_, _, err = store.Upsert(ctx, billing.ClassTutor, billing.Update{
		AccountEmail:   "c@x.com",
		SubscriptionID: billing.String("sub_c"),
		Status:         billing.StatusPtr(billing.StatusCanceled),
	})
	require.NoError(t, err)

	active, err := store.ListActive(ctx, billing.ClassTutor)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "sub_a", active[0].SubscriptionID, "ordered by period end")
}

func TestBillingStore_RejectsInvalid(t *testing.T) {
	db := setupTestDB(t)
	store, _ := newBillingStore(t, db)
	ctx := context.Background()

	_, _, err := store.Upsert(ctx, billing.ClassTutor, billing.Update{})
	assert.Error(t, err)

	_, _, err = store.Upsert(ctx, billing.AccountClass("admin"), billing.Update{AccountEmail: "a@x.com"})
	assert.Error(t, err)
}
