package subscription_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/identity"
	"github.com/dmitrymomot/subsync/pkg/subscription"
)

type serviceFixture struct {
	svc      *subscription.Service
	store    *subscription.MemoryStore
	provider *mockProvider
	sender   *recordingSender
	metrics  *subscription.Metrics
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	store := subscription.NewMemoryStore(subscription.WithMemoryStoreNow(fixedClock()))
	provider := new(mockProvider)
	provider.On("CustomerEmail", mock.Anything, mock.Anything).Return("billing@x.com", nil).Maybe()
	sender := &recordingSender{}
	metrics := subscription.NewMetrics(prometheus.NewRegistry())

	svc := subscription.NewService(store, testCatalog, provider,
		subscription.WithMetrics(metrics),
		subscription.WithNow(fixedClock()),
		subscription.WithReconciler(subscription.NewReconciler(store, testCatalog,
			subscription.WithClock(counterClock()),
			subscription.WithReconcilerNow(fixedClock()),
			subscription.WithReconcilerMetrics(metrics),
		)),
		subscription.WithVerifier(subscription.NewVerifier(store, subscription.WithVerifyPolicy(2, time.Millisecond))),
		subscription.WithNotifier(subscription.NewNotifier(sender)),
	)

	return &serviceFixture{svc: svc, store: store, provider: provider, sender: sender, metrics: metrics}
}

func (f *serviceFixture) seedPro(t *testing.T, marker int64) {
	t.Helper()
	_, err := f.store.Upsert(context.Background(), subscription.Record{
		UserKey:                keyA,
		Plan:                   subscription.PlanPro,
		Status:                 subscription.StatusActive,
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
		CurrentPeriodEnd:       fixedNow.Add(10 * 24 * time.Hour).Unix(),
		LastUpdated:            marker,
	})
	require.NoError(t, err)
}

func (f *serviceFixture) waitForEmails(t *testing.T, n int) {
	t.Helper()
	assert.Eventually(t, func() bool { return len(f.sender.Sent()) == n }, time.Second, 5*time.Millisecond)
}

func paidSnapshot() *subscription.CheckoutSnapshot {
	return &subscription.CheckoutSnapshot{
		ID:             "cs_1",
		PaymentStatus:  subscription.PaymentPaid,
		UserKey:        keyA,
		Plan:           subscription.PlanPro,
		CustomerID:     "cus_1",
		CustomerEmail:  "a@x.com",
		SubscriptionID: "sub_1",
	}
}

var userA = identity.Descriptor{Email: "a@x.com", Name: "Ann"}

func TestService_StartCheckout(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	f.provider.On("CreateCheckout", mock.Anything, mock.MatchedBy(func(req subscription.ProviderCheckoutRequest) bool {
		return req.UserKey == keyA && req.Plan == subscription.PlanPro && req.Email == "a@x.com"
	})).Return(&subscription.CheckoutSession{ID: "cs_1", URL: "https://pay.test/cs_1"}, nil)

	res, err := f.svc.StartCheckout(context.Background(), userA, "pro")
	require.NoError(t, err)
	assert.Equal(t, "https://pay.test/cs_1", res.RedirectURL)

	_, err = f.svc.StartCheckout(context.Background(), userA, "gold")
	assert.ErrorIs(t, err, subscription.ErrUnknownPlan)

	_, err = f.svc.StartCheckout(context.Background(), identity.Descriptor{}, "pro")
	assert.ErrorIs(t, err, identity.ErrIdentityUnresolved)

	assert.Equal(t, 0, f.store.Len())
}

func TestService_CompleteCheckout(t *testing.T) {
	t.Parallel()

	t.Run("applies, verifies and sends a receipt", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("GetCheckout", mock.Anything, "cs_1").Return(paidSnapshot(), nil)

		res, err := f.svc.CompleteCheckout(context.Background(), userA, "cs_1", "pro")
		require.NoError(t, err)
		assert.True(t, res.Verified)
		assert.Equal(t, subscription.PlanPro, res.Record.Plan)
		assert.Equal(t, "sub_1", res.Record.ExternalSubscriptionID)

		f.waitForEmails(t, 1)
		sent := f.sender.Sent()[0]
		assert.Equal(t, "a@x.com", sent.To)
		assert.Contains(t, sent.HTML, "$9.99")
	})

	t.Run("repeat completion sends no second receipt", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("GetCheckout", mock.Anything, "cs_1").Return(paidSnapshot(), nil)

		_, err := f.svc.CompleteCheckout(context.Background(), userA, "cs_1", "pro")
		require.NoError(t, err)
		_, err = f.svc.CompleteCheckout(context.Background(), userA, "cs_1", "")
		require.NoError(t, err)

		f.waitForEmails(t, 1)
		time.Sleep(20 * time.Millisecond)
		assert.Len(t, f.sender.Sent(), 1)
	})

	t.Run("plan mismatch", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("GetCheckout", mock.Anything, "cs_1").Return(paidSnapshot(), nil)

		_, err := f.svc.CompleteCheckout(context.Background(), userA, "cs_1", "enterprise")
		assert.ErrorIs(t, err, subscription.ErrPlanMismatch)
		assert.Equal(t, 0, f.store.Len())
	})

	t.Run("missing plan metadata uses requested plan", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		snap := paidSnapshot()
		snap.Plan = ""
		f.provider.On("GetCheckout", mock.Anything, "cs_1").Return(snap, nil)

		res, err := f.svc.CompleteCheckout(context.Background(), userA, "cs_1", "enterprise")
		require.NoError(t, err)
		assert.Equal(t, subscription.PlanEnterprise, res.Record.Plan)
	})

	t.Run("unpaid checkout", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		snap := paidSnapshot()
		snap.PaymentStatus = subscription.PaymentUnpaid
		f.provider.On("GetCheckout", mock.Anything, "cs_1").Return(snap, nil)

		_, err := f.svc.CompleteCheckout(context.Background(), userA, "cs_1", "pro")
		assert.ErrorIs(t, err, subscription.ErrPaymentNotCompleted)
		assert.Equal(t, 0, f.store.Len())
	})

	t.Run("provider failure", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("GetCheckout", mock.Anything, "cs_1").Return(nil, subscription.ErrProviderUnavailable)

		_, err := f.svc.CompleteCheckout(context.Background(), userA, "cs_1", "pro")
		assert.ErrorIs(t, err, subscription.ErrProviderUnavailable)
	})
}

func TestService_HandleWebhook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	payload := []byte(`{}`)

	deleted := &subscription.Event{Kind: subscription.KindSubscriptionDeleted, ID: "evt_del", CustomerID: "cus_1"}

	t.Run("applied deletion notifies via customer lookup", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.seedPro(t, 0)
		f.provider.On("ParseWebhook", mock.Anything, payload, "sig").Return(deleted, nil)

		res, err := f.svc.HandleWebhook(ctx, payload, "sig")
		require.NoError(t, err)
		assert.Equal(t, subscription.WebhookApplied, res.Status)
		assert.Equal(t, "evt_del", res.EventID)
		assert.Equal(t, "mock", res.Provider)

		rec, err := f.store.Get(ctx, keyA)
		require.NoError(t, err)
		assert.Equal(t, subscription.PlanFree, rec.Plan)

		f.waitForEmails(t, 1)
		sent := f.sender.Sent()[0]
		assert.Equal(t, "billing@x.com", sent.To)
		assert.Contains(t, sent.HTML, time.Unix(rec.CurrentPeriodEnd, 0).UTC().Format("January 2, 2006"))
	})

	t.Run("stale", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.seedPro(t, 1<<40)
		f.provider.On("ParseWebhook", mock.Anything, payload, "sig").Return(deleted, nil)

		res, err := f.svc.HandleWebhook(ctx, payload, "sig")
		require.NoError(t, err)
		assert.Equal(t, subscription.WebhookStale, res.Status)

		rec, err := f.store.Get(ctx, keyA)
		require.NoError(t, err)
		assert.Equal(t, subscription.PlanPro, rec.Plan)
	})

	t.Run("unknown customer is acknowledged", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("ParseWebhook", mock.Anything, payload, "sig").Return(deleted, nil)

		res, err := f.svc.HandleWebhook(ctx, payload, "sig")
		require.NoError(t, err)
		assert.Equal(t, subscription.WebhookUnknownCustomer, res.Status)
		assert.Equal(t, 0, f.store.Len())
	})

	t.Run("ignored type", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("ParseWebhook", mock.Anything, payload, "sig").Return(nil, subscription.ErrEventIgnored)

		res, err := f.svc.HandleWebhook(ctx, payload, "sig")
		require.NoError(t, err)
		assert.Equal(t, subscription.WebhookIgnored, res.Status)
	})

	t.Run("unpaid checkout is acknowledged", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		ev := paidSnapshot().Event()
		ev.PaymentStatus = subscription.PaymentPending
		f.provider.On("ParseWebhook", mock.Anything, payload, "sig").Return(&ev, nil)

		res, err := f.svc.HandleWebhook(ctx, payload, "sig")
		require.NoError(t, err)
		assert.Equal(t, subscription.WebhookUnpaid, res.Status)
	})

	t.Run("bad signature is returned", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.provider.On("ParseWebhook", mock.Anything, payload, "bad").Return(nil, subscription.ErrSignatureInvalid)

		_, err := f.svc.HandleWebhook(ctx, payload, "bad")
		assert.ErrorIs(t, err, subscription.ErrSignatureInvalid)
		assert.False(t, subscription.IsRetryable(err))
	})

	t.Run("store outage asks for redelivery", func(t *testing.T) {
		t.Parallel()

		store := &failingStore{Store: subscription.NewMemoryStore(), upsertErr: subscription.ErrStoreUnavailable}
		provider := new(mockProvider)
		ev := paidSnapshot().Event()
		provider.On("ParseWebhook", mock.Anything, payload, "sig").Return(&ev, nil)

		svc := subscription.NewService(store, testCatalog, provider)
		_, err := svc.HandleWebhook(ctx, payload, "sig")
		assert.ErrorIs(t, err, subscription.ErrStoreUnavailable)
		assert.True(t, subscription.IsRetryable(err))
	})
}

func TestService_Current(t *testing.T) {
	t.Parallel()

	t.Run("first access materializes the free record", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)

		rec, err := f.svc.Current(context.Background(), userA)
		require.NoError(t, err)
		assert.Equal(t, keyA, rec.UserKey)
		assert.Equal(t, subscription.PlanFree, rec.Plan)
		assert.Equal(t, subscription.StatusActive, rec.Status)
		assert.Equal(t, 1, f.store.Len())

		again, err := f.svc.Current(context.Background(), userA)
		require.NoError(t, err)
		assert.Equal(t, rec.CreatedAt, again.CreatedAt)
		assert.Equal(t, 1, f.store.Len())
	})

	t.Run("existing record", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.seedPro(t, 1)

		rec, err := f.svc.Current(context.Background(), userA)
		require.NoError(t, err)
		assert.Equal(t, subscription.PlanPro, rec.Plan)
	})

	t.Run("rejected session key falls back to email", func(t *testing.T) {
		t.Parallel()

		store := subscription.NewMemoryStore(subscription.WithUUIDKeys())
		svc := subscription.NewService(store, testCatalog, new(mockProvider))

		rec, err := svc.Current(context.Background(), identity.Descriptor{SessionID: "sess_1", Email: "a@x.com"})
		require.NoError(t, err)
		assert.Equal(t, keyA, rec.UserKey)
	})
}

func TestService_ManualSet(t *testing.T) {
	t.Parallel()

	t.Run("sets the plan", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)

		out, err := f.svc.ManualSet(context.Background(), userA, "enterprise", "", false)
		require.NoError(t, err)
		assert.True(t, out.Applied)
		assert.Equal(t, subscription.PlanEnterprise, out.Record.Plan)
	})

	t.Run("subscription hint makes a paid repair consistent", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)

		out, err := f.svc.ManualSet(context.Background(), userA, "pro", "sub_9", false)
		require.NoError(t, err)
		assert.True(t, out.Applied)
		assert.Equal(t, subscription.PlanPro, out.Record.Plan)
		assert.Equal(t, "sub_9", out.Record.ExternalSubscriptionID)
		assert.True(t, out.Record.Consistent())

		rec, err := f.svc.Current(context.Background(), userA)
		require.NoError(t, err)
		assert.Equal(t, "sub_9", rec.ExternalSubscriptionID)
	})

	t.Run("empty hint keeps the stored subscription", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.seedPro(t, 0)

		out, err := f.svc.ManualSet(context.Background(), userA, "enterprise", "", true)
		require.NoError(t, err)
		assert.Equal(t, subscription.PlanEnterprise, out.Record.Plan)
		assert.Equal(t, "sub_1", out.Record.ExternalSubscriptionID)
		assert.True(t, out.Record.Consistent())
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)

		_, err := f.svc.ManualSet(context.Background(), userA, "platinum", "", false)
		assert.ErrorIs(t, err, subscription.ErrUnknownPlan)
	})
}

func TestService_Cancel(t *testing.T) {
	t.Parallel()

	t.Run("provider failure still downgrades locally", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		f.seedPro(t, 0)
		f.provider.On("CancelSubscription", mock.Anything, "sub_1").Return(errors.New("boom")).Once()

		out, err := f.svc.Cancel(context.Background(), userA)
		require.NoError(t, err)
		assert.Equal(t, subscription.PlanFree, out.Record.Plan)
		assert.Equal(t, subscription.StatusCanceled, out.Record.Status)
		assert.Empty(t, out.Record.ExternalSubscriptionID)
		assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Divergence.WithLabelValues("cancel_provider")))

		f.waitForEmails(t, 1)
		assert.Equal(t, "Your Pro Plan subscription has been canceled", f.sender.Sent()[0].Subject)
		f.provider.AssertExpectations(t)
	})

	t.Run("free user is a no-op", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		_, err := f.svc.Current(context.Background(), userA)
		require.NoError(t, err)

		out, err := f.svc.Cancel(context.Background(), userA)
		require.NoError(t, err)
		assert.Equal(t, subscription.PlanFree, out.Record.Plan)
		f.provider.AssertNotCalled(t, "CancelSubscription", mock.Anything, mock.Anything)
	})

	t.Run("no record", func(t *testing.T) {
		t.Parallel()

		f := newServiceFixture(t)
		_, err := f.svc.Cancel(context.Background(), userA)
		assert.ErrorIs(t, err, subscription.ErrRecordNotFound)
	})
}
