package subscription_test

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/subsync/pkg/email"
	"github.com/dmitrymomot/subsync/pkg/subscription"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) CreateCheckout(ctx context.Context, req subscription.ProviderCheckoutRequest) (*subscription.CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.CheckoutSession), args.Error(1)
}

func (m *mockProvider) GetCheckout(ctx context.Context, sessionID string) (*subscription.CheckoutSnapshot, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.CheckoutSnapshot), args.Error(1)
}

func (m *mockProvider) ParseWebhook(ctx context.Context, payload []byte, signature string) (*subscription.Event, error) {
	args := m.Called(ctx, payload, signature)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Event), args.Error(1)
}

func (m *mockProvider) CancelSubscription(ctx context.Context, subscriptionID string) error {
	args := m.Called(ctx, subscriptionID)
	return args.Error(0)
}

func (m *mockProvider) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	args := m.Called(ctx, customerID)
	return args.String(0), args.Error(1)
}

// recordingSender captures sent emails.
type recordingSender struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (s *recordingSender) Send(_ context.Context, msg email.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) Sent() []email.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]email.Message(nil), s.sent...)
}

// failingStore wraps a store and fails selected calls.
type failingStore struct {
	subscription.Store
	getErr    error
	upsertErr error
	getCalls  int
	mu        sync.Mutex
}

func (s *failingStore) Get(ctx context.Context, userKey string) (*subscription.Record, error) {
	s.mu.Lock()
	s.getCalls++
	err := s.getErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, userKey)
}

func (s *failingStore) ConditionalUpsert(ctx context.Context, rec subscription.Record) (*subscription.Record, bool, error) {
	if s.upsertErr != nil {
		return nil, false, s.upsertErr
	}
	return s.Store.ConditionalUpsert(ctx, rec)
}

func (s *failingStore) GetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

// Shared fixtures.
var (
	fixedNow = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	testCatalog = subscription.DefaultCatalog("price_pro", "price_ent")
)

func fixedClock() func() time.Time { return func() time.Time { return fixedNow } }

// counterClock issues 1, 2, 3, ...
func counterClock() subscription.ClockFunc {
	var (
		mu sync.Mutex
		n  int64
	)
	return func() int64 {
		mu.Lock()
		defer mu.Unlock()
		n++
		return n
	}
}

const (
	keyA = "dced0b69-7bd5-5172-9e34-8185aa2bd86f" // identity.FromEmail("a@x.com")
	keyB = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
)
