package subscription

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/chat-entitlement/internal/config"
	"github.com/magabrotheeeer/chat-entitlement/internal/entitlement"
	"github.com/magabrotheeeer/chat-entitlement/internal/models"
	"github.com/magabrotheeeer/chat-entitlement/internal/paymentprovider"
)

// memStore хранит данные в памяти с откатом транзакций и внедрением ошибок.
type memStore struct {
	mu            sync.Mutex
	users         map[string]models.User
	subs          map[int64]models.Subscription
	payments      map[int64]models.Payment
	nextSubID     int64
	nextPaymentID int64
	failOn        map[string]error
	calls         map[string]int
	// onEnter вызывается под m.mu перед выполнением метода.
	onEnter map[string]func(m *memStore)
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]models.User{},
		subs:     map[int64]models.Subscription{},
		payments: map[int64]models.Payment{},
		failOn:   map[string]error{},
		calls:    map[string]int{},
		onEnter:  map[string]func(m *memStore){},
	}
}

func (m *memStore) enter(method string) error {
	m.calls[method]++
	if hook, ok := m.onEnter[method]; ok {
		hook(m)
	}
	if err, ok := m.failOn[method]; ok {
		return fmt.Errorf("memstore.%s: %w: %w", method, models.ErrStorageFailure, err)
	}
	return nil
}

func (m *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	users, subs, payments := m.snapshot()
	nextSub, nextPayment := m.nextSubID, m.nextPaymentID
	m.mu.Unlock()

	if err := fn(ctx); err != nil {
		m.mu.Lock()
		m.users, m.subs, m.payments = users, subs, payments
		m.nextSubID, m.nextPaymentID = nextSub, nextPayment
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) snapshot() (map[string]models.User, map[int64]models.Subscription, map[int64]models.Payment) {
	users := make(map[string]models.User, len(m.users))
	for k, v := range m.users {
		users[k] = v
	}
	subs := make(map[int64]models.Subscription, len(m.subs))
	for k, v := range m.subs {
		subs[k] = v
	}
	payments := make(map[int64]models.Payment, len(m.payments))
	for k, v := range m.payments {
		payments[k] = v
	}
	return users, subs, payments
}

func (m *memStore) GetUser(_ context.Context, userUID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetUser"); err != nil {
		return nil, err
	}
	u, ok := m.users[userUID]
	if !ok {
		return nil, fmt.Errorf("memstore.GetUser: %w", models.ErrNotFound)
	}
	return &u, nil
}

func (m *memStore) MarkTrialUsed(_ context.Context, userUID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("MarkTrialUsed"); err != nil {
		return false, err
	}
	u, ok := m.users[userUID]
	if !ok || u.TrialUsed {
		return false, nil
	}
	u.TrialUsed = true
	m.users[userUID] = u
	return true, nil
}

func (m *memStore) userSubs(userUID string) []*models.Subscription {
	var out []*models.Subscription
	for _, s := range m.subs {
		if s.UserUID == userUID {
			sub := s
			out = append(out, &sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) GetLatestSubscription(_ context.Context, userUID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetLatestSubscription"); err != nil {
		return nil, err
	}
	return entitlement.Latest(m.userSubs(userUID)), nil
}

func (m *memStore) GetAllSubscriptions(_ context.Context, userUID string) ([]*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetAllSubscriptions"); err != nil {
		return nil, err
	}
	return m.userSubs(userUID), nil
}

func (m *memStore) GetSubscriptionByTransaction(_ context.Context, transactionID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetSubscriptionByTransaction"); err != nil {
		return nil, err
	}
	var found *models.Subscription
	for _, s := range m.subs {
		if s.ExternalTransactionID != nil && *s.ExternalTransactionID == transactionID {
			sub := s
			if found == nil || sub.ID > found.ID {
				found = &sub
			}
		}
	}
	return found, nil
}

func (m *memStore) CreateSubscription(_ context.Context, sub models.Subscription) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CreateSubscription"); err != nil {
		return 0, err
	}
	m.nextSubID++
	sub.ID = m.nextSubID
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = sub.CreatedAt
	}
	m.subs[sub.ID] = sub
	return sub.ID, nil
}

func (m *memStore) UpdateSubscription(_ context.Context, id int64, upd models.SubscriptionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("UpdateSubscription"); err != nil {
		return err
	}
	sub, ok := m.subs[id]
	if !ok {
		return fmt.Errorf("memstore.UpdateSubscription: %w", models.ErrNotFound)
	}
	applyUpdate(&sub, upd)
	m.subs[id] = sub
	return nil
}

func (m *memStore) ExpireSubscription(_ context.Context, id int64, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("ExpireSubscription"); err != nil {
		return false, err
	}
	sub, ok := m.subs[id]
	if !ok || !sub.IsStale(now) {
		return false, nil
	}
	sub.Status = models.StatusUnsubscribed
	m.subs[id] = sub
	return true, nil
}

func (m *memStore) SweepExpiredSubscriptions(_ context.Context, now time.Time) ([]*models.ExpiredSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("SweepExpiredSubscriptions"); err != nil {
		return nil, err
	}
	var out []*models.ExpiredSubscription
	for id, sub := range m.subs {
		if !sub.IsStale(now) {
			continue
		}
		sub.Status = models.StatusUnsubscribed
		m.subs[id] = sub
		out = append(out, &models.ExpiredSubscription{ID: id, UserUID: sub.UserUID, PlanType: sub.PlanType, Expired: *sub.ExpiresAt})
	}
	return out, nil
}

func (m *memStore) CancelOtherActiveSubscriptions(_ context.Context, userUID string, keepID int64, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("CancelOtherActiveSubscriptions"); err != nil {
		return 0, err
	}
	n := 0
	for id, sub := range m.subs {
		if sub.UserUID != userUID || id == keepID || sub.Status != models.StatusActive {
			continue
		}
		sub.Status = models.StatusCancelled
		at := now
		sub.CancelledAt = &at
		m.subs[id] = sub
		n++
	}
	return n, nil
}

func (m *memStore) GetPaymentsForUser(_ context.Context, userUID string) ([]*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("GetPaymentsForUser"); err != nil {
		return nil, err
	}
	var out []*models.Payment
	for _, p := range m.payments {
		if p.UserUID == userUID {
			payment := p
			out = append(out, &payment)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memStore) LinkPayment(_ context.Context, paymentID, subscriptionID int64, externalSubscriptionID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.enter("LinkPayment"); err != nil {
		return err
	}
	p, ok := m.payments[paymentID]
	if !ok {
		return fmt.Errorf("memstore.LinkPayment: %w", models.ErrNotFound)
	}
	id := subscriptionID
	p.SubscriptionID = &id
	if externalSubscriptionID != nil {
		p.ExternalSubscriptionID = externalSubscriptionID
	}
	m.payments[paymentID] = p
	return nil
}

// Вспомогательные методы наполнения.

func (m *memStore) addUser(uid string, trialUsed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[uid] = models.User{UID: uid, Email: uid + "@example.com", Role: models.RoleUser, TrialUsed: trialUsed}
}

func (m *memStore) addSub(sub models.Subscription) *models.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSubID++
	sub.ID = m.nextSubID
	m.subs[sub.ID] = sub
	return &sub
}

func (m *memStore) addPayment(p models.Payment) *models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPaymentID++
	p.ID = m.nextPaymentID
	m.payments[p.ID] = p
	return &p
}

func (m *memStore) sub(t *testing.T, id int64) models.Subscription {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	require.True(t, ok, "subscription %d not found", id)
	return sub
}

func (m *memStore) payment(t *testing.T, id int64) models.Payment {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	require.True(t, ok, "payment %d not found", id)
	return p
}

func (m *memStore) subCount(userUID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.userSubs(userUID))
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.SubscriptionEvent
	err    error
}

func (p *recordingPublisher) PublishEvent(event models.SubscriptionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type ProviderMock struct{ mock.Mock }

func (m *ProviderMock) CreateSubscription(ctx context.Context, req paymentprovider.CreateSubscriptionRequest) (*paymentprovider.SubscriptionInfo, error) {
	args := m.Called(ctx, req)
	info, _ := args.Get(0).(*paymentprovider.SubscriptionInfo)
	return info, args.Error(1)
}

func (m *ProviderMock) GetSubscriptionStatus(ctx context.Context, subscriptionID string) (*paymentprovider.SubscriptionInfo, error) {
	args := m.Called(ctx, subscriptionID)
	info, _ := args.Get(0).(*paymentprovider.SubscriptionInfo)
	return info, args.Error(1)
}

func (m *ProviderMock) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return m.Called(ctx, subscriptionID).Error(0)
}

func (m *ProviderMock) GetTransaction(ctx context.Context, transactionID string) (*paymentprovider.TransactionInfo, error) {
	args := m.Called(ctx, transactionID)
	info, _ := args.Get(0).(*paymentprovider.TransactionInfo)
	return info, args.Error(1)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Get(ctx context.Context, key string, result any) (bool, error) {
	args := m.Called(ctx, key, result)
	return args.Bool(0), args.Error(1)
}

func (m *CacheMock) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	return m.Called(ctx, key, value, expiration).Error(0)
}

func (m *CacheMock) Invalidate(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

const (
	trialDuration = 72 * time.Hour
	billingPeriod = 30 * 24 * time.Hour
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	svc    *Service
	store  *memStore
	clock  *fakeClock
	events *recordingPublisher
}

// newTestEnv собирает сервис поверх memStore. provider и cache могут быть nil.
func newTestEnv(provider Provider, cache Cache) *testEnv {
	store := newMemStore()
	clock := &fakeClock{t: baseTime}
	events := &recordingPublisher{}
	cfg := config.Entitlement{
		TrialDuration:  trialDuration,
		BillingPeriod:  billingPeriod,
		StatusCacheTTL: time.Minute,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := New(store, provider, cache, events, cfg, log).WithClock(clock.Now)
	return &testEnv{svc: svc, store: store, clock: clock, events: events}
}

func ptrTime(t time.Time) *time.Time { return &t }
func ptrString(s string) *string     { return &s }
func ptrInt64(v int64) *int64        { return &v }
