package billing

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/MarioFuchs/StreamVault/app/models"
)

// memKV is an in-memory KV for tests.
type memKV struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemKV() *memKV {
	return &memKV{m: make(map[string]string)}
}

func (k *memKV) Get(key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.m[key]
	if !ok {
		return "", ErrKVMiss
	}
	return v, nil
}

func (k *memKV) GetDelete(key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.m[key]
	if !ok {
		return "", ErrKVMiss
	}
	delete(k.m, key)
	return v, nil
}

func (k *memKV) Set(key string, value interface{}, _ time.Duration) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[key] = fmt.Sprint(value)
	return nil
}

func (k *memKV) Delete(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.m, key)
	return nil
}

func (k *memKV) DeleteMatching(prefix string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key := range k.m {
		if strings.HasPrefix(key, prefix) {
			delete(k.m, key)
		}
	}
	return nil
}

// fakeRepo is an in-memory Repository. It is not concurrency-safe beyond
// what the tests here need.
type fakeRepo struct {
	mu       sync.Mutex
	users    map[uint]*models.User
	payments []*models.Payment
	events   []*models.PaymentEvent
	nextID   uint
}

func newFakeRepo(users ...*models.User) *fakeRepo {
	r := &fakeRepo{users: make(map[uint]*models.User), nextID: 1}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeRepo) Transaction(fn func(Repository) error) error {
	return fn(r)
}

func (r *fakeRepo) FindUserByID(id uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeRepo) FindUserByEmail(email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) UpdateUserRole(userID uint, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.Role = role
	return nil
}

func (r *fakeRepo) FindPaymentByChargeID(chargeID string) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.StripeChargeID == chargeID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) CreatePayment(p *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = r.nextID
	r.nextID++
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	cp := *p
	r.payments = append(r.payments, &cp)
	return nil
}

func (r *fakeRepo) SavePayment(p *models.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.payments {
		if existing.ID == p.ID {
			cp := *p
			r.payments[i] = &cp
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepo) LatestCompletedPayment(userID uint) (*models.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.Payment
	for _, p := range r.payments {
		if p.UserID != userID || p.Status != models.PaymentStatusCompleted {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *fakeRepo) PaymentStatistics() (*PaymentStatistics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &PaymentStatistics{}
	for _, p := range r.payments {
		stats.Total++
		switch p.Status {
		case models.PaymentStatusCompleted:
			stats.CompletedCount++
			stats.CompletedRevenue += p.Amount
		case models.PaymentStatusPending:
			stats.PendingCount++
		case models.PaymentStatusFailed:
			stats.FailedCount++
		case models.PaymentStatusCancelled:
			stats.CancelledCount++
		}
	}
	return stats, nil
}

func (r *fakeRepo) CreatePaymentEventIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
			cp := *e
			return false, &cp, nil
		}
	}
	event.ID = r.nextID
	r.nextID++
	cp := *event
	r.events = append(r.events, &cp)
	out := cp
	return true, &out, nil
}

func (r *fakeRepo) MarkPaymentEventProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepo) RecordPaymentEventError(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ID == id {
			e.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeRepo) paymentsFor(userID uint) []*models.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Payment
	for _, p := range r.payments {
		if p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

func (r *fakeRepo) eventByProviderID(id string) *models.PaymentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.ProviderEventID == id {
			cp := *e
			return &cp
		}
	}
	return nil
}

func (r *fakeRepo) roleOf(userID uint) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[userID].Role
}

// fakeProvider implements Provider with canned responses and call
// counters.
type fakeProvider struct {
	mu sync.Mutex

	createdSessions []CheckoutInput
	session         *SessionData
	sessionErr      error

	customerEmail   map[string]string
	customerIDs     map[string]string
	customerErr     error
	searchCalls     int
	listCalls       int
	subs            []ProviderSubscription
	listErr         error
	cancelled       []string
	cancelledResult *ProviderSubscription
	cancelErr       error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		customerEmail: make(map[string]string),
		customerIDs:   make(map[string]string),
	}
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, in CheckoutInput) (*SessionData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createdSessions = append(p.createdSessions, in)
	if p.sessionErr != nil {
		return nil, p.sessionErr
	}
	sess := &SessionData{
		SessionID:         "cs_test_1",
		ClientReferenceID: fmt.Sprint(in.UserID),
		PaymentStatus:     "unpaid",
		SuccessToken:      in.SuccessToken,
		URL:               "https://checkout.example.com/cs_test_1",
	}
	if p.session != nil {
		sess = p.session
	}
	return sess, nil
}

func (p *fakeProvider) GetCheckoutSession(_ context.Context, id string) (*SessionData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sessionErr != nil {
		return nil, p.sessionErr
	}
	if p.session == nil {
		return nil, providerErr("checkout session retrieve", fmt.Errorf("no session %s", id))
	}
	cp := *p.session
	return &cp, nil
}

func (p *fakeProvider) GetCustomerEmail(_ context.Context, customerID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.customerErr != nil {
		return "", p.customerErr
	}
	return p.customerEmail[customerID], nil
}

func (p *fakeProvider) FindCustomerIDByEmail(_ context.Context, email string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.searchCalls++
	if p.customerErr != nil {
		return "", p.customerErr
	}
	return p.customerIDs[email], nil
}

func (p *fakeProvider) ListActiveSubscriptions(_ context.Context, _ string) ([]ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listCalls++
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.subs, nil
}

func (p *fakeProvider) CancelAtPeriodEnd(_ context.Context, subscriptionID string) (*ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, subscriptionID)
	if p.cancelErr != nil {
		return nil, p.cancelErr
	}
	if p.cancelledResult != nil {
		cp := *p.cancelledResult
		return &cp, nil
	}
	return &ProviderSubscription{ID: subscriptionID, Status: "active", CancelAtPeriodEnd: true}, nil
}

func newTestService(repo Repository, provider Provider, kv KV) *Service {
	s := NewService(repo, provider, kv, nil)
	s.webhookSecret = "whsec_test"
	s.publicDomain = "http://localhost:8080"
	return s
}
