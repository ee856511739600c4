package billing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarioFuchs/StreamVault/app/models"
)

func freeUser() *models.User {
	return &models.User{
		ID:     1,
		Name:   "Test User",
		Email:  "user@example.com",
		Role:   models.RoleFree,
		Status: models.StatusActive,
	}
}

func proUser() *models.User {
	u := freeUser()
	u.Role = models.RolePro
	return u
}

func TestCreateCheckoutSessionRejectsBadPriceID(t *testing.T) {
	provider := newFakeProvider()
	svc := newTestService(newFakeRepo(freeUser()), provider, newMemKV())

	tests := []string{
		"",
		"price",
		"price_",
		"prod_123",
		"price_123; DROP TABLE users",
		"price_abc def",
	}
	for _, priceID := range tests {
		_, err := svc.CreateCheckoutSession(context.Background(), 1, priceID)
		assert.ErrorIs(t, err, ErrInvalidPriceFormat, "price id %q", priceID)
	}
	assert.Empty(t, provider.createdSessions, "provider must not be called for invalid price ids")
}

func TestCreateCheckoutSessionBindsToken(t *testing.T) {
	provider := newFakeProvider()
	kv := newMemKV()
	svc := newTestService(newFakeRepo(freeUser()), provider, kv)

	sess, err := svc.CreateCheckoutSession(context.Background(), 1, "price_1MoBy5LkdIwHu7ixZhnattbh")
	require.NoError(t, err)
	require.Len(t, provider.createdSessions, 1)

	in := provider.createdSessions[0]
	assert.Equal(t, uint(1), in.UserID)
	assert.Equal(t, "user@example.com", in.Email)
	assert.NotEmpty(t, in.SuccessToken)
	assert.Contains(t, in.SuccessURL, "token="+in.SuccessToken)
	assert.Contains(t, in.SuccessURL, "{CHECKOUT_SESSION_ID}")
	assert.NotEmpty(t, sess.URL)

	bound, err := kv.Get(successTokenKey(in.SuccessToken))
	require.NoError(t, err)
	assert.Equal(t, "1", bound)
}

func TestCreateCheckoutSessionUnknownUser(t *testing.T) {
	svc := newTestService(newFakeRepo(), newFakeProvider(), newMemKV())

	_, err := svc.CreateCheckoutSession(context.Background(), 42, "price_abc123")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func seedToken(t *testing.T, kv KV, token string, userID string) {
	t.Helper()
	require.NoError(t, kv.Set(successTokenKey(token), userID, time.Hour))
}

func TestProcessSuccessfulPayment(t *testing.T) {
	repo := newFakeRepo(freeUser())
	provider := newFakeProvider()
	provider.session = &SessionData{
		SessionID:         "cs_test_1",
		ClientReferenceID: "1",
		PaymentStatus:     "paid",
		AmountTotal:       999,
		Currency:          "eur",
		SuccessToken:      "tok1",
		SubscriptionID:    "sub_123",
	}
	kv := newMemKV()
	seedToken(t, kv, "tok1", "1")
	svc := newTestService(repo, provider, kv)

	result, err := svc.ProcessSuccessfulPayment(context.Background(), "cs_test_1", "tok1")
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.False(t, result.AlreadyProcessed)

	payments := repo.paymentsFor(1)
	require.Len(t, payments, 1)
	assert.Equal(t, "subscription_sub_123", payments[0].StripeChargeID)
	assert.Equal(t, models.PaymentStatusCompleted, payments[0].Status)
	assert.InDelta(t, 9.99, payments[0].Amount, 0.001)
	assert.Equal(t, "eur", payments[0].Currency)
	assert.Equal(t, models.RolePro, repo.roleOf(1))

	// Token is single-use.
	_, err = svc.ProcessSuccessfulPayment(context.Background(), "cs_test_1", "tok1")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestProcessSuccessfulPaymentIdempotent(t *testing.T) {
	repo := newFakeRepo(proUser())
	require.NoError(t, repo.CreatePayment(&models.Payment{
		UserID:         1,
		Amount:         9.99,
		Currency:       "eur",
		Status:         models.PaymentStatusCompleted,
		StripeChargeID: "subscription_sub_123",
	}))

	provider := newFakeProvider()
	provider.session = &SessionData{
		SessionID:         "cs_test_1",
		ClientReferenceID: "1",
		PaymentStatus:     "paid",
		AmountTotal:       999,
		Currency:          "eur",
		SuccessToken:      "tok2",
		SubscriptionID:    "sub_123",
	}
	kv := newMemKV()
	seedToken(t, kv, "tok2", "1")
	svc := newTestService(repo, provider, kv)

	result, err := svc.ProcessSuccessfulPayment(context.Background(), "cs_test_1", "tok2")
	require.NoError(t, err)
	assert.True(t, result.AlreadyProcessed)
	assert.False(t, result.Applied)
	assert.Len(t, repo.paymentsFor(1), 1, "no duplicate payment row")
}

func TestProcessSuccessfulPaymentRacingRedirects(t *testing.T) {
	// Two redirects with the same token arrive at once. Consumption is
	// atomic, so exactly one wins and the other sees a spent token.
	repo := newFakeRepo(freeUser())
	provider := newFakeProvider()
	provider.session = &SessionData{
		SessionID:         "cs_race",
		ClientReferenceID: "1",
		PaymentStatus:     "paid",
		AmountTotal:       999,
		Currency:          "eur",
		SuccessToken:      "tok_race",
		SubscriptionID:    "sub_race",
	}
	kv := newMemKV()
	seedToken(t, kv, "tok_race", "1")
	svc := newTestService(repo, provider, kv)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := svc.ProcessSuccessfulPayment(context.Background(), "cs_race", "tok_race")
			errs <- err
		}()
	}

	var won, spent int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			won++
		case errors.Is(err, ErrTokenNotFound):
			spent++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won, "exactly one redirect consumes the token")
	assert.Equal(t, 1, spent, "the loser sees the token as already used")
	assert.Len(t, repo.paymentsFor(1), 1)
}

func TestProcessSuccessfulPaymentTokenMismatch(t *testing.T) {
	repo := newFakeRepo(freeUser())
	provider := newFakeProvider()
	provider.session = &SessionData{
		SessionID:         "cs_test_1",
		ClientReferenceID: "1",
		PaymentStatus:     "paid",
		SuccessToken:      "other-token",
	}
	kv := newMemKV()
	seedToken(t, kv, "tok3", "1")
	svc := newTestService(repo, provider, kv)

	_, err := svc.ProcessSuccessfulPayment(context.Background(), "cs_test_1", "tok3")
	assert.ErrorIs(t, err, ErrTokenMismatch)
	assert.Empty(t, repo.paymentsFor(1))
}

func TestProcessSuccessfulPaymentUnpaidSession(t *testing.T) {
	repo := newFakeRepo(freeUser())
	provider := newFakeProvider()
	provider.session = &SessionData{
		SessionID:         "cs_test_1",
		ClientReferenceID: "1",
		PaymentStatus:     "unpaid",
		SuccessToken:      "tok4",
	}
	kv := newMemKV()
	seedToken(t, kv, "tok4", "1")
	svc := newTestService(repo, provider, kv)

	result, err := svc.ProcessSuccessfulPayment(context.Background(), "cs_test_1", "tok4")
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Empty(t, repo.paymentsFor(1))
	assert.Equal(t, models.RoleFree, repo.roleOf(1))
}

func TestProcessSuccessfulPaymentKeepsAdminRole(t *testing.T) {
	admin := freeUser()
	admin.Role = models.RoleAdmin
	repo := newFakeRepo(admin)
	provider := newFakeProvider()
	provider.session = &SessionData{
		SessionID:         "cs_test_1",
		ClientReferenceID: "1",
		PaymentStatus:     "paid",
		AmountTotal:       999,
		Currency:          "eur",
		SuccessToken:      "tok5",
		SubscriptionID:    "sub_9",
	}
	kv := newMemKV()
	seedToken(t, kv, "tok5", "1")
	svc := newTestService(repo, provider, kv)

	result, err := svc.ProcessSuccessfulPayment(context.Background(), "cs_test_1", "tok5")
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.Equal(t, models.RoleAdmin, repo.roleOf(1), "billing must not touch admin roles")
	assert.Len(t, repo.paymentsFor(1), 1, "payment is still recorded")
}

func TestCancelUserSubscription(t *testing.T) {
	repo := newFakeRepo(proUser())
	provider := newFakeProvider()
	provider.customerIDs["user@example.com"] = "cus_1"
	provider.subs = []ProviderSubscription{{ID: "sub_123", Status: "active"}}
	periodEnd := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)
	provider.cancelledResult = &ProviderSubscription{
		ID:                "sub_123",
		Status:            "active",
		CancelAtPeriodEnd: true,
		CurrentPeriodEnd:  periodEnd,
	}
	svc := newTestService(repo, provider, newMemKV())

	result, err := svc.CancelUserSubscription(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"sub_123"}, provider.cancelled)
	assert.Equal(t, "October 15, 2026", result.AccessEnd)
	assert.Contains(t, result.Message, "October 15, 2026")

	// Role is untouched until the deletion webhook arrives.
	assert.Equal(t, models.RolePro, repo.roleOf(1))

	payments := repo.paymentsFor(1)
	require.Len(t, payments, 1)
	assert.Equal(t, "cancellation_sub_123", payments[0].StripeChargeID)
	assert.Equal(t, models.PaymentStatusCancelled, payments[0].Status)

	// A second cancel request reuses the audit row.
	_, err = svc.CancelUserSubscription(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, repo.paymentsFor(1), 1)
}

func TestCancelUserSubscriptionRequiresPro(t *testing.T) {
	provider := newFakeProvider()
	svc := newTestService(newFakeRepo(freeUser()), provider, newMemKV())

	_, err := svc.CancelUserSubscription(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoActiveSubscription)
	assert.Empty(t, provider.cancelled)
}

func TestCancelUserSubscriptionNoProviderSubscription(t *testing.T) {
	repo := newFakeRepo(proUser())
	provider := newFakeProvider()
	provider.customerIDs["user@example.com"] = "cus_1"
	svc := newTestService(repo, provider, newMemKV())

	_, err := svc.CancelUserSubscription(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoActiveSubscription)
}

func TestCancelUserSubscriptionCachesCustomerID(t *testing.T) {
	repo := newFakeRepo(proUser())
	provider := newFakeProvider()
	provider.customerIDs["user@example.com"] = "cus_1"
	provider.subs = []ProviderSubscription{{ID: "sub_123", Status: "active"}}
	kv := newMemKV()
	svc := newTestService(repo, provider, kv)

	_, err := svc.CancelUserSubscription(context.Background(), 1)
	require.NoError(t, err)
	_, err = svc.CancelUserSubscription(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.searchCalls, "customer lookup must be cached")
}

func TestGetSubscriptionInfo(t *testing.T) {
	repo := newFakeRepo(proUser())
	provider := newFakeProvider()
	provider.customerIDs["user@example.com"] = "cus_1"
	periodEnd := time.Now().Add(20 * 24 * time.Hour).Truncate(time.Second)
	provider.subs = []ProviderSubscription{{
		ID:               "sub_123",
		Status:           "active",
		UnitAmount:       999,
		Currency:         "eur",
		Interval:         "month",
		CurrentPeriodEnd: periodEnd,
	}}
	svc := newTestService(repo, provider, newMemKV())

	info, err := svc.GetSubscriptionInfo(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "sub_123", info.SubscriptionID)
	assert.Equal(t, "active", info.Status)
	assert.InDelta(t, 9.99, info.Amount, 0.001)
	assert.False(t, info.Estimated)
	assert.True(t, info.NextBillingDate.Equal(periodEnd))

	// Second call is served from cache.
	_, err = svc.GetSubscriptionInfo(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.listCalls)
}

func TestGetSubscriptionInfoProviderDownFallsBack(t *testing.T) {
	repo := newFakeRepo(proUser())
	completed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.CreatePayment(&models.Payment{
		UserID:         1,
		Amount:         9.99,
		Currency:       "eur",
		Status:         models.PaymentStatusCompleted,
		StripeChargeID: "subscription_sub_123",
		CompletedAt:    &completed,
	}))

	provider := newFakeProvider()
	provider.customerErr = providerErr("customer search", assert.AnError)
	svc := newTestService(repo, provider, newMemKV())

	info, err := svc.GetSubscriptionInfo(context.Background(), 1)
	require.NoError(t, err)
	assert.True(t, info.Estimated)
	assert.InDelta(t, 9.99, info.Amount, 0.001)
	assert.Equal(t, completed.AddDate(0, 1, 0), info.NextBillingDate)
}

func TestGetSubscriptionInfoNoSubscription(t *testing.T) {
	repo := newFakeRepo(freeUser())
	svc := newTestService(repo, newFakeProvider(), newMemKV())

	_, err := svc.GetSubscriptionInfo(context.Background(), 1)
	assert.ErrorIs(t, err, ErrNoActiveSubscription)
}

func TestGetPaymentStatistics(t *testing.T) {
	repo := newFakeRepo(proUser())
	for _, p := range []*models.Payment{
		{UserID: 1, Amount: 9.99, Currency: "eur", Status: models.PaymentStatusCompleted, StripeChargeID: "a"},
		{UserID: 1, Amount: 9.99, Currency: "eur", Status: models.PaymentStatusCompleted, StripeChargeID: "b"},
		{UserID: 1, Amount: 9.99, Currency: "eur", Status: models.PaymentStatusFailed, StripeChargeID: "c"},
	} {
		require.NoError(t, repo.CreatePayment(p))
	}
	svc := newTestService(repo, newFakeProvider(), newMemKV())

	stats, err := svc.GetPaymentStatistics()
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(2), stats.CompletedCount)
	assert.Equal(t, int64(1), stats.FailedCount)
	assert.InDelta(t, 19.98, stats.CompletedRevenue, 0.001)
}

func TestSuccessTokenFormat(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		tok, err := generateSuccessToken()
		require.NoError(t, err)
		assert.False(t, seen[tok], "tokens must not repeat")
		seen[tok] = true
		assert.GreaterOrEqual(t, len(tok), 43)
		assert.False(t, strings.ContainsAny(tok, "+/="), "token must be URL-safe")
	}
}
