package billing

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/MarioFuchs/StreamVault/app/models"
)

func setupMockDB(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: logger.New(log.New(io.Discard, "", log.LstdFlags), logger.Config{LogLevel: logger.Silent}),
	})
	require.NoError(t, err)

	return NewRepository(gormDB), mock
}

func TestRepositoryFindPaymentByChargeID(t *testing.T) {
	repo, mock := setupMockDB(t)

	rows := sqlmock.NewRows([]string{"id", "user_id", "amount", "currency", "status", "stripe_charge_id"}).
		AddRow(7, 1, 9.99, "eur", "completed", "subscription_sub_123")
	mock.ExpectQuery("SELECT (.+) FROM `payments` WHERE stripe_charge_id = \\?").
		WithArgs("subscription_sub_123", 1).
		WillReturnRows(rows)

	p, err := repo.FindPaymentByChargeID("subscription_sub_123")
	require.NoError(t, err)
	assert.Equal(t, uint(7), p.ID)
	assert.Equal(t, "subscription_sub_123", p.StripeChargeID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryFindPaymentByChargeIDNotFound(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectQuery("SELECT (.+) FROM `payments` WHERE stripe_charge_id = \\?").
		WithArgs("missing", 1).
		WillReturnError(gorm.ErrRecordNotFound)

	_, err := repo.FindPaymentByChargeID("missing")
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreatePaymentEventDeduplicates(t *testing.T) {
	repo, mock := setupMockDB(t)

	// First delivery inserts a new row.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `payment_events`").
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT (.+) FROM `payment_events` WHERE provider = \\? AND provider_event_id = \\?").
		WithArgs("stripe", "evt_1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider", "provider_event_id", "event_type"}).
			AddRow(11, "stripe", "evt_1", "checkout.session.completed"))

	event := &models.PaymentEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: "evt_1",
		EventType:       "checkout.session.completed",
		PayloadJSON:     "{}",
		SignatureValid:  true,
	}
	created, stored, err := repo.CreatePaymentEventIfNotExists(event)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, uint(11), stored.ID)

	// Redelivery conflicts with the unique index and affects no rows.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `payment_events`").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT (.+) FROM `payment_events` WHERE provider = \\? AND provider_event_id = \\?").
		WithArgs("stripe", "evt_1", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "provider", "provider_event_id", "event_type"}).
			AddRow(11, "stripe", "evt_1", "checkout.session.completed"))

	created, stored, err = repo.CreatePaymentEventIfNotExists(event)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, uint(11), stored.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryMarkPaymentEventProcessed(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `payment_events` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MarkPaymentEventProcessed(11, "")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryPaymentStatistics(t *testing.T) {
	repo, mock := setupMockDB(t)

	rows := sqlmock.NewRows([]string{"status", "count", "sum"}).
		AddRow("completed", 3, 29.97).
		AddRow("pending", 1, 9.99).
		AddRow("failed", 2, 19.98)
	mock.ExpectQuery("SELECT status, COUNT\\(\\*\\) as count, COALESCE\\(SUM\\(amount\\), 0\\) as sum FROM `payments`").
		WillReturnRows(rows)

	stats, err := repo.PaymentStatistics()
	require.NoError(t, err)
	assert.Equal(t, int64(6), stats.Total)
	assert.Equal(t, int64(3), stats.CompletedCount)
	assert.Equal(t, int64(1), stats.PendingCount)
	assert.Equal(t, int64(2), stats.FailedCount)
	assert.InDelta(t, 29.97, stats.CompletedRevenue, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryLatestCompletedPayment(t *testing.T) {
	repo, mock := setupMockDB(t)

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "user_id", "amount", "status", "created_at"}).
		AddRow(5, 1, 9.99, "completed", created)
	mock.ExpectQuery("SELECT (.+) FROM `payments` WHERE user_id = \\? AND status = \\?").
		WithArgs(1, "completed", 1).
		WillReturnRows(rows)

	p, err := repo.LatestCompletedPayment(1)
	require.NoError(t, err)
	assert.Equal(t, uint(5), p.ID)
	assert.True(t, p.CreatedAt.Equal(created))
	assert.NoError(t, mock.ExpectationsWereMet())
}
