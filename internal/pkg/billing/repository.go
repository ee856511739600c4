package billing

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MarioFuchs/StreamVault/app/models"
)

// Repository provides the DB operations used by the reconciler. All
// mutating operations invoked from a webhook handler run through
// Transaction so one event commits or rolls back as a unit.
type Repository interface {
	Transaction(fn func(Repository) error) error

	FindUserByID(id uint) (*models.User, error)
	FindUserByEmail(email string) (*models.User, error)
	UpdateUserRole(userID uint, role string) error

	FindPaymentByChargeID(chargeID string) (*models.Payment, error)
	CreatePayment(p *models.Payment) error
	SavePayment(p *models.Payment) error
	LatestCompletedPayment(userID uint) (*models.Payment, error)
	PaymentStatistics() (*PaymentStatistics, error)

	CreatePaymentEventIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error)
	MarkPaymentEventProcessed(id uint, processingError string) error
	RecordPaymentEventError(id uint, processingError string) error
}

// PaymentStatistics is an aggregate over the payment audit trail.
type PaymentStatistics struct {
	Total            int64   `json:"total"`
	CompletedCount   int64   `json:"completed_count"`
	PendingCount     int64   `json:"pending_count"`
	FailedCount      int64   `json:"failed_count"`
	CancelledCount   int64   `json:"cancelled_count"`
	CompletedRevenue float64 `json:"completed_revenue"`
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) FindUserByID(id uint) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) FindUserByEmail(email string) (*models.User, error) {
	var u models.User
	if err := r.db.First(&u, "email = ?", email).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *gormRepository) UpdateUserRole(userID uint, role string) error {
	return r.db.Model(&models.User{}).Where("id = ?", userID).Update("role", role).Error
}

func (r *gormRepository) FindPaymentByChargeID(chargeID string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.First(&p, "stripe_charge_id = ?", chargeID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) CreatePayment(p *models.Payment) error {
	return r.db.Create(p).Error
}

func (r *gormRepository) SavePayment(p *models.Payment) error {
	return r.db.Save(p).Error
}

func (r *gormRepository) LatestCompletedPayment(userID uint) (*models.Payment, error) {
	var p models.Payment
	err := r.db.
		Where("user_id = ? AND status = ?", userID, models.PaymentStatusCompleted).
		Order("created_at DESC").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) PaymentStatistics() (*PaymentStatistics, error) {
	type row struct {
		Status string
		Count  int64
		Sum    float64
	}
	var rows []row
	err := r.db.Model(&models.Payment{}).
		Select("status, COUNT(*) as count, COALESCE(SUM(amount), 0) as sum").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	stats := &PaymentStatistics{}
	for _, rw := range rows {
		stats.Total += rw.Count
		switch rw.Status {
		case models.PaymentStatusCompleted:
			stats.CompletedCount = rw.Count
			stats.CompletedRevenue = rw.Sum
		case models.PaymentStatusPending:
			stats.PendingCount = rw.Count
		case models.PaymentStatusFailed:
			stats.FailedCount = rw.Count
		case models.PaymentStatusCancelled:
			stats.CancelledCount = rw.Count
		}
	}
	return stats, nil
}

func (r *gormRepository) CreatePaymentEventIfNotExists(event *models.PaymentEvent) (bool, *models.PaymentEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkPaymentEventProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.PaymentEvent{}).Where("id = ?", id).Updates(updates).Error
}

// RecordPaymentEventError stores the failure without setting
// processed_at, so the provider's redelivery gets another attempt.
func (r *gormRepository) RecordPaymentEventError(id uint, processingError string) error {
	return r.db.Model(&models.PaymentEvent{}).Where("id = ?", id).
		Update("processing_error", processingError).Error
}
