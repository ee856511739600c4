package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
	PaymentStatusCancelled  = "cancelled"
)

const (
	CurrencyUSD = "usd"
	CurrencyEUR = "eur"
	CurrencyGBP = "gbp"
	CurrencySGD = "sgd"
)

// NominalAmount is recorded for audit rows that describe a subscription
// state change rather than an actual charge.
const NominalAmount = 0.01

// Payment is the financial audit trail. Rows are created on checkout or
// webhook receipt, mutated only through the transition methods below, and
// never hard-deleted. StripeChargeID is the idempotency key: it is globally
// unique when present, so a redelivered webhook cannot create a duplicate.
type Payment struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;index" json:"user_id"`
	User           *User      `gorm:"foreignKey:UserID" json:"-"`
	Amount         float64    `gorm:"type:decimal(10,2);not null" json:"amount" validate:"required,gt=0"`
	Currency       string     `gorm:"type:varchar(3);not null;default:'usd'" json:"currency" validate:"oneof=usd eur gbp sgd"`
	Status         string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status" validate:"oneof=pending processing completed failed cancelled"`
	StripeChargeID string     `gorm:"type:varchar(191);uniqueIndex;default:null" json:"stripe_charge_id,omitempty"`
	ErrorMessage   string     `gorm:"type:text" json:"error_message,omitempty"`
	Metadata       string     `gorm:"type:longtext" json:"metadata,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	CompletedAt    *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
}

func (p *Payment) Validate() error {
	v := validator.New()

	return v.Struct(p)
}

func (p *Payment) Completed() bool {
	return p.Status == PaymentStatusCompleted
}

// MarkCompleted transitions pending/processing to completed.
func (p *Payment) MarkCompleted() {
	now := time.Now()
	p.Status = PaymentStatusCompleted
	p.CompletedAt = &now
	p.ErrorMessage = ""
}

// MarkFailed is a valid transition from any state (verification errors).
func (p *Payment) MarkFailed(reason string) {
	p.Status = PaymentStatusFailed
	p.ErrorMessage = reason
}

// MarkCancelled transitions a completed subscription payment to cancelled.
// This records subscription cancellation, not a refund.
func (p *Payment) MarkCancelled(reason string) {
	p.Status = PaymentStatusCancelled
	p.ErrorMessage = reason
}
