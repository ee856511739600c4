package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypePaymentConfirmation      JobType = "payment_confirmation"
	JobTypeSubscriptionCancellation JobType = "subscription_cancellation"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// PaymentConfirmationJobPayload contains the payload for payment
// confirmation emails
type PaymentConfirmationJobPayload struct {
	UserID    uint    `json:"user_id"`
	Email     string  `json:"email"`
	Name      string  `json:"name"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	PaymentID uint    `json:"payment_id"`
}

// ToMap converts the payload to a map for storage
func (p PaymentConfirmationJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    p.UserID,
		"email":      p.Email,
		"name":       p.Name,
		"amount":     p.Amount,
		"currency":   p.Currency,
		"payment_id": p.PaymentID,
	}
}

// FromMap creates a payload from a map
func PaymentConfirmationJobPayloadFromMap(data map[string]interface{}) (*PaymentConfirmationJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload PaymentConfirmationJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// SubscriptionCancellationJobPayload contains the payload for
// cancellation notice emails
type SubscriptionCancellationJobPayload struct {
	UserID    uint   `json:"user_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	AccessEnd string `json:"access_end"`
}

// ToMap converts the payload to a map for storage
func (p SubscriptionCancellationJobPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    p.UserID,
		"email":      p.Email,
		"name":       p.Name,
		"access_end": p.AccessEnd,
	}
}

// FromMap creates a payload from a map
func SubscriptionCancellationJobPayloadFromMap(data map[string]interface{}) (*SubscriptionCancellationJobPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload SubscriptionCancellationJobPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
