package jobqueue

import (
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/MarioFuchs/StreamVault/internal/pkg/mail"
)

// processPaymentConfirmationJob sends the payment confirmation email
func (q *Queue) processPaymentConfirmationJob(job *Job) error {
	payload, err := PaymentConfirmationJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid payment confirmation payload: %w", err)
	}
	if payload.Email == "" {
		return fmt.Errorf("payment confirmation job %s has no recipient", job.ID)
	}

	if err := mail.SendPaymentConfirmation(payload.Email, payload.Name, payload.Amount, payload.Currency); err != nil {
		return err
	}

	log.Infof("[JobQueue] Payment confirmation sent to user %d (payment %d)", payload.UserID, payload.PaymentID)
	return nil
}

// processSubscriptionCancellationJob sends the cancellation notice email
func (q *Queue) processSubscriptionCancellationJob(job *Job) error {
	payload, err := SubscriptionCancellationJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid cancellation payload: %w", err)
	}
	if payload.Email == "" {
		return fmt.Errorf("cancellation job %s has no recipient", job.ID)
	}

	if err := mail.SendSubscriptionCancellation(payload.Email, payload.Name, payload.AccessEnd); err != nil {
		return err
	}

	log.Infof("[JobQueue] Cancellation notice sent to user %d", payload.UserID)
	return nil
}
