package jobqueue

import (
	"github.com/gofiber/fiber/v2/log"

	"github.com/MarioFuchs/StreamVault/app/models"
)

// QueueNotifier enqueues billing notification emails onto the job queue.
// Enqueue failures are logged and swallowed; notifications are
// best-effort by contract.
type QueueNotifier struct {
	queue *Queue
}

func NewQueueNotifier(queue *Queue) *QueueNotifier {
	return &QueueNotifier{queue: queue}
}

func (n *QueueNotifier) PaymentConfirmed(user *models.User, payment *models.Payment) {
	payload := PaymentConfirmationJobPayload{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Amount:    payment.Amount,
		Currency:  payment.Currency,
		PaymentID: payment.ID,
	}
	if _, err := n.queue.EnqueueJob(JobTypePaymentConfirmation, payload.ToMap()); err != nil {
		log.Errorf("[JobQueue] Failed to enqueue payment confirmation for user %d: %v", user.ID, err)
	}
}

func (n *QueueNotifier) SubscriptionCancelled(user *models.User, accessEnd string) {
	payload := SubscriptionCancellationJobPayload{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		AccessEnd: accessEnd,
	}
	if _, err := n.queue.EnqueueJob(JobTypeSubscriptionCancellation, payload.ToMap()); err != nil {
		log.Errorf("[JobQueue] Failed to enqueue cancellation notice for user %d: %v", user.ID, err)
	}
}
