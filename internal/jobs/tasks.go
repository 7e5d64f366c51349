package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/example/baraka-billing/internal/services"
)

// TypePaymentSuccess is the task type for payment-success notifications.
const TypePaymentSuccess = "notification:payment_success"

// NewPaymentSuccessTask wraps a success event into a queue task.
func NewPaymentSuccessTask(event services.PaymentSuccessEvent) (*asynq.Task, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(
		TypePaymentSuccess,
		payload,
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
	), nil
}

// Client enqueues notification tasks. It implements services.PaymentNotifier.
type Client struct {
	inner *asynq.Client
}

func NewClient(redisOpt asynq.RedisClientOpt) *Client {
	return &Client{inner: asynq.NewClient(redisOpt)}
}

// NotifyPaymentSuccess enqueues the event for background delivery.
func (c *Client) NotifyPaymentSuccess(ctx context.Context, event services.PaymentSuccessEvent) error {
	task, err := NewPaymentSuccessTask(event)
	if err != nil {
		return err
	}
	_, err = c.inner.EnqueueContext(ctx, task)
	return err
}

// Close releases the underlying queue connection.
func (c *Client) Close() error {
	return c.inner.Close()
}
