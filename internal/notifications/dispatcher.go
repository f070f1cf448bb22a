package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/medisync-labs/medisync-backend/pkg/db/models"
	"github.com/medisync-labs/medisync-backend/pkg/enums"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
	"github.com/medisync-labs/medisync-backend/pkg/pubsub"
)

const defaultPublishTimeout = 10 * time.Second

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) publishResult
}

type publisherFactory func() publisher

// Event is the payload published for downstream delivery channels. Delivery
// itself (email, SMS) lives outside this service.
type Event struct {
	Type           enums.NotificationType `json:"type"`
	HospitalID     uuid.UUID              `json:"hospital_id"`
	SubscriptionID *uuid.UUID             `json:"subscription_id,omitempty"`
	AttemptID      *uuid.UUID             `json:"attempt_id,omitempty"`
	GatewayOrderID string                 `json:"gateway_order_id,omitempty"`
	AmountPaise    int64                  `json:"amount_paise,omitempty"`
	Currency       string                 `json:"currency,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	Dependency     string                 `json:"dependency,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
}

// DispatcherParams groups dependencies for the notification dispatcher.
type DispatcherParams struct {
	PubSub           *pubsub.Client
	Logger           *logger.Logger
	PublishTimeout   time.Duration
	PublisherFactory publisherFactory
}

// Dispatcher publishes notification events after state transitions commit.
// Publishing is best effort: failures are logged and never propagate to the
// payment flow that triggered them.
type Dispatcher struct {
	factory publisherFactory
	logger  *logger.Logger
	timeout time.Duration
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	factory := params.PublisherFactory
	if factory == nil {
		if params.PubSub == nil {
			return nil, errors.New("pubsub client is required")
		}
		factory = func() publisher {
			return newGCPPublisher(params.PubSub.NotificationPublisher())
		}
	}
	timeout := params.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Dispatcher{
		factory: factory,
		logger:  params.Logger,
		timeout: timeout,
	}, nil
}

// RenewalReceipt announces a verified renewal payment.
func (d *Dispatcher) RenewalReceipt(ctx context.Context, attempt *models.RenewalAttempt) {
	if attempt == nil {
		return
	}
	d.publish(ctx, Event{
		Type:           enums.NotificationTypeRenewalReceipt,
		HospitalID:     attempt.HospitalID,
		SubscriptionID: uuidPtr(attempt.SubscriptionID),
		AttemptID:      uuidPtr(attempt.ID),
		GatewayOrderID: stringValue(attempt.GatewayOrderID),
		AmountPaise:    attempt.AmountPaise,
		Currency:       attempt.Currency.String(),
		OccurredAt:     time.Now().UTC(),
	})
}

// RenewalFailed announces a renewal that ended in a terminal failure.
func (d *Dispatcher) RenewalFailed(ctx context.Context, attempt *models.RenewalAttempt, reason enums.FailureReason) {
	if attempt == nil {
		return
	}
	d.publish(ctx, Event{
		Type:           enums.NotificationTypeRenewalFailed,
		HospitalID:     attempt.HospitalID,
		SubscriptionID: uuidPtr(attempt.SubscriptionID),
		AttemptID:      uuidPtr(attempt.ID),
		GatewayOrderID: stringValue(attempt.GatewayOrderID),
		AmountPaise:    attempt.AmountPaise,
		Currency:       attempt.Currency.String(),
		Reason:         reason.String(),
		OccurredAt:     time.Now().UTC(),
	})
}

// AdminReview announces an attempt parked for manual review.
func (d *Dispatcher) AdminReview(ctx context.Context, attempt *models.RenewalAttempt, reason string) {
	if attempt == nil {
		return
	}
	d.publish(ctx, Event{
		Type:           enums.NotificationTypeAdminReview,
		HospitalID:     attempt.HospitalID,
		SubscriptionID: uuidPtr(attempt.SubscriptionID),
		AttemptID:      uuidPtr(attempt.ID),
		GatewayOrderID: stringValue(attempt.GatewayOrderID),
		AmountPaise:    attempt.AmountPaise,
		Currency:       attempt.Currency.String(),
		Reason:         reason,
		OccurredAt:     time.Now().UTC(),
	})
}

// DependencyAlert announces a failed dependency health probe.
func (d *Dispatcher) DependencyAlert(ctx context.Context, dependency string, cause error) {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	d.publish(ctx, Event{
		Type:       enums.NotificationTypeDependencyAlert,
		Dependency: dependency,
		Reason:     reason,
		OccurredAt: time.Now().UTC(),
	})
}

func (d *Dispatcher) publish(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Error(ctx, "encode notification event", err)
		return
	}

	pub := d.factory()
	if pub == nil {
		d.logger.Error(ctx, "notification publisher not configured", nil)
		return
	}

	msg := &gcppubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event_type":  event.Type.String(),
			"hospital_id": event.HospitalID.String(),
			"occurred_at": event.OccurredAt.Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	result := pub.Publish(publishCtx, msg)
	if result == nil {
		d.logger.Error(ctx, "notification publish returned nil result", nil)
		return
	}
	if _, err := result.Get(publishCtx); err != nil {
		fields := d.logger.WithFields(ctx, map[string]any{"event_type": event.Type.String()})
		d.logger.Error(fields, "publish notification event", err)
	}
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return p.Publisher.Publish(ctx, msg)
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
