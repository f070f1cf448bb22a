package razorpaywebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/medisync-labs/medisync-backend/internal/billing"
	"github.com/medisync-labs/medisync-backend/internal/verification"
	"github.com/medisync-labs/medisync-backend/pkg/db/models"
	"github.com/medisync-labs/medisync-backend/pkg/enums"
	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
	"github.com/medisync-labs/medisync-backend/pkg/metrics"
	"github.com/medisync-labs/medisync-backend/pkg/razorpay"
)

// Delivery outcome labels for the webhook counter.
const (
	outcomeApplied     = "applied"
	outcomeDuplicate   = "duplicate"
	outcomeRecorded    = "recorded"
	outcomeIgnored     = "ignored"
	outcomeAdminReview = "admin_review"
	outcomeError       = "error"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type captureApplier interface {
	ApplyCapture(ctx context.Context, hospitalID uuid.UUID, orderID string, payment *razorpay.Payment) (*verification.Result, error)
}

type ServiceParams struct {
	BillingRepo       billing.Repository
	Settler           captureApplier
	TransactionRunner txRunner
	Metrics           *metrics.PaymentMetrics
	Logger            *logger.Logger
}

type Service struct {
	billingRepo billing.Repository
	settler     captureApplier
	tx          txRunner
	metrics     *metrics.PaymentMetrics
	logg        *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.Settler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "capture applier required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		billingRepo: params.BillingRepo,
		settler:     params.Settler,
		tx:          params.TransactionRunner,
		metrics:     params.Metrics,
		logg:        params.Logger,
	}, nil
}

// Event is the envelope razorpay posts. Member entities stay raw until the
// handler for the event type decodes them.
type Event struct {
	Entity    string       `json:"entity"`
	AccountID string       `json:"account_id"`
	Event     string       `json:"event"`
	Contains  []string     `json:"contains"`
	Payload   EventPayload `json:"payload"`
	CreatedAt int64        `json:"created_at"`
}

type EventPayload struct {
	Payment EntityWrapper `json:"payment"`
	Order   EntityWrapper `json:"order"`
}

type EntityWrapper struct {
	Entity json.RawMessage `json:"entity"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	Method           string `json:"method"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// HandleEvent processes razorpay payment events. The envelope arrives already
// signature-checked, so the embedded payment entity is authoritative gateway
// state, same as a fetched one.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "razorpay event required")
	}

	name := strings.ToLower(event.Event)
	switch name {
	case "payment.captured":
		payment, err := decodePayment(event.Payload.Payment.Entity)
		if err != nil {
			s.metrics.IncWebhookEvent(name, outcomeError)
			return err
		}
		return s.applyCaptured(ctx, name, payment)
	case "payment.failed":
		payment, err := decodePayment(event.Payload.Payment.Entity)
		if err != nil {
			s.metrics.IncWebhookEvent(name, outcomeError)
			return err
		}
		return s.recordDecline(ctx, name, payment)
	default:
		s.metrics.IncWebhookEvent(name, outcomeIgnored)
		return nil
	}
}

// applyCaptured funnels the captured payment through the verification
// transition. Outcomes that already parked the attempt for a human are
// swallowed so the gateway does not redeliver into repeat notifications.
func (s *Service) applyCaptured(ctx context.Context, name string, payment *razorpay.Payment) error {
	if payment.OrderID == "" {
		// Payment-link charges carry no order and cannot be ours.
		s.logg.Warn(ctx, fmt.Sprintf("captured payment %s has no order, dropping event", payment.ID))
		s.metrics.IncWebhookEvent(name, outcomeIgnored)
		return nil
	}

	attempt, err := s.loadAttempt(ctx, payment.OrderID)
	if err != nil {
		s.metrics.IncWebhookEvent(name, outcomeError)
		return err
	}
	if attempt == nil {
		// Orders from other environments share the gateway account; a
		// redelivery will not make them ours.
		s.logg.Warn(ctx, fmt.Sprintf("no renewal attempt for order %s, dropping event", payment.OrderID))
		s.metrics.IncWebhookEvent(name, outcomeIgnored)
		return nil
	}

	ctx = s.logg.WithHospitalID(ctx, attempt.HospitalID.String())
	result, err := s.settler.ApplyCapture(ctx, attempt.HospitalID, payment.OrderID, payment)
	if err != nil {
		typed := pkgerrors.As(err)
		if typed != nil && (typed.Code() == pkgerrors.CodeAmountMismatch || typed.Code() == pkgerrors.CodeAdminReview) {
			s.metrics.IncWebhookEvent(name, outcomeAdminReview)
			return nil
		}
		s.metrics.IncWebhookEvent(name, outcomeError)
		return err
	}
	if result.AlreadyProcessed {
		s.metrics.IncWebhookEvent(name, outcomeDuplicate)
		return nil
	}
	s.logg.Info(ctx, fmt.Sprintf("webhook settled payment %s for order %s", payment.ID, payment.OrderID))
	s.metrics.IncWebhookEvent(name, outcomeApplied)
	return nil
}

// recordDecline stores the gateway's error detail on the pending attempt. The
// attempt itself stays pending: the payer can retry on the same order, and
// only verification or the reconciler close it.
func (s *Service) recordDecline(ctx context.Context, name string, payment *razorpay.Payment) error {
	if payment.OrderID == "" {
		s.metrics.IncWebhookEvent(name, outcomeIgnored)
		return nil
	}

	attempt, err := s.loadAttempt(ctx, payment.OrderID)
	if err != nil {
		s.metrics.IncWebhookEvent(name, outcomeError)
		return err
	}
	if attempt == nil || attempt.PaymentStatus != enums.PaymentStatusPending {
		s.metrics.IncWebhookEvent(name, outcomeIgnored)
		return nil
	}

	note := declineNote(payment)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.billingRepo.WithTx(tx)
		fresh, err := repo.FindAttemptByID(ctx, attempt.ID)
		if err != nil {
			return err
		}
		if fresh == nil || fresh.PaymentStatus != enums.PaymentStatusPending {
			return nil
		}
		fresh.FailureReason = &note
		return repo.UpdateAttempt(ctx, fresh)
	})
	if err != nil {
		s.metrics.IncWebhookEvent(name, outcomeError)
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording payment decline")
	}

	logCtx := s.logg.WithHospitalID(ctx, attempt.HospitalID.String())
	s.logg.Info(logCtx, fmt.Sprintf("recorded decline for order %s: %s", payment.OrderID, note))
	s.metrics.IncWebhookEvent(name, outcomeRecorded)
	return nil
}

func (s *Service) loadAttempt(ctx context.Context, orderID string) (*models.RenewalAttempt, error) {
	attempt, err := s.billingRepo.FindAttemptByOrderID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading renewal attempt")
	}
	return attempt, nil
}

func decodePayment(raw json.RawMessage) (*razorpay.Payment, error) {
	if len(raw) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment entity missing")
	}
	var entity paymentEntity
	if err := json.Unmarshal(raw, &entity); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment entity")
	}
	if entity.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment entity has no id")
	}
	return &razorpay.Payment{
		ID:               entity.ID,
		OrderID:          entity.OrderID,
		AmountPaise:      entity.Amount,
		Currency:         entity.Currency,
		Status:           entity.Status,
		Method:           entity.Method,
		ErrorCode:        entity.ErrorCode,
		ErrorDescription: entity.ErrorDescription,
		Raw:              raw,
	}, nil
}

func declineNote(payment *razorpay.Payment) string {
	switch {
	case payment.ErrorDescription != "" && payment.ErrorCode != "":
		return fmt.Sprintf("gateway declined payment %s (%s): %s", payment.ID, payment.ErrorCode, payment.ErrorDescription)
	case payment.ErrorDescription != "":
		return fmt.Sprintf("gateway declined payment %s: %s", payment.ID, payment.ErrorDescription)
	default:
		return fmt.Sprintf("gateway declined payment %s", payment.ID)
	}
}
