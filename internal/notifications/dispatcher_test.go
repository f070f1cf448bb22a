package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medisync-labs/medisync-backend/pkg/db/models"
	"github.com/medisync-labs/medisync-backend/pkg/enums"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
)

type fakeResult struct {
	err error
}

func (r *fakeResult) Get(ctx context.Context) (string, error) {
	return "msg-1", r.err
}

type fakePublisher struct {
	messages []*gcppubsub.Message
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	f.messages = append(f.messages, msg)
	return &fakeResult{err: f.err}
}

func newTestDispatcher(t *testing.T, fake *fakePublisher, out *bytes.Buffer) *Dispatcher {
	t.Helper()

	if out == nil {
		out = &bytes.Buffer{}
	}
	logg := logger.New(logger.Options{ServiceName: "test", Level: zerolog.InfoLevel, Output: out})
	dispatcher, err := NewDispatcher(DispatcherParams{
		Logger: logg,
		PublisherFactory: func() publisher {
			return fake
		},
	})
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	return dispatcher
}

func testAttempt() *models.RenewalAttempt {
	orderID := "order_Abc123"
	return &models.RenewalAttempt{
		ID:             uuid.New(),
		SubscriptionID: uuid.New(),
		HospitalID:     uuid.New(),
		GatewayOrderID: &orderID,
		AmountPaise:    307080,
		Currency:       enums.CurrencyINR,
		Cycle:          enums.BillingCycleMonthly,
	}
}

func decodeEvent(t *testing.T, msg *gcppubsub.Message) Event {
	t.Helper()

	var event Event
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return event
}

func TestDispatcherRenewalReceipt(t *testing.T) {
	fake := &fakePublisher{}
	dispatcher := newTestDispatcher(t, fake, nil)
	attempt := testAttempt()

	dispatcher.RenewalReceipt(context.Background(), attempt)

	if len(fake.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fake.messages))
	}
	event := decodeEvent(t, fake.messages[0])
	if event.Type != enums.NotificationTypeRenewalReceipt {
		t.Fatalf("expected renewal receipt event, got %s", event.Type)
	}
	if event.HospitalID != attempt.HospitalID {
		t.Fatalf("expected hospital %s, got %s", attempt.HospitalID, event.HospitalID)
	}
	if event.AmountPaise != 307080 {
		t.Fatalf("expected amount 307080, got %d", event.AmountPaise)
	}
	if event.GatewayOrderID != "order_Abc123" {
		t.Fatalf("expected order id, got %q", event.GatewayOrderID)
	}
	if event.OccurredAt.IsZero() {
		t.Fatalf("expected occurred_at to be set")
	}
	if got := fake.messages[0].Attributes["event_type"]; got != enums.NotificationTypeRenewalReceipt.String() {
		t.Fatalf("expected event_type attribute, got %q", got)
	}
}

func TestDispatcherRenewalFailed(t *testing.T) {
	fake := &fakePublisher{}
	dispatcher := newTestDispatcher(t, fake, nil)

	dispatcher.RenewalFailed(context.Background(), testAttempt(), enums.FailureReasonTimeoutUnpaid)

	if len(fake.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fake.messages))
	}
	event := decodeEvent(t, fake.messages[0])
	if event.Type != enums.NotificationTypeRenewalFailed {
		t.Fatalf("expected renewal failed event, got %s", event.Type)
	}
	if event.Reason != enums.FailureReasonTimeoutUnpaid.String() {
		t.Fatalf("expected failure reason, got %q", event.Reason)
	}
}

func TestDispatcherAdminReview(t *testing.T) {
	fake := &fakePublisher{}
	dispatcher := newTestDispatcher(t, fake, nil)

	dispatcher.AdminReview(context.Background(), testAttempt(), "amount mismatch on order_Abc123")

	if len(fake.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fake.messages))
	}
	event := decodeEvent(t, fake.messages[0])
	if event.Type != enums.NotificationTypeAdminReview {
		t.Fatalf("expected admin review event, got %s", event.Type)
	}
	if event.Reason == "" {
		t.Fatalf("expected a review reason")
	}
}

func TestDispatcherDependencyAlert(t *testing.T) {
	fake := &fakePublisher{}
	dispatcher := newTestDispatcher(t, fake, nil)

	dispatcher.DependencyAlert(context.Background(), "razorpay", errors.New("connect timeout"))

	if len(fake.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(fake.messages))
	}
	event := decodeEvent(t, fake.messages[0])
	if event.Type != enums.NotificationTypeDependencyAlert {
		t.Fatalf("expected dependency alert event, got %s", event.Type)
	}
	if event.Dependency != "razorpay" {
		t.Fatalf("expected dependency name, got %q", event.Dependency)
	}
	if event.Reason != "connect timeout" {
		t.Fatalf("expected cause in reason, got %q", event.Reason)
	}
}

func TestDispatcherPublishFailureIsSwallowed(t *testing.T) {
	out := &bytes.Buffer{}
	fake := &fakePublisher{err: errors.New("topic unavailable")}
	dispatcher := newTestDispatcher(t, fake, out)

	dispatcher.RenewalReceipt(context.Background(), testAttempt())

	if len(fake.messages) != 1 {
		t.Fatalf("expected the publish to be attempted")
	}
	if !strings.Contains(out.String(), "publish notification event") {
		t.Fatalf("expected the failure to be logged, got %q", out.String())
	}
}

func TestDispatcherNilAttemptIgnored(t *testing.T) {
	fake := &fakePublisher{}
	dispatcher := newTestDispatcher(t, fake, nil)

	dispatcher.RenewalReceipt(context.Background(), nil)
	dispatcher.RenewalFailed(context.Background(), nil, enums.FailureReasonPaymentFailed)
	dispatcher.AdminReview(context.Background(), nil, "reason")

	if len(fake.messages) != 0 {
		t.Fatalf("expected no messages for nil attempts, got %d", len(fake.messages))
	}
}
