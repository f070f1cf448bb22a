package razorpay

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	rzpsdk "github.com/razorpay/razorpay-go"
	"github.com/sethvargo/go-retry"

	"github.com/medisync-labs/medisync-backend/pkg/config"
	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
	"github.com/medisync-labs/medisync-backend/pkg/logger"
)

const (
	// Razorpay rejects receipts longer than 40 bytes.
	maxReceiptLen = 40

	minCallTimeout = 30 * time.Second
	maxCallTimeout = 45 * time.Second
)

var (
	errKeyIDRequired     = errors.New("razorpay key id is required")
	errKeySecretRequired = errors.New("razorpay key secret is required")
	errLoggerRequired    = errors.New("razorpay logger is required")
)

// OrderClient is the order surface the orchestrators depend on.
type OrderClient interface {
	CreateOrder(ctx context.Context, params CreateOrderParams) (*Order, error)
	FetchOrder(ctx context.Context, orderID string) (*Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
	FetchPaymentsForOrder(ctx context.Context, orderID string) ([]Payment, error)
}

// Client wraps the Razorpay SDK with bounded timeouts, read retries, logging,
// and error mapping.
type Client struct {
	sdk           *rzpsdk.Client
	keyID         string
	keySecret     string
	webhookSecret string
	callTimeout   time.Duration
	fetchRetries  int
	retryBaseWait time.Duration
	logger        *logger.Logger
}

// NewClient initializes the Razorpay wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.RazorpayConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	keyID := strings.TrimSpace(cfg.KeyID)
	if keyID == "" {
		return nil, errKeyIDRequired
	}
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keySecret == "" {
		return nil, errKeySecretRequired
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 35 * time.Second
	}
	if timeout < minCallTimeout {
		timeout = minCallTimeout
	}
	if timeout > maxCallTimeout {
		timeout = maxCallTimeout
	}

	retries := cfg.FetchRetries
	if retries < 0 {
		retries = 0
	}
	baseWait := cfg.RetryBaseWait
	if baseWait <= 0 {
		baseWait = 500 * time.Millisecond
	}

	c := &Client{
		sdk:           rzpsdk.NewClient(keyID, keySecret),
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		callTimeout:   timeout,
		fetchRetries:  retries,
		retryBaseWait: baseWait,
		logger:        logg,
	}

	logg.Info(ctx, "razorpay client initialized")
	return c, nil
}

// KeyID returns the public key id the frontend checkout needs.
func (c *Client) KeyID() string {
	if c == nil {
		return ""
	}
	return c.keyID
}

// WebhookSecret returns the configured webhook signing secret.
func (c *Client) WebhookSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// NewReceipt builds a receipt that is unique per attempt yet traceable to the
// hospital and the minute it was issued. Always within the gateway's 40-byte cap.
func NewReceipt(hospitalID uuid.UUID, at time.Time) string {
	hosp := strings.ReplaceAll(hospitalID.String(), "-", "")
	if len(hosp) > 8 {
		hosp = hosp[:8]
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
	receipt := fmt.Sprintf("rnw-%s-%d-%s", hosp, at.Unix()/60, suffix)
	if len(receipt) > maxReceiptLen {
		receipt = receipt[:maxReceiptLen]
	}
	return receipt
}

// CreateOrderParams carries the inputs for a renewal order.
type CreateOrderParams struct {
	AmountPaise int64
	Currency    string
	Receipt     string
	Notes       map[string]string
}

// CreateOrder registers a new order with the gateway. Creation is never
// replayed with a stale receipt; callers regenerate the receipt per attempt.
func (c *Client) CreateOrder(ctx context.Context, params CreateOrderParams) (*Order, error) {
	if params.AmountPaise < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amount must be at least 1 paise")
	}
	if strings.TrimSpace(params.Receipt) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order receipt is required")
	}

	currency := params.Currency
	if currency == "" {
		currency = "INR"
	}

	data := map[string]interface{}{
		"amount":   params.AmountPaise,
		"currency": currency,
		"receipt":  params.Receipt,
	}
	if len(params.Notes) > 0 {
		notes := make(map[string]interface{}, len(params.Notes))
		for k, v := range params.Notes {
			notes[k] = v
		}
		data["notes"] = notes
	}

	c.log(ctx, "request", "create_order", map[string]any{
		"amount":   params.AmountPaise,
		"currency": currency,
		"receipt":  params.Receipt,
	})

	body, err := c.call(ctx, "create_order", func() (map[string]interface{}, error) {
		return c.sdk.Order.Create(data, nil)
	})
	if err != nil {
		return nil, err
	}

	order, err := parseOrder(body)
	if err != nil {
		return nil, err
	}
	c.log(ctx, "response", "create_order", map[string]any{
		"order_id": order.ID,
		"status":   order.Status,
	})
	return order, nil
}

// FetchOrder reads the authoritative order state, retrying transient failures.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	c.log(ctx, "request", "fetch_order", map[string]any{"order_id": orderID})
	body, err := c.fetch(ctx, "fetch_order", func() (map[string]interface{}, error) {
		return c.sdk.Order.Fetch(orderID, nil, nil)
	})
	if err != nil {
		return nil, err
	}

	order, err := parseOrder(body)
	if err != nil {
		return nil, err
	}
	c.log(ctx, "response", "fetch_order", map[string]any{
		"order_id": order.ID,
		"status":   order.Status,
	})
	return order, nil
}

// FetchPayment reads the authoritative payment state, retrying transient failures.
func (c *Client) FetchPayment(ctx context.Context, paymentID string) (*Payment, error) {
	if strings.TrimSpace(paymentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	c.log(ctx, "request", "fetch_payment", map[string]any{"payment_id": paymentID})
	body, err := c.fetch(ctx, "fetch_payment", func() (map[string]interface{}, error) {
		return c.sdk.Payment.Fetch(paymentID, nil, nil)
	})
	if err != nil {
		return nil, err
	}

	payment, err := parsePayment(body)
	if err != nil {
		return nil, err
	}
	c.log(ctx, "response", "fetch_payment", map[string]any{
		"payment_id": payment.ID,
		"status":     payment.Status,
	})
	return payment, nil
}

// FetchPaymentsForOrder lists every payment registered against an order.
func (c *Client) FetchPaymentsForOrder(ctx context.Context, orderID string) ([]Payment, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}

	c.log(ctx, "request", "fetch_order_payments", map[string]any{"order_id": orderID})
	body, err := c.fetch(ctx, "fetch_order_payments", func() (map[string]interface{}, error) {
		return c.sdk.Order.Payments(orderID, nil, nil)
	})
	if err != nil {
		return nil, err
	}

	payments, err := parsePaymentList(body)
	if err != nil {
		return nil, err
	}
	c.log(ctx, "response", "fetch_order_payments", map[string]any{
		"order_id": orderID,
		"count":    len(payments),
	})
	return payments, nil
}

// VerifyPaymentSignature checks the checkout callback signature: HMAC-SHA256
// over "orderID|paymentID" keyed with the API secret, hex encoded,
// constant-time compared.
func (c *Client) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	expected := signPayload([]byte(orderID+"|"+paymentID), c.keySecret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyWebhookSignature checks the X-Razorpay-Signature header against the
// raw webhook body using the webhook secret.
func (c *Client) VerifyWebhookSignature(body []byte, signature string) bool {
	if c.webhookSecret == "" || signature == "" {
		return false
	}
	expected := signPayload(body, c.webhookSecret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func signPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// call runs one SDK invocation under the configured deadline. The SDK does not
// take a context, so the call is raced against ctx in a goroutine.
func (c *Client) call(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	type outcome struct {
		body map[string]interface{}
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		body, err := fn()
		done <- outcome{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		c.log(ctx, "error", op, map[string]any{"error": ctx.Err().Error()})
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayTimeout, ctx.Err(), fmt.Sprintf("razorpay %s timed out", op))
	case res := <-done:
		if res.err != nil {
			c.log(ctx, "error", op, map[string]any{"error": res.err.Error()})
			return nil, c.mapError(res.err, op)
		}
		return res.body, nil
	}
}

// fetch wraps call with exponential backoff for idempotent reads.
func (c *Client) fetch(ctx context.Context, op string, fn func() (map[string]interface{}, error)) (map[string]interface{}, error) {
	var body map[string]interface{}
	backoff := retry.WithMaxRetries(uint64(c.fetchRetries), retry.NewExponential(c.retryBaseWait))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res, callErr := c.call(ctx, op, fn)
		if callErr != nil {
			if typed := pkgerrors.As(callErr); typed != nil && pkgerrors.MetadataFor(typed.Code()).Retryable {
				return retry.RetryableError(callErr)
			}
			return callErr
		}
		body = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pkgerrors.Wrap(pkgerrors.CodeGatewayTimeout, err, fmt.Sprintf("razorpay %s timed out", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeGatewayAPI, err, fmt.Sprintf("razorpay %s failed", op))
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("razorpay %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("razorpay %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"secret", "token", "signature", "card", "vpa", "email", "contact"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}
