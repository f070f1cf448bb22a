package razorpay

import (
	"encoding/json"
	"fmt"
	"strconv"

	pkgerrors "github.com/medisync-labs/medisync-backend/pkg/errors"
)

// Order statuses reported by the gateway.
const (
	OrderStatusCreated   = "created"
	OrderStatusAttempted = "attempted"
	OrderStatusPaid      = "paid"
)

// Payment statuses reported by the gateway.
const (
	PaymentStatusCreated    = "created"
	PaymentStatusAuthorized = "authorized"
	PaymentStatusCaptured   = "captured"
	PaymentStatusRefunded   = "refunded"
	PaymentStatusFailed     = "failed"
)

// Order is the gateway order shape the orchestrators consume. Raw keeps the
// full payload for audit storage.
type Order struct {
	ID              string
	AmountPaise     int64
	AmountPaidPaise int64
	AmountDuePaise  int64
	Currency        string
	Receipt         string
	Status          string
	Attempts        int64
	Raw             json.RawMessage
}

// Paid reports whether the gateway considers the order settled.
func (o *Order) Paid() bool {
	return o != nil && o.Status == OrderStatusPaid
}

// Payment is the gateway payment shape the orchestrators consume.
type Payment struct {
	ID               string
	OrderID          string
	AmountPaise      int64
	Currency         string
	Status           string
	Method           string
	ErrorCode        string
	ErrorDescription string
	Raw              json.RawMessage
}

// Captured reports whether the payment settled funds.
func (p *Payment) Captured() bool {
	return p != nil && p.Status == PaymentStatusCaptured
}

func parseOrder(body map[string]interface{}) (*Order, error) {
	if body == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayAPI, "razorpay returned an empty order payload")
	}
	id := toString(body["id"])
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayAPI, "razorpay order payload is missing an id")
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayAPI, err, "encode razorpay order payload")
	}

	return &Order{
		ID:              id,
		AmountPaise:     toInt64(body["amount"]),
		AmountPaidPaise: toInt64(body["amount_paid"]),
		AmountDuePaise:  toInt64(body["amount_due"]),
		Currency:        toString(body["currency"]),
		Receipt:         toString(body["receipt"]),
		Status:          toString(body["status"]),
		Attempts:        toInt64(body["attempts"]),
		Raw:             raw,
	}, nil
}

func parsePayment(body map[string]interface{}) (*Payment, error) {
	if body == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayAPI, "razorpay returned an empty payment payload")
	}
	id := toString(body["id"])
	if id == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayAPI, "razorpay payment payload is missing an id")
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayAPI, err, "encode razorpay payment payload")
	}

	return &Payment{
		ID:               id,
		OrderID:          toString(body["order_id"]),
		AmountPaise:      toInt64(body["amount"]),
		Currency:         toString(body["currency"]),
		Status:           toString(body["status"]),
		Method:           toString(body["method"]),
		ErrorCode:        toString(body["error_code"]),
		ErrorDescription: toString(body["error_description"]),
		Raw:              raw,
	}, nil
}

func parsePaymentList(body map[string]interface{}) ([]Payment, error) {
	if body == nil {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayAPI, "razorpay returned an empty payment list payload")
	}
	items, ok := body["items"].([]interface{})
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayAPI, "razorpay payment list payload is missing items")
	}

	payments := make([]Payment, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		payment, err := parsePayment(entry)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *payment)
	}
	return payments, nil
}

// toInt64 coerces the numeric shapes the SDK's JSON decoding produces.
func toInt64(value interface{}) int64 {
	switch v := value.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		return 0
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		return 0
	default:
		return 0
	}
}

func toString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case json.Number:
		return v.String()
	case fmt.Stringer:
		return v.String()
	default:
		return ""
	}
}
