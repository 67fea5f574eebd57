// Package payment abstracts the online payment provider behind a small
// interface so the order flow can be wired to WeChat Pay in production and to
// a simulation in local development, picked once at startup.
package payment

import (
	"context"
	"errors"
	"net/http"
)

// Provider-reported conditions the order flow handles explicitly.
var (
	// ErrOrderConflict: the provider already holds in-flight state for this
	// out-trade-no with incompatible parameters. The caller must regenerate
	// the order number before retrying.
	ErrOrderConflict = errors.New("payment provider reports order number conflict")

	// ErrOrderAlreadyPaid: the provider reports this order as paid although it
	// is still pending locally (missed or delayed callback).
	ErrOrderAlreadyPaid = errors.New("payment provider reports order already paid")

	// ErrRefundDeclined: the provider definitively rejected the refund.
	// Unlike transport errors this is not in-doubt; retrying without operator
	// action will not help.
	ErrRefundDeclined = errors.New("payment provider declined the refund")
)

// OrderState is the provider's authoritative view of an order.
type OrderState string

const (
	OrderStateUnknown OrderState = "UNKNOWN"
	OrderStateNotPay  OrderState = "NOTPAY"
	OrderStateSuccess OrderState = "SUCCESS"
	OrderStateClosed  OrderState = "CLOSED"
)

// RefundState is the provider's authoritative view of a refund.
type RefundState string

const (
	RefundStateProcessing RefundState = "PROCESSING"
	RefundStateSuccess    RefundState = "SUCCESS"
	RefundStateAbnormal   RefundState = "ABNORMAL"
	RefundStateNotFound   RefundState = "NOT_FOUND"
)

// Params are the client-side pull-up parameters for a JSAPI payment.
type Params struct {
	AppID     string `json:"appId"`
	TimeStamp string `json:"timeStamp"`
	NonceStr  string `json:"nonceStr"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
}

// PrepayRequest describes one payment intent.
type PrepayRequest struct {
	OutTradeNo  string
	Description string
	AmountYuan  float64
	OpenID      string
}

// RefundRequest describes one refund intent. OutRefundNo must be stable
// across retries; the provider deduplicates on it.
type RefundRequest struct {
	OutTradeNo  string
	OutRefundNo string
	AmountYuan  float64
	Reason      string
}

// Notification is a verified, decrypted payment webhook.
type Notification struct {
	OutTradeNo    string
	TransactionID string
	TradeState    OrderState
}

// Provider is the payment gateway consumed by the order service and the
// reconcile worker.
type Provider interface {
	// Simulated reports whether this provider is the local-development
	// null object. Responses built on a simulated payment must say so.
	Simulated() bool

	Prepay(ctx context.Context, req PrepayRequest) (*Params, error)
	QueryOrder(ctx context.Context, outTradeNo string) (OrderState, error)
	ParseNotify(ctx context.Context, req *http.Request) (*Notification, error)
	Refund(ctx context.Context, req RefundRequest) error
	QueryRefund(ctx context.Context, outRefundNo string) (RefundState, error)
}
