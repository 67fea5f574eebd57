package payment

import (
	"context"
	"errors"
	"net/http"
)

// Simulation is the null-object provider used when no merchant credentials
// are configured. Orders are marked paid without any external call; the order
// service surfaces this to callers as isSimulation so nothing relies on it
// silently in a real deployment.
type Simulation struct{}

func NewSimulation() *Simulation { return &Simulation{} }

func (*Simulation) Simulated() bool { return true }

// Prepay is never reached: the order service short-circuits to a simulated
// PAID before requesting payment parameters.
func (*Simulation) Prepay(context.Context, PrepayRequest) (*Params, error) {
	return nil, errors.New("simulation provider issues no payment parameters")
}

func (*Simulation) QueryOrder(context.Context, string) (OrderState, error) {
	return OrderStateClosed, nil
}

func (*Simulation) ParseNotify(context.Context, *http.Request) (*Notification, error) {
	return nil, errors.New("simulation provider receives no notifications")
}

func (*Simulation) Refund(context.Context, RefundRequest) error { return nil }

func (*Simulation) QueryRefund(context.Context, string) (RefundState, error) {
	return RefundStateSuccess, nil
}
