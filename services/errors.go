package services

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across services and mapped to HTTP codes in one
// place (respondError in helpers.go).
var (
	// Not found
	ErrTournamentNotFound  = errors.New("tournament not found")
	ErrPlayerNotFound      = errors.New("player not found")
	ErrApplicationNotFound = errors.New("application not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrGameNotFound        = errors.New("game not found")

	// Registration rules
	ErrAlreadyApplied           = errors.New("player already has an active application for this tournament")
	ErrRegistrationClosed       = errors.New("tournament registration is not open")
	ErrTournamentFull           = errors.New("tournament draw is full")
	ErrNoActiveApplication      = errors.New("no active application to cancel")
	ErrCancellationWindowClosed = errors.New("cancellation closes 24 hours before the tournament starts")

	// Orders and payment
	ErrNotApplicable   = errors.New("tournament has no entry fee")
	ErrNotYourOrder    = errors.New("order belongs to another player")
	ErrOrderNotPending = errors.New("order is no longer pending")
	ErrRefundFailed    = errors.New("refund could not be completed; the registration is unchanged")

	// Auth and conflicts
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrIDCardConflict     = errors.New("id card number is already bound to another account")
	ErrForbidden          = errors.New("operation not allowed for the current user")
)

// PaymentRequiredError tells the caller registration needs a paid order
// first, carrying the fee so the client can start payment immediately.
type PaymentRequiredError struct {
	Fee float64
}

func (e *PaymentRequiredError) Error() string {
	return fmt.Sprintf("payment of %.2f required before applying", e.Fee)
}
